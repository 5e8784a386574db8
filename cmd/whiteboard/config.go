package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/vango-dev/whiteboard/internal/errors"
)

func configCmd(global *globalFlags) *cobra.Command {
	var showSecret bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file and
WHITEBOARD_* environment variables, then validate it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			shown := *cfg
			if shown.Auth.Secret != "" && !showSecret {
				shown.Auth.Secret = "********"
			}
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return errors.New("W101").Wrap(err)
			}
			if path := cfg.Path(); path != "" {
				fmt.Printf("# loaded from %s\n", path)
			}
			fmt.Print(string(out))

			if err := cfg.Validate(); err != nil {
				return err
			}
			success("configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSecret, "show-secret", false, "Print auth.secret instead of masking it")

	return cmd
}
