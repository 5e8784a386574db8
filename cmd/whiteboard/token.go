package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/whiteboard/internal/config"
	"github.com/vango-dev/whiteboard/internal/errors"
	"github.com/vango-dev/whiteboard/pkg/auth"
)

func tokenCmd(global *globalFlags) *cobra.Command {
	var (
		id    string
		name  string
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a local access token",
		Long: `Mint an HS256 token signed with auth.secret.

The token is accepted by the local validator of any server sharing the
same secret and issuer.

Examples:
  whiteboard token --id=u1 --name=Ann
  whiteboard token --id=u1 --name=Ann --ttl=1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ttl") {
				cfg.Auth.TokenTTL = config.Duration(ttl)
			}
			issuer, err := cfg.TokenIssuer()
			if err != nil {
				return err
			}
			if name == "" {
				name = id
			}
			token, err := issuer.Issue(auth.Principal{ID: id, Name: name, Email: email})
			if err != nil {
				return errors.New("W121").Wrap(err)
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "User id (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (default: the id)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.tokenTTL)")
	cmd.MarkFlagRequired("id")

	return cmd
}
