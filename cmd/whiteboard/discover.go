package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/whiteboard/internal/errors"
	"github.com/vango-dev/whiteboard/pkg/discovery"
)

func discoverCmd(global *globalFlags) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find whiteboard servers on the local network",
		Long: `Browse mDNS for servers started with --mdns.

Examples:
  whiteboard discover
  whiteboard discover --timeout=5s --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			peers, err := discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain)
			if err != nil {
				return errors.New("W161").Wrap(err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(peers)
			}

			if len(peers) == 0 {
				warn("no servers found within %s", timeout)
				return nil
			}
			success("found %d server(s)", len(peers))
			for _, p := range peers {
				line := bold(p.Instance) + "  " + p.WebSocketURL()
				if len(p.Info) > 0 {
					line += "  (" + strings.Join(p.Info, ", ") + ")"
				}
				info("%s", line)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", discovery.DefaultTimeout, "How long to listen for answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
