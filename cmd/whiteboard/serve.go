package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/whiteboard/internal/config"
	"github.com/vango-dev/whiteboard/internal/errors"
	"github.com/vango-dev/whiteboard/pkg/discovery"
	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/server"
)

type serveFlags struct {
	addr           string
	allowAnonymous bool
	mdns           bool
	instance       string
	debug          bool
}

func serveCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the whiteboard server",
		Long: `Run the websocket server until interrupted.

Endpoints:
  /ws              websocket (bearer token, ?token= or access_token cookie)
  /healthz         liveness
  /metrics         Prometheus metrics
  /debug/sessions  live sessions (with --debug)

Examples:
  whiteboard serve
  whiteboard serve --addr=:9000 --allow-anonymous
  WHITEBOARD_AUTH_SECRET=s3cret whiteboard serve --mdns`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.addr, "addr", "a", "", "Listen address (default "+config.DefaultAddress+")")
	cmd.Flags().BoolVar(&flags.allowAnonymous, "allow-anonymous", false, "Admit connections without a token as guests")
	cmd.Flags().BoolVar(&flags.mdns, "mdns", false, "Advertise the server on the local network")
	cmd.Flags().StringVar(&flags.instance, "instance", "", "mDNS instance name (default hostname)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Serve /debug/sessions")

	return cmd
}

// apply copies explicitly set flags over cfg.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.addr != "" {
		cfg.Server.Address = f.addr
	}
	if cmd.Flags().Changed("allow-anonymous") {
		cfg.Auth.AllowAnonymous = f.allowAnonymous
	}
	if cmd.Flags().Changed("mdns") {
		cfg.Discovery.Enabled = f.mdns
	}
	if f.instance != "" {
		cfg.Discovery.Instance = f.instance
	}
	if cmd.Flags().Changed("debug") {
		cfg.Server.EnableDebug = f.debug
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg)

	validators := cfg.Validators()
	if len(validators) == 0 {
		warn("no token validators configured; only anonymous guests can connect")
	} else {
		info("token validators: %s", validators.Name())
	}
	if cfg.Server.EnableDebug {
		warn("/debug/sessions is enabled")
	}

	srv := server.New(cfg.ServerOptions(), validators,
		server.WithLogger(logger),
		server.WithMetrics(metrics.New(), prometheus.DefaultGatherer),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		port, err := discovery.PortFromAddress(cfg.Server.Address)
		if err != nil {
			return errors.New("W160").Wrap(err).
				WithSuggestion("Listen on an explicit port, e.g. --addr=:8080")
		}
		advertiser, err = discovery.Advertise(discovery.AdvertiseConfig{
			Instance: cfg.Discovery.Instance,
			Service:  cfg.Discovery.Service,
			Domain:   cfg.Discovery.Domain,
			Port:     port,
			Info:     []string{"version=" + version, "path=/ws"},
		}, logger)
		if err != nil {
			return errors.New("W160").Wrap(err)
		}
		success("advertising %s on port %d", cfg.Discovery.Service, port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Run(gctx)
		switch {
		case err == nil:
			return nil
		case stderrors.Is(err, context.DeadlineExceeded):
			return errors.New("W141").Wrap(err)
		default:
			return errors.New("W140").
				WithDetail("Could not serve on " + cfg.Server.Address).
				Wrap(err)
		}
	})
	if advertiser != nil {
		g.Go(func() error {
			<-gctx.Done()
			return advertiser.Shutdown()
		})
	}

	success("listening on %s", bold(cfg.Server.Address))
	return g.Wait()
}
