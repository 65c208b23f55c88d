package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/inbox-triage/internal/api"
	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/config"
	"github.com/Martian-dev/inbox-triage/internal/logger"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "inbox-triage",
		Short: "Classify new mail and draft replies",
		Long: `inbox-triage watches one inbox for new unread mail, asks a reasoning
service whether each message needs a reply, and leaves a draft reply for
the ones that do. Nothing is ever sent.

Configuration is read from --config (YAML), .env and TRIAGE_* environment
variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	root.AddCommand(newOnceCmd(&configFile))
	root.AddCommand(newWatchCmd(&configFile))
	root.AddCommand(newSecretsCmd())
	return root
}

func newOnceCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single bootstrap cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			report, err := a.runner.RunOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newWatchCmd(configFile *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the inbox until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			if cmd.Flags().Changed("interval") {
				cfg.Triage.Interval = interval
			}
			if cfg.Triage.Interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			group, groupCtx := errgroup.WithContext(ctx)

			group.Go(func() error {
				return a.runner.Run(groupCtx, cfg.Triage.Interval)
			})

			if cfg.API.Addr != "" {
				server, err := a.apiServer(groupCtx)
				if err != nil {
					stop()
					_ = group.Wait()
					return err
				}
				group.Go(func() error {
					return server.Run(groupCtx, cfg.API.Addr)
				})
			}

			err = group.Wait()
			log.Info("shutdown complete")
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "time between the end of one cycle and the start of the next")
	return cmd
}

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets kept in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret such as reasoning.api_key or imap.password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := auth.OpenSecretStore(secretsDir())
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// setup loads config, builds the logger and fills missing secrets from the
// keyring
func setup(configFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	if cfg.NeedsSecrets() {
		store, err := auth.OpenSecretStore(secretsDir())
		if err != nil {
			log.Warn("keyring unavailable", zap.Error(err))
		} else if err := cfg.ResolveSecrets(store); err != nil {
			log.Warn("keyring lookup failed", zap.Error(err))
		}
	}
	return cfg, log, nil
}

func secretsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inbox-triage"
	}
	return filepath.Join(home, ".inbox-triage")
}

func (a *app) apiServer(ctx context.Context) (*api.Server, error) {
	deps := api.Deps{
		Runner:  a.runner,
		Metrics: a.metrics.Handler(),
		Logger:  a.log,
	}
	if a.journal != nil {
		deps.Outcomes = a.journal
	}
	if a.cfg.API.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(ctx, a.cfg.API.JWKSURL)
		if err != nil {
			return nil, err
		}
		deps.Verifier = verifier
	}
	return api.NewServer(deps), nil
}
