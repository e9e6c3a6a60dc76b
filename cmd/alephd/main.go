package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"aleph-node/core"
	"aleph-node/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "alephd"}
	rootCmd.PersistentFlags().String("env", "", "environment-specific config override (e.g. bootstrap, sandbox)")
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(migrateCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	env, _ := cmd.Flags().GetString("env")
	return config.Load(env)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the content resolver and pending-work pipeline until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			nodeCtx, err := core.NewContext(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("wire node context: %w", err)
			}
			defer nodeCtx.Close(context.Background())

			jobs := core.NewJobs(
				nodeCtx.Queues,
				core.DefaultIncoming(nodeCtx.Resolver, logger),
				core.DefaultChaindataExtractor,
				logger,
			)
			supervisor := core.NewSupervisor(jobs, logger)

			listeners := nodeCtx.ListenerTasks(cfg.Aleph.QueueTopic)
			logger.Infof("alephd starting jobs with %d listener task(s)", len(listeners))
			supervisor.Run(ctx, listeners...)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "ensure MongoDB indexes for the pending queues and content store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			nodeCtx, err := core.NewContext(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("wire node context: %w", err)
			}
			defer nodeCtx.Close(ctx)

			if err := nodeCtx.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure indexes: %w", err)
			}
			logger.Info("indexes ensured")
			return nil
		},
	}
}
