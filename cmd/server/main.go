package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copper/internal/app"
	"copper/internal/config"
	"copper/internal/logging"
	"copper/internal/version"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:     "copperd",
		Short:   "copper test-flow generation service",
		Version: version.Full(),
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default: configs/config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Server().Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				// Running jobs are allowed to finish within the grace period.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := a.Shutdown(shutdownCtx); err != nil {
					logger.Warn("jobs still running at shutdown", zap.Error(err))
				}
				return nil
			})
			return g.Wait()
		},
	}

	root.AddCommand(serve)
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
