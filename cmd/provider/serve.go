package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/metrics"
	"github.com/sunvim/ethprovider/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the provider as a JSON-RPC endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Info("starting ethprovider",
				zap.String("version", version),
				zap.String("app", a.cfg.Provider.AppName),
				zap.Uint64("chain_id", a.cfg.Provider.ChainID),
			)

			if a.cfg.Metrics.Enabled {
				metrics.RegisterMetrics()
			}

			srv := server.New(a.provider, server.Config{
				ListenAddr:    a.cfg.Server.ListenAddr,
				EnableMetrics: a.cfg.Metrics.Enabled,
				Logger:        a.log,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				a.log.Info("received shutdown signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				if err != nil {
					a.log.Error("server failed", zap.Error(err))
					return err
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("server shutdown failed", zap.Error(err))
			}
			a.log.Info("ethprovider stopped")
			return nil
		},
	}
}
