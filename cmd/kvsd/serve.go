package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nskv/kvsd/pkg/api"
	"github.com/nskv/kvsd/pkg/engine"
	"github.com/nskv/kvsd/pkg/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and its HTTP health/ready/metrics server",
	Long: `serve opens the content store, bootstraps the primary namespace,
starts the background heartbeat and checkpoint loops, and blocks serving
/health, /ready, and /metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}

		hs := api.NewHealthServer(eng)
		errCh := make(chan error, 1)
		go func() {
			if err := hs.Start(cfg.BindAddr); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()

		logger := log.WithComponent("kvsd")
		logger.Info().Str("bind_addr", cfg.BindAddr).Str("data_dir", cfg.DataDir).
			Int("rank", cfg.Rank).Msg("kvsd serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("server error")
		}

		if err := eng.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}
