package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-collector/internal/server"
	"github.com/rezonia/nfe-collector/pkg/collector"
)

var (
	noServer   bool
	serverAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector daemon",
	Long: `Run the collector: watch the configured folders, ingest documents
into the local queue and deliver them to the ingestion endpoint.

A local status API is exposed on loopback:
  GET  /health
  GET  /api/v1/queue/stats
  GET  /api/v1/queue/deadletter
  GET  /api/v1/queue/deadletter/:id
  POST /api/v1/queue/deadletter/:id/requeue
  GET  /api/v1/activity

Examples:
  # Run with a config file
  nfe-collector run --config /etc/nfe-collector.yaml

  # Override the endpoint credentials
  nfe-collector run -c cfg.yaml --token <token> --market-id mkt-042`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&noServer, "no-server", false, "Disable the local status API")
	runCmd.Flags().StringVar(&serverAddr, "server-address", "", "Status API listen address (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Monitor.Watches) == 0 {
		return fmt.Errorf("no watch directories configured")
	}
	if serverAddr != "" {
		cfg.Server.Address = serverAddr
	}
	if noServer {
		cfg.Server.Enabled = false
	}

	log := newLogger(cfg)

	c, err := collector.New(cfg,
		collector.WithLogger(log),
		collector.WithVersion(version))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := server.NewServer(&server.Config{
			Address:      cfg.Server.Address,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			Debug:        cfg.Server.Debug,
		}, c.Queue(), c.Activity())
		go func() {
			log.Info("status API listening", slog.String("address", cfg.Server.Address))
			if err := srv.Run(); err != nil {
				log.Error("status API stopped", slog.String("error", err.Error()))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", slog.String("signal", sig.String()))

	cancel()
	c.Stop()
	return nil
}
