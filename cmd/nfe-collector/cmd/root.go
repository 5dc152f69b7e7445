package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-collector/internal/config"
	"github.com/rezonia/nfe-collector/internal/logging"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	configPath   string
	endpoint     string
	token        string
	marketID     string
)

var rootCmd = &cobra.Command{
	Use:   "nfe-collector",
	Short: "Collect NFe/NFCe fiscal documents and deliver them upstream",
	Long: `NFe Collector watches point-of-sale export folders for Brazilian
fiscal documents (NFe and NFCe XML, plain or zipped), parses them into
structured invoices, stores them in a durable local queue and delivers
them to the central ingestion endpoint with retries.

Examples:
  # Run the collector daemon with a config file
  nfe-collector run --config /etc/nfe-collector.yaml

  # Ingest files once, without watching
  nfe-collector process export/*.xml --enqueue

  # Inspect the local queue
  nfe-collector queue stats
  nfe-collector queue deadletter
  nfe-collector queue requeue <id>`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, csv, table)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Ingestion endpoint URL (env: NFE_COLLECTOR_ENDPOINT)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for the endpoint (env: NFE_COLLECTOR_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&marketID, "market-id", "", "Market/tenant identifier (env: NFE_COLLECTOR_MARKET_ID)")

	// Load from environment variables if not set via flags
	cobra.OnInitialize(initEnv)
}

func initEnv() {
	if endpoint == "" {
		endpoint = os.Getenv("NFE_COLLECTOR_ENDPOINT")
	}
	if token == "" {
		token = os.Getenv("NFE_COLLECTOR_TOKEN")
	}
	if marketID == "" {
		marketID = os.Getenv("NFE_COLLECTOR_MARKET_ID")
	}
}

// loadConfig merges the config file (when given) with flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	if endpoint != "" {
		cfg.Transmit.Endpoint = endpoint
	}
	if token != "" {
		cfg.Transmit.Token = token
	}
	if marketID != "" {
		cfg.Transmit.MarketID = marketID
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
