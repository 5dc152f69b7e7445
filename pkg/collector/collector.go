// Package collector provides the public API for the invoice
// collection pipeline: watch folders, parse fiscal documents, persist
// them to a durable queue and deliver them to the ingestion endpoint.
//
// Example usage:
//
//	cfg := collector.DefaultConfig()
//	cfg.Monitor.Watches = []collector.WatchConfig{{Dir: "/var/pos/export"}}
//	cfg.Transmit.Endpoint = "https://ingest.example.com"
//
//	c, err := collector.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
package collector

import (
	"github.com/rezonia/nfe-collector/internal/config"
	"github.com/rezonia/nfe-collector/internal/model"
	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/pipeline"
)

// Re-export core types for public API
type (
	Invoice       = model.Invoice
	LineItem      = model.LineItem
	Party         = model.Party
	Totals        = model.Totals
	Payment       = model.Payment
	PaymentMethod = model.PaymentMethod
	DocumentType  = model.DocumentType
	SchemaVersion = model.SchemaVersion
)

// Re-export document types
const (
	DocumentTypeNFe     = model.DocumentTypeNFe
	DocumentTypeNFCe    = model.DocumentTypeNFCe
	DocumentTypeUnknown = model.DocumentTypeUnknown
)

// Re-export schema versions
const (
	Version400     = model.Version400
	Version310     = model.Version310
	VersionUnknown = model.VersionUnknown
)

// Re-export error types
type (
	ParseError      = model.ParseError
	ValidationError = model.ValidationError
	DuplicateError  = model.DuplicateError
	ConflictError   = model.ConflictError
	ExtractionError = model.ExtractionError
)

// Re-export configuration types
type (
	Config      = config.Config
	WatchConfig = config.WatchConfig
)

// Re-export queue types
type (
	QueueStats  = outbox.Stats
	QueueItem   = outbox.QueueItem
	FileOutcome = pipeline.FileOutcome
)

// DefaultConfig returns a configuration with local defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file merged over the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
