package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PostAction controls what happens to a source file after it has been
// ingested. The collector never deletes source files.
type PostAction string

const (
	// PostActionLeave leaves the file where it was found.
	PostActionLeave PostAction = "leave"
	// PostActionMove moves the file into the processed folder.
	PostActionMove PostAction = "move"
)

// WatchConfig describes one monitored directory root.
type WatchConfig struct {
	Dir       string `yaml:"dir"`
	Recursive bool   `yaml:"recursive"`
}

// MonitorConfig configures the file monitor.
type MonitorConfig struct {
	Watches      []WatchConfig `yaml:"watches"`
	DebounceMs   int           `yaml:"debounce_ms"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	// PostAction: "leave" or "move".
	PostAction   PostAction `yaml:"post_action"`
	ProcessedDir string     `yaml:"processed_dir"`
	ErrorDir     string     `yaml:"error_dir"`
}

// Debounce returns the quiet period as a duration.
func (m MonitorConfig) Debounce() time.Duration {
	if m.DebounceMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(m.DebounceMs) * time.Millisecond
}

// ParserConfig configures document parsing.
type ParserConfig struct {
	// ValidateDocuments gates the validator before field extraction.
	ValidateDocuments bool `yaml:"validate_documents"`
	// StrictNumbers turns the zero-fallback for unparsable numeric
	// fields into a hard per-document error.
	StrictNumbers bool `yaml:"strict_numbers"`
	// Workers is the size of the parse/extract worker pool.
	Workers int `yaml:"workers"`
}

// QueueConfig configures the durable outbox store.
type QueueConfig struct {
	DBPath string `yaml:"db_path"`
	// StaleClaimMinutes: items stuck in Processing longer than this are
	// reclaimed to Retry on startup and on each transmit tick.
	StaleClaimMinutes int `yaml:"stale_claim_minutes"`
	// RetentionDays: terminal items older than this may be purged.
	// Zero disables purging.
	RetentionDays int `yaml:"retention_days"`
}

// StaleClaim returns the staleness threshold as a duration.
func (q QueueConfig) StaleClaim() time.Duration {
	if q.StaleClaimMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(q.StaleClaimMinutes) * time.Minute
}

// TransmitConfig configures delivery to the ingestion endpoint.
type TransmitConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	MarketID  string `yaml:"market_id"`
	BatchSize int    `yaml:"batch_size"`
	// IntervalMs between drain ticks.
	IntervalMs int `yaml:"interval_ms"`
	// CallTimeoutMs per HTTP call; shorter than the retry horizon.
	CallTimeoutMs int `yaml:"call_timeout_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
}

// Interval returns the drain tick interval.
func (t TransmitConfig) Interval() time.Duration {
	if t.IntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// CallTimeout returns the per-call HTTP timeout.
func (t TransmitConfig) CallTimeout() time.Duration {
	if t.CallTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.CallTimeoutMs) * time.Millisecond
}

// ServerConfig configures the local status API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Debug   bool   `yaml:"debug"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// Format: "json" or "text".
	Format string `yaml:"format"`
}

// Config is the root collector configuration. It is loaded once at
// startup and passed into components explicitly; there is no package
// level configuration state.
type Config struct {
	Monitor  MonitorConfig  `yaml:"monitor"`
	Parser   ParserConfig   `yaml:"parser"`
	Queue    QueueConfig    `yaml:"queue"`
	Transmit TransmitConfig `yaml:"transmit"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns a configuration with sensible local defaults.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			DebounceMs:   2000,
			MaxFileBytes: 10 << 20,
			PostAction:   PostActionLeave,
		},
		Parser: ParserConfig{
			Workers: 4,
		},
		Queue: QueueConfig{
			DBPath:            "nfe-collector.db",
			StaleClaimMinutes: 10,
		},
		Transmit: TransmitConfig{
			BatchSize:     20,
			IntervalMs:    5000,
			CallTimeoutMs: 15000,
			MaxAttempts:   5,
		},
		Server: ServerConfig{
			Enabled: true,
			Address: "127.0.0.1:8440",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	for _, w := range c.Monitor.Watches {
		if strings.TrimSpace(w.Dir) == "" {
			return fmt.Errorf("monitor.watches: empty dir")
		}
	}
	switch c.Monitor.PostAction {
	case PostActionLeave, PostActionMove, "":
	default:
		return fmt.Errorf("monitor.post_action: unknown action %q", c.Monitor.PostAction)
	}
	if c.Monitor.PostAction == PostActionMove && strings.TrimSpace(c.Monitor.ProcessedDir) == "" {
		return fmt.Errorf("monitor.processed_dir is required when post_action is move")
	}
	if strings.TrimSpace(c.Queue.DBPath) == "" {
		return fmt.Errorf("queue.db_path is required")
	}
	if c.Transmit.MaxAttempts <= 0 {
		c.Transmit.MaxAttempts = 5
	}
	if c.Parser.Workers <= 0 {
		c.Parser.Workers = 4
	}
	return nil
}
