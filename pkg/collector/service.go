package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/pipeline"
	"github.com/rezonia/nfe-collector/internal/transmit"
)

// Collector assembles the full pipeline behind one handle. It owns the
// queue database, the file monitor, the worker pool and the
// transmitter.
type Collector struct {
	cfg      *Config
	log      *slog.Logger
	version  string
	queue    *outbox.Queue
	pipe     *pipeline.Pipeline
	trans    *transmit.Transmitter
	activity *pipeline.ActivityLog
	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger used by every component.
func WithLogger(log *slog.Logger) Option {
	return func(c *Collector) { c.log = log }
}

// WithVersion sets the agent version reported to the endpoint.
func WithVersion(v string) Option {
	return func(c *Collector) { c.version = v }
}

// New validates the configuration, opens the queue database and builds
// the pipeline. Nothing runs until Start.
func New(cfg *Config, opts ...Option) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:      cfg,
		log:      slog.Default(),
		version:  "dev",
		activity: pipeline.NewActivityLog(0),
	}
	for _, opt := range opts {
		opt(c)
	}

	db, err := outbox.OpenDB(cfg.Queue.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	c.queue = outbox.NewQueue(db,
		outbox.WithMaxAttempts(cfg.Transmit.MaxAttempts),
		outbox.WithStaleClaim(cfg.Queue.StaleClaim()),
		outbox.WithQueueLogger(c.log))

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(c.log),
		pipeline.WithActivity(c.activity),
	}

	if cfg.Transmit.Endpoint != "" {
		client := transmit.NewClient(cfg.Transmit.Endpoint, cfg.Transmit.Token, cfg.Transmit.MarketID,
			transmit.WithAgentVersion(c.version),
			transmit.WithCallTimeout(cfg.Transmit.CallTimeout()))
		c.trans = transmit.NewTransmitter(c.queue, client,
			transmit.WithInterval(cfg.Transmit.Interval()),
			transmit.WithBatchSize(cfg.Transmit.BatchSize),
			transmit.WithLogger(c.log),
			transmit.WithActivity(c.activity))
		pipeOpts = append(pipeOpts, pipeline.WithWaker(c.trans))
	} else {
		c.log.Warn("no ingestion endpoint configured; invoices will accumulate in the queue")
	}

	c.pipe = pipeline.New(cfg, c.queue, pipeOpts...)
	return c, nil
}

// Start launches the monitor, workers and transmitter.
func (c *Collector) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("collector already started")
	}
	if err := c.pipe.Start(ctx); err != nil {
		return err
	}
	if c.trans != nil {
		c.trans.Start(ctx)
	}
	c.done = make(chan struct{})
	if c.cfg.Queue.RetentionDays > 0 {
		c.wg.Add(1)
		go c.retentionLoop(ctx)
	}
	c.started = true
	c.log.Info("collector started",
		slog.Int("watches", len(c.cfg.Monitor.Watches)),
		slog.String("queue_db", c.cfg.Queue.DBPath))
	return nil
}

// Stop shuts everything down, waiting for in-flight work.
func (c *Collector) Stop() {
	if !c.started {
		return
	}
	c.pipe.Stop()
	if c.trans != nil {
		c.trans.Stop()
	}
	close(c.done)
	c.wg.Wait()
	c.started = false
	c.log.Info("collector stopped")
}

// retentionLoop purges delivered items past the retention window. Dead
// letters are never purged; they stay until an operator requeues or
// removes them.
func (c *Collector) retentionLoop(ctx context.Context) {
	defer c.wg.Done()

	retention := time.Duration(c.cfg.Queue.RetentionDays) * 24 * time.Hour
	sweep := func() {
		n, err := c.queue.Purge(ctx, retention)
		if err != nil {
			c.log.Warn("retention sweep failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			c.log.Info("purged delivered invoices", slog.Int64("count", n))
		}
	}

	sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// EnqueueFile ingests one file immediately, bypassing the monitor.
// Used by the one-shot CLI command and by callers with their own file
// discovery.
func (c *Collector) EnqueueFile(ctx context.Context, path string) FileOutcome {
	outcome := c.pipe.ProcessFile(ctx, path)
	if outcome.Enqueued > 0 && c.trans != nil {
		c.trans.Wake()
	}
	return outcome
}

// Stats returns queue counts by status.
func (c *Collector) Stats(ctx context.Context) (*QueueStats, error) {
	return c.queue.Stats(ctx)
}

// Queue exposes the underlying outbox for the status API and the
// queue management CLI.
func (c *Collector) Queue() *outbox.Queue {
	return c.queue
}

// Activity exposes the recent activity feed.
func (c *Collector) Activity() *pipeline.ActivityLog {
	return c.activity
}
