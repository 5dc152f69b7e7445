// Package pipeline wires the ingestion stages together: settled files
// from the monitor are extracted, parsed, validated and persisted to
// the outbox.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rezonia/nfe-collector/internal/config"
	"github.com/rezonia/nfe-collector/internal/extractor"
	"github.com/rezonia/nfe-collector/internal/model"
	"github.com/rezonia/nfe-collector/internal/monitor"
	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/parser"
	"github.com/rezonia/nfe-collector/internal/validator"
)

// Waker is notified after new work reaches the outbox so the
// transmitter drains without waiting for its next tick.
type Waker interface {
	Wake()
}

type noopWaker struct{}

func (noopWaker) Wake() {}

// FileOutcome summarizes what one source file produced.
type FileOutcome struct {
	Path       string
	Enqueued   int
	Duplicates int
	Conflicts  int
	Failed     int
	Errors     []error
}

// Clean reports whether every document in the file was ingested
// (duplicates count as ingested).
func (o FileOutcome) Clean() bool {
	return o.Failed == 0 && o.Conflicts == 0
}

// Pipeline runs the monitor-to-outbox flow with a bounded worker pool.
type Pipeline struct {
	cfg      *config.Config
	mon      *monitor.Monitor
	ext      *extractor.Extractor
	par      *parser.Parser
	queue    *outbox.Queue
	waker    Waker
	log      *slog.Logger
	activity *ActivityLog

	wg sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithWaker sets the transmitter wake hook.
func WithWaker(w Waker) Option {
	return func(p *Pipeline) { p.waker = w }
}

// WithActivity sets the activity feed.
func WithActivity(a *ActivityLog) Option {
	return func(p *Pipeline) { p.activity = a }
}

// New builds the pipeline from configuration. The monitor, extractor
// and parser are assembled here; the queue is shared with the
// transmitter and therefore passed in.
func New(cfg *config.Config, queue *outbox.Queue, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		queue:    queue,
		waker:    noopWaker{},
		log:      slog.Default(),
		activity: NewActivityLog(0),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mon = monitor.New(cfg.Monitor, monitor.WithLogger(p.log))
	p.ext = extractor.NewExtractor(extractor.WithMaxEntryBytes(cfg.Monitor.MaxFileBytes))

	parserOpts := []parser.Option{}
	if cfg.Parser.StrictNumbers {
		parserOpts = append(parserOpts, parser.WithStrictNumbers())
	}
	if cfg.Parser.ValidateDocuments {
		parserOpts = append(parserOpts, parser.WithValidator(validator.NewStructuralValidator()))
	}
	p.par = parser.NewParser(parserOpts...)
	return p
}

// Activity returns the activity feed.
func (p *Pipeline) Activity() *ActivityLog { return p.activity }

// Start launches the monitor and the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	workers := p.cfg.Parser.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for wf := range p.mon.Files() {
				p.handle(ctx, wf)
			}
		}()
	}
	return nil
}

// Stop shuts the monitor down and waits for in-flight files.
func (p *Pipeline) Stop() {
	p.mon.Stop()
	p.wg.Wait()
}

func (p *Pipeline) handle(ctx context.Context, wf monitor.WatchedFile) {
	outcome := p.ProcessFile(ctx, wf.Path)

	for _, err := range outcome.Errors {
		p.log.Error("ingestion error",
			slog.String("path", wf.Path),
			slog.String("error", err.Error()))
	}
	if outcome.Enqueued > 0 {
		p.waker.Wake()
	}

	p.postProcess(wf.Path, outcome)
	p.mon.Release(wf.Path)
}

// ProcessFile ingests one file from disk: plain XML is parsed
// directly, containers are expanded first. Every document ends up
// enqueued, deduplicated, flagged as a conflict, or reported as an
// error; one bad document never stops its siblings.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) FileOutcome {
	outcome := FileOutcome{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, fmt.Errorf("read %s: %w", path, err))
		return outcome
	}

	if extractor.IsArchive(data) || strings.EqualFold(filepath.Ext(path), ".zip") {
		for _, entry := range p.ext.Extract(data) {
			if !entry.OK() {
				outcome.Failed++
				outcome.Errors = append(outcome.Errors, entry.Err)
				p.activity.Record("extract_error", path+": "+entry.Err.Error())
				continue
			}
			p.ingest(ctx, entry.Content, path+"!"+entry.Name, &outcome)
		}
		return outcome
	}

	p.ingest(ctx, data, path, &outcome)
	return outcome
}

func (p *Pipeline) ingest(ctx context.Context, data []byte, source string, outcome *FileOutcome) {
	result := p.par.Parse(ctx, data, filepath.Base(source))
	if !result.OK() {
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, result.Err)
		p.activity.Record("parse_error", source+": "+result.Err.Error())
		return
	}

	payload, err := json.Marshal(result.Invoice)
	if err != nil {
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, fmt.Errorf("encode invoice %s: %w", result.Invoice.AccessKey, err))
		return
	}

	item := &outbox.QueueItem{
		AccessKey:    result.Invoice.AccessKey,
		ContentHash:  result.ContentHash,
		DocumentType: string(result.Invoice.Type),
		Payload:      string(payload),
		SourceFile:   source,
	}
	err = p.queue.Enqueue(ctx, item)

	var dup *model.DuplicateError
	var conflict *model.ConflictError
	switch {
	case err == nil:
		outcome.Enqueued++
		p.log.Info("invoice ingested",
			slog.String("access_key", item.AccessKey),
			slog.String("type", item.DocumentType),
			slog.String("source", source),
			slog.Duration("parse_time", result.ProcessingTime))
		p.activity.Record("ingested", item.AccessKey)
	case errors.As(err, &dup):
		// same document seen again; nothing to do
		outcome.Duplicates++
		p.log.Debug("duplicate invoice skipped",
			slog.String("access_key", dup.AccessKey),
			slog.String("source", source))
	case errors.As(err, &conflict):
		outcome.Conflicts++
		p.log.Warn("access key conflict, keeping original",
			slog.String("access_key", conflict.AccessKey),
			slog.String("existing_hash", conflict.ExistingHash),
			slog.String("new_hash", conflict.NewHash),
			slog.String("source", source))
		p.activity.Record("conflict", conflict.AccessKey)
	default:
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, err)
	}
}

// postProcess applies the configured post action. Clean files may be
// moved to the processed folder; files with failures go to the error
// folder when one is configured. Source files are never deleted.
func (p *Pipeline) postProcess(path string, outcome FileOutcome) {
	switch {
	case !outcome.Clean() && p.cfg.Monitor.ErrorDir != "":
		if moved, err := moveToDir(path, p.cfg.Monitor.ErrorDir); err != nil {
			p.log.Warn("failed to move file to error folder",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			p.log.Debug("file moved to error folder", slog.String("to", moved))
		}
	case outcome.Clean() && p.cfg.Monitor.PostAction == config.PostActionMove:
		if moved, err := moveToDir(path, p.cfg.Monitor.ProcessedDir); err != nil {
			p.log.Warn("failed to move processed file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			p.log.Debug("file moved to processed folder", slog.String("to", moved))
		}
	}
}
