// Package monitor watches directories for fiscal documents and emits
// file events once writes have quiesced.
package monitor

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rezonia/nfe-collector/internal/config"
)

// WatchedFile is a document the monitor has settled on: the file
// existed and was quiet for the full debounce window when emitted.
type WatchedFile struct {
	Path       string
	Size       int64
	DetectedAt time.Time
}

// Extensions the monitor reacts to. Everything else is ignored at the
// event level, before any I/O.
var watchedExts = map[string]bool{
	".xml": true,
	".zip": true,
}

// Artifacts and in-progress download names that are never documents.
var excludedSuffixes = []string{".tmp", ".part", ".crdownload", ".swp"}

// Monitor debounces filesystem events into a channel of settled files.
// A path already handed out is not emitted again until Release is
// called for it, so a post-processing move does not re-trigger.
type Monitor struct {
	watches   []config.WatchConfig
	debounce  time.Duration
	maxBytes  int64
	log       *slog.Logger
	watcher   *fsnotify.Watcher
	out       chan WatchedFile
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	// timerWg tracks armed debounce timers; Stop waits for it before
	// closing the output channel so a firing timer never sends on a
	// closed channel.
	timerWg sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	timers   map[string]*time.Timer
	inFlight map[string]struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// New creates a monitor from the monitor section of the configuration.
func New(cfg config.MonitorConfig, opts ...Option) *Monitor {
	m := &Monitor{
		watches:  cfg.Watches,
		debounce: cfg.Debounce(),
		maxBytes: cfg.MaxFileBytes,
		log:      slog.Default(),
		out:      make(chan WatchedFile, 64),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Files is the output channel. It is closed when the monitor stops.
func (m *Monitor) Files() <-chan WatchedFile {
	return m.out
}

// Start begins watching. Files already present under the watch roots
// are dispatched through the same debounce path as new arrivals, so a
// backlog accumulated while the collector was down is not lost.
func (m *Monitor) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	m.watcher = w

	for _, wc := range m.watches {
		if err := m.addRoot(wc); err != nil {
			w.Close()
			return err
		}
	}

	m.wg.Add(1)
	go m.loop(ctx)

	m.scanExisting()
	return nil
}

// Stop tears down the watcher, cancels pending debounce timers and
// closes the output channel.
func (m *Monitor) Stop() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Close()
		}
		m.mu.Lock()
		m.stopped = true
		for path, t := range m.timers {
			if t.Stop() {
				m.timerWg.Done()
			}
			delete(m.timers, path)
		}
		m.mu.Unlock()
		m.wg.Wait()
		m.timerWg.Wait()
		close(m.out)
	})
}

// Release clears the in-flight marker for a path. Until released, new
// events for the path are ignored.
func (m *Monitor) Release(path string) {
	m.mu.Lock()
	delete(m.inFlight, path)
	m.mu.Unlock()
}

func (m *Monitor) addRoot(wc config.WatchConfig) error {
	if err := m.watcher.Add(wc.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", wc.Dir, err)
	}
	m.log.Info("watching directory",
		slog.String("dir", wc.Dir),
		slog.Bool("recursive", wc.Recursive))
	if !wc.Recursive {
		return nil
	}
	return filepath.WalkDir(wc.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != wc.Dir {
			if err := m.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (m *Monitor) scanExisting() {
	for _, wc := range m.watches {
		root := wc.Dir
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && !wc.Recursive {
					return fs.SkipDir
				}
				return nil
			}
			if eligible(path) {
				m.schedule(path)
			}
			return nil
		})
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Monitor) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	// a new subdirectory under a recursive root gets its own watch
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if m.underRecursiveRoot(ev.Name) {
				if err := m.watcher.Add(ev.Name); err != nil {
					m.log.Warn("failed to watch new subdirectory",
						slog.String("dir", ev.Name),
						slog.String("error", err.Error()))
				}
			}
			return
		}
	}

	if !eligible(ev.Name) {
		return
	}
	m.schedule(ev.Name)
}

// schedule (re)arms the debounce timer for a path. Each further write
// pushes the deadline out; the path is emitted once writes stop.
func (m *Monitor) schedule(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if _, busy := m.inFlight[path]; busy {
		return
	}
	// replace rather than reset: a timer that already fired would
	// otherwise re-arm and fire a second time
	if t, ok := m.timers[path]; ok {
		if t.Stop() {
			m.timerWg.Done()
		}
	}
	m.timerWg.Add(1)
	m.timers[path] = time.AfterFunc(m.debounce, func() {
		m.settle(path)
	})
}

// settle fires after the quiet period: stat once more and emit.
func (m *Monitor) settle(path string) {
	defer m.timerWg.Done()

	m.mu.Lock()
	delete(m.timers, path)
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if _, busy := m.inFlight[path]; busy {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		// vanished between event and settle; not an error
		m.log.Debug("file gone before settle", slog.String("path", path))
		return
	}
	if m.maxBytes > 0 && info.Size() > m.maxBytes {
		m.log.Warn("file exceeds size ceiling, skipped",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max", m.maxBytes))
		return
	}

	m.mu.Lock()
	m.inFlight[path] = struct{}{}
	m.mu.Unlock()

	wf := WatchedFile{Path: path, Size: info.Size(), DetectedAt: time.Now().UTC()}
	select {
	case m.out <- wf:
	case <-m.done:
	}
}

func (m *Monitor) underRecursiveRoot(path string) bool {
	for _, wc := range m.watches {
		if !wc.Recursive {
			continue
		}
		rel, err := filepath.Rel(wc.Dir, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return watchedExts[strings.ToLower(filepath.Ext(base))]
}
