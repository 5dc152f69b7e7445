package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-collector/internal/config"
	"github.com/rezonia/nfe-collector/internal/monitor"
)

func startMonitor(t *testing.T, cfg config.MonitorConfig) *monitor.Monitor {
	t.Helper()
	m := monitor.New(cfg)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func waitForFile(t *testing.T, m *monitor.Monitor, timeout time.Duration) (monitor.WatchedFile, bool) {
	t.Helper()
	select {
	case wf, ok := <-m.Files():
		return wf, ok
	case <-time.After(timeout):
		return monitor.WatchedFile{}, false
	}
}

func TestMonitor_DebouncedChunkedWriteEmitsOnce(t *testing.T) {
	dir := t.TempDir()
	m := startMonitor(t, config.MonitorConfig{
		Watches:    []config.WatchConfig{{Dir: dir}},
		DebounceMs: 100,
	})

	// simulate a slow writer: several appends inside the quiet window
	path := filepath.Join(dir, "invoice.xml")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = f.WriteString("<chunk/>")
		require.NoError(t, err)
		require.NoError(t, f.Sync())
		time.Sleep(30 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	wf, ok := waitForFile(t, m, 2*time.Second)
	require.True(t, ok, "expected exactly one emission")
	assert.Equal(t, path, wf.Path)
	assert.Equal(t, int64(4*len("<chunk/>")), wf.Size)

	_, ok = waitForFile(t, m, 300*time.Millisecond)
	assert.False(t, ok, "chunked write must not emit twice")
}

func TestMonitor_InFlightPathNotReemittedUntilReleased(t *testing.T) {
	dir := t.TempDir()
	m := startMonitor(t, config.MonitorConfig{
		Watches:    []config.WatchConfig{{Dir: dir}},
		DebounceMs: 50,
	})

	path := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(path, []byte("<NFe/>"), 0o644))

	_, ok := waitForFile(t, m, 2*time.Second)
	require.True(t, ok)

	// further writes while in flight are ignored
	require.NoError(t, os.WriteFile(path, []byte("<NFe>v2</NFe>"), 0o644))
	_, ok = waitForFile(t, m, 300*time.Millisecond)
	assert.False(t, ok)

	// after release the path can be picked up again
	m.Release(path)
	require.NoError(t, os.WriteFile(path, []byte("<NFe>v3</NFe>"), 0o644))
	_, ok = waitForFile(t, m, 2*time.Second)
	assert.True(t, ok)
}

func TestMonitor_IgnoresForeignAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := startMonitor(t, config.MonitorConfig{
		Watches:    []config.WatchConfig{{Dir: dir}},
		DebounceMs: 50,
	})

	for _, name := range []string{"report.pdf", "invoice.xml.tmp", ".hidden.xml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	_, ok := waitForFile(t, m, 400*time.Millisecond)
	assert.False(t, ok, "no eligible file was written")
}

func TestMonitor_SizeCeiling(t *testing.T) {
	dir := t.TempDir()
	m := startMonitor(t, config.MonitorConfig{
		Watches:      []config.WatchConfig{{Dir: dir}},
		DebounceMs:   50,
		MaxFileBytes: 10,
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.xml"),
		[]byte("<NFe>this exceeds ten bytes</NFe>"), 0o644))

	_, ok := waitForFile(t, m, 400*time.Millisecond)
	assert.False(t, ok, "oversized file must be skipped")
}

func TestMonitor_PicksUpExistingBacklog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backlog.xml")
	require.NoError(t, os.WriteFile(path, []byte("<NFe/>"), 0o644))

	m := startMonitor(t, config.MonitorConfig{
		Watches:    []config.WatchConfig{{Dir: dir}},
		DebounceMs: 50,
	})

	wf, ok := waitForFile(t, m, 2*time.Second)
	require.True(t, ok, "pre-existing file should be dispatched")
	assert.Equal(t, path, wf.Path)
}

func TestMonitor_RecursiveWatchesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "store-042")
	require.NoError(t, os.Mkdir(sub, 0o755))

	m := startMonitor(t, config.MonitorConfig{
		Watches:    []config.WatchConfig{{Dir: dir, Recursive: true}},
		DebounceMs: 50,
	})

	path := filepath.Join(sub, "invoice.xml")
	require.NoError(t, os.WriteFile(path, []byte("<NFe/>"), 0o644))

	wf, ok := waitForFile(t, m, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, path, wf.Path)
}
