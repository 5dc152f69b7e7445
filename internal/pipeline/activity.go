package pipeline

import (
	"sync"
	"time"
)

// ActivityEntry is one line of the recent-activity feed shown by the
// status API.
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// ActivityLog is a fixed-capacity ring of recent pipeline events. Old
// entries are overwritten; the log never grows.
type ActivityLog struct {
	mu   sync.Mutex
	buf  []ActivityEntry
	next int
	full bool
}

// NewActivityLog creates a log keeping the last capacity entries.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &ActivityLog{buf: make([]ActivityEntry, capacity)}
}

// Record appends an event. Safe for concurrent use.
func (l *ActivityLog) Record(kind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = ActivityEntry{At: time.Now().UTC(), Kind: kind, Message: message}
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
}

// Entries returns the recorded events, newest first.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	out := make([]ActivityEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}
