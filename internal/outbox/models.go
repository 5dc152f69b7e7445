// Package outbox is the durable delivery queue between parsing and
// transmission. Items survive process restarts; nothing is transmitted
// that was not first persisted here.
package outbox

import "time"

// Status is the delivery state of a queue item.
type Status string

const (
	// StatusPending: persisted, never claimed.
	StatusPending Status = "pending"
	// StatusProcessing: claimed by a transmitter; exclusive until
	// released or reclaimed as stale.
	StatusProcessing Status = "processing"
	// StatusSent: acknowledged by the ingestion endpoint. Terminal.
	StatusSent Status = "sent"
	// StatusRetry: delivery failed with a retryable error; eligible to
	// be claimed again once NextRetryAt passes.
	StatusRetry Status = "retry"
	// StatusDeadLetter: attempts exhausted or the error was not
	// retryable. Terminal unless an operator requeues it.
	StatusDeadLetter Status = "dead_letter"
)

// QueueItem is one invoice awaiting delivery. The access key plus
// content hash pair is unique: re-enqueueing the same document is a
// no-op, and the same key with different content is flagged as a
// conflict rather than merged.
type QueueItem struct {
	ID           string `gorm:"primaryKey;size:36"`
	AccessKey    string `gorm:"uniqueIndex:uniq_key_hash;size:44"`
	ContentHash  string `gorm:"uniqueIndex:uniq_key_hash;size:64"`
	DocumentType string `gorm:"size:8"`
	Payload      string `gorm:"type:text"`
	SourceFile   string `gorm:"size:1024"`
	Status       Status `gorm:"index:idx_status_due;size:16"`
	Attempts     int
	LastError    string     `gorm:"type:text"`
	NextRetryAt  *time.Time `gorm:"index:idx_status_due"`
	ClaimedAt    *time.Time
	SentAt       *time.Time
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// Terminal reports whether the item has reached a final state.
func (i QueueItem) Terminal() bool {
	return i.Status == StatusSent || i.Status == StatusDeadLetter
}
