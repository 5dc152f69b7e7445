package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rezonia/nfe-collector/internal/model"
)

// ErrNotFound is returned when a queue item id does not exist.
var ErrNotFound = errors.New("queue item not found")

// OpenDB opens (creating if needed) the SQLite queue database and
// migrates the schema.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&QueueItem{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Queue is the durable outbox. All mutations go through it; the
// transmitter never touches the database directly.
type Queue struct {
	db          *gorm.DB
	log         *slog.Logger
	maxAttempts int
	staleClaim  time.Duration

	// claims are serialized so concurrent transmit loops cannot hand
	// the same item to two workers.
	claimMu sync.Mutex

	now func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithMaxAttempts sets the attempt ceiling before dead-lettering.
func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithStaleClaim sets how long an item may sit in processing before a
// reclaim sweep returns it to the retry pool.
func WithStaleClaim(d time.Duration) QueueOption {
	return func(q *Queue) { q.staleClaim = d }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(log *slog.Logger) QueueOption {
	return func(q *Queue) { q.log = log }
}

// NewQueue wraps an opened database.
func NewQueue(db *gorm.DB, opts ...QueueOption) *Queue {
	q := &Queue{
		db:          db,
		log:         slog.Default(),
		maxAttempts: 5,
		staleClaim:  10 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxAttempts returns the attempt ceiling before dead-lettering.
func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// Enqueue persists an invoice for delivery. The same access key with
// the same content hash is an idempotent no-op reported as
// model.DuplicateError; the same key with a different hash is never
// overwritten and is reported as model.ConflictError.
func (q *Queue) Enqueue(ctx context.Context, item *QueueItem) error {
	var existing QueueItem
	err := q.db.WithContext(ctx).
		Where("access_key = ?", item.AccessKey).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.ContentHash == item.ContentHash {
			return &model.DuplicateError{AccessKey: item.AccessKey, ContentHash: item.ContentHash}
		}
		return &model.ConflictError{
			AccessKey:    item.AccessKey,
			ExistingHash: existing.ContentHash,
			NewHash:      item.ContentHash,
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to insert
	default:
		return fmt.Errorf("enqueue lookup: %w", err)
	}

	item.ID = uuid.NewString()
	item.Status = StatusPending
	item.Attempts = 0
	if err := q.db.WithContext(ctx).Create(item).Error; err != nil {
		// a racing writer can land between the lookup and the insert;
		// the unique index rejects ours, so re-read and report the
		// same duplicate/conflict outcome a later enqueue would see
		var winner QueueItem
		lookupErr := q.db.WithContext(ctx).
			Where("access_key = ?", item.AccessKey).
			First(&winner).Error
		if lookupErr == nil {
			if winner.ContentHash == item.ContentHash {
				return &model.DuplicateError{AccessKey: item.AccessKey, ContentHash: item.ContentHash}
			}
			return &model.ConflictError{
				AccessKey:    item.AccessKey,
				ExistingHash: winner.ContentHash,
				NewHash:      item.ContentHash,
			}
		}
		return fmt.Errorf("enqueue insert: %w", err)
	}
	q.log.Debug("invoice enqueued",
		slog.String("access_key", item.AccessKey),
		slog.String("id", item.ID))
	return nil
}

// ClaimBatch atomically moves up to n due items to processing and
// returns them. An item is due when it is pending, or in retry with
// its backoff expired. Claimed items are invisible to other callers
// until released.
func (q *Queue) ClaimBatch(ctx context.Context, n int) ([]QueueItem, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	now := q.now()
	var items []QueueItem
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ? OR (status = ? AND next_retry_at <= ?)",
				StatusPending, StatusRetry, now).
			Order("created_at asc").
			Limit(n).
			Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		ids := make([]string, len(items))
		for i := range items {
			ids[i] = items[i].ID
		}
		if err := tx.Model(&QueueItem{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     StatusProcessing,
				"claimed_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].Status = StatusProcessing
			items[i].ClaimedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return items, nil
}

// MarkSent records a successful, acknowledged delivery.
func (q *Queue) MarkSent(ctx context.Context, id string) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusSent,
			"sent_at":    now,
			"last_error": "",
		})
	if res.Error != nil {
		return fmt.Errorf("mark sent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed delivery attempt. Retryable failures go
// back to the retry pool with exponential backoff until the attempt
// ceiling; non-retryable failures dead-letter immediately. The attempt
// counter includes the failed attempt being recorded.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string, retryable bool) error {
	var item QueueItem
	if err := q.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("mark failed lookup: %w", err)
	}

	attempts := item.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": errMsg,
		"claimed_at": nil,
	}
	if !retryable || attempts >= q.maxAttempts {
		updates["status"] = StatusDeadLetter
		updates["next_retry_at"] = nil
		q.log.Warn("invoice dead-lettered",
			slog.String("id", id),
			slog.String("access_key", item.AccessKey),
			slog.Int("attempts", attempts),
			slog.Bool("retryable", retryable),
			slog.String("error", errMsg))
	} else {
		next := q.now().Add(NextRetryDelay(attempts))
		updates["status"] = StatusRetry
		updates["next_retry_at"] = next
		q.log.Debug("invoice scheduled for retry",
			slog.String("id", id),
			slog.Int("attempts", attempts),
			slog.Time("next_retry_at", next))
	}

	if err := q.db.WithContext(ctx).Model(&QueueItem{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark failed update: %w", err)
	}
	return nil
}

// ReclaimStale returns items stuck in processing beyond the stale
// threshold to the retry pool. Run at startup and periodically so a
// crash mid-delivery never loses work. Reclaims do not count as
// attempts.
func (q *Queue) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.staleClaim)
	res := q.db.WithContext(ctx).Model(&QueueItem{}).
		Where("status = ? AND claimed_at < ?", StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        StatusRetry,
			"next_retry_at": q.now(),
			"claimed_at":    nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		q.log.Info("reclaimed stale queue items", slog.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Get returns one item by id.
func (q *Queue) Get(ctx context.Context, id string) (*QueueItem, error) {
	var item QueueItem
	if err := q.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// DeadLetters lists dead-lettered items, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []QueueItem
	err := q.db.WithContext(ctx).
		Where("status = ?", StatusDeadLetter).
		Order("updated_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return items, nil
}

// Requeue returns a dead-lettered item to the pending pool with a
// fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).Model(&QueueItem{}).
		Where("id = ? AND status = ?", id, StatusDeadLetter).
		Updates(map[string]interface{}{
			"status":        StatusPending,
			"attempts":      0,
			"next_retry_at": nil,
			"claimed_at":    nil,
		})
	if res.Error != nil {
		return fmt.Errorf("requeue: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	q.log.Info("dead letter requeued", slog.String("id", id))
	return nil
}

// Stats summarizes queue state for the status API and CLI.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retry      int64 `json:"retry"`
	Sent       int64 `json:"sent"`
	DeadLetter int64 `json:"dead_letter"`
	Total      int64 `json:"total"`
}

// Stats counts items per status.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	type row struct {
		Status Status
		N      int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&QueueItem{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	s := &Stats{}
	for _, r := range rows {
		switch r.Status {
		case StatusPending:
			s.Pending = r.N
		case StatusProcessing:
			s.Processing = r.N
		case StatusRetry:
			s.Retry = r.N
		case StatusSent:
			s.Sent = r.N
		case StatusDeadLetter:
			s.DeadLetter = r.N
		}
		s.Total += r.N
	}
	return s, nil
}

// Purge deletes sent items older than the retention window. Dead
// letters are kept until an operator deals with them.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan)
	res := q.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", StatusSent, cutoff).
		Delete(&QueueItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
