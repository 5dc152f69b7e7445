package transmit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rezonia/nfe-collector/internal/outbox"
)

// ActivityRecorder receives notable pipeline events for the status
// feed. Implementations must be safe for concurrent use.
type ActivityRecorder interface {
	Record(kind, message string)
}

type noopActivity struct{}

func (noopActivity) Record(string, string) {}

// Transmitter drains the outbox: claim a batch, deliver each item,
// record the outcome. One failed item never blocks its batch.
type Transmitter struct {
	queue    *outbox.Queue
	client   *Client
	interval time.Duration
	batch    int
	log      *slog.Logger
	activity ActivityRecorder

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// TransmitterOption configures a Transmitter.
type TransmitterOption func(*Transmitter)

// WithInterval sets the drain tick interval.
func WithInterval(d time.Duration) TransmitterOption {
	return func(t *Transmitter) { t.interval = d }
}

// WithBatchSize bounds how many items one drain pass claims.
func WithBatchSize(n int) TransmitterOption {
	return func(t *Transmitter) { t.batch = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) TransmitterOption {
	return func(t *Transmitter) { t.log = log }
}

// WithActivity sets the activity feed recorder.
func WithActivity(a ActivityRecorder) TransmitterOption {
	return func(t *Transmitter) { t.activity = a }
}

// NewTransmitter creates a transmitter over a queue and client.
func NewTransmitter(queue *outbox.Queue, client *Client, opts ...TransmitterOption) *Transmitter {
	t := &Transmitter{
		queue:    queue,
		client:   client,
		interval: 5 * time.Second,
		batch:    20,
		log:      slog.Default(),
		activity: noopActivity{},
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Wake nudges the transmitter to drain now instead of waiting for the
// next tick. Safe to call from any goroutine; never blocks.
func (t *Transmitter) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until Stop or context cancellation.
// Stale claims left behind by a previous crash are reclaimed before
// the first drain.
func (t *Transmitter) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		if _, err := t.queue.ReclaimStale(ctx); err != nil {
			t.log.Error("startup reclaim failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.C:
				if _, err := t.queue.ReclaimStale(ctx); err != nil {
					t.log.Error("reclaim failed", slog.String("error", err.Error()))
				}
				t.drain(ctx)
			case <-t.wake:
				t.drain(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight drain to finish.
func (t *Transmitter) Stop() {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// drain claims and delivers until the queue has nothing due.
func (t *Transmitter) drain(ctx context.Context) {
	for {
		items, err := t.queue.ClaimBatch(ctx, t.batch)
		if err != nil {
			t.log.Error("claim failed", slog.String("error", err.Error()))
			return
		}
		if len(items) == 0 {
			return
		}
		if len(items) > 1 {
			t.deliverBatch(ctx, items)
		} else {
			t.deliver(ctx, items[0])
		}
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}
	}
}

func (t *Transmitter) deliver(ctx context.Context, item outbox.QueueItem) {
	t.record(ctx, item, t.client.Send(ctx, item))
}

// deliverBatch tries the batch endpoint first and falls back to single
// sends when the whole call fails at the transport level.
func (t *Transmitter) deliverBatch(ctx context.Context, items []outbox.QueueItem) {
	outcomes, err := t.client.SendBatch(ctx, items)
	if err != nil {
		t.log.Debug("batch call failed, falling back to single sends",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()))
		for _, item := range items {
			t.deliver(ctx, item)
		}
		return
	}
	for _, item := range items {
		t.record(ctx, item, outcomes[item.AccessKey])
	}
}

func (t *Transmitter) record(ctx context.Context, item outbox.QueueItem, sendErr error) {
	if sendErr == nil {
		if err := t.queue.MarkSent(ctx, item.ID); err != nil {
			t.log.Error("mark sent failed",
				slog.String("id", item.ID),
				slog.String("error", err.Error()))
			return
		}
		t.log.Info("invoice delivered",
			slog.String("access_key", item.AccessKey),
			slog.Int("attempts", item.Attempts+1))
		t.activity.Record("sent", item.AccessKey)
		return
	}

	retryable := true
	var te *TransmitError
	if errors.As(sendErr, &te) {
		retryable = te.Retryable
	}
	if err := t.queue.MarkFailed(ctx, item.ID, sendErr.Error(), retryable); err != nil {
		t.log.Error("mark failed failed",
			slog.String("id", item.ID),
			slog.String("error", err.Error()))
		return
	}

	if !retryable || item.Attempts+1 >= t.queue.MaxAttempts() {
		t.log.Error("invoice dead-lettered",
			slog.String("access_key", item.AccessKey),
			slog.String("error", sendErr.Error()))
		t.activity.Record("dead_letter", item.AccessKey+": "+sendErr.Error())
		return
	}
	t.log.Warn("delivery failed, will retry",
		slog.String("access_key", item.AccessKey),
		slog.Int("attempts", item.Attempts+1),
		slog.String("error", sendErr.Error()))
	t.activity.Record("retry", item.AccessKey)
}
