package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchBatch    = 50
	defaultMaxAttempts      = 5
	maxBackoff              = 5 * time.Minute
)

// OutboxDispatcher drains pending outbox rows into an EventPublisher. Failed
// deliveries are rescheduled with quadratic backoff until the attempt budget
// runs out, after which the row is dead-lettered.
type OutboxDispatcher struct {
	repo        ports.OutboxRepository
	publisher   ports.EventPublisher
	codec       *EventCodec
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
	log         zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

type DispatcherOption func(*OutboxDispatcher)

// WithMaxAttempts sets how many failed deliveries a row may accumulate before it is dead-lettered.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithEventCodec(c *EventCodec) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int, log zerolog.Logger, opts ...DispatcherOption) *OutboxDispatcher {
	d := &OutboxDispatcher{
		repo:        repo,
		publisher:   publisher,
		codec:       NewEventCodec(),
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
	if d.interval <= 0 {
		d.interval = defaultDispatchInterval
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultDispatchBatch
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the background loop. Calling it twice is a no-op.
func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("outbox dispatch batch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes a single batch of pending events without starting the loop.
// Publish failures are recorded on the rows; only store errors are returned.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) error {
	pending, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("fetch pending events: %w", err)
	}
	for _, row := range pending {
		if err := d.deliver(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, row domain.OutboxEvent) error {
	envelope, err := d.codec.Decode(row.PayloadJSON)
	if err == nil {
		err = d.publisher.Publish(ctx, row.Topic, envelope)
	}
	if err == nil {
		if markErr := d.repo.MarkDispatched(ctx, row.ID); markErr != nil {
			return fmt.Errorf("mark event %s dispatched: %w", row.EventID, markErr)
		}
		d.published.Add(1)
		return nil
	}

	d.failed.Add(1)
	attempts := row.Attempts + 1
	logger := d.log.With().Str("event_id", row.EventID).Str("topic", row.Topic).Int("attempts", attempts).Logger()
	if attempts >= d.maxAttempts {
		if markErr := d.repo.MarkDead(ctx, row.ID, attempts, err.Error()); markErr != nil {
			return fmt.Errorf("dead-letter event %s: %w", row.EventID, markErr)
		}
		d.dead.Add(1)
		logger.Error().Err(err).Msg("event moved to dead letter")
		return nil
	}
	logger.Warn().Err(err).Msg("publish event failed")
	next := d.now().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	if markErr := d.repo.MarkFailed(ctx, row.ID, attempts, next, err.Error()); markErr != nil {
		return fmt.Errorf("reschedule event %s: %w", row.EventID, markErr)
	}
	return nil
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.published.Load(),
		DispatchFailureTotal: d.failed.Load(),
		DispatchDeadTotal:    d.dead.Load(),
	}
}

// backoffDuration is attempt² seconds, capped at maxBackoff.
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := time.Duration(attempt*attempt) * time.Second
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}
