package ports

import (
	"context"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// AuditTrailRepository pages the audit trail newest first.
type AuditTrailRepository interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error)
}

// OutboxRepository tracks delivery state of events written with each mutation.
type OutboxRepository interface {
	// FetchPending returns due pending rows in insertion order.
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

// EventPublisher delivers an outbox event to subscribers outside the process.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.EventEnvelope) error
}
