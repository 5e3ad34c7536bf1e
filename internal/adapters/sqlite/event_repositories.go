package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// AuditTrailRepository reads the audit_events table written by DocumentStore.
type AuditTrailRepository struct {
	db *gormsqlite.DB
}

func NewAuditTrailRepository(db *gormsqlite.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// List returns events newest first. AfterID is an exclusive upper bound on id.
func (r *AuditTrailRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	conds := map[string]any{}
	if filter.Collection != "" {
		conds["collection"] = filter.Collection
	}
	if filter.QuestionName != "" {
		conds["question_name"] = filter.QuestionName
	}
	if filter.Action != "" {
		conds["action"] = filter.Action
	}

	var rows []auditEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		q := tx.Model(&auditEventModel{})
		if len(conds) > 0 {
			q = q.Where(conds)
		}
		if filter.AfterID > 0 {
			q = q.Where("id < ?", filter.AfterID)
		}
		return q.Order("id DESC").Limit(filter.Limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	out := make([]domain.AuditTrailEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (m auditEventModel) toDomain() domain.AuditTrailEvent {
	return domain.AuditTrailEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		Collection:    m.Collection,
		QuestionName:  m.QuestionName,
		Action:        m.Action,
		SchemaVersion: m.SchemaVersion,
		Actor:         m.Actor,
		Source:        m.Source,
		RequestID:     m.RequestID,
		BeforeJSON:    rawOrNil(m.BeforeJSON),
		AfterJSON:     rawOrNil(m.AfterJSON),
		ChangedJSON:   rawOrNil(m.ChangedFieldsJSON),
		OccurredAt:    m.OccurredAt,
	}
}

// OutboxRepository moves outbox rows through pending, dispatched and dead.
type OutboxRepository struct {
	db *gormsqlite.DB
}

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", domain.OutboxPending, time.Now().UTC()).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	out := make([]domain.OutboxEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (m outboxEventModel) toDomain() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		Topic:         m.Topic,
		PayloadJSON:   json.RawMessage(m.PayloadJSON),
		Status:        m.Status,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		DispatchedAt:  m.DispatchedAt,
	}
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.update(ctx, "dispatched", id, map[string]any{
		"status":        domain.OutboxDispatched,
		"dispatched_at": &now,
		"last_error":    "",
	})
}

// MarkFailed records a failed attempt and schedules the next one. nextAttemptAt is RFC 3339.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	next, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("parse next attempt: %w", err)
	}
	return r.update(ctx, "failed", id, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next.UTC(),
		"last_error":      errMsg,
	})
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return r.update(ctx, "dead", id, map[string]any{
		"status":     domain.OutboxDead,
		"attempts":   attempts,
		"last_error": errMsg,
	})
}

func (r *OutboxRepository) update(ctx context.Context, what string, id int64, fields map[string]any) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&outboxEventModel{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark outbox %d %s: %w", id, what, err)
	}
	return nil
}

// CountByStatus reports how many outbox rows sit in each status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Select("status, COUNT(*) AS total").
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
