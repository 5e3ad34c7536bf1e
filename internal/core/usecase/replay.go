package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type ReplayEvent struct {
	Envelope domain.EventEnvelope `json:"envelope"`
	AuditID  int64                `json:"audit_id"`
	Changed  json.RawMessage      `json:"changed_fields,omitempty"`
}

// ReplayEvents walks every audit event matching filter, newest first, and hands it to
// applyFn as a normalized envelope. The payload is the question after the change, or
// before it for deletions.
func ReplayEvents(ctx context.Context, audit *AuditService, codec *EventCodec, filter domain.AuditFilter, applyFn func(ReplayEvent) error) error {
	for {
		events, err := audit.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list audit events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, e := range events {
			envelope := domain.EventEnvelope{
				EventID:       e.EventID,
				EventType:     e.Action,
				SchemaVersion: e.SchemaVersion,
				Collection:    e.Collection,
				QuestionName:  e.QuestionName,
				OccurredAt:    e.OccurredAt,
				Actor:         e.Actor,
				Source:        e.Source,
				RequestID:     e.RequestID,
			}
			switch {
			case len(e.AfterJSON) > 0:
				envelope.Payload = e.AfterJSON
			case len(e.BeforeJSON) > 0:
				envelope.Payload = e.BeforeJSON
			default:
				envelope.Payload = json.RawMessage(`{}`)
			}

			normalized, err := codec.Normalize(envelope)
			if err != nil {
				return fmt.Errorf("normalize event %s: %w", e.EventID, err)
			}
			if err := applyFn(ReplayEvent{Envelope: normalized, AuditID: e.ID, Changed: e.ChangedJSON}); err != nil {
				return fmt.Errorf("apply replay event %s: %w", e.EventID, err)
			}
			filter.AfterID = e.ID
		}
		if filter.Limit > 0 && len(events) < filter.Limit {
			return nil
		}
	}
}
