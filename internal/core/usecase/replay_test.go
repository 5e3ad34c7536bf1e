package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type replayAuditRepo struct {
	events []domain.AuditTrailEvent
	calls  int
}

func (r *replayAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	r.calls++
	items := make([]domain.AuditTrailEvent, 0, filter.Limit)
	for _, e := range r.events {
		if filter.QuestionName != "" && e.QuestionName != filter.QuestionName {
			continue
		}
		if filter.AfterID > 0 && !(e.ID < filter.AfterID) {
			continue
		}
		items = append(items, e)
		if len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func TestReplayEventsFiltersByQuestion(t *testing.T) {
	audit := NewAuditService(&replayAuditRepo{events: []domain.AuditTrailEvent{
		{ID: 3, EventID: "e3", QuestionName: "phys0199", Action: domain.EventQuestionUpdated, SchemaVersion: 1, OccurredAt: time.Now()},
		{ID: 2, EventID: "e2", QuestionName: "chem0199", Action: domain.EventQuestionCreated, SchemaVersion: 1, OccurredAt: time.Now()},
		{ID: 1, EventID: "e1", QuestionName: "phys0199", Action: domain.EventQuestionCreated, SchemaVersion: 1, OccurredAt: time.Now()},
	}})

	var seen []string
	err := ReplayEvents(context.Background(), audit, NewEventCodec(), domain.AuditFilter{QuestionName: "phys0199", Limit: 100}, func(ev ReplayEvent) error {
		seen = append(seen, ev.Envelope.EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(seen) != 2 || seen[0] != "e3" || seen[1] != "e1" {
		t.Fatalf("expected e3 then e1, got %v", seen)
	}
}

func TestReplayEventsPagesAndPicksPayload(t *testing.T) {
	repo := &replayAuditRepo{events: []domain.AuditTrailEvent{
		{ID: 30, EventID: "e30", QuestionName: "phys0199", Action: domain.EventQuestionDeleted, SchemaVersion: 1, BeforeJSON: json.RawMessage(`{"points":2}`)},
		{ID: 20, EventID: "e20", QuestionName: "phys0199", Action: domain.EventQuestionUpdated, SchemaVersion: 1, AfterJSON: json.RawMessage(`{"points":2}`), ChangedJSON: json.RawMessage(`["points"]`)},
		{ID: 10, EventID: "e10", QuestionName: "phys0199", Action: domain.EventQuestionCreated, SchemaVersion: 1, AfterJSON: json.RawMessage(`{"points":1}`)},
	}}
	audit := NewAuditService(repo)

	payloads := map[string]string{}
	var changed string
	err := ReplayEvents(context.Background(), audit, NewEventCodec(), domain.AuditFilter{Limit: 2}, func(ev ReplayEvent) error {
		payloads[ev.Envelope.EventID] = string(ev.Envelope.Payload)
		if ev.Envelope.EventType == domain.EventQuestionUpdated {
			changed = string(ev.Changed)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected two pages, got %d calls", repo.calls)
	}
	if payloads["e30"] != `{"points":2}` || payloads["e10"] != `{"points":1}` {
		t.Fatalf("unexpected payloads: %v", payloads)
	}
	if changed != `["points"]` {
		t.Fatalf("unexpected changed fields: %q", changed)
	}
}
