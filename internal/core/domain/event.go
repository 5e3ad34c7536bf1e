package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	EventQuestionCreated  = "question.created"
	EventQuestionUpdated  = "question.updated"
	EventQuestionDeleted  = "question.deleted"
	EventQuestionArchived = "question.archived"
)

// KnownEventType reports whether t is one of the question event types.
func KnownEventType(t string) bool {
	switch t {
	case EventQuestionCreated, EventQuestionUpdated, EventQuestionDeleted, EventQuestionArchived:
		return true
	}
	return false
}

// Outbox row states.
const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
	OutboxDead       = "dead"
)

type MutationMetadata struct {
	Actor      string
	Source     string
	RequestID  string
	OccurredAt time.Time
}

func (m MutationMetadata) Normalize() MutationMetadata {
	if m.Actor == "" {
		m.Actor = "cli"
	}
	if m.Source == "" {
		m.Source = "cli"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Collection    string          `json:"collection"`
	QuestionName  string          `json:"question_name"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Actor         string          `json:"actor"`
	Source        string          `json:"source"`
	RequestID     string          `json:"request_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type AuditTrailEvent struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"event_id"`
	Collection    string          `json:"collection"`
	QuestionName  string          `json:"question_name"`
	Action        string          `json:"action"`
	SchemaVersion int             `json:"schema_version"`
	Actor         string          `json:"actor"`
	Source        string          `json:"source"`
	RequestID     string          `json:"request_id"`
	BeforeJSON    json.RawMessage `json:"before_json,omitempty"`
	AfterJSON     json.RawMessage `json:"after_json,omitempty"`
	ChangedJSON   json.RawMessage `json:"changed_fields_json,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

type AuditFilter struct {
	Collection   string
	QuestionName string
	Action       string
	AfterID      int64
	Limit        int
}

// ListFilter pages through a collection in (name, insertion) order. AfterID is the
// id of the last document of the previous page and takes precedence over After, which
// skips every document up to and including a name.
type ListFilter struct {
	Prefix  string
	After   string
	AfterID string
	Limit   int
}
