package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type documentModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Collection string    `gorm:"column:collection;not null"`
	Name       string    `gorm:"column:name;not null"`
	Body       string    `gorm:"column:body;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (documentModel) TableName() string {
	return "documents"
}

type auditEventModel struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID           string    `gorm:"column:event_id;not null"`
	SchemaVersion     int       `gorm:"column:schema_version;not null"`
	Collection        string    `gorm:"column:collection;not null"`
	QuestionName      string    `gorm:"column:question_name;not null"`
	Action            string    `gorm:"column:action;not null"`
	Actor             string    `gorm:"column:actor;not null"`
	Source            string    `gorm:"column:source;not null"`
	RequestID         string    `gorm:"column:request_id;not null"`
	BeforeJSON        string    `gorm:"column:before_json"`
	AfterJSON         string    `gorm:"column:after_json"`
	ChangedFieldsJSON string    `gorm:"column:changed_fields_json"`
	OccurredAt        time.Time `gorm:"column:occurred_at;not null"`
}

func (auditEventModel) TableName() string {
	return "audit_events"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// DocumentStore keeps question documents in named collections. Names are not unique
// at this level; lookups by name resolve to the newest document.
type DocumentStore struct {
	db *gormsqlite.DB
}

func NewDocumentStore(db *gormsqlite.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) FindOne(ctx context.Context, collection, name string) (domain.Question, error) {
	var model documentModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		found, err := newest(tx.DB, collection, name)
		if err != nil {
			return err
		}
		model = *found
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find question: %w", err)
	}
	return toQuestion(model)
}

func (s *DocumentStore) InsertOne(ctx context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	out, err := s.InsertMany(ctx, collection, []domain.Question{q}, meta)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InsertMany writes every question or none.
func (s *DocumentStore) InsertMany(ctx context.Context, collection string, qs []domain.Question, meta domain.MutationMetadata) ([]domain.Question, error) {
	meta = meta.Normalize()
	result := make([]domain.Question, 0, len(qs))

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		for _, q := range qs {
			model, err := newDocument(collection, q, meta.OccurredAt.UTC())
			if err != nil {
				return err
			}
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("insert question %q: %w", model.Name, err)
			}
			action := domain.EventQuestionCreated
			if collection == domain.CollectionArchive {
				action = domain.EventQuestionArchived
			}
			if err := recordMutation(tx.DB, action, meta, nil, &model); err != nil {
				return err
			}
			saved, err := toQuestion(model)
			if err != nil {
				return err
			}
			result = append(result, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceOne swaps the body of the newest document named like q, keeping its id, or
// inserts q when there is none.
func (s *DocumentStore) ReplaceOne(ctx context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	meta = meta.Normalize()
	var result domain.Question

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		model, err := newDocument(collection, q, meta.OccurredAt.UTC())
		if err != nil {
			return err
		}

		existing, err := newest(tx.DB, collection, model.Name)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("insert question %q: %w", model.Name, err)
			}
			if err := recordMutation(tx.DB, domain.EventQuestionCreated, meta, nil, &model); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("load question %q: %w", model.Name, err)
		default:
			before := *existing
			model.ID = existing.ID
			model.CreatedAt = existing.CreatedAt
			if err := tx.Model(&documentModel{}).Where("id = ?", model.ID).
				Updates(map[string]any{"body": model.Body, "updated_at": model.UpdatedAt}).Error; err != nil {
				return fmt.Errorf("replace question %q: %w", model.Name, err)
			}
			if err := recordMutation(tx.DB, domain.EventQuestionUpdated, meta, &before, &model); err != nil {
				return err
			}
		}

		result, err = toQuestion(model)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *DocumentStore) DeleteOne(ctx context.Context, collection, name string, meta domain.MutationMetadata) (bool, error) {
	meta = meta.Normalize()
	deleted := false

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		before, err := newest(tx.DB, collection, name)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load question before delete: %w", err)
		}
		if err := tx.Where("id = ?", before.ID).Delete(&documentModel{}).Error; err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		if err := recordMutation(tx.DB, domain.EventQuestionDeleted, meta, before, nil); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// UpdateFields sets top-level fields of the newest document named name.
func (s *DocumentStore) UpdateFields(ctx context.Context, collection, name string, fields map[string]any, meta domain.MutationMetadata) (bool, error) {
	if _, ok := fields[domain.FieldID]; ok {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidField, domain.FieldID)
	}
	meta = meta.Normalize()
	matched := false

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		existing, err := newest(tx.DB, collection, name)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load question before update: %w", err)
		}
		before := *existing

		q, err := domain.DecodeQuestion([]byte(existing.Body))
		if err != nil {
			return fmt.Errorf("decode question %q: %w", name, err)
		}
		for k, v := range fields {
			q[k] = v
		}
		body, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode question %q: %w", name, err)
		}

		after := before
		after.Body = string(body)
		after.Name = q.Name()
		after.UpdatedAt = meta.OccurredAt.UTC()
		if err := tx.Model(&documentModel{}).Where("id = ?", after.ID).
			Updates(map[string]any{"name": after.Name, "body": after.Body, "updated_at": after.UpdatedAt}).Error; err != nil {
			return fmt.Errorf("update question %q: %w", name, err)
		}
		if err := recordMutation(tx.DB, domain.EventQuestionUpdated, meta, &before, &after); err != nil {
			return err
		}
		matched = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// List returns documents ordered by name and then insertion, so copies sharing a name
// in the archive keep a stable position across pages.
func (s *DocumentStore) List(ctx context.Context, collection string, filter domain.ListFilter) ([]domain.Question, error) {
	var models []documentModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&documentModel{}).Where("collection = ?", collection)
		if filter.Prefix != "" {
			query = query.Where("name >= ? AND substr(name, 1, length(?)) = ?", filter.Prefix, filter.Prefix, filter.Prefix)
		}
		switch {
		case filter.AfterID != "":
			query = query.Where("(name, created_at, rowid) > (SELECT name, created_at, rowid FROM documents WHERE id = ?)", filter.AfterID)
		case filter.After != "":
			query = query.Where("name > ?", filter.After)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Order("name ASC").Order("created_at ASC").Order("rowid ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	result := make([]domain.Question, 0, len(models))
	for _, model := range models {
		q, err := toQuestion(model)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, nil
}

func newest(tx *gorm.DB, collection, name string) (*documentModel, error) {
	var model documentModel
	err := tx.Where("collection = ? AND name = ?", collection, name).
		Order("created_at DESC").
		Order("rowid DESC").
		First(&model).Error
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func newDocument(collection string, q domain.Question, now time.Time) (documentModel, error) {
	doc := q.WithoutID()
	body, err := json.Marshal(doc)
	if err != nil {
		return documentModel{}, fmt.Errorf("encode question %q: %w", doc.Name(), err)
	}
	return documentModel{
		ID:         uuid.NewString(),
		Collection: collection,
		Name:       doc.Name(),
		Body:       string(body),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func toQuestion(model documentModel) (domain.Question, error) {
	q, err := domain.DecodeQuestion([]byte(model.Body))
	if err != nil {
		return nil, fmt.Errorf("decode question %q: %w", model.Name, err)
	}
	q[domain.FieldID] = model.ID
	return q, nil
}

// recordMutation writes the audit row and the outbox row for one document change.
func recordMutation(tx *gorm.DB, action string, meta domain.MutationMetadata, before, after *documentModel) error {
	ref := after
	if ref == nil {
		ref = before
	}

	var beforeJSON, afterJSON string
	if before != nil {
		beforeJSON = before.Body
	}
	if after != nil {
		afterJSON = after.Body
	}
	changed, err := changedFields(beforeJSON, afterJSON)
	if err != nil {
		return err
	}

	envelope := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     action,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		Collection:    ref.Collection,
		QuestionName:  ref.Name,
		OccurredAt:    meta.OccurredAt.UTC(),
		Actor:         meta.Actor,
		Source:        meta.Source,
		RequestID:     meta.RequestID,
		Payload: mustJSON(map[string]any{
			"id":         ref.ID,
			"collection": ref.Collection,
			"name":       ref.Name,
			"question":   json.RawMessage(ref.Body),
			"changed":    changed,
		}),
	}

	audit := auditEventModel{
		EventID:           envelope.EventID,
		SchemaVersion:     envelope.SchemaVersion,
		Collection:        ref.Collection,
		QuestionName:      ref.Name,
		Action:            action,
		Actor:             meta.Actor,
		Source:            meta.Source,
		RequestID:         meta.RequestID,
		BeforeJSON:        beforeJSON,
		AfterJSON:         afterJSON,
		ChangedFieldsJSON: string(mustJSON(changed)),
		OccurredAt:        envelope.OccurredAt,
	}
	if err := tx.Create(&audit).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Topic:         "events." + ref.Collection + "." + action,
		PayloadJSON:   string(payload),
		Status:        domain.OutboxPending,
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// changedFields lists the top-level keys whose encoded value differs between the two
// bodies. An empty body counts as an empty document.
func changedFields(beforeJSON, afterJSON string) ([]string, error) {
	decode := func(body string) (map[string]json.RawMessage, error) {
		out := map[string]json.RawMessage{}
		if body == "" {
			return out, nil
		}
		if err := json.Unmarshal([]byte(body), &out); err != nil {
			return nil, fmt.Errorf("decode stored question: %w", err)
		}
		return out, nil
	}
	before, err := decode(beforeJSON)
	if err != nil {
		return nil, err
	}
	after, err := decode(afterJSON)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	for k, v := range after {
		if old, ok := before[k]; !ok || string(old) != string(v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
