package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// Upcaster rewrites an event payload from schema version From to From+1.
type Upcaster struct {
	From   int
	Upcast func(payload json.RawMessage) (json.RawMessage, error)
}

// stripStoreID upgrades version 0 payloads, which carried the stored document
// including its _id, to the version 1 form without it.
var stripStoreID = Upcaster{
	From: 0,
	Upcast: func(payload json.RawMessage) (json.RawMessage, error) {
		if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
			return json.RawMessage(`{}`), nil
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, err
		}
		delete(doc, domain.FieldID)
		return json.Marshal(doc)
	},
}

// EventCodec reads stored event envelopes at any past schema version.
type EventCodec struct {
	steps map[int]Upcaster
}

// NewEventCodec builds a codec with the built-in upcasters. extra replaces a built-in
// step with the same From version.
func NewEventCodec(extra ...Upcaster) *EventCodec {
	c := &EventCodec{steps: map[int]Upcaster{}}
	for _, u := range append([]Upcaster{stripStoreID}, extra...) {
		c.steps[u.From] = u
	}
	return c
}

func (c *EventCodec) Decode(raw []byte) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return c.Normalize(envelope)
}

// Normalize upcasts envelope's payload one version at a time up to the current version.
func (c *EventCodec) Normalize(envelope domain.EventEnvelope) (domain.EventEnvelope, error) {
	if envelope.SchemaVersion > domain.CurrentEventSchemaVersion {
		return domain.EventEnvelope{}, fmt.Errorf("event %s: schema version %d is newer than %d",
			envelope.EventID, envelope.SchemaVersion, domain.CurrentEventSchemaVersion)
	}
	for envelope.SchemaVersion < domain.CurrentEventSchemaVersion {
		step, ok := c.steps[envelope.SchemaVersion]
		if !ok {
			return domain.EventEnvelope{}, fmt.Errorf("event %s: no upcaster from schema version %d",
				envelope.EventID, envelope.SchemaVersion)
		}
		payload, err := step.Upcast(envelope.Payload)
		if err != nil {
			return domain.EventEnvelope{}, fmt.Errorf("event %s: upcast from version %d: %w",
				envelope.EventID, envelope.SchemaVersion, err)
		}
		envelope.Payload = payload
		envelope.SchemaVersion++
	}
	return envelope, nil
}
