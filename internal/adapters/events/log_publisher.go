package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// LogPublisher writes each outbox event to the application log.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.Info().
		Str("topic", topic).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("collection", event.Collection).
		Str("question", event.QuestionName).
		Str("actor", event.Actor).
		Msg("outbox publish")
	return nil
}
