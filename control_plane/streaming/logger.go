package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fluxforge/orchestrator/control_plane/logging"
)

// LogPublisher is the no-dependency Publisher: it writes every event to
// the structured log instead of a broker, for local development and
// deployments without NATS configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    "control-plane",
	}

	logging.Component(ctx, "streaming").Info().
		Str("topic", event.Topic).
		Str("event_id", event.ID).
		RawJSON("payload", event.Payload).
		Msg("event published")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
