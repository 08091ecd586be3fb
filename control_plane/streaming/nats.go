package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/fluxforge/orchestrator/control_plane/logging"
)

// NatsPublisher publishes Events onto NATS subjects, for deployments
// that want durable cross-process fanout instead of LogPublisher's
// log-only notification. Grounded on the pack's natsclient-based
// publish/subscribe shape, adapted to the ecosystem nats.go client
// already declared in this module's dependency set.
type NatsPublisher struct {
	conn   *nats.Conn
	source string
}

// NewNatsPublisher connects to url (e.g. "nats://localhost:4222").
func NewNatsPublisher(url string, source string) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NatsPublisher{conn: conn, source: source}, nil
}

func (p *NatsPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    p.source,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.conn.Publish(topic, eventBytes); err != nil {
		logging.Component(ctx, "streaming").Warn().Err(err).Str("topic", topic).Msg("nats publish failed")
		return err
	}
	return nil
}

func (p *NatsPublisher) Close() error {
	p.conn.Drain()
	return nil
}

// NatsSubscriber subscribes to Events on NATS subjects.
type NatsSubscriber struct {
	conn *nats.Conn
}

func NewNatsSubscriber(conn *nats.Conn) *NatsSubscriber {
	return &NatsSubscriber{conn: conn}
}

func (s *NatsSubscriber) Subscribe(topic string, handler func(event Event)) (Subscription, error) {
	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
