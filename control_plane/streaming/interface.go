// Package streaming is the change-event fanout used to notify external
// observers (external audit consumers) of transitions as they happen,
// independent of the synchronous request path. The task runner publishes
// task status changes on TopicTaskStatus; nothing in the control plane
// publishes on the other topics, and the status feed does not subscribe
// (it polls a SnapshotSource). Grounded on the
// teacher's own streaming package: same Publisher/Subscriber/Event
// shape, generalized from the teacher's job-lifecycle topics to this
// repository's task/agent/scaling domain.
package streaming

import (
	"context"
	"time"
)

// Event is one published change notification.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Topic names used across the control plane.
const (
	TopicTaskStatus   = "task.status"
	TopicAgentState   = "agent.state"
	TopicScalingEvent = "scaling.event"
	TopicVerification = "verification.outcome"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(topic string, handler func(event Event)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}
