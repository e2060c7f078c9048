// Package realtime is the fan-out channel that pushes committed records to live sessions.
// Delivery is at most once per subscriber and best effort: the notification store is the
// durable path.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is one pushed record. Version lets receivers discard stale or duplicate updates
// of the same record.
type Event struct {
	Type           string          `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	RecordID       uuid.UUID       `json:"record_id"`
	Version        int             `json:"version"`
	Seq            int64           `json:"seq"`
	ActorID        uuid.UUID       `json:"actor_id"`
	// UserID addresses the event to one participant; nil means both.
	UserID *uuid.UUID      `json:"user_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Broker publishes events and hands out subscriptions.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe receives the events of one conversation.
	Subscribe(ctx context.Context, conversationID uuid.UUID) (*Subscription, error)
	// SubscribeAll receives every conversation's events.
	SubscribeAll(ctx context.Context) (*Subscription, error)
	Close() error
}

const subscriptionBuffer = 64

// Subscription delivers events on C until Close is called or the broker shuts down.
type Subscription struct {
	C <-chan Event

	once    sync.Once
	closeFn func()
}

func newSubscription(c <-chan Event, closeFn func()) *Subscription {
	return &Subscription{C: c, closeFn: closeFn}
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}
