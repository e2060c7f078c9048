package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/pkg/metrics"
)

// ErrClosed is returned by a closed broker.
var ErrClosed = errors.New("realtime: broker closed")

type localSub struct {
	ch             chan Event
	conversationID uuid.UUID // uuid.Nil receives everything
}

// LocalBroker fans out inside one process. A subscriber whose buffer is full misses the
// event.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[*localSub]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		if s.conversationID != uuid.Nil && s.conversationID != ev.ConversationID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.RealtimePublishFailuresTotal.WithLabelValues("local_dropped").Inc()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, conversationID uuid.UUID) (*Subscription, error) {
	return b.subscribe(conversationID)
}

func (b *LocalBroker) SubscribeAll(_ context.Context) (*Subscription, error) {
	return b.subscribe(uuid.Nil)
}

func (b *LocalBroker) subscribe(conversationID uuid.UUID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	s := &localSub{ch: make(chan Event, subscriptionBuffer), conversationID: conversationID}
	b.subs[s] = struct{}{}

	return newSubscription(s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}), nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
