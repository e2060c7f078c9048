package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/tullo/bazaar/internal/nats"
	"github.com/tullo/bazaar/pkg/logger"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

// NATSBroker fans out over core NATS subjects conv.<conversation>.<type>.
type NATSBroker struct {
	client *nats.Client
	logger *logger.Logger
}

func NewNATSBroker(client *nats.Client, log *logger.Logger) *NATSBroker {
	return &NATSBroker{client: client, logger: log}
}

func (b *NATSBroker) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Conn().Publish(nats.EventSubject(ev.ConversationID, ev.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(_ context.Context, conversationID uuid.UUID) (*Subscription, error) {
	return b.subscribe(nats.ConversationFilter(conversationID))
}

func (b *NATSBroker) SubscribeAll(_ context.Context) (*Subscription, error) {
	return b.subscribe(nats.AllConversationsFilter())
}

func (b *NATSBroker) subscribe(subject string) (*Subscription, error) {
	msgs := make(chan *natsgo.Msg, subscriptionBuffer)
	sub, err := b.client.Conn().ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	out := make(chan Event, subscriptionBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg := <-msgs:
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					b.logger.Warn("dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.RealtimePublishFailuresTotal.WithLabelValues("nats_dropped").Inc()
				}
			}
		}
	}()

	return newSubscription(out, func() {
		sub.Unsubscribe()
		close(done)
	}), nil
}

// Close is a no-op; the NATS client is owned by the caller.
func (b *NATSBroker) Close() error { return nil }
