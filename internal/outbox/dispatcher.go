// Package outbox drains side effects staged by the engines. Each event is pushed to the
// realtime broker, best effort, and its notification is persisted exactly once.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/pkg/logger"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

// Store is the part of the event log store the dispatcher needs.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkDispatched(ctx context.Context, eventID uuid.UUID, at time.Time) error
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
}

type Options struct {
	BatchSize    int
	PollInterval time.Duration
	Now          func() time.Time
}

type Dispatcher struct {
	store    Store
	broker   realtime.Broker
	logger   *logger.Logger
	batch    int
	interval time.Duration
	now      func() time.Time

	wake chan struct{}
	// drainMu keeps a ticker drain and a woken drain from racing over the same events.
	drainMu sync.Mutex
}

func NewDispatcher(store Store, broker realtime.Broker, log *logger.Logger, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		store:    store,
		broker:   broker,
		logger:   log,
		batch:    opts.BatchSize,
		interval: opts.PollInterval,
		now:      opts.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Wake asks Run to drain now instead of waiting for the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox drain failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Drain dispatches every pending event in seq order and returns how many it marked
// dispatched. It stops at the first store error, leaving that event pending for the next
// pass.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	start := time.Now()
	defer func() { metrics.OutboxDrainDuration.Observe(time.Since(start).Seconds()) }()

	total := 0
	for {
		events, err := d.store.PendingEvents(ctx, d.batch)
		if err != nil {
			return total, err
		}
		for i := range events {
			if err := d.dispatch(ctx, &events[i]); err != nil {
				return total, err
			}
			total++
		}
		if len(events) < d.batch {
			return total, nil
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e *models.OutboxEvent) error {
	log := d.logger.With(
		zap.String("event_id", e.ID.String()),
		zap.Int64("seq", e.Seq),
		zap.String("topic", e.Topic),
		zap.String("conversation_id", e.ConversationID.String()),
	)

	d.publish(ctx, log, realtime.Event{
		Type:           e.Topic,
		ConversationID: e.ConversationID,
		RecordID:       e.RecordID,
		Version:        e.Version,
		Seq:            e.Seq,
		ActorID:        e.ActorID,
		Data:           e.Record,
	})

	if e.Notification != nil {
		n, err := e.Notification.Materialize(e.ID, e.CreatedAt)
		if err != nil {
			// Undecodable drafts are skipped.
			log.Error("dropping undecodable notification", zap.Error(err))
		} else {
			created, err := d.store.CreateNotification(ctx, n)
			if err != nil {
				return err
			}
			if created {
				metrics.NotificationsTotal.WithLabelValues(string(n.Type)).Inc()
				d.pushNotification(ctx, log, e, n)
			}
		}
	}

	if err := d.store.MarkDispatched(ctx, e.ID, d.now()); err != nil {
		return err
	}
	metrics.OutboxDispatchedTotal.WithLabelValues(e.Topic).Inc()
	return nil
}

func (d *Dispatcher) pushNotification(ctx context.Context, log *logger.Logger, e *models.OutboxEvent, n *models.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Warn("failed to encode notification push", zap.Error(err))
		return
	}
	recipient := n.UserID
	d.publish(ctx, log, realtime.Event{
		Type:           models.EventNotificationNew,
		ConversationID: e.ConversationID,
		RecordID:       n.ID,
		Version:        1,
		Seq:            e.Seq,
		ActorID:        e.ActorID,
		UserID:         &recipient,
		Data:           data,
	})
}

func (d *Dispatcher) publish(ctx context.Context, log *logger.Logger, ev realtime.Event) {
	if err := d.broker.Publish(ctx, ev); err != nil {
		metrics.RealtimePublishFailuresTotal.WithLabelValues("publish").Inc()
		log.Warn("realtime publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
