package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/logger"
)

type failingBroker struct {
	realtime.Broker
	attempts int
}

func (b *failingBroker) Publish(context.Context, realtime.Event) error {
	b.attempts++
	return errors.New("broker down")
}

// flakyStore fails CreateNotification a fixed number of times.
type flakyStore struct {
	*repository.MemoryStore
	failures int
}

func (s *flakyStore) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errors.New("store unavailable")
	}
	return s.MemoryStore.CreateNotification(ctx, n)
}

func stageMessage(t *testing.T, s *repository.MemoryStore, withNotification bool) (*models.Conversation, *models.OutboxEvent) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	conv := &models.Conversation{ID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New(), ListingID: uuid.New(), CreatedAt: now, UpdatedAt: now}

	var staged *models.OutboxEvent
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		msg := &models.Message{ID: uuid.New(), ConversationID: conv.ID, SenderID: conv.BuyerID, Content: "hi", Kind: models.MessageKindText, CreatedAt: now}
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}
		e, err := models.NewOutboxEvent(conv.ID, models.TopicMessageNew, msg.ID, conv.BuyerID, 1, msg)
		if err != nil {
			return err
		}
		e.CreatedAt = now
		if withNotification {
			e.Notification, err = models.NewNotificationDraft(conv.SellerID, "New Message", "hi",
				models.NewMessageData{ConversationID: conv.ID, ListingID: conv.ListingID, MessageID: msg.ID, SenderID: conv.BuyerID})
			if err != nil {
				return err
			}
		}
		staged = e
		return tx.EnqueueEvent(ctx, e)
	}))
	return conv, staged
}

func TestDispatcher_PublishesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	broker := realtime.NewLocalBroker()
	defer broker.Close()

	conv, staged := stageMessage(t, store, true)
	sub, err := broker.Subscribe(ctx, conv.ID)
	require.NoError(t, err)

	d := NewDispatcher(store, broker, logger.NewNop(), Options{BatchSize: 10})
	n, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := <-sub.C
	assert.Equal(t, models.TopicMessageNew, ev.Type)
	assert.Equal(t, staged.RecordID, ev.RecordID)

	push := <-sub.C
	assert.Equal(t, models.EventNotificationNew, push.Type)
	require.NotNil(t, push.UserID)
	assert.Equal(t, conv.SellerID, *push.UserID)

	notifications, err := store.ListNotifications(ctx, conv.SellerID, false, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, staged.ID, notifications[0].ID)

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_BrokerFailureStillPersists(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	broker := &failingBroker{}
	conv, _ := stageMessage(t, store, true)

	d := NewDispatcher(store, broker, logger.NewNop(), Options{})
	n, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, broker.attempts)

	count, err := store.UnreadNotificationCount(ctx, conv.SellerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_ReplayAfterStoreFailureDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	conv, _ := stageMessage(t, mem, true)
	store := &flakyStore{MemoryStore: mem, failures: 1}

	d := NewDispatcher(store, realtime.NewLocalBroker(), logger.NewNop(), Options{})
	_, err := d.Drain(ctx)
	require.Error(t, err)

	pending, err := mem.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = d.Drain(ctx)
	require.NoError(t, err)
	_, err = d.Drain(ctx)
	require.NoError(t, err)

	count, err := mem.UnreadNotificationCount(ctx, conv.SellerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_EventsWithoutNotification(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	conv, _ := stageMessage(t, store, false)

	d := NewDispatcher(store, realtime.NewLocalBroker(), logger.NewNop(), Options{})
	n, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.UnreadNotificationCount(ctx, conv.SellerID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatcher_RunDrainsOnWake(t *testing.T) {
	store := repository.NewMemoryStore()
	d := NewDispatcher(store, realtime.NewLocalBroker(), logger.NewNop(), Options{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	conv, _ := stageMessage(t, store, true)
	d.Wake()

	assert.Eventually(t, func() bool {
		count, _ := store.UnreadNotificationCount(context.Background(), conv.SellerID)
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
