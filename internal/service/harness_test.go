package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/outbox"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/logger"
)

type fakeCatalog struct {
	listings map[uuid.UUID]models.ListingSummary
}

func (c *fakeCatalog) GetListingSummary(_ context.Context, id uuid.UUID) (*models.ListingSummary, error) {
	l, ok := c.listings[id]
	if !ok {
		return nil, errors.New("listing not found")
	}
	return &l, nil
}

type fakeMedia struct {
	mu      sync.Mutex
	uploads int
	fail    bool
}

func (m *fakeMedia) UploadConversationPhoto(_ context.Context, conversationID uuid.UUID, _ string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("bucket unavailable")
	}
	m.uploads++
	return fmt.Sprintf("https://storage.googleapis.com/test/conversations/%s/%d.jpg", conversationID, m.uploads), nil
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	store      *repository.MemoryStore
	broker     *realtime.LocalBroker
	dispatcher *outbox.Dispatcher
	media      *fakeMedia

	conversations *ConversationService
	offers        *OfferService
	appointments  *AppointmentService
	notifications *NotificationService

	mu  sync.Mutex
	now time.Time

	buyer, seller uuid.UUID
	conv          *models.Conversation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  repository.NewMemoryStore(),
		broker: realtime.NewLocalBroker(),
		media:  &fakeMedia{},
		now:    time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC),
		buyer:  uuid.New(),
		seller: uuid.New(),
	}
	t.Cleanup(func() { h.broker.Close() })

	listingID := uuid.New()
	catalog := &fakeCatalog{listings: map[uuid.UUID]models.ListingSummary{
		listingID: {ID: listingID, Title: "2019 Honda Civic", Price: 18500},
	}}

	h.dispatcher = outbox.NewDispatcher(h.store, h.broker, logger.NewNop(), outbox.Options{Now: h.clock})
	deps := Deps{
		Store:   h.store,
		Catalog: catalog,
		Media:   h.media,
		Waker:   h.dispatcher,
		Logger:  logger.NewNop(),
		Now:     h.clock,
	}
	h.conversations = NewConversationService(deps)
	h.offers = NewOfferService(deps)
	h.appointments = NewAppointmentService(deps)
	h.notifications = NewNotificationService(deps)

	conv, created, err := h.conversations.FindOrCreate(h.ctx, h.buyer, h.seller, listingID)
	require.NoError(t, err)
	require.True(t, created)
	h.conv = conv
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) drain() {
	h.t.Helper()
	_, err := h.dispatcher.Drain(h.ctx)
	require.NoError(h.t, err)
}

// notificationsFor drains the outbox, then lists the user's notifications.
func (h *harness) notificationsFor(user uuid.UUID) []models.Notification {
	h.t.Helper()
	h.drain()
	list, err := h.notifications.List(h.ctx, user, false, 100)
	require.NoError(h.t, err)
	return list
}

func (h *harness) systemMessages() []models.Message {
	h.t.Helper()
	all, err := h.store.ListMessages(h.ctx, h.conv.ID, 100, 0)
	require.NoError(h.t, err)
	var out []models.Message
	for _, m := range all {
		if m.Kind == models.MessageKindSystem {
			out = append(out, m)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
