package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("conversation create is idempotent", func(t *testing.T) { testCreateConversationIdempotent(t, newStore(t)) })
	t.Run("messages are strictly ordered", func(t *testing.T) { testMessageOrdering(t, newStore(t)) })
	t.Run("mark read targets counterpart only", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("failed transaction leaves no trace", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("stale offer update rejected", func(t *testing.T) { testStaleOffer(t, newStore(t)) })
	t.Run("latest suggestion", func(t *testing.T) { testLatestSuggestion(t, newStore(t)) })
	t.Run("outbox drain order", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
}

func seedConversation(t *testing.T, s Store) *models.Conversation {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:        uuid.New(),
		BuyerID:   uuid.New(),
		SellerID:  uuid.New(),
		ListingID: uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx Tx) error {
		created, err := tx.CreateConversation(context.Background(), c)
		require.True(t, created)
		return err
	}))
	return c
}

func appendText(t *testing.T, s Store, c *models.Conversation, sender uuid.UUID, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       sender,
		Content:        "hello",
		Kind:           models.MessageKindText,
		CreatedAt:      at,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx Tx) error {
		return tx.AppendMessage(context.Background(), m)
	}))
	return m
}

func testCreateConversationIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)

	dup := *c
	dup.ID = uuid.New()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		created, err := tx.CreateConversation(ctx, &dup)
		assert.False(t, created)
		return err
	}))

	found, err := s.FindConversation(ctx, c.BuyerID, c.SellerID, c.ListingID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	_, err = s.GetConversation(ctx, dup.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func testMessageOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)
	at := time.Now().UTC()

	var appended []*models.Message
	for i := 0; i < 5; i++ {
		sender := c.BuyerID
		if i%2 == 1 {
			sender = c.SellerID
		}
		appended = append(appended, appendText(t, s, c, sender, at))
	}

	got, err := s.ListMessages(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range got {
		assert.Equal(t, appended[i].ID, got[i].ID)
		if i > 0 {
			assert.True(t, got[i].CreatedAt.After(got[i-1].CreatedAt), "message %d not after %d", i, i-1)
		}
	}

	last, err := s.LastMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, appended[4].ID, last.ID)

	page, err := s.ListMessages(ctx, c.ID, 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, appended[3].ID, page[0].ID)
}

func testMarkRead(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)
	now := time.Now().UTC()
	appendText(t, s, c, c.BuyerID, now)
	appendText(t, s, c, c.SellerID, now)
	appendText(t, s, c, c.SellerID, now)

	unread, err := s.UnreadCount(ctx, c.ID, c.BuyerID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	markRead := func() int64 {
		var n int64
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			var err error
			n, err = tx.MarkMessagesRead(ctx, c.ID, c.BuyerID, now)
			return err
		}))
		return n
	}
	assert.EqualValues(t, 2, markRead())
	assert.EqualValues(t, 0, markRead())

	msgs, err := s.ListMessages(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, msgs[0].ReadAt, "own message must stay unread")
	assert.NotNil(t, msgs[1].ReadAt)

	unread, err = s.UnreadCount(ctx, c.ID, c.SellerID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		m := &models.Message{ID: uuid.New(), ConversationID: c.ID, SenderID: c.BuyerID, Kind: models.MessageKindText, CreatedAt: time.Now()}
		require.NoError(t, tx.AppendMessage(ctx, m))
		e, err := models.NewOutboxEvent(c.ID, models.TopicMessageNew, m.ID, c.BuyerID, 1, m)
		require.NoError(t, err)
		e.CreatedAt = time.Now().UTC()
		require.NoError(t, tx.EnqueueEvent(ctx, e))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	msgs, err := s.ListMessages(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testStaleOffer(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &models.Offer{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       c.BuyerID,
		ListingID:      c.ListingID,
		Amount:         15000,
		OfferType:      models.OfferTypeCash,
		Status:         models.OfferStatusPending,
		ExpiresAt:      now.Add(7 * 24 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateOffer(ctx, o) }))

	stale := *o
	stale.Status = models.OfferStatusAccepted
	stale.Version = 5
	err := s.InTx(ctx, func(tx Tx) error { return tx.UpdateOffer(ctx, &stale) })
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		locked, err := tx.GetOfferForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := locked.Respond(c.SellerID, models.OfferStatusDeclined, now); err != nil {
			return err
		}
		return tx.UpdateOffer(ctx, locked)
	}))

	got, err := s.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusDeclined, got.Status)
	assert.Equal(t, 2, got.Version)
}

func testLatestSuggestion(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)
	now := time.Now().UTC()
	a := &models.Appointment{
		ID:              uuid.New(),
		ConversationID:  c.ID,
		ListingID:       c.ListingID,
		ScheduledBy:     c.BuyerID,
		ScheduledWith:   c.SellerID,
		AppointmentDate: now.Add(24 * time.Hour),
		Status:          models.AppointmentScheduled,
		ResponseStatus:  models.ResponsePending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateAppointment(ctx, a) }))

	none, err := s.LatestSuggestion(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	var ids []uuid.UUID
	for i, by := range []uuid.UUID{c.SellerID, c.BuyerID} {
		date := now.Add(time.Duration(48+i) * time.Hour)
		resp := &models.AppointmentResponse{
			ID:            uuid.New(),
			AppointmentID: a.ID,
			ResponderID:   by,
			ResponseType:  models.ResponseTypeSuggestAlternative,
			SuggestedDate: &date,
			CreatedAt:     now,
		}
		require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateAppointmentResponse(ctx, resp) }))
		ids = append(ids, resp.ID)
	}

	latest, err := s.LatestSuggestion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[1], latest.ID)

	all, err := s.ListAppointmentResponses(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[0], all[0].ID)
	assert.True(t, all[1].CreatedAt.After(all[0].CreatedAt))
}

func testOutbox(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedConversation(t, s)

	var staged []*models.OutboxEvent
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			e, err := models.NewOutboxEvent(c.ID, models.TopicMessageNew, uuid.New(), c.BuyerID, 1, map[string]int{"n": i})
			if err != nil {
				return err
			}
			e.CreatedAt = time.Now().UTC()
			if i == 0 {
				e.Notification, err = models.NewNotificationDraft(c.SellerID, "New Message", "hello",
					models.NewMessageData{ConversationID: c.ID, ListingID: c.ListingID, MessageID: e.RecordID, SenderID: c.BuyerID})
				if err != nil {
					return err
				}
			}
			if err := tx.EnqueueEvent(ctx, e); err != nil {
				return err
			}
			staged = append(staged, e)
		}
		return nil
	}))
	assert.Less(t, staged[0].Seq, staged[1].Seq)
	assert.Less(t, staged[1].Seq, staged[2].Seq)

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, staged[0].ID, pending[0].ID)
	require.NotNil(t, pending[0].Notification)
	assert.Equal(t, c.SellerID, pending[0].Notification.UserID)
	assert.Nil(t, pending[1].Notification)

	require.NoError(t, s.MarkDispatched(ctx, staged[0].ID, time.Now()))
	pending, err = s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, staged[1].ID, pending[0].ID)
}

func testNotifications(t *testing.T, s Store) {
	ctx := context.Background()
	user := uuid.New()
	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    user,
		Type:      models.NotificationNewOffer,
		Title:     "New Offer",
		Message:   "Made a cash offer of $15,000.00",
		Data:      models.NewOfferData{ConversationID: uuid.New(), OfferID: uuid.New(), Amount: 15000, OfferType: models.OfferTypeCash},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	created, err := s.CreateNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateNotification(ctx, n)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.ListNotifications(ctx, user, true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.Data, list[0].Data)

	err = s.MarkNotificationRead(ctx, uuid.New(), n.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	require.NoError(t, s.MarkNotificationRead(ctx, user, n.ID))
	count, err := s.UnreadNotificationCount(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err = s.ListNotifications(ctx, user, true, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
