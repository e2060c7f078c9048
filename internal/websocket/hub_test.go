package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/outbox"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/pkg/logger"
	"k8s.io/apimachinery/pkg/util/sets"
)

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestClient(h *Hub, userID uuid.UUID, convs *service.ConversationService) *Client {
	return &Client{
		hub:           h,
		send:          make(chan []byte, 16),
		userID:        userID,
		rooms:         sets.New[uuid.UUID](),
		conversations: convs,
		logger:        logger.NewNop(),
	}
}

func receive(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case b := <-c.send:
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a frame for %s", c.userID)
	}
	return frame{}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSendToUserAndConversation(t *testing.T) {
	h := NewHub(realtime.NewLocalBroker(), nil, nil)

	id1, id2 := uuid.New(), uuid.New()
	c1 := newTestClient(h, id1, nil)
	c2 := newTestClient(h, id2, nil)
	h.add(c1)
	h.add(c2)

	require.NoError(t, h.SendToUser(id1, map[string]string{"hello": "world"}))
	var got map[string]string
	require.NoError(t, json.Unmarshal(<-c1.send, &got))
	assert.Equal(t, "world", got["hello"])

	convID := uuid.New()
	h.Join(c1, convID)
	h.Join(c2, convID)
	assert.True(t, h.Joined(c1, convID))

	require.NoError(t, h.SendToConversation(convID, map[string]string{"ping": "pong"}, c1))
	require.NoError(t, json.Unmarshal(<-c2.send, &got))
	assert.Equal(t, "pong", got["ping"])
	assertSilent(t, c1)

	h.Leave(c2, convID)
	assert.False(t, h.Joined(c2, convID))
	assert.False(t, c2.rooms.Has(convID))
}

func TestHubRemoveClosesSendAndLeavesRooms(t *testing.T) {
	h := NewHub(realtime.NewLocalBroker(), nil, nil)
	userID, convID := uuid.New(), uuid.New()
	first := newTestClient(h, userID, nil)
	second := newTestClient(h, userID, nil)
	h.add(first)
	h.add(second)
	h.Join(first, convID)

	assert.True(t, h.remove(first))
	assert.False(t, h.remove(first))
	_, open := <-first.send
	assert.False(t, open)
	assert.False(t, h.Joined(first, convID))

	assert.True(t, h.IsUserOnline(userID), "second connection keeps the user online")
	assert.Len(t, h.GetOnlineUsers(), 1)
}

func TestHubRoutesBrokerEvents(t *testing.T) {
	broker := realtime.NewLocalBroker()
	defer broker.Close()
	h := NewHub(broker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	convID := uuid.New()
	member := newTestClient(h, uuid.New(), nil)
	outsider := newTestClient(h, uuid.New(), nil)
	require.True(t, h.Register(member))
	require.True(t, h.Register(outsider))
	h.Join(member, convID)

	require.NoError(t, broker.Publish(ctx, realtime.Event{
		Type:           models.TopicMessageNew,
		ConversationID: convID,
		RecordID:       uuid.New(),
		Data:           json.RawMessage(`{"content":"hi"}`),
	}))
	f := receive(t, member)
	assert.Equal(t, models.TopicMessageNew, f.Event)
	assert.JSONEq(t, `{"content":"hi"}`, string(f.Payload))
	assertSilent(t, outsider)

	recipient := outsider.userID
	require.NoError(t, broker.Publish(ctx, realtime.Event{
		Type:           models.EventNotificationNew,
		ConversationID: convID,
		RecordID:       uuid.New(),
		UserID:         &recipient,
		Data:           json.RawMessage(`{"title":"New Message"}`),
	}))
	f = receive(t, outsider)
	assert.Equal(t, models.EventNotificationNew, f.Event)
	assertSilent(t, member)
}

func TestHubStopsCleanly(t *testing.T) {
	h := NewHub(realtime.NewLocalBroker(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := newTestClient(h, uuid.New(), nil)
	require.True(t, h.Register(c))
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.False(t, h.Register(newTestClient(h, uuid.New(), nil)))
	h.Unregister(c)
	_, open := <-c.send
	assert.False(t, open)
}

func TestHubJoinAfterStopIsRefused(t *testing.T) {
	h := NewHub(realtime.NewLocalBroker(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	convID := uuid.New()
	a := newTestClient(h, uuid.New(), nil)
	b := newTestClient(h, uuid.New(), nil)
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))
	require.True(t, h.Join(a, convID))
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Empty(t, a.rooms)
	assert.False(t, h.Join(a, convID))
	assert.False(t, h.Join(b, convID))
	assert.False(t, h.Joined(a, convID))
	assert.NotPanics(t, func() {
		require.NoError(t, h.SendToConversation(convID, map[string]string{"ping": "pong"}, b))
	})
}

type denyAll struct{}

func (denyAll) Allow(context.Context, uuid.UUID, string) bool { return false }

type clientFixture struct {
	ctx        context.Context
	store      *repository.MemoryStore
	broker     *realtime.LocalBroker
	hub        *Hub
	dispatcher *outbox.Dispatcher
	convs      *service.ConversationService
	conv       *models.Conversation
	buyer      *Client
	seller     *Client
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	f := &clientFixture{
		ctx:    context.Background(),
		store:  repository.NewMemoryStore(),
		broker: realtime.NewLocalBroker(),
	}
	t.Cleanup(func() { f.broker.Close() })

	f.hub = NewHub(f.broker, nil, nil)
	f.dispatcher = outbox.NewDispatcher(f.store, f.broker, logger.NewNop(), outbox.Options{})
	f.convs = service.NewConversationService(service.Deps{Store: f.store})

	conv, _, err := f.convs.FindOrCreate(f.ctx, uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)
	f.conv = conv

	f.buyer = newTestClient(f.hub, conv.BuyerID, f.convs)
	f.seller = newTestClient(f.hub, conv.SellerID, f.convs)
	f.hub.add(f.buyer)
	f.hub.add(f.seller)
	return f
}

func (f *clientFixture) command(c *Client, event string, payload any) {
	b, _ := json.Marshal(map[string]any{"event": event, "payload": payload})
	c.handleMessage(f.ctx, b)
}

func TestClientJoinChecksMembership(t *testing.T) {
	f := newClientFixture(t)
	stranger := newTestClient(f.hub, uuid.New(), f.convs)
	f.hub.add(stranger)

	f.command(stranger, models.EventConversationJoin, models.WSConversationPayload{ConversationID: f.conv.ID})
	errFrame := receive(t, stranger)
	assert.Equal(t, models.EventError, errFrame.Event)
	var payload models.WSErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Payload, &payload))
	assert.Equal(t, "NotParticipant", payload.Code)
	assert.False(t, f.hub.Joined(stranger, f.conv.ID))

	f.command(f.buyer, models.EventConversationJoin, models.WSConversationPayload{ConversationID: f.conv.ID})
	assert.True(t, f.hub.Joined(f.buyer, f.conv.ID))

	f.command(f.buyer, models.EventConversationLeave, models.WSConversationPayload{ConversationID: f.conv.ID})
	assert.False(t, f.hub.Joined(f.buyer, f.conv.ID))
}

func TestClientMessageSendReachesRoomThroughOutbox(t *testing.T) {
	f := newClientFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()

	go f.hub.Run(ctx)
	// Register returns once Run is subscribed to the broker.
	require.True(t, f.hub.Register(newTestClient(f.hub, uuid.New(), nil)))
	f.command(f.buyer, models.EventConversationJoin, models.WSConversationPayload{ConversationID: f.conv.ID})
	f.command(f.seller, models.EventConversationJoin, models.WSConversationPayload{ConversationID: f.conv.ID})
	// Join presence: the buyer hears about the seller twice, the seller about the buyer once.
	assert.Equal(t, models.EventPresenceUpdate, receive(t, f.buyer).Event)
	assert.Equal(t, models.EventPresenceUpdate, receive(t, f.buyer).Event)
	assert.Equal(t, models.EventPresenceUpdate, receive(t, f.seller).Event)

	f.command(f.buyer, models.EventMessageSend, models.WSMessageSendPayload{ConversationID: f.conv.ID, Content: "Is it still available?"})
	msgs, err := f.convs.ListMessages(f.ctx, f.conv.ID, f.buyer.userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	n, err := f.dispatcher.Drain(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, c := range []*Client{f.buyer, f.seller} {
		fr := receive(t, c)
		require.Equal(t, models.TopicMessageNew, fr.Event)
		var m models.Message
		require.NoError(t, json.Unmarshal(fr.Payload, &m))
		assert.Equal(t, msgs[0].ID, m.ID)
	}
	notification := receive(t, f.seller)
	assert.Equal(t, models.EventNotificationNew, notification.Event)
	assertSilent(t, f.buyer)
}

type fakeRedis struct {
	typing []uuid.UUID
}

func (fakeRedis) SetUserOnline(context.Context, uuid.UUID) error  { return nil }
func (fakeRedis) SetUserOffline(context.Context, uuid.UUID) error { return nil }

func (fakeRedis) GetUserPresence(_ context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	return &models.UserPresence{UserID: userID, Status: "online"}, nil
}

func (fakeRedis) SetTyping(context.Context, uuid.UUID, uuid.UUID) error    { return nil }
func (fakeRedis) RemoveTyping(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (r fakeRedis) GetTypingUsers(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return r.typing, nil
}

func TestClientJoinReportsPresenceAndTyping(t *testing.T) {
	f := newClientFixture(t)

	// Seller is not connected here; the shared store still knows about them.
	f.hub.remove(f.seller)
	f.hub.presence = fakeRedis{}
	f.buyer.typing = fakeRedis{typing: []uuid.UUID{f.conv.SellerID, f.conv.BuyerID}}

	f.command(f.buyer, models.EventConversationJoin, models.WSConversationPayload{ConversationID: f.conv.ID})

	fr := receive(t, f.buyer)
	require.Equal(t, models.EventPresenceUpdate, fr.Event)
	var p models.UserPresence
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	assert.Equal(t, f.conv.SellerID, p.UserID)
	assert.Equal(t, "online", p.Status)

	fr = receive(t, f.buyer)
	require.Equal(t, models.EventTypingStart, fr.Event)
	var typing models.WSTypingPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &typing))
	assert.Equal(t, f.conv.SellerID, typing.UserID)
	assertSilent(t, f.buyer)
}

func TestHubAnnouncesOfflineToRooms(t *testing.T) {
	f := newClientFixture(t)
	f.hub.Join(f.buyer, f.conv.ID)
	f.hub.Join(f.seller, f.conv.ID)

	f.hub.remove(f.seller)

	fr := receive(t, f.buyer)
	require.Equal(t, models.EventPresenceUpdate, fr.Event)
	var p models.UserPresence
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	assert.Equal(t, f.conv.SellerID, p.UserID)
	assert.Equal(t, "offline", p.Status)
}

func TestClientMessageRead(t *testing.T) {
	f := newClientFixture(t)
	_, err := f.convs.SendMessage(f.ctx, f.conv.ID, f.buyer.userID, "hello")
	require.NoError(t, err)

	f.command(f.seller, models.EventMessageRead, models.WSConversationPayload{ConversationID: f.conv.ID})
	unread, err := f.store.UnreadCount(f.ctx, f.conv.ID, f.seller.userID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestClientTypingRelaysToOthersInRoom(t *testing.T) {
	f := newClientFixture(t)

	// Not joined yet: ignored.
	f.command(f.buyer, models.EventTypingStart, models.WSTypingPayload{ConversationID: f.conv.ID})
	assertSilent(t, f.seller)

	f.hub.Join(f.buyer, f.conv.ID)
	f.hub.Join(f.seller, f.conv.ID)
	f.command(f.buyer, models.EventTypingStart, models.WSTypingPayload{ConversationID: f.conv.ID})

	fr := receive(t, f.seller)
	assert.Equal(t, models.EventTypingStart, fr.Event)
	var p models.WSTypingPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	assert.Equal(t, f.buyer.userID, p.UserID)
	assertSilent(t, f.buyer)

	f.command(f.buyer, models.EventTypingStop, models.WSTypingPayload{ConversationID: f.conv.ID})
	assert.Equal(t, models.EventTypingStop, receive(t, f.seller).Event)
}

func TestClientRejectsBadInput(t *testing.T) {
	f := newClientFixture(t)

	f.buyer.handleMessage(f.ctx, []byte("not json"))
	assert.Equal(t, models.EventError, receive(t, f.buyer).Event)

	f.command(f.buyer, "bogus", nil)
	assert.Equal(t, models.EventError, receive(t, f.buyer).Event)

	f.buyer.limiter = denyAll{}
	f.command(f.buyer, models.EventMessageSend, models.WSMessageSendPayload{ConversationID: f.conv.ID, Content: "spam"})
	fr := receive(t, f.buyer)
	var payload models.WSErrorPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &payload))
	assert.Equal(t, "rate_limited", payload.Code)

	msgs, err := f.convs.ListMessages(f.ctx, f.conv.ID, f.buyer.userID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern, origin string
		want            bool
	}{
		{"https://app.example.com", "https://app.example.com", true},
		{"https://app.example.com", "https://other.example.com", false},
		{"*.example.com", "https://sub.example.com", true},
		{"*.example.com", "https://evilexample.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchOrigin(tt.pattern, tt.origin), "%s vs %s", tt.pattern, tt.origin)
	}
}
