package websocket

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

// Presence records who is connected. The Redis client in the cache package implements it.
type Presence interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	GetUserPresence(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error)
}

// Hub maintains the set of active clients and routes realtime events to them
type Hub struct {
	// Connected clients by user. A user may hold several connections.
	clients map[uuid.UUID]map[*Client]struct{}

	// Clients that joined a conversation
	rooms map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	broker   realtime.Broker
	presence Presence
	logger   *logger.Logger

	mu sync.RWMutex
}

// NewHub creates a new Hub. presence may be nil.
func NewHub(broker realtime.Broker, presence Presence, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		broker:     broker,
		presence:   presence,
		logger:     log.With(zap.String("component", "websocket_hub")),
	}
}

// Run subscribes to every conversation and serves until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	sub, err := h.broker.SubscribeAll(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.add(client)
			metrics.IncrementWebSocketConnections()
			h.setPresence(ctx, client.userID, true)
			h.logger.Info("client registered", zap.String("user_id", client.userID.String()))

		case client := <-h.unregister:
			if h.remove(client) {
				metrics.DecrementWebSocketConnections()
				if !h.IsUserOnline(client.userID) {
					h.setPresence(ctx, client.userID, false)
				}
				h.logger.Info("client unregistered", zap.String("user_id", client.userID.String()))
			}

		case ev, ok := <-sub.C:
			if !ok {
				h.closeAll()
				return nil
			}
			h.dispatch(ev)
		}
	}
}

// Register hands c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c. It is safe to call after the hub has stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// remove drops c from the hub and its rooms and closes its send channel. It reports
// whether c was registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	for convID := range c.rooms {
		h.leaveLocked(c, convID)
		if len(set) == 0 {
			h.announceLocked(convID, models.UserPresence{UserID: c.userID, Status: "offline", LastSeen: time.Now()})
		}
	}
	close(c.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
			clear(c.rooms)
			metrics.DecrementWebSocketConnections()
		}
		delete(h.clients, userID)
	}
	h.rooms = make(map[uuid.UUID]map[*Client]struct{})
}

func (h *Hub) setPresence(ctx context.Context, userID uuid.UUID, online bool) {
	if h.presence == nil {
		return
	}
	var err error
	if online {
		err = h.presence.SetUserOnline(ctx, userID)
	} else {
		err = h.presence.SetUserOffline(ctx, userID)
	}
	if err != nil {
		h.logger.Warn("failed to update presence", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Join adds c to the conversation's room. Membership is checked by the caller.
// Join adds c to a conversation's room. It reports false once c has been removed, so a
// command still in flight after shutdown cannot put a closed socket back in a room.
func (h *Hub) Join(c *Client, conversationID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return false
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms.Insert(conversationID)
	return true
}

func (h *Hub) Leave(c *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, conversationID)
}

func (h *Hub) leaveLocked(c *Client, conversationID uuid.UUID) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	c.rooms.Delete(conversationID)
}

// announceLocked sends a presence update to a room. Callers hold mu.
func (h *Hub) announceLocked(conversationID uuid.UUID, p models.UserPresence) {
	data, err := json.Marshal(models.WSMessage{Event: models.EventPresenceUpdate, Payload: p})
	if err != nil {
		return
	}
	for other := range h.rooms[conversationID] {
		if other.userID != p.UserID {
			h.trySend(other, data)
		}
	}
}

// Joined reports whether c is in the conversation's room.
func (h *Hub) Joined(c *Client, conversationID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c]
	return ok
}

// dispatch sends a committed event to the sockets it concerns. Notifications go to their
// recipient; everything else goes to the conversation's room.
func (h *Hub) dispatch(ev realtime.Event) {
	frame, err := json.Marshal(models.WSMessage{Event: ev.Type, Payload: ev.Data})
	if err != nil {
		h.logger.Warn("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	if ev.UserID != nil {
		h.sendRawToUser(*ev.UserID, frame)
		return
	}
	h.sendRawToRoom(ev.ConversationID, frame, nil)
}

// SendToUser sends a message to every connection of a user
func (h *Hub) SendToUser(userID uuid.UUID, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.sendRawToUser(userID, data)
	return nil
}

// SendToConversation sends a message to every client in the conversation's room except
// the one given.
func (h *Hub) SendToConversation(conversationID uuid.UUID, message interface{}, except *Client) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.sendRawToRoom(conversationID, data, except)
	return nil
}

func (h *Hub) sendRawToUser(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		h.trySend(c, data)
	}
}

func (h *Hub) sendRawToRoom(conversationID uuid.UUID, data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[conversationID] {
		if c != except {
			h.trySend(c, data)
		}
	}
}

// sendToClient writes to c if it is still registered.
func (h *Hub) sendToClient(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.userID][c]; ok {
		h.trySend(c, data)
	}
}

// trySend skips a client whose send buffer is full. Callers hold mu.
func (h *Hub) trySend(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping frame for slow client", zap.String("user_id", c.userID.String()))
	}
}

// Presence reports whether userID is connected here or, with a shared presence store, on
// any instance.
func (h *Hub) Presence(ctx context.Context, userID uuid.UUID) models.UserPresence {
	if h.IsUserOnline(userID) {
		return models.UserPresence{UserID: userID, Status: "online", LastSeen: time.Now()}
	}
	if h.presence != nil {
		p, err := h.presence.GetUserPresence(ctx, userID)
		if err == nil {
			return *p
		}
		h.logger.Warn("failed to read presence", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return models.UserPresence{UserID: userID, Status: "offline"}
}

// GetOnlineUsers returns the list of online user IDs
func (h *Hub) GetOnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]uuid.UUID, 0, len(h.clients))
	for userID := range h.clients {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}

// IsUserOnline checks if a user is online
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID]) > 0
}
