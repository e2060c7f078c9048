package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/internal/session"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10240 // 10KB

	// Time allowed for one inbound command
	commandTimeout = 10 * time.Second

	rateLimitAction = "ws_command"
)

// Limiter decides whether a user may issue another command.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, action string) bool
}

// Typing tracks who is typing in a conversation.
type Typing interface {
	SetTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	GetTypingUsers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// Client represents a WebSocket client
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      uuid.UUID
	displayName string
	connectedAt time.Time

	// Guarded by hub.mu
	rooms sets.Set[uuid.UUID]

	conversations *service.ConversationService
	limiter       Limiter
	typing        Typing
	logger        *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, user models.User, conversations *service.ConversationService, limiter Limiter, typing Typing, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		userID:        user.ID,
		displayName:   user.DisplayName,
		connectedAt:   time.Now(),
		rooms:         sets.New[uuid.UUID](),
		conversations: conversations,
		limiter:       limiter,
		typing:        typing,
		logger:        log.With(zap.String("user_id", user.ID.String())),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		c.handleMessage(ctx, message)
		cancel()
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per event; clients decode each frame as a single JSON object.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var wsMsg struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wsMsg); err != nil {
		c.sendError("Invalid message format", "")
		return
	}

	if c.limiter != nil && !c.limiter.Allow(ctx, c.userID, rateLimitAction) {
		c.sendError("Too many requests", "rate_limited")
		return
	}

	switch wsMsg.Event {
	case models.EventConversationJoin:
		c.handleJoin(ctx, wsMsg.Payload)

	case models.EventConversationLeave:
		c.handleLeave(wsMsg.Payload)

	case models.EventMessageSend:
		c.handleMessageSend(ctx, wsMsg.Payload)

	case models.EventMessageRead:
		c.handleMessageRead(ctx, wsMsg.Payload)

	case models.EventTypingStart:
		c.handleTyping(ctx, wsMsg.Payload, true)

	case models.EventTypingStop:
		c.handleTyping(ctx, wsMsg.Payload, false)

	default:
		c.sendError("Unknown event type", "")
	}
}

// handleJoin subscribes the socket to a conversation the user takes part in. The joiner
// learns the counterpart's presence and who is typing; the room learns the joiner is online.
func (c *Client) handleJoin(ctx context.Context, payload json.RawMessage) {
	var req models.WSConversationPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid join payload", "")
		return
	}

	conv, err := c.conversations.Get(ctx, req.ConversationID, c.userID)
	if err != nil {
		c.sendServiceError(err)
		return
	}
	if !c.hub.Join(c, conv.ID) {
		return
	}

	counterpart := conv.BuyerID
	if counterpart == c.userID {
		counterpart = conv.SellerID
	}
	c.sendEvent(models.EventPresenceUpdate, c.hub.Presence(ctx, counterpart))
	c.hub.SendToConversation(conv.ID, models.WSMessage{
		Event:   models.EventPresenceUpdate,
		Payload: models.UserPresence{UserID: c.userID, Status: "online", LastSeen: time.Now()},
	}, c)

	if c.typing == nil {
		return
	}
	typing, err := c.typing.GetTypingUsers(ctx, conv.ID)
	if err != nil {
		c.logger.Warn("failed to read typing state", zap.Error(err))
		return
	}
	for _, userID := range typing {
		if userID != c.userID {
			c.sendEvent(models.EventTypingStart, models.WSTypingPayload{ConversationID: conv.ID, UserID: userID})
		}
	}
}

func (c *Client) handleLeave(payload json.RawMessage) {
	var req models.WSConversationPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid leave payload", "")
		return
	}
	c.hub.Leave(c, req.ConversationID)
}

// handleMessageSend appends a text message. The committed message reaches the room
// through the outbox, this socket included.
func (c *Client) handleMessageSend(ctx context.Context, payload json.RawMessage) {
	var req models.WSMessageSendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid message payload", "")
		return
	}

	if _, err := c.conversations.SendMessage(ctx, req.ConversationID, c.userID, req.Content); err != nil {
		c.sendServiceError(err)
	}
}

// handleMessageRead marks the counterpart's messages read
func (c *Client) handleMessageRead(ctx context.Context, payload json.RawMessage) {
	var req models.WSConversationPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid read payload", "")
		return
	}

	if _, err := c.conversations.MarkRead(ctx, req.ConversationID, c.userID); err != nil {
		c.sendServiceError(err)
	}
}

// handleTyping relays a typing indicator to the rest of the room. Only joined sockets may
// send one.
func (c *Client) handleTyping(ctx context.Context, payload json.RawMessage, typing bool) {
	var req models.WSTypingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid typing payload", "")
		return
	}
	if !c.hub.Joined(c, req.ConversationID) {
		return
	}

	event := models.EventTypingStop
	if c.typing != nil {
		var err error
		if typing {
			err = c.typing.SetTyping(ctx, req.ConversationID, c.userID)
		} else {
			err = c.typing.RemoveTyping(ctx, req.ConversationID, c.userID)
		}
		if err != nil {
			c.logger.Warn("failed to update typing state", zap.Error(err))
		}
	}
	if typing {
		event = models.EventTypingStart
	}

	c.hub.SendToConversation(req.ConversationID, models.WSMessage{
		Event: event,
		Payload: models.WSTypingPayload{
			ConversationID: req.ConversationID,
			UserID:         c.userID,
		},
	}, c)
}

func (c *Client) sendServiceError(err error) {
	c.logger.Debug("websocket command failed", zap.Error(err))
	c.sendError(session.UserMessage(err), apperr.CodeOf(err))
}

func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(models.WSMessage{Event: event, Payload: payload})
	if err != nil {
		return
	}
	c.hub.sendToClient(c, data)
}

// sendError sends an error message to the client
func (c *Client) sendError(message, code string) {
	errorMsg := models.WSMessage{
		Event: models.EventError,
		Payload: models.WSErrorPayload{
			Message: message,
			Code:    code,
		},
	}

	c.sendEvent(errorMsg.Event, errorMsg.Payload)
}
