package models

import (
	"time"

	"github.com/google/uuid"
)

// WebSocket event types. Server pushes reuse the outbox topics.
const (
	EventConversationJoin  = "conversation.join"
	EventConversationLeave = "conversation.leave"
	EventMessageSend       = "message.send"
	EventMessageRead       = "message.read"
	EventTypingStart       = "typing.start"
	EventTypingStop        = "typing.stop"
	EventPresenceUpdate    = "presence.update"
	EventNotificationNew   = "notification.new"
	EventError             = "error"
)

type WSMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type WSConversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type WSMessageSendPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
}

type WSMessageReadPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ReaderID       uuid.UUID `json:"reader_id"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

type WSTypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id,omitempty"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
