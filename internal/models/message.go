package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindPhoto  MessageKind = "photo"
	MessageKindSystem MessageKind = "system"
)

type Message struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ConversationID uuid.UUID   `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id" db:"sender_id"`
	Content        string      `json:"content" db:"content"`
	Kind           MessageKind `json:"kind" db:"kind"`
	PhotoURL       *string     `json:"photo_url,omitempty" db:"photo_url"`
	PhotoCaption   *string     `json:"photo_caption,omitempty" db:"photo_caption"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	ReadAt         *time.Time  `json:"read_at,omitempty" db:"read_at"`
}

// Before orders messages by (created_at, id), the timeline order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required,max=5000"`
}

type GetMessagesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

