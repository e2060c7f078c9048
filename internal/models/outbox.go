package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox topics. They double as the realtime event names pushed to sockets.
const (
	TopicMessageNew             = "message.new"
	TopicMessageRead            = "message.read"
	TopicOfferNew               = "offer.new"
	TopicOfferUpdated           = "offer.updated"
	TopicAppointmentNew         = "appointment.new"
	TopicAppointmentUpdated     = "appointment.updated"
	TopicAppointmentResponseNew = "appointment_response.new"
)

// OutboxEvent is a side effect staged in the same transaction as the state change that
// caused it. Seq is assigned by the store and gives the drain order.
type OutboxEvent struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	Seq            int64              `json:"seq" db:"seq"`
	ConversationID uuid.UUID          `json:"conversation_id" db:"conversation_id"`
	Topic          string             `json:"topic" db:"topic"`
	RecordID       uuid.UUID          `json:"record_id" db:"record_id"`
	ActorID        uuid.UUID          `json:"actor_id" db:"actor_id"`
	Version        int                `json:"version" db:"version"`
	Record         json.RawMessage    `json:"record" db:"record"`
	Notification   *NotificationDraft `json:"notification,omitempty" db:"notification"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	DispatchedAt   *time.Time         `json:"dispatched_at,omitempty" db:"dispatched_at"`
}

// NewOutboxEvent encodes record as the event body.
func NewOutboxEvent(conversationID uuid.UUID, topic string, recordID, actorID uuid.UUID, version int, record any) (*OutboxEvent, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Topic:          topic,
		RecordID:       recordID,
		ActorID:        actorID,
		Version:        version,
		Record:         raw,
	}, nil
}
