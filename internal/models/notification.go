package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationNewMessage          NotificationType = "new_message"
	NotificationNewOffer            NotificationType = "new_offer"
	NotificationOfferResponse       NotificationType = "offer_response"
	NotificationNewAppointment      NotificationType = "new_appointment"
	NotificationAppointmentResponse NotificationType = "appointment_response"
)

// NotificationData is the deep-link payload of a notification. Each notification type has
// exactly one variant.
type NotificationData interface {
	NotificationType() NotificationType
}

type NewMessageData struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ListingID      uuid.UUID `json:"listing_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       uuid.UUID `json:"sender_id"`
}

func (NewMessageData) NotificationType() NotificationType { return NotificationNewMessage }

type NewOfferData struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ListingID      uuid.UUID `json:"listing_id"`
	OfferID        uuid.UUID `json:"offer_id"`
	Amount         float64   `json:"amount"`
	OfferType      OfferType `json:"offer_type"`
}

func (NewOfferData) NotificationType() NotificationType { return NotificationNewOffer }

type OfferResponseData struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ListingID      uuid.UUID   `json:"listing_id"`
	OfferID        uuid.UUID   `json:"offer_id"`
	Status         OfferStatus `json:"status"`
}

func (OfferResponseData) NotificationType() NotificationType { return NotificationOfferResponse }

type NewAppointmentData struct {
	ConversationID  uuid.UUID `json:"conversation_id"`
	ListingID       uuid.UUID `json:"listing_id"`
	AppointmentID   uuid.UUID `json:"appointment_id"`
	AppointmentDate time.Time `json:"appointment_date"`
}

func (NewAppointmentData) NotificationType() NotificationType { return NotificationNewAppointment }

type AppointmentResponseData struct {
	ConversationID uuid.UUID         `json:"conversation_id"`
	ListingID      uuid.UUID         `json:"listing_id"`
	AppointmentID  uuid.UUID         `json:"appointment_id"`
	ResponseID     *uuid.UUID        `json:"response_id,omitempty"`
	Status         AppointmentStatus `json:"status"`
}

func (AppointmentResponseData) NotificationType() NotificationType {
	return NotificationAppointmentResponse
}

// DecodeNotificationData parses raw into the variant registered for t. Variants are
// returned by value.
func DecodeNotificationData(t NotificationType, raw []byte) (NotificationData, error) {
	switch t {
	case NotificationNewMessage:
		return decodeData[NewMessageData](t, raw)
	case NotificationNewOffer:
		return decodeData[NewOfferData](t, raw)
	case NotificationOfferResponse:
		return decodeData[OfferResponseData](t, raw)
	case NotificationNewAppointment:
		return decodeData[NewAppointmentData](t, raw)
	case NotificationAppointmentResponse:
		return decodeData[AppointmentResponseData](t, raw)
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
}

func decodeData[T NotificationData](t NotificationType, raw []byte) (NotificationData, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s data: %w", t, err)
		}
	}
	return v, nil
}

// Notification is one addressed, durable fact for exactly one recipient.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Data      NotificationData `json:"data" db:"data"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	type alias Notification
	aux := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	data, err := DecodeNotificationData(n.Type, aux.Data)
	if err != nil {
		return err
	}
	n.Data = data
	return nil
}

// NotificationDraft is a notification staged in the outbox before it has an id.
type NotificationDraft struct {
	UserID  uuid.UUID        `json:"user_id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

// NewNotificationDraft encodes data and takes the type from it.
func NewNotificationDraft(userID uuid.UUID, title, message string, data NotificationData) (*NotificationDraft, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &NotificationDraft{
		UserID:  userID,
		Type:    data.NotificationType(),
		Title:   title,
		Message: message,
		Data:    raw,
	}, nil
}

// Materialize turns the draft into the notification persisted for event id.
func (d *NotificationDraft) Materialize(id uuid.UUID, createdAt time.Time) (*Notification, error) {
	data, err := DecodeNotificationData(d.Type, d.Data)
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:        id,
		UserID:    d.UserID,
		Type:      d.Type,
		Title:     d.Title,
		Message:   d.Message,
		Data:      data,
		CreatedAt: createdAt,
	}, nil
}

type ListNotificationsRequest struct {
	UnreadOnly bool `form:"unread_only"`
	Limit      int  `form:"limit"`
}
