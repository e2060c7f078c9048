// Package repository is the event log store: the single source of truth for conversations
// and everything they own, plus the outbox and the notifications it produces.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
)

// Reader holds the queries available both inside and outside a transaction. Lists are
// returned in creation order.
type Reader interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindConversation(ctx context.Context, buyerID, sellerID, listingID uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)

	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, error)
	LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)

	GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	ListOffers(ctx context.Context, conversationID uuid.UUID) ([]models.Offer, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	ListAppointments(ctx context.Context, conversationID uuid.UUID) ([]models.Appointment, error)
	GetAppointmentResponse(ctx context.Context, id uuid.UUID) (*models.AppointmentResponse, error)
	ListAppointmentResponses(ctx context.Context, appointmentID uuid.UUID) ([]models.AppointmentResponse, error)
	// LatestSuggestion returns nil, nil when the appointment has no suggestion rows.
	LatestSuggestion(ctx context.Context, appointmentID uuid.UUID) (*models.AppointmentResponse, error)

	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (int, error)
}

// Tx is a unit of work. Nothing written through it is visible to other readers until the
// surrounding InTx returns nil.
type Tx interface {
	Reader

	// CreateConversation reports false when the (buyer, seller, listing) triple already exists.
	CreateConversation(ctx context.Context, c *models.Conversation) (bool, error)

	// AppendMessage may move m.CreatedAt forward so it is strictly after the previous
	// message in the conversation.
	AppendMessage(ctx context.Context, m *models.Message) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID, at time.Time) (int64, error)

	CreateOffer(ctx context.Context, o *models.Offer) error
	GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	UpdateOffer(ctx context.Context, o *models.Offer) error

	CreateAppointment(ctx context.Context, a *models.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	UpdateAppointment(ctx context.Context, a *models.Appointment) error
	CreateAppointmentResponse(ctx context.Context, r *models.AppointmentResponse) error

	EnqueueEvent(ctx context.Context, e *models.OutboxEvent) error
}

// Store is the durable store.
type Store interface {
	Reader

	InTx(ctx context.Context, fn func(tx Tx) error) error

	PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkDispatched(ctx context.Context, eventID uuid.UUID, at time.Time) error

	// CreateNotification is idempotent on n.ID and reports whether a row was inserted.
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// nextCreatedAt returns the creation time for a row appended after last. Postgres
// stores microseconds, so both stores truncate to that precision.
func nextCreatedAt(want time.Time, last *time.Time) time.Time {
	t := want.UTC().Truncate(time.Microsecond)
	if last != nil && !t.After(*last) {
		t = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}

// dbError classifies a driver error. entity names the record for NotFound.
func dbError(err error, entity, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	return apperr.Transport(action, errors.Wrapf(err, "%s %s", action, entity))
}

// errStaleWrite reports an update whose expected version no longer matches the row.
func errStaleWrite(entity string) error {
	return apperr.Precondition(entity+"Stale", "%s changed since it was read", entity)
}
