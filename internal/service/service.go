// Package service holds the conversation, offer negotiation and appointment scheduling
// engines. Every state change commits its record, the system message narrating it and the
// outbox events for fan-out in one transaction.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/logger"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

// ListingCatalog serves read-only listing summaries.
type ListingCatalog interface {
	GetListingSummary(ctx context.Context, listingID uuid.UUID) (*models.ListingSummary, error)
}

// MediaStore stores conversation photos and returns their public URL.
type MediaStore interface {
	UploadConversationPhoto(ctx context.Context, conversationID uuid.UUID, contentType string, data []byte) (string, error)
}

// Waker is told after every commit that staged events are waiting.
type Waker interface {
	Wake()
}

// Deps are the collaborators shared by the engines. Catalog, Media and Waker are optional.
type Deps struct {
	Store   repository.Store
	Catalog ListingCatalog
	Media   MediaStore
	Waker   Waker
	Logger  *logger.Logger
	Now     func() time.Time
	// OfferExpiry is the advisory horizon stamped on new offers.
	OfferExpiry time.Duration
}

const (
	defaultOfferExpiry = 7 * 24 * time.Hour
	// scheduleSkew tolerates client clocks slightly behind the server.
	scheduleSkew = time.Minute
)

type engine struct {
	store   repository.Store
	catalog ListingCatalog
	media   MediaStore
	waker   Waker
	logger  *logger.Logger
	clock   func() time.Time
}

func newEngine(d Deps) engine {
	e := engine{
		store:   d.Store,
		catalog: d.Catalog,
		media:   d.Media,
		waker:   d.Waker,
		logger:  d.Logger,
		clock:   d.Now,
	}
	if e.logger == nil {
		e.logger = logger.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

func (e *engine) now() time.Time {
	return e.clock().UTC()
}

// commit runs fn in a transaction and wakes the dispatcher once it is durable.
func (e *engine) commit(ctx context.Context, fn func(tx repository.Tx) error) error {
	err := e.store.InTx(ctx, fn)
	if err != nil {
		if apperr.IsKind(err, apperr.KindPrecondition) {
			metrics.PreconditionFailuresTotal.WithLabelValues(apperr.CodeOf(err)).Inc()
		}
		return err
	}
	if e.waker != nil {
		e.waker.Wake()
	}
	return nil
}

// conversationFor loads a conversation and checks userID takes part in it.
func conversationFor(ctx context.Context, r repository.Reader, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.ErrNotParticipant
	}
	return conv, nil
}

// listing returns the catalog summary, or nil when the catalog is absent or failing.
func (e *engine) listing(ctx context.Context, listingID uuid.UUID) *models.ListingSummary {
	if e.catalog == nil {
		return nil
	}
	summary, err := e.catalog.GetListingSummary(ctx, listingID)
	if err != nil {
		e.logger.Warn("listing lookup failed", zap.String("listing_id", listingID.String()), zap.Error(err))
		return nil
	}
	return summary
}

func (e *engine) listingTitle(ctx context.Context, listingID uuid.UUID) string {
	if l := e.listing(ctx, listingID); l != nil {
		return l.Title
	}
	return ""
}

// stage enqueues one outbox event. draft may be nil.
func stage(ctx context.Context, tx repository.Tx, conv *models.Conversation, topic string, recordID, actorID uuid.UUID, version int, record any, draft *models.NotificationDraft, now time.Time) error {
	ev, err := models.NewOutboxEvent(conv.ID, topic, recordID, actorID, version, record)
	if err != nil {
		return err
	}
	ev.Notification = draft
	ev.CreatedAt = now
	return tx.EnqueueEvent(ctx, ev)
}

// appendSystemMessage narrates a state change in the timeline and stages its fan-out.
// System messages never carry a notification of their own.
func appendSystemMessage(ctx context.Context, tx repository.Tx, conv *models.Conversation, actorID uuid.UUID, text string, now time.Time) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       actorID,
		Content:        text,
		Kind:           models.MessageKindSystem,
		CreatedAt:      now,
	}
	if err := tx.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := stage(ctx, tx, conv, models.TopicMessageNew, msg.ID, actorID, 1, msg, nil, now); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(models.MessageKindSystem)).Inc()
	return msg, nil
}

func withListing(text, listingTitle string) string {
	if listingTitle == "" {
		return text
	}
	return text + " on " + listingTitle
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
