package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

type MakeOfferInput struct {
	Amount       float64
	OfferType    models.OfferType
	TradeDetails *string
	Message      *string
}

func (in MakeOfferInput) validate() error {
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return apperr.Validation("InvalidAmount", "amount must be a finite number")
	}
	if in.Amount <= 0 {
		return apperr.Validation("InvalidAmount", "amount must be greater than zero")
	}
	if !in.OfferType.Valid() {
		return apperr.Validation("InvalidOfferType", "unknown offer type %q", in.OfferType)
	}
	if in.OfferType == models.OfferTypeTrade && (in.TradeDetails == nil || strings.TrimSpace(*in.TradeDetails) == "") {
		return apperr.Validation("MissingTradeDetails", "trade offers must describe the trade-in vehicle")
	}
	return nil
}

// OfferService is the offer negotiation engine. Offers in a conversation form an unordered
// set: several may be pending at once, and accepting one leaves the others untouched.
type OfferService struct {
	engine
	expiry time.Duration
}

func NewOfferService(d Deps) *OfferService {
	expiry := d.OfferExpiry
	if expiry <= 0 {
		expiry = defaultOfferExpiry
	}
	return &OfferService{engine: newEngine(d), expiry: expiry}
}

// MakeOffer records a pending offer, narrates it and notifies the counterpart.
func (s *OfferService) MakeOffer(ctx context.Context, conversationID, senderID uuid.UUID, in MakeOfferInput) (*models.Offer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	current, err := conversationFor(ctx, s.store, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	listingTitle := s.listingTitle(ctx, current.ListingID)

	var offer *models.Offer
	err = s.commit(ctx, func(tx repository.Tx) error {
		conv, err := conversationFor(ctx, tx, conversationID, senderID)
		if err != nil {
			return err
		}
		recipient, _ := conv.Counterpart(senderID)

		now := s.now()
		offer = &models.Offer{
			ID:                  uuid.New(),
			ConversationID:      conv.ID,
			SenderID:            senderID,
			ListingID:           conv.ListingID,
			Amount:              in.Amount,
			OfferType:           in.OfferType,
			TradeVehicleDetails: in.TradeDetails,
			Message:             in.Message,
			Status:              models.OfferStatusPending,
			ExpiresAt:           now.Add(s.expiry),
			CreatedAt:           now,
			UpdatedAt:           now,
			Version:             1,
		}
		if err := tx.CreateOffer(ctx, offer); err != nil {
			return err
		}
		if _, err := appendSystemMessage(ctx, tx, conv, senderID, offer.Summary(), now); err != nil {
			return err
		}

		draft, err := models.NewNotificationDraft(recipient, "New Offer",
			withListing(offer.Summary(), listingTitle),
			models.NewOfferData{
				ConversationID: conv.ID,
				ListingID:      conv.ListingID,
				OfferID:        offer.ID,
				Amount:         offer.Amount,
				OfferType:      offer.OfferType,
			})
		if err != nil {
			return err
		}
		return stage(ctx, tx, conv, models.TopicOfferNew, offer.ID, senderID, offer.Version, offer, draft, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.OfferTransitionsTotal.WithLabelValues(string(models.OfferStatusPending)).Inc()
	s.logger.Info("offer made",
		zap.String("conversation_id", conversationID.String()),
		zap.String("offer_id", offer.ID.String()))
	return offer, nil
}

// RespondToOffer accepts or declines a pending offer under its row lock. Concurrent
// responders are serialized; the loser sees OfferNotRespondable.
func (s *OfferService) RespondToOffer(ctx context.Context, offerID, responderID uuid.UUID, status models.OfferStatus) (*models.Offer, error) {
	if status != models.OfferStatusAccepted && status != models.OfferStatusDeclined {
		return nil, apperr.Validation("InvalidOfferStatus", "status must be accepted or declined, got %q", status)
	}

	var offer *models.Offer
	err := s.commit(ctx, func(tx repository.Tx) error {
		var err error
		offer, err = tx.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		conv, err := conversationFor(ctx, tx, offer.ConversationID, responderID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := offer.Respond(responderID, status, now); err != nil {
			return err
		}
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}

		title := "Offer Declined"
		text := "Offer declined"
		if status == models.OfferStatusAccepted {
			title = "Offer Accepted"
			text = "Offer accepted"
		}
		if _, err := appendSystemMessage(ctx, tx, conv, responderID, text, now); err != nil {
			return err
		}

		draft, err := models.NewNotificationDraft(offer.SenderID, title,
			"Your offer of "+models.FormatAmount(offer.Amount)+" was "+string(status),
			models.OfferResponseData{
				ConversationID: conv.ID,
				ListingID:      conv.ListingID,
				OfferID:        offer.ID,
				Status:         offer.Status,
			})
		if err != nil {
			return err
		}
		return stage(ctx, tx, conv, models.TopicOfferUpdated, offer.ID, responderID, offer.Version, offer, draft, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.OfferTransitionsTotal.WithLabelValues(string(offer.Status)).Inc()
	return offer, nil
}

func (s *OfferService) GetOffer(ctx context.Context, offerID, userID uuid.UUID) (*models.Offer, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if _, err := conversationFor(ctx, s.store, offer.ConversationID, userID); err != nil {
		return nil, err
	}
	return offer, nil
}

// ListOffers returns every offer in the conversation by creation time.
func (s *OfferService) ListOffers(ctx context.Context, conversationID, userID uuid.UUID) ([]models.Offer, error) {
	if _, err := conversationFor(ctx, s.store, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListOffers(ctx, conversationID)
}

// PendingOffers returns the offers still open to a response, expired ones excluded.
func (s *OfferService) PendingOffers(ctx context.Context, conversationID, userID uuid.UUID) ([]models.Offer, error) {
	all, err := s.ListOffers(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	pending := []models.Offer{}
	for _, o := range all {
		if o.Status == models.OfferStatusPending && !o.Expired(now) {
			pending = append(pending, o)
		}
	}
	return pending, nil
}
