package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
)

type OfferType string

const (
	OfferTypeCash      OfferType = "cash"
	OfferTypeFinancing OfferType = "financing"
	OfferTypeTrade     OfferType = "trade"
)

func (t OfferType) Valid() bool {
	switch t {
	case OfferTypeCash, OfferTypeFinancing, OfferTypeTrade:
		return true
	}
	return false
}

type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusDeclined OfferStatus = "declined"
	OfferStatusExpired  OfferStatus = "expired"
)

func (s OfferStatus) Terminal() bool {
	return s == OfferStatusAccepted || s == OfferStatusDeclined || s == OfferStatusExpired
}

// Offer is a price proposal attached to a conversation. Offers in a conversation form an
// unordered set; nothing here enforces a single active offer.
type Offer struct {
	ID                  uuid.UUID   `json:"id" db:"id"`
	ConversationID      uuid.UUID   `json:"conversation_id" db:"conversation_id"`
	SenderID            uuid.UUID   `json:"sender_id" db:"sender_id"`
	ListingID           uuid.UUID   `json:"listing_id" db:"listing_id"`
	Amount              float64     `json:"amount" db:"amount"`
	OfferType           OfferType   `json:"offer_type" db:"offer_type"`
	TradeVehicleDetails *string     `json:"trade_vehicle_details,omitempty" db:"trade_vehicle_details"`
	Message             *string     `json:"message,omitempty" db:"message"`
	Status              OfferStatus `json:"status" db:"status"`
	ExpiresAt           time.Time   `json:"expires_at" db:"expires_at"`
	RespondedAt         *time.Time  `json:"responded_at,omitempty" db:"responded_at"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
	Version             int         `json:"version" db:"version"`
}

// Expired reports whether the advisory expiry has passed.
func (o *Offer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Respond moves a pending offer to accepted or declined. The caller must hold the row lock.
func (o *Offer) Respond(responderID uuid.UUID, status OfferStatus, now time.Time) error {
	if status != OfferStatusAccepted && status != OfferStatusDeclined {
		return apperr.Validation("InvalidOfferStatus", "status must be accepted or declined, got %q", status)
	}
	if responderID == o.SenderID {
		return apperr.Precondition(apperr.CodeOfferNotRespondable, "the sender cannot respond to their own offer")
	}
	if o.Status.Terminal() {
		return apperr.Precondition(apperr.CodeOfferNotRespondable, "offer is already %s", o.Status)
	}
	if o.Expired(now) {
		return apperr.Precondition(apperr.CodeOfferExpired, "offer expired at %s", o.ExpiresAt.Format(time.RFC3339))
	}

	o.Status = status
	o.RespondedAt = &now
	o.UpdatedAt = now
	o.Version++
	return nil
}

// Summary is the system-message text narrating a new offer.
func (o *Offer) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Made a %s offer of %s", o.OfferType, FormatAmount(o.Amount))
	if o.TradeVehicleDetails != nil && *o.TradeVehicleDetails != "" {
		fmt.Fprintf(&b, " with trade-in: %s", *o.TradeVehicleDetails)
	}
	if o.Message != nil && *o.Message != "" {
		fmt.Fprintf(&b, " (%s)", *o.Message)
	}
	return b.String()
}

// FormatAmount renders a currency amount as $15,000.00.
func FormatAmount(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String() + frac
	}
	return "$" + b.String() + frac
}

type MakeOfferRequest struct {
	Amount              float64 `json:"amount" binding:"required"`
	OfferType           string  `json:"offer_type" binding:"required"`
	TradeVehicleDetails *string `json:"trade_vehicle_details,omitempty"`
	Message             *string `json:"message,omitempty"`
}

type RespondOfferRequest struct {
	Status string `json:"status" binding:"required"`
}
