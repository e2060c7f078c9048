package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the two-party thread between a buyer and a seller about one listing.
type Conversation struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	BuyerID       uuid.UUID       `json:"buyer_id" db:"buyer_id"`
	SellerID      uuid.UUID       `json:"seller_id" db:"seller_id"`
	ListingID     uuid.UUID       `json:"listing_id" db:"listing_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty" db:"last_message_at"`
	Listing       *ListingSummary `json:"listing,omitempty"`
	LastMessage   *Message        `json:"last_message,omitempty"`
	UnreadCount   int             `json:"unread_count"`
}

// HasParticipant reports whether userID is the buyer or the seller.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return userID == c.BuyerID || userID == c.SellerID
}

// Counterpart returns the other participant. ok is false when userID is not a participant.
func (c *Conversation) Counterpart(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.BuyerID:
		return c.SellerID, true
	case c.SellerID:
		return c.BuyerID, true
	default:
		return uuid.Nil, false
	}
}

// ListingSummary is the read-only projection served by the listing catalog.
type ListingSummary struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Price         float64   `json:"price"`
	CoverImageURL string    `json:"cover_image_url,omitempty"`
}

type StartConversationRequest struct {
	ListingID uuid.UUID `json:"listing_id" binding:"required"`
	SellerID  uuid.UUID `json:"seller_id" binding:"required"`
}
