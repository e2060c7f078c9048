package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

const offerColumns = `id, conversation_id, sender_id, listing_id, amount, offer_type, trade_vehicle_details,
	message, status, expires_at, responded_at, created_at, updated_at, version`

func scanOffer(row rowScanner) (*models.Offer, error) {
	o := &models.Offer{}
	err := row.Scan(
		&o.ID,
		&o.ConversationID,
		&o.SenderID,
		&o.ListingID,
		&o.Amount,
		&o.OfferType,
		&o.TradeVehicleDetails,
		&o.Message,
		&o.Status,
		&o.ExpiresAt,
		&o.RespondedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	return o, err
}

func (r *queries) CreateOffer(ctx context.Context, o *models.Offer) error {
	query := `
		INSERT INTO offers (id, conversation_id, sender_id, listing_id, amount, offer_type,
			trade_vehicle_details, message, status, expires_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.q.ExecContext(ctx, query,
		o.ID,
		o.ConversationID,
		o.SenderID,
		o.ListingID,
		o.Amount,
		o.OfferType,
		o.TradeVehicleDetails,
		o.Message,
		o.Status,
		o.ExpiresAt,
		o.CreatedAt,
		o.UpdatedAt,
		o.Version,
	)
	return dbError(err, "Offer", "create")
}

func (r *queries) GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	o, err := scanOffer(r.q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	if err != nil {
		return nil, dbError(err, "Offer", "get")
	}
	return o, nil
}

// GetOfferForUpdate reads the offer and holds its row lock until the transaction ends.
func (r *queries) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	o, err := scanOffer(r.q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, dbError(err, "Offer", "lock")
	}
	return o, nil
}

// UpdateOffer writes the response fields. The version check rejects writes based on a
// stale read.
func (r *queries) UpdateOffer(ctx context.Context, o *models.Offer) error {
	query := `
		UPDATE offers
		SET status = $2, responded_at = $3, updated_at = $4, version = $5
		WHERE id = $1 AND version = $5 - 1
	`

	res, err := r.q.ExecContext(ctx, query, o.ID, o.Status, o.RespondedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return dbError(err, "Offer", "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Offer", "update")
	}
	if n == 0 {
		return errStaleWrite("Offer")
	}
	return nil
}

func (r *queries) ListOffers(ctx context.Context, conversationID uuid.UUID) ([]models.Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, dbError(err, "Offer", "list")
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, dbError(err, "Offer", "scan")
		}
		offers = append(offers, *o)
	}
	return offers, dbError(rows.Err(), "Offer", "list")
}
