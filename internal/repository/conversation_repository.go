package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

const conversationColumns = `id, buyer_id, seller_id, listing_id, created_at, updated_at, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.BuyerID,
		&c.SellerID,
		&c.ListingID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.LastMessageAt,
	)
	return c, err
}

// CreateConversation inserts c unless the triple already exists.
func (r *queries) CreateConversation(ctx context.Context, c *models.Conversation) (bool, error) {
	query := `
		INSERT INTO conversations (id, buyer_id, seller_id, listing_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (buyer_id, seller_id, listing_id) DO NOTHING
	`

	res, err := r.q.ExecContext(ctx, query,
		c.ID,
		c.BuyerID,
		c.SellerID,
		c.ListingID,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return false, dbError(err, "Conversation", "create")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "Conversation", "create")
	}
	return n == 1, nil
}

// GetConversation retrieves a conversation by ID
func (r *queries) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	c, err := scanConversation(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbError(err, "Conversation", "get")
	}
	return c, nil
}

// FindConversation looks a conversation up by its identity triple.
func (r *queries) FindConversation(ctx context.Context, buyerID, sellerID, listingID uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE buyer_id = $1 AND seller_id = $2 AND listing_id = $3
	`

	c, err := scanConversation(r.q.QueryRowContext(ctx, query, buyerID, sellerID, listingID))
	if err != nil {
		return nil, dbError(err, "Conversation", "find")
	}
	return c, nil
}

// ListConversations retrieves all conversations for a user, most recently active first.
func (r *queries) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC, id
	`

	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, dbError(err, "Conversation", "list")
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, dbError(err, "Conversation", "scan")
		}
		conversations = append(conversations, *c)
	}
	return conversations, dbError(rows.Err(), "Conversation", "list")
}
