// Package catalog adapts the externally owned listing catalog. The chat service only reads
// it.
package catalog

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/database"
	"github.com/tullo/bazaar/internal/models"
)

// Postgres reads listing summaries from the listings table owned by the catalog service.
type Postgres struct {
	db database.Querier
}

func NewPostgres(db database.Querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetListingSummary(ctx context.Context, listingID uuid.UUID) (*models.ListingSummary, error) {
	query := `
		SELECT id, title, price, COALESCE(cover_image_url, '')
		FROM listings
		WHERE id = $1
	`

	var l models.ListingSummary
	err := p.db.QueryRowContext(ctx, query, listingID).Scan(&l.ID, &l.Title, &l.Price, &l.CoverImageURL)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Listing")
	}
	if err != nil {
		return nil, apperr.Transport("failed to get listing", errors.Wrapf(err, "listing %s", listingID))
	}
	return &l, nil
}
