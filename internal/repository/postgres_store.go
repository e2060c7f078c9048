package repository

import (
	"context"
	"database/sql"

	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/database"
)

// queries holds the SQL shared by PostgresStore and pgTx.
type queries struct {
	q database.Querier
}

// PostgresStore is the Store backed by Postgres. Row locks come from SELECT ... FOR UPDATE
// inside InTx.
type PostgresStore struct {
	queries
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

type pgTx struct {
	queries
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{queries{q: tx}})
	})
	if err != nil && apperr.KindOf(err) == 0 {
		return apperr.Transport("transaction failed", err)
	}
	return err
}
