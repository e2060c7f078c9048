package repository

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/database"
	"github.com/tullo/bazaar/pkg/logger"
)

// TestPostgresStore runs the store contract against a live database when
// BAZAAR_TEST_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("BAZAAR_TEST_DSN")
	if dsn == "" {
		t.Skip("BAZAAR_TEST_DSN not set")
	}

	db, err := database.NewPostgresDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db.DB, logger.NewNop()))

	runStoreContract(t, func(t *testing.T) Store {
		_, err := db.Exec(`TRUNCATE outbox_events, notifications, appointment_responses, appointments, offers, messages, conversations`)
		require.NoError(t, err)
		return NewPostgresStore(db)
	})
}
