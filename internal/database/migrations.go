package database

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations contains all database migrations. The listings table belongs to the catalog
// service and is not created here.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "conversations",
		Up: `
			CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				buyer_id UUID NOT NULL,
				seller_id UUID NOT NULL,
				listing_id UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_message_at TIMESTAMPTZ,
				CONSTRAINT conversations_distinct_participants CHECK (buyer_id <> seller_id),
				UNIQUE(buyer_id, seller_id, listing_id)
			);

			CREATE INDEX IF NOT EXISTS idx_conversations_buyer ON conversations(buyer_id);
			CREATE INDEX IF NOT EXISTS idx_conversations_seller ON conversations(seller_id);
		`,
		Down: `
			DROP TABLE IF EXISTS conversations;
		`,
	},
	{
		Version: 2,
		Name:    "messages",
		Up: `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				kind VARCHAR(16) NOT NULL CHECK (kind IN ('text', 'photo', 'system')),
				photo_url TEXT,
				photo_caption TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				read_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_messages_timeline ON messages(conversation_id, created_at, id);
			CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id) WHERE read_at IS NULL;
		`,
		Down: `
			DROP TABLE IF EXISTS messages;
		`,
	},
	{
		Version: 3,
		Name:    "offers",
		Up: `
			CREATE TABLE IF NOT EXISTS offers (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL,
				listing_id UUID NOT NULL,
				amount NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
				offer_type VARCHAR(16) NOT NULL CHECK (offer_type IN ('cash', 'financing', 'trade')),
				trade_vehicle_details TEXT,
				message TEXT,
				status VARCHAR(16) NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending', 'accepted', 'declined', 'expired')),
				expires_at TIMESTAMPTZ NOT NULL,
				responded_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				version INT NOT NULL DEFAULT 1
			);

			CREATE INDEX IF NOT EXISTS idx_offers_conversation ON offers(conversation_id, created_at);
		`,
		Down: `
			DROP TABLE IF EXISTS offers;
		`,
	},
	{
		Version: 4,
		Name:    "appointments",
		Up: `
			CREATE TABLE IF NOT EXISTS appointments (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				listing_id UUID NOT NULL,
				scheduled_by UUID NOT NULL,
				scheduled_with UUID NOT NULL,
				appointment_date TIMESTAMPTZ NOT NULL,
				location TEXT,
				notes TEXT,
				status VARCHAR(16) NOT NULL DEFAULT 'scheduled'
					CHECK (status IN ('scheduled', 'confirmed', 'declined', 'rescheduled')),
				response_status VARCHAR(16) NOT NULL DEFAULT 'pending'
					CHECK (response_status IN ('pending', 'accepted', 'declined', 'alt_suggested')),
				response_message TEXT,
				responded_at TIMESTAMPTZ,
				responded_by UUID,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				version INT NOT NULL DEFAULT 1
			);

			CREATE INDEX IF NOT EXISTS idx_appointments_conversation ON appointments(conversation_id, created_at);

			CREATE TABLE IF NOT EXISTS appointment_responses (
				id UUID PRIMARY KEY,
				appointment_id UUID NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
				responder_id UUID NOT NULL,
				response_type VARCHAR(32) NOT NULL
					CHECK (response_type IN ('accept', 'decline', 'suggest_alternative')),
				suggested_date TIMESTAMPTZ,
				suggested_location TEXT,
				message TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				CONSTRAINT appointment_responses_suggestion_date
					CHECK (response_type <> 'suggest_alternative' OR suggested_date IS NOT NULL)
			);

			CREATE INDEX IF NOT EXISTS idx_appointment_responses_appointment
				ON appointment_responses(appointment_id, created_at, id);
		`,
		Down: `
			DROP TABLE IF EXISTS appointment_responses;
			DROP TABLE IF EXISTS appointments;
		`,
	},
	{
		Version: 5,
		Name:    "notifications",
		Up: `
			CREATE TABLE IF NOT EXISTS notifications (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL,
				type VARCHAR(32) NOT NULL,
				title VARCHAR(255) NOT NULL,
				message TEXT NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
		`,
		Down: `
			DROP TABLE IF EXISTS notifications;
		`,
	},
	{
		Version: 6,
		Name:    "outbox_events",
		Up: `
			CREATE TABLE IF NOT EXISTS outbox_events (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				conversation_id UUID NOT NULL,
				topic VARCHAR(64) NOT NULL,
				record_id UUID NOT NULL,
				actor_id UUID NOT NULL,
				version INT NOT NULL DEFAULT 1,
				record JSONB NOT NULL,
				notification JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				dispatched_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(seq) WHERE dispatched_at IS NULL;
		`,
		Down: `
			DROP TABLE IF EXISTS outbox_events;
		`,
	},
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	AppliedAt time.Time
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB, log *logger.Logger) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range sortedMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		log.Info("running migration", zap.Int("version", migration.Version), zap.String("name", migration.Name))

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackLast reverts the most recently applied migration. It returns the reverted
// version, or 0 when nothing was applied.
func RollbackLast(db *sql.DB, log *logger.Logger) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return 0, err
	}
	if currentVersion == 0 {
		return 0, nil
	}

	var target *Migration
	for _, m := range Migrations {
		if m.Version == currentVersion {
			m := m
			target = &m
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("applied migration %d is unknown to this build", currentVersion)
	}

	log.Info("rolling back migration", zap.Int("version", target.Version), zap.String("name", target.Name))

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(target.Down); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to roll back migration %d: %w", target.Version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback %d: %w", target.Version, err)
	}
	return target.Version, nil
}

// Applied lists the applied migrations in version order.
func Applied(db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied = append(applied, m)
	}
	return applied, rows.Err()
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
