package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

// EnqueueEvent stages e in the caller's transaction and fills in Seq.
func (r *queries) EnqueueEvent(ctx context.Context, e *models.OutboxEvent) error {
	var notification sql.NullString
	if e.Notification != nil {
		raw, err := json.Marshal(e.Notification)
		if err != nil {
			return err
		}
		notification = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO outbox_events (id, conversation_id, topic, record_id, actor_id, version, record, notification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`

	err := r.q.QueryRowContext(ctx, query,
		e.ID,
		e.ConversationID,
		e.Topic,
		e.RecordID,
		e.ActorID,
		e.Version,
		string(e.Record),
		notification,
		e.CreatedAt,
	).Scan(&e.Seq)
	return dbError(err, "OutboxEvent", "enqueue")
}

// PendingEvents returns undispatched events in seq order.
func (s *PostgresStore) PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = maxPageSize
	}

	query := `
		SELECT seq, id, conversation_id, topic, record_id, actor_id, version, record, notification, created_at
		FROM outbox_events
		WHERE dispatched_at IS NULL
		ORDER BY seq
		LIMIT $1
	`

	rows, err := s.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, dbError(err, "OutboxEvent", "list pending")
	}
	defer rows.Close()

	events := []models.OutboxEvent{}
	for rows.Next() {
		var e models.OutboxEvent
		var record, notification []byte
		err := rows.Scan(&e.Seq, &e.ID, &e.ConversationID, &e.Topic, &e.RecordID, &e.ActorID,
			&e.Version, &record, &notification, &e.CreatedAt)
		if err != nil {
			return nil, dbError(err, "OutboxEvent", "scan")
		}
		e.Record = json.RawMessage(record)
		if notification != nil {
			e.Notification = &models.NotificationDraft{}
			if err := json.Unmarshal(notification, e.Notification); err != nil {
				return nil, dbError(err, "OutboxEvent", "decode")
			}
		}
		events = append(events, e)
	}
	return events, dbError(rows.Err(), "OutboxEvent", "list pending")
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE outbox_events SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`,
		eventID, at,
	)
	return dbError(err, "OutboxEvent", "mark dispatched")
}
