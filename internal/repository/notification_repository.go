package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

// CreateNotification inserts n. A replayed outbox event carries the same id, so the
// conflict clause makes delivery exactly once.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO notifications (id, user_id, type, title, message, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := s.q.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		string(data),
		n.Read,
		n.CreatedAt,
	)
	if err != nil {
		return false, dbError(err, "Notification", "create")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "Notification", "create")
	}
	return rows == 1, nil
}

func (r *queries) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, data, read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR read = FALSE)
		ORDER BY created_at DESC, id
		LIMIT $3
	`

	rows, err := r.q.QueryContext(ctx, query, userID, unreadOnly, pageSize(limit))
	if err != nil {
		return nil, dbError(err, "Notification", "list")
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var data []byte
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, dbError(err, "Notification", "scan")
		}
		if n.Data, err = models.DecodeNotificationData(n.Type, data); err != nil {
			return nil, dbError(err, "Notification", "decode")
		}
		notifications = append(notifications, n)
	}
	return notifications, dbError(rows.Err(), "Notification", "list")
}

func (r *queries) UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, dbError(err, "Notification", "count unread")
	}
	return count, nil
}

// MarkNotificationRead is a no-op for an already read notification and NotFound for one
// the user does not own.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return dbError(err, "Notification", "mark read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Notification", "mark read")
	}
	if n == 0 {
		return dbError(sql.ErrNoRows, "Notification", "mark read")
	}
	return nil
}
