package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, kind, photo_url, photo_caption, created_at, read_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.Kind,
		&m.PhotoURL,
		&m.PhotoCaption,
		&m.CreatedAt,
		&m.ReadAt,
	)
	return m, err
}

// AppendMessage locks the conversation row, clamps the timestamp past the previous
// message and inserts.
func (r *queries) AppendMessage(ctx context.Context, m *models.Message) error {
	var last *time.Time
	err := r.q.QueryRowContext(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`,
		m.ConversationID,
	).Scan(&last)
	if err != nil {
		return dbError(err, "Conversation", "lock")
	}

	m.CreatedAt = nextCreatedAt(m.CreatedAt, last)

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, kind, photo_url, photo_caption, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.q.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.Content,
		m.Kind,
		m.PhotoURL,
		m.PhotoCaption,
		m.CreatedAt,
	)
	if err != nil {
		return dbError(err, "Message", "create")
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $2, updated_at = $2 WHERE id = $1`,
		m.ConversationID, m.CreatedAt,
	)
	return dbError(err, "Conversation", "touch")
}

// ListMessages returns a page of the timeline in (created_at, id) order.
func (r *queries) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.QueryContext(ctx, query, conversationID, pageSize(limit), offset)
	if err != nil {
		return nil, dbError(err, "Message", "list")
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, dbError(err, "Message", "scan")
		}
		messages = append(messages, *m)
	}
	return messages, dbError(rows.Err(), "Message", "list")
}

// LastMessage returns nil, nil for an empty conversation.
func (r *queries) LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)
	if err != nil {
		return nil, dbError(err, "Message", "get last")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, dbError(rows.Err(), "Message", "get last")
	}
	m, err := scanMessage(rows)
	if err != nil {
		return nil, dbError(err, "Message", "scan")
	}
	return m, nil
}

// MarkMessagesRead sets read_at on the counterpart's unread messages. Already read rows
// are never touched.
func (r *queries) MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET read_at = $3
		WHERE conversation_id = $1
		AND sender_id != $2
		AND read_at IS NULL
	`

	res, err := r.q.ExecContext(ctx, query, conversationID, readerID, at)
	if err != nil {
		return 0, dbError(err, "Message", "mark read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err, "Message", "mark read")
	}
	return n, nil
}

// UnreadCount gets the number of unread messages for a user in a conversation
func (r *queries) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		AND sender_id != $2
		AND read_at IS NULL
	`

	var count int
	if err := r.q.QueryRowContext(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return 0, dbError(err, "Message", "count unread")
	}
	return count, nil
}
