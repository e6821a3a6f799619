package sqlite

import (
	"context"
	"time"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
)

// Inbox operations

// CreateInboxMessage inserts a new inbox message. The message starts in
// PENDING unless a status is already set.
func (r *Repository) CreateInboxMessage(ctx context.Context, m *models.InboxMessage) error {
	if m.Status == "" {
		m.Status = models.MessagePending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox (sender_id, receiver_id, message, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.SenderID, m.ReceiverID, m.Message, m.Status, m.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// ListInboxMessages returns messages for a receiver ordered oldest first.
// An empty status returns messages in any state.
func (r *Repository) ListInboxMessages(ctx context.Context, receiverID string, limit int, status models.MessageStatus) ([]*models.InboxMessage, error) {
	query := `
		SELECT id, sender_id, receiver_id, message, status, created_at
		FROM inbox WHERE receiver_id = ?`
	args := []interface{}{receiverID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.InboxMessage
	for rows.Next() {
		m := &models.InboxMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Message, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// UpdateMessageStatus transitions a message to DELIVERED or FAILED.
// Terminal states are absorbing: a message already out of PENDING is
// never updated again.
func (r *Repository) UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inbox SET status = ? WHERE id = ? AND status = ?
	`, status, id, models.MessagePending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.Conflict("inbox message is not pending or does not exist")
	}
	return nil
}
