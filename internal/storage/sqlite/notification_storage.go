package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// NotificationStorage implements the append-only notification sink.
type NotificationStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewNotificationStorage creates a new notification storage instance
func NewNotificationStorage(db *DB, logger arbor.ILogger) interfaces.NotificationStorage {
	return &NotificationStorage{
		db:     db,
		logger: logger,
	}
}

// Create appends one notification row. Rows are never mutated afterwards.
func (s *NotificationStorage) Create(ctx context.Context, n *models.Notification) error {
	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return errkind.Infrastructure("failed to serialize notification payload", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), string(payloadJSON), n.CreatedAt.Unix())
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to insert notification %s", n.ID), err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (s *NotificationStorage) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, user_id, type, payload, created_at FROM notifications
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errkind.Infrastructure("failed to list notifications", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var (
			n           models.Notification
			payloadJSON string
			createdAt   int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, (*string)(&n.Type), &payloadJSON, &createdAt); err != nil {
			return nil, errkind.Infrastructure("failed to scan notification row", err)
		}
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &n.Payload); err != nil {
				return nil, errkind.Infrastructure("failed to decode notification payload", err)
			}
		}
		n.CreatedAt = unixToTime(createdAt)
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Infrastructure("failed to iterate notification rows", err)
	}
	return notifications, nil
}
