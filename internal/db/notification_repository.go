package db

import (
	"context"
	"fmt"
	"time"
)

// NotificationRepository keeps the append-only per-send log.
// Implements notify.Log.
type NotificationRepository struct {
	db *DB
}

// NewNotificationRepository creates a notification log repository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// AppendNotification records one send attempt and its outcome.
func (r *NotificationRepository) AppendNotification(ctx context.Context, eventKey, title, notifyType, outcome string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_log (event_key, title, notify_type, outcome, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		eventKey, title, notifyType, outcome, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}
