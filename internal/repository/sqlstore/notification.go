package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// compile-time check that *DB implements repository.NotificationRepository
var _ repository.NotificationRepository = (*DB)(nil)

// CreateNotificationLog persists the summary of one notification batch.
func (db *DB) CreateNotificationLog(ctx context.Context, log *model.NotificationLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	err := db.conn.GetContext(ctx, &log.ID, db.conn.Rebind(`
		INSERT INTO notification_logs (mod_id, version, recipient_count, success_count, failure_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		log.ModID, log.Version, log.RecipientCount, log.SuccessCount, log.FailureCount, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting notification log for mod %d: %w", log.ModID, err)
	}
	return nil
}

// ListNotificationLogs returns the most recent batches first.
func (db *DB) ListNotificationLogs(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	logs := []model.NotificationLog{}
	query := db.conn.Rebind(`SELECT id, mod_id, version, recipient_count, success_count, failure_count, created_at
		FROM notification_logs ORDER BY created_at DESC, id DESC LIMIT ?`)

	if err := db.conn.SelectContext(ctx, &logs, query, limit); err != nil {
		return nil, fmt.Errorf("sqlstore: listing notification logs: %w", err)
	}
	return logs, nil
}
