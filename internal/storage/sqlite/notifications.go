package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwulff/appcache/internal/storage"
)

// MarkNotificationViewed records id once; later calls keep the first time.
func (s *Store) MarkNotificationViewed(ctx context.Context, id string, viewedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("notification id is required")
	}
	_, err := s.Exec(ctx, `
		INSERT OR IGNORE INTO viewed_notifications (notification_id, viewed_at)
		VALUES (?, ?)
	`, id, toMillis(viewedAt))
	if err != nil {
		return fmt.Errorf("mark notification viewed: %w", err)
	}
	return nil
}

func (s *Store) IsNotificationViewed(ctx context.Context, id string) (bool, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return false, err
	}
	var found int
	err = db.QueryRowContext(ctx,
		"SELECT 1 FROM viewed_notifications WHERE notification_id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetViewedNotifications(ctx context.Context) ([]storage.ViewedNotification, error) {
	rows, err := s.Query(ctx, `
		SELECT notification_id, viewed_at FROM viewed_notifications
		ORDER BY viewed_at ASC, notification_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var viewed []storage.ViewedNotification
	for rows.Next() {
		var n storage.ViewedNotification
		var viewedAt int64
		if err := rows.Scan(&n.ID, &viewedAt); err != nil {
			return nil, err
		}
		n.ViewedAt = fromMillis(viewedAt)
		viewed = append(viewed, n)
	}
	return viewed, rows.Err()
}
