// Package notifications remembers which notifications the user has seen.
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/appcache/internal/storage"
)

// Store is the subset of storage.Store the tracker needs.
type Store interface {
	MarkNotificationViewed(ctx context.Context, id string, viewedAt time.Time) error
	IsNotificationViewed(ctx context.Context, id string) (bool, error)
	GetViewedNotifications(ctx context.Context) ([]storage.ViewedNotification, error)
}

// Tracker records viewed notifications. Storage failures never reach the
// caller: a lost write shows the notification again, a failed read shows it
// as unviewed.
type Tracker struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a tracker.
func New(store Store, log zerolog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log.With().Str("component", "notifications").Logger(),
		now:   time.Now,
	}
}

// MarkViewed records id as viewed. Marking twice keeps the first time.
func (t *Tracker) MarkViewed(ctx context.Context, id string) {
	if err := t.store.MarkNotificationViewed(ctx, id, t.now()); err != nil {
		t.log.Warn().Err(err).Str("notification_id", id).Msg("failed to record viewed notification")
	}
}

// IsViewed reports whether id was marked viewed.
func (t *Tracker) IsViewed(ctx context.Context, id string) bool {
	viewed, err := t.store.IsNotificationViewed(ctx, id)
	if err != nil {
		t.log.Warn().Err(err).Str("notification_id", id).Msg("viewed lookup failed")
		return false
	}
	return viewed
}

// Unviewed returns the ids that have not been viewed, in their given order.
func (t *Tracker) Unviewed(ctx context.Context, ids []string) []string {
	viewed, err := t.store.GetViewedNotifications(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("viewed lookup failed")
		viewed = nil
	}
	seen := make(map[string]bool, len(viewed))
	for _, n := range viewed {
		seen[n.ID] = true
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Viewed lists every viewed notification, oldest first.
func (t *Tracker) Viewed(ctx context.Context) ([]storage.ViewedNotification, error) {
	return t.store.GetViewedNotifications(ctx)
}
