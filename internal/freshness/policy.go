// Package freshness decides whether a cached section needs a refresh based on
// the calendar date of its last successful write-through.
package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/appcache/internal/storage"
)

// DateLayout is the stored format of last_update_date.
const DateLayout = "2006-01-02"

// MetadataStore is the subset of storage.Store the policy needs.
type MetadataStore interface {
	GetMetadata(ctx context.Context, section string) (*storage.CacheMetadata, error)
	SetMetadata(ctx context.Context, section, date string, updatedAt time.Time) error
}

// Policy tracks per-section update dates.
type Policy struct {
	store MetadataStore
	now   func() time.Time
	log   zerolog.Logger
}

// Option customises a Policy.
type Option func(*Policy)

// WithClock overrides the wall clock. Dates are computed in the location of
// the returned time.
func WithClock(now func() time.Time) Option { return func(p *Policy) { p.now = now } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Policy) { p.log = log.With().Str("component", "freshness").Logger() }
}

// New creates a policy backed by store.
func New(store MetadataStore, opts ...Option) *Policy {
	p := &Policy{
		store: store,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Now returns the policy clock's current time.
func (p *Policy) Now() time.Time {
	return p.now()
}

// Today returns the current calendar date.
func (p *Policy) Today() string {
	return p.now().Format(DateLayout)
}

// DaysAgo returns the calendar date n days before today.
func (p *Policy) DaysAgo(n int) string {
	return p.now().AddDate(0, 0, -n).Format(DateLayout)
}

// IsStale reports whether section needs a refresh.
//
// With maxAgeDays == 0 the section is stale unless it was updated today, by
// calendar date. With maxAgeDays > 0 it is stale once its last update is
// older than today minus maxAgeDays. A section that was never updated, or
// whose metadata cannot be read, is stale.
func (p *Policy) IsStale(ctx context.Context, section string, maxAgeDays int) bool {
	meta, err := p.store.GetMetadata(ctx, section)
	if err != nil {
		if !storage.IsNotFound(err) {
			p.log.Warn().Err(err).Str("section", section).Msg("metadata read failed, treating as stale")
		}
		return true
	}

	last, err := time.ParseInLocation(DateLayout, meta.LastUpdateDate, time.UTC)
	if err != nil {
		p.log.Warn().Err(err).Str("section", section).Str("date", meta.LastUpdateDate).Msg("unparsable update date")
		return true
	}
	today, _ := time.ParseInLocation(DateLayout, p.Today(), time.UTC)

	if maxAgeDays <= 0 {
		return !last.Equal(today)
	}
	return last.Before(today.AddDate(0, 0, -maxAgeDays))
}

// MarkFresh records today as the section's last update date. Call it only
// after the section's data was written through.
func (p *Policy) MarkFresh(ctx context.Context, section string) error {
	now := p.now()
	if err := p.store.SetMetadata(ctx, section, now.Format(DateLayout), now); err != nil {
		return fmt.Errorf("mark %s fresh: %w", section, err)
	}
	return nil
}
