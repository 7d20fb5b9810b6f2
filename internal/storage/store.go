// Package storage provides storage abstractions for the catalog cache.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jwulff/appcache/internal/domain"
)

// Store is the interface for persistent cache storage.
type Store interface {
	// Section metadata
	GetMetadata(ctx context.Context, section string) (*CacheMetadata, error)
	SetMetadata(ctx context.Context, section, date string, updatedAt time.Time) error

	// Featured app of the day
	GetFeaturedApp(ctx context.Context) (*domain.FeaturedApp, error)
	SaveFeaturedApp(ctx context.Context, app *domain.FeaturedApp) error

	// Weekly picks
	GetWeeklyPicks(ctx context.Context) ([]domain.WeeklyPick, error)
	ReplaceWeeklyPicks(ctx context.Context, picks []domain.WeeklyPick) error

	// Categories
	GetCategories(ctx context.Context) ([]string, error)
	ReplaceCategories(ctx context.Context, names []string) error

	// Notifications
	MarkNotificationViewed(ctx context.Context, id string, viewedAt time.Time) error
	IsNotificationViewed(ctx context.Context, id string) (bool, error)
	GetViewedNotifications(ctx context.Context) ([]ViewedNotification, error)

	// Permissions
	GetPermissions(ctx context.Context, keys []domain.AppVersion) (map[string][]string, error)
	PutPermissions(ctx context.Context, entries map[string]domain.PermissionEntry) error
	MarkPermissionsOutdated(ctx context.Context, appIDs []string) error
	PrunePermissions(ctx context.Context, current []domain.AppVersion) (int64, error)

	// Lifecycle
	Close() error
}

// CacheMetadata records when a section was last written through.
type CacheMetadata struct {
	Section        string
	LastUpdateDate string // YYYY-MM-DD
	UpdatedAt      time.Time
}

// ViewedNotification is a notification the user has seen.
type ViewedNotification struct {
	ID       string
	ViewedAt time.Time
}

var (
	// ErrStoreUnavailable is returned when the database cannot be opened.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDecodeFailed is returned when a stored payload cannot be parsed.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrSchemaMigrationSkipped marks an additive migration that was
	// already applied.
	ErrSchemaMigrationSkipped = errors.New("schema migration skipped")
)

// DecodeError describes a stored payload that could not be decoded.
type DecodeError struct {
	Table  string
	Key    string
	Column string
	Err    error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Table + "." + e.Column + " for " + e.Key + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecodeFailed, e.Err}
}

// IsDecodeFailed checks if an error is a decode failure.
func IsDecodeFailed(err error) bool {
	return errors.Is(err, ErrDecodeFailed)
}

// ErrNotFound is returned when a record is not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return e.Resource + " not found: " + e.ID
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
