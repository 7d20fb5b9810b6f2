// Package permissions caches per-version permission manifests. A cached entry
// is only trusted for the exact version it was derived from and only until the
// app is updated.
package permissions

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/storage"
)

// DefaultConcurrency bounds concurrent manifest lookups in Resolve.
const DefaultConcurrency = 4

// Source derives the permission manifest of an installed app version.
type Source interface {
	FetchPermissions(ctx context.Context, appID, version string) ([]string, error)
}

// Cache is the batch permission cache.
type Cache struct {
	store       storage.Store
	log         zerolog.Logger
	concurrency int
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = log.With().Str("component", "permissions").Logger()
	}
}

// WithConcurrency sets how many lookups Resolve runs at once.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New creates a permission cache backed by store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		log:         zerolog.Nop(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMany returns the cached manifests for keys that match an exact, current
// version. Misses are omitted. A read failure yields an empty map.
func (c *Cache) GetMany(ctx context.Context, keys []domain.AppVersion) map[string][]string {
	if len(keys) == 0 {
		return map[string][]string{}
	}
	hits, err := c.store.GetPermissions(ctx, keys)
	if err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("permission read failed, treating as miss")
		return map[string][]string{}
	}
	return hits
}

// PutMany stores entries atomically, replacing any row for the same version
// and clearing its outdated flag.
func (c *Cache) PutMany(ctx context.Context, entries map[string]domain.PermissionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.store.PutPermissions(ctx, entries); err != nil {
		return fmt.Errorf("put permissions: %w", err)
	}
	return nil
}

// MarkOutdated invalidates every stored version of appID.
func (c *Cache) MarkOutdated(ctx context.Context, appID string) error {
	return c.MarkOutdatedBatch(ctx, []string{appID})
}

// MarkOutdatedBatch invalidates every stored version of each app. Either all
// apps are marked or none are.
func (c *Cache) MarkOutdatedBatch(ctx context.Context, appIDs []string) error {
	if len(appIDs) == 0 {
		return nil
	}
	if err := c.store.MarkPermissionsOutdated(ctx, appIDs); err != nil {
		return fmt.Errorf("mark permissions outdated: %w", err)
	}
	c.log.Debug().Strs("app_ids", appIDs).Msg("permissions marked outdated")
	return nil
}

// PruneToCurrent deletes every row whose (app, version) is not in current and
// returns the number of rows removed. An empty current list clears the cache.
func (c *Cache) PruneToCurrent(ctx context.Context, current []domain.AppVersion) (int64, error) {
	n, err := c.store.PrunePermissions(ctx, current)
	if err != nil {
		return 0, fmt.Errorf("prune permissions: %w", err)
	}
	if n > 0 {
		c.log.Info().Int64("removed", n).Int("current", len(current)).Msg("pruned permissions")
	}
	return n, nil
}

// Resolve returns manifests for apps, reading through to source for misses.
// Lookups that fail are logged and omitted from the result.
func (c *Cache) Resolve(ctx context.Context, apps []domain.AppVersion, source Source) map[string][]string {
	result := c.GetMany(ctx, apps)

	var misses []domain.AppVersion
	seen := make(map[domain.AppVersion]bool)
	for _, app := range apps {
		if _, ok := result[app.AppID]; ok || seen[app] {
			continue
		}
		seen[app] = true
		misses = append(misses, app)
	}
	if len(misses) == 0 {
		return result
	}

	var mu sync.Mutex
	fetched := make(map[string]domain.PermissionEntry, len(misses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, app := range misses {
		app := app
		g.Go(func() error {
			perms, err := source.FetchPermissions(gctx, app.AppID, app.Version)
			if err != nil {
				c.log.Warn().Err(err).Str("app", app.String()).Msg("permission lookup failed")
				return nil
			}
			mu.Lock()
			fetched[app.AppID] = domain.PermissionEntry{Version: app.Version, Permissions: perms}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := c.PutMany(ctx, fetched); err != nil {
		c.log.Error().Err(err).Int("entries", len(fetched)).Msg("failed to cache permissions")
	}
	for appID, entry := range fetched {
		result[appID] = entry.Permissions
	}
	return result
}

// HandleUpdate reacts to a finished package operation. A successful update
// may change the manifest, so the app's cached versions are invalidated.
// Failed operations leave the cache untouched.
func (c *Cache) HandleUpdate(ctx context.Context, result domain.UpdateResult) error {
	if !result.Succeeded() {
		c.log.Debug().Str("app_id", result.AppID).Int("exit_code", result.ExitCode).
			Msg("update did not succeed, keeping cached permissions")
		return nil
	}
	return c.MarkOutdated(ctx, result.AppID)
}
