package sections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
)

// ErrUnknownSection is returned for a section name that is not cached.
var ErrUnknownSection = errors.New("unknown section")

// Windows holds the freshness window of each section in days.
type Windows struct {
	AppOfTheDay   int
	AppsOfTheWeek int
	Categories    int
}

// DefaultWindows refreshes picks daily and categories weekly.
var DefaultWindows = Windows{AppOfTheDay: 0, AppsOfTheWeek: 0, Categories: 7}

// Catalog groups the cached catalog sections.
type Catalog struct {
	AppOfTheDay   *Section[*domain.FeaturedApp]
	AppsOfTheWeek *Section[[]domain.WeeklyPick]
	Categories    *Section[[]string]
}

// NewCatalog wires every section to store and remote.
func NewCatalog(store storage.Store, remote catalog.Remote, policy *freshness.Policy, windows Windows, detailConcurrency int, opts Options) *Catalog {
	return &Catalog{
		AppOfTheDay:   NewAppOfTheDay(store, remote, policy, windows.AppOfTheDay, opts),
		AppsOfTheWeek: NewAppsOfTheWeek(store, remote, policy, windows.AppsOfTheWeek, detailConcurrency, opts),
		Categories:    NewCategories(store, remote, policy, windows.Categories, opts),
	}
}

// Names lists the section names in display order.
func (c *Catalog) Names() []string {
	return []string{AppOfTheDay, AppsOfTheWeek, Categories}
}

// Status returns the snapshot of the named section, starting a background
// refresh when needed.
func (c *Catalog) Status(ctx context.Context, name string) (Snapshot[any], error) {
	switch name {
	case AppOfTheDay:
		return erase(c.AppOfTheDay.Get(ctx)), nil
	case AppsOfTheWeek:
		return erase(c.AppsOfTheWeek.Get(ctx)), nil
	case Categories:
		return erase(c.Categories.Get(ctx)), nil
	}
	return Snapshot[any]{}, fmt.Errorf("%w: %q", ErrUnknownSection, name)
}

// Resolve returns the cached-or-fresh value of the named section.
func (c *Catalog) Resolve(ctx context.Context, name string) (any, error) {
	switch name {
	case AppOfTheDay:
		return c.AppOfTheDay.Resolve(ctx)
	case AppsOfTheWeek:
		return c.AppsOfTheWeek.Resolve(ctx)
	case Categories:
		return c.Categories.Resolve(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
}

// Refresh forces a refresh of the named section.
func (c *Catalog) Refresh(ctx context.Context, name string) (any, error) {
	switch name {
	case AppOfTheDay:
		return c.AppOfTheDay.Refresh(ctx)
	case AppsOfTheWeek:
		return c.AppsOfTheWeek.Refresh(ctx)
	case Categories:
		return c.Categories.Refresh(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
}

// Wait blocks until every background refresh has finished.
func (c *Catalog) Wait() {
	c.AppOfTheDay.Wait()
	c.AppsOfTheWeek.Wait()
	c.Categories.Wait()
}

func erase[T any](s Snapshot[T]) Snapshot[any] {
	out := Snapshot[any]{Cached: s.Cached, IsRefreshing: s.IsRefreshing, Err: s.Err}
	if s.Cached {
		out.Value = s.Value
	}
	return out
}
