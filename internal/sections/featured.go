package sections

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
)

// Section names as stored in cache_metadata.
const (
	AppOfTheDay   = "appOfTheDay"
	AppsOfTheWeek = "appsOfTheWeek"
	Categories    = "categories"
)

// NewAppOfTheDay creates the featured-app section.
func NewAppOfTheDay(store storage.Store, remote catalog.Remote, policy *freshness.Policy, maxAgeDays int, opts Options) *Section[*domain.FeaturedApp] {
	log := opts.Logger.With().Str("section", AppOfTheDay).Logger()

	return New(Config[*domain.FeaturedApp]{
		Name:       AppOfTheDay,
		MaxAgeDays: maxAgeDays,
		Load: func(ctx context.Context) (*domain.FeaturedApp, bool, error) {
			app, err := store.GetFeaturedApp(ctx)
			if err != nil {
				return nil, false, err
			}
			return app, true, nil
		},
		Fetch: func(ctx context.Context) (*domain.FeaturedApp, error) {
			return fetchFeaturedApp(ctx, remote, policy.Today(), log)
		},
		Save:   store.SaveFeaturedApp,
		Checks: []Check[*domain.FeaturedApp]{FeaturedIncomplete()},
		Clone:  (*domain.FeaturedApp).Clone,
	}, policy, opts)
}

func fetchFeaturedApp(ctx context.Context, remote catalog.Remote, today string, log zerolog.Logger) (*domain.FeaturedApp, error) {
	pick, err := remote.FetchFeaturedApp(ctx, today)
	if err != nil {
		return nil, err
	}
	detail, err := remote.FetchAppDetail(ctx, pick.AppID)
	if err != nil {
		return nil, fmt.Errorf("detail for %s: %w", pick.AppID, err)
	}
	extended := fetchSummary(ctx, remote, pick.AppID, log)

	app := domain.NewFeaturedApp(pick.Day, detail, extended)
	app.AppID = pick.AppID
	return app, nil
}

// fetchSummary returns nil on a transient failure; the incomplete-payload
// checks retry it on a later read. An app the catalog has no summary for gets
// an empty one so it is not refetched on every read.
func fetchSummary(ctx context.Context, remote catalog.Remote, appID string, log zerolog.Logger) *domain.ExtendedDetail {
	extended, err := remote.FetchAppSummary(ctx, appID)
	if errors.Is(err, catalog.ErrNotFound) {
		log.Debug().Str("app_id", appID).Msg("no summary published")
		return &domain.ExtendedDetail{}
	}
	if err != nil {
		log.Warn().Err(err).Str("app_id", appID).Msg("summary unavailable")
		return nil
	}
	return extended
}

