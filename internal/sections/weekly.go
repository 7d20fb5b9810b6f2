package sections

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
)

// NewAppsOfTheWeek creates the weekly-picks section. Details are fetched with
// at most concurrency requests in flight.
func NewAppsOfTheWeek(store storage.Store, remote catalog.Remote, policy *freshness.Policy, maxAgeDays, concurrency int, opts Options) *Section[[]domain.WeeklyPick] {
	log := opts.Logger.With().Str("section", AppsOfTheWeek).Logger()

	return New(Config[[]domain.WeeklyPick]{
		Name:       AppsOfTheWeek,
		MaxAgeDays: maxAgeDays,
		Load: func(ctx context.Context) ([]domain.WeeklyPick, bool, error) {
			picks, err := store.GetWeeklyPicks(ctx)
			if err != nil {
				return nil, false, err
			}
			return picks, len(picks) > 0 || written(ctx, store, AppsOfTheWeek), nil
		},
		Fetch: func(ctx context.Context) ([]domain.WeeklyPick, error) {
			return fetchWeeklyPicks(ctx, remote, policy.Today(), concurrency, log)
		},
		Save:   store.ReplaceWeeklyPicks,
		Checks: []Check[[]domain.WeeklyPick]{PicksIncomplete()},
		Clone:  domain.ClonePicks,
	}, policy, opts)
}

// fetchWeeklyPicks fails as a whole when any detail fails so a partial list
// is never written.
func fetchWeeklyPicks(ctx context.Context, remote catalog.Remote, today string, concurrency int, log zerolog.Logger) ([]domain.WeeklyPick, error) {
	picks, err := remote.FetchWeeklyPicks(ctx, today)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range picks {
		pick := &picks[i]
		g.Go(func() error {
			detail, err := remote.FetchAppDetail(gctx, pick.AppID)
			if err != nil {
				return fmt.Errorf("detail for %s: %w", pick.AppID, err)
			}
			pick.ApplyDetail(detail)
			pick.Extended = fetchSummary(gctx, remote, pick.AppID, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return picks, nil
}

