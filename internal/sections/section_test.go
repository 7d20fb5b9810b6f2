package sections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
	"github.com/jwulff/appcache/internal/storage/sqlite"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)

type fakeRemote struct {
	mu            sync.Mutex
	calls         map[string]int
	categories    []string
	categoriesErr error
	featured      *domain.FeaturedApp
	featuredErr   error
	picks         []domain.WeeklyPick
	detailErr     map[string]error
	summaryErr    error
	gate          chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		calls:     make(map[string]int),
		detailErr: make(map[string]error),
	}
}

func (f *fakeRemote) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) FetchCategories(ctx context.Context) ([]string, error) {
	f.record("categories")
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.categoriesErr != nil {
		return nil, f.categoriesErr
	}
	return append([]string(nil), f.categories...), nil
}

func (f *fakeRemote) FetchWeeklyPicks(_ context.Context, date string) ([]domain.WeeklyPick, error) {
	f.record("weekly:" + date)
	return append([]domain.WeeklyPick(nil), f.picks...), nil
}

func (f *fakeRemote) FetchFeaturedApp(_ context.Context, date string) (*domain.FeaturedApp, error) {
	f.record("featured:" + date)
	if f.featuredErr != nil {
		return nil, f.featuredErr
	}
	app := *f.featured
	return &app, nil
}

func (f *fakeRemote) FetchAppDetail(_ context.Context, appID string) (*domain.AppDetail, error) {
	f.record("detail")
	f.mu.Lock()
	err := f.detailErr[appID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.AppDetail{ID: appID, Name: "Name " + appID, Summary: "About " + appID, Icon: appID + ".png"}, nil
}

func (f *fakeRemote) FetchAppSummary(_ context.Context, appID string) (*domain.ExtendedDetail, error) {
	f.record("summary")
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return &domain.ExtendedDetail{Arches: []string{"x86_64"}, DownloadSize: int64(len(appID))}, nil
}

func (f *fakeRemote) SearchCatalog(context.Context, string, []catalog.Filter, int, int) (*catalog.SearchResult, error) {
	return &catalog.SearchResult{}, nil
}

var errNetwork = fmt.Errorf("%w: dial tcp: connection refused", catalog.ErrRemoteFetchFailed)

type fixture struct {
	store  *sqlite.Store
	remote *fakeRemote
	policy *freshness.Policy
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		store:  store,
		remote: newFakeRemote(),
		policy: freshness.New(store, freshness.WithClock(func() time.Time { return testNow })),
		opts:   Options{Logger: zerolog.Nop(), FetchTimeout: 5 * time.Second},
	}
}

func (f *fixture) catalog() *Catalog {
	return NewCatalog(f.store, f.remote, f.policy, DefaultWindows, 2, f.opts)
}

// Categories

func TestCategoriesFetchFailureServesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Tools", "Games"}))
	f.remote.categoriesErr = errNetwork

	names, err := f.catalog().Categories.Resolve(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"Games", "Tools"}, names)
	assert.Equal(t, 1, f.remote.count("categories"))
	assert.True(t, f.policy.IsStale(ctx, Categories, 7), "failed fetch must not mark fresh")
}

func TestCategoriesFetchFailureWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.remote.categoriesErr = errNetwork

	_, err := f.catalog().Categories.Resolve(context.Background())

	assert.ErrorIs(t, err, catalog.ErrRemoteFetchFailed)
}

func TestCategoriesFreshCacheSkipsFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Games"}))
	require.NoError(t, f.store.SetMetadata(ctx, Categories, f.policy.DaysAgo(5), testNow))

	names, err := f.catalog().Categories.Resolve(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"Games"}, names)
	assert.Zero(t, f.remote.count("categories"))
}

func TestCategoriesRefreshWritesThroughSorted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.categories = []string{"Tools", "Audio", "Games"}

	names, err := f.catalog().Categories.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Audio", "Games", "Tools"}, names)

	stored, err := f.store.GetCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, names, stored)
	assert.False(t, f.policy.IsStale(ctx, Categories, 7))
}

func TestCategoriesSortIgnoresCase(t *testing.T) {
	f := newFixture(t)
	f.remote.categories = []string{"games", "Audio", "Zebra", "art"}

	names, err := f.catalog().Categories.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"art", "Audio", "games", "Zebra"}, names)

	again, err := f.catalog().Categories.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, names, again)
}

func TestCategoriesEmptyListIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	names, err := f.catalog().Categories.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = f.catalog().Categories.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 1, f.remote.count("categories"))

	snap := f.catalog().Categories.Get(ctx)
	assert.True(t, snap.Cached)
	assert.False(t, snap.IsRefreshing)
}

func TestCategoriesCallerCannotMutateMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.categories = []string{"Audio", "Games"}
	section := f.catalog().Categories

	names, err := section.Resolve(ctx)
	require.NoError(t, err)
	names[0] = "Hacked"

	again, err := section.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Audio", "Games"}, again)

	snap := section.Get(ctx)
	snap.Value[1] = "Hacked"
	assert.Equal(t, []string{"Audio", "Games"}, section.Get(ctx).Value)
}

// App of the day

func TestAppOfTheDayFetchThenServeFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}

	app, err := f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org.foo.Bar", app.AppID)
	assert.Equal(t, "2024-01-01", app.Day)
	assert.True(t, app.IsComplete())
	assert.Equal(t, 1, f.remote.count("featured:2024-01-01"))

	// A new process sees the same record without fetching.
	again, err := f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, app, again)
	assert.Equal(t, 1, f.remote.count("featured:2024-01-01"))
	assert.False(t, f.policy.IsStale(ctx, AppOfTheDay, 0))
}

func TestAppOfTheDayMissingExtendedForcesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacy := domain.NewFeaturedApp("2024-01-01", &domain.AppDetail{ID: "org.old.App", Name: "Old"}, nil)
	require.NoError(t, f.store.SaveFeaturedApp(ctx, legacy))
	require.NoError(t, f.policy.MarkFresh(ctx, AppOfTheDay))
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}

	app, err := f.catalog().AppOfTheDay.Resolve(ctx)

	require.NoError(t, err)
	assert.Equal(t, "org.foo.Bar", app.AppID)
	assert.NotNil(t, app.Extended)
	assert.Equal(t, 1, f.remote.count("featured:2024-01-01"))
}

func TestAppOfTheDaySummaryFailureStoresIncompleteRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}
	f.remote.summaryErr = errNetwork

	app, err := f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	assert.Nil(t, app.Extended)

	f.remote.summaryErr = nil
	app, err = f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	assert.NotNil(t, app.Extended)
	assert.Equal(t, 2, f.remote.count("featured:2024-01-01"))
}

func TestAppOfTheDayDecodeFailureForcesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Exec(ctx, `
		INSERT INTO featured_app (id, app_id, day, app_stream, extended, cached_at)
		VALUES (1, 'org.old.App', '2024-01-01', '{broken', '{}', 0)
	`)
	require.NoError(t, err)
	require.NoError(t, f.policy.MarkFresh(ctx, AppOfTheDay))
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}

	app, err := f.catalog().AppOfTheDay.Resolve(ctx)

	require.NoError(t, err)
	assert.Equal(t, "org.foo.Bar", app.AppID)
}

func TestAppOfTheDayMissingSummaryIsNotRefetched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}
	f.remote.summaryErr = fmt.Errorf("%w: /summary/org.foo.Bar: %w", catalog.ErrRemoteFetchFailed, catalog.ErrNotFound)

	app, err := f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	require.NotNil(t, app.Extended)
	assert.True(t, app.IsComplete())

	_, err = f.catalog().AppOfTheDay.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.count("featured:2024-01-01"))
	assert.Equal(t, 1, f.remote.count("summary"))
}

func TestAppOfTheDayCallerCannotMutateMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.featured = &domain.FeaturedApp{AppID: "org.foo.Bar", Day: "2024-01-01"}
	section := f.catalog().AppOfTheDay

	app, err := section.Resolve(ctx)
	require.NoError(t, err)
	app.Name = "Hacked"
	app.Extended.Arches[0] = "hacked"

	again, err := section.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Name org.foo.Bar", again.Name)
	assert.Equal(t, []string{"x86_64"}, again.Extended.Arches)
}

// Apps of the week

func TestAppsOfTheWeekEnrichesAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.picks = []domain.WeeklyPick{
		{AppID: "org.c.C", Position: 3},
		{AppID: "org.a.A", Position: 1, IsFullscreen: true},
		{AppID: "org.b.B", Position: 2},
	}

	_, err := f.catalog().AppsOfTheWeek.Refresh(ctx)
	require.NoError(t, err)

	picks, err := f.store.GetWeeklyPicks(ctx)
	require.NoError(t, err)
	require.Len(t, picks, 3)
	for i, pick := range picks {
		assert.Equal(t, i+1, pick.Position)
		assert.True(t, pick.IsComplete())
		assert.Equal(t, "Name "+pick.AppID, pick.Name)
	}
	assert.True(t, picks[0].IsFullscreen)
	assert.Equal(t, 3, f.remote.count("detail"))
}

func TestAppsOfTheWeekDetailFailureKeepsPreviousList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	previous := domain.WeeklyPick{AppID: "org.old.App", Position: 1}
	previous.ApplyDetail(&domain.AppDetail{ID: "org.old.App"})
	previous.Extended = &domain.ExtendedDetail{}
	require.NoError(t, f.store.ReplaceWeeklyPicks(ctx, []domain.WeeklyPick{previous}))

	f.remote.picks = []domain.WeeklyPick{{AppID: "org.a.A", Position: 1}, {AppID: "org.b.B", Position: 2}}
	f.remote.detailErr["org.b.B"] = errNetwork

	picks, err := f.catalog().AppsOfTheWeek.Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, "org.old.App", picks[0].AppID)

	stored, err := f.store.GetWeeklyPicks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WeeklyPick{previous}, stored)
}

func TestAppsOfTheWeekIncompletePickForcesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceWeeklyPicks(ctx, []domain.WeeklyPick{{AppID: "org.old.App", Position: 1}}))
	require.NoError(t, f.policy.MarkFresh(ctx, AppsOfTheWeek))
	f.remote.picks = []domain.WeeklyPick{{AppID: "org.a.A", Position: 1}}

	picks, err := f.catalog().AppsOfTheWeek.Resolve(ctx)

	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, "org.a.A", picks[0].AppID)
	assert.Equal(t, 1, f.remote.count("weekly:2024-01-01"))
}

func TestAppsOfTheWeekEmptyListIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	picks, err := f.catalog().AppsOfTheWeek.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, picks)

	picks, err = f.catalog().AppsOfTheWeek.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, picks)
	assert.Equal(t, 1, f.remote.count("weekly:2024-01-01"))
}

func TestAppsOfTheWeekMissingSummaryIsNotRefetched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.picks = []domain.WeeklyPick{{AppID: "org.a.A", Position: 1}}
	f.remote.summaryErr = fmt.Errorf("%w: %w", catalog.ErrRemoteFetchFailed, catalog.ErrNotFound)

	picks, err := f.catalog().AppsOfTheWeek.Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.True(t, picks[0].IsComplete())

	_, err = f.catalog().AppsOfTheWeek.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.count("weekly:2024-01-01"))
}

// Stale-while-revalidate

func TestGetServesCachedAndRefreshesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Games"}))
	f.remote.categories = []string{"Games", "Tools"}
	f.remote.gate = make(chan struct{})
	section := f.catalog().Categories

	snap := section.Get(ctx)

	assert.True(t, snap.Cached)
	assert.Equal(t, []string{"Games"}, snap.Value)
	assert.True(t, snap.IsRefreshing)
	assert.NoError(t, snap.Err)

	close(f.remote.gate)
	section.Wait()

	snap = section.Get(ctx)
	assert.Equal(t, []string{"Games", "Tools"}, snap.Value)
	assert.False(t, snap.IsRefreshing)
	assert.False(t, f.policy.IsStale(ctx, Categories, 7))
}

func TestGetCoalescesRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.categories = []string{"Games"}
	f.remote.gate = make(chan struct{})
	section := f.catalog().Categories

	for j := 0; j < 5; j++ {
		snap := section.Get(ctx)
		assert.False(t, snap.Cached)
		assert.True(t, snap.IsRefreshing)
	}

	close(f.remote.gate)
	section.Wait()
	assert.Equal(t, 1, f.remote.count("categories"))
}

func TestRefreshConcurrentCallersShareFetch(t *testing.T) {
	f := newFixture(t)
	f.remote.categories = []string{"Games"}
	f.remote.gate = make(chan struct{})
	section := f.catalog().Categories

	var wg sync.WaitGroup
	results := make([][]string, 4)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			names, err := section.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = names
		}()
	}

	require.Eventually(t, func() bool { return f.remote.count("categories") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.remote.gate)
	wg.Wait()

	assert.Equal(t, 1, f.remote.count("categories"))
	for _, names := range results {
		assert.Equal(t, []string{"Games"}, names)
	}
}

func alwaysRefresh(context.Context, []string, bool) (bool, string) {
	return true, "always"
}

func busy[T any](s *Section[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background || s.inflight > 0
}

func TestGetDuringRefreshClearsRefreshingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var fetches atomic.Int32
	var section *Section[[]string]
	section = New(Config[[]string]{
		Name: "nested",
		Load: func(context.Context) ([]string, bool, error) { return nil, false, nil },
		Fetch: func(ctx context.Context) ([]string, error) {
			if fetches.Add(1) == 1 {
				assert.True(t, section.Get(ctx).IsRefreshing)
			}
			return []string{"x"}, nil
		},
		Save:   func(context.Context, []string) error { return nil },
		Checks: []Check[[]string]{alwaysRefresh},
	}, f.policy, f.opts)

	_, err := section.Refresh(ctx)
	require.NoError(t, err)
	section.Wait()
	assert.False(t, busy(section))

	before := fetches.Load()
	assert.True(t, section.Get(ctx).IsRefreshing)
	section.Wait()
	assert.Equal(t, before+1, fetches.Load())
	assert.False(t, busy(section))
}

func TestRefreshingStateClearsUnderContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for j := 0; j < 50; j++ {
		section := New(Config[[]string]{
			Name:   "contended",
			Load:   func(context.Context) ([]string, bool, error) { return nil, false, nil },
			Fetch:  func(context.Context) ([]string, error) { return []string{"x"}, nil },
			Save:   func(context.Context, []string) error { return nil },
			Checks: []Check[[]string]{alwaysRefresh},
		}, f.policy, f.opts)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := section.Refresh(ctx)
			assert.NoError(t, err)
		}()
		for k := 0; k < 4; k++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				section.Get(ctx)
			}()
		}
		wg.Wait()
		section.Wait()

		require.False(t, busy(section))
	}
}

func TestGetReportsErrorWhenNothingCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.categoriesErr = errNetwork
	section := f.catalog().Categories

	snap := section.Get(ctx)
	assert.NoError(t, snap.Err)
	section.Wait()

	snap = section.Get(ctx)
	assert.False(t, snap.Cached)
	assert.ErrorIs(t, snap.Err, catalog.ErrRemoteFetchFailed)
	section.Wait()
}

type failingSaveStore struct {
	storage.Store
}

func (failingSaveStore) ReplaceCategories(context.Context, []string) error {
	return errors.New("disk full")
}

func TestSaveFailureLeavesSectionStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.categories = []string{"Games"}
	section := NewCategories(failingSaveStore{f.store}, f.remote, f.policy, 7, f.opts)

	names, err := section.Resolve(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"Games"}, names)
	assert.True(t, f.policy.IsStale(ctx, Categories, 7))
}

func TestInvalidateReloadsFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Games"}))
	require.NoError(t, f.policy.MarkFresh(ctx, Categories))
	section := f.catalog().Categories

	names, _ := section.Resolve(ctx)
	assert.Equal(t, []string{"Games"}, names)

	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Tools"}))
	names, _ = section.Resolve(ctx)
	assert.Equal(t, []string{"Games"}, names, "mirror answers until invalidated")

	section.Invalidate()
	names, _ = section.Resolve(ctx)
	assert.Equal(t, []string{"Tools"}, names)
}

func TestOnUpdateHook(t *testing.T) {
	f := newFixture(t)
	var got []string
	section := New(Config[[]string]{
		Name:     "custom",
		Load:     func(context.Context) ([]string, bool, error) { return nil, false, nil },
		Fetch:    func(context.Context) ([]string, error) { return []string{"x"}, nil },
		Save:     func(context.Context, []string) error { return nil },
		OnUpdate: func(v []string) { got = v },
	}, f.policy, f.opts)

	_, err := section.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)
	assert.Equal(t, "custom", section.Name())
}

// Catalog

func TestCatalogStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceCategories(ctx, []string{"Games"}))
	require.NoError(t, f.policy.MarkFresh(ctx, Categories))
	c := f.catalog()

	snap, err := c.Status(ctx, Categories)
	require.NoError(t, err)
	assert.True(t, snap.Cached)
	assert.Equal(t, []string{"Games"}, snap.Value)
	assert.False(t, snap.IsRefreshing)

	_, err = c.Status(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSection)
	_, err = c.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSection)
	_, err = c.Refresh(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSection)

	assert.Equal(t, []string{AppOfTheDay, AppsOfTheWeek, Categories}, c.Names())
	c.Wait()
}

func TestCatalogStatusUncachedHasNilValue(t *testing.T) {
	f := newFixture(t)
	f.remote.featuredErr = errNetwork
	c := f.catalog()

	snap, err := c.Status(context.Background(), AppOfTheDay)
	require.NoError(t, err)
	assert.Nil(t, snap.Value)
	assert.False(t, snap.Cached)
	c.Wait()
}
