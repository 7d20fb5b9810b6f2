// Package sections serves cached catalog sections and revalidates them against
// the remote catalog in the background.
package sections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
)

// DefaultFetchTimeout bounds a background refresh.
const DefaultFetchTimeout = 30 * time.Second

// Snapshot is what a consumer sees when it asks for a section.
type Snapshot[T any] struct {
	Value        T
	Cached       bool // Value holds cached or fetched data
	IsRefreshing bool
	Err          error // last refresh error, only set while nothing is cached
}

// Config describes how a section is loaded, fetched and stored.
type Config[T any] struct {
	Name       string
	MaxAgeDays int

	// Load reads the cached value. present is false when nothing is stored.
	Load func(ctx context.Context) (value T, present bool, err error)
	// Fetch retrieves a fresh value from the remote catalog.
	Fetch func(ctx context.Context) (T, error)
	// Save writes a fetched value through to the store.
	Save func(ctx context.Context, value T) error

	// Checks are evaluated after the missing and staleness checks.
	Checks []Check[T]

	// OnUpdate is called after each successful refresh.
	OnUpdate func(T)

	// Clone copies a value before it is handed to a caller so the in-memory
	// mirror cannot be mutated from outside. Nil hands out the value as is.
	Clone func(T) T
}

// Options are shared by every section.
type Options struct {
	Logger       zerolog.Logger
	FetchTimeout time.Duration
}

// Section is a read-through cache for one section with stale-while-revalidate
// semantics. At most one fetch is in flight per section.
type Section[T any] struct {
	cfg     Config[T]
	checks  []Check[T]
	fresh   *freshness.Policy
	log     zerolog.Logger
	timeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup

	mu         sync.Mutex
	mirror     T
	mirrored   bool
	inflight   int  // callers inside Refresh
	background bool // a startRefresh goroutine is running
	lastErr    error
}

// New creates a section. The missing and staleness checks always run first.
func New[T any](cfg Config[T], policy *freshness.Policy, opts Options) *Section[T] {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	checks := []Check[T]{
		Missing[T](),
		Stale[T](policy, cfg.Name, cfg.MaxAgeDays),
	}
	checks = append(checks, cfg.Checks...)

	return &Section[T]{
		cfg:     cfg,
		checks:  checks,
		fresh:   policy,
		log:     opts.Logger.With().Str("section", cfg.Name).Logger(),
		timeout: timeout,
	}
}

// Name returns the section name.
func (s *Section[T]) Name() string {
	return s.cfg.Name
}

// Get returns the cached value without waiting on the network and starts a
// background refresh when one is needed.
func (s *Section[T]) Get(ctx context.Context) Snapshot[T] {
	value, present := s.cached(ctx)
	if refresh, reason := NeedsRefresh(ctx, value, present, s.checks...); refresh {
		s.log.Debug().Str("reason", reason).Msg("refresh needed")
		s.startRefresh()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot[T]{Value: value, Cached: present, IsRefreshing: s.background || s.inflight > 0}
	if !present {
		snap.Err = s.lastErr
	}
	return snap
}

// Resolve returns the cached value when it is usable and otherwise refreshes
// synchronously. A failed refresh falls back to the cached value when there
// is one.
func (s *Section[T]) Resolve(ctx context.Context) (T, error) {
	value, present := s.cached(ctx)
	refresh, reason := NeedsRefresh(ctx, value, present, s.checks...)
	if !refresh {
		return value, nil
	}
	s.log.Debug().Str("reason", reason).Msg("refresh needed")

	fresh, err := s.Refresh(ctx)
	if err != nil {
		if present {
			s.log.Warn().Err(err).Msg("refresh failed, serving cached value")
			return value, nil
		}
		var zero T
		return zero, err
	}
	return fresh, nil
}

// Refresh fetches and writes through unconditionally. Concurrent callers share
// a single fetch.
func (s *Section[T]) Refresh(ctx context.Context) (T, error) {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	v, err, shared := s.group.Do(s.cfg.Name, func() (any, error) {
		return s.refresh(ctx)
	})
	if shared {
		s.log.Debug().Msg("joined in-flight refresh")
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return s.clone(v.(T)), nil
}

// Wait blocks until background refreshes started by Get have finished.
func (s *Section[T]) Wait() {
	s.wg.Wait()
}

// Invalidate drops the in-memory mirror so the next read goes to the store.
func (s *Section[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.mirror = zero
	s.mirrored = false
}

// startRefresh runs at most one background refresh. The goroutine clears
// the flag itself: its Refresh may join a call that is already finishing, in
// which case refresh never runs on its behalf.
func (s *Section[T]) startRefresh() {
	s.mu.Lock()
	if s.background {
		s.mu.Unlock()
		return
	}
	s.background = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.background = false
			s.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("background refresh failed")
		}
	}()
}

func (s *Section[T]) refresh(ctx context.Context) (T, error) {
	value, err := s.fetchAndStore(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		var zero T
		return zero, err
	}
	s.lastErr = nil
	s.mirror = value
	s.mirrored = true
	return value, nil
}

func (s *Section[T]) fetchAndStore(ctx context.Context) (T, error) {
	start := time.Now()
	value, err := s.cfg.Fetch(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("refresh %s: %w", s.cfg.Name, err)
	}

	if err := s.cfg.Save(ctx, value); err != nil {
		s.log.Error().Err(err).Msg("write-through failed, section left stale")
	} else if err := s.fresh.MarkFresh(ctx, s.cfg.Name); err != nil {
		s.log.Error().Err(err).Msg("failed to mark section fresh")
	}

	s.log.Info().Dur("took", time.Since(start)).Msg("section refreshed")
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(value)
	}
	return value, nil
}

// cached returns the mirror or loads from the store. Read and decode failures
// count as nothing cached.
func (s *Section[T]) cached(ctx context.Context) (T, bool) {
	s.mu.Lock()
	if s.mirrored {
		v := s.clone(s.mirror)
		s.mu.Unlock()
		return v, true
	}
	s.mu.Unlock()

	value, present, err := s.cfg.Load(ctx)
	if err != nil {
		var zero T
		switch {
		case storage.IsNotFound(err):
		case storage.IsDecodeFailed(err):
			s.log.Warn().Err(err).Msg("cached payload unreadable, treating as miss")
		case errors.Is(err, storage.ErrStoreUnavailable):
			s.log.Warn().Err(err).Msg("store unavailable, treating as miss")
		default:
			s.log.Warn().Err(err).Msg("cache read failed, treating as miss")
		}
		return zero, false
	}
	if !present {
		var zero T
		return zero, false
	}

	s.mu.Lock()
	s.mirror = value
	s.mirrored = true
	s.mu.Unlock()
	return s.clone(value), true
}

func (s *Section[T]) clone(v T) T {
	if s.cfg.Clone == nil {
		return v
	}
	return s.cfg.Clone(v)
}
