package sections

import (
	"context"

	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
)

// Check decides whether a cached value must be refreshed. present is false
// when nothing usable is cached. A non-empty reason is logged.
type Check[T any] func(ctx context.Context, value T, present bool) (refresh bool, reason string)

// NeedsRefresh evaluates checks in order and returns the first that fires.
func NeedsRefresh[T any](ctx context.Context, value T, present bool, checks ...Check[T]) (bool, string) {
	for _, check := range checks {
		if refresh, reason := check(ctx, value, present); refresh {
			return true, reason
		}
	}
	return false, ""
}

// Missing fires when nothing is cached.
func Missing[T any]() Check[T] {
	return func(_ context.Context, _ T, present bool) (bool, string) {
		return !present, "no cached value"
	}
}

// Stale fires when the section's last update is outside its window.
func Stale[T any](policy *freshness.Policy, section string, maxAgeDays int) Check[T] {
	return func(ctx context.Context, _ T, _ bool) (bool, string) {
		return policy.IsStale(ctx, section, maxAgeDays), "section is stale"
	}
}

// FeaturedIncomplete fires when a cached featured app lacks a nested payload,
// as caches written by older builds do.
func FeaturedIncomplete() Check[*domain.FeaturedApp] {
	return func(_ context.Context, app *domain.FeaturedApp, present bool) (bool, string) {
		return present && !app.IsComplete(), "cached featured app is missing detail payload"
	}
}

// PicksIncomplete fires when any cached pick lacks a nested payload.
func PicksIncomplete() Check[[]domain.WeeklyPick] {
	return func(_ context.Context, picks []domain.WeeklyPick, present bool) (bool, string) {
		if !present {
			return false, ""
		}
		for _, pick := range picks {
			if !pick.IsComplete() {
				return true, "cached weekly pick " + pick.AppID + " is missing detail payload"
			}
		}
		return false, ""
	}
}
