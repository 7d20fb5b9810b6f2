// Package catalog talks to the remote application catalog.
package catalog

import (
	"context"
	"errors"

	"github.com/jwulff/appcache/internal/domain"
)

var (
	// ErrRemoteFetchFailed wraps every network or API failure.
	ErrRemoteFetchFailed = errors.New("remote fetch failed")

	// ErrNotFound is returned alongside ErrRemoteFetchFailed for 404 responses.
	ErrNotFound = errors.New("not found")
)

// Remote is the remote catalog the caches read through to.
type Remote interface {
	FetchCategories(ctx context.Context) ([]string, error)
	FetchWeeklyPicks(ctx context.Context, date string) ([]domain.WeeklyPick, error)
	FetchFeaturedApp(ctx context.Context, date string) (*domain.FeaturedApp, error)
	FetchAppDetail(ctx context.Context, appID string) (*domain.AppDetail, error)
	FetchAppSummary(ctx context.Context, appID string) (*domain.ExtendedDetail, error)
	SearchCatalog(ctx context.Context, query string, filters []Filter, page, pageSize int) (*SearchResult, error)
}

// Filter narrows a search, e.g. {Field: "main_categories", Value: "Game"}.
type Filter struct {
	Field string `json:"filterType"`
	Value string `json:"value"`
}

// SearchHit is one search result.
type SearchHit struct {
	AppID   string `json:"app_id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Icon    string `json:"icon"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Hits       []SearchHit `json:"hits"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
	TotalHits  int         `json:"totalHits"`
}
