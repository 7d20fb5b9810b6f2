package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwulff/appcache/internal/domain"
)

// DefaultBaseURL is the Flathub v2 API.
const DefaultBaseURL = "https://flathub.org/api/v2"

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 15 * time.Second

// Client is an HTTP client for the catalog API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new catalog client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type appPick struct {
	AppID        string `json:"app_id"`
	Day          string `json:"day"`
	Position     int    `json:"position"`
	IsFullscreen bool   `json:"isFullscreen"`
}

type weeklyPicksResponse struct {
	Apps []appPick `json:"apps"`
}

type summaryResponse struct {
	Arches        []string `json:"arches"`
	DownloadSize  int64    `json:"download_size"`
	InstalledSize int64    `json:"installed_size"`
	Timestamp     int64    `json:"timestamp"`
	Metadata      struct {
		Runtime string `json:"runtime"`
	} `json:"metadata"`
}

type searchRequest struct {
	Query       string   `json:"query"`
	Filters     []Filter `json:"filters,omitempty"`
	HitsPerPage int      `json:"hits_per_page,omitempty"`
	Page        int      `json:"page,omitempty"`
}

// FetchCategories returns the category names.
func (c *Client) FetchCategories(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/categories", &names); err != nil {
		return nil, err
	}
	return domain.NormalizeCategories(names), nil
}

// FetchFeaturedApp returns the app of the day for date. Only AppID and Day
// are populated; details are fetched separately.
func (c *Client) FetchFeaturedApp(ctx context.Context, date string) (*domain.FeaturedApp, error) {
	var pick appPick
	if err := c.get(ctx, "/app-picks/app-of-the-day/"+url.PathEscape(date), &pick); err != nil {
		return nil, err
	}
	if pick.AppID == "" {
		return nil, fmt.Errorf("%w: app of the day for %s has no app id", ErrRemoteFetchFailed, date)
	}
	day := pick.Day
	if day == "" {
		day = date
	}
	return &domain.FeaturedApp{AppID: pick.AppID, Day: day}, nil
}

// FetchWeeklyPicks returns the apps of the week for date. Only AppID,
// Position and IsFullscreen are populated.
func (c *Client) FetchWeeklyPicks(ctx context.Context, date string) ([]domain.WeeklyPick, error) {
	var resp weeklyPicksResponse
	if err := c.get(ctx, "/app-picks/apps-of-the-week/"+url.PathEscape(date), &resp); err != nil {
		return nil, err
	}
	picks := make([]domain.WeeklyPick, 0, len(resp.Apps))
	for _, app := range resp.Apps {
		if app.AppID == "" {
			continue
		}
		picks = append(picks, domain.WeeklyPick{
			AppID:        app.AppID,
			Position:     app.Position,
			IsFullscreen: app.IsFullscreen,
		})
	}
	return picks, nil
}

// FetchAppDetail returns the appstream record for appID.
func (c *Client) FetchAppDetail(ctx context.Context, appID string) (*domain.AppDetail, error) {
	var detail domain.AppDetail
	if err := c.get(ctx, "/appstream/"+url.PathEscape(appID), &detail); err != nil {
		return nil, err
	}
	if detail.ID == "" {
		detail.ID = appID
	}
	return &detail, nil
}

// FetchAppSummary returns build information for appID.
func (c *Client) FetchAppSummary(ctx context.Context, appID string) (*domain.ExtendedDetail, error) {
	var resp summaryResponse
	if err := c.get(ctx, "/summary/"+url.PathEscape(appID), &resp); err != nil {
		return nil, err
	}
	return &domain.ExtendedDetail{
		Arches:        resp.Arches,
		DownloadSize:  resp.DownloadSize,
		InstalledSize: resp.InstalledSize,
		Runtime:       resp.Metadata.Runtime,
		UpdatedAt:     resp.Timestamp,
	}, nil
}

// SearchCatalog runs a full-text search.
func (c *Client) SearchCatalog(ctx context.Context, query string, filters []Filter, page, pageSize int) (*SearchResult, error) {
	body, err := json.Marshal(searchRequest{Query: query, Filters: filters, HitsPerPage: pageSize, Page: page})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}
	var result SearchResult
	if err := c.do(ctx, http.MethodPost, "/search", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends a request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrRemoteFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRemoteFetchFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrRemoteFetchFailed, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %w", ErrRemoteFetchFailed, path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d: %s", ErrRemoteFetchFailed, path, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to parse %s: %w", ErrRemoteFetchFailed, path, err)
	}
	return nil
}

// Verify interface compliance
var _ Remote = (*Client)(nil)
