package domain

import (
	"slices"
	"strings"
)

// AppDetail is the appstream payload embedded in featured and weekly records.
type AppDetail struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Summary       string       `json:"summary,omitempty"`
	Description   string       `json:"description,omitempty"`
	DeveloperName string       `json:"developer_name,omitempty"`
	Icon          string       `json:"icon,omitempty"`
	License       string       `json:"project_license,omitempty"`
	Categories    []string     `json:"categories,omitempty"`
	Screenshots   []Screenshot `json:"screenshots,omitempty"`
}

// Screenshot is a single screenshot entry of an appstream record.
type Screenshot struct {
	Caption string `json:"caption,omitempty"`
	URL     string `json:"url"`
}

// ExtendedDetail is the build summary payload. Caches written before it
// existed lack it entirely.
type ExtendedDetail struct {
	Arches        []string `json:"arches,omitempty"`
	DownloadSize  int64    `json:"download_size"`
	InstalledSize int64    `json:"installed_size"`
	Runtime       string   `json:"runtime,omitempty"`
	UpdatedAt     int64    `json:"timestamp,omitempty"` // Unix seconds
}

// Clone returns a deep copy.
func (d *AppDetail) Clone() *AppDetail {
	if d == nil {
		return nil
	}
	c := *d
	c.Categories = slices.Clone(d.Categories)
	c.Screenshots = slices.Clone(d.Screenshots)
	return &c
}

// Clone returns a deep copy.
func (e *ExtendedDetail) Clone() *ExtendedDetail {
	if e == nil {
		return nil
	}
	c := *e
	c.Arches = slices.Clone(e.Arches)
	return &c
}

// FeaturedApp is the app of the day.
type FeaturedApp struct {
	AppID    string
	Name     string
	Icon     string
	Day      string // YYYY-MM-DD
	Detail   *AppDetail
	Extended *ExtendedDetail
}

// NewFeaturedApp creates a featured app from its detail payload.
func NewFeaturedApp(day string, detail *AppDetail, extended *ExtendedDetail) *FeaturedApp {
	app := &FeaturedApp{
		Day:      day,
		Detail:   detail,
		Extended: extended,
	}
	if detail != nil {
		app.AppID = detail.ID
		app.Name = detail.Name
		app.Icon = detail.Icon
	}
	return app
}

// Clone returns a deep copy.
func (a *FeaturedApp) Clone() *FeaturedApp {
	if a == nil {
		return nil
	}
	c := *a
	c.Detail = a.Detail.Clone()
	c.Extended = a.Extended.Clone()
	return &c
}

// IsComplete reports whether both nested payloads are present.
func (a *FeaturedApp) IsComplete() bool {
	return a != nil && a.Detail != nil && a.Extended != nil
}

// WeeklyPick is one entry of the apps-of-the-week list.
type WeeklyPick struct {
	AppID        string
	Position     int
	Name         string
	Icon         string
	Summary      string
	Detail       *AppDetail
	Extended     *ExtendedDetail
	IsFullscreen bool
}

// ApplyDetail copies display fields from the detail payload.
func (p *WeeklyPick) ApplyDetail(detail *AppDetail) {
	p.Detail = detail
	if detail == nil {
		return
	}
	p.Name = detail.Name
	p.Icon = detail.Icon
	p.Summary = detail.Summary
}

// ClonePicks returns a deep copy of picks.
func ClonePicks(picks []WeeklyPick) []WeeklyPick {
	if picks == nil {
		return nil
	}
	out := make([]WeeklyPick, len(picks))
	for i, p := range picks {
		p.Detail = p.Detail.Clone()
		p.Extended = p.Extended.Clone()
		out[i] = p
	}
	return out
}

// IsComplete reports whether both nested payloads are present.
func (p WeeklyPick) IsComplete() bool {
	return p.Detail != nil && p.Extended != nil
}

// NormalizeCategories trims, drops empties and removes duplicates,
// preserving first occurrence order.
func NormalizeCategories(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
