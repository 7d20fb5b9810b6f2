package sections

import (
	"context"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/storage"
)

// NewCategories creates the category-name section. Values are sorted by name,
// ignoring case, whether they come from the store or the remote catalog.
func NewCategories(store storage.Store, remote catalog.Remote, policy *freshness.Policy, maxAgeDays int, opts Options) *Section[[]string] {
	return New(Config[[]string]{
		Name:       Categories,
		MaxAgeDays: maxAgeDays,
		Load: func(ctx context.Context) ([]string, bool, error) {
			names, err := store.GetCategories(ctx)
			if err != nil {
				return nil, false, err
			}
			sortNames(names)
			return names, len(names) > 0 || written(ctx, store, Categories), nil
		},
		Fetch: func(ctx context.Context) ([]string, error) {
			names, err := remote.FetchCategories(ctx)
			if err != nil {
				return nil, err
			}
			names = domain.NormalizeCategories(names)
			sortNames(names)
			return names, nil
		},
		Save:  store.ReplaceCategories,
		Clone: slices.Clone[[]string],
	}, policy, opts)
}

// written reports whether a refresh of section has been stored, which tells
// an empty list apart from one never fetched.
func written(ctx context.Context, store storage.Store, section string) bool {
	_, err := store.GetMetadata(ctx, section)
	return err == nil
}

func sortNames(names []string) {
	collate.New(language.Und, collate.IgnoreCase).SortStrings(names)
}
