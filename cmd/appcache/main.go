// Package main is the entry point for the appcache command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jwulff/appcache/internal/catalog"
	"github.com/jwulff/appcache/internal/config"
	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/flatpak"
	"github.com/jwulff/appcache/internal/freshness"
	"github.com/jwulff/appcache/internal/logging"
	"github.com/jwulff/appcache/internal/notifications"
	"github.com/jwulff/appcache/internal/permissions"
	"github.com/jwulff/appcache/internal/sections"
	"github.com/jwulff/appcache/internal/storage/sqlite"
)

const searchPageSize = 20

func main() {
	if len(os.Args) < 2 {
		showUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		exitf("Error: %v", err)
	}
	defer a.close()

	args := os.Args[2:]
	switch os.Args[1] {
	case "show":
		err = a.show(ctx, args)
	case "status":
		err = a.status(ctx)
	case "refresh":
		err = a.refresh(ctx, args)
	case "permissions":
		err = a.permissions(ctx)
	case "prune":
		err = a.prune(ctx)
	case "updated":
		err = a.updated(ctx, args)
	case "search":
		err = a.search(ctx, args)
	case "viewed":
		err = a.viewed(ctx, args)
	default:
		showUsage()
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		a.close()
		exitf("Error: %v", err)
	}
}

func showUsage() {
	fmt.Println("Usage:")
	fmt.Println("  appcache show [section]             - Print cached sections, refreshing stale ones")
	fmt.Println("  appcache status                     - Print cached sections without waiting on the network")
	fmt.Println("  appcache refresh [section]          - Force a refresh")
	fmt.Println("  appcache permissions                - Print permissions of installed apps")
	fmt.Println("  appcache prune                      - Drop permissions of apps no longer installed")
	fmt.Println("  appcache updated <app-id> [exit]    - Record a finished update")
	fmt.Println("  appcache search <query> [page]      - Search the remote catalog")
	fmt.Println("  appcache viewed [notification-id]   - List or mark viewed notifications")
	fmt.Println()
	fmt.Println("Sections: appOfTheDay, appsOfTheWeek, categories")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  APPCACHE_DB_PATH    - Cache database (default: user cache dir)")
	fmt.Println("  APPCACHE_API_URL    - Catalog API base URL")
	fmt.Println("  APPCACHE_LOG_LEVEL  - debug, info, warn, error")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type app struct {
	log     *logging.Logger
	store   *sqlite.Store
	remote  *catalog.Client
	catalog *sections.Catalog
	perms   *permissions.Cache
	notes   *notifications.Tracker
	flatpak *flatpak.Client
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	log.Logger = log.With().Str("run_id", uuid.NewString()).Logger()

	store := sqlite.New(cfg.ResolveDBPath, sqlite.WithLogger(log.Logger))

	remote := catalog.NewClient(cfg.APIURL)
	remote.HTTPClient.Timeout = cfg.HTTPTimeout

	policy := freshness.New(store, freshness.WithLogger(log.Logger))
	opts := sections.Options{Logger: log.Logger, FetchTimeout: cfg.FetchTimeout}

	return &app{
		log:     log,
		store:   store,
		remote:  remote,
		catalog: sections.NewCatalog(store, remote, policy, cfg.Windows(), cfg.DetailConcurrency, opts),
		perms:   permissions.New(store, permissions.WithLogger(log.Logger), permissions.WithConcurrency(cfg.DetailConcurrency)),
		notes:   notifications.New(store, log.Logger),
		flatpak: flatpak.NewClient(nil, log.Logger),
	}, nil
}

func (a *app) close() {
	a.catalog.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
	_ = a.log.Close()
}

func sectionArgs(args []string, all []string) []string {
	if len(args) == 0 {
		return all
	}
	return args
}

func (a *app) show(ctx context.Context, args []string) error {
	for _, name := range sectionArgs(args, a.catalog.Names()) {
		value, err := a.catalog.Resolve(ctx, name)
		if err != nil {
			return err
		}
		printSection(name, value)
	}
	return nil
}

func (a *app) status(ctx context.Context) error {
	for _, name := range a.catalog.Names() {
		snap, err := a.catalog.Status(ctx, name)
		if err != nil {
			return err
		}
		state := "cached"
		if !snap.Cached {
			state = "empty"
		}
		if snap.IsRefreshing {
			state += ", refreshing"
		}
		fmt.Printf("[%s] %s\n", name, state)
		if snap.Err != nil {
			fmt.Printf("  last refresh failed: %v\n", snap.Err)
		}
		if snap.Cached {
			printSection(name, snap.Value)
		}
	}
	return nil
}

func (a *app) refresh(ctx context.Context, args []string) error {
	var errs []error
	for _, name := range sectionArgs(args, a.catalog.Names()) {
		if _, err := a.catalog.Refresh(ctx, name); err != nil {
			fmt.Printf("%s: %v\n", name, err)
			errs = append(errs, err)
			continue
		}
		fmt.Printf("%s: refreshed\n", name)
	}
	return errors.Join(errs...)
}

func (a *app) permissions(ctx context.Context) error {
	installed, err := a.flatpak.Installed(ctx)
	if err != nil {
		return err
	}
	perms := a.perms.Resolve(ctx, installed, a.flatpak)

	for _, inst := range installed {
		list, ok := perms[inst.AppID]
		if !ok {
			fmt.Printf("%s: unavailable\n", inst)
			continue
		}
		fmt.Printf("%s:\n", inst)
		for _, p := range list {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func (a *app) prune(ctx context.Context) error {
	installed, err := a.flatpak.Installed(ctx)
	if err != nil {
		return err
	}
	removed, err := a.perms.PruneToCurrent(ctx, installed)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d permission record(s), %d app(s) installed\n", removed, len(installed))
	return nil
}

func (a *app) updated(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: appcache updated <app-id> [exit-code]")
	}
	result := domain.UpdateResult{AppID: args[0], Success: true}
	if len(args) > 1 {
		code, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("exit code %q: %w", args[1], err)
		}
		result.ExitCode = code
		result.Success = code == 0
	}
	if err := a.perms.HandleUpdate(ctx, result); err != nil {
		return err
	}
	if result.Succeeded() {
		fmt.Printf("Permissions of %s will be re-read\n", result.AppID)
	}
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: appcache search <query> [page]")
	}
	page := 1
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p < 1 {
			return fmt.Errorf("invalid page %q", args[1])
		}
		page = p
	}

	result, err := a.remote.SearchCatalog(ctx, args[0], nil, page, searchPageSize)
	if err != nil {
		return err
	}
	fmt.Printf("%s hit(s), page %d of %d\n", humanize.Comma(int64(result.TotalHits)), result.Page, result.TotalPages)
	for _, hit := range result.Hits {
		fmt.Printf("  %-40s %s\n", hit.AppID, hit.Summary)
	}
	return nil
}

func (a *app) viewed(ctx context.Context, args []string) error {
	if len(args) > 0 {
		for _, id := range args {
			a.notes.MarkViewed(ctx, id)
		}
		return nil
	}
	viewed, err := a.notes.Viewed(ctx)
	if err != nil {
		return err
	}
	for _, n := range viewed {
		fmt.Printf("  %-30s %s\n", n.ID, humanize.Time(n.ViewedAt))
	}
	return nil
}

func printSection(name string, value any) {
	switch v := value.(type) {
	case *domain.FeaturedApp:
		if v == nil {
			fmt.Printf("%s: none\n", name)
			return
		}
		fmt.Printf("App of the day (%s): %s\n", v.Day, appLabel(v.AppID, v.Name))
		if v.Detail != nil && v.Detail.Summary != "" {
			fmt.Printf("  %s\n", v.Detail.Summary)
		}
		printExtended(v.Extended)
	case []domain.WeeklyPick:
		fmt.Println("Apps of the week:")
		for _, pick := range v {
			fmt.Printf("  %d. %s\n", pick.Position, appLabel(pick.AppID, pick.Name))
		}
	case []string:
		fmt.Printf("Categories: %s\n", strings.Join(v, ", "))
	default:
		fmt.Printf("%s: %v\n", name, v)
	}
}

func printExtended(ext *domain.ExtendedDetail) {
	if ext == nil {
		return
	}
	fmt.Printf("  download %s, installed %s\n",
		humanize.Bytes(uint64(max(ext.DownloadSize, 0))),
		humanize.Bytes(uint64(max(ext.InstalledSize, 0))))
}

func appLabel(id, name string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}
