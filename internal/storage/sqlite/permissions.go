package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/storage"
)

// maxBatchParams bounds the number of bound parameters in one IN clause.
const maxBatchParams = 500

// GetPermissions returns the manifests of keys that are stored for the exact
// version and not outdated. Rows whose payload cannot be decoded are omitted.
// When several requested versions of one app hit, the last row read wins.
func (s *Store) GetPermissions(ctx context.Context, keys []domain.AppVersion) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(keys) == 0 {
		return result, nil
	}

	wanted := make(map[domain.AppVersion]bool, len(keys))
	var appIDs []string
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
		if !seen[k.AppID] {
			seen[k.AppID] = true
			appIDs = append(appIDs, k.AppID)
		}
	}

	for _, chunk := range chunks(appIDs, maxBatchParams) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.Query(ctx, `
			SELECT app_id, version, permissions FROM app_permissions
			WHERE outdated = 0 AND app_id IN (`+placeholders(len(chunk))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("get permissions: %w", err)
		}
		if err := s.scanPermissions(rows, wanted, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) scanPermissions(rows *sql.Rows, wanted map[domain.AppVersion]bool, result map[string][]string) error {
	defer rows.Close()

	for rows.Next() {
		var key domain.AppVersion
		var permsJSON string
		if err := rows.Scan(&key.AppID, &key.Version, &permsJSON); err != nil {
			return err
		}
		if !wanted[key] {
			continue
		}
		var perms []string
		if err := json.Unmarshal([]byte(permsJSON), &perms); err != nil {
			s.log.Warn().
				Err(&storage.DecodeError{Table: "app_permissions", Column: "permissions", Key: key.String(), Err: err}).
				Msg("dropping undecodable permission row")
			continue
		}
		if perms == nil {
			perms = []string{}
		}
		result[key.AppID] = perms
	}
	return rows.Err()
}

// PutPermissions stores all entries in one transaction, replacing any row for
// the same app and version and clearing its outdated flag.
func (s *Store) PutPermissions(ctx context.Context, entries map[string]domain.PermissionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		return s.putPermissions(ctx, tx, entries)
	})
}

func (s *Store) putPermissions(ctx context.Context, tx *sql.Tx, entries map[string]domain.PermissionEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO app_permissions (app_id, version, permissions, cached_at, outdated)
		VALUES (?, ?, ?, ?, 0)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	appIDs := make([]string, 0, len(entries))
	for id := range entries {
		appIDs = append(appIDs, id)
	}
	sort.Strings(appIDs)

	cachedAt := toMillis(s.now())
	for _, appID := range appIDs {
		entry := entries[appID]
		if strings.TrimSpace(appID) == "" || strings.TrimSpace(entry.Version) == "" {
			return fmt.Errorf("permission entry %q: app id and version are required", appID)
		}
		perms := entry.Permissions
		if perms == nil {
			perms = []string{}
		}
		permsJSON, err := json.Marshal(perms)
		if err != nil {
			return fmt.Errorf("failed to marshal permissions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, appID, entry.Version, string(permsJSON), cachedAt); err != nil {
			return fmt.Errorf("put permissions %s: %w", appID, err)
		}
	}
	return nil
}

// MarkPermissionsOutdated flags every stored version of the given apps. All
// chunks run in one transaction; the first failure aborts the whole batch.
func (s *Store) MarkPermissionsOutdated(ctx context.Context, appIDs []string) error {
	ids := uniqueNonEmpty(appIDs)
	if len(ids) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunks(ids, maxBatchParams) {
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE app_permissions SET outdated = 1 WHERE app_id IN ("+placeholders(len(chunk))+")",
				args...); err != nil {
				return fmt.Errorf("mark permissions outdated: %w", err)
			}
		}
		return nil
	})
}

// PrunePermissions deletes every row whose app and version pair is not in
// current and returns the number of rows removed.
func (s *Store) PrunePermissions(ctx context.Context, current []domain.AppVersion) (int64, error) {
	var deleted int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			CREATE TEMP TABLE IF NOT EXISTS current_apps (
				app_id TEXT NOT NULL,
				version TEXT NOT NULL,
				PRIMARY KEY (app_id, version)
			)
		`); err != nil {
			return fmt.Errorf("create current_apps: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM temp.current_apps"); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO temp.current_apps (app_id, version) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, app := range current {
			if _, err := stmt.ExecContext(ctx, app.AppID, app.Version); err != nil {
				return fmt.Errorf("stage current app %s: %w", app, err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM app_permissions
			WHERE NOT EXISTS (
				SELECT 1 FROM temp.current_apps c
				WHERE c.app_id = app_permissions.app_id AND c.version = app_permissions.version
			)
		`)
		if err != nil {
			return fmt.Errorf("prune permissions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM temp.current_apps")
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
