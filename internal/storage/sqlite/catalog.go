package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwulff/appcache/internal/domain"
	"github.com/jwulff/appcache/internal/storage"
)

// Metadata methods

func (s *Store) GetMetadata(ctx context.Context, section string) (*storage.CacheMetadata, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	var meta storage.CacheMetadata
	var updatedAt int64
	err = db.QueryRowContext(ctx, `
		SELECT section_name, last_update_date, updated_at
		FROM cache_metadata WHERE section_name = ?
	`, section).Scan(&meta.Section, &meta.LastUpdateDate, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Resource: "cache_metadata", ID: section}
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	meta.UpdatedAt = fromMillis(updatedAt)
	return &meta, nil
}

func (s *Store) SetMetadata(ctx context.Context, section, date string, updatedAt time.Time) error {
	if strings.TrimSpace(section) == "" {
		return fmt.Errorf("section name is required")
	}
	_, err := s.Exec(ctx, `
		INSERT INTO cache_metadata (section_name, last_update_date, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(section_name) DO UPDATE SET
			last_update_date = excluded.last_update_date,
			updated_at = excluded.updated_at
	`, section, date, toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// Featured app methods

func (s *Store) GetFeaturedApp(ctx context.Context) (*domain.FeaturedApp, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	var app domain.FeaturedApp
	var name, icon, detailJSON, extendedJSON sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT app_id, name, icon, day, app_stream, extended
		FROM featured_app WHERE id = 1
	`).Scan(&app.AppID, &name, &icon, &app.Day, &detailJSON, &extendedJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Resource: "featured_app", ID: "1"}
	}
	if err != nil {
		return nil, fmt.Errorf("get featured app: %w", err)
	}
	app.Name = name.String
	app.Icon = icon.String

	if app.Detail, err = decodePayload[domain.AppDetail](detailJSON, "featured_app", "app_stream", app.AppID); err != nil {
		return nil, err
	}
	if app.Extended, err = decodePayload[domain.ExtendedDetail](extendedJSON, "featured_app", "extended", app.AppID); err != nil {
		return nil, err
	}
	return &app, nil
}

// SaveFeaturedApp replaces the singleton row. Delete and insert share one
// transaction so readers never observe an empty table.
func (s *Store) SaveFeaturedApp(ctx context.Context, app *domain.FeaturedApp) error {
	if app == nil || strings.TrimSpace(app.AppID) == "" {
		return fmt.Errorf("featured app id is required")
	}
	detailJSON, err := encodePayload(app.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal app_stream: %w", err)
	}
	extendedJSON, err := encodePayload(app.Extended)
	if err != nil {
		return fmt.Errorf("failed to marshal extended: %w", err)
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM featured_app"); err != nil {
			return fmt.Errorf("clear featured app: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO featured_app (id, app_id, name, icon, day, app_stream, extended, cached_at)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		`, app.AppID, app.Name, app.Icon, app.Day, detailJSON, extendedJSON, toMillis(s.now()))
		if err != nil {
			return fmt.Errorf("insert featured app: %w", err)
		}
		return nil
	})
}

// Weekly pick methods

func (s *Store) GetWeeklyPicks(ctx context.Context) ([]domain.WeeklyPick, error) {
	rows, err := s.Query(ctx, `
		SELECT app_id, position, name, icon, summary, app_stream, extended, is_fullscreen
		FROM weekly_picks ORDER BY position ASC, app_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get weekly picks: %w", err)
	}
	defer rows.Close()

	var picks []domain.WeeklyPick
	for rows.Next() {
		var pick domain.WeeklyPick
		var name, icon, summary, detailJSON, extendedJSON sql.NullString
		if err := rows.Scan(&pick.AppID, &pick.Position, &name, &icon, &summary,
			&detailJSON, &extendedJSON, &pick.IsFullscreen); err != nil {
			return nil, err
		}
		pick.Name = name.String
		pick.Icon = icon.String
		pick.Summary = summary.String
		if pick.Detail, err = decodePayload[domain.AppDetail](detailJSON, "weekly_picks", "app_stream", pick.AppID); err != nil {
			return nil, err
		}
		if pick.Extended, err = decodePayload[domain.ExtendedDetail](extendedJSON, "weekly_picks", "extended", pick.AppID); err != nil {
			return nil, err
		}
		picks = append(picks, pick)
	}
	return picks, rows.Err()
}

// ReplaceWeeklyPicks clears the list and inserts picks in one transaction.
func (s *Store) ReplaceWeeklyPicks(ctx context.Context, picks []domain.WeeklyPick) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM weekly_picks"); err != nil {
			return fmt.Errorf("clear weekly picks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO weekly_picks (app_id, position, name, icon, summary, app_stream, extended, is_fullscreen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, pick := range picks {
			if strings.TrimSpace(pick.AppID) == "" {
				return fmt.Errorf("weekly pick at position %d has no app id", pick.Position)
			}
			detailJSON, err := encodePayload(pick.Detail)
			if err != nil {
				return fmt.Errorf("failed to marshal app_stream: %w", err)
			}
			extendedJSON, err := encodePayload(pick.Extended)
			if err != nil {
				return fmt.Errorf("failed to marshal extended: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, pick.AppID, pick.Position, pick.Name, pick.Icon,
				pick.Summary, detailJSON, extendedJSON, pick.IsFullscreen); err != nil {
				return fmt.Errorf("insert weekly pick %s: %w", pick.AppID, err)
			}
		}
		return nil
	})
}

// Category methods

func (s *Store) GetCategories(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, "SELECT name FROM categories ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) ReplaceCategories(ctx context.Context, names []string) error {
	names = domain.NormalizeCategories(names)
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM categories"); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO categories (name) VALUES (?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, name := range names {
			if _, err := stmt.ExecContext(ctx, name); err != nil {
				return fmt.Errorf("insert category %s: %w", name, err)
			}
		}
		return nil
	})
}

// encodePayload marshals v into the JSON payload column. A nil pointer is
// stored as NULL.
func encodePayload[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodePayload parses a JSON payload column. NULL or empty yields nil.
func decodePayload[T any](col sql.NullString, table, column, key string) (*T, error) {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, &storage.DecodeError{Table: table, Column: column, Key: key, Err: err}
	}
	return &v, nil
}
