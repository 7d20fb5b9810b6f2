package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jwulff/appcache/internal/config"
	"github.com/jwulff/appcache/internal/storage/sqlite"
)

var tables = []string{
	"cache_metadata",
	"featured_app",
	"weekly_picks",
	"categories",
	"viewed_notifications",
	"app_permissions",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	path := cfg.DBPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		if path, err = cfg.ResolveDBPath(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := sqlite.NewFileStore(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dump := make(map[string][]map[string]any, len(tables))
	for _, table := range tables {
		rows, err := dumpTable(ctx, store, table)
		if err != nil {
			fmt.Printf("Error reading %s: %v\n", table, err)
			os.Exit(1)
		}
		dump[table] = rows
	}

	data, _ := json.MarshalIndent(dump, "", "  ")
	fmt.Printf("Cache: %s\n", path)
	for _, table := range tables {
		fmt.Printf("  %s: %d row(s)\n", table, len(dump[table]))
	}
	fmt.Println(string(data))
}

func dumpTable(ctx context.Context, store *sqlite.Store, table string) ([]map[string]any, error) {
	rows, err := store.Query(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
