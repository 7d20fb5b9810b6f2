package sqlite

// schema contains the database schema DDL.
const schema = `
-- Section freshness
CREATE TABLE IF NOT EXISTS cache_metadata (
    section_name TEXT PRIMARY KEY,
    last_update_date TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- App of the day
CREATE TABLE IF NOT EXISTS featured_app (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    app_id TEXT NOT NULL,
    name TEXT,
    icon TEXT,
    day TEXT NOT NULL,
    app_stream TEXT,
    extended TEXT,
    cached_at INTEGER NOT NULL
);

-- Apps of the week
CREATE TABLE IF NOT EXISTS weekly_picks (
    app_id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    name TEXT,
    icon TEXT,
    summary TEXT,
    app_stream TEXT,
    extended TEXT,
    is_fullscreen INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_weekly_picks_position ON weekly_picks(position);

-- Categories
CREATE TABLE IF NOT EXISTS categories (
    name TEXT PRIMARY KEY
);

-- Notifications
CREATE TABLE IF NOT EXISTS viewed_notifications (
    notification_id TEXT PRIMARY KEY,
    viewed_at INTEGER NOT NULL
);

-- Permission manifests
CREATE TABLE IF NOT EXISTS app_permissions (
    app_id TEXT NOT NULL,
    version TEXT NOT NULL,
    permissions TEXT NOT NULL,
    cached_at INTEGER NOT NULL,
    PRIMARY KEY (app_id, version)
);
`

// migration is an additive schema change applied on every open.
type migration struct {
	name string
	stmt string
}

// migrations run in order after schema. Each must be safe to re-run; a
// duplicate column failure means it was applied by an earlier open.
var migrations = []migration{
	{
		name: "app_permissions.outdated",
		stmt: `ALTER TABLE app_permissions ADD COLUMN outdated INTEGER NOT NULL DEFAULT 0`,
	},
	{
		name: "idx_app_permissions_outdated",
		stmt: `CREATE INDEX IF NOT EXISTS idx_app_permissions_outdated ON app_permissions(app_id, outdated)`,
	},
}
