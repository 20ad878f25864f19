package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a single schema migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of built-in schema migrations. Versions
// must never be reused or edited once released.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_raw_points",
		SQL: `
			CREATE TABLE IF NOT EXISTS raw_points (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				accuracy_meters REAL NOT NULL DEFAULT 0,
				processed INTEGER NOT NULL DEFAULT 0,
				UNIQUE(user_id, timestamp)
			);
			CREATE INDEX IF NOT EXISTS idx_raw_points_user_time ON raw_points(user_id, timestamp);
			CREATE INDEX IF NOT EXISTS idx_raw_points_unprocessed ON raw_points(user_id, processed);
		`,
	},
	{
		Version: 2,
		Name:    "create_visits",
		SQL: `
			CREATE TABLE IF NOT EXISTS visits (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				duration_seconds INTEGER NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_visits_user_time ON visits(user_id, start_time, end_time);
		`,
	},
	{
		Version: 3,
		Name:    "create_significant_places",
		SQL: `
			CREATE TABLE IF NOT EXISTS significant_places (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				latitude_centroid REAL NOT NULL,
				longitude_centroid REAL NOT NULL,
				geocoded INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_places_user ON significant_places(user_id);
			CREATE INDEX IF NOT EXISTS idx_places_user_lat ON significant_places(user_id, latitude_centroid);
		`,
	},
	{
		Version: 4,
		Name:    "create_processed_visits",
		SQL: `
			CREATE TABLE IF NOT EXISTS processed_visits (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				place_id INTEGER NOT NULL REFERENCES significant_places(id),
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				duration_seconds INTEGER NOT NULL,
				version INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_processed_visits_user_time ON processed_visits(user_id, start_time, end_time);
		`,
	},
	{
		Version: 5,
		Name:    "create_trips",
		SQL: `
			CREATE TABLE IF NOT EXISTS trips (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				duration_seconds INTEGER NOT NULL,
				estimated_distance_meters REAL NOT NULL DEFAULT 0,
				travelled_distance_meters REAL NOT NULL DEFAULT 0,
				transport_mode TEXT NOT NULL DEFAULT 'UNKNOWN',
				start_visit_id INTEGER NOT NULL DEFAULT 0,
				end_visit_id INTEGER NOT NULL DEFAULT 0,
				start_place_id INTEGER NOT NULL DEFAULT 0,
				end_place_id INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_trips_user_time ON trips(user_id, start_time, end_time);
		`,
	},
}

// Migrate applies all pending migrations in version order.
func Migrate(db *sql.DB) error {
	if err := initMigrationsTable(db); err != nil {
		return err
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func initMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func appliedMigrations(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
