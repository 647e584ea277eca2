package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Open opens the SQLite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplyMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("Database opened")
	return conn, nil
}

// ApplyMigrations creates the two append-only tables. Neither table is
// ever updated or deleted from; new columns are added with additive
// ALTERs guarded by a column check.
func ApplyMigrations(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sensor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		humidity INTEGER NOT NULL CHECK(humidity BETWEEN 0 AND 100),
		relay_state BOOLEAN NOT NULL,
		source TEXT NOT NULL DEFAULT 'sensor',
		timestamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		category TEXT NOT NULL,
		episode_id TEXT,
		event TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sensor_events_timestamp ON sensor_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_system_log_category ON system_log(category, id);
	`
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
