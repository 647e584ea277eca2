package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/sproutling/waterd/internal/apperr"
	"github.com/sproutling/waterd/internal/model"
)

// InsertLogEntry appends one system log row and returns its id.
func InsertLogEntry(conn *sql.DB, entry *model.SystemLogEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	var episodeID, event interface{}
	if entry.EpisodeID != "" {
		episodeID = entry.EpisodeID
	}
	if entry.Event != "" {
		event = entry.Event
	}
	res, err := conn.Exec(
		`INSERT INTO system_log (message, category, episode_id, event, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.Message, string(entry.Category), episodeID, event, entry.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, &apperr.StorageError{Op: "insert system log entry", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &apperr.StorageError{Op: "read log insert id", Err: err}
	}
	entry.ID = id
	return id, nil
}

// LatestLogEntries returns up to limit log rows, newest first,
// optionally filtered by category.
func LatestLogEntries(conn *sql.DB, limit int, category model.LogCategory) ([]model.SystemLogEntry, error) {
	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = conn.Query(
			`SELECT id, message, category, episode_id, event, timestamp FROM system_log WHERE category = ? ORDER BY id DESC LIMIT ?`,
			string(category), limit,
		)
	} else {
		rows, err = conn.Query(
			`SELECT id, message, category, episode_id, event, timestamp FROM system_log ORDER BY id DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, &apperr.StorageError{Op: "query system log", Err: err}
	}
	defer rows.Close()

	var entries []model.SystemLogEntry
	for rows.Next() {
		var e model.SystemLogEntry
		var cat, ts string
		var episodeID, event sql.NullString
		if err := rows.Scan(&e.ID, &e.Message, &cat, &episodeID, &event, &ts); err != nil {
			return nil, &apperr.StorageError{Op: "scan system log entry", Err: err}
		}
		e.Category = model.LogCategory(cat)
		if episodeID.Valid {
			e.EpisodeID = episodeID.String
		}
		if event.Valid {
			e.Event = event.String
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, &apperr.StorageError{Op: "parse log timestamp", Err: err}
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "iterate system log", Err: err}
	}
	return entries, nil
}

// LastAutoStart returns the timestamp of the most recent auto-watering
// episode start, read from its typed event marker rather than the
// message text. ok is false when no episode has ever started.
func LastAutoStart(conn *sql.DB) (time.Time, bool, error) {
	var ts string
	err := conn.QueryRow(
		`SELECT timestamp FROM system_log WHERE category = ? AND event = ? ORDER BY id DESC LIMIT 1`,
		string(model.CategoryAuto), model.EpisodeStart,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &apperr.StorageError{Op: "query last auto start", Err: err}
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false, &apperr.StorageError{Op: "parse last auto start", Err: err}
	}
	return parsed, true, nil
}
