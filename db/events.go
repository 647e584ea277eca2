package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/sproutling/waterd/internal/apperr"
	"github.com/sproutling/waterd/internal/model"
)

// Timestamps are stored as UTC RFC3339 strings so the fixed-width text
// compares lexicographically in range predicates. Row order within a
// second is given by id, which is the log's total order.

// InsertEvent appends one sensor event and returns its assigned id.
// The event's Timestamp defaults to now if unset.
func InsertEvent(conn *sql.DB, ev *model.SensorEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Source == "" {
		ev.Source = model.SourceSensor
	}
	res, err := conn.Exec(
		`INSERT INTO sensor_events (humidity, relay_state, source, timestamp) VALUES (?, ?, ?, ?)`,
		ev.Humidity, ev.RelayState, string(ev.Source), ev.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, &apperr.StorageError{Op: "insert sensor event", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &apperr.StorageError{Op: "read event insert id", Err: err}
	}
	ev.ID = id
	return id, nil
}

// LatestEvent returns the most recent sensor event, or nil when the log
// is empty.
func LatestEvent(conn *sql.DB) (*model.SensorEvent, error) {
	row := conn.QueryRow(`SELECT id, humidity, relay_state, source, timestamp FROM sensor_events ORDER BY id DESC LIMIT 1`)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.StorageError{Op: "query latest event", Err: err}
	}
	return ev, nil
}

// LatestEvents returns up to limit events, newest first.
func LatestEvents(conn *sql.DB, limit int) ([]model.SensorEvent, error) {
	rows, err := conn.Query(`SELECT id, humidity, relay_state, source, timestamp FROM sensor_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &apperr.StorageError{Op: "query event history", Err: err}
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsByDay returns the events whose timestamp falls within the given
// calendar day in loc, ordered by id ascending.
func EventsByDay(conn *sql.DB, day time.Time, loc *time.Location) ([]model.SensorEvent, error) {
	start := time.Date(day.In(loc).Year(), day.In(loc).Month(), day.In(loc).Day(), 0, 0, 0, 0, loc)
	return EventsBetween(conn, start, start.AddDate(0, 0, 1))
}

// EventsBetween returns events with start <= timestamp < end, ordered
// by id ascending.
func EventsBetween(conn *sql.DB, start, end time.Time) ([]model.SensorEvent, error) {
	rows, err := conn.Query(
		`SELECT id, humidity, relay_state, source, timestamp FROM sensor_events WHERE timestamp >= ? AND timestamp < ? ORDER BY id ASC`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, &apperr.StorageError{Op: "query events by range", Err: err}
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LastEventBefore returns the newest event strictly before t, or nil.
// The aggregator uses it to carry relay state across a day boundary
// when counting transitions.
func LastEventBefore(conn *sql.DB, t time.Time) (*model.SensorEvent, error) {
	row := conn.QueryRow(
		`SELECT id, humidity, relay_state, source, timestamp FROM sensor_events WHERE timestamp < ? ORDER BY id DESC LIMIT 1`,
		t.UTC().Format(time.RFC3339),
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.StorageError{Op: "query event before", Err: err}
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*model.SensorEvent, error) {
	var ev model.SensorEvent
	var source, ts string
	if err := row.Scan(&ev.ID, &ev.Humidity, &ev.RelayState, &source, &ts); err != nil {
		return nil, err
	}
	ev.Source = model.EventSource(source)
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = parsed
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]model.SensorEvent, error) {
	var events []model.SensorEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, &apperr.StorageError{Op: "scan sensor event", Err: err}
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "iterate sensor events", Err: err}
	}
	return events, nil
}
