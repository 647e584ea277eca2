package db

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutling/waterd/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// a second pooled connection would see a different empty in-memory DB
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, ApplyMigrations(conn))
	return conn
}

func TestInsertEventAssignsIncreasingIDs(t *testing.T) {
	conn := setupTestDB(t)

	first, err := InsertEvent(conn, &model.SensorEvent{Humidity: 40, RelayState: false})
	require.NoError(t, err)
	second, err := InsertEvent(conn, &model.SensorEvent{Humidity: 35, RelayState: true})
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestLatestEventEmptyLog(t *testing.T) {
	conn := setupTestDB(t)

	ev, err := LatestEvent(conn)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestHistoryRoundTripNewestFirst(t *testing.T) {
	conn := setupTestDB(t)

	humidities := []int{40, 35, 55, 60}
	for _, h := range humidities {
		_, err := InsertEvent(conn, &model.SensorEvent{Humidity: h, RelayState: h < 40, Source: model.SourceSensor})
		require.NoError(t, err)
	}

	events, err := LatestEvents(conn, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// newest first, values unaltered
	assert.Equal(t, 60, events[0].Humidity)
	assert.Equal(t, 55, events[1].Humidity)
	assert.Equal(t, 35, events[2].Humidity)
	assert.Equal(t, 40, events[3].Humidity)
	assert.True(t, events[2].RelayState)
	assert.Equal(t, model.SourceSensor, events[0].Source)
	for i := 0; i < len(events)-1; i++ {
		assert.Greater(t, events[i].ID, events[i+1].ID)
	}
}

func TestLatestEventsHonorsLimit(t *testing.T) {
	conn := setupTestDB(t)

	for i := 0; i < 5; i++ {
		_, err := InsertEvent(conn, &model.SensorEvent{Humidity: 50})
		require.NoError(t, err)
	}

	events, err := LatestEvents(conn, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventsBetweenDayWindow(t *testing.T) {
	conn := setupTestDB(t)

	dayStart := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	timestamps := []time.Time{
		dayStart.Add(-1 * time.Hour),  // previous day
		dayStart.Add(2 * time.Hour),   // in window
		dayStart.Add(23 * time.Hour),  // in window
		dayStart.Add(24 * time.Hour),  // next day, excluded
	}
	for i, ts := range timestamps {
		_, err := InsertEvent(conn, &model.SensorEvent{Humidity: 10 * (i + 1), Timestamp: ts})
		require.NoError(t, err)
	}

	events, err := EventsBetween(conn, dayStart, dayStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 20, events[0].Humidity)
	assert.Equal(t, 30, events[1].Humidity)
}

func TestLastEventBefore(t *testing.T) {
	conn := setupTestDB(t)

	cutoff := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	prev, err := LastEventBefore(conn, cutoff)
	require.NoError(t, err)
	assert.Nil(t, prev)

	_, err = InsertEvent(conn, &model.SensorEvent{Humidity: 42, RelayState: true, Timestamp: cutoff.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = InsertEvent(conn, &model.SensorEvent{Humidity: 44, RelayState: false, Timestamp: cutoff.Add(time.Hour)})
	require.NoError(t, err)

	prev, err = LastEventBefore(conn, cutoff)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 42, prev.Humidity)
	assert.True(t, prev.RelayState)
}
