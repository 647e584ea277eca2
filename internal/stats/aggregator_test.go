package stats

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	waterdb "github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/model"
)

func setupAggregator(t *testing.T) (*Aggregator, *sql.DB) {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, waterdb.ApplyMigrations(conn))
	return New(conn, time.UTC), conn
}

func insertEvent(t *testing.T, conn *sql.DB, humidity int, relayOn bool, ts time.Time) {
	t.Helper()
	_, err := waterdb.InsertEvent(conn, &model.SensorEvent{
		Humidity:   humidity,
		RelayState: relayOn,
		Timestamp:  ts,
	})
	require.NoError(t, err)
}

func TestCurrentRelayStateEmptyLog(t *testing.T) {
	agg, _ := setupAggregator(t)

	on, err := agg.CurrentRelayState()
	require.NoError(t, err)
	assert.False(t, on)

	_, ok, err := agg.LatestHumidity()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentRelayStateIdempotent(t *testing.T) {
	agg, conn := setupAggregator(t)

	insertEvent(t, conn, 45, true, time.Now().UTC())

	first, err := agg.CurrentRelayState()
	require.NoError(t, err)
	second, err := agg.CurrentRelayState()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, first)
}

func TestRefreshLatestKeepsNewest(t *testing.T) {
	agg, conn := setupAggregator(t)

	insertEvent(t, conn, 45, false, time.Now().UTC())
	newest, err := waterdb.LatestEvent(conn)
	require.NoError(t, err)

	agg.RefreshLatest(newest)
	// a stale refresh with a lower id must not win
	agg.RefreshLatest(&model.SensorEvent{ID: newest.ID - 1, Humidity: 99, RelayState: true})

	h, ok, err := agg.LatestHumidity()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 45, h)
}

func TestTodayToggleCountCountsTransitionsNotTrueRows(t *testing.T) {
	agg, conn := setupAggregator(t)

	// relay sequence F,F,T,T,F,T: two transitions to on, four of the
	// rows would naively count three
	now := time.Now().UTC()
	for _, on := range []bool{false, false, true, true, false, true} {
		insertEvent(t, conn, 50, on, now)
	}

	count, err := agg.TodayToggleCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTodayToggleCountFirstEventTrue(t *testing.T) {
	agg, conn := setupAggregator(t)

	insertEvent(t, conn, 50, true, time.Now().UTC())

	count, err := agg.TodayToggleCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTodayToggleCountCarriesStateAcrossMidnight(t *testing.T) {
	agg, conn := setupAggregator(t)

	now := time.Now().UTC()
	// relay left on since yesterday: today's true rows are not new
	// activations
	insertEvent(t, conn, 50, true, now.Add(-24*time.Hour))
	insertEvent(t, conn, 48, true, now)
	insertEvent(t, conn, 47, true, now)

	count, err := agg.TodayToggleCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDailyAverageHumidity(t *testing.T) {
	agg, conn := setupAggregator(t)

	now := time.Now().UTC()
	for _, h := range []int{40, 50, 60} {
		insertEvent(t, conn, h, false, now)
	}
	insertEvent(t, conn, 99, false, now.Add(-24*time.Hour))

	avg, err := agg.DailyAverageHumidity(now)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, avg, 0.001)
}

func TestDailyAverageHumidityNoData(t *testing.T) {
	agg, _ := setupAggregator(t)

	avg, err := agg.DailyAverageHumidity(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestAnalyticsBucketsByDayMostRecentFirst(t *testing.T) {
	agg, conn := setupAggregator(t)

	now := time.Now().UTC()
	// two days ago: flat 30%, one activation
	insertEvent(t, conn, 30, true, now.Add(-48*time.Hour))
	insertEvent(t, conn, 30, false, now.Add(-48*time.Hour))
	// yesterday: nothing
	// today: 40 and 60, no activations
	insertEvent(t, conn, 40, false, now)
	insertEvent(t, conn, 60, false, now)

	summaries, err := agg.Analytics(3)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	today := summaries[0]
	assert.Equal(t, now.Format("2006-01-02"), today.Day)
	assert.Equal(t, 2, today.SampleCount)
	assert.Equal(t, 40, today.MinHumidity)
	assert.Equal(t, 60, today.MaxHumidity)
	assert.InDelta(t, 50.0, today.AvgHumidity, 0.001)
	assert.Equal(t, 0, today.ActivationCount)

	yesterday := summaries[1]
	assert.Equal(t, 0, yesterday.SampleCount)
	assert.Equal(t, 0, yesterday.ActivationCount)

	older := summaries[2]
	assert.Equal(t, 2, older.SampleCount)
	assert.Equal(t, 1, older.ActivationCount)
	assert.InDelta(t, 30.0, older.AvgHumidity, 0.001)
}

func TestCountActivations(t *testing.T) {
	ev := func(on bool) model.SensorEvent {
		return model.SensorEvent{RelayState: on}
	}

	tests := []struct {
		name   string
		events []model.SensorEvent
		prev   *model.SensorEvent
		want   int
	}{
		{
			name: "empty",
			want: 0,
		},
		{
			name:   "single on with no predecessor",
			events: []model.SensorEvent{ev(true)},
			want:   1,
		},
		{
			name:   "single on with on predecessor",
			events: []model.SensorEvent{ev(true)},
			prev:   &model.SensorEvent{RelayState: true},
			want:   0,
		},
		{
			name:   "spec sequence",
			events: []model.SensorEvent{ev(false), ev(false), ev(true), ev(true), ev(false), ev(true)},
			want:   2,
		},
		{
			name:   "repeated on rows count once",
			events: []model.SensorEvent{ev(true), ev(true), ev(true)},
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countActivations(tt.events, tt.prev))
		})
	}
}
