// Package stats derives current state and daily analytics from the
// append-only event log. Nothing here mutates stored state; the only
// in-memory state is a cache of the latest event, refreshed by the
// write path after every successful append.
package stats

import (
	"database/sql"
	"sync"
	"time"

	"github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/model"
)

type Aggregator struct {
	conn *sql.DB
	loc  *time.Location

	mu     sync.RWMutex
	latest *model.SensorEvent
}

func New(conn *sql.DB, loc *time.Location) *Aggregator {
	return &Aggregator{conn: conn, loc: loc}
}

// RefreshLatest updates the latest-event cache. Called by the write
// path after each successful append so reads never see state newer
// than the log.
func (a *Aggregator) RefreshLatest(ev *model.SensorEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil || ev.ID >= a.latest.ID {
		copied := *ev
		a.latest = &copied
	}
}

// LatestEvent returns the most recent event from cache, falling back to
// the store when cold. Returns nil when the log is empty.
func (a *Aggregator) LatestEvent() (*model.SensorEvent, error) {
	a.mu.RLock()
	cached := a.latest
	a.mu.RUnlock()
	if cached != nil {
		copied := *cached
		return &copied, nil
	}

	ev, err := db.LatestEvent(a.conn)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	a.RefreshLatest(ev)
	return ev, nil
}

// CurrentRelayState is the relay state of the most recent event; false
// when the log is empty.
func (a *Aggregator) CurrentRelayState() (bool, error) {
	ev, err := a.LatestEvent()
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}
	return ev.RelayState, nil
}

// LatestHumidity returns the humidity of the most recent event. ok is
// false when the log is empty.
func (a *Aggregator) LatestHumidity() (int, bool, error) {
	ev, err := a.LatestEvent()
	if err != nil {
		return 0, false, err
	}
	if ev == nil {
		return 0, false, nil
	}
	return ev.Humidity, true, nil
}

// TodayToggleCount counts transitions to relay=true within the current
// calendar day. The event immediately before midnight is carried in as
// the predecessor so a relay left on overnight is not recounted.
func (a *Aggregator) TodayToggleCount() (int, error) {
	now := time.Now().In(a.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)

	events, err := db.EventsBetween(a.conn, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	prev, err := db.LastEventBefore(a.conn, dayStart)
	if err != nil {
		return 0, err
	}
	return countActivations(events, prev), nil
}

// DailyAverageHumidity is the mean humidity over the given calendar
// day, 0 when the day has no events.
func (a *Aggregator) DailyAverageHumidity(day time.Time) (float64, error) {
	events, err := db.EventsByDay(a.conn, day, a.loc)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	sum := 0
	for _, ev := range events {
		sum += ev.Humidity
	}
	return float64(sum) / float64(len(events)), nil
}

// Analytics returns per-day summaries for the last days calendar days,
// most recent day first. Days with no events are included with zero
// samples. Relay state carries across day boundaries when counting
// activations.
func (a *Aggregator) Analytics(days int) ([]model.DailySummary, error) {
	now := time.Now().In(a.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	rangeStart := today.AddDate(0, 0, -(days - 1))

	events, err := db.EventsBetween(a.conn, rangeStart, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	carry, err := db.LastEventBefore(a.conn, rangeStart)
	if err != nil {
		return nil, err
	}

	// Walk the range oldest-first, bucketing by calendar day.
	buckets := make(map[string][]model.SensorEvent)
	activations := make(map[string]int)
	prev := carry
	for i := range events {
		ev := events[i]
		key := ev.Timestamp.In(a.loc).Format("2006-01-02")
		buckets[key] = append(buckets[key], ev)
		if ev.RelayState && (prev == nil || !prev.RelayState) {
			activations[key]++
		}
		prev = &events[i]
	}

	summaries := make([]model.DailySummary, 0, days)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i)
		key := day.Format("2006-01-02")
		summary := model.DailySummary{Day: key, ActivationCount: activations[key]}
		if dayEvents := buckets[key]; len(dayEvents) > 0 {
			summary.SampleCount = len(dayEvents)
			summary.MinHumidity = dayEvents[0].Humidity
			summary.MaxHumidity = dayEvents[0].Humidity
			sum := 0
			for _, ev := range dayEvents {
				sum += ev.Humidity
				if ev.Humidity < summary.MinHumidity {
					summary.MinHumidity = ev.Humidity
				}
				if ev.Humidity > summary.MaxHumidity {
					summary.MaxHumidity = ev.Humidity
				}
			}
			summary.AvgHumidity = float64(sum) / float64(len(dayEvents))
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// countActivations counts transitions to relay=true over events in id
// order. prev is the last event before the window, nil when the window
// starts the log. A raw count of true rows would over-count while the
// relay stays on across consecutive readings.
func countActivations(events []model.SensorEvent, prev *model.SensorEvent) int {
	count := 0
	for i := range events {
		ev := events[i]
		if ev.RelayState && (prev == nil || !prev.RelayState) {
			count++
		}
		prev = &events[i]
	}
	return count
}
