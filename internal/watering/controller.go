// Package watering implements the auto-watering decision loop: a
// threshold gate over incoming humidity readings, a cooldown between
// episodes, and a deferred relay shutoff that re-checks derived state
// at fire time.
package watering

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/apperr"
	"github.com/sproutling/waterd/internal/model"
	"github.com/sproutling/waterd/internal/stats"
	"github.com/sproutling/waterd/internal/store"
)

const (
	shutoffAttempts   = 3
	shutoffRetryPause = 250 * time.Millisecond
)

type Metrics interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
}

type Notifier interface {
	Send(title, message string) error
}

// Controller owns the watering settings and serializes every mutation
// of the event log behind one mutex. The deferred shutoff acquires the
// same mutex, so it cannot race a concurrent manual toggle.
type Controller struct {
	conn          *sql.DB
	agg           *stats.Aggregator
	settingsStore *store.Store
	metrics       Metrics
	notifier      Notifier

	mu            sync.Mutex
	settings      model.WateringSettings
	lastAutoStart time.Time
	shutoff       *time.Timer
	lastHumidity  int
	haveHumidity  bool

	// clock and timer hooks, replaced in tests
	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

func New(conn *sql.DB, agg *stats.Aggregator, settingsStore *store.Store, defaults model.WateringSettings, metrics Metrics, notifier Notifier) *Controller {
	return &Controller{
		conn:          conn,
		agg:           agg,
		settingsStore: settingsStore,
		metrics:       metrics,
		notifier:      notifier,
		settings:      defaults,
		now:           time.Now,
		after:         time.AfterFunc,
	}
}

// Restore seeds controller state from disk: persisted settings, the
// last auto-episode start time, and the most recent humidity reading.
// Cooldown enforcement therefore survives restarts.
func (c *Controller) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settingsStore != nil {
		settings, err := c.settingsStore.Load()
		switch {
		case err == nil:
			c.settings = *settings
			log.Info().
				Int("threshold", settings.ThresholdPercent).
				Bool("enabled", settings.Enabled).
				Msg("Restored watering settings")
		case os.IsNotExist(err):
			log.Info().Msg("No persisted watering settings, using defaults")
		default:
			return fmt.Errorf("load watering settings: %w", err)
		}
	}

	lastStart, ok, err := db.LastAutoStart(c.conn)
	if err != nil {
		return fmt.Errorf("seed last auto start: %w", err)
	}
	if ok {
		c.lastAutoStart = lastStart
	}

	latest, err := db.LatestEvent(c.conn)
	if err != nil {
		return fmt.Errorf("seed latest reading: %w", err)
	}
	if latest != nil {
		c.lastHumidity = latest.Humidity
		c.haveHumidity = true
	}
	return nil
}

// HandleReading records an incoming sensor reading and runs the
// watering decision. It reports whether an auto-watering episode was
// started. On append failure nothing advances and no shutoff is armed.
func (c *Controller) HandleReading(humidity int, relayState bool) (bool, error) {
	if err := validateHumidity(humidity); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ev := &model.SensorEvent{
		Humidity:   humidity,
		RelayState: relayState,
		Source:     model.SourceSensor,
		Timestamp:  now,
	}
	if _, err := db.InsertEvent(c.conn, ev); err != nil {
		return false, err
	}
	c.agg.RefreshLatest(ev)
	c.lastHumidity = humidity
	c.haveHumidity = true
	c.gauge("soil.moisture", float64(humidity))

	// Current relay state per the derivation rule is the state of the
	// event just appended.
	if !shouldStart(c.settings, humidity, ev.RelayState, c.lastAutoStart, now) {
		return false, nil
	}
	if err := c.startEpisodeLocked(humidity, now); err != nil {
		return false, err
	}
	return true, nil
}

// shouldStart is the watering gate: enabled, dry enough, relay off, and
// cooldown elapsed since the start of the previous auto episode.
func shouldStart(s model.WateringSettings, humidity int, relayOn bool, lastStart, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if humidity >= s.ThresholdPercent {
		return false
	}
	if relayOn {
		return false
	}
	if !lastStart.IsZero() && now.Sub(lastStart) < time.Duration(s.MinIntervalSeconds)*time.Second {
		return false
	}
	return true
}

func (c *Controller) startEpisodeLocked(triggerHumidity int, now time.Time) error {
	episodeID := uuid.NewString()

	ev := &model.SensorEvent{
		Humidity:   triggerHumidity,
		RelayState: true,
		Source:     model.SourceAuto,
		Timestamp:  now,
	}
	if _, err := db.InsertEvent(c.conn, ev); err != nil {
		return err
	}
	c.agg.RefreshLatest(ev)

	entry := &model.SystemLogEntry{
		Message:   fmt.Sprintf("Auto watering started at %d%% humidity", triggerHumidity),
		Category:  model.CategoryAuto,
		EpisodeID: episodeID,
		Event:     model.EpisodeStart,
		Timestamp: now,
	}
	if _, err := db.InsertLogEntry(c.conn, entry); err != nil {
		// the relay-on event is already durable, so the episode stays
		// alive and the shutoff still arms
		log.Error().Err(err).Str("episode_id", episodeID).Msg("Failed to record episode start")
	}

	c.lastAutoStart = now
	duration := time.Duration(c.settings.DurationSeconds) * time.Second
	c.shutoff = c.after(duration, func() { c.autoShutoff(episodeID, triggerHumidity) })

	c.incr("watering.auto_start")
	log.Info().
		Str("episode_id", episodeID).
		Int("humidity", triggerHumidity).
		Dur("duration", duration).
		Msg("Auto watering started")
	c.notify("Watering started", fmt.Sprintf("Soil moisture %d%%, watering for %ds", triggerHumidity, c.settings.DurationSeconds))
	return nil
}

// autoShutoff is the deferred episode stop. It is idempotent: if manual
// control already turned the relay off, no further event is appended.
func (c *Controller) autoShutoff(episodeID string, triggerHumidity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutoff = nil

	on, err := c.agg.CurrentRelayState()
	if err != nil {
		log.Error().Err(err).Str("episode_id", episodeID).Msg("Auto shutoff could not derive relay state")
		c.failEpisodeLocked(episodeID, err)
		return
	}
	if !on {
		log.Debug().Str("episode_id", episodeID).Msg("Relay already off at shutoff time, skipping")
		return
	}

	humidity := triggerHumidity
	if c.haveHumidity {
		humidity = c.lastHumidity
	}

	now := c.now()
	var insertErr error
	for attempt := 1; attempt <= shutoffAttempts; attempt++ {
		ev := &model.SensorEvent{
			Humidity:   humidity,
			RelayState: false,
			Source:     model.SourceAuto,
			Timestamp:  now,
		}
		if _, insertErr = db.InsertEvent(c.conn, ev); insertErr == nil {
			c.agg.RefreshLatest(ev)
			break
		}
		log.Warn().Err(insertErr).Int("attempt", attempt).Str("episode_id", episodeID).Msg("Auto shutoff append failed")
		if attempt < shutoffAttempts {
			time.Sleep(shutoffRetryPause)
		}
	}
	if insertErr != nil {
		c.failEpisodeLocked(episodeID, insertErr)
		return
	}

	entry := &model.SystemLogEntry{
		Message:   fmt.Sprintf("Auto watering finished after %ds", c.settings.DurationSeconds),
		Category:  model.CategoryAuto,
		EpisodeID: episodeID,
		Event:     model.EpisodeStop,
		Timestamp: now,
	}
	if _, err := db.InsertLogEntry(c.conn, entry); err != nil {
		log.Error().Err(err).Str("episode_id", episodeID).Msg("Failed to record episode stop")
	}

	c.incr("watering.auto_stop")
	log.Info().Str("episode_id", episodeID).Int("humidity", humidity).Msg("Auto watering stopped")
}

// failEpisodeLocked gives up on an episode after retries are exhausted.
// The deferred action has no caller to report to, so the failure lands
// in the system log and relay state stays as last known.
func (c *Controller) failEpisodeLocked(episodeID string, cause error) {
	entry := &model.SystemLogEntry{
		Message:   fmt.Sprintf("Auto shutoff failed, relay state left as last known: %v", cause),
		Category:  model.CategorySystem,
		EpisodeID: episodeID,
		Event:     model.EpisodeFailed,
		Timestamp: c.now(),
	}
	if _, err := db.InsertLogEntry(c.conn, entry); err != nil {
		log.Error().Err(err).Str("episode_id", episodeID).Msg("Failed to record episode failure")
	}
	c.notify("Watering shutoff failed", fmt.Sprintf("Check the pump: %v", cause))
}

// ManualToggle forces the relay per action ("on", "off" or "toggle",
// default toggle) and returns the new state. A pending auto shutoff is
// not cancelled; its fire-time state check makes it a no-op if this
// already turned the relay off.
func (c *Controller) ManualToggle(action string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.agg.CurrentRelayState()
	if err != nil {
		return false, err
	}

	var target bool
	switch action {
	case "on":
		target = true
	case "off":
		target = false
	case "toggle", "":
		target = !current
	default:
		return false, apperr.Validationf("action", "must be one of on, off, toggle")
	}

	now := c.now()
	ev := &model.SensorEvent{
		Humidity:   c.lastHumidity,
		RelayState: target,
		Source:     model.SourceManual,
		Timestamp:  now,
	}
	if _, err := db.InsertEvent(c.conn, ev); err != nil {
		return false, err
	}
	c.agg.RefreshLatest(ev)

	word := "off"
	if target {
		word = "on"
	}
	entry := &model.SystemLogEntry{
		Message:   "Relay manually switched " + word,
		Category:  model.CategoryManual,
		Timestamp: now,
	}
	if _, err := db.InsertLogEntry(c.conn, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record manual toggle")
	}

	c.incr("watering.manual_toggle")
	log.Info().Bool("relay_state", target).Str("action", action).Msg("Relay toggled manually")
	return target, nil
}

// SyncState records a state report pushed by the device itself, e.g.
// after it reconnects. Humidity is optional and falls back to the last
// observed reading.
func (c *Controller) SyncState(state bool, humidity *int) (bool, error) {
	if humidity != nil {
		if err := validateHumidity(*humidity); err != nil {
			return false, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.lastHumidity
	if humidity != nil {
		h = *humidity
	}

	ev := &model.SensorEvent{
		Humidity:   h,
		RelayState: state,
		Source:     model.SourceSync,
		Timestamp:  c.now(),
	}
	if _, err := db.InsertEvent(c.conn, ev); err != nil {
		return false, err
	}
	c.agg.RefreshLatest(ev)
	if humidity != nil {
		c.lastHumidity = *humidity
		c.haveHumidity = true
	}
	log.Debug().Bool("relay_state", state).Msg("Device state synced")
	return state, nil
}

// SettingsPatch is a partial settings update; nil fields are left
// unchanged.
type SettingsPatch struct {
	ThresholdPercent   *int  `json:"threshold_percent"`
	DurationSeconds    *int  `json:"duration_seconds"`
	MinIntervalSeconds *int  `json:"min_interval_seconds"`
	Enabled            *bool `json:"enabled"`
}

// UpdateSettings validates every present field before anything is
// applied; one bad field rejects the whole update. Disabling watering
// does not cancel an in-flight episode.
func (c *Controller) UpdateSettings(patch SettingsPatch) (model.WateringSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := c.settings
	if patch.ThresholdPercent != nil {
		if *patch.ThresholdPercent < 0 || *patch.ThresholdPercent > 100 {
			return c.settings, apperr.Validationf("threshold_percent", "must be within [0,100], got %d", *patch.ThresholdPercent)
		}
		updated.ThresholdPercent = *patch.ThresholdPercent
	}
	if patch.DurationSeconds != nil {
		if *patch.DurationSeconds < 1 || *patch.DurationSeconds > 60 {
			return c.settings, apperr.Validationf("duration_seconds", "must be within [1,60], got %d", *patch.DurationSeconds)
		}
		updated.DurationSeconds = *patch.DurationSeconds
	}
	if patch.MinIntervalSeconds != nil {
		if *patch.MinIntervalSeconds < 60 || *patch.MinIntervalSeconds > 3600 {
			return c.settings, apperr.Validationf("min_interval_seconds", "must be within [60,3600], got %d", *patch.MinIntervalSeconds)
		}
		updated.MinIntervalSeconds = *patch.MinIntervalSeconds
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}

	if c.settingsStore != nil {
		if err := c.settingsStore.Save(&updated); err != nil {
			return c.settings, &apperr.StorageError{Op: "persist watering settings", Err: err}
		}
	}
	c.settings = updated

	entry := &model.SystemLogEntry{
		Message:   fmt.Sprintf("Watering settings updated: threshold %d%%, duration %ds, min interval %ds, enabled %t", updated.ThresholdPercent, updated.DurationSeconds, updated.MinIntervalSeconds, updated.Enabled),
		Category:  model.CategorySystem,
		Timestamp: c.now(),
	}
	if _, err := db.InsertLogEntry(c.conn, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record settings update")
	}

	log.Info().
		Int("threshold", updated.ThresholdPercent).
		Int("duration", updated.DurationSeconds).
		Int("min_interval", updated.MinIntervalSeconds).
		Bool("enabled", updated.Enabled).
		Msg("Watering settings updated")
	return updated, nil
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() model.WateringSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// EpisodeActive reports whether an auto-watering shutoff is pending.
func (c *Controller) EpisodeActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutoff != nil
}

func validateHumidity(h int) error {
	if h < 0 || h > 100 {
		return apperr.Validationf("humidity", "must be within [0,100], got %d", h)
	}
	return nil
}

func (c *Controller) gauge(name string, value float64, tags ...string) {
	if c.metrics != nil {
		c.metrics.Gauge(name, value, tags...)
	}
}

func (c *Controller) incr(name string, tags ...string) {
	if c.metrics != nil {
		c.metrics.Incr(name, tags...)
	}
}

func (c *Controller) notify(title, message string) {
	if c.notifier == nil {
		return
	}
	notifier := c.notifier
	go func() {
		if err := notifier.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}
