package model

import "time"

// EventSource records which path produced a sensor event row.
type EventSource string

const (
	SourceSensor EventSource = "sensor"
	SourceManual EventSource = "manual"
	SourceAuto   EventSource = "auto"
	SourceSync   EventSource = "sync"
)

// SensorEvent is one row of the append-only event log. Rows are never
// updated or deleted; all derived state (current relay state, toggle
// counts) is recomputed from this log.
type SensorEvent struct {
	ID         int64       `json:"id"`
	Humidity   int         `json:"humidity"`
	RelayState bool        `json:"relay_state"`
	Source     EventSource `json:"source"`
	Timestamp  time.Time   `json:"timestamp"`
}

type LogCategory string

const (
	CategorySystem  LogCategory = "system"
	CategorySensor  LogCategory = "sensor"
	CategoryRelay   LogCategory = "relay"
	CategoryManual  LogCategory = "manual"
	CategoryAuto    LogCategory = "auto"
	CategoryNetwork LogCategory = "network"
)

// Lifecycle markers stamped on auto-watering log rows so episode
// timing can be read back without parsing message text.
const (
	EpisodeStart  = "start"
	EpisodeStop   = "stop"
	EpisodeFailed = "failed"
)

type SystemLogEntry struct {
	ID        int64       `json:"id"`
	Message   string      `json:"message"`
	Category  LogCategory `json:"category"`
	EpisodeID string      `json:"episode_id,omitempty"`
	Event     string      `json:"event,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WateringSettings is the single mutable configuration object owned by
// the watering controller.
type WateringSettings struct {
	ThresholdPercent   int  `json:"threshold_percent"`
	DurationSeconds    int  `json:"duration_seconds"`
	MinIntervalSeconds int  `json:"min_interval_seconds"`
	Enabled            bool `json:"enabled"`
}

// DailySummary is one calendar day of humidity analytics in the
// reporting timezone.
type DailySummary struct {
	Day             string  `json:"day"`
	AvgHumidity     float64 `json:"avg_humidity"`
	MinHumidity     int     `json:"min_humidity"`
	MaxHumidity     int     `json:"max_humidity"`
	ActivationCount int     `json:"activation_count"`
	SampleCount     int     `json:"sample_count"`
}
