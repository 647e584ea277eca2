package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Port:     3000,
		DBPath:   "data/waterd.db",
		Timezone: "UTC",
		Watering: WateringDefaults{
			ThresholdPercent:   30,
			DurationSeconds:    5,
			MinIntervalSeconds: 300,
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.validate() // should not panic
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to invalid port, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_BadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Timezone = "Mars/Olympus_Mons"

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to invalid timezone, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_BadWateringDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Watering.DurationSeconds = 0

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to invalid watering duration, but got none")
		}
	}()

	cfg.validate()
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}

func TestLocation(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "UTC", cfg.Location().String())
}
