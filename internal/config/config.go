package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type WateringDefaults struct {
	ThresholdPercent   int  `json:"threshold_percent"`
	DurationSeconds    int  `json:"duration_seconds"`
	MinIntervalSeconds int  `json:"min_interval_seconds"`
	Enabled            bool `json:"enabled"`
}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level
	LogFile    string

	Port         int    `json:"port"`
	DBPath       string `json:"db_path"`
	SettingsFile string `json:"settings_file"`
	Timezone     string `json:"timezone"`

	Watering WateringDefaults `json:"watering"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic string `json:"ntfy_topic"`
}

func Load() Config {
	// .env overrides are optional; used in dev and container deploys.
	godotenv.Load()

	cfg := Config{
		Port:         3000,
		DBPath:       "data/waterd.db",
		SettingsFile: "data/watering_settings.json",
		Timezone:     "Local",
		Watering: WateringDefaults{
			ThresholdPercent:   30,
			DurationSeconds:    5,
			MinIntervalSeconds: 300,
			Enabled:            false,
		},
		DDNamespace: "waterd.",
	}

	var logLevel string
	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty logs to stderr)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if v := os.Getenv("WATERD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			panic("Invalid WATERD_PORT: " + v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("WATERD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	if cfg.Port < 1 || cfg.Port > 65535 {
		panic("Invalid port: " + strconv.Itoa(cfg.Port))
	}
	if cfg.DBPath == "" {
		panic("db_path must not be empty")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		panic("Invalid timezone: " + cfg.Timezone)
	}
	w := cfg.Watering
	if w.ThresholdPercent < 0 || w.ThresholdPercent > 100 {
		panic("watering.threshold_percent must be within [0,100]")
	}
	if w.DurationSeconds < 1 || w.DurationSeconds > 60 {
		panic("watering.duration_seconds must be within [1,60]")
	}
	if w.MinIntervalSeconds < 60 || w.MinIntervalSeconds > 3600 {
		panic("watering.min_interval_seconds must be within [60,3600]")
	}
}

// Location resolves the reporting timezone; validated at load time.
func (cfg *Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		panic("Invalid timezone: " + cfg.Timezone)
	}
	return loc
}
