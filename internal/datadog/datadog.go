package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

// Client wraps DogStatsD. A nil Client is valid and drops all metrics,
// so callers never need to guard emission sites.
type Client struct {
	dogstatsd *statsd.Client
	enabled   bool
}

func New(addr, namespace string, tags []string, enabled bool) *Client {
	if !enabled {
		return nil
	}

	dogstatsd, err := statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	dogstatsd.Namespace = namespace
	dogstatsd.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")

	return &Client{dogstatsd: dogstatsd, enabled: enabled}
}

func (c *Client) Gauge(name string, value float64, tags ...string) {
	if c == nil || c.dogstatsd == nil {
		return
	}
	if err := c.dogstatsd.Gauge(name, value, tags, 1); err != nil && c.enabled {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (c *Client) Incr(name string, tags ...string) {
	if c == nil || c.dogstatsd == nil {
		return
	}
	if err := c.dogstatsd.Incr(name, tags, 1); err != nil && c.enabled {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}
