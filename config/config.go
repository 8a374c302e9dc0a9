// Package config loads the hearing client's settings from HEARING_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/courtvideo/media/eventhub"
	"github.com/courtvideo/media/netmon"
)

// Config is the client configuration.
type Config struct {
	// Event hub websocket endpoint.
	HubURL   string `env:"HEARING_HUB_URL,required"`
	HubCodec string `env:"HEARING_HUB_CODEC" envDefault:"json"`

	// Connectivity probe. An empty URL uses the hub URL over http(s).
	ProbeURL      string        `env:"HEARING_PROBE_URL"`
	ProbeInterval time.Duration `env:"HEARING_PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout  time.Duration `env:"HEARING_PROBE_TIMEOUT" envDefault:"3s"`
	GoodPings     int           `env:"HEARING_GOOD_PINGS" envDefault:"2"`

	// Reconnection delays, attempt 1 first.
	Backoff []time.Duration `env:"HEARING_BACKOFF" envSeparator:"," envDefault:"0s,2s,5s,10s,15s,20s,30s"`

	FallbackImage   string `env:"HEARING_FALLBACK_IMAGE"`
	Backgrounds     string `env:"HEARING_BACKGROUNDS"`
	PreferencesFile string `env:"HEARING_PREFERENCES_FILE"`
	FilterFPS       int    `env:"HEARING_FILTER_FPS" envDefault:"30"`

	LogLevel slog.Level `env:"HEARING_LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	var errs []error
	if _, err := eventhub.CodecByName(c.HubCodec); err != nil {
		errs = append(errs, err)
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("HEARING_PROBE_INTERVAL must be positive, got %s", c.ProbeInterval))
	}
	if c.GoodPings < 1 {
		errs = append(errs, fmt.Errorf("HEARING_GOOD_PINGS must be at least 1, got %d", c.GoodPings))
	}
	if len(c.Backoff) == 0 {
		errs = append(errs, errors.New("HEARING_BACKOFF is empty"))
	}
	for i, d := range c.Backoff {
		if d < 0 {
			errs = append(errs, fmt.Errorf("HEARING_BACKOFF[%d] is negative: %s", i, d))
		}
	}
	if c.FilterFPS <= 0 || c.FilterFPS > 60 {
		errs = append(errs, fmt.Errorf("HEARING_FILTER_FPS must be 1-60, got %d", c.FilterFPS))
	}
	return errors.Join(errs...)
}

// Codec returns the configured hub codec.
func (c Config) Codec() eventhub.Codec {
	codec, err := eventhub.CodecByName(c.HubCodec)
	if err != nil {
		return eventhub.JSONCodec{}
	}
	return codec
}

// Schedule returns the reconnection schedule.
func (c Config) Schedule() *eventhub.Schedule {
	return eventhub.NewSchedule(c.Backoff...)
}

// Monitor returns the network monitor settings.
func (c Config) Monitor() netmon.Config {
	return netmon.Config{
		Interval:          c.ProbeInterval,
		ProbeTimeout:      c.ProbeTimeout,
		GoodPingsRequired: c.GoodPings,
	}
}
