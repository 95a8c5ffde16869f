package config

import (
	"errors"
	"fmt"
	"time"
)

type EngineConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SubmitCooldown  time.Duration `mapstructure:"submit_cooldown"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	DebounceWindow  time.Duration `mapstructure:"debounce_window"`
	HighlightWindow time.Duration `mapstructure:"highlight_window"`
	SearchLimit     int           `mapstructure:"search_limit"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PollInterval:    time.Second,
		SubmitCooldown:  5 * time.Second,
		CacheTTL:        5 * time.Second,
		DebounceWindow:  500 * time.Millisecond,
		HighlightWindow: 3 * time.Second,
		SearchLimit:     500,
	}
}

func (config EngineConfig) validate() error {
	var errs []error

	if config.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive"))
	}
	if config.SubmitCooldown < 0 || config.CacheTTL < 0 || config.DebounceWindow < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	if config.HighlightWindow <= 0 {
		errs = append(errs, fmt.Errorf("highlight_window must be positive"))
	}
	if config.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("search_limit must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}

// SearchConfig is an optional search the host submits once the backend is up.
type SearchConfig struct {
	Title    string   `mapstructure:"title"`
	Location string   `mapstructure:"location"`
	Country  string   `mapstructure:"country"`
	Sites    []string `mapstructure:"sites"`
	HoursOld int      `mapstructure:"hours_old"`
}

func (config SearchConfig) Enabled() bool {
	return config.Title != ""
}
