package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type BackendConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	SubmitTimeout        time.Duration `mapstructure:"submit_timeout"`
	MaxRequestsPerSecond float32       `mapstructure:"max_requests_per_second"`
	HealthAttempts       int           `mapstructure:"health_attempts"`
	HealthInterval       time.Duration `mapstructure:"health_interval"`
}

func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:        "http://127.0.0.1:8000",
		RequestTimeout: 30 * time.Second,
		SubmitTimeout:  120 * time.Second,
		HealthAttempts: 30,
		HealthInterval: time.Second,
	}
}

func (config BackendConfig) validate() error {
	var errs []error

	if config.BaseURL == "" {
		errs = append(errs, fmt.Errorf("missing variable: base_url"))
	} else if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid base_url: %w", err))
	}

	if config.RequestTimeout <= 0 || config.SubmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("timeouts must be positive"))
	}

	if config.HealthAttempts <= 0 {
		errs = append(errs, fmt.Errorf("health_attempts must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}

func (config BackendConfig) bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error
	if err := v.BindEnv("backend.base_url", "BACKEND_URL"); err != nil {
		errs = append(errs, err)
	}

	if err := v.BindEnv("backend.max_requests_per_second", "BACKEND_MAX_REQUESTS_PER_SECOND"); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
