package config

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger"`
	Backend BackendConfig `mapstructure:"backend"`
	Engine  EngineConfig  `mapstructure:"engine"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Search  SearchConfig  `mapstructure:"search"`
}

var configFile = "./configs/config.yaml"

func Get() *Config {

	if value, ok := os.LookupEnv("CONFIG_PATH"); ok && value != "" {
		configFile = value
	}

	config, err := loadConfig(configFile)
	if err != nil {
		log.Fatal(err)
	}

	return config
}

func loadConfig(file string) (*Config, error) {

	v := viper.New()
	v.SetConfigFile(file)
	v.AutomaticEnv()

	setDefaults(v)

	err := bindEnvironmentVariables(v)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", file, err)
	}

	config := Config{}
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	backend, engine := DefaultBackendConfig(), DefaultEngineConfig()

	v.SetDefault("logger.log_level", string(LevelInfo))
	v.SetDefault("logger.app_name", "jobsync")
	v.SetDefault("backend.base_url", backend.BaseURL)
	v.SetDefault("backend.request_timeout", backend.RequestTimeout)
	v.SetDefault("backend.submit_timeout", backend.SubmitTimeout)
	v.SetDefault("backend.health_attempts", backend.HealthAttempts)
	v.SetDefault("backend.health_interval", backend.HealthInterval)
	v.SetDefault("engine.poll_interval", engine.PollInterval)
	v.SetDefault("engine.submit_cooldown", engine.SubmitCooldown)
	v.SetDefault("engine.cache_ttl", engine.CacheTTL)
	v.SetDefault("engine.debounce_window", engine.DebounceWindow)
	v.SetDefault("engine.highlight_window", engine.HighlightWindow)
	v.SetDefault("engine.search_limit", engine.SearchLimit)
}

func bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error

	backend, db, logger, metrics := BackendConfig{}, DBConfig{}, LoggerConfig{}, MetricsConfig{}

	if err := backend.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("BackendConfig: %w", err))
	}

	if err := db.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := logger.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if err := metrics.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("MetricsConfig: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}

func (config Config) validate() error {
	var errs []error

	if err := config.DB.validate(); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := config.Backend.validate(); err != nil {
		errs = append(errs, fmt.Errorf("BackendConfig: %w", err))
	}

	if err := config.Engine.validate(); err != nil {
		errs = append(errs, fmt.Errorf("EngineConfig: %w", err))
	}

	if err := config.Logger.validate(); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}
