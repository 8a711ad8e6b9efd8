package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "parley.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PARLEY_PORT")
	setString(&cfg.Server.CORSOrigin, "PARLEY_CORS_ORIGIN")
	setString(&cfg.Upstream.BaseURL, "PARLEY_UPSTREAM_URL")
	setString(&cfg.Upstream.AgentID, "PARLEY_AGENT_ID")
	setDuration(&cfg.Upstream.Timeout, "PARLEY_UPSTREAM_TIMEOUT")
	setString(&cfg.Credential.TokenURL, "PARLEY_TOKEN_URL")
	setString(&cfg.Credential.ClientID, "PARLEY_CLIENT_ID")
	setString(&cfg.Credential.ClientSecret, "PARLEY_CLIENT_SECRET")
	setString(&cfg.Credential.Scope, "PARLEY_TOKEN_SCOPE")
	setDuration(&cfg.Poll.Interval, "PARLEY_POLL_INTERVAL")
	setInt(&cfg.Poll.MaxAttempts, "PARLEY_POLL_MAX_ATTEMPTS")
	setString(&cfg.Logging.Level, "PARLEY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PARLEY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PARLEY_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "PARLEY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PARLEY_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "PARLEY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "PARLEY_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "PARLEY_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "PARLEY_RATE_MAX_IDLE_TIME")
	setInt64(&cfg.Cache.MaxSizeMB, "PARLEY_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "PARLEY_CACHE_TTL")
	setBool(&cfg.Telemetry.Enabled, "PARLEY_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	if cfg.Poll.Interval <= 0 {
		return errors.New("poll.interval must be positive")
	}
	if cfg.Poll.MaxAttempts < 1 {
		return errors.New("poll.max_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
