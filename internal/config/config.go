// Package config loads the resize service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	HTTPAddr             string        `yaml:"http_addr"`
	MaxConcurrentResizes int           `yaml:"max_concurrent_resizes"`
	MinDifference        float64       `yaml:"min_difference"`
	UploadTimeout        time.Duration `yaml:"upload_timeout"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`

	// ContentAPIURL points at a simple-content HTTP API.
	// Empty uses the embedded development preset.
	ContentAPIURL string `yaml:"content_api_url"`
	StorageDir    string `yaml:"storage_dir"`

	// DatabaseURL enables the async endpoints when set.
	DatabaseURL string `yaml:"database_url"`
	QueueName   string `yaml:"queue_name"`
	AppName     string `yaml:"app_name"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		MaxConcurrentResizes: 3,
		MinDifference:        0.20,
		UploadTimeout:        30 * time.Second,
		MaxBodyBytes:         32 << 20,
		RateBurst:            10,
		StorageDir:           "./dev-data",
		QueueName:            "default",
		AppName:              "resize-server",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.ContentAPIURL, "CONTENT_API_URL")
	setString(&c.StorageDir, "STORAGE_DIR")
	setString(&c.DatabaseURL, "DBOS_SYSTEM_DATABASE_URL")
	setString(&c.QueueName, "DBOS_QUEUE_NAME")
	setString(&c.AppName, "DBOS_APP_NAME")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	var errs []error
	if v := os.Getenv("MAX_CONCURRENT_RESIZES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_CONCURRENT_RESIZES: %w", err))
		}
		c.MaxConcurrentResizes = n
	}
	if v := os.Getenv("MIN_DIFFERENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MIN_DIFFERENCE: %w", err))
		}
		c.MinDifference = f
	}
	if v := os.Getenv("UPLOAD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("UPLOAD_TIMEOUT: %w", err))
		}
		c.UploadTimeout = d
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_BODY_BYTES: %w", err))
		}
		c.MaxBodyBytes = n
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
		}
		c.RateLimit = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_BURST: %w", err))
		}
		c.RateBurst = n
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.MaxConcurrentResizes < 1 {
		return fmt.Errorf("max_concurrent_resizes must be at least 1, got %d", c.MaxConcurrentResizes)
	}
	if c.MinDifference < 0 {
		return fmt.Errorf("min_difference must not be negative, got %v", c.MinDifference)
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("upload_timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}

// AsyncEnabled reports whether the DBOS backed endpoints can run.
func (c *Config) AsyncEnabled() bool {
	return c.DatabaseURL != ""
}
