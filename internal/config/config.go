package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	BaseURL        string        `mapstructure:"sentinel_base_url"`
	APIKey         string        `mapstructure:"sentinel_api_key"`
	TimeoutSeconds int64         `mapstructure:"sentinel_timeout_seconds"`
	Timeout        time.Duration `mapstructure:"-"`
	Tenant         string        `mapstructure:"sentinel_tenant"`

	ManifestFile        string        `mapstructure:"manifest_file"`
	PublishersFile      string        `mapstructure:"publishers_file"`
	ScanIntervalSeconds int64         `mapstructure:"scan_interval"`
	ScanInterval        time.Duration `mapstructure:"-"`

	RateLimitMaxRetries int           `mapstructure:"rate_limit_max_retries"`
	RateLimitBackoffMs  int64         `mapstructure:"rate_limit_backoff_ms"`
	RateLimitBackoff    time.Duration `mapstructure:"-"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	VerdictTTLSeconds      int64         `mapstructure:"verdict_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	VerdictTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "sentinel-scanner")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sentinel_base_url", "http://localhost:8080")
	v.SetDefault("sentinel_api_key", "")
	v.SetDefault("sentinel_timeout_seconds", 30)
	v.SetDefault("sentinel_tenant", "")
	v.SetDefault("manifest_file", "./configs/manifest.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("scan_interval", 0) // seconds; 0 runs a single pass
	v.SetDefault("rate_limit_max_retries", 3)
	v.SetDefault("rate_limit_backoff_ms", 500)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/verdicts.db")
	v.SetDefault("verdict_ttl_seconds", int64((24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((6*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Tenant = strings.TrimSpace(cfg.Tenant)
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sentinel_base_url is required")
	}

	if cfg.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid sentinel_timeout_seconds (must be positive seconds)")
	}
	cfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second

	if cfg.ScanIntervalSeconds < 0 {
		return nil, fmt.Errorf("invalid scan_interval (must be zero or positive seconds)")
	}
	cfg.ScanInterval = time.Duration(cfg.ScanIntervalSeconds) * time.Second

	if cfg.RateLimitMaxRetries < 0 {
		return nil, fmt.Errorf("invalid rate_limit_max_retries (must not be negative)")
	}
	if cfg.RateLimitBackoffMs <= 0 {
		return nil, fmt.Errorf("invalid rate_limit_backoff_ms (must be positive milliseconds)")
	}
	cfg.RateLimitBackoff = time.Duration(cfg.RateLimitBackoffMs) * time.Millisecond

	if cfg.VerdictTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid verdict_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.VerdictTTL = time.Duration(cfg.VerdictTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return &cfg, nil
}
