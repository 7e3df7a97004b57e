// Package config loads and validates the console configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ORION_ prefix (e.g. ORION_PDS_HOSTNAME
// overrides pds.hostname in the YAML), so the same binary runs with a config.yaml
// locally and with pure environment variables in containers.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PDS       PDSConfig       `mapstructure:"pds"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// PDSConfig holds the connection settings for the administered PDS.
type PDSConfig struct {
	// Hostname is the base URL of the PDS, e.g. https://pds.example.com
	Hostname string `mapstructure:"hostname"`
	// AdminUsername is the basic-auth user for com.atproto.admin.* calls
	AdminUsername string `mapstructure:"admin_username"`
	// AdminPassword is the basic-auth password for com.atproto.admin.* calls
	AdminPassword string `mapstructure:"admin_password"`
	// Timeout bounds every individual PDS request
	Timeout time.Duration `mapstructure:"timeout"`
	// BatchSize is the number of DIDs sent per getAccountInfos call
	BatchSize int `mapstructure:"batch_size"`
	// MaxConcurrentBatches caps parallel getAccountInfos calls (1 = sequential)
	MaxConcurrentBatches int `mapstructure:"max_concurrent_batches"`
}

// AuthConfig holds operator session configuration
type AuthConfig struct {
	// SessionTTL is how long a login session stays valid
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// CookieName is the name of the session cookie
	CookieName string `mapstructure:"cookie_name"`
	// SecureCookies marks the session cookie Secure (requires TLS in front)
	SecureCookies bool `mapstructure:"secure_cookies"`
}

// RedisConfig holds the optional Redis connection used for session revocation
// and distributed login rate limiting. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Enabled reports whether a Redis URL has been configured.
func (r *RedisConfig) Enabled() bool {
	return r.URL != ""
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// LoginRequestsPerMinute applies to POST / (login form submissions)
	LoginRequestsPerMinute int `mapstructure:"login_requests_per_minute"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit shipping configuration. The database record is
// always written; shippers are additional best-effort destinations.
type AuditConfig struct {
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() does not see nested keys during Unmarshal unless they are bound.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// PDS
		"pds.hostname",
		"pds.admin_username",
		"pds.admin_password",
		"pds.timeout",
		"pds.batch_size",
		"pds.max_concurrent_batches",

		// Auth
		"auth.session_ttl",
		"auth.cookie_name",
		"auth.secure_cookies",

		// Redis
		"redis.url",
		"redis.pool_size",
		"redis.min_idle_conns",
		"redis.dial_timeout",
		"redis.read_timeout",
		"redis.write_timeout",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.login_requests_per_minute",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/orion")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.PDS.AdminPassword = expandEnv(cfg.PDS.AdminPassword)
	cfg.Redis.URL = expandEnv(cfg.Redis.URL)

	cfg.PDS.Hostname = strings.TrimRight(cfg.PDS.Hostname, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "orion")
	v.SetDefault("database.user", "orion")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_idle_connections", 2)

	// PDS defaults
	v.SetDefault("pds.hostname", "http://localhost:2583")
	v.SetDefault("pds.admin_username", "admin")
	v.SetDefault("pds.timeout", "10s")
	v.SetDefault("pds.batch_size", 100)
	v.SetDefault("pds.max_concurrent_batches", 1)

	// Auth defaults
	v.SetDefault("auth.session_ttl", "12h")
	v.SetDefault("auth.cookie_name", "orion_session")
	v.SetDefault("auth.secure_cookies", true)

	// Redis defaults (disabled unless redis.url is set)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)
	v.SetDefault("security.rate_limiting.login_requests_per_minute", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if err := ValidatePDSHostname(c.PDS.Hostname); err != nil {
		return fmt.Errorf("pds.hostname: %w", err)
	}
	if c.PDS.AdminPassword == "" {
		return fmt.Errorf("pds.admin_password is required")
	}
	if c.PDS.Timeout <= 0 {
		return fmt.Errorf("pds.timeout must be positive")
	}
	if c.PDS.BatchSize < 1 {
		return fmt.Errorf("pds.batch_size must be at least 1, got %d", c.PDS.BatchSize)
	}
	if c.PDS.MaxConcurrentBatches < 1 {
		return fmt.Errorf("pds.max_concurrent_batches must be at least 1, got %d", c.PDS.MaxConcurrentBatches)
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q (must be webhook or file)", i, s.Type)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ValidatePDSHostname checks that the PDS base URL is an absolute http(s) URL
func ValidatePDSHostname(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	parsed, err := url.Parse(hostname)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("hostname must use http or https scheme")
	}

	if parsed.Host == "" {
		return fmt.Errorf("hostname must have a host")
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
