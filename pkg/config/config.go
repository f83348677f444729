// Package config loads service configuration from environment variables and
// the two startup tables (role permissions and rate limits) from YAML. Both
// tables are immutable after load and injected into the resolver, limiter
// and registry rather than exposed as package globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Paths to the startup tables; empty means built-in defaults
	RolesFile      string
	RateLimitsFile string

	// Pre-shared API tokens, token=principal pairs separated by commas.
	// Production deployments replace the static verifier with a gateway.
	StaticTokens map[string]string

	// Audit retention
	AuditRetentionDays int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds the durable store configuration
type StorageConfig struct {
	// PostgreSQL (principals, audit events, domain records)
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// Redis (rate-limit windows)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 (fiduciary export artifacts)
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	// Audit file sink for deployments without postgres (dev/test)
	AuditFilePath string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:             loadServerConfig(),
		Storage:            loadStorageConfig(),
		Observability:      loadObservabilityConfig(),
		RolesFile:          getEnv("GATEKEEPER_ROLES_FILE", ""),
		RateLimitsFile:     getEnv("GATEKEEPER_RATELIMITS_FILE", ""),
		StaticTokens:       parseTokenPairs(getEnv("GATEKEEPER_STATIC_TOKENS", "")),
		AuditRetentionDays: getEnvInt("GATEKEEPER_AUDIT_RETENTION_DAYS", 90),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("GATEKEEPER_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 25),
		PostgresTimeout:  getEnvDuration("GATEKEEPER_POSTGRES_TIMEOUT", 5*time.Second),

		RedisURL:        getEnv("GATEKEEPER_REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword:   getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("GATEKEEPER_REDIS_DB", -1),
		RedisMaxRetries: getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:   getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),

		S3Endpoint:     getEnv("GATEKEEPER_S3_ENDPOINT", ""),
		S3Region:       getEnv("GATEKEEPER_S3_REGION", "eu-central-1"),
		S3Bucket:       getEnv("GATEKEEPER_S3_BUCKET", ""),
		S3AccessKey:    getEnv("GATEKEEPER_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("GATEKEEPER_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("GATEKEEPER_S3_USE_PATH_STYLE", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		AuditFilePath:  getEnv("GATEKEEPER_AUDIT_FILE_PATH", ""),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" && c.Observability.AuditFilePath == "" {
		return fmt.Errorf("postgres URL is required (or set GATEKEEPER_AUDIT_FILE_PATH for a file-backed dev deployment)")
	}

	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit retention must be a positive number of days")
	}

	return nil
}

// parseTokenPairs parses "token=principal,token2=principal2" into a map.
// Malformed pairs are dropped.
func parseTokenPairs(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, principalID, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || principalID == "" {
			continue
		}
		tokens[token] = principalID
	}
	return tokens
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
