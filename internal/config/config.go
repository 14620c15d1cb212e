package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the portal backend.
type Config struct {
	HTTPPort      string
	JWTSecret     []byte
	EncryptionKey string // hex, 32 bytes for AES-256
	Database      DatabaseConfig
	Redis         RedisConfig
	Quota         QuotaConfig
	RateLimit     RateLimitConfig
	Provider      ProviderConfig
	Archive       ArchiveConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QuotaCacheSize  int
	QuotaCacheTTL   time.Duration
	ConfigCacheSize int
	ConfigCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QuotaConfig holds quota enforcement settings.
//
// FailOpen controls what happens when the quota store is unreachable during a
// pre-request check: true allows the chat request through with the failure
// logged (availability over strictness), false rejects it. The default is
// fail-open so a quota-store outage does not take down all chat activity.
type QuotaConfig struct {
	Store        string // "postgres" or "memory"
	FailOpen     bool
	Timezone     string // reference timezone for period rollover
	SweepEnabled bool   // eager reset sweep in addition to lazy resets
	SweepEvery   time.Duration
}

// RateLimitConfig holds settings for the auth endpoint rate limiter
type RateLimitConfig struct {
	Enabled       bool
	LoginPerMin   int
	RefreshPerMin int
}

// ProviderConfig holds LLM provider client settings
type ProviderConfig struct {
	RequestTimeout time.Duration
}

// ArchiveConfig holds configuration for the S3 usage ledger archive
type ArchiveConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnvString("HTTP_PORT", "8080")
	jwtSecret := []byte(getEnvString("JWT_SECRET", "supersecretkey"))

	quotaStore := getEnvString("QUOTA_STORE", "postgres")
	if quotaStore != "postgres" && quotaStore != "memory" {
		return nil, fmt.Errorf("QUOTA_STORE must be postgres or memory, got %q", quotaStore)
	}

	// Accounts, configurations and the usage ledger always live in Postgres;
	// QUOTA_STORE only switches the enforcement counters.
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:      port,
		JWTSecret:     jwtSecret,
		EncryptionKey: getEnvString("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			QuotaCacheSize:  getEnvInt("CACHE_QUOTA_SIZE", 1000),
			QuotaCacheTTL:   getEnvDuration("CACHE_QUOTA_TTL", 30*time.Second),
			ConfigCacheSize: getEnvInt("CACHE_LLM_CONFIG_SIZE", 200),
			ConfigCacheTTL:  getEnvDuration("CACHE_LLM_CONFIG_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Quota: QuotaConfig{
			Store:        quotaStore,
			FailOpen:     getEnvBool("QUOTA_FAIL_OPEN", true),
			Timezone:     getEnvString("QUOTA_TIMEZONE", "UTC"),
			SweepEnabled: getEnvBool("QUOTA_SWEEP_ENABLED", false),
			SweepEvery:   getEnvDuration("QUOTA_SWEEP_INTERVAL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			LoginPerMin:   getEnvInt("RATE_LIMIT_LOGIN_PER_MIN", 10),
			RefreshPerMin: getEnvInt("RATE_LIMIT_REFRESH_PER_MIN", 30),
		},
		Provider: ProviderConfig{
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 120*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvBool("USAGE_ARCHIVE_ENABLED", false),
			BufferSize:    getEnvInt("USAGE_ARCHIVE_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("USAGE_ARCHIVE_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_ARCHIVE_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("USAGE_ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnvString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			PodName:       getEnvString("POD_NAME", "portal-0"),
		},
	}

	if cfg.Archive.Enabled && cfg.Archive.S3Bucket == "" {
		return nil, fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when the usage archive is enabled")
	}

	return cfg, nil
}
