package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the insights cache.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Cache     CacheConfig
	Funnel    FunnelConfig
	Meta      MetaConfig
	Google    GoogleConfig
	Clients   ClientsConfig
	Collector CollectorConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	// Timezone is the calendar used to decide which period is current.
	Timezone string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	// MigrationsPath is a golang-migrate source URL.
	MigrationsPath string
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures summary update notifications. No brokers disables them.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// CacheConfig configures the smart cache router.
type CacheConfig struct {
	// TTL is how long a current-period snapshot is served without refetching.
	TTL time.Duration
	// FetchTimeout bounds a single upstream aggregation.
	FetchTimeout time.Duration
	// ClaimTTL is the lifetime of a cross-replica fetch claim in Redis.
	ClaimTTL time.Duration
	// ClaimWait is how often a replica that lost the claim polls for the result.
	ClaimWait time.Duration
	// EntryExpiry is the Redis expiry of cache entries.
	EntryExpiry time.Duration
}

// FunnelConfig configures event normalization.
type FunnelConfig struct {
	// SynonymMode is "collapse" or "sum".
	SynonymMode string
}

// MetaConfig configures the Meta Graph insights client.
type MetaConfig struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	RPS         float64
	Burst       int
	MaxRetries  int
	Timeout     time.Duration
}

// GoogleConfig configures the Google Ads searchStream client.
type GoogleConfig struct {
	BaseURL         string
	APIVersion      string
	DeveloperToken  string
	AccessToken     string
	LoginCustomerID string
	RPS             float64
	Burst           int
	MaxRetries      int
	Timeout         time.Duration
}

// ClientsConfig points at the client directory.
type ClientsConfig struct {
	File string
}

// CollectorConfig configures the closed-period collector.
type CollectorConfig struct {
	Enabled     bool
	WeeklySpec  string
	MonthlySpec string
	PruneSpec   string
	Concurrency int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("INSIGHTS_HTTP_ADDR", ":8080"),
			Env:             getEnv("INSIGHTS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("INSIGHTS_SHUTDOWN_TIMEOUT", 30*time.Second),
			Timezone:        getEnv("INSIGHTS_TIMEZONE", "UTC"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("INSIGHTS_DB_HOST", "localhost"),
			Port:           getIntEnv("INSIGHTS_DB_PORT", 5432),
			User:           getEnv("INSIGHTS_DB_USER", "insights"),
			Password:       getEnv("INSIGHTS_DB_PASSWORD", "insights_secret"),
			DBName:         getEnv("INSIGHTS_DB_NAME", "insights"),
			SSLMode:        getEnv("INSIGHTS_DB_SSLMODE", "disable"),
			MaxConns:       getIntEnv("INSIGHTS_DB_MAX_CONNS", 25),
			MinConns:       getIntEnv("INSIGHTS_DB_MIN_CONNS", 2),
			MigrationsPath: getEnv("INSIGHTS_MIGRATIONS_PATH", "file://migrations"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("INSIGHTS_REDIS_ENABLED", true),
			Addr:     getEnv("INSIGHTS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("INSIGHTS_REDIS_PASSWORD", ""),
			DB:       getIntEnv("INSIGHTS_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getSliceEnv("INSIGHTS_KAFKA_BROKERS", nil),
			Topic:   getEnv("INSIGHTS_KAFKA_TOPIC", "period_summary.updated"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("INSIGHTS_AUTH_ENABLED", true),
			MasterKey: getEnv("INSIGHTS_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("INSIGHTS_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("INSIGHTS_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("INSIGHTS_RATE_LIMIT_RPS", 100),
			Burst:   getIntEnv("INSIGHTS_RATE_LIMIT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("INSIGHTS_LOG_LEVEL", "info"),
			Format: getEnv("INSIGHTS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("INSIGHTS_METRICS_ENABLED", true),
			Path:    getEnv("INSIGHTS_METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			TTL:          getDurationEnv("INSIGHTS_CACHE_TTL", 30*time.Minute),
			FetchTimeout: getDurationEnv("INSIGHTS_FETCH_TIMEOUT", 2*time.Minute),
			ClaimTTL:     getDurationEnv("INSIGHTS_CLAIM_TTL", 3*time.Minute),
			ClaimWait:    getDurationEnv("INSIGHTS_CLAIM_WAIT", 250*time.Millisecond),
			EntryExpiry:  getDurationEnv("INSIGHTS_CACHE_ENTRY_EXPIRY", 40*24*time.Hour),
		},
		Funnel: FunnelConfig{
			SynonymMode: getEnv("INSIGHTS_SYNONYM_MODE", "collapse"),
		},
		Meta: MetaConfig{
			BaseURL:     getEnv("INSIGHTS_META_BASE_URL", "https://graph.facebook.com"),
			APIVersion:  getEnv("INSIGHTS_META_API_VERSION", "v19.0"),
			AccessToken: getEnv("INSIGHTS_META_ACCESS_TOKEN", ""),
			RPS:         getFloatEnv("INSIGHTS_META_RPS", 5),
			Burst:       getIntEnv("INSIGHTS_META_BURST", 5),
			MaxRetries:  getIntEnv("INSIGHTS_META_MAX_RETRIES", 3),
			Timeout:     getDurationEnv("INSIGHTS_META_TIMEOUT", 30*time.Second),
		},
		Google: GoogleConfig{
			BaseURL:         getEnv("INSIGHTS_GOOGLE_BASE_URL", "https://googleads.googleapis.com"),
			APIVersion:      getEnv("INSIGHTS_GOOGLE_API_VERSION", "v16"),
			DeveloperToken:  getEnv("INSIGHTS_GOOGLE_DEVELOPER_TOKEN", ""),
			AccessToken:     getEnv("INSIGHTS_GOOGLE_ACCESS_TOKEN", ""),
			LoginCustomerID: getEnv("INSIGHTS_GOOGLE_LOGIN_CUSTOMER_ID", ""),
			RPS:             getFloatEnv("INSIGHTS_GOOGLE_RPS", 5),
			Burst:           getIntEnv("INSIGHTS_GOOGLE_BURST", 5),
			MaxRetries:      getIntEnv("INSIGHTS_GOOGLE_MAX_RETRIES", 3),
			Timeout:         getDurationEnv("INSIGHTS_GOOGLE_TIMEOUT", 30*time.Second),
		},
		Clients: ClientsConfig{
			File: getEnv("INSIGHTS_CLIENTS_FILE", "clients.yaml"),
		},
		Collector: CollectorConfig{
			Enabled:     getBoolEnv("INSIGHTS_COLLECTOR_ENABLED", true),
			WeeklySpec:  getEnv("INSIGHTS_COLLECTOR_WEEKLY", "30 3 * * 1"),
			MonthlySpec: getEnv("INSIGHTS_COLLECTOR_MONTHLY", "45 3 1 * *"),
			PruneSpec:   getEnv("INSIGHTS_COLLECTOR_PRUNE", "@hourly"),
			Concurrency: getIntEnv("INSIGHTS_COLLECTOR_CONCURRENCY", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("INSIGHTS_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("INSIGHTS_CACHE_TTL must be positive")
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("INSIGHTS_FETCH_TIMEOUT must be positive")
	}
	if c.Cache.ClaimTTL < c.Cache.FetchTimeout {
		return fmt.Errorf("INSIGHTS_CLAIM_TTL must be at least INSIGHTS_FETCH_TIMEOUT")
	}
	switch strings.ToLower(c.Funnel.SynonymMode) {
	case "collapse", "sum":
	default:
		return fmt.Errorf("INSIGHTS_SYNONYM_MODE must be collapse or sum, got %q", c.Funnel.SynonymMode)
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return fmt.Errorf("INSIGHTS_TIMEZONE: %w", err)
	}
	if c.Collector.Concurrency < 1 {
		return fmt.Errorf("INSIGHTS_COLLECTOR_CONCURRENCY must be at least 1")
	}
	return nil
}

// Location returns the calendar location periods are evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
