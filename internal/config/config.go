package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config aggregates runtime configuration for the CloudHost API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	MinIO    MinIOConfig
	Auth     AuthConfig
	Billing  BillingConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries object-store connection details. Physical buckets are
// created per customer bucket, so there is no single application bucket here.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
}

// BillingConfig drives the recurring-charge machinery.
type BillingConfig struct {
	// SweepInterval is how often the scheduler looks for due buckets.
	SweepInterval time.Duration
	// Cycle is the paid period granted by one successful charge.
	Cycle time.Duration
	// GracePeriod is the single retry window granted after a missed charge.
	GracePeriod time.Duration
	// UsageFreshness bounds how stale a usage snapshot may be before
	// list/get refresh it from the object store.
	UsageFreshness time.Duration
	// PresignTTL is the default expiry for presigned object URLs.
	PresignTTL time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Plan describes a storage plan from the static catalog.
type Plan struct {
	Code         string
	MonthlyPrice decimal.Decimal
	QuotaGB      int
}

// Plans returns the plan catalog. The price is captured onto the bucket at
// creation time; editing this catalog never reprices an existing bucket.
func Plans() map[string]Plan {
	return map[string]Plan{
		"start":    {Code: "start", MonthlyPrice: decimal.NewFromInt(199), QuotaGB: 50},
		"pro":      {Code: "pro", MonthlyPrice: decimal.NewFromInt(499), QuotaGB: 250},
		"business": {Code: "business", MonthlyPrice: decimal.NewFromInt(1499), QuotaGB: 1000},
	}
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("CLOUDHOST_API_HOST", "0.0.0.0"),
			Port:         getInt("CLOUDHOST_API_PORT", 8080),
			ReadTimeout:  getDuration("CLOUDHOST_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("CLOUDHOST_API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("CLOUDHOST_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "cloudhost_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "cloudhost"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "cloudhost"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", "ru-central"),
		},
		Auth: loadAuthConfig(),
		Billing: BillingConfig{
			SweepInterval:  getDuration("CLOUDHOST_BILLING_SWEEP_INTERVAL", 6*time.Hour),
			Cycle:          getDuration("CLOUDHOST_BILLING_CYCLE", 30*24*time.Hour),
			GracePeriod:    getDuration("CLOUDHOST_BILLING_GRACE_PERIOD", 24*time.Hour),
			UsageFreshness: getDuration("CLOUDHOST_USAGE_FRESHNESS", 5*time.Minute),
			PresignTTL:     getDuration("CLOUDHOST_PRESIGN_TTL", 15*time.Minute),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("CLOUDHOST_METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func loadAuthConfig() AuthConfig {
	cost := getInt("CLOUDHOST_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		AccessTokenSecret:  getString("CLOUDHOST_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		RefreshTokenSecret: getString("CLOUDHOST_JWT_REFRESH_SECRET", "change-me-to-a-64-byte-secret"),
		AccessTokenTTL:     getDuration("CLOUDHOST_AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getDuration("CLOUDHOST_AUTH_REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         cost,
	}
}
