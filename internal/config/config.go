package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreDriverPostgres     StoreDriver = "postgres"
	StoreDriverContentStore StoreDriver = "contentstore"
	StoreDriverMemory       StoreDriver = "memory"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	ContentStore ContentStoreConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Tickets      TicketsConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig picks where users and tickets live.
type StoreConfig struct {
	Driver StoreDriver
	// LockBackend serializes content store appends: "redis" across
	// instances, "local" within one process.
	LockBackend string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	LockTTLSeconds  int
	LockRetryMillis int
}

// ContentStoreConfig points at the remote headless CMS.
type ContentStoreConfig struct {
	BaseURL           string
	APIToken          string
	TimeoutSeconds    int
	TicketsCollection string
	MaxResponseBytes  int64
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// TicketsConfig holds ticket intake rules.
type TicketsConfig struct {
	// Departments restricts accepted department values. Empty accepts any.
	Departments []string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	driver := StoreDriver(strings.ToLower(getEnv("STORE_DRIVER", string(StoreDriverPostgres))))
	switch driver {
	case StoreDriverPostgres, StoreDriverContentStore, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", driver)
	}

	lockBackend := strings.ToLower(getEnv("STORE_LOCK_BACKEND", "redis"))
	if lockBackend != "redis" && lockBackend != "local" {
		return nil, fmt.Errorf("invalid STORE_LOCK_BACKEND %q", lockBackend)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver:      driver,
			LockBackend: lockBackend,
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			LockTTLSeconds:  getEnvAsInt("REDIS_LOCK_TTL_SECONDS", 30),
			LockRetryMillis: getEnvAsInt("REDIS_LOCK_RETRY_MILLIS", 50),
		},
		ContentStore: ContentStoreConfig{
			BaseURL:           strings.TrimRight(getEnv("CONTENT_STORE_URL", "http://localhost:1337"), "/"),
			APIToken:          os.Getenv("CONTENT_STORE_API_TOKEN"),
			TimeoutSeconds:    getEnvAsInt("CONTENT_STORE_TIMEOUT_SECONDS", 10),
			TicketsCollection: getEnv("CONTENT_STORE_TICKETS_COLLECTION", "tickets"),
			MaxResponseBytes:  int64(getEnvAsInt("CONTENT_STORE_MAX_RESPONSE_BYTES", defaultContentStoreMaxResponse)),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Tickets: TicketsConfig{
			Departments: getEnvAsList("TICKET_DEPARTMENTS"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.validateLockTTL(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LockExpiryMargin is kept between the end of a locked reply's store calls
// and the expiry of its Redis lock.
const LockExpiryMargin = 2 * time.Second

// validateLockTTL requires a Redis lock to outlive the content store read
// and write made while it is held.
func (c *Config) validateLockTTL() error {
	if c.Store.Driver != StoreDriverContentStore || c.Store.LockBackend != "redis" {
		return nil
	}
	minimum := 2*c.ContentStore.Timeout() + LockExpiryMargin
	if c.Redis.LockTTL() < minimum {
		return fmt.Errorf("REDIS_LOCK_TTL_SECONDS must be at least %s for CONTENT_STORE_TIMEOUT_SECONDS=%s, got %s",
			minimum, c.ContentStore.Timeout(), c.Redis.LockTTL())
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LockTTL bounds how long a ticket append lock may be held.
func (r RedisConfig) LockTTL() time.Duration {
	if r.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.LockTTLSeconds) * time.Second
}

// LockHoldLimit is how long work under a lock may run before it is abandoned.
func (r RedisConfig) LockHoldLimit() time.Duration {
	return r.LockTTL() - LockExpiryMargin
}

// LockRetry is the polling interval while waiting for a held lock.
func (r RedisConfig) LockRetry() time.Duration {
	if r.LockRetryMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(r.LockRetryMillis) * time.Millisecond
}

const defaultContentStoreMaxResponse = 8 << 20

// MaxResponse caps how many bytes of a content store response are read.
func (c ContentStoreConfig) MaxResponse() int64 {
	if c.MaxResponseBytes <= 0 {
		return defaultContentStoreMaxResponse
	}
	return c.MaxResponseBytes
}

// Timeout returns the per-call HTTP timeout for the content store.
func (c ContentStoreConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
