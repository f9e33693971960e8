package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Log         LogConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

type IdempotencyConfig struct {
	// Backend selects the conditional store: redis, postgres or memory.
	Backend string
	// KeyPrefix namespaces all store keys.
	KeyPrefix string
	// Namespace identifies the wrapped function in derived keys.
	Namespace string
	// ExpiryWindow is how long completed records stay replayable.
	ExpiryWindow time.Duration
	// FunctionTimeout is the lease granted to one execution attempt.
	FunctionTimeout time.Duration
	// LockTimeout caps the orphan recovery lock TTL.
	LockTimeout time.Duration
	// EventKeyJMESPath selects the payload subset that identifies a request.
	EventKeyJMESPath string
	// PayloadValidationJMESPath selects the subset guarded against key reuse.
	PayloadValidationJMESPath string
	RaiseOnNoIdempotencyKey   bool
	HashFunction              string
	UseLocalCache             bool
	LocalCacheSize            int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:  getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:   getEnv("TLS_KEY_FILE", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Username:     getEnv("REDIS_USERNAME", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Idempotency: IdempotencyConfig{
			Backend:                   getEnv("IDEMPOTENCY_BACKEND", "redis"),
			KeyPrefix:                 getEnv("IDEMPOTENCY_KEY_PREFIX", "idempotency"),
			Namespace:                 getEnv("IDEMPOTENCY_NAMESPACE", "payments.create"),
			ExpiryWindow:              getDurationEnv("IDEMPOTENCY_EXPIRY_WINDOW", time.Hour),
			FunctionTimeout:           getDurationEnv("IDEMPOTENCY_FUNCTION_TIMEOUT", 30*time.Second),
			LockTimeout:               getDurationEnv("IDEMPOTENCY_LOCK_TIMEOUT", 10*time.Second),
			EventKeyJMESPath:          getEnv("IDEMPOTENCY_EVENT_KEY_JMESPATH", ""),
			PayloadValidationJMESPath: getEnv("IDEMPOTENCY_VALIDATION_JMESPATH", ""),
			RaiseOnNoIdempotencyKey:   getBoolEnv("IDEMPOTENCY_RAISE_ON_NO_KEY", false),
			HashFunction:              getEnv("IDEMPOTENCY_HASH_FUNCTION", "md5"),
			UseLocalCache:             getBoolEnv("IDEMPOTENCY_USE_LOCAL_CACHE", false),
			LocalCacheSize:            getIntEnv("IDEMPOTENCY_LOCAL_CACHE_SIZE", 256),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Idempotency.Backend {
	case "redis", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when IDEMPOTENCY_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("unsupported idempotency backend: %s", c.Idempotency.Backend)
	}
	if c.Idempotency.ExpiryWindow <= 0 {
		return fmt.Errorf("IDEMPOTENCY_EXPIRY_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
