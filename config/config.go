package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	YouTube   YouTubeConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"` // comma-separated, or "*"
}

// DatabaseConfig selects and configures the collab document store.
type DatabaseConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"` // postgres | sqlite | memory
	URL        string `env:"DATABASE_URL"`
	Host       string `env:"DB_HOST" envDefault:"localhost"`
	Port       string `env:"DB_PORT" envDefault:"5432"`
	User       string `env:"DB_USER" envDefault:"postgres"`
	Password   string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"collab"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"collab.db"`

	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	ApplicationName   string        `env:"DB_APPLICATION_NAME" envDefault:"collab"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`
}

// YouTubeConfig configures the stream status provider.
type YouTubeConfig struct {
	APIKey         string        `env:"YOUTUBE_API_KEY"`
	BaseURL        string        `env:"YOUTUBE_API_BASE_URL" envDefault:"https://www.googleapis.com/youtube/v3"`
	RequestTimeout time.Duration `env:"YOUTUBE_REQUEST_TIMEOUT" envDefault:"10s"`
	CacheRetention time.Duration `env:"YOUTUBE_CACHE_RETENTION" envDefault:"3h"`
}

// SchedulerConfig configures the reconciliation scheduler.
type SchedulerConfig struct {
	Embedded           bool          `env:"SCHEDULER_EMBEDDED" envDefault:"true"` // run the scheduler inside cmd/server
	Tick               time.Duration `env:"SCHEDULER_TICK" envDefault:"30s"`
	BatchSize          int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"3"`
	BatchPause         time.Duration `env:"SCHEDULER_BATCH_PAUSE" envDefault:"2s"`
	MaxPerPass         int           `env:"SCHEDULER_MAX_PER_PASS" envDefault:"20"`
	InProgressInterval time.Duration `env:"SCHEDULER_IN_PROGRESS_INTERVAL" envDefault:"2m"`
	Retention          time.Duration `env:"SCHEDULER_TERMINAL_RETENTION" envDefault:"1h"`
}

// RateLimitConfig holds per-user request limits for expensive routes.
type RateLimitConfig struct {
	Window  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	Create  int           `env:"RATE_LIMIT_CREATE" envDefault:"3"`
	Match   int           `env:"RATE_LIMIT_MATCH" envDefault:"10"`
	Refresh int           `env:"RATE_LIMIT_REFRESH" envDefault:"20"`
}

// TelemetryConfig configures OpenTelemetry tracing. Empty endpoint disables it.
type TelemetryConfig struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"collab"`
	Endpoint    string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler or store cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Database.MaxConns < 1 {
		return errors.New("DB_MAX_CONNS must be at least 1")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return errors.New("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	s := c.Scheduler
	if s.Tick <= 0 {
		return errors.New("SCHEDULER_TICK must be positive")
	}
	if s.BatchSize <= 0 {
		return errors.New("SCHEDULER_BATCH_SIZE must be positive")
	}
	if s.MaxPerPass <= 0 {
		return errors.New("SCHEDULER_MAX_PER_PASS must be positive")
	}
	if s.InProgressInterval < time.Minute || s.InProgressInterval > 5*time.Minute {
		return errors.New("SCHEDULER_IN_PROGRESS_INTERVAL must be between 1m and 5m")
	}
	if c.YouTube.RequestTimeout <= 0 {
		return errors.New("YOUTUBE_REQUEST_TIMEOUT must be positive")
	}
	return nil
}
