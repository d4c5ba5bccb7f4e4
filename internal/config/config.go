package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the ad decision engine. Fields are
// populated from environment variables prefixed with ADSERVE_.
type Config struct {
	Env string `env:"ENV" envDefault:"production"`

	Server    ServerConfig    `envPrefix:"HTTP_"`
	Postgres  PostgresConfig  `envPrefix:"DB_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	RateLimit RateLimitConfig `envPrefix:"RATELIMIT_"`
	Geo       GeoConfig       `envPrefix:"GEO_"`
	Retention RetentionConfig `envPrefix:"RETENTION_"`
}

type ServerConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type PostgresConfig struct {
	Host          string `env:"HOST" envDefault:"localhost"`
	Port          int    `env:"PORT" envDefault:"5432"`
	User          string `env:"USER" envDefault:"adserve"`
	Password      string `env:"PASSWORD" envDefault:"adserve_secret"`
	DBName        string `env:"NAME" envDefault:"adserve"`
	SSLMode       string `env:"SSLMODE" envDefault:"disable"`
	MaxConns      int    `env:"MAX_CONNS" envDefault:"25"`
	MinConns      int    `env:"MIN_CONNS" envDefault:"5"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
}

type RateLimitConfig struct {
	Enabled    bool    `env:"ENABLED" envDefault:"false"`
	ServeRPS   float64 `env:"SERVE_RPS" envDefault:"500"`
	ServeBurst int     `env:"SERVE_BURST" envDefault:"1000"`
	TrackRPS   float64 `env:"TRACK_RPS" envDefault:"500"`
	TrackBurst int     `env:"TRACK_BURST" envDefault:"1000"`
}

// GeoConfig configures GeoIP lookup used to resolve a country for
// targeting when the caller supplies only a client IP.
type GeoConfig struct {
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	DatabasePath string `env:"DB_PATH" envDefault:"./GeoLite2-Country.mmdb"`
}

// RetentionConfig controls the event retention sweeper.
type RetentionConfig struct {
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads configuration from environment variables with defaults
// applied for any variable that is not set.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "ADSERVE_"}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
