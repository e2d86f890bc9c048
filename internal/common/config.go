package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Queue        QueueConfig        `toml:"queue"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Redis        RedisConfig        `toml:"redis"`
	Auth         AuthConfig         `toml:"auth"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Crawler      CrawlerConfig      `toml:"crawler"`
	Logging      LoggingConfig      `toml:"logging"`
}

// CrawlerConfig points at the external crawler agent that executes the
// opaque download/validate work.
type CrawlerConfig struct {
	AgentURL       string        `toml:"agent_url"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path           string `toml:"path"`             // Database file path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs (development only)
	Environment    string `toml:"-"`                // Propagated from the top-level environment
}

type QueueConfig struct {
	Name              string        `toml:"name"`               // goqite queue name
	PollInterval      time.Duration `toml:"poll_interval"`      // how often workers poll for messages
	Concurrency       int           `toml:"concurrency"`        // number of concurrent workers
	VisibilityTimeout time.Duration `toml:"visibility_timeout"` // message visibility timeout for redelivery
	MaxReceive        int           `toml:"max_receive"`        // max receives before dead-letter
}

// OrchestratorConfig controls chunking, caps and retry/terminal policy.
type OrchestratorConfig struct {
	Chunking         string  `toml:"chunking"`           // "keyword_engine" or "range"
	ChunkSize        int     `toml:"chunk_size"`         // images per chunk under the range form
	MaxImagesCap     int     `toml:"max_images_cap"`     // per-job ceiling on max_images
	MaxChunksCap     int     `toml:"max_chunks_cap"`     // derived ceiling on total_chunks
	FailureThreshold float64 `toml:"failure_threshold"`  // failed/total at or above this fails the job (default 1.0)
	UserDispatchRate float64 `toml:"user_dispatch_rate"` // per-user job starts per minute
	UserDispatchBurst int    `toml:"user_dispatch_burst"`
	TaskTimeLimit    time.Duration `toml:"task_time_limit"` // per-task deadline; loaded but not applied by the queue or worker pool
}

// RedisConfig configures the advisory progress cache. An empty address
// disables the cache entirely.
type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

// AuthConfig selects and configures the identity token verifier.
type AuthConfig struct {
	Provider string            `toml:"provider"` // "remote" or "static"
	Endpoint string            `toml:"endpoint"` // remote verification endpoint
	Timeout  time.Duration     `toml:"timeout"`
	Tokens   map[string]string `toml:"tokens"` // static provider: token -> user id (development)
}

// SchedulerConfig drives the stale-job monitor.
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`        // cron schedule
	StaleAfter    time.Duration `toml:"stale_after"` // running jobs untouched this long are failed
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // time format for log lines
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8170,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path: "./data/pixcrawler.db",
			},
		},
		Queue: QueueConfig{
			Name:              "pixcrawler",
			PollInterval:      time.Second,
			Concurrency:       4,
			VisibilityTimeout: 5 * time.Minute,
			MaxReceive:        4,
		},
		Orchestrator: OrchestratorConfig{
			Chunking:          "keyword_engine",
			ChunkSize:         50,
			MaxImagesCap:      10000,
			MaxChunksCap:      1000,
			FailureThreshold:  1.0,
			UserDispatchRate:  10,
			UserDispatchBurst: 5,
			TaskTimeLimit:     15 * time.Minute,
		},
		Redis: RedisConfig{
			TTL: 10 * time.Second,
		},
		Auth: AuthConfig{
			Provider: "remote",
			Timeout:  5 * time.Second,
		},
		Crawler: CrawlerConfig{
			RequestTimeout: 60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Schedule:   "@every 1m",
			StaleAfter: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadConfig builds the configuration: defaults -> file(s) -> environment.
// Later files override earlier ones; environment variables win over files.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Propagate environment into the sqlite section so reset_on_startup can
	// refuse to run outside development.
	cfg.Storage.SQLite.Environment = cfg.Environment

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PIXCRAWLER_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIXCRAWLER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PIXCRAWLER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PIXCRAWLER_DB_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("PIXCRAWLER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PIXCRAWLER_AUTH_ENDPOINT"); v != "" {
		cfg.Auth.Endpoint = v
	}
	if v := os.Getenv("PIXCRAWLER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration consistency at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Orchestrator.Chunking != "keyword_engine" && c.Orchestrator.Chunking != "range" {
		return fmt.Errorf("invalid chunking strategy: %s (must be keyword_engine or range)", c.Orchestrator.Chunking)
	}
	if c.Orchestrator.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Orchestrator.ChunkSize)
	}
	if c.Orchestrator.FailureThreshold <= 0 || c.Orchestrator.FailureThreshold > 1.0 {
		return fmt.Errorf("failure_threshold must be in (0, 1], got %f", c.Orchestrator.FailureThreshold)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Auth.Provider != "remote" && c.Auth.Provider != "static" {
		return fmt.Errorf("invalid auth provider: %s", c.Auth.Provider)
	}
	if c.Auth.Provider == "remote" && c.Auth.Endpoint == "" && c.Environment != "development" {
		return fmt.Errorf("auth endpoint is required for the remote provider outside development")
	}
	return nil
}
