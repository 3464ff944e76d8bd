package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Queue backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Registry RegistryConfig `yaml:"registry"`
	Tracking TrackingConfig `yaml:"tracking"`
	Queue    QueueConfig    `yaml:"queue"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RegistryConfig locates the index descriptor file.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// TrackingConfig tunes dependency resolution.
type TrackingConfig struct {
	MaxDepth          int `yaml:"max_depth"`
	LookupConcurrency int `yaml:"lookup_concurrency"`
}

// QueueConfig selects the indexing queue backend.
// An empty Name derives one from the registry fingerprint.
type QueueConfig struct {
	Backend  string `yaml:"backend"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// SQLiteConfig contains settings for the sqlite queue backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains settings for the redis queue backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"-"` // env-only, never in YAML
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig points at the application database the reverse
// association lookup reads.
type DatabaseConfig struct {
	DSN             string   `yaml:"-"` // env-only, carries credentials
	MaxOpenConns    int      `yaml:"max_open_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// WorkerConfig contains dispatcher settings.
type WorkerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DrainInterval Duration `yaml:"drain_interval"`
	BatchSize     int      `yaml:"batch_size"`
	RateLimit     float64  `yaml:"rate_limit"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("RIPPLE_CONFIG_PATH", "config/ripple.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadUnvalidated resolves defaults, YAML and env like Load but skips
// validation. Offline CLI commands use it without server secrets.
func LoadUnvalidated() (*Config, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("RIPPLE_CONFIG_PATH", "config/ripple.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadSQLiteConfig resolves only the sqlite section, skipping validation.
func LoadSQLiteConfig() (SQLiteConfig, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return SQLiteConfig{}, err
	}
	return cfg.SQLite, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			Path: "config/index.yaml",
		},
		Tracking: TrackingConfig{
			MaxDepth:          16,
			LookupConcurrency: 4,
		},
		Queue: QueueConfig{
			Backend: BackendSQLite,
		},
		SQLite: SQLiteConfig{
			Path: "data/ripple.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "ripple",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Worker: WorkerConfig{
			Enabled:       true,
			DrainInterval: Duration(1 * time.Second),
			BatchSize:     100,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	setInt("RIPPLE_PORT", &cfg.Server.Port)
	setDuration("RIPPLE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("RIPPLE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("RIPPLE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Log
	setString("RIPPLE_LOG_LEVEL", &cfg.Log.Level)
	setString("RIPPLE_LOG_FORMAT", &cfg.Log.Format)

	// Registry and tracking
	setString("RIPPLE_REGISTRY_PATH", &cfg.Registry.Path)
	setInt("RIPPLE_MAX_DEPTH", &cfg.Tracking.MaxDepth)
	setInt("RIPPLE_LOOKUP_CONCURRENCY", &cfg.Tracking.LookupConcurrency)

	// Queue
	setString("RIPPLE_QUEUE_BACKEND", &cfg.Queue.Backend)
	setString("RIPPLE_QUEUE_NAME", &cfg.Queue.Name)
	setInt("RIPPLE_QUEUE_CAPACITY", &cfg.Queue.Capacity)
	setString("RIPPLE_SQLITE_PATH", &cfg.SQLite.Path)
	setString("RIPPLE_REDIS_ADDR", &cfg.Redis.Addr)
	setString("RIPPLE_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("RIPPLE_REDIS_DB", &cfg.Redis.DB)
	setString("RIPPLE_REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	// Application database
	setString("RIPPLE_DATABASE_DSN", &cfg.Database.DSN)
	setInt("RIPPLE_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)

	// Worker
	if v := os.Getenv("RIPPLE_WORKER_ENABLED"); v != "" {
		cfg.Worker.Enabled = v == "true" || v == "1"
	}
	setDuration("RIPPLE_DRAIN_INTERVAL", &cfg.Worker.DrainInterval)
	setInt("RIPPLE_BATCH_SIZE", &cfg.Worker.BatchSize)
	if v := os.Getenv("RIPPLE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Worker.RateLimit = f
		}
	}

	// Auth
	setString("RIPPLE_API_KEY", &cfg.Auth.APIKey)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (RIPPLE_DEV_MODE=true), the API key and database DSN may be empty.
func (c *Config) validate() error {
	switch c.Queue.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("queue.backend must be memory, sqlite or redis, got %q", c.Queue.Backend)
	}
	if c.Queue.Capacity < 0 {
		return errors.New("queue.capacity must not be negative")
	}
	if c.Tracking.MaxDepth < 1 {
		return errors.New("tracking.max_depth must be at least 1")
	}
	if c.Registry.Path == "" {
		return errors.New("registry.path is required")
	}
	if c.Database.DSN != "" {
		if _, err := mysql.ParseDSN(c.Database.DSN); err != nil {
			return fmt.Errorf("RIPPLE_DATABASE_DSN: %w", err)
		}
	}

	if os.Getenv("RIPPLE_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("RIPPLE_API_KEY is required")
	}
	if c.Database.DSN == "" {
		return errors.New("RIPPLE_DATABASE_DSN is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
