package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Inquiry     InquiryConfig             `json:"inquiry" yaml:"inquiry"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Preferences PreferencesConfig         `json:"preferences" yaml:"preferences"`
	Log         LogConfig                 `json:"log" yaml:"log"`
	// SecretKey encrypts stored admin keys. Only read from the environment.
	SecretKey string `json:"-" yaml:"-"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	DatabaseDriver    string `json:"database_driver" yaml:"database_driver"`
	FileBaseDir       string `json:"file_base_dir" yaml:"file_base_dir"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout_seconds" yaml:"worker_idle_timeout_seconds"`
	RetentionHours    int    `json:"transcript_retention_hours" yaml:"transcript_retention_hours"`
	JanitorInterval   int    `json:"janitor_interval_minutes" yaml:"janitor_interval_minutes"`
	UploadDelayMs     int    `json:"upload_delay_ms" yaml:"upload_delay_ms"`
	AuditTickMs       int    `json:"audit_tick_ms" yaml:"audit_tick_ms"`
}

// InquiryConfig holds the simulated reply latency for each way a turn can start.
type InquiryConfig struct {
	SuggestionDelayMs int `json:"suggestion_delay_ms" yaml:"suggestion_delay_ms"`
	TypedDelayMs      int `json:"typed_delay_ms" yaml:"typed_delay_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// PreferencesConfig selects where workspace and profile state is persisted:
// "sql" (default), "redis" or "memory".
type PreferencesConfig struct {
	Backend string `json:"backend" yaml:"backend"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Default returns a configuration that runs against a local sqlite file.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8090",
			DatabaseDriver:    "sqlite3",
			FileBaseDir:       "./data/uploads",
			MinWorkers:        2,
			MaxWorkers:        32,
			QueueSize:         256,
			WorkerIdleTimeout: 30,
			RetentionHours:    24 * 30,
			JanitorInterval:   60,
			UploadDelayMs:     2000,
			AuditTickMs:       300,
		},
		Inquiry: InquiryConfig{
			SuggestionDelayMs: 1200,
			TypedDelayMs:      1500,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "policycopilot.db"},
		},
		Preferences: PreferencesConfig{Backend: "sql"},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads configuration from the provided path. An empty path tries
// config.json and falls back to Default when that file does not exist.
// Environment variables (optionally from .env) override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("POLICYCOPILOT_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
		resolveSQLitePath(cfg, filepath.Dir(absPath))
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func resolveSQLitePath(cfg *Config, dir string) {
	for _, name := range []string{"sqlite", "sqlite3"} {
		db, ok := cfg.Databases[name]
		if !ok || db.DSN == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(dir, db.DSN)
			cfg.Databases[name] = db
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("POLICYCOPILOT_DB"); v != "" {
		cfg.BasicConfig.DatabaseDriver = v
	}
	if v := os.Getenv("POLICYCOPILOT_ADDR"); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("POLICYCOPILOT_PREFS"); v != "" {
		cfg.Preferences.Backend = v
	}
	if v := os.Getenv("POLICYCOPILOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	cfg.SecretKey = strings.TrimSpace(os.Getenv("POLICYCOPILOT_SECRET_KEY"))
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	driver := strings.ToLower(c.BasicConfig.DatabaseDriver)
	if driver == "" {
		return errors.New("database_driver must be configured")
	}
	if _, ok := c.Databases[driver]; !ok {
		return fmt.Errorf("database config for %s not found", driver)
	}
	switch strings.ToLower(c.Preferences.Backend) {
	case "", "sql", "redis", "memory":
	default:
		return fmt.Errorf("unsupported preferences backend: %s", c.Preferences.Backend)
	}
	if c.BasicConfig.MaxWorkers > 0 && c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return errors.New("max_workers must not be lower than min_workers")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// SuggestionDelay is the pending interval for turns started from a suggestion.
func (c *Config) SuggestionDelay() time.Duration { return ms(c.Inquiry.SuggestionDelayMs) }

// TypedDelay is the pending interval for turns started from typed input.
func (c *Config) TypedDelay() time.Duration { return ms(c.Inquiry.TypedDelayMs) }

func (c *Config) UploadDelay() time.Duration { return ms(c.BasicConfig.UploadDelayMs) }

func (c *Config) AuditTick() time.Duration { return ms(c.BasicConfig.AuditTickMs) }

func (c *Config) WorkerIdle() time.Duration {
	return time.Duration(c.BasicConfig.WorkerIdleTimeout) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.BasicConfig.RetentionHours) * time.Hour
}

func (c *Config) JanitorEvery() time.Duration {
	return time.Duration(c.BasicConfig.JanitorInterval) * time.Minute
}
