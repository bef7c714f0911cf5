package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Memory      MemoryConfig
	Maintenance MaintenanceConfig
	Responder   ResponderConfig
	Speech      SpeechConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string
}

type StorageConfig struct {
	Backend  string
	DataDir  string
	RedisURL string
}

type MemoryConfig struct {
	MaxHistory          int
	MaxContext          int
	HistoryExpiry       time.Duration
	ImportantExpiry     time.Duration
	ConfidenceThreshold float64
	// RulesFile optionally replaces the built-in extraction rules.
	RulesFile string
}

type MaintenanceConfig struct {
	RetentionSchedule string
	BackupSchedule    string
}

type ResponderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type SpeechConfig struct {
	BaseURL string
	APIKey  string
	ModelID string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Storage: StorageConfig{
			Backend:  "sqlite",
			DataDir:  defaultDataDir(),
			RedisURL: "redis://localhost:6379/0",
		},
		Memory: MemoryConfig{
			MaxHistory:          50,
			MaxContext:          10,
			HistoryExpiry:       24 * time.Hour,
			ImportantExpiry:     7 * 24 * time.Hour,
			ConfidenceThreshold: 0.7,
		},
		Maintenance: MaintenanceConfig{
			RetentionSchedule: "@every 1h",
			BackupSchedule:    "@every 30m",
		},
		Responder: ResponderConfig{
			BaseURL: "https://openrouter.ai/api",
			Model:   "google/gemini-2.0-flash-001",
		},
		Speech: SpeechConfig{
			BaseURL: "https://api.fish.audio",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/bella/config.json, then a .env file in the working
// directory, then BELLA_* environment variables. Later sources win.
// Secrets (API keys) are only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file", "redis":
	default:
		return fmt.Errorf("invalid storage.backend %q: want sqlite, file or redis", c.Storage.Backend)
	}
	if c.Memory.ConfidenceThreshold < 0 || c.Memory.ConfidenceThreshold >= 1 {
		return fmt.Errorf("invalid memory.confidence_threshold %v: want a value in [0, 1)", c.Memory.ConfidenceThreshold)
	}
	if c.Memory.MaxHistory <= 0 || c.Memory.MaxContext <= 0 {
		return fmt.Errorf("memory.max_history and memory.max_context must be positive")
	}
	return nil
}
