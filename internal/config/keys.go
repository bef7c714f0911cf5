package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BELLA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "BELLA_SERVER_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.backend", typ: kString, env: "BELLA_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BELLA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.redis_url", typ: kString, env: "BELLA_STORAGE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisURL },
	},
	{
		key: "memory.max_history", typ: kInt, env: "BELLA_MEMORY_MAX_HISTORY",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxHistory = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxHistory },
	},
	{
		key: "memory.max_context", typ: kInt, env: "BELLA_MEMORY_MAX_CONTEXT",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxContext = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxContext },
	},
	{
		key: "memory.history_expiry", typ: kDuration, env: "BELLA_MEMORY_HISTORY_EXPIRY",
		apply:   func(cfg *Config, v any) { cfg.Memory.HistoryExpiry = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.HistoryExpiry },
	},
	{
		key: "memory.important_expiry", typ: kDuration, env: "BELLA_MEMORY_IMPORTANT_EXPIRY",
		apply:   func(cfg *Config, v any) { cfg.Memory.ImportantExpiry = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.ImportantExpiry },
	},
	{
		key: "memory.confidence_threshold", typ: kFloat, env: "BELLA_MEMORY_CONFIDENCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Memory.ConfidenceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.ConfidenceThreshold },
	},
	{
		key: "memory.rules_file", typ: kString, env: "BELLA_MEMORY_RULES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Memory.RulesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.RulesFile },
	},
	{
		key: "maintenance.retention_schedule", typ: kString, env: "BELLA_MAINTENANCE_RETENTION_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.RetentionSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.RetentionSchedule },
	},
	{
		key: "maintenance.backup_schedule", typ: kString, env: "BELLA_MAINTENANCE_BACKUP_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.BackupSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.BackupSchedule },
	},
	{
		key: "responder.base_url", typ: kString, env: "BELLA_RESPONDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Responder.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.BaseURL },
	},
	{
		key: "responder.api_key", typ: kString, env: "BELLA_RESPONDER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Responder.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.APIKey },
	},
	{
		key: "responder.model", typ: kString, env: "BELLA_RESPONDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Responder.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.Model },
	},
	{
		key: "speech.base_url", typ: kString, env: "BELLA_SPEECH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.BaseURL },
	},
	{
		key: "speech.api_key", typ: kString, env: "BELLA_SPEECH_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Speech.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.APIKey },
	},
	{
		key: "speech.model_id", typ: kString, env: "BELLA_SPEECH_MODEL_ID",
		apply:   func(cfg *Config, v any) { cfg.Speech.ModelID = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.ModelID },
	},
	{
		key: "log.level", typ: kString, env: "BELLA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw into the Go value for s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
