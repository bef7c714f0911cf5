package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Memory.MaxHistory != 50 {
		t.Errorf("Memory.MaxHistory = %d, want 50", cfg.Memory.MaxHistory)
	}
	if cfg.Memory.MaxContext != 10 {
		t.Errorf("Memory.MaxContext = %d, want 10", cfg.Memory.MaxContext)
	}
	if cfg.Memory.HistoryExpiry != 24*time.Hour {
		t.Errorf("Memory.HistoryExpiry = %v, want 24h", cfg.Memory.HistoryExpiry)
	}
	if cfg.Memory.ImportantExpiry != 168*time.Hour {
		t.Errorf("Memory.ImportantExpiry = %v, want 168h", cfg.Memory.ImportantExpiry)
	}
	if cfg.Memory.ConfidenceThreshold != 0.7 {
		t.Errorf("Memory.ConfidenceThreshold = %v, want 0.7", cfg.Memory.ConfidenceThreshold)
	}
	if cfg.Maintenance.RetentionSchedule != "@every 1h" {
		t.Errorf("Maintenance.RetentionSchedule = %q", cfg.Maintenance.RetentionSchedule)
	}
	if cfg.Responder.Model != "google/gemini-2.0-flash-001" {
		t.Errorf("Responder.Model = %q", cfg.Responder.Model)
	}
}

// TestFileParsing verifies that fields are read from the JSON config file.
func TestFileParsing(t *testing.T) {
	b := writeTempConfig(t, `{
  "server.port": 5000,
  "storage.backend": "file",
  "storage.data_dir": "/tmp/bella-test",
  "memory.max_history": 20,
  "memory.history_expiry": "12h",
  "memory.confidence_threshold": 0.8,
  "responder.model": "openai/gpt-4o"
}`)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Storage.DataDir != "/tmp/bella-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Memory.MaxHistory != 20 {
		t.Errorf("Memory.MaxHistory = %d", cfg.Memory.MaxHistory)
	}
	if cfg.Memory.HistoryExpiry != 12*time.Hour {
		t.Errorf("Memory.HistoryExpiry = %v", cfg.Memory.HistoryExpiry)
	}
	if cfg.Memory.ConfidenceThreshold != 0.8 {
		t.Errorf("Memory.ConfidenceThreshold = %v", cfg.Memory.ConfidenceThreshold)
	}
	if cfg.Responder.Model != "openai/gpt-4o" {
		t.Errorf("Responder.Model = %q", cfg.Responder.Model)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"server.port": 5000}`)

	t.Setenv("BELLA_SERVER_PORT", "6000")
	t.Setenv("BELLA_RESPONDER_API_KEY", "env-key")
	t.Setenv("BELLA_MEMORY_IMPORTANT_EXPIRY", "72h")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Responder.APIKey != "env-key" {
		t.Errorf("Responder.APIKey = %q, want %q", cfg.Responder.APIKey, "env-key")
	}
	if cfg.Memory.ImportantExpiry != 72*time.Hour {
		t.Errorf("Memory.ImportantExpiry = %v, want 72h", cfg.Memory.ImportantExpiry)
	}
}

// TestSecretsIgnoredInFile verifies API keys are never read from the config file.
func TestSecretsIgnoredInFile(t *testing.T) {
	b := writeTempConfig(t, `{"responder.api_key": "file-key"}`)
	t.Setenv("BELLA_RESPONDER_API_KEY", "")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Responder.APIKey != "" {
		t.Errorf("Responder.APIKey = %q, want empty", cfg.Responder.APIKey)
	}
}

// TestDotEnv verifies .env values apply but do not override the process environment.
func TestDotEnv(t *testing.T) {
	b := writeTempConfig(t, `{}`)
	env := writeEnvFile(t, "BELLA_SPEECH_API_KEY=dotenv-speech\nBELLA_LOG_LEVEL=debug\n")

	t.Setenv("BELLA_SPEECH_API_KEY", "")
	os.Unsetenv("BELLA_SPEECH_API_KEY")
	t.Setenv("BELLA_LOG_LEVEL", "warn")

	cfg, err := loadWith(b, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Speech.APIKey != "dotenv-speech" {
		t.Errorf("Speech.APIKey = %q, want %q", cfg.Speech.APIKey, "dotenv-speech")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	b := writeTempConfig(t, `{}`)
	if _, err := loadWith(b, filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvalidBackend(t *testing.T) {
	b := writeTempConfig(t, `{"storage.backend": "localStorage"}`)

	_, err := loadWith(b)
	if err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
	if !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("error = %q, want it to mention storage.backend", err)
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKeyWith(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "memory.history_expiry", "48h"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}

	reloaded := newFileBackend(b.path)
	cfg, err := loadWith(reloaded)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Memory.HistoryExpiry != 48*time.Hour {
		t.Errorf("Memory.HistoryExpiry = %v, want 48h", cfg.Memory.HistoryExpiry)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	tests := []struct {
		key, value string
	}{
		{"responder.api_key", "sk-123"},
		{"server.port", "abc"},
		{"memory.history_expiry", "a day"},
		{"no.such.key", "1"},
	}
	for _, tt := range tests {
		if err := setKeyWith(b, tt.key, tt.value); err == nil {
			t.Errorf("setKeyWith(%q, %q) = nil, want error", tt.key, tt.value)
		}
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Responder.APIKey = "sk-secret"

	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Errorf("%s leaks secret value", ki.Key)
		}
		if ki.Key == "speech.api_key" && ki.Value != "(not set)" {
			t.Errorf("speech.api_key = %q, want (not set)", ki.Value)
		}
	}
}
