package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStore_Backend(t *testing.T) {
	s, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	exerciseBackend(t, s)
}

func TestFileStore_FileNames(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	if err := s.Put(ctx, KeyProfile, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, KeyHistory, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{profileFile, historyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_BackupFile(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 1, 10, 30, 15, 123e6, time.UTC) }

	info, err := s.Backup(t.Context(), KeyHistory, []byte(`{"conversations":[],"sessionStarted":"2025-03-01T09:00:00Z"}`))
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	want := "history_backup_2025-03-01T10-30-15-123Z.json"
	if info.ID != want {
		t.Errorf("backup name = %q, want %q", info.ID, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, backupDir, want))
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"conversations", "sessionStarted", "backupInfo"} {
		if _, ok := doc[k]; !ok {
			t.Errorf("backup missing %q", k)
		}
	}
}

func TestOpenFile_RequiresDir(t *testing.T) {
	if _, err := OpenFile(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
