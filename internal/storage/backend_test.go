package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// exerciseBackend runs the behaviour every Backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Get(ctx, KeyProfile); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty backend: err = %v, want ErrNotFound", err)
	}

	doc := []byte(`{"name":"太郎","preferences":{"likes":["ラーメン"],"dislikes":[]}}`)
	if err := b.Put(ctx, KeyProfile, doc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, KeyProfile)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get = %s, want %s", got, doc)
	}

	updated := []byte(`{"name":"花子"}`)
	if err := b.Put(ctx, KeyProfile, updated); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}
	got, _ = b.Get(ctx, KeyProfile)
	if string(got) != string(updated) {
		t.Errorf("after overwrite Get = %s, want %s", got, updated)
	}

	info, err := b.Backup(ctx, KeyProfile, updated)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if info.Kind != KeyProfile || info.ID == "" || info.Size == 0 {
		t.Errorf("unexpected backup info: %+v", info)
	}

	backups, err := b.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 1 || backups[0].Kind != KeyProfile {
		t.Errorf("ListBackups = %+v, want one profile backup", backups)
	}

	st, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !st.Profile.Exists || st.Profile.Size != int64(len(updated)) {
		t.Errorf("profile stat = %+v, want exists with size %d", st.Profile, len(updated))
	}
	if st.History.Exists {
		t.Error("history should not exist yet")
	}
	if st.Backups != 1 {
		t.Errorf("backups = %d, want 1", st.Backups)
	}
}

func TestStampBackup(t *testing.T) {
	out, err := stampBackup([]byte(`{"conversations":[]}`), KeyHistory, mustTime(t, "2025-03-01T10:00:00Z"))
	if err != nil {
		t.Fatalf("stampBackup: %v", err)
	}

	var doc struct {
		Conversations []any `json:"conversations"`
		BackupInfo    struct {
			Timestamp string `json:"timestamp"`
			Type      string `json:"type"`
			Version   string `json:"version"`
		} `json:"backupInfo"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("decoding stamped backup: %v", err)
	}
	if doc.Conversations == nil {
		t.Error("original fields should be preserved")
	}
	if doc.BackupInfo.Type != KeyHistory || doc.BackupInfo.Version != BackupVersion {
		t.Errorf("backupInfo = %+v", doc.BackupInfo)
	}
	if doc.BackupInfo.Timestamp != "2025-03-01T10:00:00Z" {
		t.Errorf("timestamp = %q", doc.BackupInfo.Timestamp)
	}
}

func TestStampBackup_RejectsNonObject(t *testing.T) {
	if _, err := stampBackup([]byte(`[1,2]`), KeyProfile, mustTime(t, "2025-03-01T10:00:00Z")); err == nil {
		t.Fatal("expected error for non-object document")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Kind: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
