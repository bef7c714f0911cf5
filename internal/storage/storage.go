package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrPersistence marks a failed write to the persistent store. Callers keep
// their in-memory state and retry on the next write.
var ErrPersistence = errors.New("persistence failure")

// Document keys.
const (
	KeyProfile = "profile"
	KeyHistory = "history"
)

// BackupVersion is stamped into every backup's backupInfo block.
const BackupVersion = "1.0"

// Backend persists whole JSON documents by key. Every call blocks until the
// write is durable or has failed.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Backup(ctx context.Context, kind string, data []byte) (BackupInfo, error)
	ListBackups(ctx context.Context) ([]BackupInfo, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// BackupInfo describes one stored backup.
type BackupInfo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"type"`
	CreatedAt time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// DocumentStat reports whether a document exists and how large it is.
type DocumentStat struct {
	Exists       bool      `json:"exists"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
}

// Stats summarizes a backend's contents.
type Stats struct {
	Backend string       `json:"backend"`
	Profile DocumentStat `json:"profile"`
	History DocumentStat `json:"history"`
	Backups int          `json:"backups"`
}

type backupInfoBlock struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Version   string `json:"version"`
}

// stampBackup returns data with a top-level backupInfo object added.
func stampBackup(data []byte, kind string, at time.Time) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s document for backup: %w", kind, err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	info, err := json.Marshal(backupInfoBlock{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Type:      kind,
		Version:   BackupVersion,
	})
	if err != nil {
		return nil, err
	}
	doc["backupInfo"] = info
	return json.MarshalIndent(doc, "", "  ")
}

// Options selects and configures a Backend.
type Options struct {
	Kind     string // "sqlite", "file" or "redis"
	DataDir  string
	RedisURL string
}

// Open returns the backend named by opts.Kind.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", "sqlite":
		return OpenSQLite(opts.DataDir)
	case "file":
		return OpenFile(opts.DataDir)
	case "redis":
		return OpenRedis(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}
