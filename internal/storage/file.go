package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	profileFile = "bella_user_profile.json"
	historyFile = "bella_conversation_history.json"
	backupDir   = "backups"
)

// FileStore keeps each document as a pretty-printed JSON file in a data
// directory, with backups under backups/.
type FileStore struct {
	dir string
	now func() time.Time
}

// OpenFile prepares dir (and dir/backups) and returns a FileStore over it.
func OpenFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: data directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, backupDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(key string) string {
	switch key {
	case KeyProfile:
		return filepath.Join(s.dir, profileFile)
	case KeyHistory:
		return filepath.Join(s.dir, historyFile)
	}
	return filepath.Join(s.dir, "bella_"+key+".json")
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	if err := writeFileAtomic(s.path(key), data); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Backup writes <kind>_backup_<timestamp>.json with a backupInfo block.
func (s *FileStore) Backup(_ context.Context, kind string, data []byte) (BackupInfo, error) {
	now := s.now().UTC()
	stamped, err := stampBackup(data, kind, now)
	if err != nil {
		return BackupInfo{}, err
	}
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z07:00"))
	name := fmt.Sprintf("%s_backup_%s.json", kind, ts)
	if err := writeFileAtomic(filepath.Join(s.dir, backupDir, name), stamped); err != nil {
		return BackupInfo{}, fmt.Errorf("writing %s backup: %w", kind, err)
	}
	return BackupInfo{ID: name, Kind: kind, CreatedAt: now, Size: int64(len(stamped))}, nil
}

// ListBackups returns backups newest first.
func (s *FileStore) ListBackups(_ context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, backupDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	var out []BackupInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		kind, _, ok := strings.Cut(name, "_backup_")
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{ID: name, Kind: kind, CreatedAt: fi.ModTime().UTC(), Size: fi.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "file"}
	for key, dst := range map[string]*DocumentStat{KeyProfile: &st.Profile, KeyHistory: &st.History} {
		fi, err := os.Stat(s.path(key))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Stats{}, fmt.Errorf("stat %s: %w", key, err)
		}
		*dst = DocumentStat{Exists: true, Size: fi.Size(), LastModified: fi.ModTime().UTC()}
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Backups = len(backups)
	return st, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
