package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix    = "bella:doc:"
	redisBackupPrefix = "bella:backup:"
	redisBackupIndex  = "bella:backups"
)

// RedisStore keeps documents as hashes and indexes backups in a sorted set
// scored by creation time.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// OpenRedis connects to the server at url (redis://...) and verifies it with PING.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis store: url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, redisDocPrefix+key, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %q: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	err := s.client.HSet(ctx, redisDocPrefix+key,
		"data", data,
		"updated_at", s.now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("writing document %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Backup(ctx context.Context, kind string, data []byte) (BackupInfo, error) {
	now := s.now().UTC()
	stamped, err := stampBackup(data, kind, now)
	if err != nil {
		return BackupInfo{}, err
	}
	info := BackupInfo{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: now,
		Size:      int64(len(stamped)),
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisBackupPrefix+info.ID,
			"kind", kind,
			"data", stamped,
			"created_at", now.Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, redisBackupIndex, redis.Z{Score: float64(now.UnixMilli()), Member: info.ID})
		return nil
	})
	if err != nil {
		return BackupInfo{}, fmt.Errorf("writing %s backup: %w", kind, err)
	}
	return info, nil
}

// ListBackups returns backups newest first.
func (s *RedisStore) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	ids, err := s.client.ZRevRange(ctx, redisBackupIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	var out []BackupInfo
	for _, id := range ids {
		fields, err := s.client.HMGet(ctx, redisBackupPrefix+id, "kind", "created_at").Result()
		if err != nil {
			return nil, fmt.Errorf("reading backup %s: %w", id, err)
		}
		size, err := s.client.HStrLen(ctx, redisBackupPrefix+id, "data").Result()
		if err != nil {
			return nil, fmt.Errorf("reading backup %s: %w", id, err)
		}
		b := BackupInfo{ID: id, Size: size}
		if v, ok := fields[0].(string); ok {
			b.Kind = v
		}
		if v, ok := fields[1].(string); ok {
			b.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "redis"}
	for key, dst := range map[string]*DocumentStat{KeyProfile: &st.Profile, KeyHistory: &st.History} {
		size, err := s.client.HStrLen(ctx, redisDocPrefix+key, "data").Result()
		if err != nil {
			return Stats{}, fmt.Errorf("stat %s: %w", key, err)
		}
		if size == 0 {
			continue
		}
		*dst = DocumentStat{Exists: true, Size: size}
		if v, err := s.client.HGet(ctx, redisDocPrefix+key, "updated_at").Result(); err == nil {
			dst.LastModified, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	n, err := s.client.ZCard(ctx, redisBackupIndex).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("counting backups: %w", err)
	}
	st.Backups = int(n)
	return st, nil
}
