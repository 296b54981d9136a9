package worktime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	ErrStoreLocked = errors.New("worktime: store is locked by another process")
	ErrInvalidKey  = errors.New("worktime: key is required")
)

// Record is the persisted shape of one day's work time.
type Record struct {
	TotalTime int       `json:"totalTime"` // seconds
	LastSaved time.Time `json:"lastSaved"`
}

// Store persists one Record per key. Entries are never pruned.
type Store interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, key string, rec Record) error
}

// MemoryStore keeps records in process memory. Useful for tests and the
// "memory" store setting.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{records: map[string]Record{}} }

func (s *MemoryStore) Load(_ context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec Record) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

// Keys returns a copy of the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	return out
}

var dailyWorkBucket = []byte("daily_work")

// BoltStore keeps records in a local bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore creates or opens the database at path and its bucket.
func OpenBoltStore(path string) (*BoltStore, error) {
	var fileMode fs.FileMode = 0o600

	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		// The file lock is held elsewhere until Timeout runs out.
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, ErrStoreLocked
		}
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dailyWorkBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Load(_ context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, ErrInvalidKey
	}
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dailyWorkBucket).Get([]byte(key))
		if len(v) == 0 {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) Save(_ context.Context, key string, rec Record) error {
	if key == "" {
		return ErrInvalidKey
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dailyWorkBucket).Put([]byte(key), value)
	})
}

// RedisStore keeps records as JSON strings without expiry.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "worktime:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, ErrInvalidKey
	}
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("worktime: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, rec Record) error {
	if key == "" {
		return ErrInvalidKey
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("worktime: redis set: %w", err)
	}
	return nil
}
