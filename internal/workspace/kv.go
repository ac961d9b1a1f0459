package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"policycopilot/internal/redis"
)

// ErrNotFound is returned by a KV when the key has never been written.
var ErrNotFound = errors.New("key not found")

// KV is the string store the workspace state is persisted in.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type sqlKV struct {
	db     *sql.DB
	upsert string
}

// NewSQLKV stores values in the preferences table.
func NewSQLKV(db *sql.DB, driver string) (KV, error) {
	var upsert string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		upsert = `INSERT INTO preferences(pref_key, value, updated_at) VALUES(?, ?, ?)
			ON CONFLICT(pref_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	case "mysql":
		upsert = `INSERT INTO preferences(pref_key, value, updated_at) VALUES(?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	default:
		return nil, fmt.Errorf("unsupported driver for preferences: %s", driver)
	}
	return &sqlKV{db: db, upsert: upsert}, nil
}

func (s *sqlKV) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE pref_key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return v, nil
}

func (s *sqlKV) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

type memoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV keeps values in process memory.
func NewMemoryKV() KV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

const redisKeyPrefix = "policycopilot:pref:"

type redisKV struct {
	client *redis.Client
}

// NewRedisKV stores values as plain redis strings without expiry.
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, redisKeyPrefix+key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return v, nil
}

func (r *redisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}
