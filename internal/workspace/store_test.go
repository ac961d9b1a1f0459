package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policycopilot/internal/config"
	"policycopilot/internal/models"
	"policycopilot/internal/redis"
	"policycopilot/internal/storage"
)

func newMemoryStore(t *testing.T, kv KV, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), kv, nil, opts...)
	require.NoError(t, err)
	return s
}

func strPtr(s string) *string { return &s }

func TestDefaultsAreWrittenOnFirstLoad(t *testing.T) {
	kv := NewMemoryKV()
	s := newMemoryStore(t, kv)

	assert.Equal(t, "in", s.Current().ID)
	assert.Len(t, s.Available(), 3)

	raw, err := kv.Get(context.Background(), KeyAvailable)
	require.NoError(t, err)
	var ws []models.Workspace
	require.NoError(t, json.Unmarshal([]byte(raw), &ws))
	assert.Equal(t, "vn", ws[0].ID)

	raw, err = kv.Get(context.Background(), KeyLastActive)
	require.NoError(t, err)
	assert.Equal(t, `"in"`, raw)
}

func TestCorruptStateIsRegenerated(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyAvailable, "{not json"))
	require.NoError(t, kv.Set(ctx, KeyLastActive, `"zz"`))
	require.NoError(t, kv.Set(ctx, ProfileKeyPrefix+"in", "[1,2"))

	s := newMemoryStore(t, kv)
	assert.Len(t, s.Available(), 3)
	assert.Equal(t, "in", s.Current().ID)

	p, err := s.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Arjun", p.FirstName)

	raw, err := kv.Get(ctx, ProfileKeyPrefix+"in")
	require.NoError(t, err)
	assert.Contains(t, raw, "Arjun")
}

func TestEmptyWorkspaceListIsRejected(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyAvailable, "[]"))
	s := newMemoryStore(t, kv)
	assert.Len(t, s.Available(), 3)
}

func TestSwitch(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newMemoryStore(t, kv)

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	ws, err := s.Switch(ctx, "vn")
	require.NoError(t, err)
	assert.Equal(t, "Vietnam Exchange", ws.Name)
	require.Len(t, changes, 1)
	assert.Equal(t, "in", changes[0].Previous.ID)
	assert.Equal(t, "vn", changes[0].Current.ID)

	// same workspace: no notification
	_, err = s.Switch(ctx, "vn")
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	_, err = s.Switch(ctx, "xx")
	assert.ErrorIs(t, err, ErrUnknownWorkspace)
	assert.Equal(t, "vn", s.Current().ID)

	unsubscribe()
	_, err = s.Switch(ctx, "id")
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	reloaded := newMemoryStore(t, kv)
	assert.Equal(t, "id", reloaded.Current().ID)
}

func TestProfileRoundTripSurvivesReload(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newMemoryStore(t, kv)

	p, err := s.UpdateProfile(ctx, models.ProfilePatch{FirstName: strPtr("X")})
	require.NoError(t, err)
	assert.Equal(t, "X", p.FirstName)
	assert.Equal(t, "Mehta", p.LastName)

	got, err := s.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X", got.FirstName)

	require.NoError(t, s.Reload(ctx))
	got, err = s.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X", got.FirstName)

	// profiles are per workspace
	_, err = s.Switch(ctx, "vn")
	require.NoError(t, err)
	got, err = s.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sarah", got.FirstName)
}

func TestReloadAnnouncesChangedWorkspace(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newMemoryStore(t, kv)
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	// another writer moved the persisted selection
	other := newMemoryStore(t, kv)
	_, err := other.Switch(ctx, "vn")
	require.NoError(t, err)
	assert.Empty(t, changes)

	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, "vn", s.Current().ID)
	require.Len(t, changes, 1)
	assert.Equal(t, "in", changes[0].Previous.ID)
	assert.Equal(t, "vn", changes[0].Current.ID)

	require.NoError(t, s.Reload(ctx))
	assert.Len(t, changes, 1)
}

type failingKV struct{ KV }

func (f failingKV) Set(context.Context, string, string) error { return errors.New("disk full") }

func TestSwitchKeepsStateWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	newMemoryStore(t, kv) // write defaults

	s := newMemoryStore(t, failingKV{kv})
	_, err := s.Switch(ctx, "vn")
	assert.Error(t, err)
	assert.Equal(t, "in", s.Current().ID)
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, channel+" "+string(payload.([]byte)))
	return nil
}

func TestSwitchIsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	s := newMemoryStore(t, NewMemoryKV(), WithPublisher(pub))
	_, err := s.Switch(context.Background(), "vn")
	require.NoError(t, err)
	require.Len(t, pub.payloads, 1)
	assert.Contains(t, pub.payloads[0], SwitchChannel)
	assert.Contains(t, pub.payloads[0], `"current":"vn"`)
}

type fakeSubscriber struct{ handler func(string) }

func (f *fakeSubscriber) Subscribe(_ context.Context, _ string, h func(string)) error {
	f.handler = h
	return nil
}

func TestWatchAppliesRemoteSwitches(t *testing.T) {
	s := newMemoryStore(t, NewMemoryKV())
	sub := &fakeSubscriber{}
	require.NoError(t, s.Watch(context.Background(), sub))

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	sub.handler(`{"origin":"other","previous":"in","current":"id"}`)
	assert.Equal(t, "id", s.Current().ID)
	require.Len(t, got, 1)

	// own messages and garbage are ignored
	sub.handler(`{"origin":"` + s.origin + `","current":"vn"}`)
	sub.handler(`garbage`)
	assert.Equal(t, "id", s.Current().ID)
	assert.Len(t, got, 1)
}

func TestSQLKV(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(db, "sqlite3"))

	kv, err := NewSQLKV(db, "sqlite3")
	require.NoError(t, err)
	exerciseKV(t, kv)

	_, err = NewSQLKV(db, "oracle")
	assert.Error(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM preferences`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRedisKV(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := redis.Options(config.RedisConfig{})
	opts.Addr = addr
	client, err := redis.Dial(ctx, opts)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Del(ctx, redisKeyPrefix+"k"))

	exerciseKV(t, NewRedisKV(client))
}

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", "one"))
	require.NoError(t, kv.Set(ctx, "k", "two"))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}
