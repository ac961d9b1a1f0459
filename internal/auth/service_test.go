package auth

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policycopilot/internal/config"
	"policycopilot/internal/models"
	"policycopilot/internal/redis"
	"policycopilot/internal/storage"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, e models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func TestEnsureRotateValidate(t *testing.T) {
	db := openTestDB(t)
	auditor := &recordingAuditor{}
	svc, err := NewService(db, nil, "", auditor, nil)
	require.NoError(t, err)
	ctx := context.Background()

	key, created, err := svc.EnsureKey(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(key, keyPrefix))

	again, created, err := svc.EnsureKey(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key, again)

	require.NoError(t, svc.Validate(ctx, key))
	assert.ErrorIs(t, svc.Validate(ctx, "sk-live-nope"), ErrInvalidKey)
	assert.ErrorIs(t, svc.Validate(ctx, ""), ErrInvalidKey)

	rotated, err := svc.Rotate(ctx, "Director", key)
	require.NoError(t, err)
	assert.NotEqual(t, key, rotated)
	assert.ErrorIs(t, svc.Validate(ctx, key), ErrInvalidKey)
	require.NoError(t, svc.Validate(ctx, rotated))

	require.Len(t, auditor.events, 1)
	assert.Equal(t, "API Key Rotation", auditor.events[0].Event)
	assert.Equal(t, "Director", auditor.events[0].Actor)
	assert.Equal(t, "Admin key rotated with "+Mask(key)+"; previous key revoked.", auditor.events[0].Details)
	assert.NotContains(t, auditor.events[0].Details, key)
}

func TestKeysAreEncryptedAtRest(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewService(db, nil, strings.Repeat("a", 32), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	key, _, err := svc.EnsureKey(ctx)
	require.NoError(t, err)

	var stored string
	require.NoError(t, db.QueryRow(`SELECT api_key FROM admin_keys`).Scan(&stored))
	assert.NotEqual(t, key, stored)
	assert.NotContains(t, stored, keyPrefix)

	got, err := svc.CurrentKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLegacyPlaintextKeyIsAccepted(t *testing.T) {
	db := openTestDB(t)
	legacy := keyPrefix + "legacy"
	_, err := db.Exec(`INSERT INTO admin_keys (api_key, created_at) VALUES (?, ?)`, legacy, time.Now().UTC())
	require.NoError(t, err)

	svc, err := NewService(db, nil, strings.Repeat("b", 32), nil, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Validate(context.Background(), legacy))
}

func TestBadSecretIsRejected(t *testing.T) {
	_, err := NewService(nil, nil, "short", nil, nil)
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	masked := Mask("sk-live-9s8d7f6g5h4j3k2l")
	assert.True(t, strings.HasPrefix(masked, "sk-live-9s8d"))
	assert.True(t, strings.HasSuffix(masked, "3k2l"))
	assert.NotContains(t, masked, "7f6g5h4j")
	assert.Equal(t, "sk-live-•••", Mask("sk-live-abc"))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	svc, err := NewService(db, nil, "", nil, nil)
	require.NoError(t, err)
	key, _, err := svc.EnsureKey(context.Background())
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", svc.Middleware(), func(c *gin.Context) {
		got, _ := AdminKeyFromContext(c)
		c.String(http.StatusOK, got)
	})

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-Admin-Key", "sk-live-wrong", http.StatusUnauthorized},
		{"header", "X-Admin-Key", key, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + key, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, key, w.Body.String())
			}
		})
	}
}

func TestAdminKeyCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	cacheClient := newRedisCacheClient(t)

	svc, err := NewService(db, cacheClient, "", nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	key, _, err := svc.EnsureKey(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Validate(ctx, key))

	got, err := cacheClient.Get(ctx, redisKeyPrefix+fingerprint(key))
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	_, err = svc.Rotate(ctx, "", "")
	require.NoError(t, err)
	_, err = cacheClient.Get(ctx, redisKeyPrefix+fingerprint(key))
	assert.ErrorIs(t, err, redis.ErrCacheMiss)
	assert.ErrorIs(t, svc.Validate(ctx, key), ErrInvalidKey)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	return db
}

func newRedisCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := redis.NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	flush := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	defer flush.Close()
	require.NoError(t, flush.FlushDB(ctx).Err())
	return client
}
