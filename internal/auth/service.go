package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"policycopilot/internal/models"
	"policycopilot/internal/redis"
)

const (
	keyPrefix        = "sk-live-"
	redisKeyPrefix   = "admin_key:"
	redisKeyCacheTTL = 10 * time.Minute
)

var ErrInvalidKey = errors.New("invalid admin key")

// Auditor records security relevant actions.
type Auditor interface {
	Record(ctx context.Context, e models.AuditEvent) error
}

// Service issues, validates and rotates the admin API key. Exactly one key is
// active at a time.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	cipher     *keyCipher
	auditor    Auditor
	log        *zap.Logger
	headerName string
}

// NewService constructs the key service. cache and auditor may be nil; an
// empty secret stores keys unencrypted.
func NewService(db *sql.DB, cache *redis.Client, secret string, auditor Auditor, log *zap.Logger) (*Service, error) {
	c, err := newKeyCipher(secret)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:         db,
		cache:      cache,
		cipher:     c,
		auditor:    auditor,
		log:        log,
		headerName: "X-Admin-Key",
	}, nil
}

// EnsureKey returns the active key, issuing the first one if none exists.
func (s *Service) EnsureKey(ctx context.Context) (key string, created bool, err error) {
	key, err = s.CurrentKey(ctx)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}
	key, err = generateKey()
	if err != nil {
		return "", false, err
	}
	if err := s.insertKey(ctx, s.db, key, time.Now().UTC()); err != nil {
		return "", false, err
	}
	return key, true, nil
}

// CurrentKey returns the active key in plaintext.
func (s *Service) CurrentKey(ctx context.Context) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM admin_keys WHERE revoked_at IS NULL ORDER BY id DESC LIMIT 1`,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("lookup admin key: %w", err)
	}
	return s.cipher.open(stored)
}

// Rotate revokes the active key and issues a new one. presented is the key the
// caller authenticated with; it is recorded masked.
func (s *Service) Rotate(ctx context.Context, actor, presented string) (string, error) {
	prev, err := s.CurrentKey(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE admin_keys SET revoked_at = ? WHERE revoked_at IS NULL`, now); err != nil {
		return "", fmt.Errorf("revoke admin key: %w", err)
	}
	if err := s.insertKey(ctx, tx, key, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit rotation: %w", err)
	}

	if prev != "" {
		s.uncache(ctx, prev)
	}
	if s.auditor != nil {
		if actor == "" {
			actor = "System Admin"
		}
		details := "Admin key rotated; previous key revoked."
		if presented != "" {
			details = fmt.Sprintf("Admin key rotated with %s; previous key revoked.", Mask(presented))
		}
		if err := s.auditor.Record(ctx, models.AuditEvent{
			Event:      "API Key Rotation",
			Actor:      actor,
			Location:   "Internal",
			Status:     models.AuditSuccess,
			Details:    details,
			OccurredAt: now,
		}); err != nil {
			s.log.Warn("record key rotation", zap.Error(err))
		}
	}
	s.log.Info("admin key rotated")
	return key, nil
}

// Validate checks key against the active key.
func (s *Service) Validate(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	if s.cached(ctx, key) {
		return nil
	}
	current, err := s.CurrentKey(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidKey
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(key)) != 1 {
		return ErrInvalidKey
	}
	s.cacheKey(ctx, key)
	return nil
}

// Mask hides all but the first and last few characters of key.
func Mask(key string) string {
	rest := strings.TrimPrefix(key, keyPrefix)
	if len(rest) <= 8 {
		return keyPrefix + strings.Repeat("•", len(rest))
	}
	return keyPrefix + rest[:4] + strings.Repeat("•", 12) + rest[len(rest)-4:]
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Service) insertKey(ctx context.Context, db execer, key string, now time.Time) error {
	sealed, err := s.cipher.seal(key)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO admin_keys (api_key, created_at) VALUES (?, ?)`, sealed, now); err != nil {
		return fmt.Errorf("store admin key: %w", err)
	}
	return nil
}

func (s *Service) cached(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	_, err := s.cache.Get(ctx, redisKeyPrefix+fingerprint(key))
	return err == nil
}

func (s *Service) cacheKey(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, redisKeyPrefix+fingerprint(key), "1", redisKeyCacheTTL); err != nil {
		s.log.Warn("cache admin key", zap.Error(err))
	}
}

func (s *Service) uncache(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, redisKeyPrefix+fingerprint(key)); err != nil {
		s.log.Warn("uncache admin key", zap.Error(err))
	}
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}
