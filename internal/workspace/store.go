package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policycopilot/internal/models"
)

// Keys under which the state is persisted.
const (
	KeyAvailable     = "available_workspaces"
	KeyLastActive    = "last_active_workspace"
	ProfileKeyPrefix = "user_profile_"
)

// SwitchChannel carries switch notifications between instances sharing a redis backend.
const SwitchChannel = "workspace:switched"

var ErrUnknownWorkspace = errors.New("unknown workspace")

// Change describes a workspace switch.
type Change struct {
	Previous models.Workspace
	Current  models.Workspace
}

// Publisher broadcasts switches to other instances.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Subscriber delivers switches made by other instances.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

type switchMessage struct {
	Origin   string `json:"origin"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

type Option func(*Store)

// WithPublisher announces every local switch on SwitchChannel.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// Store owns the active workspace and the per-workspace profiles. All reads are
// served from memory; writes go through to the KV.
type Store struct {
	kv     KV
	log    *zap.Logger
	pub    Publisher
	origin string

	mu        sync.RWMutex
	available []models.Workspace
	current   models.Workspace
	profiles  map[string]models.UserProfile

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func NewStore(ctx context.Context, kv KV, log *zap.Logger, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		kv:     kv,
		log:    log,
		origin: uuid.NewString(),
		subs:   make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload drops everything held in memory and reads the persisted state again.
// Missing or malformed entries are replaced by defaults and written back.
// Subscribers hear about it when the active workspace differs afterwards.
func (s *Store) Reload(ctx context.Context) error {
	available, err := loadOrDefault(ctx, s, KeyAvailable, defaultWorkspaces, validWorkspaces)
	if err != nil {
		return err
	}
	lastID, err := loadOrDefault(ctx, s, KeyLastActive,
		func() string { return pickDefault(available).ID },
		func(id string) bool { _, ok := find(available, id); return ok })
	if err != nil {
		return err
	}
	current, _ := find(available, lastID)

	s.mu.Lock()
	prev := s.current
	s.available = available
	s.current = current
	s.profiles = make(map[string]models.UserProfile)
	s.mu.Unlock()

	if prev.ID != "" && prev.ID != current.ID {
		s.log.Info("workspace changed on reload", zap.String("from", prev.ID), zap.String("to", current.ID))
		s.notify(Change{Previous: prev, Current: current})
	}
	return nil
}

// Available returns the selectable workspaces.
func (s *Store) Available() []models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Workspace(nil), s.available...)
}

func (s *Store) Current() models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Switch makes id the active workspace and notifies subscribers. Switching to
// the active workspace changes nothing.
func (s *Store) Switch(ctx context.Context, id string) (models.Workspace, error) {
	s.mu.Lock()
	ws, ok := find(s.available, id)
	if !ok {
		s.mu.Unlock()
		return models.Workspace{}, fmt.Errorf("%w: %s", ErrUnknownWorkspace, id)
	}
	prev := s.current
	if prev.ID == ws.ID {
		s.mu.Unlock()
		return ws, nil
	}
	if err := save(ctx, s.kv, KeyLastActive, ws.ID); err != nil {
		s.mu.Unlock()
		return models.Workspace{}, err
	}
	s.current = ws
	s.mu.Unlock()

	s.log.Info("workspace switched", zap.String("from", prev.ID), zap.String("to", ws.ID))
	s.notify(Change{Previous: prev, Current: ws})
	s.publish(ctx, prev.ID, ws.ID)
	return ws, nil
}

// Profile returns the profile of the active workspace.
func (s *Store) Profile(ctx context.Context) (models.UserProfile, error) {
	return s.ProfileFor(ctx, s.Current().ID)
}

func (s *Store) ProfileFor(ctx context.Context, workspaceID string) (models.UserProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[workspaceID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := loadOrDefault(ctx, s, ProfileKeyPrefix+workspaceID,
		func() models.UserProfile { return defaultProfile(workspaceID) },
		func(models.UserProfile) bool { return true })
	if err != nil {
		return models.UserProfile{}, err
	}
	s.mu.Lock()
	s.profiles[workspaceID] = p
	s.mu.Unlock()
	return p, nil
}

// UpdateProfile merges patch into the active workspace's profile and persists it.
func (s *Store) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.UserProfile, error) {
	wsID := s.Current().ID
	p, err := s.ProfileFor(ctx, wsID)
	if err != nil {
		return models.UserProfile{}, err
	}
	p = p.Apply(patch)
	if err := save(ctx, s.kv, ProfileKeyPrefix+wsID, p); err != nil {
		return models.UserProfile{}, err
	}
	s.mu.Lock()
	s.profiles[wsID] = p
	s.mu.Unlock()
	return p, nil
}

// Subscribe registers fn for workspace switches. fn runs on the switching
// goroutine and must not call Switch.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Watch follows switches published by other instances until ctx is done.
func (s *Store) Watch(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(ctx, SwitchChannel, func(payload string) {
		var msg switchMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			s.log.Warn("decode workspace switch", zap.Error(err))
			return
		}
		if msg.Origin == s.origin {
			return
		}
		s.applyRemote(msg.Current)
	})
}

func (s *Store) applyRemote(id string) {
	s.mu.Lock()
	ws, ok := find(s.available, id)
	prev := s.current
	if !ok || prev.ID == ws.ID {
		s.mu.Unlock()
		return
	}
	s.current = ws
	// the other instance may have edited profiles too
	s.profiles = make(map[string]models.UserProfile)
	s.mu.Unlock()

	s.log.Info("workspace switched remotely", zap.String("from", prev.ID), zap.String("to", ws.ID))
	s.notify(Change{Previous: prev, Current: ws})
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) publish(ctx context.Context, prev, cur string) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(switchMessage{Origin: s.origin, Previous: prev, Current: cur})
	if err != nil {
		return
	}
	if err := s.pub.Publish(ctx, SwitchChannel, payload); err != nil {
		s.log.Warn("publish workspace switch", zap.Error(err))
	}
}

func loadOrDefault[T any](ctx context.Context, s *Store, key string, def func() T, valid func(T) bool) (T, error) {
	raw, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		var zero T
		return zero, err
	default:
		var v T
		if jerr := json.Unmarshal([]byte(raw), &v); jerr == nil && valid(v) {
			return v, nil
		}
		s.log.Warn("discarding malformed persisted state", zap.String("key", key))
	}

	v := def()
	if err := save(ctx, s.kv, key, v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func save(ctx context.Context, kv KV, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, string(data))
}

func validWorkspaces(ws []models.Workspace) bool {
	if len(ws) == 0 {
		return false
	}
	seen := make(map[string]bool, len(ws))
	for _, w := range ws {
		if w.ID == "" || seen[w.ID] {
			return false
		}
		seen[w.ID] = true
	}
	return true
}

func find(ws []models.Workspace, id string) (models.Workspace, bool) {
	for _, w := range ws {
		if w.ID == id {
			return w, true
		}
	}
	return models.Workspace{}, false
}

func pickDefault(ws []models.Workspace) models.Workspace {
	if w, ok := find(ws, DefaultWorkspaceID); ok {
		return w
	}
	return ws[0]
}
