package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"policycopilot/internal/flow"
	"policycopilot/internal/models"
	"policycopilot/internal/workspace"
)

// WorkspaceSource tells the manager which workspace is active.
type WorkspaceSource interface {
	Current() models.Workspace
	ProfileFor(ctx context.Context, workspaceID string) (models.UserProfile, error)
	Subscribe(fn func(workspace.Change)) (unsubscribe func())
}

// Manager owns the single active session. Switching workspace replaces it
// with a fresh greeting; the old history is discarded.
type Manager struct {
	src    WorkspaceSource
	sched  Scheduler
	rec    Recorder
	delays Delays
	log    *zap.Logger

	mu          sync.Mutex
	active      *Session
	closed      bool
	unsubscribe func()
}

func NewManager(src WorkspaceSource, sched Scheduler, rec Recorder, delays Delays, log *zap.Logger) (*Manager, error) {
	if src == nil || sched == nil {
		return nil, errors.New("workspace source and scheduler required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		src:    src,
		sched:  sched,
		rec:    rec,
		delays: delays,
		log:    log,
	}
	m.active = m.newSession(src.Current())
	m.unsubscribe = src.Subscribe(m.onSwitch)
	return m, nil
}

// Active returns the live session.
func (m *Manager) Active() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	return m.active, nil
}

// Submit starts a turn on the active session.
func (m *Manager) Submit(text string, src flow.Source) (*Session, *Turn, error) {
	s, err := m.Active()
	if err != nil {
		return nil, nil, err
	}
	t, err := s.Submit(text, src)
	if err != nil {
		return s, nil, err
	}
	return s, t, nil
}

// Reset replaces the active session with a fresh greeting for the current workspace.
func (m *Manager) Reset() (*Session, error) {
	return m.replace(m.src.Current())
}

func (m *Manager) onSwitch(c workspace.Change) {
	if c.Previous.ID == c.Current.ID {
		return
	}
	if _, err := m.replace(c.Current); err != nil && !errors.Is(err, ErrSessionClosed) {
		m.log.Warn("reset conversation", zap.Error(err))
	}
}

func (m *Manager) replace(ws models.Workspace) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	m.mu.Unlock()

	next := m.newSession(ws)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		next.Close()
		return nil, ErrSessionClosed
	}
	prev := m.active
	m.active = next
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	m.log.Info("conversation reset", zap.String("workspace", ws.ID), zap.String("conversation", next.ID()))
	return next, nil
}

func (m *Manager) newSession(ws models.Workspace) *Session {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var firstName string
	if p, err := m.src.ProfileFor(ctx, ws.ID); err != nil {
		m.log.Warn("load profile for greeting", zap.String("workspace", ws.ID), zap.Error(err))
	} else {
		firstName = p.FirstName
	}
	return newSession(ws, flow.Greeting(ws, firstName), m.sched, m.rec, m.delays, m.log)
}

// Close stops following workspace switches and closes the active session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	s := m.active
	unsubscribe := m.unsubscribe
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if s != nil {
		s.Close()
	}
}
