package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policycopilot/internal/flow"
	"policycopilot/internal/models"
)

var (
	ErrTurnPending   = errors.New("a turn is already pending")
	ErrEmptyInput    = errors.New("message content required")
	ErrSessionClosed = errors.New("conversation session closed")
)

// State of the turn controller.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "pending":
		*s = Pending
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Scheduler runs reply jobs off the caller's goroutine.
type Scheduler interface {
	Schedule(key string, fn func()) error
	Cancel(key string)
}

// Recorder persists transcripts.
type Recorder interface {
	StartConversation(ctx context.Context, c models.Conversation) error
	AppendMessage(ctx context.Context, m models.Message) error
	RetitleConversation(ctx context.Context, id, title string) error
}

// Delays is how long each kind of turn stays pending.
type Delays struct {
	Typed      time.Duration
	Suggestion time.Duration
}

func (d Delays) forSource(src flow.Source) time.Duration {
	if src == flow.SourceSuggestion {
		return d.Suggestion
	}
	return d.Typed
}

const recordTimeout = 5 * time.Second

// Session is one live conversation. Messages are only ever appended; the
// first one is always the assistant greeting.
type Session struct {
	id          string
	workspaceID string
	sched       Scheduler
	rec         Recorder
	delays      Delays
	log         *zap.Logger

	// cancelled on Close, checked by every pending completion
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	messages []models.Message
	state    State
	turn     *Turn
	closed   bool
	titled   bool
	nextID   int64

	// keeps transcript writes in append order
	recMu sync.Mutex
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	ID          string           `json:"id"`
	WorkspaceID string           `json:"workspaceId"`
	State       State            `json:"state"`
	PendingTurn string           `json:"pendingTurn,omitempty"`
	Messages    []models.Message `json:"messages"`
}

func newSession(ws models.Workspace, greeting flow.Reply, sched Scheduler, rec Recorder, delays Delays, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		workspaceID: ws.ID,
		sched:       sched,
		rec:         rec,
		delays:      delays,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.log = log.With(zap.String("conversation", s.id))

	now := time.Now().UTC()
	first := s.newMessageLocked(models.RoleAssistant, greeting, now)
	s.messages = append(s.messages, first)

	if rec != nil {
		rctx, rcancel := context.WithTimeout(context.Background(), recordTimeout)
		defer rcancel()
		conv := models.Conversation{ID: s.id, WorkspaceID: ws.ID, Title: ws.Name, CreatedAt: now, UpdatedAt: now}
		if err := rec.StartConversation(rctx, conv); err != nil {
			s.log.Warn("record conversation", zap.Error(err))
		} else if err := rec.AppendMessage(rctx, first); err != nil {
			s.log.Warn("record greeting", zap.Error(err))
		}
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) WorkspaceID() string { return s.workspaceID }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.id,
		WorkspaceID: s.workspaceID,
		State:       s.state,
		Messages:    append([]models.Message(nil), s.messages...),
	}
	if s.turn != nil {
		snap.PendingTurn = s.turn.ID
	}
	return snap
}

// Submit appends the user message and schedules the assistant reply. The
// session is Pending until the reply lands; further submissions fail with
// ErrTurnPending.
func (s *Session) Submit(text string, src flow.Source) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	reply := flow.Resolve(text, src)
	delay := s.delays.forSource(src)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state == Pending {
		s.mu.Unlock()
		return nil, ErrTurnPending
	}
	userMsg := s.newMessageLocked(models.RoleUser, flow.Reply{Content: text}, time.Now().UTC())
	t := newTurn(userMsg, reply.Key, src)
	s.messages = append(s.messages, userMsg)
	s.state = Pending
	s.turn = t
	retitle := !s.titled
	s.titled = true
	s.mu.Unlock()

	if err := s.sched.Schedule(s.id, func() { s.complete(t, reply, delay) }); err != nil {
		s.rollback(t)
		return nil, err
	}

	s.recMu.Lock()
	s.record(userMsg)
	if retitle {
		s.retitle(text)
	}
	s.recMu.Unlock()
	close(t.accepted)

	s.log.Debug("turn submitted",
		zap.String("turn", t.ID),
		zap.Stringer("source", src),
		zap.String("flow", string(reply.Key)))
	return t, nil
}

func (s *Session) rollback(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != t {
		return
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].ID == t.User.ID {
		s.messages = s.messages[:n-1]
		s.nextID--
	}
	s.state = Idle
	s.turn = nil
	s.titled = len(s.messages) > 1
}

// complete runs on a dispatcher worker.
func (s *Session) complete(t *Turn, reply flow.Reply, delay time.Duration) {
	select {
	case <-t.accepted:
	case <-s.ctx.Done():
		t.finish(models.Message{}, ErrSessionClosed)
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		t.finish(models.Message{}, ErrSessionClosed)
		return
	}

	s.mu.Lock()
	if s.closed || s.turn != t {
		s.mu.Unlock()
		s.log.Warn("dropping stale completion", zap.String("turn", t.ID))
		t.finish(models.Message{}, ErrSessionClosed)
		return
	}
	msg := s.newMessageLocked(models.RoleAssistant, reply, time.Now().UTC())
	s.messages = append(s.messages, msg)
	s.state = Idle
	s.turn = nil
	s.recMu.Lock()
	s.mu.Unlock()

	s.record(msg)
	s.recMu.Unlock()
	t.finish(msg, nil)
}

// Close discards the session. A pending turn resolves with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	t := s.turn
	s.turn = nil
	s.state = Idle
	s.mu.Unlock()

	s.cancel()
	s.sched.Cancel(s.id)
	if t != nil {
		t.finish(models.Message{}, ErrSessionClosed)
	}
}

func (s *Session) newMessageLocked(role models.Role, r flow.Reply, at time.Time) models.Message {
	s.nextID++
	return models.Message{
		ID:             s.nextID,
		ConversationID: s.id,
		Role:           role,
		Content:        r.Content,
		Citations:      r.Citations,
		Suggestions:    r.Suggestions,
		CreatedAt:      at,
	}
}

func (s *Session) record(m models.Message) {
	if s.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.rec.AppendMessage(ctx, m); err != nil {
		s.log.Warn("record message", zap.Error(err))
	}
}

const maxTitleLen = 60

func (s *Session) retitle(text string) {
	if s.rec == nil {
		return
	}
	title := text
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen]) + "..."
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.rec.RetitleConversation(ctx, s.id, title); err != nil {
		s.log.Warn("retitle conversation", zap.Error(err))
	}
}
