package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"policycopilot/internal/flow"
	"policycopilot/internal/models"
	"policycopilot/internal/worker"
	"policycopilot/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fastDelays = Delays{Typed: 20 * time.Millisecond, Suggestion: 10 * time.Millisecond}

type memoryRecorder struct {
	mu       sync.Mutex
	convs    map[string]models.Conversation
	messages []models.Message
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{convs: make(map[string]models.Conversation)}
}

func (r *memoryRecorder) StartConversation(_ context.Context, c models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[c.ID] = c
	return nil
}

func (r *memoryRecorder) AppendMessage(_ context.Context, m models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *memoryRecorder) RetitleConversation(_ context.Context, id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.convs[id]
	c.Title = title
	r.convs[id] = c
	return nil
}

func (r *memoryRecorder) roles(convID string) []models.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Role
	for _, m := range r.messages {
		if m.ConversationID == convID {
			out = append(out, m.Role)
		}
	}
	return out
}

type fixture struct {
	store *workspace.Store
	disp  *worker.Dispatcher
	rec   *memoryRecorder
	mgr   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := workspace.NewStore(context.Background(), workspace.NewMemoryKV(), nil)
	require.NoError(t, err)
	disp := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 4, QueueSize: 16}, nil)
	rec := newMemoryRecorder()
	mgr, err := NewManager(store, disp, rec, fastDelays, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		mgr.Close()
		disp.Stop()
	})
	return &fixture{store: store, disp: disp, rec: rec, mgr: mgr}
}

func waitReply(t *testing.T, turn *Turn) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := turn.Wait(ctx)
	require.NoError(t, err)
	return msg
}

func TestSessionStartsWithGreeting(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Active()
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.RoleAssistant, snap.Messages[0].Role)
	assert.Contains(t, snap.Messages[0].Content, "Hello Arjun.")
	assert.Contains(t, snap.Messages[0].Content, "**India Exchange**")
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, "in", snap.WorkspaceID)
}

func TestEveryFlowAndFallbackAppendsOneReply(t *testing.T) {
	type scenario struct {
		text   string
		source flow.Source
		want   flow.Key
	}
	var scenarios []scenario
	for _, e := range flow.Table() {
		scenarios = append(scenarios, scenario{text: e.Prompt, source: flow.SourceTyped, want: e.Key})
	}
	scenarios = append(scenarios, scenario{text: "something unrelated", source: flow.SourceTyped})
	require.Len(t, scenarios, 10)

	for _, sc := range scenarios {
		sc := sc
		t.Run(sc.text, func(t *testing.T) {
			f := newFixture(t)
			s, turn, err := f.mgr.Submit(sc.text, sc.source)
			require.NoError(t, err)
			assert.Equal(t, sc.want, turn.Flow)

			// the user message is visible immediately
			snap := s.Snapshot()
			require.Len(t, snap.Messages, 2)
			assert.Equal(t, models.RoleUser, snap.Messages[1].Role)
			assert.Equal(t, sc.text, snap.Messages[1].Content)
			assert.Equal(t, Pending, snap.State)
			assert.Equal(t, turn.ID, snap.PendingTurn)

			reply := waitReply(t, turn)
			assert.Equal(t, models.RoleAssistant, reply.Role)

			snap = s.Snapshot()
			require.Len(t, snap.Messages, 3)
			assert.Equal(t, reply, snap.Messages[2])
			assert.Equal(t, Idle, snap.State)

			if sc.want == "" {
				assert.Empty(t, reply.Citations)
				assert.Equal(t, []string{"Fiscal Incentives", "Technical Standards"}, reply.Suggestions)
			} else {
				e, _ := flow.Lookup(sc.want)
				assert.Equal(t, e.Answer, reply.Content)
				assert.Equal(t, []models.Citation{e.Citation}, reply.Citations)
			}
		})
	}
}

func TestPaymentScenario(t *testing.T) {
	f := newFixture(t)
	_, turn, err := f.mgr.Submit("How does the Payment Security Mechanism work?", flow.SourceTyped)
	require.NoError(t, err)
	assert.Equal(t, flow.KeyPayment, turn.Flow)

	reply := waitReply(t, turn)
	assert.Contains(t, reply.Content, "revolving fund")
	require.Len(t, reply.Citations, 1)
	assert.Equal(t, "CESL Tender", reply.Citations[0].DocumentName)
	assert.Equal(t, 12, reply.Citations[0].Page)
}

func TestUnmatchedSuggestionFallsBackToPayment(t *testing.T) {
	f := newFixture(t)
	_, turn, err := f.mgr.Submit("Back to Main Menu", flow.SourceSuggestion)
	require.NoError(t, err)
	assert.Equal(t, flow.KeyPayment, turn.Flow)
	assert.Contains(t, waitReply(t, turn).Content, "revolving fund")
}

func TestSubmitWhilePendingIsRejected(t *testing.T) {
	f := newFixture(t)
	s, turn, err := f.mgr.Submit("battery", flow.SourceTyped)
	require.NoError(t, err)

	_, err = s.Submit("risk", flow.SourceSuggestion)
	assert.ErrorIs(t, err, ErrTurnPending)
	assert.Len(t, s.Snapshot().Messages, 2)

	waitReply(t, turn)
	turn2, err := s.Submit("risk", flow.SourceSuggestion)
	require.NoError(t, err)
	assert.Equal(t, flow.KeyRisk, turn2.Flow)
	waitReply(t, turn2)
	assert.Len(t, s.Snapshot().Messages, 5)
}

func TestEmptyInputIsRejected(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.mgr.Submit("   ", flow.SourceTyped)
	assert.ErrorIs(t, err, ErrEmptyInput)
	s, _ := f.mgr.Active()
	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestSwitchWorkspaceResetsConversation(t *testing.T) {
	f := newFixture(t)
	old, turn, err := f.mgr.Submit("fame", flow.SourceTyped)
	require.NoError(t, err)
	waitReply(t, turn)
	require.Len(t, old.Snapshot().Messages, 3)

	_, err = f.store.Switch(context.Background(), "vn")
	require.NoError(t, err)

	s, err := f.mgr.Active()
	require.NoError(t, err)
	assert.NotEqual(t, old.ID(), s.ID())
	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "vn", snap.WorkspaceID)
	assert.Contains(t, snap.Messages[0].Content, "Hello Sarah.")
	assert.Contains(t, snap.Messages[0].Suggestions, "Compare with Vietnam's Policy")

	select {
	case <-old.Done():
	default:
		t.Fatal("previous session still open")
	}
	_, err = old.Submit("risk", flow.SourceTyped)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSwitchToSameWorkspaceKeepsHistory(t *testing.T) {
	f := newFixture(t)
	s, turn, err := f.mgr.Submit("fame", flow.SourceTyped)
	require.NoError(t, err)
	waitReply(t, turn)

	_, err = f.store.Switch(context.Background(), "in")
	require.NoError(t, err)
	active, _ := f.mgr.Active()
	assert.Equal(t, s.ID(), active.ID())
	assert.Len(t, active.Snapshot().Messages, 3)
}

func TestSwitchWhilePendingDropsCompletion(t *testing.T) {
	f := newFixture(t)
	old, turn, err := f.mgr.Submit("battery", flow.SourceTyped)
	require.NoError(t, err)

	_, err = f.store.Switch(context.Background(), "id")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = turn.Wait(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Len(t, old.Snapshot().Messages, 2)

	s, _ := f.mgr.Active()
	time.Sleep(3 * fastDelays.Typed)
	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestGreetingUsesProfileName(t *testing.T) {
	f := newFixture(t)
	name := "Priya"
	_, err := f.store.UpdateProfile(context.Background(), models.ProfilePatch{FirstName: &name})
	require.NoError(t, err)

	s, err := f.mgr.Reset()
	require.NoError(t, err)
	assert.Contains(t, s.Snapshot().Messages[0].Content, "Hello Priya.")
}

type busyScheduler struct{}

func (busyScheduler) Schedule(string, func()) error { return worker.ErrDispatcherBusy }

func (busyScheduler) Cancel(string) {}

func TestBusySchedulerRollsBackUserMessage(t *testing.T) {
	store, err := workspace.NewStore(context.Background(), workspace.NewMemoryKV(), nil)
	require.NoError(t, err)
	mgr, err := NewManager(store, busyScheduler{}, nil, fastDelays, nil)
	require.NoError(t, err)
	defer mgr.Close()

	s, _, err := mgr.Submit("fame", flow.SourceTyped)
	assert.True(t, errors.Is(err, worker.ErrDispatcherBusy))
	snap := s.Snapshot()
	assert.Len(t, snap.Messages, 1)
	assert.Equal(t, Idle, snap.State)
}

// heldScheduler keeps jobs queued so tests can observe cancellation.
type heldScheduler struct {
	mu        sync.Mutex
	queued    map[string]int
	cancelled []string
}

func (h *heldScheduler) Schedule(key string, _ func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queued == nil {
		h.queued = make(map[string]int)
	}
	h.queued[key]++
	return nil
}

func (h *heldScheduler) Cancel(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queued, key)
	h.cancelled = append(h.cancelled, key)
}

func TestClosingSessionCancelsQueuedReply(t *testing.T) {
	store, err := workspace.NewStore(context.Background(), workspace.NewMemoryKV(), nil)
	require.NoError(t, err)
	sched := &heldScheduler{}
	mgr, err := NewManager(store, sched, nil, fastDelays, nil)
	require.NoError(t, err)
	defer mgr.Close()

	old, turn, err := mgr.Submit("fame", flow.SourceTyped)
	require.NoError(t, err)

	_, err = mgr.Reset()
	require.NoError(t, err)

	_, err = turn.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Contains(t, sched.cancelled, old.ID())
	assert.NotContains(t, sched.queued, old.ID())
}

func TestTranscriptIsRecordedInOrder(t *testing.T) {
	f := newFixture(t)
	s, turn, err := f.mgr.Submit("What about Indonesia?", flow.SourceSuggestion)
	require.NoError(t, err)
	waitReply(t, turn)
	turn, err = s.Submit("registration", flow.SourceTyped)
	require.NoError(t, err)
	waitReply(t, turn)

	assert.Equal(t, []models.Role{
		models.RoleAssistant,
		models.RoleUser, models.RoleAssistant,
		models.RoleUser, models.RoleAssistant,
	}, f.rec.roles(s.ID()))

	f.rec.mu.Lock()
	title := f.rec.convs[s.ID()].Title
	f.rec.mu.Unlock()
	assert.Equal(t, "What about Indonesia?", title)
}

func TestClosedManager(t *testing.T) {
	f := newFixture(t)
	f.mgr.Close()
	_, err := f.mgr.Active()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = f.mgr.Reset()
	assert.ErrorIs(t, err, ErrSessionClosed)
}
