package conversation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"policycopilot/internal/flow"
	"policycopilot/internal/models"
)

// Turn is one request/response cycle.
type Turn struct {
	ID     string
	User   models.Message
	Source flow.Source
	// Flow is empty when the reply is the clarification.
	Flow flow.Key

	accepted chan struct{}
	done     chan struct{}
	once     sync.Once
	reply    models.Message
	err      error
}

func newTurn(user models.Message, key flow.Key, src flow.Source) *Turn {
	return &Turn{
		ID:       uuid.NewString(),
		User:     user,
		Source:   src,
		Flow:     key,
		accepted: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed when the turn resolves.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the assistant reply is appended, the session is closed or
// ctx is done.
func (t *Turn) Wait(ctx context.Context) (models.Message, error) {
	select {
	case <-t.done:
		return t.reply, t.err
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

func (t *Turn) finish(reply models.Message, err error) {
	t.once.Do(func() {
		t.reply = reply
		t.err = err
		close(t.done)
	})
}
