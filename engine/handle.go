package engine

import (
	"context"
	"sync"

	"taskmate-sync/domain"
)

// State is the lifecycle position of a mutation.
type State int

const (
	StateIdle State = iota
	StatePending
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Handle tracks a mutation after its optimistic patch was installed.
type Handle struct {
	Name    string
	Command domain.Command
	// EntityID is the id of the entity the mutation created, if any.
	EntityID string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newHandle(name string, cmd domain.Command) *Handle {
	return &Handle{Name: name, Command: cmd, state: StatePending, done: make(chan struct{})}
}

func (h *Handle) settle(state State, err error) {
	h.mu.Lock()
	h.state = state
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the mutation committed or rolled back.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the remote failure of a rolled back mutation.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the mutation settles and returns its remote error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}
