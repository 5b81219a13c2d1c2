package catchment

import (
	"context"
	"sync"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Tracker keeps a generation counter per session. Starting a request for
// a session cancels the one in flight, and only the newest generation may
// publish its result.
type Tracker struct {
	mu       sync.Mutex
	seq      uint64
	sessions map[string]*generation
}

type generation struct {
	n      uint64
	cancel context.CancelCauseFunc
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*generation)}
}

// Ticket identifies one request generation.
type Ticket struct {
	t       *Tracker
	session string
	n       uint64
	cancel  context.CancelCauseFunc
}

// Begin starts a new generation for session and cancels the previous one
// with ErrSuperseded as cause. An empty session is not tracked.
func (t *Tracker) Begin(ctx context.Context, session string) (context.Context, Ticket) {
	ctx, cancel := context.WithCancelCause(ctx)
	if session == "" {
		return ctx, Ticket{cancel: cancel}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.sessions[session]; ok {
		prev.cancel(model.ErrSuperseded)
	}
	t.seq++
	t.sessions[session] = &generation{n: t.seq, cancel: cancel}
	return ctx, Ticket{t: t, session: session, n: t.seq, cancel: cancel}
}

// Current reports whether the ticket is still the newest generation.
func (tk Ticket) Current() bool {
	if tk.t == nil {
		return true
	}
	tk.t.mu.Lock()
	defer tk.t.mu.Unlock()
	g, ok := tk.t.sessions[tk.session]
	return ok && g.n == tk.n
}

// Done releases the generation and its context. The session entry is kept
// when a newer generation replaced it.
func (tk Ticket) Done() {
	if tk.cancel != nil {
		tk.cancel(nil)
	}
	if tk.t == nil {
		return
	}
	tk.t.mu.Lock()
	defer tk.t.mu.Unlock()
	if g, ok := tk.t.sessions[tk.session]; ok && g.n == tk.n {
		delete(tk.t.sessions, tk.session)
	}
}

// Active returns the number of sessions with a request in flight.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
