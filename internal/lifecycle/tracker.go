package lifecycle

import (
	"sync"
	"time"

	"github.com/smazurov/camhw/internal/hwerr"
)

// Tracker guards one entity's state and reference count.
// The condition variable is signalled only when the count drops to zero.
type Tracker struct {
	name        string
	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	refs        int
	zeroSignals uint64
	onChange    func(name string, old, new State)
}

// NewTracker creates a tracker in StateInvalid.
func NewTracker(name string) *Tracker {
	t := &Tracker{name: name, state: StateInvalid}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// OnStateChange installs a callback invoked after every successful transition.
// The callback runs without the tracker lock held.
func (t *Tracker) OnStateChange(fn func(name string, old, new State)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Name returns the tracker's diagnostic name.
func (t *Tracker) Name() string {
	return t.name
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the tracker to the requested state.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	from := t.state
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidState, "%s: illegal transition %s -> %s", t.name, from, to)
	}
	t.state = to
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(t.name, from, to)
	}
	return nil
}

// TransitionIf moves to `to` only when the current state equals `from`.
// The check and the move happen under one lock.
func (t *Tracker) TransitionIf(from, to State) error {
	t.mu.Lock()
	if t.state != from || !CanTransition(from, to) {
		cur := t.state
		t.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidState, "%s: cannot move %s -> %s while in %s", t.name, from, to, cur)
	}
	t.state = to
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(t.name, from, to)
	}
	return nil
}

// TransitionIdle moves to `to` only while no references are held, so no
// Acquire can slip in between the check and the move. Held references fail
// with Busy.
func (t *Tracker) TransitionIdle(to State) error {
	t.mu.Lock()
	from := t.state
	if t.refs > 0 {
		refs := t.refs
		t.mu.Unlock()
		return hwerr.Newf(hwerr.Busy, "%s: %d references still held", t.name, refs)
	}
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidState, "%s: illegal transition %s -> %s", t.name, from, to)
	}
	t.state = to
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(t.name, from, to)
	}
	return nil
}

// Acquire takes a reference. It fails unless the entity is usable.
func (t *Tracker) Acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Usable() {
		return hwerr.Newf(hwerr.InvalidState, "%s: not usable in state %s", t.name, t.state)
	}
	t.refs++
	return nil
}

// Release drops a reference and wakes waiters when the count reaches zero.
// Releasing with no outstanding references is an error and signals nothing.
func (t *Tracker) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs == 0 {
		return hwerr.Newf(hwerr.InvalidState, "%s: reference count underflow", t.name)
	}
	t.refs--
	if t.refs == 0 {
		t.zeroSignals++
		t.cond.Broadcast()
	}
	return nil
}

// Refs returns the current reference count.
func (t *Tracker) Refs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs
}

// ZeroSignals returns how many times the count has dropped to zero.
func (t *Tracker) ZeroSignals() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zeroSignals
}

// WaitForZero blocks until no references are outstanding.
func (t *Tracker) WaitForZero() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.refs > 0 {
		t.cond.Wait()
	}
}

// WaitForZeroTimeout blocks until no references are outstanding or the
// timeout expires, in which case it returns a Timeout error.
func (t *Tracker) WaitForZeroTimeout(d time.Duration) error {
	var expired bool

	timer := time.AfterFunc(d, func() {
		t.mu.Lock()
		expired = true
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.refs > 0 {
		if expired {
			return hwerr.Newf(hwerr.Timeout, "%s: %d references outstanding after %s", t.name, t.refs, d)
		}
		t.cond.Wait()
	}
	return nil
}
