// Package muxstate implements the Ricart-Agrawala peer state core: the
// guarded tuple (state, my_ts, my_seq, deferred) together with its
// transitions and the state-changed condition that gets broadcast on
// every state transition.
//
// A single mutex protects the whole tuple; no finer-grained locking is
// permitted, since the tie-break decision in ShouldDefer needs to
// observe (state, my_ts) together.
package muxstate

import (
	"sync"

	"github.com/pkg/errors"
)

// State is a peer's position in the RELEASED/WANTED/HELD lifecycle.
type State int

const (
	Released State = iota
	Wanted
	Held
)

func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Wanted:
		return "WANTED"
	case Held:
		return "HELD"
	default:
		return "UNKNOWN"
	}
}

// ErrBadTransition marks an attempt to perform a transition whose
// precondition does not hold. Per spec this is a programming error,
// not a recoverable one.
var ErrBadTransition = errors.New("muxstate: illegal state transition")

// noTimestamp is the sentinel used for my_ts when state is RELEASED.
const noTimestamp int64 = -1

// Deferred is a withheld RequestAccess reply, recorded while a peer's
// own request outranks the incoming one.
type Deferred struct {
	FromID  int
	TheirTS int64
}

// Core holds the peer-state tuple (state, my_ts, my_seq, deferred) for
// one peer, the count of replies still owed, and the condition used to
// wake observers of a state transition. The Lamport clock is not held
// here; BeginRequest receives its Tick as a function.
type Core struct {
	mu   sync.Mutex
	cond *sync.Cond

	myID int

	state    State
	myTS     int64
	mySeq    uint64
	pending  int // outstanding peer replies still owed before EnterCritical is legal
	deferred []Deferred
}

// New returns a Core for the given peer id, starting RELEASED.
func New(myID int) *Core {
	c := &Core{myID: myID, myTS: noTimestamp}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns the owning peer's id. Immutable, safe without the lock.
func (c *Core) ID() int {
	return c.myID
}

// Snapshot is a point-in-time, consistent read of the whole tuple, used
// by logging and tests. deferred is returned as a copy.
type Snapshot struct {
	State    State
	MyTS     int64
	MySeq    uint64
	Pending  int
	Deferred []Deferred
}

func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Core) snapshotLocked() Snapshot {
	deferredCopy := make([]Deferred, len(c.deferred))
	copy(deferredCopy, c.deferred)
	return Snapshot{
		State:    c.state,
		MyTS:     c.myTS,
		MySeq:    c.mySeq,
		Pending:  c.pending,
		Deferred: deferredCopy,
	}
}

// BeginRequest transitions RELEASED -> WANTED. tick is invoked while the
// lock is held, per spec.md 4.2's "my_ts <- tick()" postcondition; it is
// expected to be the owning peer's Lamport clock Tick method. peerCount
// is the number of distinct replies this request must collect before
// EnterCritical is legal (N-1 in the normal case, 0 when the peer is
// alone).
func (c *Core) BeginRequest(tick func() int64, peerCount int) (myTS int64, mySeq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Released {
		return 0, 0, errors.Wrapf(ErrBadTransition, "BeginRequest: state is %s, want RELEASED", c.state)
	}

	c.state = Wanted
	c.mySeq++
	c.myTS = tick()
	c.pending = peerCount
	c.cond.Broadcast()

	return c.myTS, c.mySeq, nil
}

// ReplyReceived records that one more peer reply arrived for the
// outstanding request. It returns true once every reply has arrived and
// EnterCritical may be called.
func (c *Core) ReplyReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending > 0 {
		c.pending--
	}
	return c.state == Wanted && c.pending == 0
}

// EnterCritical transitions WANTED -> HELD. Precondition: state is
// WANTED and every reply has been collected (ReplyReceived last
// returned true).
func (c *Core) EnterCritical() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Wanted {
		return errors.Wrapf(ErrBadTransition, "EnterCritical: state is %s, want WANTED", c.state)
	}
	if c.pending != 0 {
		return errors.Wrapf(ErrBadTransition, "EnterCritical: %d replies still outstanding", c.pending)
	}

	c.state = Held
	c.cond.Broadcast()
	return nil
}

// Release transitions HELD -> RELEASED, clears my_ts, and returns a
// snapshot of the deferred set (now cleared) whose replies the caller
// must send.
func (c *Core) Release() ([]Deferred, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Held {
		return nil, errors.Wrapf(ErrBadTransition, "Release: state is %s, want HELD", c.state)
	}

	c.state = Released
	c.myTS = noTimestamp
	c.pending = 0
	snapshot := c.deferred
	c.deferred = nil
	c.cond.Broadcast()

	return snapshot, nil
}

// AbortRequest is the exceptional escape hatch for spec.md 7 category 1
// (fatal transport failure on an outbound RequestAccess): it unwinds a
// WANTED request straight back to RELEASED without ever reaching HELD.
// This is not one of the legal transitions in spec.md 4.5's happy-path
// table; it exists only because spec.md 7 explicitly allows "skip the
// cycle back to RELEASED" as a documented policy choice for that error.
// Per invariant 2, a RELEASED state requires deferred = empty, so any
// requests this peer had deferred while WANTED are flushed here exactly
// as they would be on a normal Release.
func (c *Core) AbortRequest() ([]Deferred, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Wanted {
		return nil, errors.Wrapf(ErrBadTransition, "AbortRequest: state is %s, want WANTED", c.state)
	}

	c.state = Released
	c.myTS = noTimestamp
	c.pending = 0
	snapshot := c.deferred
	c.deferred = nil
	c.cond.Broadcast()

	return snapshot, nil
}

// ShouldDefer computes the must-defer predicate from spec.md 4.3 for an
// incoming (fromID, theirTS) request, given the currently observed
// state and my_ts:
//
//	defer <=> state = HELD, or state = WANTED and (my_ts, my_id) < (theirTS, fromID)
func (c *Core) ShouldDefer(fromID int, theirTS int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Held:
		return true
	case Wanted:
		return less(c.myTS, c.myID, theirTS, fromID)
	default:
		return false
	}
}

// Defer records an incoming request whose reply has been withheld.
func (c *Core) Defer(fromID int, theirTS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred = append(c.deferred, Deferred{FromID: fromID, TheirTS: theirTS})
}

// AwaitState blocks until the state equals want. It is not used by the
// capture-and-defer request handler (which never blocks a worker), but
// is available to tests and to any local observer that needs to wait on
// a transition; spec.md 5 requires a broadcast (not a single wake) on
// every RELEASED transition so that every such waiter re-evaluates
// independently.
func (c *Core) AwaitState(want State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != want {
		c.cond.Wait()
	}
}

// less reports whether (tsA, idA) has priority over (tsB, idB) under the
// lexicographic tie-break rule of spec.md 4.6.
func less(tsA int64, idA int, tsB int64, idB int) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return idA < idB
}
