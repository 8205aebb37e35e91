package muxstate

import (
	"sync"
	"testing"
	"time"
)

func tickTo(v int64) func() int64 {
	return func() int64 { return v }
}

func TestBeginRequestRequiresReleased(t *testing.T) {
	c := New(1)
	if _, _, err := c.BeginRequest(tickTo(1), 2); err != nil {
		t.Fatalf("first BeginRequest should succeed: %v", err)
	}
	if _, _, err := c.BeginRequest(tickTo(2), 2); err == nil {
		t.Fatal("BeginRequest while already WANTED must fail")
	}
}

func TestEnterCriticalRequiresAllReplies(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 2)

	if err := c.EnterCritical(); err == nil {
		t.Fatal("EnterCritical must fail before replies are in")
	}

	if ready := c.ReplyReceived(); ready {
		t.Fatal("should not be ready after only 1 of 2 replies")
	}
	if ready := c.ReplyReceived(); !ready {
		t.Fatal("should be ready after both replies")
	}

	if err := c.EnterCritical(); err != nil {
		t.Fatalf("EnterCritical should now succeed: %v", err)
	}
	if got := c.Snapshot().State; got != Held {
		t.Fatalf("expected HELD, got %s", got)
	}
}

func TestSinglePeerEntersWithZeroReplies(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 0)
	if err := c.EnterCritical(); err != nil {
		t.Fatalf("N=1 peer must enter with zero replies needed: %v", err)
	}
}

func TestReleaseClearsMyTSAndDeferred(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 0)
	c.EnterCritical()
	c.Defer(2, 5)

	deferred, err := c.Release()
	if err != nil {
		t.Fatalf("Release should succeed from HELD: %v", err)
	}
	if len(deferred) != 1 || deferred[0].FromID != 2 || deferred[0].TheirTS != 5 {
		t.Fatalf("unexpected deferred snapshot: %+v", deferred)
	}

	snap := c.Snapshot()
	if snap.State != Released {
		t.Fatalf("expected RELEASED, got %s", snap.State)
	}
	if snap.MyTS != noTimestamp {
		t.Fatalf("expected my_ts cleared, got %d", snap.MyTS)
	}
	if len(snap.Deferred) != 0 {
		t.Fatalf("expected deferred cleared, got %+v", snap.Deferred)
	}
}

func TestReleaseRequiresHeld(t *testing.T) {
	c := New(1)
	if _, err := c.Release(); err == nil {
		t.Fatal("Release from RELEASED must fail")
	}
}

// Scenario B (spec.md 8): two peers request with identical timestamps;
// the lower-id peer's handler defers the higher-id peer, and the
// higher-id peer's handler replies immediately.
func TestTieBreakByID(t *testing.T) {
	peer1 := New(1)
	peer1.BeginRequest(tickTo(1), 1) // my_ts=1, id=1

	peer2 := New(2)
	peer2.BeginRequest(tickTo(1), 1) // my_ts=1, id=2

	// peer1 sees peer2's request (1,2): (1,1) < (1,2) so peer1 defers it.
	if !peer1.ShouldDefer(2, 1) {
		t.Fatal("peer1 (ts=1,id=1) must defer peer2's request (ts=1,id=2)")
	}

	// peer2 sees peer1's request (1,1): (1,2) > (1,1) so peer2 replies.
	if peer2.ShouldDefer(1, 1) {
		t.Fatal("peer2 (ts=1,id=2) must not defer peer1's request (ts=1,id=1)")
	}
}

// Scenario C (spec.md 8): tie-break by timestamp when ids differ.
func TestTieBreakByTimestamp(t *testing.T) {
	peer2 := New(2)
	peer2.BeginRequest(tickTo(5), 2)

	peer3 := New(3)
	peer3.BeginRequest(tickTo(7), 2)

	// peer3's own request (7,3) is outranked by peer2's incoming (5,2): reply now.
	if peer3.ShouldDefer(2, 5) {
		t.Fatal("peer3 (ts=7) must not defer peer2's earlier request (ts=5)")
	}
	// peer2's own request (5,2) outranks peer3's incoming (7,3): defer.
	if !peer2.ShouldDefer(3, 7) {
		t.Fatal("peer2 (ts=5) must defer peer3's later request (ts=7)")
	}
}

// Scenario D (spec.md 8): a HELD peer defers two concurrent requesters;
// both get flushed on release.
func TestHeldDefersThenFlushesOnRelease(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 0)
	c.EnterCritical()

	if !c.ShouldDefer(2, 10) {
		t.Fatal("HELD peer must defer any incoming request")
	}
	if !c.ShouldDefer(3, 11) {
		t.Fatal("HELD peer must defer any incoming request")
	}
	c.Defer(2, 10)
	c.Defer(3, 11)

	deferred, err := c.Release()
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(deferred) != 2 {
		t.Fatalf("expected 2 deferred replies flushed, got %d", len(deferred))
	}
}

func TestAbortRequestUnwindsToReleased(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 2)
	c.Defer(5, 9) // some other peer's request we were withholding

	deferred, err := c.AbortRequest()
	if err != nil {
		t.Fatalf("AbortRequest from WANTED should succeed: %v", err)
	}
	if len(deferred) != 1 {
		t.Fatalf("expected the deferred entry to be flushed, got %+v", deferred)
	}

	snap := c.Snapshot()
	if snap.State != Released || snap.MyTS != noTimestamp || len(snap.Deferred) != 0 {
		t.Fatalf("AbortRequest must satisfy invariant 2, got %+v", snap)
	}
}

func TestAbortRequestRequiresWanted(t *testing.T) {
	c := New(1)
	if _, err := c.AbortRequest(); err == nil {
		t.Fatal("AbortRequest from RELEASED must fail")
	}
}

func TestReleasedNeverDefers(t *testing.T) {
	c := New(1)
	if c.ShouldDefer(2, 1) {
		t.Fatal("a RELEASED peer must never defer")
	}
}

func TestBroadcastWakesAllWaiters(t *testing.T) {
	c := New(1)
	c.BeginRequest(tickTo(1), 0)
	c.EnterCritical()

	const waiters = 5
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			c.AwaitState(Released)
		}()
	}

	// Give the waiters a chance to block on the condition before releasing.
	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	c.Release()

	<-done // would hang forever if Release only woke one waiter
}
