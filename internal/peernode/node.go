// Package peernode wires internal/clock and internal/muxstate together
// with the HTTP transport: the RequestAccess/ReleaseAccess handlers
// served to other peers, and the requester loop that drives this peer's
// own lifecycle, per spec.md 4.3/4.4.
package peernode

import (
	"context"
	goerrors "errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/clock"
	"github.com/sincronizacion-distribuida/printlock/internal/muxstate"
	"github.com/sincronizacion-distribuida/printlock/internal/peerconfig"
	"github.com/sincronizacion-distribuida/printlock/internal/protocol"
)

const (
	requestMaxRetries = 3
	requestInitDelay  = 100 * time.Millisecond
	releaseMaxRetries = 1 // informational, best-effort: spec.md 7 category 2
	releaseTimeout    = 2 * time.Second
	defaultIdleMin    = 4 * time.Second
	defaultIdleMax    = 10 * time.Second
)

// Node is one peer: its clock, its state core, its address book, and
// the HTTP clients used to reach peers and the printer.
type Node struct {
	id          int
	addr        string
	peers       []peerconfig.PeerAddr
	printerAddr string

	clock *clock.Clock
	core  *muxstate.Core

	// requestClient carries RequestAccess and SendToPrinter: both calls
	// can legitimately block for as long as the current holder needs
	// (spec.md 5 lists "none" for RequestAccess cancellation/timeouts),
	// so this client has no fixed deadline of its own and is bounded
	// only by the caller's ctx.
	requestClient *http.Client
	// releaseClient carries the informational, best-effort
	// ReleaseAccess notification only, which is genuinely bounded
	// (spec.md 7 category 2): a short fixed timeout is appropriate here.
	releaseClient *http.Client

	log *logrus.Entry

	idleMin, idleMax time.Duration
	randMu           sync.Mutex
	rnd              *rand.Rand

	deferMu    sync.Mutex
	deferChans map[int]chan struct{}
}

// New constructs a Node from a parsed Config.
func New(cfg peerconfig.Config, log *logrus.Logger) *Node {
	entry := log.WithFields(logrus.Fields{"component": "peernode", "peer_id": cfg.ID})
	return &Node{
		id:            cfg.ID,
		addr:          cfg.ListenPort,
		peers:         cfg.Peers,
		printerAddr:   cfg.PrinterAddr,
		clock:         clock.New(),
		core:          muxstate.New(cfg.ID),
		requestClient: &http.Client{},
		releaseClient: &http.Client{Timeout: releaseTimeout},
		log:           entry,
		idleMin:       defaultIdleMin,
		idleMax:       defaultIdleMax,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(cfg.ID))),
		deferChans:    make(map[int]chan struct{}),
	}
}

// ID returns this peer's identifier.
func (n *Node) ID() int { return n.id }

// Snapshot exposes the state core's snapshot for health/introspection
// endpoints.
func (n *Node) Snapshot() muxstate.Snapshot { return n.core.Snapshot() }

// ClockValue exposes the current Lamport clock value, read-only.
func (n *Node) ClockValue() int64 { return n.clock.Peek() }

// HandleRequestAccess implements the RequestAccess RPC (spec.md 4.3)
// using the capture-and-defer strategy: if the request must be
// deferred, this call parks on a per-requester channel until this
// peer's own release flushes it, rather than blocking on the shared
// state-changed condition. Once flushed it sends exactly one reply,
// preserving invariant 4 of spec.md 3. If ctx is cancelled while the
// call is parked, it returns ctx.Err() and sends no reply.
func (n *Node) HandleRequestAccess(ctx context.Context, req protocol.AccessRequest) (protocol.AccessResponse, error) {
	n.clock.Merge(req.LamportTimestamp)

	if n.core.ShouldDefer(req.ClientID, req.LamportTimestamp) {
		ch := make(chan struct{})
		n.deferMu.Lock()
		n.deferChans[req.ClientID] = ch
		n.deferMu.Unlock()

		n.log.WithFields(logrus.Fields{
			"from_id": req.ClientID, "their_ts": req.LamportTimestamp,
		}).Debug("deferring RequestAccess reply")

		n.core.Defer(req.ClientID, req.LamportTimestamp)

		select {
		case <-ch:
		case <-ctx.Done():
			return protocol.AccessResponse{}, ctx.Err()
		}
	}

	ts := n.clock.Tick()
	return protocol.AccessResponse{AccessGranted: true, LamportTimestamp: ts}, nil
}

// HandleReleaseAccess implements the best-effort, informational
// ReleaseAccess RPC (spec.md 4.3): merge and return.
func (n *Node) HandleReleaseAccess(req protocol.AccessRelease) {
	n.clock.Merge(req.LamportTimestamp)
}

// flushDeferred wakes every handler goroutine parked on a deferred
// request, letting each send its own reply.
func (n *Node) flushDeferred(deferred []muxstate.Deferred) {
	for _, d := range deferred {
		n.deferMu.Lock()
		ch, ok := n.deferChans[d.FromID]
		delete(n.deferChans, d.FromID)
		n.deferMu.Unlock()
		if ok {
			close(ch)
		}
	}
}

// Run drives the requester loop forever (spec.md 4.4) until ctx is
// cancelled. Each iteration's errors are logged; only a category-4
// protocol impossibility (spec.md 7) is treated as fatal.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := n.idle(ctx); err != nil {
			return err
		}
		if err := n.runOnce(ctx); err != nil {
			if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if goerrors.Is(err, muxstate.ErrBadTransition) {
				return err
			}
			n.log.WithError(err).Error("request cycle failed")
		}
	}
}

func (n *Node) idle(ctx context.Context) error {
	n.randMu.Lock()
	span := n.idleMax - n.idleMin
	wait := n.idleMin
	if span > 0 {
		wait += time.Duration(n.rnd.Int63n(int64(span)))
	}
	n.randMu.Unlock()

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runOnce executes one full request/critical/release cycle.
func (n *Node) runOnce(ctx context.Context) error {
	myTS, mySeq, err := n.core.BeginRequest(n.clock.Tick, len(n.peers))
	if err != nil {
		return errors.Wrap(err, "BeginRequest")
	}

	n.log.WithFields(logrus.Fields{"ts": myTS, "seq": mySeq}).Info("WANTED")

	if len(n.peers) > 0 {
		if err := n.broadcastRequestAccess(ctx, myTS, mySeq); err != nil {
			deferred, abortErr := n.core.AbortRequest()
			if abortErr != nil {
				return errors.Wrap(abortErr, "AbortRequest after broadcast failure")
			}
			n.flushDeferred(deferred)
			return errors.Wrap(err, "broadcast RequestAccess")
		}
	}

	if err := n.core.EnterCritical(); err != nil {
		return errors.Wrap(err, "EnterCritical")
	}
	n.log.Info("HELD")

	printErr := n.sendToPrinter(ctx, mySeq)

	deferred, err := n.core.Release()
	if err != nil {
		return errors.Wrap(err, "Release")
	}
	n.flushDeferred(deferred)
	n.log.Info("RELEASED")

	n.broadcastReleaseAccess(ctx, mySeq)

	if printErr != nil {
		return errors.Wrap(printErr, "SendToPrinter")
	}
	return nil
}

// broadcastRequestAccess sends RequestAccess to every peer concurrently
// and blocks until every reply is in (or one transport call fails). The
// results channel is sized to len(n.peers) so that an early return on
// the first failure never leaves a goroutine blocked trying to send.
func (n *Node) broadcastRequestAccess(ctx context.Context, myTS int64, mySeq uint64) error {
	type result struct {
		resp protocol.AccessResponse
		err  error
	}
	results := make(chan result, len(n.peers))

	req := protocol.AccessRequest{ClientID: n.id, LamportTimestamp: myTS, RequestNumber: mySeq}

	for _, peer := range n.peers {
		peer := peer
		go func() {
			var resp protocol.AccessResponse
			url := fmt.Sprintf("http://%s/requestaccess", peer.Addr)
			err := postJSON(ctx, n.requestClient, url, req, &resp, requestMaxRetries, requestInitDelay)
			results <- result{resp: resp, err: err}
		}()
	}

	for i := 0; i < len(n.peers); i++ {
		r := <-results
		if r.err != nil {
			return r.err
		}
		n.clock.Merge(r.resp.LamportTimestamp)
		n.core.ReplyReceived()
	}
	return nil
}

// broadcastReleaseAccess is fire-and-forget and best-effort (spec.md 7
// category 2): failures are logged, never surfaced as cycle errors.
func (n *Node) broadcastReleaseAccess(ctx context.Context, mySeq uint64) {
	ts := n.clock.Tick()
	msg := protocol.AccessRelease{ClientID: n.id, LamportTimestamp: ts, RequestNumber: mySeq}

	for _, peer := range n.peers {
		peer := peer
		go func() {
			url := fmt.Sprintf("http://%s/releaseaccess", peer.Addr)
			if err := postJSON(ctx, n.releaseClient, url, msg, nil, releaseMaxRetries, requestInitDelay); err != nil {
				n.log.WithError(err).WithField("peer_id", peer.ID).Warn("ReleaseAccess notification failed")
			}
		}()
	}
}

// sendToPrinter invokes the external resource exactly once while HELD
// (spec.md 4.4 critical phase). A failure is surfaced as an error but
// the caller still releases the section (spec.md 7 category 3).
func (n *Node) sendToPrinter(ctx context.Context, mySeq uint64) error {
	ts := n.clock.Tick()
	req := protocol.PrintRequest{
		ClientID:         n.id,
		MessageContent:   fmt.Sprintf("job from peer %d", n.id),
		LamportTimestamp: ts,
		RequestNumber:    mySeq,
	}

	var resp protocol.PrintResponse
	url := fmt.Sprintf("http://%s/print", n.printerAddr)
	if err := postJSON(ctx, n.requestClient, url, req, &resp, requestMaxRetries, requestInitDelay); err != nil {
		return err
	}

	n.clock.Merge(resp.LamportTimestamp)
	n.log.WithField("confirmation", resp.ConfirmationMessage).Info("printer confirmed")
	return nil
}

// SetIdleRange overrides the default [4,10]s idle-phase window; used by
// tests that need a faster loop.
func (n *Node) SetIdleRange(min, max time.Duration) {
	n.idleMin, n.idleMax = min, max
}
