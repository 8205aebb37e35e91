// Package printer implements the "dumb" external resource of spec.md 1:
// a single remote endpoint that accepts a print request and returns a
// confirmation, oblivious to mutual exclusion, grounded directly on
// _examples/original_source/src/printer_server.py's PrintingServiceImpl.
package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/clock"
	"github.com/sincronizacion-distribuida/printlock/internal/protocol"
)

// defaultPrintDelay simulates the time the printer takes to do its
// work, matching the original's time.sleep(2).
const defaultPrintDelay = 2 * time.Second

// jobKey identifies a logical print job for dedup purposes. A client
// retry after a transport timeout resends the same (ClientID,
// RequestNumber) pair, even if the original attempt already completed
// and was persisted server-side.
type jobKey struct {
	ClientID      int
	RequestNumber uint64
}

// Service is the printer resource. It is "dumb" about mutual exclusion
// (the protocol, not the printer, prevents overlap) but still keeps its
// own Lamport clock and serializes physical access to the print head,
// exactly as the original server's threading.Lock does.
type Service struct {
	mu         sync.Mutex
	clock      *clock.Clock
	store      Store
	printDelay time.Duration
	log        *logrus.Entry
	completed  map[jobKey]protocol.PrintResponse
}

// NewService builds a printer Service backed by store. A nil store
// defaults to an in-memory log.
func NewService(store Store, log *logrus.Logger) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{
		clock:      clock.New(),
		store:      store,
		printDelay: defaultPrintDelay,
		log:        log.WithField("component", "printer"),
		completed:  make(map[jobKey]protocol.PrintResponse),
	}
}

// SendToPrinter implements spec.md 6's SendToPrinter RPC. It is
// idempotent on (ClientID, RequestNumber): a retried request for a job
// that already completed returns the original confirmation without
// sleeping again or writing a second record to the receive log.
func (s *Service) SendToPrinter(ctx context.Context, req protocol.PrintRequest) (protocol.PrintResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receiveTS := s.clock.Merge(req.LamportTimestamp)

	key := jobKey{ClientID: req.ClientID, RequestNumber: req.RequestNumber}
	if resp, ok := s.completed[key]; ok {
		s.log.WithFields(logrus.Fields{
			"client_id":      req.ClientID,
			"request_number": req.RequestNumber,
		}).Info("duplicate print job, replaying stored confirmation")
		return resp, nil
	}

	s.log.WithFields(logrus.Fields{
		"client_id":      req.ClientID,
		"request_number": req.RequestNumber,
		"ts":             receiveTS,
	}).Info("print job received")

	select {
	case <-time.After(s.printDelay):
	case <-ctx.Done():
		return protocol.PrintResponse{}, ctx.Err()
	}

	confirmation := fmt.Sprintf("job %d from client %d printed", req.RequestNumber, req.ClientID)
	responseTS := s.clock.Tick()

	rec := NewRecord(req.ClientID, req.RequestNumber, req.LamportTimestamp, req.MessageContent, confirmation)
	if err := s.store.Insert(ctx, rec); err != nil {
		s.log.WithError(err).Warn("failed to persist print record")
	}

	resp := protocol.PrintResponse{
		Success:             true,
		ConfirmationMessage: confirmation,
		LamportTimestamp:    responseTS,
	}
	s.completed[key] = resp
	return resp, nil
}

// Log returns the most recent limit print records (0 means no limit).
func (s *Service) Log(ctx context.Context, limit int64) ([]Record, error) {
	return s.store.List(ctx, limit)
}

// ClockValue exposes the printer's own Lamport clock for health checks.
func (s *Service) ClockValue() int64 { return s.clock.Peek() }
