// Package peerhttp exposes a peernode.Node over HTTP using gorilla/mux,
// the transport the teacher repository uses for its peer RPCs
// (03-lock-distribuido/server/main.go).
package peerhttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/peernode"
	"github.com/sincronizacion-distribuida/printlock/internal/protocol"
)

// NewRouter builds the peer service's HTTP surface: RequestAccess,
// ReleaseAccess, and a health/introspection endpoint (spec.md 6.1).
func NewRouter(node *peernode.Node, log *logrus.Entry) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/requestaccess", handleRequestAccess(node, log)).Methods(http.MethodPost)
	r.HandleFunc("/releaseaccess", handleReleaseAccess(node, log)).Methods(http.MethodPost)
	r.HandleFunc("/health", handleHealth(node)).Methods(http.MethodGet)

	return r
}

func handleRequestAccess(node *peernode.Node, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.AccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid AccessRequest", http.StatusBadRequest)
			return
		}

		resp, err := node.HandleRequestAccess(r.Context(), req)
		if err != nil {
			log.WithError(err).WithField("from_id", req.ClientID).Error("RequestAccess handling failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleReleaseAccess(node *peernode.Node, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.AccessRelease
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid AccessRelease", http.StatusBadRequest)
			return
		}
		node.HandleReleaseAccess(req)
		w.WriteHeader(http.StatusOK)
	}
}

func handleHealth(node *peernode.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := node.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"peer_id": node.ID(),
			"state":   snap.State.String(),
			"clock":   node.ClockValue(),
		})
	}
}
