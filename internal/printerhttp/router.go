// Package printerhttp exposes a printer.Service over HTTP using
// gorilla/mux, mirroring internal/peerhttp's transport choice.
package printerhttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/printer"
	"github.com/sincronizacion-distribuida/printlock/internal/protocol"
)

// NewRouter builds the printer service's HTTP surface: SendToPrinter,
// the persisted receive log, and a health endpoint.
func NewRouter(svc *printer.Service, log *logrus.Entry) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/print", handlePrint(svc, log)).Methods(http.MethodPost)
	r.HandleFunc("/log", handleLog(svc, log)).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth(svc)).Methods(http.MethodGet)

	return r
}

func handlePrint(svc *printer.Service, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.PrintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid PrintRequest", http.StatusBadRequest)
			return
		}

		resp, err := svc.SendToPrinter(r.Context(), req)
		if err != nil {
			log.WithError(err).WithField("client_id", req.ClientID).Error("SendToPrinter failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleLog(svc *printer.Service, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int64(0)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := svc.Log(r.Context(), limit)
		if err != nil {
			log.WithError(err).Error("failed to read print log")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleHealth(svc *printer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"clock":  svc.ClockValue(),
		})
	}
}
