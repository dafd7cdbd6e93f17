package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilops/vigil/internal/gateway"
)

// NewRouter constructs a ServeMux with the sessions API, the websocket
// endpoints, and the operational routes registered.
func NewRouter(h *Handler, gw *gateway.Gateway) http.Handler {
	mux := http.NewServeMux()

	// Operational
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Streaming
	mux.HandleFunc("/ws/ingest", gw.HandleIngest)
	mux.HandleFunc("/ws/observe", gw.HandleObserve)

	// Sessions API
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateSession(w, r)
		case http.MethodGet:
			h.ListSessions(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			http.Error(w, "Session ID required", http.StatusBadRequest)
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			h.GetSession(w, r, id)
		case action == "alerts" && r.Method == http.MethodGet:
			h.ListSessionAlerts(w, r, id)
		case action == "close" && r.Method == http.MethodPost:
			h.CloseSession(w, r, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	return mux
}
