// Package server exposes the proctoring REST API and wires the websocket
// endpoints into one HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vigilops/vigil/internal/auth"
	"github.com/vigilops/vigil/internal/httputil"
	"github.com/vigilops/vigil/internal/repository"
	"github.com/vigilops/vigil/internal/session"
)

// Archive reads closed sessions from durable storage. Optional; without it
// only live sessions are visible through the API.
type Archive interface {
	GetSession(ctx context.Context, id string) (session.Snapshot, error)
	ListAlerts(ctx context.Context, sessionID string) ([]session.Alert, error)
}

// Handler implements the sessions API.
type Handler struct {
	log      *slog.Logger
	reg      *session.Registry
	issuer   auth.Issuer
	archive  Archive
	tokenTTL time.Duration
}

// NewHandler constructs the API handler. archive may be nil.
func NewHandler(log *slog.Logger, reg *session.Registry, issuer auth.Issuer, archive Archive, tokenTTL time.Duration) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, reg: reg, issuer: issuer, archive: archive, tokenTTL: tokenTTL}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Candidate string `json:"candidate"`
}

// CreateSessionResponse returns the new session plus the endpoint token
// the agent must present on its hello frame.
type CreateSessionResponse struct {
	Session session.Snapshot `json:"session"`
	Token   string           `json:"token"`
}

// CreateSession handles POST /api/v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Candidate) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "candidate is required")
		return
	}

	snap, err := h.reg.Create(r.Context(), req.Candidate)
	if err != nil {
		h.log.Error("api.session.create_failed", "err", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	token, err := h.issuer.Issue(snap.SessionID, h.tokenTTL)
	if err != nil {
		h.log.Error("api.token.issue_failed", "session_id", snap.SessionID, "err", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateSessionResponse{Session: snap, Token: token})
}

// ListSessions handles GET /api/v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := h.reg.List(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": snaps,
		"count":    len(snaps),
	})
}

// GetSession handles GET /api/v1/sessions/:id. Live sessions win; closed
// ones fall back to the archive when one is configured.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := h.reg.Get(r.Context(), id)
	if err == nil {
		httputil.WriteJSON(w, http.StatusOK, snap)
		return
	}
	if !errors.Is(err, session.ErrNotFound) {
		h.log.Error("api.session.get_failed", "session_id", id, "err", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	if h.archive != nil {
		archived, aerr := h.archive.GetSession(r.Context(), id)
		if aerr == nil {
			httputil.WriteJSON(w, http.StatusOK, archived)
			return
		}
		if !errors.Is(aerr, repository.ErrSessionNotFound) {
			h.log.Error("api.session.archive_failed", "session_id", id, "err", aerr)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to get session")
			return
		}
	}
	httputil.WriteError(w, http.StatusNotFound, "session not found")
}

// ListSessionAlerts handles GET /api/v1/sessions/:id/alerts
func (h *Handler) ListSessionAlerts(w http.ResponseWriter, r *http.Request, id string) {
	if snap, err := h.reg.Get(r.Context(), id); err == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": snap.Alerts})
		return
	}

	if h.archive != nil {
		alerts, err := h.archive.ListAlerts(r.Context(), id)
		if err != nil {
			h.log.Error("api.alerts.list_failed", "session_id", id, "err", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list alerts")
			return
		}
		if len(alerts) > 0 {
			httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
			return
		}
	}
	httputil.WriteError(w, http.StatusNotFound, "session not found")
}

// CloseSessionRequest is the optional body of POST /api/v1/sessions/:id/close.
type CloseSessionRequest struct {
	Reason string `json:"reason"`
}

// CloseSession handles POST /api/v1/sessions/:id/close
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request, id string) {
	var req CloseSessionRequest
	if r.Body != nil {
		// Body is optional; decode errors fall back to the default reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "closed by proctor"
	}

	if err := h.reg.Close(r.Context(), id, req.Reason); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error("api.session.close_failed", "session_id", id, "err", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
