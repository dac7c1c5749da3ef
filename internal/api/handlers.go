package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// internalErrorBody is sent when an envelope cannot be encoded.
var internalErrorBody = []byte(`{"status":"error","message":"Internal server error"}`)

// respond encodes resp as the response body. Encoding happens before any header is written so a
// failure can still turn into a 500.
func respond(w http.ResponseWriter, r *http.Request, statusCode int, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.respond: failed to encode response",
			"error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		body = internalErrorBody
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Warn("Server.respond: client went away", "error", err, "path", r.URL.Path)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	respond(w, r, statusCode, models.Error(message))
}

// healthHandler reports liveness and, when known, the number of conversations in progress.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := models.HealthStatus{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if s.cfg.Sessions != nil {
		n := s.cfg.Sessions.Count()
		health.ActiveSessions = &n
	}
	respond(w, r, http.StatusOK, models.Success(health))
}

// leadsHandler handles GET /leads, newest first.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Leads == nil {
		respondError(w, r, http.StatusServiceUnavailable, "Lead archive not configured")
		return
	}

	leads, err := s.cfg.Leads.GetLeads()
	if err != nil {
		slog.Error("Server.leadsHandler: failed to load leads", "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to load leads")
		return
	}
	if leads == nil {
		leads = []models.ArchivedLead{}
	}

	slog.Debug("Server.leadsHandler: returning leads", "count", len(leads))
	respond(w, r, http.StatusOK, models.Success(leads))
}
