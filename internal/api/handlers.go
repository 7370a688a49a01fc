package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
)

// submitEventRequest is the POST /events body.
type submitEventRequest struct {
	Type          string         `json:"type"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
	Timestamp     *time.Time     `json:"timestamp"`
}

func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid JSON body"))
		return
	}
	if req.Source == "" {
		JSONError(w, NewValidationError("source is required"))
		return
	}
	if req.Message == "" {
		JSONError(w, NewValidationError("message is required"))
		return
	}

	eventType := models.EventType(req.Type)
	if eventType == "" {
		eventType = models.EventTypeGeneric
	}

	event := models.NewEvent(eventType, req.Source, models.ParseSeverity(req.Severity), req.Message)
	event.CorrelationID = req.CorrelationID
	event.Metadata = req.Metadata
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	s.manager.SubmitEvent(event)
	Accepted(w, map[string]string{"event_id": event.ID})
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	filter := storage.Filter{
		Severity: models.Severity(r.URL.Query().Get("severity")),
		Status:   models.IncidentStatus(r.URL.Query().Get("status")),
		Type:     models.IncidentType(r.URL.Query().Get("type")),
	}
	if r.URL.Query().Get("active") == "true" {
		filter.ActiveOnly = true
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			JSONError(w, NewValidationError("since must be RFC3339"))
			return
		}
		filter.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			JSONError(w, NewValidationError("until must be RFC3339"))
			return
		}
		filter.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			JSONError(w, NewValidationError("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	incidents, err := s.manager.ListIncidents(ctx, filter)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	OK(w, incidents)
}

func (s *Server) getIncident(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	inc, err := s.manager.GetIncident(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, NewNotFound("incident not found"))
			return
		}
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, inc)
}

// actorRequest carries the acting operator's name.
type actorRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) ackIncident(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		JSONError(w, NewValidationError("actor is required"))
		return
	}

	inc, err := s.manager.Acknowledge(ctx, chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, NewNotFound("incident not found"))
			return
		}
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, inc)
}

type escalateRequest struct {
	Severity string `json:"severity"`
}

func (s *Server) escalateIncident(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Severity == "" {
		JSONError(w, NewValidationError("severity is required"))
		return
	}

	inc, err := s.manager.Escalate(ctx, chi.URLParam(r, "id"), models.ParseSeverity(req.Severity))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, NewNotFound("incident not found"))
			return
		}
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, inc)
}

func (s *Server) processIncident(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	inc, err := s.manager.GetIncident(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, NewNotFound("incident not found"))
			return
		}
		JSONError(w, ErrInternalServer)
		return
	}
	if inc.Status.IsTerminal() {
		JSONError(w, NewConflict("incident is closed"))
		return
	}

	status, err := s.manager.ProcessIncident(ctx, inc)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{"id": inc.ID, "status": status})
}

func (s *Server) approveAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		JSONError(w, NewValidationError("actor is required"))
		return
	}

	if err := s.manager.Approve(ctx, chi.URLParam(r, "id"), req.Actor); err != nil {
		JSONError(w, NewConflict(err.Error()))
		return
	}
	NoContent(w)
}

func (s *Server) cancelAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.manager.CancelApproval(ctx, chi.URLParam(r, "id")); err != nil {
		JSONError(w, NewConflict(err.Error()))
		return
	}
	NoContent(w)
}

func (s *Server) listRules(w http.ResponseWriter, _ *http.Request) {
	OK(w, s.manager.Detector().Rules())
}

func (s *Server) setRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.manager.Detector().SetEnabled(chi.URLParam(r, "id"), enabled) {
			JSONError(w, NewNotFound("rule not found"))
			return
		}
		NoContent(w)
	}
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	stats, err := s.manager.GetStatistics(ctx)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, stats)
}

// requestContext bounds storage-backed handlers with the configured timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}
