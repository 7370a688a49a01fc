package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/detector"
	"github.com/good-yellow-bee/flarewatch/internal/manager"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
)

func newTestServer(t *testing.T) (http.Handler, storage.Store) {
	t.Helper()

	corr := correlator.New(correlator.DefaultConfig())
	det := detector.New(detector.BuiltinRules(), corr, nil)
	resp := responder.New(responder.DefaultConfig())

	notif := notifier.New(&notifier.Options{RatePerSecond: 0})
	notif.Register(notifier.ChannelFunc{
		ChannelName: notifier.ChannelLog,
		SendFunc:    func(context.Context, notifier.Payload) error { return nil },
	})

	store := storage.NewMemoryStore()
	mgr := manager.New(det, corr, resp, notif, store,
		manager.Options{Interval: time.Hour, ProcessOnDetect: false})

	srv, err := New(&Config{Address: ":0"}, mgr)
	if err != nil {
		t.Fatal(err)
	}
	return srv.setupRouter(), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) *Error {
	t.Helper()

	var resp struct {
		Data  json.RawMessage `json:"data"`
		Error *Error          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if data != nil && resp.Data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.Error
}

func TestSubmitEvent(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events", map[string]any{
		"type":     "error",
		"source":   "payment-api",
		"severity": "high",
		"message":  "boom",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var data map[string]string
	decodeResponse(t, rec, &data)
	if data["event_id"] == "" {
		t.Error("response must carry the assigned event id")
	}
}

func TestSubmitEventValidation(t *testing.T) {
	h, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing source", map[string]any{"message": "boom"}},
		{"missing message", map[string]any{"source": "api"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/events", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if apiErr := decodeResponse(t, rec, nil); apiErr == nil || apiErr.Code != ErrCodeValidationFailed {
				t.Errorf("error = %+v, want VALIDATION_FAILED", apiErr)
			}
		})
	}
}

func TestListIncidents(t *testing.T) {
	h, store := newTestServer(t)
	ctx := context.Background()

	high := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	critical := models.NewIncident(models.IncidentTypeServiceDown, models.SeverityCritical, "outage")
	for _, inc := range []*models.Incident{high, critical} {
		if err := store.Save(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/incidents/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var all []*models.Incident
	decodeResponse(t, rec, &all)
	if len(all) != 2 {
		t.Errorf("incidents = %d, want 2", len(all))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/incidents/?severity=critical", nil)
	var filtered []*models.Incident
	decodeResponse(t, rec, &filtered)
	if len(filtered) != 1 || filtered[0].ID != critical.ID {
		t.Errorf("filtered = %d results", len(filtered))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/incidents/?since=not-a-time", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", rec.Code)
	}
}

func TestGetIncident(t *testing.T) {
	h, store := newTestServer(t)

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	if err := store.Save(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/incidents/"+inc.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got models.Incident
	decodeResponse(t, rec, &got)
	if got.ID != inc.ID || got.Title != "burst" {
		t.Errorf("incident = %+v", got)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/incidents/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if apiErr := decodeResponse(t, rec, nil); apiErr == nil || apiErr.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", apiErr)
	}
}

func TestAckIncident(t *testing.T) {
	h, store := newTestServer(t)

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	if err := store.Save(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/ack",
		map[string]string{"actor": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got models.Incident
	decodeResponse(t, rec, &got)
	if got.AckedBy != "alice" {
		t.Errorf("acked by = %q, want alice", got.AckedBy)
	}

	// Missing actor is a validation error.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/ack", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEscalateIncident(t *testing.T) {
	h, store := newTestServer(t)

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityMedium, "burst")
	if err := store.Save(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/escalate",
		map[string]string{"severity": "critical"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got models.Incident
	decodeResponse(t, rec, &got)
	if got.Severity != models.SeverityCritical || !got.Escalated {
		t.Errorf("incident = severity %s escalated %v", got.Severity, got.Escalated)
	}
}

func TestProcessClosedIncidentConflicts(t *testing.T) {
	h, store := newTestServer(t)

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	inc.Status = models.StatusClosed
	if err := store.Save(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/process", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/rules/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var rules []*detector.Rule
	decodeResponse(t, rec, &rules)
	if len(rules) == 0 {
		t.Fatal("built-in rules missing from listing")
	}

	id := rules[0].ID
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/rules/"+id+"/disable", nil); rec.Code != http.StatusNoContent {
		t.Errorf("disable = %d, want 204", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/rules/"+id+"/enable", nil); rec.Code != http.StatusNoContent {
		t.Errorf("enable = %d, want 204", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/rules/unknown/disable", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown rule = %d, want 404", rec.Code)
	}
}

func TestApproveUnknownApproval(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/approvals/nope/approve",
		map[string]string{"actor": "alice"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestStats(t *testing.T) {
	h, store := newTestServer(t)

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	if err := store.Save(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats manager.Statistics
	decodeResponse(t, rec, &stats)
	if stats.TotalIncidents != 1 || stats.ActiveIncidents != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
