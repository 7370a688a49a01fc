package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/detector"
	"github.com/good-yellow-bee/flarewatch/internal/metrics"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
)

func newTestManager(t *testing.T, opts Options) (*Manager, storage.Store) {
	t.Helper()
	return newCustomManager(t, opts, responder.DefaultConfig(), nil)
}

func newCustomManager(t *testing.T, opts Options, respCfg responder.Config, rules []*detector.Rule) (*Manager, storage.Store) {
	t.Helper()

	if rules == nil {
		rules = []*detector.Rule{{
			ID:        "error-burst",
			Name:      "Error burst",
			Kind:      detector.RuleErrorBurst,
			Severity:  models.SeverityHigh,
			Threshold: 10,
			Window:    "5m",
			Cooldown:  "10m",
		}}
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			t.Fatal(err)
		}
	}

	corr := correlator.New(correlator.DefaultConfig())
	det := detector.New(rules, corr, nil)
	resp := responder.New(respCfg)

	notif := notifier.New(&notifier.Options{RatePerSecond: 0})
	for _, name := range []string{
		notifier.ChannelLog, notifier.ChannelChat, notifier.ChannelPager, notifier.ChannelEmail,
	} {
		notif.Register(notifier.ChannelFunc{
			ChannelName: name,
			SendFunc:    func(context.Context, notifier.Payload) error { return nil },
		})
	}

	store := storage.NewMemoryStore()
	return New(det, corr, resp, notif, store, opts), store
}

func submitBurst(m *Manager, n int) {
	base := time.Now().Add(-2 * time.Minute)
	for i := 0; i < n; i++ {
		e := models.NewEvent(models.EventTypeError, "payment-api", models.SeverityMedium, "boom")
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		m.SubmitEvent(e)
	}
}

func TestDetectAndPersist(t *testing.T) {
	m, store := newTestManager(t, Options{Interval: time.Hour, ProcessOnDetect: false})
	ctx := context.Background()

	submitBurst(m, 12)

	incidents, err := m.CheckForIncidents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}

	inc := incidents[0]
	if inc.Status != models.StatusDetected {
		t.Errorf("status = %s, want DETECTED (processing disabled)", inc.Status)
	}

	saved, err := store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("detected incident not persisted: %v", err)
	}
	if saved.RuleID != "error-burst" {
		t.Errorf("persisted rule id = %q, want error-burst", saved.RuleID)
	}
}

func TestBelowThresholdNoIncident(t *testing.T) {
	m, _ := newTestManager(t, Options{Interval: time.Hour})
	submitBurst(m, 9)

	incidents, err := m.CheckForIncidents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Fatalf("incidents = %d, want none below threshold", len(incidents))
	}
}

// TestApprovalFlowEndToEnd exercises the full path: detection parks the
// gated remediations, approvals release them one at a time, and recovery
// waits for the triggering condition to clear before the incident closes.
func TestApprovalFlowEndToEnd(t *testing.T) {
	m, store := newTestManager(t, Options{Interval: time.Hour, ProcessOnDetect: true})
	ctx := context.Background()

	submitBurst(m, 12)

	incidents, err := m.CheckForIncidents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	inc := incidents[0]

	// Error bursts recommend restart and rollback, both approval-gated, so
	// the drive parks in INVESTIGATING.
	if inc.Status != models.StatusInvestigating {
		t.Fatalf("status = %s, want INVESTIGATING awaiting approvals", inc.Status)
	}
	pending := m.responder.PendingFor(inc.ID)
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want restart and rollback gates", len(pending))
	}

	// First approval alone leaves the second gate outstanding.
	if err := m.Approve(ctx, pending[0].ID, "alice"); err != nil {
		t.Fatal(err)
	}
	saved, err := store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != models.StatusInvestigating {
		t.Errorf("status = %s, want still INVESTIGATING with one gate open", saved.Status)
	}

	// Second approval releases remediation, but the burst is still inside
	// the rule window so recovery holds.
	if err := m.Approve(ctx, pending[1].ID, "alice"); err != nil {
		t.Fatal(err)
	}
	saved, err = store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != models.StatusMitigating {
		t.Errorf("status = %s, want MITIGATING while the condition persists", saved.Status)
	}

	// Clear the window and re-drive: the incident recovers and closes.
	m.Detector().Window().Reset()
	if err := m.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}
	saved, err = store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != models.StatusClosed {
		t.Fatalf("status = %s, want CLOSED after recovery", saved.Status)
	}
	if saved.PostMortem == nil {
		t.Error("closed incident must carry a post-mortem")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	m, _ := newTestManager(t, Options{Interval: time.Hour})
	ctx := context.Background()

	m.Start(ctx)
	m.Start(ctx)
	if !m.Running() {
		t.Fatal("manager should be running after Start")
	}

	m.Stop()
	m.Stop()
	if m.Running() {
		t.Fatal("manager should be stopped after Stop")
	}
}

func TestAcknowledgePersists(t *testing.T) {
	m, store := newTestManager(t, Options{Interval: time.Hour, ProcessOnDetect: false})
	ctx := context.Background()

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "burst")
	if err := store.Save(ctx, inc); err != nil {
		t.Fatal(err)
	}

	acked, err := m.Acknowledge(ctx, inc.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if acked.AckedBy != "alice" || acked.AcknowledgedAt == nil {
		t.Errorf("acknowledgment not recorded: %+v", acked)
	}

	saved, err := store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AckedBy != "alice" {
		t.Error("acknowledgment must be persisted")
	}
}

func TestEscalateRaisesAndPersists(t *testing.T) {
	m, store := newTestManager(t, Options{Interval: time.Hour, ProcessOnDetect: false})
	ctx := context.Background()

	inc := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityMedium, "burst")
	if err := store.Save(ctx, inc); err != nil {
		t.Fatal(err)
	}

	escalated, err := m.Escalate(ctx, inc.ID, models.SeverityCritical)
	if err != nil {
		t.Fatal(err)
	}
	if escalated.Severity != models.SeverityCritical || !escalated.Escalated {
		t.Errorf("escalation not applied: %+v", escalated)
	}

	saved, err := store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Severity != models.SeverityCritical {
		t.Error("escalation must be persisted")
	}
}

func TestGetStatistics(t *testing.T) {
	m, store := newTestManager(t, Options{Interval: time.Hour})
	ctx := context.Background()

	open := models.NewIncident(models.IncidentTypeErrorBurst, models.SeverityHigh, "open")
	closed := models.NewIncident(models.IncidentTypeServiceDown, models.SeverityCritical, "closed")
	closed.Status = models.StatusClosed
	for _, inc := range []*models.Incident{open, closed} {
		if err := store.Save(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := m.GetStatistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalIncidents != 2 || stats.ActiveIncidents != 1 {
		t.Errorf("totals = %d/%d, want 2 total 1 active", stats.TotalIncidents, stats.ActiveIncidents)
	}
	if stats.BySeverity["high"] != 1 || stats.BySeverity["critical"] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
	if stats.ByType[string(models.IncidentTypeErrorBurst)] != 1 {
		t.Errorf("by type = %v", stats.ByType)
	}
}

func TestUnknownApprovalRejected(t *testing.T) {
	m, _ := newTestManager(t, Options{Interval: time.Hour})
	if err := m.Approve(context.Background(), "nope", "alice"); err == nil {
		t.Error("approving an unknown id must fail")
	}
}

// TestAbandonedApprovalsUnblockViaLoop covers the loop's role in moving a
// blocked incident forward: once its approval windows lapse, the next tick
// must pick the incident back up and run it to closure without operator
// input.
func TestAbandonedApprovalsUnblockViaLoop(t *testing.T) {
	m, store := newCustomManager(t,
		Options{Interval: 20 * time.Millisecond, ProcessOnDetect: true},
		responder.Config{ApprovalTimeout: 40 * time.Millisecond, ActionTimeout: time.Second},
		nil)
	ctx := context.Background()

	submitBurst(m, 12)
	incidents, err := m.CheckForIncidents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.Status != models.StatusInvestigating {
		t.Fatalf("status = %s, want INVESTIGATING awaiting approvals", inc.Status)
	}
	if n := len(m.responder.PendingFor(inc.ID)); n != 2 {
		t.Fatalf("pending = %d, want restart and rollback gates", n)
	}
	typeLabel, severityLabel := string(inc.Type), string(inc.Severity)

	// Drain the event window so recovery passes once the gates lapse.
	m.Detector().Window().Reset()

	closedBefore := testutil.ToFloat64(
		metrics.IncidentsClosedTotal.WithLabelValues(typeLabel, severityLabel))

	m.Start(ctx)
	deadline := time.Now().Add(3 * time.Second)
	for {
		closed := testutil.ToFloat64(
			metrics.IncidentsClosedTotal.WithLabelValues(typeLabel, severityLabel))
		if closed > closedBefore {
			break
		}
		if time.Now().After(deadline) {
			m.Stop()
			t.Fatal("incident stayed blocked after its approvals timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.Stop()

	saved, err := store.Get(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != models.StatusClosed {
		t.Fatalf("status = %s, want CLOSED after the gates lapsed", saved.Status)
	}
	if len(saved.Attempts) != 2 {
		t.Fatalf("attempts = %d, want both gated actions recorded", len(saved.Attempts))
	}
	for _, a := range saved.Attempts {
		if a.State != models.AttemptAbandoned {
			t.Errorf("attempt %s state = %s, want abandoned", a.ActionID, a.State)
		}
		if a.Message != "approval window elapsed" {
			t.Errorf("attempt %s message = %q, want the timeout recorded", a.ActionID, a.Message)
		}
	}
}

// TestSlowRemediationDoesNotBlockDetection pins a containment action on one
// incident and verifies the loop still detects a second, unrelated incident
// while the first is mid-remediation.
func TestSlowRemediationDoesNotBlockDetection(t *testing.T) {
	memRule := &detector.Rule{
		ID:        "memory",
		Name:      "Memory exhaustion",
		Kind:      detector.RuleMemoryExhaustion,
		Severity:  models.SeverityHigh,
		Threshold: 3,
		Window:    "5m",
		Cooldown:  "10m",
		Value:     0.9,
	}
	burstRule := &detector.Rule{
		ID:        "error-burst",
		Name:      "Error burst",
		Kind:      detector.RuleErrorBurst,
		Severity:  models.SeverityHigh,
		Threshold: 10,
		Window:    "5m",
		Cooldown:  "10m",
	}

	m, _ := newCustomManager(t,
		Options{Interval: 20 * time.Millisecond, ProcessOnDetect: true},
		responder.Config{ApprovalTimeout: time.Minute, ActionTimeout: 30 * time.Second},
		[]*detector.Rule{memRule, burstRule})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.responder.RegisterExecutor(responder.ActionScaleUpResources,
		responder.ExecutorFunc(func(ctx context.Context, a responder.Action, i *models.Incident) (string, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return "scaled", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}))

	base := time.Now().Add(-2 * time.Minute)
	for i := 0; i < 3; i++ {
		e := models.NewEvent(models.EventTypeMemory, "worker-1", models.SeverityMedium, "memory high")
		e.Timestamp = base.Add(time.Duration(i) * 10 * time.Second)
		e.Metadata = map[string]any{"value": 0.95}
		m.SubmitEvent(e)
	}

	m.Start(ctx)
	defer m.Stop()
	defer close(release)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("containment action never started")
	}

	burstLabels := []string{string(models.IncidentTypeErrorBurst), string(models.SeverityHigh)}
	detectedBefore := testutil.ToFloat64(
		metrics.IncidentsDetectedTotal.WithLabelValues(burstLabels...))

	// The scale-up is still pinned; a fresh burst must surface on the next
	// ticks regardless.
	submitBurst(m, 12)

	deadline := time.Now().Add(3 * time.Second)
	for {
		detected := testutil.ToFloat64(
			metrics.IncidentsDetectedTotal.WithLabelValues(burstLabels...))
		if detected > detectedBefore {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detection stalled behind a slow remediation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
