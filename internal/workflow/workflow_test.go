package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
)

// stubChecker lets tests control whether a rule's condition reads as active.
type stubChecker struct {
	mu     sync.Mutex
	active map[string]bool
}

func (c *stubChecker) ConditionActive(ruleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[ruleID]
}

func (c *stubChecker) set(ruleID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = make(map[string]bool)
	}
	c.active[ruleID] = active
}

// countingChannel records deliveries per channel name.
type countingChannel struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingChannel) channel(name string) notifier.ChannelFunc {
	return notifier.ChannelFunc{
		ChannelName: name,
		SendFunc: func(_ context.Context, _ notifier.Payload) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.counts[name]++
			return nil
		},
	}
}

func (c *countingChannel) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func newTestWorkflow(t *testing.T, checker ConditionChecker) (*Workflow, *responder.Responder, *countingChannel) {
	t.Helper()

	corr := correlator.New(correlator.DefaultConfig())
	resp := responder.New(responder.DefaultConfig())

	sink := &countingChannel{counts: make(map[string]int)}
	notif := notifier.New(&notifier.Options{RatePerSecond: 0})
	for _, name := range []string{
		notifier.ChannelLog, notifier.ChannelChat, notifier.ChannelPager, notifier.ChannelEmail,
	} {
		notif.Register(sink.channel(name))
	}

	return New(corr, resp, notif, checker), resp, sink
}

func lifecycleIncident(t *testing.T, incidentType models.IncidentType, severity models.Severity) *models.Incident {
	t.Helper()

	inc := models.NewIncident(incidentType, severity, "test incident")
	e := models.NewEvent(models.EventTypeError, "worker-1", severity, "trigger")
	e.Timestamp = inc.DetectedAt.Add(-2 * time.Minute)
	inc.Events = []*models.Event{e}
	return inc
}

func TestProcessFullLifecycle(t *testing.T) {
	w, _, sink := newTestWorkflow(t, nil)

	// Memory exhaustion recommends only safe actions, so a single drive
	// runs the incident all the way to CLOSED.
	inc := lifecycleIncident(t, models.IncidentTypeMemoryExhaustion, models.SeverityCritical)

	status := w.Process(context.Background(), inc)
	if status != models.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", status)
	}

	if inc.Owner != DefaultOwner {
		t.Errorf("owner = %q, want %q", inc.Owner, DefaultOwner)
	}
	if inc.AckedBy != DefaultOwner {
		t.Errorf("acked by = %q, want the auto owner", inc.AckedBy)
	}
	if len(inc.Attempts) != 2 {
		t.Fatalf("attempts = %d, want scale-up and kill-zombies", len(inc.Attempts))
	}
	for _, a := range inc.Attempts {
		if a.State != models.AttemptSucceeded {
			t.Errorf("attempt %s = %s, want succeeded", a.ActionID, a.State)
		}
	}
	if inc.RootCause == nil {
		t.Error("investigation should have set a root cause")
	}
	if sink.count(notifier.ChannelPager) == 0 {
		t.Error("critical incident should have paged")
	}
}

func TestPostMortemGenerated(t *testing.T) {
	w, _, _ := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeMemoryExhaustion, models.SeverityHigh)

	w.Process(context.Background(), inc)

	pm := inc.PostMortem
	if pm == nil {
		t.Fatal("closed incident must carry a post-mortem")
	}
	if pm.Summary == "" || pm.RootCause == "" {
		t.Errorf("post-mortem missing summary or root cause: %+v", pm)
	}
	if len(pm.Timeline) == 0 || len(pm.Actions) != len(inc.Attempts) {
		t.Error("post-mortem timeline and actions must mirror the incident")
	}
	if pm.MTTD <= 0 {
		t.Errorf("MTTD = %s, want positive (first event precedes detection)", pm.MTTD)
	}
	if pm.MTTR < 0 {
		t.Errorf("MTTR = %s, want non-negative", pm.MTTR)
	}
	if !pm.ImpactStart.Equal(inc.Events[0].Timestamp) {
		t.Error("impact start should be the earliest event")
	}
}

func TestStageTimestampsMonotonic(t *testing.T) {
	w, _, _ := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeMemoryExhaustion, models.SeverityHigh)

	w.Process(context.Background(), inc)

	stamps := []*time.Time{inc.AcknowledgedAt, inc.ContainedAt, inc.MitigatedAt, inc.ResolvedAt, inc.ClosedAt}
	prev := inc.DetectedAt
	for i, s := range stamps {
		if s == nil {
			t.Fatalf("stage stamp %d missing", i)
		}
		if s.Before(prev) {
			t.Errorf("stage stamp %d (%s) precedes the previous stage (%s)", i, s, prev)
		}
		prev = *s
	}
}

func TestLowSeverityNoActionResolvesDirectly(t *testing.T) {
	w, _, _ := newTestWorkflow(t, nil)

	// Custom incidents match no built-in action, so a low-severity one
	// resolves without remediation.
	inc := lifecycleIncident(t, models.IncidentTypeCustom, models.SeverityLow)

	status := w.Process(context.Background(), inc)
	if status != models.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", status)
	}
	if len(inc.Attempts) != 0 {
		t.Errorf("attempts = %d, want none", len(inc.Attempts))
	}
	if inc.ResolvedAt == nil || inc.PostMortem == nil {
		t.Error("resolved timestamp and post-mortem must still be set")
	}
}

func TestGatedActionBlocksUntilApproved(t *testing.T) {
	w, resp, _ := newTestWorkflow(t, nil)

	var restarts int
	resp.RegisterExecutor(responder.ActionRestartService,
		responder.ExecutorFunc(func(ctx context.Context, a responder.Action, i *models.Incident) (string, error) {
			restarts++
			return "service restarted", nil
		}))

	// Service-down recommends a gated restart, so remediation parks and
	// the drive returns without advancing past investigation.
	inc := lifecycleIncident(t, models.IncidentTypeServiceDown, models.SeverityHigh)

	status := w.Process(context.Background(), inc)
	if status != models.StatusInvestigating {
		t.Fatalf("status = %s, want INVESTIGATING while awaiting approval", status)
	}
	if restarts != 0 {
		t.Fatal("gated action must not run before approval")
	}

	pending := resp.PendingFor(inc.ID)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want the restart approval", len(pending))
	}
	if err := resp.Approve(pending[0].ID, "alice"); err != nil {
		t.Fatal(err)
	}

	status = w.Process(context.Background(), inc)
	if status != models.StatusClosed {
		t.Fatalf("status after approval = %s, want CLOSED", status)
	}
	if restarts != 1 {
		t.Errorf("restart executed %d times, want once", restarts)
	}

	var approved *models.RemediationAttempt
	for i := range inc.Attempts {
		if inc.Attempts[i].ActionID == responder.ActionRestartService {
			approved = &inc.Attempts[i]
		}
	}
	if approved == nil || approved.State != models.AttemptSucceeded || approved.ApprovalID == "" {
		t.Errorf("restart attempt = %+v, want succeeded with its approval id", approved)
	}
}

func TestRecoveryHoldsWhileConditionActive(t *testing.T) {
	checker := &stubChecker{}
	checker.set("mem-rule", true)
	w, _, _ := newTestWorkflow(t, checker)

	inc := lifecycleIncident(t, models.IncidentTypeMemoryExhaustion, models.SeverityHigh)
	inc.RuleID = "mem-rule"

	status := w.Process(context.Background(), inc)
	if status != models.StatusMitigating {
		t.Fatalf("status = %s, want MITIGATING while the condition persists", status)
	}
	if inc.ResolvedAt != nil {
		t.Error("incident must not resolve while its trigger is active")
	}

	checker.set("mem-rule", false)
	status = w.Process(context.Background(), inc)
	if status != models.StatusClosed {
		t.Fatalf("status after clearance = %s, want CLOSED", status)
	}
}

func TestEscalateReNotifies(t *testing.T) {
	w, _, sink := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeErrorBurst, models.SeverityMedium)

	if !w.Escalate(context.Background(), inc, models.SeverityCritical) {
		t.Fatal("escalation to a higher severity should succeed")
	}
	if !inc.Escalated || inc.Severity != models.SeverityCritical {
		t.Errorf("incident = severity %s escalated %v, want critical overlay", inc.Severity, inc.Escalated)
	}
	if sink.count(notifier.ChannelPager) == 0 {
		t.Error("escalation must re-notify with the new severity's routing")
	}

	// De-escalation through this path is rejected.
	if w.Escalate(context.Background(), inc, models.SeverityHigh) {
		t.Error("lowering severity via escalate must be refused")
	}
}

func TestProcessClosedIncidentIsNoOp(t *testing.T) {
	w, _, _ := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeMemoryExhaustion, models.SeverityHigh)

	w.Process(context.Background(), inc)
	notes := len(inc.Timeline)

	if status := w.Process(context.Background(), inc); status != models.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", status)
	}
	if len(inc.Timeline) != notes {
		t.Error("driving a closed incident must not mutate it")
	}
}

func TestCanceledApprovalMarkedCanceled(t *testing.T) {
	w, resp, _ := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeServiceDown, models.SeverityHigh)

	if status := w.Process(context.Background(), inc); status != models.StatusInvestigating {
		t.Fatalf("status = %s, want INVESTIGATING awaiting approval", status)
	}
	pending := resp.PendingFor(inc.ID)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want the restart approval", len(pending))
	}
	if err := resp.Cancel(pending[0].ID); err != nil {
		t.Fatal(err)
	}

	if status := w.Process(context.Background(), inc); status != models.StatusClosed {
		t.Fatalf("status after cancel = %s, want CLOSED", status)
	}

	var attempt *models.RemediationAttempt
	for i := range inc.Attempts {
		if inc.Attempts[i].ApprovalID == pending[0].ID {
			attempt = &inc.Attempts[i]
		}
	}
	if attempt == nil {
		t.Fatal("no attempt recorded for the canceled approval")
	}
	if attempt.State != models.AttemptAbandoned {
		t.Errorf("state = %s, want abandoned", attempt.State)
	}
	if attempt.Message != "approval canceled" {
		t.Errorf("message = %q, want the cancellation recorded, not a timeout", attempt.Message)
	}
}

func TestBlockedWaitNoteRecordedOnce(t *testing.T) {
	w, _, _ := newTestWorkflow(t, nil)
	inc := lifecycleIncident(t, models.IncidentTypeServiceDown, models.SeverityHigh)

	// Repeated drives while the approval gate is open must not stack up
	// identical waiting notes.
	for i := 0; i < 3; i++ {
		if status := w.Process(context.Background(), inc); status != models.StatusInvestigating {
			t.Fatalf("drive %d: status = %s, want INVESTIGATING", i, status)
		}
	}

	n := 0
	for _, entry := range inc.Timeline {
		if entry.Kind == models.TimelineStage && entry.Message == "remediation: awaiting approval" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("waiting note recorded %d times across repeated drives, want once", n)
	}
}
