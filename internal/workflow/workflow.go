// Package workflow drives incidents through the response lifecycle:
// assessment, containment, investigation, remediation, recovery, and
// closure with a generated post-mortem.
package workflow

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
)

// ConditionChecker re-evaluates a detection rule's raw condition, used by
// the recovery stage to verify the trigger has cleared. The detector
// implements it.
type ConditionChecker interface {
	ConditionActive(ruleID string) bool
}

// DefaultOwner is assigned when no operator has claimed the incident.
const DefaultOwner = "auto-responder"

// Workflow orchestrates the correlator, responder, and notifier per
// incident. Transitions are strictly forward; each incident's transitions
// are serialized by a per-incident lock while independent incidents
// progress in parallel.
type Workflow struct {
	correlator *correlator.Correlator
	responder  *responder.Responder
	notifier   *notifier.Notifier
	checker    ConditionChecker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a workflow.
func New(corr *correlator.Correlator, resp *responder.Responder, notif *notifier.Notifier, checker ConditionChecker) *Workflow {
	return &Workflow{
		correlator: corr,
		responder:  resp,
		notifier:   notif,
		checker:    checker,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization lock for one incident.
func (w *Workflow) lockFor(incidentID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.locks[incidentID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[incidentID] = l
	}
	return l
}

// forget drops the lock entry for a closed incident.
func (w *Workflow) forget(incidentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locks, incidentID)
}

// Process drives one incident forward until it reaches CLOSED or a blocked
// state (outstanding approvals, condition not yet cleared). A blocked
// incident keeps its current status and must be re-driven by a later call.
func (w *Workflow) Process(ctx context.Context, incident *models.Incident) models.IncidentStatus {
	lock := w.lockFor(incident.ID)
	lock.Lock()
	defer lock.Unlock()

	for {
		if ctx.Err() != nil {
			return incident.Status
		}

		var advanced bool
		switch incident.Status {
		case models.StatusDetected:
			advanced = w.assess(ctx, incident)
		case models.StatusAssessing:
			advanced = w.contain(ctx, incident)
		case models.StatusContained:
			advanced = w.investigate(incident)
		case models.StatusInvestigating:
			advanced = w.remediate(ctx, incident)
		case models.StatusMitigating:
			advanced = w.recover(ctx, incident)
		case models.StatusResolved:
			advanced = w.close(incident)
		case models.StatusClosed:
			w.forget(incident.ID)
			return incident.Status
		default:
			log.Printf("workflow: incident %s in unknown status %s", incident.ID, incident.Status)
			return incident.Status
		}

		if !advanced {
			return incident.Status
		}
	}
}

// assess classifies the incident, assigns an owner, records the initial
// timeline entry, and sends the first notification.
func (w *Workflow) assess(ctx context.Context, incident *models.Incident) bool {
	if incident.Owner == "" {
		incident.Owner = DefaultOwner
	}
	incident.AppendNote(models.TimelineStage,
		"assessment: classified as %s severity %s, owner %s",
		incident.Type, incident.Severity, incident.Owner)

	w.notifier.Acknowledge(incident, incident.Owner)
	w.notifyAndRecord(ctx, incident)

	incident.Status = models.StatusAssessing
	return true
}

// contain runs immediate impact-limiting safe actions. Low-severity
// incidents needing no remediation skip straight to RESOLVED, since no
// action was necessary.
func (w *Workflow) contain(ctx context.Context, incident *models.Incident) bool {
	recs := w.responder.Recommend(incident)
	if incident.Severity == models.SeverityLow && len(recs) == 0 {
		incident.AppendNote(models.TimelineStage, "assessment: no remediation required, resolving")
		incident.MarkResolved()
		incident.Status = models.StatusResolved
		return true
	}

	for _, rec := range recs {
		if rec.ApprovalRequired {
			continue
		}
		attempt := w.responder.Execute(ctx, rec.Action, incident)
		incident.RecordAttempt(attempt)
		// A failed containment action is noted, never fatal to the stage.
	}

	incident.AppendNote(models.TimelineStage, "containment complete")
	incident.MarkContained()
	incident.Status = models.StatusContained
	return true
}

// investigate finalizes root cause and orders the timeline.
func (w *Workflow) investigate(incident *models.Incident) bool {
	if cause := w.correlator.RootCause(incident.Events); cause != nil {
		incident.RootCause = cause
		incident.AppendNote(models.TimelineStage,
			"investigation: root cause %s from %s at %s",
			cause.Message, cause.Source, cause.Timestamp.Format("15:04:05"))
	} else {
		incident.AppendNote(models.TimelineStage, "investigation: no root cause identified")
	}

	incident.Timeline = w.correlator.GenerateTimeline(incident)
	incident.Status = models.StatusInvestigating
	return true
}

// remediate executes the remaining recommended actions. Approval-gated
// actions park as pending; the stage blocks until every gate has resolved
// (approved, canceled, or timed out to abandoned).
func (w *Workflow) remediate(ctx context.Context, incident *models.Incident) bool {
	w.applyResolvedApprovals(ctx, incident)

	attempted := make(map[string]bool, len(incident.Attempts))
	for _, a := range incident.Attempts {
		attempted[a.ActionID] = true
	}

	for _, rec := range w.responder.Recommend(incident) {
		if attempted[rec.Action.ID] {
			continue
		}
		attempt := w.responder.Execute(ctx, rec.Action, incident)
		incident.RecordAttempt(attempt)
	}

	if len(w.responder.PendingFor(incident.ID)) > 0 {
		noteOnce(incident, "remediation: awaiting approval")
		return false
	}

	w.applyResolvedApprovals(ctx, incident)
	incident.AppendNote(models.TimelineStage, "remediation complete")
	incident.MarkMitigated()
	incident.Status = models.StatusMitigating
	return true
}

// applyResolvedApprovals folds resolved approval gates back into the
// incident's attempt records.
func (w *Workflow) applyResolvedApprovals(ctx context.Context, incident *models.Incident) {
	for _, res := range w.responder.CollectResolved(ctx, incident) {
		if res.Attempt != nil {
			w.updateAttempt(incident, *res.Attempt)
			continue
		}
		// Abandoned: timed out or canceled, a normal outcome distinct
		// from a failed execution.
		reason, cause := "approval window elapsed", "unapproved"
		if res.Pending.Canceled {
			reason, cause = "approval canceled", "canceled"
		}
		for i := range incident.Attempts {
			if incident.Attempts[i].ApprovalID == res.Pending.ID {
				incident.Attempts[i].State = models.AttemptAbandoned
				incident.Attempts[i].Message = reason
				incident.AppendNote(models.TimelineRemediation,
					"action %s abandoned (%s)", res.Pending.Action.Name, cause)
			}
		}
	}
}

// updateAttempt replaces the pending attempt record matching the executed
// approval, or appends if the record is missing.
func (w *Workflow) updateAttempt(incident *models.Incident, attempt models.RemediationAttempt) {
	for i := range incident.Attempts {
		if incident.Attempts[i].ApprovalID == attempt.ApprovalID {
			incident.Attempts[i] = attempt
			incident.AppendNote(models.TimelineRemediation, "action %s: %s (%s)",
				attempt.ActionName, attempt.State, attempt.Message)
			return
		}
	}
	incident.RecordAttempt(attempt)
}

// recover verifies the triggering condition has cleared before resolving.
func (w *Workflow) recover(ctx context.Context, incident *models.Incident) bool {
	w.applyResolvedApprovals(ctx, incident)

	if w.checker != nil && incident.RuleID != "" && w.checker.ConditionActive(incident.RuleID) {
		noteOnce(incident, "recovery: condition still active, holding")
		return false
	}

	incident.AppendNote(models.TimelineStage, "recovery: condition cleared")
	incident.MarkResolved()
	incident.Status = models.StatusResolved
	return true
}

// close generates the post-mortem and moves the incident to its terminal
// state. Closed incidents are read-only from here on.
func (w *Workflow) close(incident *models.Incident) bool {
	incident.Timeline = w.correlator.GenerateTimeline(incident)
	incident.PostMortem = GeneratePostMortem(w.correlator, incident)
	incident.MarkClosed()
	incident.Status = models.StatusClosed
	incident.AppendNote(models.TimelineStage, "closed with post-mortem")
	return true
}

// noteOnce appends a stage note unless it is already the incident's most
// recent stage entry. A blocked incident is re-driven on every detection
// tick; without this the wait would flood the timeline.
func noteOnce(incident *models.Incident, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	for i := len(incident.Timeline) - 1; i >= 0; i-- {
		if incident.Timeline[i].Kind != models.TimelineStage {
			continue
		}
		if incident.Timeline[i].Message == msg {
			return
		}
		break
	}
	incident.AppendNote(models.TimelineStage, "%s", msg)
}

// notifyAndRecord dispatches notifications and notes per-channel outcomes.
func (w *Workflow) notifyAndRecord(ctx context.Context, incident *models.Incident) {
	for _, res := range w.notifier.Notify(ctx, incident) {
		if res.OK {
			incident.AppendNote(models.TimelineNote, "notified via %s", res.Channel)
		} else {
			incident.AppendNote(models.TimelineNote, "notification via %s failed: %s", res.Channel, res.Error)
		}
	}
}

// Escalate raises the incident's severity mid-lifecycle. The escalation is
// an overlay: severity and the escalated flag change, statuses never move
// backward, and the next drive re-assesses with the new severity's routing.
func (w *Workflow) Escalate(ctx context.Context, incident *models.Incident, to models.Severity) bool {
	lock := w.lockFor(incident.ID)
	lock.Lock()
	defer lock.Unlock()

	if !incident.Escalate(to) {
		return false
	}
	w.notifyAndRecord(ctx, incident)
	return true
}

// Acknowledge records an actor's acknowledgment under the incident's lock.
func (w *Workflow) Acknowledge(incident *models.Incident, actor string) {
	lock := w.lockFor(incident.ID)
	lock.Lock()
	defer lock.Unlock()

	w.notifier.Acknowledge(incident, actor)
}
