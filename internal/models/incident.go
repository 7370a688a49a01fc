package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentType categorizes what kind of problem an incident represents.
type IncidentType string

const (
	IncidentTypeErrorBurst             IncidentType = "ERROR_BURST"
	IncidentTypeServiceDown            IncidentType = "SERVICE_DOWN"
	IncidentTypeQualityDrop            IncidentType = "QUALITY_DROP"
	IncidentTypeWorkflowFailureSpike   IncidentType = "WORKFLOW_FAILURE_SPIKE"
	IncidentTypeMemoryExhaustion       IncidentType = "MEMORY_EXHAUSTION"
	IncidentTypePerformanceDegradation IncidentType = "PERFORMANCE_DEGRADATION"
	IncidentTypeLowDiskSpace           IncidentType = "LOW_DISK_SPACE"
	IncidentTypeCustom                 IncidentType = "CUSTOM"
)

// IncidentStatus is the lifecycle state of an incident. Transitions are
// strictly forward; see Rank.
type IncidentStatus string

const (
	StatusDetected      IncidentStatus = "DETECTED"
	StatusAssessing     IncidentStatus = "ASSESSING"
	StatusContained     IncidentStatus = "CONTAINED"
	StatusInvestigating IncidentStatus = "INVESTIGATING"
	StatusMitigating    IncidentStatus = "MITIGATING"
	StatusResolved      IncidentStatus = "RESOLVED"
	StatusClosed        IncidentStatus = "CLOSED"
)

var statusRanks = map[IncidentStatus]int{
	StatusDetected:      0,
	StatusAssessing:     1,
	StatusContained:     2,
	StatusInvestigating: 3,
	StatusMitigating:    4,
	StatusResolved:      5,
	StatusClosed:        6,
}

// Rank returns the forward-progression order of the status.
func (s IncidentStatus) Rank() int {
	if r, ok := statusRanks[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the status is the terminal CLOSED state.
func (s IncidentStatus) IsTerminal() bool {
	return s == StatusClosed
}

// TimelineEntryKind classifies a timeline entry.
type TimelineEntryKind string

const (
	TimelineEvent       TimelineEntryKind = "event"
	TimelineStage       TimelineEntryKind = "stage"
	TimelineNote        TimelineEntryKind = "note"
	TimelineRemediation TimelineEntryKind = "remediation"
)

// TimelineEntry is one stamped note in an incident's chronological record.
type TimelineEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      TimelineEntryKind `json:"kind"`
	Message   string            `json:"message"`
	EventID   string            `json:"event_id,omitempty"`
}

// AttemptState is the outcome state of a remediation attempt.
type AttemptState string

const (
	AttemptPending   AttemptState = "pending"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptFailed    AttemptState = "failed"
	AttemptAbandoned AttemptState = "abandoned"
)

// RemediationAttempt records one attempted remediation action and its outcome.
type RemediationAttempt struct {
	ActionID         string       `json:"action_id"`
	ActionName       string       `json:"action_name"`
	ApprovalRequired bool         `json:"approval_required"`
	ApprovalID       string       `json:"approval_id,omitempty"`
	State            AttemptState `json:"state"`
	Message          string       `json:"message,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       *time.Time   `json:"finished_at,omitempty"`
}

// PostMortem is the auto-generated closure document for an incident.
type PostMortem struct {
	Summary        string               `json:"summary"`
	ImpactStart    time.Time            `json:"impact_start"`
	ImpactEnd      time.Time            `json:"impact_end"`
	RootCause      string               `json:"root_cause"`
	Timeline       []TimelineEntry      `json:"timeline"`
	Actions        []RemediationAttempt `json:"actions"`
	MTTD           time.Duration        `json:"mttd"`
	MTTR           time.Duration        `json:"mttr"`
	LessonsLearned string               `json:"lessons_learned"`
}

// Incident is the mutable aggregate representing a detected problem. It is
// created by the detector, mutated only by the workflow while active, and
// read-only once CLOSED.
type Incident struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	Type        IncidentType   `json:"type"`
	Escalated   bool           `json:"escalated,omitempty"`

	Events    []*Event `json:"events"`
	RootCause *Event   `json:"root_cause,omitempty"`

	Timeline []TimelineEntry      `json:"timeline"`
	Owner    string               `json:"owner,omitempty"`
	AckedBy  string               `json:"acked_by,omitempty"`
	Attempts []RemediationAttempt `json:"attempts,omitempty"`

	PostMortem *PostMortem `json:"post_mortem,omitempty"`

	DetectedAt     time.Time  `json:"detected_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ContainedAt    *time.Time `json:"contained_at,omitempty"`
	MitigatedAt    *time.Time `json:"mitigated_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// NewIncident creates an incident in the DETECTED state.
func NewIncident(incidentType IncidentType, severity Severity, title string) *Incident {
	return &Incident{
		ID:         uuid.NewString(),
		Title:      title,
		Severity:   severity,
		Status:     StatusDetected,
		Type:       incidentType,
		DetectedAt: time.Now(),
	}
}

// AppendNote adds a stamped entry to the timeline.
func (i *Incident) AppendNote(kind TimelineEntryKind, format string, args ...any) {
	i.Timeline = append(i.Timeline, TimelineEntry{
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
	})
}

// RecordAttempt appends a remediation attempt and notes it on the timeline.
func (i *Incident) RecordAttempt(attempt RemediationAttempt) {
	i.Attempts = append(i.Attempts, attempt)
	i.AppendNote(TimelineRemediation, "action %s: %s (%s)",
		attempt.ActionName, attempt.State, attempt.Message)
}

// Escalate raises severity and marks the escalation overlay. Severity is
// escalate-only during an active lifecycle; lower or equal severities are
// ignored. Returns true if the severity changed.
func (i *Incident) Escalate(to Severity) bool {
	if i.Status.IsTerminal() || to.Rank() <= i.Severity.Rank() {
		return false
	}
	from := i.Severity
	i.Severity = to
	i.Escalated = true
	i.AppendNote(TimelineNote, "severity escalated %s -> %s", from, to)
	return true
}

// OverrideSeverity sets severity regardless of direction. Operator use only;
// the override is recorded on the timeline.
func (i *Incident) OverrideSeverity(to Severity, operator string) {
	if i.Status.IsTerminal() || to == i.Severity {
		return
	}
	from := i.Severity
	i.Severity = to
	i.AppendNote(TimelineNote, "severity override %s -> %s by %s", from, to, operator)
}

// stampAfter returns now, clamped so it is never earlier than prev. Keeps
// stage timestamps monotonic even with coarse clocks.
func stampAfter(prev time.Time) time.Time {
	now := time.Now()
	if now.Before(prev) {
		return prev
	}
	return now
}

// lastStamp returns the latest stage timestamp already set.
func (i *Incident) lastStamp() time.Time {
	last := i.DetectedAt
	for _, t := range []*time.Time{i.AcknowledgedAt, i.ContainedAt, i.MitigatedAt, i.ResolvedAt, i.ClosedAt} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	return last
}

// MarkAcknowledged sets acknowledged_at once; repeated calls are no-ops.
func (i *Incident) MarkAcknowledged(actor string) {
	if i.AcknowledgedAt != nil {
		return
	}
	t := stampAfter(i.lastStamp())
	i.AcknowledgedAt = &t
	i.AckedBy = actor
	i.AppendNote(TimelineNote, "acknowledged by %s", actor)
}

// MarkContained stamps contained_at.
func (i *Incident) MarkContained() {
	if i.ContainedAt != nil {
		return
	}
	t := stampAfter(i.lastStamp())
	i.ContainedAt = &t
}

// MarkMitigated stamps mitigated_at.
func (i *Incident) MarkMitigated() {
	if i.MitigatedAt != nil {
		return
	}
	t := stampAfter(i.lastStamp())
	i.MitigatedAt = &t
}

// MarkResolved stamps resolved_at.
func (i *Incident) MarkResolved() {
	if i.ResolvedAt != nil {
		return
	}
	t := stampAfter(i.lastStamp())
	i.ResolvedAt = &t
}

// MarkClosed stamps closed_at.
func (i *Incident) MarkClosed() {
	if i.ClosedAt != nil {
		return
	}
	t := stampAfter(i.lastStamp())
	i.ClosedAt = &t
}

// Active reports whether the incident is still in-flight (not resolved or
// closed).
func (i *Incident) Active() bool {
	return i.Status.Rank() < StatusResolved.Rank()
}
