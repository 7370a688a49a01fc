package responder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// PendingState is the state of an approval-gated action.
type PendingState string

const (
	PendingAwaiting  PendingState = "pending"
	PendingApproved  PendingState = "approved"
	PendingAbandoned PendingState = "abandoned"
)

// Pending is an approval-gated action waiting for sign-off. If the deadline
// passes without approval it resolves to abandoned, never to an error.
type Pending struct {
	ID          string
	Action      Action
	IncidentID  string
	RequestedAt time.Time
	ExpiresAt   time.Time
	State       PendingState
	ApprovedBy  string
	// Canceled distinguishes an operator cancellation from a timed-out
	// approval window; both end in the abandoned state.
	Canceled bool

	timer *time.Timer
}

// Config holds responder tuning parameters.
type Config struct {
	// ApprovalTimeout bounds how long a gated action waits for sign-off.
	ApprovalTimeout time.Duration
	// ActionTimeout bounds a single executor call.
	ActionTimeout time.Duration
}

// DefaultConfig returns default responder parameters.
func DefaultConfig() Config {
	return Config{
		ApprovalTimeout: 15 * time.Minute,
		ActionTimeout:   30 * time.Second,
	}
}

// Recommendation pairs an action with its approval requirement.
type Recommendation struct {
	Action           Action
	ApprovalRequired bool
}

// Responder recommends and executes remediation. Safe actions run
// immediately through the registered executor; approval-required actions
// park in the pending set until approved, canceled, or timed out.
type Responder struct {
	mu sync.Mutex

	cfg       Config
	actions   []Action
	executors map[string]Executor
	fallback  Executor
	pending   map[string]*Pending
}

// New creates a responder with the built-in action catalog.
func New(cfg Config) *Responder {
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultConfig().ApprovalTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	return &Responder{
		cfg:       cfg,
		actions:   BuiltinActions(),
		executors: make(map[string]Executor),
		fallback:  LogExecutor{},
		pending:   make(map[string]*Pending),
	}
}

// RegisterExecutor binds a concrete actuator to an action id.
func (r *Responder) RegisterExecutor(actionID string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[actionID] = exec
}

// SetFallbackExecutor replaces the executor used for actions without a
// dedicated registration.
func (r *Responder) SetFallbackExecutor(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = exec
}

// Recommend returns applicable actions ordered by applicability: actions
// targeting the incident's type first, generally-applicable ones after,
// preserving catalog order within each group.
func (r *Responder) Recommend(incident *models.Incident) []Recommendation {
	var typed, generic []Recommendation
	for _, a := range r.actions {
		if !a.AppliesTo(incident.Type) {
			continue
		}
		rec := Recommendation{Action: a, ApprovalRequired: a.RequiresApproval}
		if len(a.Types) > 0 {
			typed = append(typed, rec)
		} else {
			generic = append(generic, rec)
		}
	}
	return append(typed, generic...)
}

// SafeRecommendations filters Recommend down to actions that execute
// without approval, for the containment stage.
func (r *Responder) SafeRecommendations(incident *models.Incident) []Recommendation {
	var out []Recommendation
	for _, rec := range r.Recommend(incident) {
		if !rec.ApprovalRequired {
			out = append(out, rec)
		}
	}
	return out
}

// Execute runs one action against an incident and returns the attempt
// record. Safe actions execute immediately with a bounded timeout; gated
// actions move to pending and the returned attempt carries the approval id.
// Execution failures are outcomes, not errors: they are recorded and never
// retried automatically.
func (r *Responder) Execute(ctx context.Context, action Action, incident *models.Incident) models.RemediationAttempt {
	if action.RequiresApproval {
		p := r.requestApproval(action, incident)
		return models.RemediationAttempt{
			ActionID:         action.ID,
			ActionName:       action.Name,
			ApprovalRequired: true,
			ApprovalID:       p.ID,
			State:            models.AttemptPending,
			Message:          fmt.Sprintf("awaiting approval until %s", p.ExpiresAt.Format(time.RFC3339)),
			StartedAt:        p.RequestedAt,
		}
	}
	return r.run(ctx, action, incident, "")
}

// run invokes the executor for an action that is cleared to run.
func (r *Responder) run(ctx context.Context, action Action, incident *models.Incident, approvalID string) models.RemediationAttempt {
	attempt := models.RemediationAttempt{
		ActionID:         action.ID,
		ActionName:       action.Name,
		ApprovalRequired: action.RequiresApproval,
		ApprovalID:       approvalID,
		StartedAt:        time.Now(),
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()

	msg, err := r.executorFor(action.ID).Execute(execCtx, action, incident)
	finished := time.Now()
	attempt.FinishedAt = &finished

	if err != nil {
		attempt.State = models.AttemptFailed
		attempt.Message = err.Error()
		log.Printf("responder: action %s failed for incident %s: %v", action.ID, incident.ID, err)
		return attempt
	}

	attempt.State = models.AttemptSucceeded
	attempt.Message = msg
	return attempt
}

func (r *Responder) executorFor(actionID string) Executor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exec, ok := r.executors[actionID]; ok {
		return exec
	}
	return r.fallback
}

// requestApproval parks a gated action in the pending set with a deadline.
func (r *Responder) requestApproval(action Action, incident *models.Incident) *Pending {
	now := time.Now()
	p := &Pending{
		ID:          uuid.NewString(),
		Action:      action,
		IncidentID:  incident.ID,
		RequestedAt: now,
		ExpiresAt:   now.Add(r.cfg.ApprovalTimeout),
		State:       PendingAwaiting,
	}

	r.mu.Lock()
	r.pending[p.ID] = p
	r.mu.Unlock()

	p.timer = time.AfterFunc(r.cfg.ApprovalTimeout, func() {
		r.expire(p.ID)
	})

	log.Printf("responder: action %s pending approval %s for incident %s", action.ID, p.ID, incident.ID)
	return p
}

// expire abandons a pending action whose deadline passed without approval.
func (r *Responder) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok || p.State != PendingAwaiting {
		return
	}
	p.State = PendingAbandoned
	log.Printf("responder: approval %s for action %s timed out, abandoned", id, p.Action.ID)
}

// Approve releases a pending action for execution on the next workflow
// drive.
func (r *Responder) Approve(id, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return fmt.Errorf("unknown approval %q", id)
	}
	if p.State != PendingAwaiting {
		return fmt.Errorf("approval %q already %s", id, p.State)
	}

	p.State = PendingApproved
	p.ApprovedBy = actor
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}

// Cancel abandons a pending action before it resolves, e.g. because the
// incident resolved through other means. Distinct from a failed execution.
func (r *Responder) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return fmt.Errorf("unknown approval %q", id)
	}
	if p.State != PendingAwaiting {
		return fmt.Errorf("approval %q already %s", id, p.State)
	}

	p.State = PendingAbandoned
	p.Canceled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}

// PendingFor returns a snapshot of unresolved approvals for an incident.
func (r *Responder) PendingFor(incidentID string) []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Pending
	for _, p := range r.pending {
		if p.IncidentID == incidentID && p.State == PendingAwaiting {
			out = append(out, *p)
		}
	}
	return out
}

// PendingCount returns the number of unresolved approvals across all
// incidents.
func (r *Responder) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.pending {
		if p.State == PendingAwaiting {
			n++
		}
	}
	return n
}

// GetPending returns a snapshot of one approval by id.
func (r *Responder) GetPending(id string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Resolved is a pending approval that reached a final state and, when
// approved, the attempt produced by executing it.
type Resolved struct {
	Pending Pending
	Attempt *models.RemediationAttempt
}

// CollectResolved removes approvals for an incident that have resolved
// (approved or abandoned) and executes the approved ones. Still-waiting
// approvals stay put.
func (r *Responder) CollectResolved(ctx context.Context, incident *models.Incident) []Resolved {
	r.mu.Lock()
	var done []*Pending
	for id, p := range r.pending {
		if p.IncidentID != incident.ID || p.State == PendingAwaiting {
			continue
		}
		done = append(done, p)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	var out []Resolved
	for _, p := range done {
		res := Resolved{Pending: *p}
		if p.State == PendingApproved {
			attempt := r.run(ctx, p.Action, incident, p.ID)
			res.Attempt = &attempt
		}
		out = append(out, res)
	}
	return out
}
