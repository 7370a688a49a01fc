package detector

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/metrics"
	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// Detector evaluates detection rules against a rolling window of events and
// produces new incidents.
type Detector struct {
	mu sync.RWMutex

	rules      []*Rule
	window     *EventWindow
	cooldown   *CooldownManager
	correlator *correlator.Correlator

	stats *Stats
}

// Stats tracks detector statistics using atomic operations for lock-free
// access.
type Stats struct {
	EventsAdded        atomic.Int64
	EvaluationCycles   atomic.Int64
	RuleEvaluations    atomic.Int64
	IncidentsDetected  atomic.Int64
	IncidentsSuppressed atomic.Int64
	RuleErrors         atomic.Int64
}

// Options configures the detector.
type Options struct {
	// Retention is how long raw events stay in the buffer (default 1h).
	Retention time.Duration
}

// DefaultOptions returns default detector options.
func DefaultOptions() *Options {
	return &Options{Retention: time.Hour}
}

// New creates a detector with the given rules. Rules must be validated
// (Validate called) before being handed to the detector; LoadRules does this.
func New(rules []*Rule, corr *correlator.Correlator, opts *Options) *Detector {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}

	return &Detector{
		rules:      rules,
		window:     NewEventWindow(opts.Retention),
		cooldown:   NewCooldownManager(),
		correlator: corr,
		stats:      &Stats{},
	}
}

// AddEvent inserts an event into the shared window. Safe for concurrent use
// with Evaluate; never errors on well-formed input.
func (d *Detector) AddEvent(event *models.Event) {
	d.window.Add(event)
	d.stats.EventsAdded.Add(1)
}

// Evaluate runs every enabled rule against the current window and returns
// the newly detected incidents. One rule's failure never prevents the others
// from being evaluated.
func (d *Detector) Evaluate() []*models.Incident {
	return d.EvaluateAt(time.Now())
}

// EvaluateAt evaluates the rules as of a specific time (useful for testing).
func (d *Detector) EvaluateAt(now time.Time) []*models.Incident {
	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()

	d.stats.EvaluationCycles.Add(1)
	metrics.EvaluationCyclesTotal.Inc()
	events := d.window.SnapshotAt(now)

	var incidents []*models.Incident
	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		d.stats.RuleEvaluations.Add(1)

		match, err := d.safeEvaluate(rule, events, now)
		if err != nil {
			d.stats.RuleErrors.Add(1)
			metrics.RuleErrorsTotal.WithLabelValues(rule.ID).Inc()
			log.Printf("detector: rule %s evaluation failed: %v", rule.ID, err)
			continue
		}
		if match == nil {
			continue
		}

		if d.cooldown.IsOnCooldown(rule.ID, now) {
			d.stats.IncidentsSuppressed.Add(1)
			metrics.IncidentsSuppressedTotal.Inc()
			continue
		}
		if rule.GetCooldownDuration() > 0 {
			d.cooldown.SetCooldown(rule.ID, rule.GetCooldownDuration(), now)
		}

		incidents = append(incidents, d.buildIncident(rule, match))
		d.stats.IncidentsDetected.Add(1)
	}

	return incidents
}

// safeEvaluate isolates a single rule's evaluation: a panicking rule is
// reported as an evaluation error, not a crashed cycle.
func (d *Detector) safeEvaluate(rule *Rule, events []*models.Event, now time.Time) (match *ruleMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return evaluateRule(rule, events, now)
}

// buildIncident turns a rule match into an incident via the correlator.
func (d *Detector) buildIncident(rule *Rule, match *ruleMatch) *models.Incident {
	incident := d.correlator.Correlate(match.Events)
	incident.RuleID = rule.ID
	incident.Type = rule.IncidentType()
	incident.Title = rule.Name
	incident.Description = match.Message

	incident.Severity = rule.Severity
	if incident.RootCause != nil && incident.RootCause.Severity.Rank() > rule.Severity.Rank() {
		incident.Severity = incident.RootCause.Severity
	}

	return incident
}

// ConditionActive re-evaluates one rule's raw predicate against the current
// window, ignoring cooldowns. Used by the workflow's recovery stage to verify
// the triggering condition has cleared. An unknown rule or a failing
// evaluation reports inactive.
func (d *Detector) ConditionActive(ruleID string) bool {
	rule := d.GetRule(ruleID)
	if rule == nil {
		return false
	}

	now := time.Now()
	match, err := d.safeEvaluate(rule, d.window.SnapshotAt(now), now)
	if err != nil {
		log.Printf("detector: recovery check for rule %s failed: %v", ruleID, err)
		return false
	}
	return match != nil
}

// AddRule adds a new rule to the detector.
func (d *Detector) AddRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule)
	return nil
}

// RemoveRule removes a rule by id.
func (d *Detector) RemoveRule(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, rule := range d.rules {
		if rule.ID == id {
			d.rules = append(d.rules[:i], d.rules[i+1:]...)
			d.cooldown.Clear(id)
			return true
		}
	}
	return false
}

// GetRule returns a rule by id, or nil.
func (d *Detector) GetRule(id string) *Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, rule := range d.rules {
		if rule.ID == id {
			return rule
		}
	}
	return nil
}

// Rules returns a copy of the current rule set.
func (d *Detector) Rules() []*Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

// SetEnabled flips a rule's enabled flag. Takes effect on the next
// evaluation cycle.
func (d *Detector) SetEnabled(id string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rule := range d.rules {
		if rule.ID == id {
			rule.Enabled = &enabled
			return true
		}
	}
	return false
}

// ReloadRules atomically replaces the rule set. All rules are validated
// before the swap; a bad file leaves the running set untouched.
func (d *Detector) ReloadRules(rules []*Rule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = rules
	d.cooldown.ClearAll()
	return nil
}

// Window returns the shared event window.
func (d *Detector) Window() *EventWindow {
	return d.window
}

// StatsSnapshot is a point-in-time copy of detector statistics.
type StatsSnapshot struct {
	EventsAdded         int64
	EvaluationCycles    int64
	RuleEvaluations     int64
	IncidentsDetected   int64
	IncidentsSuppressed int64
	RuleErrors          int64
}

// Stats returns a snapshot of detector statistics.
func (d *Detector) Stats() StatsSnapshot {
	return StatsSnapshot{
		EventsAdded:         d.stats.EventsAdded.Load(),
		EvaluationCycles:    d.stats.EvaluationCycles.Load(),
		RuleEvaluations:     d.stats.RuleEvaluations.Load(),
		IncidentsDetected:   d.stats.IncidentsDetected.Load(),
		IncidentsSuppressed: d.stats.IncidentsSuppressed.Load(),
		RuleErrors:          d.stats.RuleErrors.Load(),
	}
}

// CooldownManager tracks rule cooldowns so a continuing condition does not
// spawn duplicate incidents.
type CooldownManager struct {
	mu        sync.RWMutex
	cooldowns map[string]time.Time
}

// NewCooldownManager creates a new cooldown manager.
func NewCooldownManager() *CooldownManager {
	return &CooldownManager{cooldowns: make(map[string]time.Time)}
}

// IsOnCooldown checks if a rule is currently on cooldown.
func (cm *CooldownManager) IsOnCooldown(ruleID string, now time.Time) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	expiresAt, ok := cm.cooldowns[ruleID]
	if !ok {
		return false
	}
	return now.Before(expiresAt)
}

// SetCooldown sets a cooldown for a rule.
func (cm *CooldownManager) SetCooldown(ruleID string, duration time.Duration, now time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cooldowns[ruleID] = now.Add(duration)
}

// Clear removes the cooldown for a rule.
func (cm *CooldownManager) Clear(ruleID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.cooldowns, ruleID)
}

// ClearAll removes all cooldowns.
func (cm *CooldownManager) ClearAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cooldowns = make(map[string]time.Time)
}
