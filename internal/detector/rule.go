// Package detector provides the incident detection engine for Flarewatch.
// It maintains a retention-bounded window of recent events and evaluates
// configurable threshold-over-window rules with cooldown/deduplication.
package detector

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// RuleKind identifies the matching semantics of a detection rule.
type RuleKind string

const (
	// RuleErrorBurst triggers on N error events from one source within the window.
	RuleErrorBurst RuleKind = "error_burst"
	// RuleServiceDown triggers on consecutive health-check failures.
	RuleServiceDown RuleKind = "service_down"
	// RuleQualityDrop triggers when a quality metric stays under Value.
	RuleQualityDrop RuleKind = "quality_drop"
	// RuleWorkflowFailureSpike triggers when failures spike against the
	// preceding window's baseline.
	RuleWorkflowFailureSpike RuleKind = "workflow_failure_spike"
	// RuleMemoryExhaustion triggers when memory utilization stays above Value.
	RuleMemoryExhaustion RuleKind = "memory_exhaustion"
	// RulePerformanceDegradation triggers when the latency percentile exceeds Value.
	RulePerformanceDegradation RuleKind = "performance_degradation"
	// RuleLowDiskSpace triggers when free disk space stays below Value.
	RuleLowDiskSpace RuleKind = "low_disk_space"
	// RuleExpr triggers when enough events match an expr-lang expression.
	RuleExpr RuleKind = "expr"
)

// ruleIncidentTypes maps rule kinds to the incident type they produce.
var ruleIncidentTypes = map[RuleKind]models.IncidentType{
	RuleErrorBurst:             models.IncidentTypeErrorBurst,
	RuleServiceDown:            models.IncidentTypeServiceDown,
	RuleQualityDrop:            models.IncidentTypeQualityDrop,
	RuleWorkflowFailureSpike:   models.IncidentTypeWorkflowFailureSpike,
	RuleMemoryExhaustion:       models.IncidentTypeMemoryExhaustion,
	RulePerformanceDegradation: models.IncidentTypePerformanceDegradation,
	RuleLowDiskSpace:           models.IncidentTypeLowDiskSpace,
	RuleExpr:                   models.IncidentTypeCustom,
}

// Rule is a configured detection predicate over the sliding event window.
type Rule struct {
	// ID is the unique identifier for the rule.
	ID string `yaml:"id"`
	// Name is the human-readable rule name.
	Name string `yaml:"name"`
	// Kind selects the matching semantics.
	Kind RuleKind `yaml:"kind"`
	// Description provides details about what the rule detects.
	Description string `yaml:"description,omitempty"`
	// Severity is the default severity of incidents this rule produces.
	Severity models.Severity `yaml:"severity,omitempty"`
	// Threshold is the sustained sample count required to trigger.
	Threshold int `yaml:"threshold"`
	// Window is the evaluation window (e.g. "5m").
	Window string `yaml:"window"`
	// Cooldown suppresses re-triggering after a fire (e.g. "10m").
	Cooldown string `yaml:"cooldown,omitempty"`
	// Value is the numeric threshold for metric rules (utilization ratio,
	// latency milliseconds, free bytes, quality floor).
	Value float64 `yaml:"value,omitempty"`
	// Expression is the expr-lang predicate for expr rules.
	Expression string `yaml:"expression,omitempty"`
	// Source restricts the rule to one event source ("" matches all).
	Source string `yaml:"source,omitempty"`
	// Enabled controls whether the rule is active (default true).
	Enabled *bool `yaml:"enabled,omitempty"`

	windowDuration   time.Duration
	cooldownDuration time.Duration
	exprMatcher      *ExprMatcher
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// IncidentType returns the incident type this rule produces.
func (r *Rule) IncidentType() models.IncidentType {
	if t, ok := ruleIncidentTypes[r.Kind]; ok {
		return t
	}
	return models.IncidentTypeCustom
}

// Validate validates and compiles the rule configuration.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		r.Name = r.ID
	}

	if _, ok := ruleIncidentTypes[r.Kind]; !ok {
		return fmt.Errorf("invalid rule kind %q for rule %q", r.Kind, r.ID)
	}

	if r.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive for rule %q", r.ID)
	}
	if r.Window == "" {
		return fmt.Errorf("window is required for rule %q", r.ID)
	}
	windowDur, err := time.ParseDuration(r.Window)
	if err != nil {
		return fmt.Errorf("invalid window %q for rule %q: %w", r.Window, r.ID, err)
	}
	r.windowDuration = windowDur

	if r.Cooldown != "" {
		cooldownDur, err := time.ParseDuration(r.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q for rule %q: %w", r.Cooldown, r.ID, err)
		}
		r.cooldownDuration = cooldownDur
	}

	switch r.Kind {
	case RuleQualityDrop, RuleMemoryExhaustion, RulePerformanceDegradation, RuleLowDiskSpace:
		if r.Value <= 0 {
			return fmt.Errorf("value threshold is required for %s rule %q", r.Kind, r.ID)
		}
	case RuleExpr:
		if r.Expression == "" {
			return fmt.Errorf("expression is required for expr rule %q", r.ID)
		}
		matcher, err := NewExprMatcher(r.Expression)
		if err != nil {
			return fmt.Errorf("invalid expression for rule %q: %w", r.ID, err)
		}
		r.exprMatcher = matcher
	}

	if r.Severity == "" {
		r.Severity = defaultSeverity(r.Kind)
	}

	return nil
}

// GetWindowDuration returns the parsed window duration.
func (r *Rule) GetWindowDuration() time.Duration {
	return r.windowDuration
}

// GetCooldownDuration returns the parsed cooldown duration.
func (r *Rule) GetCooldownDuration() time.Duration {
	return r.cooldownDuration
}

// GetExprMatcher returns the compiled expression matcher, or nil.
func (r *Rule) GetExprMatcher() *ExprMatcher {
	return r.exprMatcher
}

func defaultSeverity(kind RuleKind) models.Severity {
	switch kind {
	case RuleServiceDown, RuleMemoryExhaustion:
		return models.SeverityCritical
	case RuleErrorBurst, RuleWorkflowFailureSpike, RuleLowDiskSpace:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// RulesConfig is the top-level YAML structure for rule files.
type RulesConfig struct {
	Rules []*Rule `yaml:"rules"`
}
