// Package models defines the core data model for Flarewatch: events,
// incidents, and the enumerated severity, status, and type sets.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an observed occurrence.
type EventType string

const (
	EventTypeError           EventType = "error"
	EventTypeHealthCheck     EventType = "health_check"
	EventTypeQualityMetric   EventType = "quality_metric"
	EventTypeWorkflowFailure EventType = "workflow_failure"
	EventTypeMemory          EventType = "memory"
	EventTypeLatency         EventType = "latency"
	EventTypeDiskSpace       EventType = "disk_space"
	EventTypeGeneric         EventType = "generic"
)

// Severity represents severity level, for both events and incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities for escalate-only comparisons.
var severityRanks = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric order of the severity. Unknown severities rank
// below low.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low", "LOW":
		return SeverityLow
	case "medium", "MEDIUM":
		return SeverityMedium
	case "high", "HIGH":
		return SeverityHigh
	case "critical", "CRITICAL":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Event is one observed occurrence submitted to the engine. Immutable once
// created; correlation copies references, never the event itself.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EventType      `json:"type"`
	Source        string         `json:"source"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time and a fresh ID.
func NewEvent(eventType EventType, source string, severity Severity, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
		Source:    source,
		Severity:  severity,
		Message:   message,
	}
}

// MetaFloat returns a numeric metadata value. Accepts float64, int, and
// int64 since metadata frequently round-trips through JSON.
func (e *Event) MetaFloat(key string) (float64, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// MetaString returns a string metadata value.
func (e *Event) MetaString(key string) (string, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MetaBool returns a boolean metadata value.
func (e *Event) MetaBool(key string) (bool, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Resource returns the logical resource this event references, used for
// cross-system correlation. Falls back to the source when no resource
// metadata is present.
func (e *Event) Resource() string {
	if r, ok := e.MetaString("resource"); ok && r != "" {
		return r
	}
	return e.Source
}
