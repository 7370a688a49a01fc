package detector

import (
	"fmt"
	"sort"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// ruleMatch is the result of a rule firing: the events that satisfied the
// condition and a human-readable summary.
type ruleMatch struct {
	Events  []*models.Event
	Message string
}

// evaluateRule runs one rule's predicate against a snapshot of the event
// window. A nil match means the condition is not (yet) sustained.
func evaluateRule(r *Rule, events []*models.Event, now time.Time) (*ruleMatch, error) {
	switch r.Kind {
	case RuleErrorBurst:
		return matchErrorBurst(r, events, now), nil
	case RuleServiceDown:
		return matchServiceDown(r, events, now), nil
	case RuleQualityDrop:
		return matchMetricLow(r, events, now, models.EventTypeQualityMetric,
			"quality %0.2f under %0.2f for %d samples"), nil
	case RuleWorkflowFailureSpike:
		return matchWorkflowSpike(r, events, now), nil
	case RuleMemoryExhaustion:
		return matchMetricHigh(r, events, now, models.EventTypeMemory,
			"memory utilization %0.2f over %0.2f for %d samples"), nil
	case RulePerformanceDegradation:
		return matchLatencyPercentile(r, events, now), nil
	case RuleLowDiskSpace:
		return matchMetricLow(r, events, now, models.EventTypeDiskSpace,
			"free space %0.2f under %0.2f for %d samples"), nil
	case RuleExpr:
		return matchExpr(r, events, now)
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// inWindow filters events to the rule's window and optional source filter.
func inWindow(r *Rule, events []*models.Event, now time.Time) []*models.Event {
	cutoff := now.Add(-r.GetWindowDuration())
	out := make([]*models.Event, 0, len(events))
	for _, e := range events {
		if e.Timestamp.Before(cutoff) || e.Timestamp.After(now) {
			continue
		}
		if r.Source != "" && e.Source != r.Source {
			continue
		}
		out = append(out, e)
	}
	return out
}

// bySource buckets events of one type per source, preserving time order.
func bySource(events []*models.Event, eventType models.EventType) map[string][]*models.Event {
	buckets := make(map[string][]*models.Event)
	for _, e := range events {
		if e.Type != eventType {
			continue
		}
		buckets[e.Source] = append(buckets[e.Source], e)
	}
	return buckets
}

// sortedSources returns bucket keys in a stable order so evaluation is
// deterministic when several sources trip the same rule in one cycle.
func sortedSources(buckets map[string][]*models.Event) []string {
	sources := make([]string, 0, len(buckets))
	for s := range buckets {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// matchErrorBurst fires when one source emits Threshold or more error events
// within the window.
func matchErrorBurst(r *Rule, events []*models.Event, now time.Time) *ruleMatch {
	buckets := bySource(inWindow(r, events, now), models.EventTypeError)
	for _, source := range sortedSources(buckets) {
		group := buckets[source]
		if len(group) >= r.Threshold {
			return &ruleMatch{
				Events: group,
				Message: fmt.Sprintf("%d error events from %s in %s (threshold %d)",
					len(group), source, r.Window, r.Threshold),
			}
		}
	}
	return nil
}

// matchServiceDown fires when the trailing consecutive health-check failures
// for one source reach the threshold.
func matchServiceDown(r *Rule, events []*models.Event, now time.Time) *ruleMatch {
	buckets := bySource(inWindow(r, events, now), models.EventTypeHealthCheck)
	for _, source := range sortedSources(buckets) {
		group := buckets[source]
		var failures []*models.Event
		for _, e := range group {
			if healthCheckFailed(e) {
				failures = append(failures, e)
			} else {
				failures = failures[:0]
			}
		}
		if len(failures) >= r.Threshold {
			return &ruleMatch{
				Events: failures,
				Message: fmt.Sprintf("%d consecutive health-check failures for %s (threshold %d)",
					len(failures), source, r.Threshold),
			}
		}
	}
	return nil
}

func healthCheckFailed(e *models.Event) bool {
	if healthy, ok := e.MetaBool("healthy"); ok {
		return !healthy
	}
	return e.Severity.Rank() >= models.SeverityHigh.Rank()
}

// matchMetricLow fires when a source reports Threshold or more samples of the
// given type, all below the rule's value floor.
func matchMetricLow(r *Rule, events []*models.Event, now time.Time, eventType models.EventType, format string) *ruleMatch {
	return matchSustainedMetric(r, events, now, eventType, format, func(v float64) bool {
		return v < r.Value
	})
}

// matchMetricHigh is the mirror of matchMetricLow for above-ceiling metrics.
func matchMetricHigh(r *Rule, events []*models.Event, now time.Time, eventType models.EventType, format string) *ruleMatch {
	return matchSustainedMetric(r, events, now, eventType, format, func(v float64) bool {
		return v >= r.Value
	})
}

func matchSustainedMetric(r *Rule, events []*models.Event, now time.Time, eventType models.EventType, format string, breach func(float64) bool) *ruleMatch {
	buckets := bySource(inWindow(r, events, now), eventType)
	for _, source := range sortedSources(buckets) {
		group := buckets[source]
		// Sustained means the most recent Threshold samples all breach;
		// a single bad sample never fires.
		if len(group) < r.Threshold {
			continue
		}
		recent := group[len(group)-r.Threshold:]
		sustained := true
		var last float64
		for _, e := range recent {
			v, ok := e.MetaFloat("value")
			if !ok || !breach(v) {
				sustained = false
				break
			}
			last = v
		}
		if sustained {
			return &ruleMatch{
				Events:  recent,
				Message: fmt.Sprintf(format, last, r.Value, r.Threshold),
			}
		}
	}
	return nil
}

// matchWorkflowSpike fires when the current window's failure count reaches
// the threshold and at least doubles the preceding window's baseline.
func matchWorkflowSpike(r *Rule, events []*models.Event, now time.Time) *ruleMatch {
	window := r.GetWindowDuration()
	currentCut := now.Add(-window)
	baselineCut := now.Add(-2 * window)

	var current []*models.Event
	baseline := 0
	for _, e := range events {
		if e.Type != models.EventTypeWorkflowFailure {
			continue
		}
		if r.Source != "" && e.Source != r.Source {
			continue
		}
		switch {
		case !e.Timestamp.Before(currentCut):
			current = append(current, e)
		case !e.Timestamp.Before(baselineCut):
			baseline++
		}
	}

	if len(current) < r.Threshold || len(current) < 2*baseline {
		return nil
	}
	return &ruleMatch{
		Events: current,
		Message: fmt.Sprintf("%d workflow failures in %s vs baseline %d (threshold %d)",
			len(current), r.Window, baseline, r.Threshold),
	}
}

// matchLatencyPercentile fires when a source's p95 latency over at least
// Threshold samples exceeds the rule value (milliseconds).
func matchLatencyPercentile(r *Rule, events []*models.Event, now time.Time) *ruleMatch {
	buckets := bySource(inWindow(r, events, now), models.EventTypeLatency)
	for _, source := range sortedSources(buckets) {
		group := buckets[source]
		if len(group) < r.Threshold {
			continue
		}
		values := make([]float64, 0, len(group))
		for _, e := range group {
			if v, ok := e.MetaFloat("value"); ok {
				values = append(values, v)
			}
		}
		if len(values) < r.Threshold {
			continue
		}
		p95 := percentile(values, 0.95)
		if p95 > r.Value {
			return &ruleMatch{
				Events: group,
				Message: fmt.Sprintf("p95 latency %.0fms over %.0fms for %s (%d samples)",
					p95, r.Value, source, len(values)),
			}
		}
	}
	return nil
}

// percentile returns the p-quantile of values using nearest-rank.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// matchExpr fires when Threshold or more window events satisfy the compiled
// expression.
func matchExpr(r *Rule, events []*models.Event, now time.Time) (*ruleMatch, error) {
	matcher := r.GetExprMatcher()
	if matcher == nil {
		return nil, fmt.Errorf("expr rule %q has no compiled matcher", r.ID)
	}

	var matched []*models.Event
	for _, e := range inWindow(r, events, now) {
		ok, err := matcher.Match(e)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}

	if len(matched) < r.Threshold {
		return nil, nil
	}
	return &ruleMatch{
		Events: matched,
		Message: fmt.Sprintf("%d events matched %q in %s (threshold %d)",
			len(matched), matcher.Expression(), r.Window, r.Threshold),
	}, nil
}
