// Package correlator groups related events into one coherent incident
// narrative: event grouping, root-cause identification, timeline assembly,
// and detection/resolution latency metrics.
package correlator

import (
	"fmt"
	"sort"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// Config holds correlation tuning parameters.
type Config struct {
	// ProximityWindow is the maximum gap between events grouped by
	// temporal proximity when no correlation id links them.
	ProximityWindow time.Duration
	// RootCauseGrace is how long after the earliest event a
	// higher-severity event may still claim root cause.
	RootCauseGrace time.Duration
}

// DefaultConfig returns default correlation parameters.
func DefaultConfig() Config {
	return Config{
		ProximityWindow: 2 * time.Minute,
		RootCauseGrace:  30 * time.Second,
	}
}

// Correlator turns clusters of events into incidents.
type Correlator struct {
	cfg Config
}

// New creates a correlator.
func New(cfg Config) *Correlator {
	if cfg.ProximityWindow <= 0 {
		cfg.ProximityWindow = DefaultConfig().ProximityWindow
	}
	if cfg.RootCauseGrace <= 0 {
		cfg.RootCauseGrace = DefaultConfig().RootCauseGrace
	}
	return &Correlator{cfg: cfg}
}

// Correlate groups the given events into one incident. Events sharing a
// correlation id are grouped first; events without one join a group when
// they overlap temporally and reference the same logical resource. Events
// from different sources still land in one incident when either link holds,
// so a fault spanning an API and its database reports as one incident.
func (c *Correlator) Correlate(events []*models.Event) *models.Incident {
	incident := models.NewIncident(models.IncidentTypeCustom, models.SeverityMedium, "correlated incident")
	if len(events) == 0 {
		return incident
	}

	group := c.Group(events)

	incident.Events = group
	incident.RootCause = c.RootCause(group)
	if incident.RootCause != nil {
		incident.Severity = incident.RootCause.Severity
		incident.Title = fmt.Sprintf("%s: %s", incident.RootCause.Source, incident.RootCause.Message)
	}

	for _, e := range group {
		incident.Timeline = append(incident.Timeline, models.TimelineEntry{
			Timestamp: e.Timestamp,
			Kind:      models.TimelineEvent,
			Message:   fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message),
			EventID:   e.ID,
		})
	}

	return incident
}

// Group selects the largest coherent cluster from the given events, sorted
// by timestamp. Grouping keys, in order: shared correlation id, then shared
// logical resource within the proximity window.
func (c *Correlator) Group(events []*models.Event) []*models.Event {
	sorted := make([]*models.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Correlation ids are authoritative when present.
	byCID := make(map[string][]*models.Event)
	var loose []*models.Event
	for _, e := range sorted {
		if e.CorrelationID != "" {
			byCID[e.CorrelationID] = append(byCID[e.CorrelationID], e)
		} else {
			loose = append(loose, e)
		}
	}

	var best []*models.Event
	for _, group := range byCID {
		// Loose events referencing the same resource inside the group's
		// time span (plus proximity slack) join the group.
		group = c.absorbLoose(group, loose)
		if len(group) > len(best) {
			best = group
		}
	}

	// No correlation ids at all: cluster by resource + proximity.
	if best == nil {
		best = c.clusterByResource(loose)
	}
	if best == nil {
		best = sorted
	}

	sort.Slice(best, func(i, j int) bool {
		return best[i].Timestamp.Before(best[j].Timestamp)
	})
	return best
}

// absorbLoose pulls uncorrelated events into a group when they reference a
// resource the group already touches and fall inside its time span.
func (c *Correlator) absorbLoose(group, loose []*models.Event) []*models.Event {
	resources := make(map[string]bool, len(group))
	start, end := group[0].Timestamp, group[0].Timestamp
	for _, e := range group {
		resources[e.Resource()] = true
		if e.Timestamp.Before(start) {
			start = e.Timestamp
		}
		if e.Timestamp.After(end) {
			end = e.Timestamp
		}
	}
	start = start.Add(-c.cfg.ProximityWindow)
	end = end.Add(c.cfg.ProximityWindow)

	out := group
	for _, e := range loose {
		if !resources[e.Resource()] {
			continue
		}
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// clusterByResource groups events that reference the same resource with no
// gap larger than the proximity window, returning the largest cluster.
func (c *Correlator) clusterByResource(events []*models.Event) []*models.Event {
	byResource := make(map[string][]*models.Event)
	for _, e := range events {
		byResource[e.Resource()] = append(byResource[e.Resource()], e)
	}

	var best []*models.Event
	for _, group := range byResource {
		var cluster []*models.Event
		for _, e := range group {
			if len(cluster) > 0 && e.Timestamp.Sub(cluster[len(cluster)-1].Timestamp) > c.cfg.ProximityWindow {
				if len(cluster) > len(best) {
					best = cluster
				}
				cluster = nil
			}
			cluster = append(cluster, e)
		}
		if len(cluster) > len(best) {
			best = cluster
		}
	}
	return best
}

// RootCause identifies the originating event of a group. The earliest event
// wins, unless a strictly-higher-severity event occurs within the grace
// period of the earliest; severity ties break toward the earliest timestamp.
func (c *Correlator) RootCause(events []*models.Event) *models.Event {
	if len(events) == 0 {
		return nil
	}

	earliest := events[0]
	for _, e := range events[1:] {
		if e.Timestamp.Before(earliest.Timestamp) {
			earliest = e
		}
	}

	cause := earliest
	deadline := earliest.Timestamp.Add(c.cfg.RootCauseGrace)
	for _, e := range events {
		if e.Timestamp.After(deadline) {
			continue
		}
		if e.Severity.Rank() > cause.Severity.Rank() ||
			(e.Severity.Rank() == cause.Severity.Rank() && e.Timestamp.Before(cause.Timestamp)) {
			cause = e
		}
	}
	return cause
}
