package correlator

import (
	"sort"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// GenerateTimeline produces a chronological snapshot of the incident's
// timeline for display and audit. The returned slice is a copy; mutating it
// does not touch the incident.
func (c *Correlator) GenerateTimeline(incident *models.Incident) []models.TimelineEntry {
	out := make([]models.TimelineEntry, len(incident.Timeline))
	copy(out, incident.Timeline)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// MTTD is the latency between the earliest correlated event and incident
// detection. Undefined (ok=false) until the incident has both a detection
// timestamp and at least one event.
func (c *Correlator) MTTD(incident *models.Incident) (time.Duration, bool) {
	if incident.DetectedAt.IsZero() || len(incident.Events) == 0 {
		return 0, false
	}

	earliest := incident.Events[0].Timestamp
	for _, e := range incident.Events[1:] {
		if e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
	}

	d := incident.DetectedAt.Sub(earliest)
	if d < 0 {
		d = 0
	}
	return d, true
}

// MTTR is the latency between detection and resolution. Undefined until the
// incident is resolved.
func (c *Correlator) MTTR(incident *models.Incident) (time.Duration, bool) {
	if incident.DetectedAt.IsZero() || incident.ResolvedAt == nil {
		return 0, false
	}

	d := incident.ResolvedAt.Sub(incident.DetectedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}
