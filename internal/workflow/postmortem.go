package workflow

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// GeneratePostMortem builds the closure document from the incident record:
// impact window, root cause, full timeline, actions taken, and the MTTD/MTTR
// latencies.
func GeneratePostMortem(corr *correlator.Correlator, incident *models.Incident) *models.PostMortem {
	pm := &models.PostMortem{
		Summary:        summarize(incident),
		Timeline:       corr.GenerateTimeline(incident),
		Actions:        append([]models.RemediationAttempt(nil), incident.Attempts...),
		LessonsLearned: "To be completed by the incident owner.",
	}

	pm.ImpactStart = impactStart(incident)
	if incident.ResolvedAt != nil {
		pm.ImpactEnd = *incident.ResolvedAt
	}

	if incident.RootCause != nil {
		pm.RootCause = fmt.Sprintf("%s on %s: %s",
			incident.RootCause.Type, incident.RootCause.Source, incident.RootCause.Message)
	} else {
		pm.RootCause = "undetermined"
	}

	if d, ok := corr.MTTD(incident); ok {
		pm.MTTD = d
	}
	if d, ok := corr.MTTR(incident); ok {
		pm.MTTR = d
	}

	return pm
}

// impactStart is the earliest correlated event, falling back to detection
// when the incident carries no events.
func impactStart(incident *models.Incident) time.Time {
	start := incident.DetectedAt
	for _, e := range incident.Events {
		if e.Timestamp.Before(start) {
			start = e.Timestamp
		}
	}
	return start
}

func summarize(incident *models.Incident) string {
	succeeded := 0
	for _, a := range incident.Attempts {
		if a.State == models.AttemptSucceeded {
			succeeded++
		}
	}
	return fmt.Sprintf("%s incident %q (severity %s) correlated %d events; %d of %d remediation actions succeeded",
		incident.Type, incident.Title, incident.Severity,
		len(incident.Events), succeeded, len(incident.Attempts))
}
