package manager

import (
	"context"

	"github.com/good-yellow-bee/flarewatch/internal/detector"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
)

// Statistics summarizes the engine's current state for dashboards and the
// stats API.
type Statistics struct {
	TotalIncidents  int            `json:"total_incidents"`
	ActiveIncidents int            `json:"active_incidents"`
	BySeverity      map[string]int `json:"by_severity"`
	ByStatus        map[string]int `json:"by_status"`
	ByType          map[string]int `json:"by_type"`

	PendingApprovals int `json:"pending_approvals"`

	Detector detector.StatsSnapshot `json:"detector"`
}

// GetStatistics aggregates incident counts and detector counters.
func (m *Manager) GetStatistics(ctx context.Context) (*Statistics, error) {
	incidents, err := m.store.List(ctx, storage.Filter{})
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		BySeverity:       make(map[string]int),
		ByStatus:         make(map[string]int),
		ByType:           make(map[string]int),
		PendingApprovals: m.responder.PendingCount(),
		Detector:         m.detector.Stats(),
	}

	for _, inc := range incidents {
		stats.TotalIncidents++
		if inc.Active() {
			stats.ActiveIncidents++
		}
		stats.BySeverity[string(inc.Severity)]++
		stats.ByStatus[string(inc.Status)]++
		stats.ByType[string(inc.Type)]++
	}

	return stats, nil
}
