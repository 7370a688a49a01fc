// Package responder recommends and executes remediation actions, gating
// risky ones behind an approval hold with a bounded timeout.
package responder

import (
	"context"
	"log"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// Action is a remediation action the engine may recommend. The engine only
// decides which action to try and when; the actual effect is delegated to a
// registered Executor.
type Action struct {
	ID          string
	Name        string
	Description string
	// Types lists the incident types this action applies to. Empty means
	// generally applicable.
	Types []models.IncidentType
	// RequiresApproval gates the action behind explicit human sign-off.
	RequiresApproval bool
}

// AppliesTo reports whether the action targets the given incident type.
func (a Action) AppliesTo(t models.IncidentType) bool {
	if len(a.Types) == 0 {
		return true
	}
	for _, at := range a.Types {
		if at == t {
			return true
		}
	}
	return false
}

// Built-in action ids.
const (
	ActionRestartService     = "restart-service"
	ActionScaleUpResources   = "scale-up-resources"
	ActionClearCache         = "clear-cache"
	ActionRollbackDeployment = "rollback-deployment"
	ActionKillZombies        = "kill-zombie-processes"
)

// BuiltinActions returns the built-in remediation catalog.
func BuiltinActions() []Action {
	return []Action{
		{
			ID:               ActionRestartService,
			Name:             "Restart service",
			Description:      "Restart the affected service process",
			Types:            []models.IncidentType{models.IncidentTypeServiceDown, models.IncidentTypeErrorBurst, models.IncidentTypeWorkflowFailureSpike},
			RequiresApproval: true,
		},
		{
			ID:          ActionScaleUpResources,
			Name:        "Scale up resources",
			Description: "Add capacity to the affected service",
			Types:       []models.IncidentType{models.IncidentTypeMemoryExhaustion, models.IncidentTypePerformanceDegradation},
		},
		{
			ID:          ActionClearCache,
			Name:        "Clear cache",
			Description: "Flush caches feeding the affected path",
			Types:       []models.IncidentType{models.IncidentTypeQualityDrop, models.IncidentTypePerformanceDegradation, models.IncidentTypeLowDiskSpace},
		},
		{
			ID:               ActionRollbackDeployment,
			Name:             "Roll back deployment",
			Description:      "Revert the most recent deployment of the affected service",
			Types:            []models.IncidentType{models.IncidentTypeErrorBurst, models.IncidentTypeQualityDrop, models.IncidentTypeWorkflowFailureSpike},
			RequiresApproval: true,
		},
		{
			ID:          ActionKillZombies,
			Name:        "Kill zombie processes",
			Description: "Terminate stuck worker processes",
			Types:       []models.IncidentType{models.IncidentTypeMemoryExhaustion, models.IncidentTypeServiceDown},
		},
	}
}

// Executor performs the concrete effect of an action. Implementations are
// supplied by the host application (restart a service, scale a deployment);
// the engine ships only a logging stand-in.
type Executor interface {
	// Execute performs the action against the incident's target and
	// returns a human-readable result message.
	Execute(ctx context.Context, action Action, incident *models.Incident) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action Action, incident *models.Incident) (string, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action Action, incident *models.Incident) (string, error) {
	return f(ctx, action, incident)
}

// LogExecutor is a no-op executor that records the decision. Used in tests
// and as the default when a host registers no actuator for an action.
type LogExecutor struct{}

// Execute implements Executor.
func (LogExecutor) Execute(_ context.Context, action Action, incident *models.Incident) (string, error) {
	log.Printf("responder: [dry-run] %s for incident %s", action.ID, incident.ID)
	return "executed (dry-run)", nil
}
