// Package manager wires the detection, correlation, remediation,
// notification, and workflow components behind one facade and runs the
// periodic detection loop.
package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/detector"
	"github.com/good-yellow-bee/flarewatch/internal/metrics"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
	"github.com/good-yellow-bee/flarewatch/internal/workflow"
)

// Options configures the manager.
type Options struct {
	// Interval is the detection loop cadence.
	Interval time.Duration
	// ProcessOnDetect drives each new incident through the workflow as soon
	// as the detection loop finds it.
	ProcessOnDetect bool
}

// DefaultOptions returns default manager options.
func DefaultOptions() Options {
	return Options{
		Interval:        10 * time.Second,
		ProcessOnDetect: true,
	}
}

// Manager owns the component graph and the detection loop lifecycle.
type Manager struct {
	detector   *detector.Detector
	correlator *correlator.Correlator
	responder  *responder.Responder
	notifier   *notifier.Notifier
	workflow   *workflow.Workflow
	store      storage.Store

	opts Options

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	inflight map[string]bool
}

// New assembles a manager from its components.
func New(det *detector.Detector, corr *correlator.Correlator, resp *responder.Responder, notif *notifier.Notifier, store storage.Store, opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	return &Manager{
		detector:   det,
		correlator: corr,
		responder:  resp,
		notifier:   notif,
		workflow:   workflow.New(corr, resp, notif, det),
		store:      store,
		opts:       opts,
		inflight:   make(map[string]bool),
	}
}

// Start launches the periodic detection loop. Idempotent: starting a running
// manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, loopCtx := errgroup.WithContext(loopCtx)
	m.cancel = cancel
	m.group = g
	m.running = true

	g.Go(func() error {
		m.runLoop(loopCtx)
		return nil
	})

	log.Printf("manager: detection loop started, interval %s", m.opts.Interval)
}

// Stop halts the detection loop and waits for it to drain. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, group := m.cancel, m.group
	m.mu.Unlock()

	cancel()
	group.Wait()
	log.Printf("manager: detection loop stopped")
}

// Running reports whether the detection loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) runLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				log.Printf("manager: detection cycle: %v", err)
			}
		}
	}
}

// sweep is one loop tick: detect new incidents, then re-drive every active
// incident off the loop goroutine. Re-driving all of them, not just the new
// ones, is what moves incidents forward once an approval resolves, times out,
// or a triggering condition clears.
func (m *Manager) sweep(ctx context.Context) error {
	if _, err := m.detect(ctx); err != nil {
		return err
	}

	if m.opts.ProcessOnDetect {
		active, err := m.store.List(ctx, storage.Filter{ActiveOnly: true})
		if err != nil {
			return fmt.Errorf("list active incidents: %w", err)
		}
		for _, inc := range active {
			m.dispatch(ctx, inc)
		}
	}

	m.updateActiveGauge(ctx)
	return nil
}

// dispatch drives one incident on a worker goroutine so slow remediation or
// notification never stalls detection. At most one drive per incident is in
// flight; the workflow's per-incident lock serializes with direct calls.
func (m *Manager) dispatch(ctx context.Context, incident *models.Incident) {
	m.mu.Lock()
	if m.inflight[incident.ID] || m.group == nil {
		m.mu.Unlock()
		return
	}
	m.inflight[incident.ID] = true
	m.mu.Unlock()

	m.group.Go(func() error {
		defer func() {
			m.mu.Lock()
			delete(m.inflight, incident.ID)
			m.mu.Unlock()
		}()
		if _, err := m.ProcessIncident(ctx, incident); err != nil {
			log.Printf("manager: process incident %s: %v", incident.ID, err)
		}
		return nil
	})
}

// SubmitEvent adds one event to the detection window.
func (m *Manager) SubmitEvent(event *models.Event) {
	m.detector.AddEvent(event)
	metrics.EventsIngestedTotal.WithLabelValues(string(event.Type)).Inc()
}

// CheckForIncidents runs one detection sweep, persists any new incidents,
// and (when configured) drives each through the workflow synchronously.
// Hosts that want the asynchronous version run the loop via Start.
func (m *Manager) CheckForIncidents(ctx context.Context) ([]*models.Incident, error) {
	incidents, err := m.detect(ctx)
	if err != nil {
		return incidents, err
	}

	if m.opts.ProcessOnDetect {
		for _, inc := range incidents {
			if _, err := m.ProcessIncident(ctx, inc); err != nil {
				return incidents, err
			}
		}
	}

	m.updateActiveGauge(ctx)
	return incidents, nil
}

// detect runs one detector evaluation and persists the new incidents.
func (m *Manager) detect(ctx context.Context) ([]*models.Incident, error) {
	incidents := m.detector.Evaluate()

	for _, inc := range incidents {
		metrics.IncidentsDetectedTotal.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
		if err := m.store.Save(ctx, inc); err != nil {
			metrics.StorageErrors.WithLabelValues("save").Inc()
			return incidents, fmt.Errorf("persist incident %s: %w", inc.ID, err)
		}
		log.Printf("manager: detected %s incident %s (%s): %s",
			inc.Severity, inc.ID, inc.Type, inc.Title)
	}

	return incidents, nil
}

// ProcessIncident drives one incident through the workflow until it closes
// or blocks, then persists the updated snapshot.
func (m *Manager) ProcessIncident(ctx context.Context, incident *models.Incident) (models.IncidentStatus, error) {
	before := incident.Status
	attemptsBefore := len(incident.Attempts)

	status := m.workflow.Process(ctx, incident)
	if status != before {
		metrics.StageTransitionsTotal.WithLabelValues(string(status)).Inc()
	}
	if status == models.StatusClosed {
		metrics.IncidentsClosedTotal.WithLabelValues(string(incident.Type), string(incident.Severity)).Inc()
	}
	for _, a := range incident.Attempts[attemptsBefore:] {
		metrics.RemediationsTotal.WithLabelValues(a.ActionID, string(a.State)).Inc()
	}
	metrics.ApprovalsPending.Set(float64(m.responder.PendingCount()))

	if err := m.store.Save(ctx, incident); err != nil {
		metrics.StorageErrors.WithLabelValues("save").Inc()
		return status, fmt.Errorf("persist incident %s: %w", incident.ID, err)
	}
	m.updateActiveGauge(ctx)
	return status, nil
}

// ProcessPending re-drives every non-terminal incident. Used by the loop and
// by hosts after approvals resolve.
func (m *Manager) ProcessPending(ctx context.Context) error {
	active, err := m.store.List(ctx, storage.Filter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list active incidents: %w", err)
	}
	for _, inc := range active {
		if _, err := m.ProcessIncident(ctx, inc); err != nil {
			return err
		}
	}
	return nil
}

// GetIncident returns one incident by id.
func (m *Manager) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	return m.store.Get(ctx, id)
}

// ListIncidents returns incidents matching the filter, newest first.
func (m *Manager) ListIncidents(ctx context.Context, filter storage.Filter) ([]*models.Incident, error) {
	return m.store.List(ctx, filter)
}

// Acknowledge records an operator acknowledgment and persists it.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*models.Incident, error) {
	inc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.workflow.Acknowledge(inc, actor)
	if err := m.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist incident %s: %w", id, err)
	}
	return inc, nil
}

// Escalate raises an incident's severity and re-notifies on the new routing.
func (m *Manager) Escalate(ctx context.Context, id string, to models.Severity) (*models.Incident, error) {
	inc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.workflow.Escalate(ctx, inc, to) {
		if err := m.store.Save(ctx, inc); err != nil {
			return nil, fmt.Errorf("persist incident %s: %w", id, err)
		}
	}
	return inc, nil
}

// Approve releases a pending remediation action and re-drives its incident.
func (m *Manager) Approve(ctx context.Context, approvalID, actor string) error {
	p, ok := m.responder.GetPending(approvalID)
	if !ok {
		return fmt.Errorf("unknown approval %q", approvalID)
	}
	if err := m.responder.Approve(approvalID, actor); err != nil {
		return err
	}

	inc, err := m.store.Get(ctx, p.IncidentID)
	if err != nil {
		return err
	}
	_, err = m.ProcessIncident(ctx, inc)
	return err
}

// CancelApproval abandons a pending remediation action and re-drives its
// incident.
func (m *Manager) CancelApproval(ctx context.Context, approvalID string) error {
	p, ok := m.responder.GetPending(approvalID)
	if !ok {
		return fmt.Errorf("unknown approval %q", approvalID)
	}
	if err := m.responder.Cancel(approvalID); err != nil {
		return err
	}

	inc, err := m.store.Get(ctx, p.IncidentID)
	if err != nil {
		return err
	}
	_, err = m.ProcessIncident(ctx, inc)
	return err
}

// Detector exposes the detector for rule management surfaces.
func (m *Manager) Detector() *detector.Detector {
	return m.detector
}

func (m *Manager) updateActiveGauge(ctx context.Context) {
	active, err := m.store.List(ctx, storage.Filter{ActiveOnly: true})
	if err != nil {
		return
	}
	metrics.IncidentsActive.Set(float64(len(active)))
}
