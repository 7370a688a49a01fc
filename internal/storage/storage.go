// Package storage provides incident persistence: an in-memory store for
// tests and embedded use, and a SQLite store for durable deployments.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// ErrNotFound is returned when no incident matches the requested id.
var ErrNotFound = errors.New("incident not found")

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Severity models.Severity
	Status   models.IncidentStatus
	Type     models.IncidentType
	// ActiveOnly restricts to incidents not yet resolved or closed.
	ActiveOnly bool
	// Since and Until bound detected_at.
	Since time.Time
	Until time.Time
	// Limit caps the number of results; zero means unlimited.
	Limit int
}

func (f Filter) matches(inc *models.Incident) bool {
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Type != "" && inc.Type != f.Type {
		return false
	}
	if f.ActiveOnly && !inc.Active() {
		return false
	}
	if !f.Since.IsZero() && inc.DetectedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && inc.DetectedAt.After(f.Until) {
		return false
	}
	return true
}

// Store persists incidents. Save is an upsert keyed by incident id; the
// manager saves a fresh snapshot after every lifecycle drive.
type Store interface {
	Save(ctx context.Context, incident *models.Incident) error
	Get(ctx context.Context, id string) (*models.Incident, error)
	List(ctx context.Context, filter Filter) ([]*models.Incident, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is a map-backed Store.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*models.Incident)}
}

// Save stores the incident, replacing any prior version.
func (s *MemoryStore) Save(_ context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

// Get returns the incident by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inc, nil
}

// List returns incidents matching the filter, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Incident
	for _, inc := range s.incidents {
		if filter.matches(inc) {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes the incident by id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[id]; !ok {
		return ErrNotFound
	}
	delete(s.incidents, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
