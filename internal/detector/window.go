package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// EventWindow is the shared retention buffer of recent events. All rules
// evaluate against the same window; access is mutually exclusive between
// producers calling Add and the detection loop's read/evict pass.
type EventWindow struct {
	mu        sync.Mutex
	retention time.Duration
	events    []*models.Event
	maxSize   int
}

// NewEventWindow creates a window that retains events for the given duration.
func NewEventWindow(retention time.Duration) *EventWindow {
	return &EventWindow{
		retention: retention,
		events:    make([]*models.Event, 0, 1024),
		maxSize:   100000,
	}
}

// Add inserts an event into the window. Never errors on well-formed input.
func (w *EventWindow) Add(event *models.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(time.Now())

	// Keep the buffer time-ordered even when producers submit slightly
	// out of order.
	n := len(w.events)
	if n > 0 && event.Timestamp.Before(w.events[n-1].Timestamp) {
		idx := sort.Search(n, func(i int) bool {
			return w.events[i].Timestamp.After(event.Timestamp)
		})
		w.events = append(w.events, nil)
		copy(w.events[idx+1:], w.events[idx:])
		w.events[idx] = event
	} else {
		w.events = append(w.events, event)
	}

	if len(w.events) > w.maxSize {
		// Keep only the most recent half.
		w.events = w.events[len(w.events)/2:]
	}
}

// Snapshot returns a copy of the current window contents in time order,
// after evicting expired events.
func (w *EventWindow) Snapshot() []*models.Event {
	return w.SnapshotAt(time.Now())
}

// SnapshotAt returns the window contents as of a specific time (useful for
// testing).
func (w *EventWindow) SnapshotAt(now time.Time) []*models.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now)
	out := make([]*models.Event, len(w.events))
	copy(out, w.events)
	return out
}

// Len returns the number of retained events.
func (w *EventWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(time.Now())
	return len(w.events)
}

// Reset clears the window.
func (w *EventWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
}

// Retention returns the configured retention duration.
func (w *EventWindow) Retention() time.Duration {
	return w.retention
}

// evictLocked drops events older than the retention window. Must be called
// with the lock held.
func (w *EventWindow) evictLocked(now time.Time) {
	cutoff := now.Add(-w.retention)

	// Binary search for the first event at or after the cutoff.
	left, right := 0, len(w.events)
	for left < right {
		mid := (left + right) / 2
		if w.events[mid].Timestamp.Before(cutoff) {
			left = mid + 1
		} else {
			right = mid
		}
	}

	if left > 0 {
		w.events = w.events[left:]
	}
}
