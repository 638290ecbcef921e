package health

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

type entry struct {
	status   Status
	activity Activity
}

// Monitor tracks the health of named components. It is safe for
// concurrent use; a nil Monitor ignores every update.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{entries: make(map[string]*entry), now: time.Now}
}

// lookup returns the entry for name, creating it. Callers hold mu.
func (m *Monitor) lookup(name string) *entry {
	e, ok := m.entries[name]
	if !ok {
		e = &entry{activity: Activity{Since: m.now()}}
		m.entries[name] = e
	}
	return e
}

// Update replaces the status of name, keeping its activity counters.
func (m *Monitor) Update(name string, status Status) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = m.now()
	}
	m.lookup(name).status = status
}

// Running marks name healthy.
func (m *Monitor) Running(name string) {
	m.Update(name, Healthy(name, "running"))
}

// Finished marks name healthy and done; its input has ended.
func (m *Monitor) Finished(name string) {
	m.Update(name, Healthy(name, "finished"))
}

// Degrade marks name degraded with err as the reason and counts the error.
func (m *Monitor) Degrade(name string, err error) {
	m.fail(name, StateDegraded, err)
}

// Failed marks name unhealthy with err as the reason and counts the error.
func (m *Monitor) Failed(name string, err error) {
	m.fail(name, StateUnhealthy, err)
}

func (m *Monitor) fail(name string, state State, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(name)
	e.status = FromError(name, state, err)
	e.activity.Errors++
}

// RecordEvents adds n to the events moved by name.
func (m *Monitor) RecordEvents(name string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(name)
	e.activity.Events += int64(n)
	e.activity.LastActivity = m.now()
}

// Get returns the status of name with its activity attached.
func (m *Monitor) Get(name string) (Status, bool) {
	if m == nil {
		return Status{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok {
		return Status{}, false
	}
	return e.snapshot(), true
}

func (e *entry) snapshot() Status {
	s := e.status
	if s.State == "" {
		s.State = StateHealthy
		s.Message = "starting"
	}
	activity := e.activity
	s.Activity = &activity
	return s
}

// Components returns the monitored names, sorted.
func (m *Monitor) Components() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
}

// AggregateHealth folds every component into one status named system,
// sub-statuses ordered by name.
func (m *Monitor) AggregateHealth(system string) Status {
	names := m.Components()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.Get(name); ok {
			subs = append(subs, s)
		}
	}
	return Aggregate(system, subs)
}

// Handler serves the aggregate status as JSON. Unhealthy pipelines answer
// 503 so probes fail; degraded ones still answer 200.
func (m *Monitor) Handler(system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(system)
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
