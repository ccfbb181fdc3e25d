// Package api serves a read-only view of a running experiment for
// dashboards and other visualisation clients.
package api

import (
	"sync"
	"time"

	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

// Reading is one meter's sample within an update.
type Reading struct {
	Meter string
	power.Sample
}

// Update is what the experiment publishes after every sampling round.
type Update struct {
	Time                time.Duration
	Taxis               int
	RunningApplications int
	Readings            []Reading
}

// TaxiCount is one point of the taxi history.
type TaxiCount struct {
	Time  time.Duration
	Taxis int
}

// Status is the latest published state.
type Status struct {
	Experiment          string
	RunID               string
	Time                time.Duration
	Finished            bool
	Taxis               int
	RunningApplications int
	Readings            []Reading
}

// Store keeps the published snapshots. Writes come from the simulation
// goroutine, reads from HTTP handlers.
type Store struct {
	mu     sync.RWMutex
	status Status
	meters map[string][]power.Sample
	order  []string
	taxis  []TaxiCount
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{meters: make(map[string][]power.Sample)}
}

// SetExperiment labels the store with the experiment being run.
func (s *Store) SetExperiment(name, runID string) {
	s.mu.Lock()
	s.status.Experiment = name
	s.status.RunID = runID
	s.mu.Unlock()
}

// Publish records one sampling round.
func (s *Store) Publish(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Time = u.Time
	s.status.Taxis = u.Taxis
	s.status.RunningApplications = u.RunningApplications
	s.status.Readings = append(s.status.Readings[:0], u.Readings...)
	for _, r := range u.Readings {
		if _, ok := s.meters[r.Meter]; !ok {
			s.order = append(s.order, r.Meter)
		}
		s.meters[r.Meter] = append(s.meters[r.Meter], r.Sample)
	}
	s.taxis = append(s.taxis, TaxiCount{Time: u.Time, Taxis: u.Taxis})
}

// Finish marks the experiment as complete.
func (s *Store) Finish() {
	s.mu.Lock()
	s.status.Finished = true
	s.mu.Unlock()
}

// Status returns a copy of the latest state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Readings = append([]Reading(nil), s.status.Readings...)
	return st
}

// Meters returns the meter names in the order they were first published.
func (s *Store) Meters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Meter returns the sample history of one meter.
func (s *Store) Meter(name string) ([]power.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples, ok := s.meters[name]
	if !ok {
		return nil, false
	}
	return append([]power.Sample(nil), samples...), true
}

// Taxis returns the taxi count history.
func (s *Store) Taxis() []TaxiCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TaxiCount(nil), s.taxis...)
}
