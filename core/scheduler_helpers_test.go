package core

import (
	"sort"
	"time"
)

// fakeScheduler is a minimal test-only Scheduler: deferred calls run in time
// order (FIFO on ties) when the test advances the clock.
type fakeScheduler struct {
	now     time.Duration
	seq     int
	pending []fakeCall
}

type fakeCall struct {
	at  time.Duration
	seq int
	fn  func()
}

func (s *fakeScheduler) Now() time.Duration { return s.now }

func (s *fakeScheduler) After(delay time.Duration, fn func()) {
	s.seq++
	s.pending = append(s.pending, fakeCall{at: s.now + delay, seq: s.seq, fn: fn})
}

func (s *fakeScheduler) AdvanceTo(t time.Duration) {
	for {
		sort.Slice(s.pending, func(i, j int) bool {
			if s.pending[i].at != s.pending[j].at {
				return s.pending[i].at < s.pending[j].at
			}
			return s.pending[i].seq < s.pending[j].seq
		})
		if len(s.pending) == 0 || s.pending[0].at > t {
			break
		}
		call := s.pending[0]
		s.pending = s.pending[1:]
		s.now = call.at
		call.fn()
	}
	s.now = t
}

// testProfiles gives every link kind a usable profile.
func testProfiles() map[LinkKind]LinkProfile {
	profiles := make(map[LinkKind]LinkProfile)
	for _, k := range LinkKinds {
		profiles[k] = LinkProfile{Bandwidth: 1e6, LatencyMs: 1}
	}
	return profiles
}
