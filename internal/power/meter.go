package power

import (
	"sync"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/application"
)

// Reference meter names, in export order.
const (
	MeterCloud   = "cloud"
	MeterFog     = "fog"
	MeterWifi    = "wifi"
	MeterWanUp   = "wanUp"
	MeterWanDown = "wanDown"
	MeterCCTV    = "cctv"
	MeterSTM     = "stm"
)

// Source produces an instantaneous power measurement.
type Source interface {
	Measure() core.Measurement
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() core.Measurement

func (f SourceFunc) Measure() core.Measurement { return f() }

// Sample is one reading of a meter.
type Sample struct {
	Time time.Duration
	core.Measurement
}

// Meter records the samples of one named source. Samples are appended on
// the simulation goroutine and may be read from others.
type Meter struct {
	name   string
	source Source

	mu      sync.RWMutex
	samples []Sample
}

// NewMeter returns an empty meter reading from source.
func NewMeter(name string, source Source) *Meter {
	return &Meter{name: name, source: source}
}

func (m *Meter) Name() string { return m.name }

// Sample measures the source, records the result at now and returns it.
func (m *Meter) Sample(now time.Duration) Sample {
	s := Sample{Time: now, Measurement: m.source.Measure()}
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	return s
}

// Samples returns a copy of the recorded samples.
func (m *Meter) Samples() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sample(nil), m.samples...)
}

// Last returns the most recent sample.
func (m *Meter) Last() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 {
		return Sample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// Len returns the number of recorded samples.
func (m *Meter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Nodes sums the draw of every node with one of the given roles, read from
// the graph at measurement time.
func Nodes(g *core.InfrastructureGraph, roles ...core.NodeRole) Source {
	return SourceFunc(func() core.Measurement {
		var total core.Measurement
		for _, n := range g.Nodes(roles...) {
			total = total.Add(n.Measure())
		}
		return total
	})
}

// Links sums the draw of every link of the given kinds.
func Links(g *core.InfrastructureGraph, kinds ...core.LinkKind) Source {
	return SourceFunc(func() core.Measurement {
		var total core.Measurement
		for _, l := range g.Links(kinds...) {
			total = total.Add(g.MeasureLink(l))
		}
		return total
	})
}

// AppGroup sums the attributed power of a family of applications, e.g. all
// CCTV pipelines. Stopped applications are dropped on the next measurement.
type AppGroup struct {
	apps []*application.Application
}

// Add registers an application with the group.
func (g *AppGroup) Add(app *application.Application) { g.apps = append(g.apps, app) }

// Len returns the number of tracked applications.
func (g *AppGroup) Len() int { return len(g.apps) }

// Running returns the number of tracked applications currently running.
func (g *AppGroup) Running() int {
	n := 0
	for _, a := range g.apps {
		if a.Running() {
			n++
		}
	}
	return n
}

func (g *AppGroup) Measure() core.Measurement {
	var total core.Measurement
	live := g.apps[:0]
	for _, a := range g.apps {
		if a.State() == application.Stopped {
			continue
		}
		live = append(live, a)
		total = total.Add(a.Power())
	}
	for i := len(live); i < len(g.apps); i++ {
		g.apps[i] = nil
	}
	g.apps = live
	return total
}
