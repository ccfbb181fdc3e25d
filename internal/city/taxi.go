package city

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/application"
)

// TaxiMotion moves a taxi along a route at constant speed. Positions are
// precomputed once per time step; between steps the taxi is reported at the
// last computed position. After arrival it stays at the route's end.
type TaxiMotion struct {
	start     time.Duration
	step      time.Duration
	duration  time.Duration
	positions []core.Location
	final     core.Location
}

// NewTaxiMotion plans a trip along route that departs at start.
func NewTaxiMotion(route Route, speed float64, step, start time.Duration) (*TaxiMotion, error) {
	if len(route.Points) == 0 {
		return nil, fmt.Errorf("%w: empty route", core.ErrBadInput)
	}
	if speed <= 0 || step <= 0 {
		return nil, fmt.Errorf("%w: speed %v and step %s must be positive", core.ErrBadInput, speed, step)
	}
	m := &TaxiMotion{
		start:    start,
		step:     step,
		duration: time.Duration(route.Length / speed * float64(time.Second)),
		final:    route.Points[len(route.Points)-1],
	}
	perStep := speed * step.Seconds()
	for k := 0; ; k++ {
		d := float64(k) * perStep
		if d > route.Length {
			break
		}
		m.positions = append(m.positions, pointAlong(route.Points, d))
	}
	return m, nil
}

// pointAlong returns the point d metres along the polyline.
func pointAlong(points []core.Location, d float64) core.Location {
	for i := 1; i < len(points); i++ {
		seg := points[i-1].DistanceTo(points[i])
		if d <= seg {
			if seg == 0 {
				return points[i]
			}
			return points[i-1].Lerp(points[i], d/seg)
		}
		d -= seg
	}
	return points[len(points)-1]
}

// PositionAt implements core.MotionModel.
func (m *TaxiMotion) PositionAt(simTime time.Duration) core.Location {
	if simTime <= m.start {
		return m.positions[0]
	}
	if simTime >= m.EndTime() {
		return m.final
	}
	k := int((simTime - m.start) / m.step)
	if k >= len(m.positions) {
		return m.final
	}
	return m.positions[k]
}

func (m *TaxiMotion) Start() time.Duration    { return m.start }
func (m *TaxiMotion) Duration() time.Duration { return m.duration }

// EndTime is the exact arrival time at the route's end.
func (m *TaxiMotion) EndTime() time.Duration { return m.start + m.duration }

// Taxi is a mobile node driving through the city and running an STM
// application.
type Taxi struct {
	node   *core.ComputeNode
	route  Route
	motion *TaxiMotion
	app    *application.Application
}

func (t *Taxi) Node() *core.ComputeNode               { return t.node }
func (t *Taxi) Route() Route                          { return t.route }
func (t *Taxi) Motion() *TaxiMotion                   { return t.motion }
func (t *Taxi) Application() *application.Application { return t.app }

// Demand is the taxi arrival and speed profile over the simulated day. Each
// profile entry covers one simulated minute and the profiles cycle.
type Demand struct {
	MaxPerMinute float64
	CountProfile []float64
	SpeedProfile []float64
	TimeStep     time.Duration
}

func profileIndex(now time.Duration, n int) int {
	return int(now/time.Minute) % n
}

// Mean is the expected number of taxis entering the city in the time step
// starting at now.
func (d Demand) Mean(now time.Duration) float64 {
	if len(d.CountProfile) == 0 || d.TimeStep <= 0 {
		return 0
	}
	stepsPerMinute := float64(time.Minute) / float64(d.TimeStep)
	return d.CountProfile[profileIndex(now, len(d.CountProfile))] * d.MaxPerMinute / stepsPerMinute
}

// Speed is the taxi speed in m/s at now.
func (d Demand) Speed(now time.Duration) float64 {
	if len(d.SpeedProfile) == 0 {
		return 0
	}
	return d.SpeedProfile[profileIndex(now, len(d.SpeedProfile))]
}
