package city

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

const (
	eventCreateTaxis = iota + 1
	eventDestroyTaxi
	eventUpdateTopology
	eventCountTaxis
)

// maxGateDraws bounds the search for a far enough destination gate.
const maxGateDraws = 1000

// MobilityManager is the kernel entity that spawns taxis every time step,
// retires them on arrival, keeps their wireless links up to date and
// records how many taxis are on the road.
type MobilityManager struct {
	city    *City
	demand  Demand
	updater *core.TopologyUpdater

	taxis   map[core.NodeID]*Taxi
	created int

	mu      sync.RWMutex
	history []int
}

func newMobilityManager(c *City) *MobilityManager {
	return &MobilityManager{
		city: c,
		demand: Demand{
			MaxPerMinute: c.cfg.Taxis.MaxPerMinute,
			CountProfile: c.cfg.Taxis.CountProfile,
			SpeedProfile: c.cfg.Taxis.SpeedProfile,
			TimeStep:     c.cfg.Simulation.TimeStep,
		},
		updater: core.NewTopologyUpdater(c.graph, c.cfg.City.WifiRange),
		taxis:   make(map[core.NodeID]*Taxi),
	}
}

func (m *MobilityManager) Name() string { return "mobility_manager" }

func (m *MobilityManager) Start(k *kernel.Kernel) error {
	sim := m.city.cfg.Simulation
	k.Schedule(m, sim.TimeStep, eventCreateTaxis, nil)
	k.Schedule(m, sim.WifiReallocationInterval, eventUpdateTopology, nil)
	k.Schedule(m, sim.PowerMeasurementInterval, eventCountTaxis, nil)
	return nil
}

func (m *MobilityManager) Handle(k *kernel.Kernel, ev kernel.Event) error {
	sim := m.city.cfg.Simulation
	switch ev.Kind {
	case eventCreateTaxis:
		if err := m.createTaxis(k); err != nil {
			return err
		}
		k.Schedule(m, sim.TimeStep, eventCreateTaxis, nil)
	case eventDestroyTaxi:
		t, ok := ev.Payload.(*Taxi)
		if !ok {
			return fmt.Errorf("mobility manager: destroy event without taxi")
		}
		if err := m.destroy(t); err != nil {
			return err
		}
	case eventUpdateTopology:
		diff, err := m.updater.Update()
		if err != nil {
			return fmt.Errorf("update wireless links: %w", err)
		}
		if r := m.city.recorder; r != nil {
			r.ObserveTopologyDiff(diff)
		}
		m.city.observeGraph()
		k.Schedule(m, sim.WifiReallocationInterval, eventUpdateTopology, nil)
	case eventCountTaxis:
		m.mu.Lock()
		m.history = append(m.history, len(m.taxis))
		m.mu.Unlock()
		k.Schedule(m, sim.PowerMeasurementInterval, eventCountTaxis, nil)
	default:
		return fmt.Errorf("mobility manager: unexpected event kind %d", ev.Kind)
	}
	return nil
}

// Finish retires every taxi still on the road.
func (m *MobilityManager) Finish(*kernel.Kernel) error {
	for _, t := range m.Taxis() {
		if err := m.destroy(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *MobilityManager) createTaxis(k *kernel.Kernel) error {
	now := k.Now()
	mean := m.demand.Mean(now)
	if mean <= 0 {
		return nil
	}
	n := int(distuv.Poisson{Lambda: mean, Src: m.city.rng}.Rand())
	speed := m.demand.Speed(now)
	for i := 0; i < n; i++ {
		route, err := m.pickRoute()
		if err != nil {
			return err
		}
		motion, err := NewTaxiMotion(route, speed, m.city.cfg.Simulation.TimeStep, now)
		if err != nil {
			return err
		}
		t, err := m.spawn(k, route, motion)
		if err != nil {
			return err
		}
		k.Schedule(m, motion.EndTime()-now, eventDestroyTaxi, t)
	}
	return nil
}

// pickRoute draws a start gate and a destination gate at least
// MinRouteFraction of the city width away.
func (m *MobilityManager) pickRoute() (Route, error) {
	gates := m.city.streets.Gates()
	minDistance := m.city.cfg.Taxis.MinRouteFraction * m.city.cfg.City.Width
	rng := m.city.rng
	start := gates[rng.IntN(len(gates))]
	for i := 0; i < maxGateDraws; i++ {
		dst := gates[rng.IntN(len(gates))]
		if start.DistanceTo(dst) < minDistance {
			continue
		}
		return m.city.streets.Route(start, dst)
	}
	return Route{}, fmt.Errorf("%w: no gate at least %.0f m from %s", core.ErrConfiguration, minDistance, start)
}

func (m *MobilityManager) spawn(k *kernel.Kernel, route Route, motion *TaxiMotion) (*Taxi, error) {
	c := m.city
	node := c.graph.AddNode(core.NodeSpec{
		Name:   fmt.Sprintf("taxi_%d", m.created),
		Role:   core.RoleMobile,
		MIPS:   c.cfg.Nodes.Taxi.MIPS,
		Motion: motion,
		Power:  core.SharedHostPower{WattPerMIPS: c.cfg.Nodes.Taxi.WattPerMIPS},
	})
	m.created++

	diff, err := m.updater.UpdateNode(node.ID())
	if err != nil {
		return nil, err
	}
	if c.recorder != nil {
		c.recorder.ObserveTopologyDiff(diff)
	}

	t := &Taxi{node: node, route: route, motion: motion}
	app, err := c.newSTM(t)
	if err != nil {
		return nil, err
	}
	t.app = app
	c.stm.Add(app)
	app.Launch(k, 0)

	m.taxis[node.ID()] = t
	m.observe()
	c.log.Debug(context.Background(), "taxi created",
		logging.String("taxi", node.Name()),
		logging.Duration("arrival", motion.EndTime()),
		logging.Float("route_m", route.Length),
	)
	return t, nil
}

// destroy stops the taxi's application, then removes the taxi from the graph.
func (m *MobilityManager) destroy(t *Taxi) error {
	if _, ok := m.taxis[t.node.ID()]; !ok {
		return nil
	}
	if t.app != nil {
		t.app.Stop()
	}
	if err := m.city.graph.RemoveNode(t.node.ID()); err != nil {
		return err
	}
	delete(m.taxis, t.node.ID())
	m.observe()
	return nil
}

func (m *MobilityManager) observe() {
	if r := m.city.recorder; r != nil {
		r.SetActiveTaxis(len(m.taxis))
	}
	m.city.observeGraph()
}

// Taxis returns the taxis on the road in creation order.
func (m *MobilityManager) Taxis() []*Taxi {
	out := make([]*Taxi, 0, len(m.taxis))
	for _, t := range m.taxis {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].node.ID() < out[j].node.ID() })
	return out
}

// ActiveTaxis returns the number of taxis on the road.
func (m *MobilityManager) ActiveTaxis() int { return len(m.taxis) }

// Created returns the number of taxis spawned so far.
func (m *MobilityManager) Created() int { return m.created }

// History returns the taxi count recorded at every measurement interval.
// It is safe to call from other goroutines.
func (m *MobilityManager) History() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.history...)
}

