package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

var (
	// ErrPlacement is returned when tasks cannot all be bound to a node.
	ErrPlacement = errors.New("placement failed")
	// ErrResourceExhausted is returned when a ledger refuses a reservation.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInvalidGraph is returned by Builder.Build for malformed task graphs.
	ErrInvalidGraph = errors.New("invalid task graph")
	// ErrInvalidState is returned for lifecycle calls out of order.
	ErrInvalidState = errors.New("invalid application state")
)

// State is the application lifecycle state.
type State int

const (
	Created State = iota
	Placed
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Placed:
		return "placed"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Network is the view of the infrastructure an application needs: routes
// between hosts and link power readings.
type Network interface {
	ShortestPath(src, dst core.NodeID) (core.Path, error)
	MeasureLink(l *core.NetworkLink) core.Measurement
}

// Placer binds every unbound task of an application to a node.
type Placer interface {
	Place(app *Application) error
}

// ReservationRecorder observes ledger admission decisions.
type ReservationRecorder interface {
	ObserveReservation(resource string, ok bool)
}

// Option configures an Application.
type Option func(*Application)

// WithReallocation re-routes the application's flows every interval while
// it runs. Zero disables reallocation.
func WithReallocation(interval time.Duration) Option {
	return func(a *Application) { a.realloc = interval }
}

// WithLogger sets the application logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Application) { a.log = logging.OrNoop(l) }
}

// WithRecorder attaches a reservation recorder.
func WithRecorder(r ReservationRecorder) Option {
	return func(a *Application) { a.recorder = r }
}

type linkHold struct {
	link   *core.NetworkLink
	amount float64
}

type cpuHold struct {
	node   *core.ComputeNode
	amount float64
}

// Application is a placed task graph and the reservations it holds. The
// hold maps always equal what the application has reserved on the ledgers:
// every successful reserve is recorded, and release returns exactly the
// recorded amount.
type Application struct {
	name    string
	tasks   []*Task
	flows   []DataFlow
	state   State
	network Network
	placer  Placer
	realloc time.Duration

	links map[core.LinkID]*linkHold
	cpu   map[core.NodeID]*cpuHold

	log      logging.Logger
	recorder ReservationRecorder
}

func newApplication(name string, tasks []*Task, flows []DataFlow, network Network, placer Placer, opts ...Option) *Application {
	a := &Application{
		name:    name,
		tasks:   tasks,
		flows:   flows,
		network: network,
		placer:  placer,
		links:   make(map[core.LinkID]*linkHold),
		cpu:     make(map[core.NodeID]*cpuHold),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logging.String("application", name))
	return a
}

func (a *Application) Name() string      { return a.name }
func (a *Application) State() State      { return a.state }
func (a *Application) Running() bool     { return a.state == Running }
func (a *Application) Tasks() []*Task    { return a.tasks }
func (a *Application) Flows() []DataFlow { return a.flows }

// ReallocationInterval returns the re-routing period, zero when disabled.
func (a *Application) ReallocationInterval() time.Duration { return a.realloc }

// Task returns the task with the given ID.
func (a *Application) Task(id TaskID) *Task {
	if id < 0 || int(id) >= len(a.tasks) {
		return nil
	}
	return a.tasks[id]
}

// ReservedNetwork returns a copy of the bandwidth held per link.
func (a *Application) ReservedNetwork() map[core.LinkID]float64 {
	out := make(map[core.LinkID]float64, len(a.links))
	for id, h := range a.links {
		out[id] = h.amount
	}
	return out
}

// ReservedCPU returns a copy of the MIPS held per node.
func (a *Application) ReservedCPU() map[core.NodeID]float64 {
	out := make(map[core.NodeID]float64, len(a.cpu))
	for id, h := range a.cpu {
		out[id] = h.amount
	}
	return out
}

// Place binds unbound tasks through the placer: Created to Placed.
func (a *Application) Place() error {
	if a.state != Created {
		return fmt.Errorf("%w: place %s in state %s", ErrInvalidState, a.name, a.state)
	}
	if a.placer != nil {
		if err := a.placer.Place(a); err != nil {
			return fmt.Errorf("place %s: %w", a.name, err)
		}
	}
	for _, t := range a.tasks {
		if !t.Placed() {
			return fmt.Errorf("%w: %s: task %s has no host", ErrPlacement, a.name, t)
		}
	}
	a.state = Placed
	return nil
}

// Start places the application if needed and reserves bandwidth for every
// flow and MIPS for every task. Reservations within one call are all or
// nothing: on failure every reservation made by the call is released and
// the application stays Placed.
func (a *Application) Start() error {
	if a.state == Created {
		if err := a.Place(); err != nil {
			return err
		}
	}
	if a.state != Placed {
		return fmt.Errorf("%w: start %s in state %s", ErrInvalidState, a.name, a.state)
	}

	links, err := a.reserveNetwork()
	if err != nil {
		return fmt.Errorf("start %s: %w", a.name, err)
	}
	cpu, err := a.reserveCPU()
	if err != nil {
		releaseLinks(links)
		return fmt.Errorf("start %s: %w", a.name, err)
	}

	a.links, a.cpu = links, cpu
	a.state = Running
	a.log.Debug(context.Background(), "application running",
		logging.Int("links", len(links)),
		logging.Int("hosts", len(cpu)),
	)
	return nil
}

// Reallocate releases the held bandwidth and reserves it again along the
// current shortest paths. CPU reservations are untouched. If the new
// reservation fails the application is left with no network holds.
func (a *Application) Reallocate() error {
	if a.state != Running {
		return fmt.Errorf("%w: reallocate %s in state %s", ErrInvalidState, a.name, a.state)
	}
	releaseLinks(a.links)
	a.links = make(map[core.LinkID]*linkHold)

	links, err := a.reserveNetwork()
	if err != nil {
		return fmt.Errorf("reallocate %s: %w", a.name, err)
	}
	a.links = links
	return nil
}

// Stop releases all reservations. Stopping is terminal and idempotent.
func (a *Application) Stop() {
	if a.state == Stopped {
		return
	}
	releaseLinks(a.links)
	releaseCPU(a.cpu)
	a.links = make(map[core.LinkID]*linkHold)
	a.cpu = make(map[core.NodeID]*cpuHold)
	a.state = Stopped
	a.log.Debug(context.Background(), "application stopped")
}

func (a *Application) reserveNetwork() (map[core.LinkID]*linkHold, error) {
	holds := make(map[core.LinkID]*linkHold)
	for _, f := range a.flows {
		if f.BitRate == 0 {
			continue
		}
		src, dst := a.tasks[f.From].node, a.tasks[f.To].node
		path, err := a.network.ShortestPath(src.ID(), dst.ID())
		if err != nil {
			releaseLinks(holds)
			return nil, fmt.Errorf("route %s -> %s: %w", a.tasks[f.From], a.tasks[f.To], err)
		}
		for _, l := range path.Links {
			ok := l.Reserve(f.BitRate)
			a.observe("network", ok)
			if !ok {
				releaseLinks(holds)
				return nil, fmt.Errorf("%w: %.0f bit/s on %s (free %.0f)", ErrResourceExhausted, f.BitRate, l, l.Bandwidth()-l.Used())
			}
			if h, ok := holds[l.ID()]; ok {
				h.amount += f.BitRate
			} else {
				holds[l.ID()] = &linkHold{link: l, amount: f.BitRate}
			}
		}
	}
	return holds, nil
}

func (a *Application) reserveCPU() (map[core.NodeID]*cpuHold, error) {
	holds := make(map[core.NodeID]*cpuHold)
	for _, t := range a.tasks {
		if t.mips == 0 {
			continue
		}
		ok := t.node.Reserve(t.mips)
		a.observe("cpu", ok)
		if !ok {
			releaseCPU(holds)
			return nil, fmt.Errorf("%w: %.0f MIPS on %s (used %.0f of %.0f)", ErrResourceExhausted, t.mips, t.node, t.node.Used(), t.node.Capacity())
		}
		if h, ok := holds[t.node.ID()]; ok {
			h.amount += t.mips
		} else {
			holds[t.node.ID()] = &cpuHold{node: t.node, amount: t.mips}
		}
	}
	return holds, nil
}

func (a *Application) observe(resource string, ok bool) {
	if a.recorder != nil {
		a.recorder.ObserveReservation(resource, ok)
	}
}

// Releases run in ID order so float bookkeeping is reproducible.

func releaseLinks(holds map[core.LinkID]*linkHold) {
	ids := make([]core.LinkID, 0, len(holds))
	for id := range holds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h := holds[id]
		h.link.Release(h.amount)
	}
}

func releaseCPU(holds map[core.NodeID]*cpuHold) {
	ids := make([]core.NodeID, 0, len(holds))
	for id := range holds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h := holds[id]
		h.node.Release(h.amount)
	}
}

func (a *Application) String() string {
	return fmt.Sprintf("%s(%s)", a.name, a.state)
}
