package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/application"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

// Mode selects how processing tasks are spread over fog nodes.
type Mode int

const (
	// Spread picks the least utilised fog node.
	Spread Mode = iota
	// Consolidate picks the most utilised fog node below the threshold so
	// idle nodes can shut down.
	Consolidate
)

func (m Mode) String() string {
	if m == Consolidate {
		return "consolidate"
	}
	return "spread"
}

// DefaultThreshold is the fog utilisation above which tasks go to the cloud.
const DefaultThreshold = 0.8

// Topology is the read-only view of the infrastructure the orchestrator uses.
type Topology interface {
	Nodes(roles ...core.NodeRole) []*core.ComputeNode
	Cloud() (*core.ComputeNode, error)
}

// PlacementRecorder observes where tasks were placed.
type PlacementRecorder interface {
	ObservePlacement(target core.NodeRole)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThreshold sets the utilisation threshold T.
func WithThreshold(t float64) Option {
	return func(o *Orchestrator) { o.threshold = t }
}

// WithMode sets spread or consolidate mode.
func WithMode(m Mode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNoop(l) }
}

// WithRecorder attaches a placement recorder.
func WithRecorder(r PlacementRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator is the fog-preferred placement policy. Bound tasks are left
// alone, cloud-only tasks go to the single cloud node, and every other task
// goes to the best fog node under the threshold comparator, falling back to
// the cloud when there is no fog node or the best one is at or above T.
type Orchestrator struct {
	topo      Topology
	threshold float64
	mode      Mode
	log       logging.Logger
	recorder  PlacementRecorder
}

// New returns an orchestrator over topo.
func New(topo Topology, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		topo:      topo,
		threshold: DefaultThreshold,
		mode:      Spread,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Threshold() float64 { return o.threshold }
func (o *Orchestrator) Mode() Mode         { return o.mode }

// Place implements application.Placer.
func (o *Orchestrator) Place(app *application.Application) error {
	for _, t := range app.Tasks() {
		if t.Bound() {
			continue
		}
		var (
			node *core.ComputeNode
			err  error
		)
		if t.CloudOnly() {
			node, err = o.cloud()
		} else {
			node, err = o.Select()
		}
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Name(), err)
		}
		if err := t.Assign(node); err != nil {
			return err
		}
		if o.recorder != nil {
			o.recorder.ObservePlacement(node.Role())
		}
	}
	return nil
}

// Select returns the node a processing task should run on right now.
func (o *Orchestrator) Select() (*core.ComputeNode, error) {
	fogs := o.topo.Nodes(core.RoleFog)
	if len(fogs) == 0 {
		o.log.Debug(context.Background(), "no fog nodes available, placing in the cloud")
		return o.cloud()
	}
	best := Rank(fogs, o.mode, o.threshold)[0]
	if best.Utilization() >= o.threshold {
		o.log.Warn(context.Background(), "all fog nodes at or above threshold, placing in the cloud",
			logging.Float("threshold", o.threshold),
			logging.Float("best_utilization", best.Utilization()),
		)
		return o.cloud()
	}
	return best, nil
}

func (o *Orchestrator) cloud() (*core.ComputeNode, error) {
	c, err := o.topo.Cloud()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", application.ErrPlacement, err)
	}
	return c, nil
}

// Rank returns a copy of nodes ordered best first. Nodes below threshold
// always outrank nodes at or above it; on either side, Spread prefers lower
// utilisation and Consolidate prefers higher. Equal utilisations are ordered
// by node ID, so the order is total.
func Rank(nodes []*core.ComputeNode, mode Mode, threshold float64) []*core.ComputeNode {
	out := append([]*core.ComputeNode(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		return Better(out[i].Utilization(), out[j].Utilization(), mode, threshold, out[i].ID(), out[j].ID())
	})
	return out
}

// Better reports whether a node with utilisation ua (and ID ida) ranks
// strictly before one with utilisation ub (and ID idb).
func Better(ua, ub float64, mode Mode, threshold float64, ida, idb core.NodeID) bool {
	belowA, belowB := ua < threshold, ub < threshold
	if belowA != belowB {
		return belowA
	}
	if ua != ub {
		if mode == Consolidate {
			return ua > ub
		}
		return ua < ub
	}
	return ida < idb
}
