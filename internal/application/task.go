package application

import (
	"fmt"

	"github.com/signalsfoundry/leaf-simulator/core"
)

// TaskID indexes a task within its application.
type TaskID int

// Task is one stage of an application. A task is either bound to a fixed
// node when it is built (sources and sinks), pinned to the cloud, or left
// unbound for the placer to assign.
type Task struct {
	id    TaskID
	name  string
	mips  float64
	bound bool
	cloud bool
	node  *core.ComputeNode
}

func (t *Task) ID() TaskID      { return t.id }
func (t *Task) Name() string    { return t.name }
func (t *Task) MIPS() float64   { return t.mips }
func (t *Task) Bound() bool     { return t.bound }
func (t *Task) CloudOnly() bool { return t.cloud }

// Node returns the task's host, or nil while it is unplaced.
func (t *Task) Node() *core.ComputeNode { return t.node }

// Placed reports whether the task has a host.
func (t *Task) Placed() bool { return t.node != nil }

// Assign places an unbound task on n.
func (t *Task) Assign(n *core.ComputeNode) error {
	if t.bound {
		return fmt.Errorf("%w: task %q is bound to %s", ErrPlacement, t.name, t.node)
	}
	if n == nil {
		return fmt.Errorf("%w: task %q assigned to nil node", ErrPlacement, t.name)
	}
	t.node = n
	return nil
}

func (t *Task) String() string {
	if t.node == nil {
		return fmt.Sprintf("%s(unplaced)", t.name)
	}
	return fmt.Sprintf("%s@%s", t.name, t.node.Name())
}

// DataFlow is a directed, rate-labelled edge between two tasks.
type DataFlow struct {
	From    TaskID
	To      TaskID
	BitRate float64
}

// Builder assembles an application's task graph.
//
//	b := application.NewBuilder("cctv_3")
//	src := b.BoundTask("camera", 50, tls)
//	proc := b.Task("analysis", 20000)
//	sink := b.CloudTask("storage", 100)
//	b.Flow(src, proc, 5e6)
//	b.Flow(proc, sink, 1e5)
//	app, err := b.Build(graph, placer)
type Builder struct {
	name  string
	tasks []*Task
	flows []DataFlow
	err   error
}

// NewBuilder starts a task graph for an application called name.
func NewBuilder(name string) *Builder { return &Builder{name: name} }

// Task adds an unbound task.
func (b *Builder) Task(name string, mips float64) TaskID {
	return b.add(&Task{name: name, mips: mips})
}

// BoundTask adds a task fixed to node.
func (b *Builder) BoundTask(name string, mips float64, node *core.ComputeNode) TaskID {
	if node == nil && b.err == nil {
		b.err = fmt.Errorf("%w: task %q bound to nil node", ErrInvalidGraph, name)
	}
	return b.add(&Task{name: name, mips: mips, bound: node != nil, node: node})
}

// CloudTask adds a task the placer must put on the cloud node.
func (b *Builder) CloudTask(name string, mips float64) TaskID {
	return b.add(&Task{name: name, mips: mips, cloud: true})
}

func (b *Builder) add(t *Task) TaskID {
	if t.mips < 0 && b.err == nil {
		b.err = fmt.Errorf("%w: task %q requests negative mips", ErrInvalidGraph, t.name)
	}
	t.id = TaskID(len(b.tasks))
	b.tasks = append(b.tasks, t)
	return t.id
}

// Flow connects two tasks.
func (b *Builder) Flow(from, to TaskID, bitRate float64) *Builder {
	if b.err == nil {
		switch {
		case !b.valid(from) || !b.valid(to):
			b.err = fmt.Errorf("%w: flow %d -> %d references an unknown task", ErrInvalidGraph, from, to)
		case from == to:
			b.err = fmt.Errorf("%w: flow %d -> %d is a self loop", ErrInvalidGraph, from, to)
		case bitRate < 0:
			b.err = fmt.Errorf("%w: flow %d -> %d has negative bit rate", ErrInvalidGraph, from, to)
		}
	}
	b.flows = append(b.flows, DataFlow{From: from, To: to, BitRate: bitRate})
	return b
}

func (b *Builder) valid(id TaskID) bool { return id >= 0 && int(id) < len(b.tasks) }

// Build validates the graph and returns an application in the Created
// state. The graph must be acyclic, connected through flows, with exactly
// one source and at least one sink.
func (b *Builder) Build(network Network, placer Placer, opts ...Option) (*Application, error) {
	if b.err != nil {
		return nil, b.err
	}
	if network == nil {
		return nil, fmt.Errorf("%w: application %q has no network", ErrInvalidGraph, b.name)
	}
	if err := validateGraph(b.tasks, b.flows); err != nil {
		return nil, fmt.Errorf("application %q: %w", b.name, err)
	}
	return newApplication(b.name, b.tasks, b.flows, network, placer, opts...), nil
}

func validateGraph(tasks []*Task, flows []DataFlow) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidGraph)
	}
	indeg := make([]int, len(tasks))
	outdeg := make([]int, len(tasks))
	next := make([][]TaskID, len(tasks))
	for _, f := range flows {
		indeg[f.To]++
		outdeg[f.From]++
		next[f.From] = append(next[f.From], f.To)
	}

	var sources []TaskID
	sinks := 0
	for i := range tasks {
		if indeg[i] == 0 {
			sources = append(sources, TaskID(i))
		}
		if outdeg[i] == 0 {
			sinks++
		}
	}
	if len(sources) != 1 {
		return fmt.Errorf("%w: want exactly one source task, have %d", ErrInvalidGraph, len(sources))
	}
	if sinks == 0 {
		return fmt.Errorf("%w: no sink task", ErrInvalidGraph)
	}

	// Kahn's algorithm; a leftover task means a cycle.
	remaining := append([]int(nil), indeg...)
	queue := []TaskID{sources[0]}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, n := range next[cur] {
			remaining[n]--
			if remaining[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if visited != len(tasks) {
		return fmt.Errorf("%w: task graph contains a cycle", ErrInvalidGraph)
	}
	return nil
}
