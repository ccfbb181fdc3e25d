package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/leaf-simulator/timectrl"
)

// Scheduler is the slice of the event kernel that core entities need:
// the simulation clock plus fire-and-forget deferred callbacks.
type Scheduler interface {
	timectrl.SimClock
	After(delay time.Duration, fn func())
}

// NodeID is an arena index handed out by InfrastructureGraph. IDs are never
// reused within one graph.
type NodeID int

// NodeRole classifies compute nodes for placement and power aggregation.
type NodeRole int

const (
	RoleCloud NodeRole = iota
	RoleFog
	RoleAccessPoint
	RoleMobile
)

func (r NodeRole) String() string {
	switch r {
	case RoleCloud:
		return "cloud"
	case RoleFog:
		return "fog"
	case RoleAccessPoint:
		return "access_point"
	case RoleMobile:
		return "mobile"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// NodeSpec describes a compute node before it is added to a graph.
type NodeSpec struct {
	Name string
	Role NodeRole
	MIPS float64

	// Motion yields the node's position. Nil means the node has no location
	// (cloud data centres).
	Motion MotionModel

	// Power is nil for nodes whose consumption is not modelled.
	Power HostPowerModel

	// ShutdownOnIdle enables the idle-shutdown protocol: the node starts
	// inactive, and IdleShutdown after its last reservation is released it
	// powers off unless new work arrived meanwhile.
	ShutdownOnIdle bool
	IdleShutdown   time.Duration
}

// ComputeNode is a host with a MIPS ledger. It is owned by an
// InfrastructureGraph; all mutation happens on the kernel goroutine.
type ComputeNode struct {
	id     NodeID
	name   string
	role   NodeRole
	motion MotionModel
	power  HostPowerModel
	cpu    Ledger

	shutdownOnIdle bool
	idleShutdown   time.Duration
	active         bool
	// epoch advances on every reservation so a pending shutdown check can
	// tell whether the node saw work after it was scheduled.
	epoch uint64

	sched Scheduler
}

// NewComputeNode builds a detached node from spec.
func NewComputeNode(spec NodeSpec) *ComputeNode {
	return &ComputeNode{
		id:             -1,
		name:           spec.Name,
		role:           spec.Role,
		motion:         spec.Motion,
		power:          spec.Power,
		cpu:            NewLedger(spec.Name, spec.MIPS),
		shutdownOnIdle: spec.ShutdownOnIdle,
		idleShutdown:   spec.IdleShutdown,
		active:         !spec.ShutdownOnIdle,
	}
}

func (n *ComputeNode) ID() NodeID        { return n.id }
func (n *ComputeNode) Name() string      { return n.name }
func (n *ComputeNode) Role() NodeRole    { return n.role }
func (n *ComputeNode) Active() bool      { return n.active }
func (n *ComputeNode) HasLocation() bool { return n.motion != nil }

func (n *ComputeNode) Capacity() float64    { return n.cpu.Capacity() }
func (n *ComputeNode) Used() float64        { return n.cpu.Used() }
func (n *ComputeNode) Utilization() float64 { return n.cpu.Utilization() }

// ShutdownDeadline returns the idle-shutdown deadline and whether the
// protocol is enabled for this node.
func (n *ComputeNode) ShutdownDeadline() (time.Duration, bool) {
	return n.idleShutdown, n.shutdownOnIdle
}

// Location returns the node's current position.
func (n *ComputeNode) Location() (Location, error) {
	if n.motion == nil {
		return Location{}, fmt.Errorf("%w: node %q", ErrNoLocation, n.name)
	}
	return n.motion.PositionAt(n.now()), nil
}

// Reserve books mips on the host. A successful reservation powers the host on.
func (n *ComputeNode) Reserve(mips float64) bool {
	if !n.cpu.Reserve(mips) {
		return false
	}
	n.epoch++
	n.active = true
	return true
}

// Release returns mips to the host and panics on underflow. When the host
// becomes fully idle and has an idle-shutdown deadline, a shutdown check is
// deferred by that deadline.
func (n *ComputeNode) Release(mips float64) {
	n.cpu.Release(mips)
	if n.cpu.Used() != 0 || !n.shutdownOnIdle || n.sched == nil {
		return
	}
	epoch := n.epoch
	n.sched.After(n.idleShutdown, func() { n.tryShutdown(epoch) })
}

func (n *ComputeNode) tryShutdown(epoch uint64) {
	if n.epoch != epoch || n.cpu.Used() != 0 {
		return
	}
	n.active = false
}

// Measure returns the host's current power draw. Inactive hosts draw nothing.
func (n *ComputeNode) Measure() Measurement {
	if !n.active || n.power == nil {
		return Measurement{}
	}
	return n.power.Measure(n)
}

func (n *ComputeNode) now() time.Duration {
	if n.sched == nil {
		return 0
	}
	return n.sched.Now()
}

func (n *ComputeNode) String() string {
	return fmt.Sprintf("%s#%d(%s)", n.name, n.id, n.role)
}
