package core

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrLinkNotFound  = errors.New("link not found")
	ErrNoPath        = errors.New("no path")
	ErrNoLocation    = errors.New("node has no location")
	ErrConfiguration = errors.New("invalid topology configuration")
	ErrBadInput      = errors.New("invalid input")
)

// InfrastructureGraph is a directed, latency-weighted multigraph of compute
// nodes and network links. Nodes and links live in arenas addressed by
// NodeID/LinkID; removed slots stay empty so IDs are never reused.
//
// It is not safe for concurrent use. The simulation mutates it only from the
// kernel goroutine.
type InfrastructureGraph struct {
	sched    Scheduler
	profiles map[LinkKind]LinkProfile

	nodes []*ComputeNode
	links []*NetworkLink
	out   [][]LinkID
	in    [][]LinkID

	nodeCount int
	linkCount int
}

// GraphOption configures an InfrastructureGraph.
type GraphOption func(*InfrastructureGraph)

// WithScheduler binds the graph, and every node added to it, to a kernel.
// Without one, idle-shutdown checks are never scheduled and mobile nodes
// are positioned at time zero.
func WithScheduler(s Scheduler) GraphOption {
	return func(g *InfrastructureGraph) { g.sched = s }
}

// WithLinkProfiles sets the per-kind defaults used by Connect.
func WithLinkProfiles(profiles map[LinkKind]LinkProfile) GraphOption {
	return func(g *InfrastructureGraph) {
		for k, p := range profiles {
			g.profiles[k] = p
		}
	}
}

// NewInfrastructureGraph returns an empty graph.
func NewInfrastructureGraph(opts ...GraphOption) *InfrastructureGraph {
	g := &InfrastructureGraph{profiles: make(map[LinkKind]LinkProfile)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

//
// ---------- Nodes ----------
//

// AddNode builds a node from spec and adds it to the graph.
func (g *InfrastructureGraph) AddNode(spec NodeSpec) *ComputeNode {
	n := NewComputeNode(spec)
	g.attachNode(n)
	return n
}

// AddComputeNode adds a node built with NewComputeNode.
func (g *InfrastructureGraph) AddComputeNode(n *ComputeNode) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrBadInput)
	}
	if n.id >= 0 {
		return fmt.Errorf("%w: node %q is already attached as %d", ErrBadInput, n.name, n.id)
	}
	g.attachNode(n)
	return nil
}

func (g *InfrastructureGraph) attachNode(n *ComputeNode) {
	n.id = NodeID(len(g.nodes))
	n.sched = g.sched
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.nodeCount++
}

// RemoveNode detaches a node and every link incident to it.
func (g *InfrastructureGraph) RemoveNode(id NodeID) error {
	if _, err := g.Node(id); err != nil {
		return err
	}
	for _, lid := range append(append([]LinkID(nil), g.out[id]...), g.in[id]...) {
		if g.links[lid] != nil {
			g.detachLink(lid)
		}
	}
	g.nodes[id] = nil
	g.out[id] = nil
	g.in[id] = nil
	g.nodeCount--
	return nil
}

// Node returns the live node with the given ID.
func (g *InfrastructureGraph) Node(id NodeID) (*ComputeNode, error) {
	if id < 0 || int(id) >= len(g.nodes) || g.nodes[id] == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return g.nodes[id], nil
}

// Nodes returns the live nodes with any of the given roles, or all live
// nodes when no role is given, in ID order.
func (g *InfrastructureGraph) Nodes(roles ...NodeRole) []*ComputeNode {
	out := make([]*ComputeNode, 0)
	for _, n := range g.nodes {
		if n != nil && hasRole(n.role, roles) {
			out = append(out, n)
		}
	}
	return out
}

func (g *InfrastructureGraph) NodeCount() int { return g.nodeCount }

// Cloud returns the single cloud node. Zero or several clouds is a
// configuration error.
func (g *InfrastructureGraph) Cloud() (*ComputeNode, error) {
	clouds := g.Nodes(RoleCloud)
	if len(clouds) != 1 {
		return nil, fmt.Errorf("%w: expected exactly 1 cloud node, found %d", ErrConfiguration, len(clouds))
	}
	return clouds[0], nil
}

func hasRole(r NodeRole, roles []NodeRole) bool {
	if len(roles) == 0 {
		return true
	}
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}

//
// ---------- Links ----------
//

// Profile returns the default profile for a link kind.
func (g *InfrastructureGraph) Profile(kind LinkKind) (LinkProfile, bool) {
	p, ok := g.profiles[kind]
	return p, ok
}

// AddLink inserts a link built with NewNetworkLink.
func (g *InfrastructureGraph) AddLink(l *NetworkLink) error {
	if l == nil {
		return fmt.Errorf("%w: nil link", ErrBadInput)
	}
	if l.id >= 0 {
		return fmt.Errorf("%w: link %s is already attached", ErrBadInput, l)
	}
	if l.src == l.dst {
		return fmt.Errorf("%w: self loop on node %d", ErrBadInput, l.src)
	}
	if l.latencyMs < 0 || math.IsNaN(l.latencyMs) {
		return fmt.Errorf("%w: negative latency %g", ErrBadInput, l.latencyMs)
	}
	if _, err := g.Node(l.src); err != nil {
		return fmt.Errorf("link source: %w", err)
	}
	if _, err := g.Node(l.dst); err != nil {
		return fmt.Errorf("link destination: %w", err)
	}

	l.id = LinkID(len(g.links))
	l.attached = true
	g.links = append(g.links, l)
	g.out[l.src] = append(g.out[l.src], l.id)
	g.in[l.dst] = append(g.in[l.dst], l.id)
	g.linkCount++
	return nil
}

// Connect adds a src->dst link of the given kind using the kind's profile.
func (g *InfrastructureGraph) Connect(kind LinkKind, src, dst NodeID) (*NetworkLink, error) {
	profile, ok := g.profiles[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no profile for link kind %s", ErrConfiguration, kind)
	}
	l := NewNetworkLink(kind, src, dst, profile)
	if err := g.AddLink(l); err != nil {
		return nil, err
	}
	return l, nil
}

// ConnectBoth adds a pair of opposite links of the same kind.
func (g *InfrastructureGraph) ConnectBoth(kind LinkKind, a, b NodeID) error {
	if _, err := g.Connect(kind, a, b); err != nil {
		return err
	}
	if _, err := g.Connect(kind, b, a); err != nil {
		return err
	}
	return nil
}

// RemoveLink detaches one link.
func (g *InfrastructureGraph) RemoveLink(id LinkID) error {
	if _, err := g.Link(id); err != nil {
		return err
	}
	g.detachLink(id)
	return nil
}

// RemoveLinks detaches every src->dst link and returns how many it removed.
func (g *InfrastructureGraph) RemoveLinks(src, dst NodeID) int {
	if _, err := g.Node(src); err != nil {
		return 0
	}
	var victims []LinkID
	for _, lid := range g.out[src] {
		if g.links[lid].dst == dst {
			victims = append(victims, lid)
		}
	}
	for _, lid := range victims {
		g.detachLink(lid)
	}
	return len(victims)
}

func (g *InfrastructureGraph) detachLink(id LinkID) {
	l := g.links[id]
	g.out[l.src] = dropLinkID(g.out[l.src], id)
	g.in[l.dst] = dropLinkID(g.in[l.dst], id)
	l.attached = false
	g.links[id] = nil
	g.linkCount--
}

func dropLinkID(ids []LinkID, id LinkID) []LinkID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Link returns the live link with the given ID.
func (g *InfrastructureGraph) Link(id LinkID) (*NetworkLink, error) {
	if id < 0 || int(id) >= len(g.links) || g.links[id] == nil {
		return nil, fmt.Errorf("%w: %d", ErrLinkNotFound, id)
	}
	return g.links[id], nil
}

// Links returns the live links of any of the given kinds, or all live links
// when no kind is given, in ID order.
func (g *InfrastructureGraph) Links(kinds ...LinkKind) []*NetworkLink {
	out := make([]*NetworkLink, 0)
	for _, l := range g.links {
		if l != nil && hasKind(l.kind, kinds) {
			out = append(out, l)
		}
	}
	return out
}

// LinksFrom returns the links leaving node id.
func (g *InfrastructureGraph) LinksFrom(id NodeID) []*NetworkLink {
	if _, err := g.Node(id); err != nil {
		return nil
	}
	return g.resolve(g.out[id])
}

// LinksTo returns the links entering node id.
func (g *InfrastructureGraph) LinksTo(id NodeID) []*NetworkLink {
	if _, err := g.Node(id); err != nil {
		return nil
	}
	return g.resolve(g.in[id])
}

func (g *InfrastructureGraph) resolve(ids []LinkID) []*NetworkLink {
	out := make([]*NetworkLink, 0, len(ids))
	for _, lid := range ids {
		out = append(out, g.links[lid])
	}
	return out
}

func (g *InfrastructureGraph) LinkCount() int { return g.linkCount }

func hasKind(k LinkKind, kinds []LinkKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// MeasureLink returns a link's current draw. Distance-sensitive classes use
// the current endpoint positions; a detached link or one whose endpoints
// cannot be located measures zero distance.
func (g *InfrastructureGraph) MeasureLink(l *NetworkLink) Measurement {
	if l == nil || l.Used() == 0 {
		return Measurement{}
	}
	distance := 0.0
	if l.power.DistanceSensitive() && l.attached {
		if d, err := g.distance(l.src, l.dst); err == nil {
			distance = d
		}
	}
	return l.power.Measure(l.Used(), distance)
}

func (g *InfrastructureGraph) distance(a, b NodeID) (float64, error) {
	na, err := g.Node(a)
	if err != nil {
		return 0, err
	}
	nb, err := g.Node(b)
	if err != nil {
		return 0, err
	}
	la, err := na.Location()
	if err != nil {
		return 0, err
	}
	lb, err := nb.Location()
	if err != nil {
		return 0, err
	}
	return la.DistanceTo(lb), nil
}

//
// ---------- Routing ----------
//

// Path is a route through the graph. Links[i] connects Nodes[i] to Nodes[i+1].
type Path struct {
	Nodes     []NodeID
	Links     []*NetworkLink
	LatencyMs float64
}

// ShortestPath runs Dijkstra on link latency between two nodes. It is
// recomputed on every call because mobility changes links between calls.
func (g *InfrastructureGraph) ShortestPath(src, dst NodeID) (Path, error) {
	if _, err := g.Node(src); err != nil {
		return Path{}, fmt.Errorf("route source: %w", err)
	}
	if _, err := g.Node(dst); err != nil {
		return Path{}, fmt.Errorf("route destination: %w", err)
	}
	if src == dst {
		return Path{Nodes: []NodeID{src}}, nil
	}

	dist := make([]float64, len(g.nodes))
	via := make([]*NetworkLink, len(g.nodes))
	done := make([]bool, len(g.nodes))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[src] = 0

	pq := &routeQueue{{node: src}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(routeItem)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		if cur.node == dst {
			break
		}
		for _, lid := range g.out[cur.node] {
			l := g.links[lid]
			if done[l.dst] {
				continue
			}
			if d := cur.dist + l.latencyMs; d < dist[l.dst] {
				dist[l.dst] = d
				via[l.dst] = l
				heap.Push(pq, routeItem{node: l.dst, dist: d})
			}
		}
	}

	if via[dst] == nil {
		return Path{}, fmt.Errorf("%w: %d -> %d", ErrNoPath, src, dst)
	}

	var links []*NetworkLink
	for at := dst; at != src; at = via[at].src {
		links = append(links, via[at])
	}
	p := Path{Nodes: make([]NodeID, 0, len(links)+1), Links: make([]*NetworkLink, 0, len(links)), LatencyMs: dist[dst]}
	p.Nodes = append(p.Nodes, src)
	for i := len(links) - 1; i >= 0; i-- {
		p.Links = append(p.Links, links[i])
		p.Nodes = append(p.Nodes, links[i].dst)
	}
	return p, nil
}

type routeItem struct {
	node NodeID
	dist float64
}

// routeQueue is a min-heap on distance, ties broken by node ID so routes are
// reproducible.
type routeQueue []routeItem

func (q routeQueue) Len() int { return len(q) }
func (q routeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node < q[j].node
}
func (q routeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *routeQueue) Push(x any)   { *q = append(*q, x.(routeItem)) }
func (q *routeQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}
