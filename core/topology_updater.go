package core

import (
	"fmt"
	"sort"
)

// TopologyDiff summarises one mobility update.
type TopologyDiff struct {
	Added   []*NetworkLink
	Removed []*NetworkLink
}

// Empty reports whether the update changed nothing.
func (d TopologyDiff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

func (d *TopologyDiff) merge(other TopologyDiff) {
	d.Added = append(d.Added, other.Added...)
	d.Removed = append(d.Removed, other.Removed...)
}

// TopologyUpdater maintains the wireless links between mobile nodes and
// access points. Each update patches the difference between the access
// points in range and the access points currently linked; links present in
// both sets are left alone so their reservations are undisturbed.
type TopologyUpdater struct {
	Graph *InfrastructureGraph

	// Range is the maximum mobile-to-access-point distance, in metres.
	Range float64

	// Kind is the link class created for new mobile links.
	Kind LinkKind
}

// NewTopologyUpdater returns an updater creating WifiTaxiToAp links.
func NewTopologyUpdater(g *InfrastructureGraph, wifiRange float64) *TopologyUpdater {
	return &TopologyUpdater{Graph: g, Range: wifiRange, Kind: LinkWifiTaxiToAp}
}

// Update patches the wireless links of every mobile node.
func (u *TopologyUpdater) Update() (TopologyDiff, error) {
	var diff TopologyDiff
	aps := u.Graph.Nodes(RoleAccessPoint)
	for _, m := range u.Graph.Nodes(RoleMobile) {
		d, err := u.updateNode(m, aps)
		if err != nil {
			return diff, err
		}
		diff.merge(d)
	}
	return diff, nil
}

// UpdateNode patches the wireless links of a single mobile node, e.g. right
// after it joined the graph.
func (u *TopologyUpdater) UpdateNode(id NodeID) (TopologyDiff, error) {
	n, err := u.Graph.Node(id)
	if err != nil {
		return TopologyDiff{}, err
	}
	return u.updateNode(n, u.Graph.Nodes(RoleAccessPoint))
}

func (u *TopologyUpdater) updateNode(m *ComputeNode, aps []*ComputeNode) (TopologyDiff, error) {
	var diff TopologyDiff
	pos, err := m.Location()
	if err != nil {
		return diff, err
	}

	want := make(map[NodeID]bool)
	for _, ap := range aps {
		apPos, err := ap.Location()
		if err != nil {
			return diff, err
		}
		if WithinRange(pos, apPos, u.Range) {
			want[ap.ID()] = true
		}
	}

	have := u.linkedAccessPoints(m.ID())

	for _, ap := range sortedIDs(have) {
		if want[ap] {
			continue
		}
		for _, l := range have[ap] {
			diff.Removed = append(diff.Removed, l)
			if err := u.Graph.RemoveLink(l.ID()); err != nil {
				return diff, err
			}
		}
	}
	for _, ap := range sortedIDs(want) {
		if _, ok := have[ap]; ok {
			continue
		}
		up, err := u.Graph.Connect(u.Kind, m.ID(), ap)
		if err != nil {
			return diff, fmt.Errorf("link %s to access point %d: %w", m, ap, err)
		}
		down, err := u.Graph.Connect(u.Kind, ap, m.ID())
		if err != nil {
			return diff, fmt.Errorf("link access point %d to %s: %w", ap, m, err)
		}
		diff.Added = append(diff.Added, up, down)
	}
	return diff, nil
}

// linkedAccessPoints groups the mobile node's wireless links (both
// directions) by the access point on the other end.
func (u *TopologyUpdater) linkedAccessPoints(id NodeID) map[NodeID][]*NetworkLink {
	have := make(map[NodeID][]*NetworkLink)
	for _, l := range u.Graph.LinksFrom(id) {
		if l.Kind() == u.Kind {
			have[l.Dst()] = append(have[l.Dst()], l)
		}
	}
	for _, l := range u.Graph.LinksTo(id) {
		if l.Kind() == u.Kind {
			have[l.Src()] = append(have[l.Src()], l)
		}
	}
	return have
}

func sortedIDs[V any](m map[NodeID]V) []NodeID {
	ids := make([]NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
