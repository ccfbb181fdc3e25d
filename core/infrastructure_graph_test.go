package core

import (
	"errors"
	"math"
	"testing"
)

func addLinkT(t *testing.T, g *InfrastructureGraph, kind LinkKind, src, dst NodeID, latency float64) *NetworkLink {
	t.Helper()
	l := NewNetworkLink(kind, src, dst, LinkProfile{Bandwidth: 1e6, LatencyMs: latency})
	if err := g.AddLink(l); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	return l
}

func TestShortestPathMobileToCloud(t *testing.T) {
	g := NewInfrastructureGraph()
	mobile := g.AddNode(NodeSpec{Name: "mobile", Role: RoleMobile, MIPS: 1, Motion: StaticMotion{}})
	ap := g.AddNode(NodeSpec{Name: "ap1", Role: RoleAccessPoint, MIPS: 1, Motion: StaticMotion{}})
	cloud := g.AddNode(NodeSpec{Name: "cloud", Role: RoleCloud, MIPS: 1})

	addLinkT(t, g, LinkWifiTaxiToAp, mobile.ID(), ap.ID(), 5)
	upstream := addLinkT(t, g, LinkWanUp, ap.ID(), cloud.ID(), 50)

	p, err := g.ShortestPath(mobile.ID(), cloud.ID())
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	want := []NodeID{mobile.ID(), ap.ID(), cloud.ID()}
	if len(p.Nodes) != len(want) {
		t.Fatalf("path nodes = %v, want %v", p.Nodes, want)
	}
	for i := range want {
		if p.Nodes[i] != want[i] {
			t.Fatalf("path nodes = %v, want %v", p.Nodes, want)
		}
	}
	if p.LatencyMs != 55 {
		t.Fatalf("path latency = %v, want 55", p.LatencyMs)
	}
	if len(p.Links) != 2 || p.Links[1] != upstream {
		t.Fatalf("path links = %v", p.Links)
	}

	if err := g.RemoveLink(upstream.ID()); err != nil {
		t.Fatalf("RemoveLink: %v", err)
	}
	if _, err := g.ShortestPath(mobile.ID(), cloud.ID()); !errors.Is(err, ErrNoPath) {
		t.Fatalf("after removal err = %v, want ErrNoPath", err)
	}
}

func TestShortestPathPrefersLowerLatencyParallelLink(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleFog, MIPS: 1})
	b := g.AddNode(NodeSpec{Name: "b", Role: RoleFog, MIPS: 1})
	c := g.AddNode(NodeSpec{Name: "c", Role: RoleFog, MIPS: 1})

	addLinkT(t, g, LinkWan, a.ID(), b.ID(), 30)
	fast := addLinkT(t, g, LinkEthernet, a.ID(), b.ID(), 2)
	addLinkT(t, g, LinkEthernet, b.ID(), c.ID(), 2)
	addLinkT(t, g, LinkWan, a.ID(), c.ID(), 10)

	p, err := g.ShortestPath(a.ID(), c.ID())
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if p.LatencyMs != 4 || p.Links[0] != fast {
		t.Fatalf("expected two-hop ethernet route, got %v (%v ms)", p.Links, p.LatencyMs)
	}
}

func TestShortestPathIsDirected(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleFog, MIPS: 1})
	b := g.AddNode(NodeSpec{Name: "b", Role: RoleFog, MIPS: 1})
	addLinkT(t, g, LinkWan, a.ID(), b.ID(), 1)

	if _, err := g.ShortestPath(b.ID(), a.ID()); !errors.Is(err, ErrNoPath) {
		t.Fatalf("reverse route err = %v, want ErrNoPath", err)
	}
}

func TestShortestPathSameNode(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleFog, MIPS: 1})

	p, err := g.ShortestPath(a.ID(), a.ID())
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if len(p.Links) != 0 || len(p.Nodes) != 1 {
		t.Fatalf("self path = %+v, want single node and no links", p)
	}
}

func TestRemoveNodeDropsIncidentLinks(t *testing.T) {
	g := NewInfrastructureGraph(WithLinkProfiles(testProfiles()))
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleAccessPoint, MIPS: 1})
	b := g.AddNode(NodeSpec{Name: "b", Role: RoleMobile, MIPS: 1})
	c := g.AddNode(NodeSpec{Name: "c", Role: RoleAccessPoint, MIPS: 1})

	if err := g.ConnectBoth(LinkWifiTaxiToAp, a.ID(), b.ID()); err != nil {
		t.Fatalf("ConnectBoth: %v", err)
	}
	keep, err := g.Connect(LinkWifiApToAp, a.ID(), c.ID())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dropped := g.LinksFrom(b.ID())[0]

	if err := g.RemoveNode(b.ID()); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if g.NodeCount() != 2 || g.LinkCount() != 1 {
		t.Fatalf("counts after removal: nodes=%d links=%d, want 2 and 1", g.NodeCount(), g.LinkCount())
	}
	if dropped.Attached() {
		t.Fatalf("removed node's link still reports attached")
	}
	if !keep.Attached() {
		t.Fatalf("unrelated link was detached")
	}
	if _, err := g.Node(b.ID()); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("Node(removed) err = %v, want ErrNodeNotFound", err)
	}

	d := g.AddNode(NodeSpec{Name: "d", Role: RoleMobile, MIPS: 1})
	if d.ID() == b.ID() {
		t.Fatalf("node ID %d was reused", d.ID())
	}
}

func TestRemoveLinksBetween(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleFog, MIPS: 1})
	b := g.AddNode(NodeSpec{Name: "b", Role: RoleFog, MIPS: 1})
	addLinkT(t, g, LinkWan, a.ID(), b.ID(), 1)
	addLinkT(t, g, LinkEthernet, a.ID(), b.ID(), 1)
	back := addLinkT(t, g, LinkWan, b.ID(), a.ID(), 1)

	if n := g.RemoveLinks(a.ID(), b.ID()); n != 2 {
		t.Fatalf("RemoveLinks removed %d, want 2", n)
	}
	if links := g.Links(); len(links) != 1 || links[0] != back {
		t.Fatalf("remaining links = %v, want only the reverse link", links)
	}
}

func TestAddLinkValidatesEndpoints(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleFog, MIPS: 1})

	if err := g.AddLink(NewNetworkLink(LinkWan, a.ID(), 42, LinkProfile{})); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("dangling link err = %v, want ErrNodeNotFound", err)
	}
	if err := g.AddLink(NewNetworkLink(LinkWan, a.ID(), a.ID(), LinkProfile{})); !errors.Is(err, ErrBadInput) {
		t.Fatalf("self loop err = %v, want ErrBadInput", err)
	}
	if _, err := g.Connect(LinkWan, a.ID(), a.ID()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Connect without profile err = %v, want ErrConfiguration", err)
	}
}

func TestCloudCardinality(t *testing.T) {
	g := NewInfrastructureGraph()
	if _, err := g.Cloud(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("no cloud err = %v, want ErrConfiguration", err)
	}
	one := g.AddNode(NodeSpec{Name: "c1", Role: RoleCloud, MIPS: 1})
	if c, err := g.Cloud(); err != nil || c != one {
		t.Fatalf("Cloud() = %v, %v", c, err)
	}
	g.AddNode(NodeSpec{Name: "c2", Role: RoleCloud, MIPS: 1})
	if _, err := g.Cloud(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("two clouds err = %v, want ErrConfiguration", err)
	}
}

func TestNodesAndLinksFilterByType(t *testing.T) {
	g := NewInfrastructureGraph(WithLinkProfiles(testProfiles()))
	cloud := g.AddNode(NodeSpec{Name: "cloud", Role: RoleCloud, MIPS: 1})
	fog := g.AddNode(NodeSpec{Name: "fog", Role: RoleFog, MIPS: 1})
	ap := g.AddNode(NodeSpec{Name: "ap", Role: RoleAccessPoint, MIPS: 1})

	g.Connect(LinkWanUp, ap.ID(), cloud.ID())
	g.Connect(LinkWanDown, cloud.ID(), ap.ID())
	g.ConnectBoth(LinkEthernet, fog.ID(), ap.ID())

	if got := g.Nodes(RoleFog, RoleCloud); len(got) != 2 || got[0] != cloud || got[1] != fog {
		t.Fatalf("Nodes(fog, cloud) = %v", got)
	}
	if got := g.Links(LinkEthernet); len(got) != 2 {
		t.Fatalf("Links(ethernet) = %v, want 2", got)
	}
	if got := g.Links(LinkWanUp, LinkWanDown); len(got) != 2 {
		t.Fatalf("Links(wan up/down) = %v, want 2", got)
	}
}

func TestMeasureLinkWifiScalesWithDistance(t *testing.T) {
	g := NewInfrastructureGraph()
	a := g.AddNode(NodeSpec{Name: "a", Role: RoleAccessPoint, MIPS: 1, Motion: StaticMotion{At: Location{X: 0, Y: 0}}})
	b := g.AddNode(NodeSpec{Name: "b", Role: RoleAccessPoint, MIPS: 1, Motion: StaticMotion{At: Location{X: 30, Y: 40}}})

	l := NewNetworkLink(LinkWifiApToAp, a.ID(), b.ID(), LinkProfile{
		Bandwidth: 1e9,
		Power:     LinkPower{EnergyPerBit: 1e-8, AmplifierDissipation: 1e-10},
	})
	if err := g.AddLink(l); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if m := g.MeasureLink(l); m.Total() != 0 {
		t.Fatalf("unused link measured %+v", m)
	}

	l.Reserve(1e6)
	// (1e-8 + 1e-10 * 50²) * 1e6 = 0.26 W
	if m := g.MeasureLink(l); math.Abs(m.Dynamic-0.26) > 1e-12 || m.Static != 0 {
		t.Fatalf("MeasureLink = %+v, want dynamic 0.26", m)
	}
}

func TestMeasureLinkWiredIgnoresDistance(t *testing.T) {
	g := NewInfrastructureGraph()
	ap := g.AddNode(NodeSpec{Name: "ap", Role: RoleAccessPoint, MIPS: 1, Motion: StaticMotion{}})
	cloud := g.AddNode(NodeSpec{Name: "cloud", Role: RoleCloud, MIPS: 1})

	l := NewNetworkLink(LinkWanUp, ap.ID(), cloud.ID(), LinkProfile{Bandwidth: 1e9, Power: LinkPower{EnergyPerBit: 2e-6}})
	if err := g.AddLink(l); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	l.Reserve(5e5)
	if m := g.MeasureLink(l); math.Abs(m.Dynamic-1) > 1e-12 {
		t.Fatalf("MeasureLink = %+v, want 1 W", m)
	}
}
