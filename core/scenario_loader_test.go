// core/scenario_loader_test.go
package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadTopologyBuildsGraph(t *testing.T) {
	jsonData := `
{
  "nodes": [
    { "name": "cloud", "role": "cloud", "mips": 1e9, "power": { "watt_per_mips": 0.001 } },
    { "name": "fog_0", "role": "fog", "mips": 400000,
      "location": { "x": 500, "y": 500 },
      "power": { "static_watts": 30, "max_dynamic_watts": 170 },
      "idle_shutdown": "5s" },
    { "name": "tls_0", "role": "traffic_light", "mips": 10000, "location": { "x": 500, "y": 500 } }
  ],
  "links": [
    { "kind": "wan_up", "src": "tls_0", "dst": "cloud", "latency_ms": 100 },
    { "kind": "ethernet", "src": "fog_0", "dst": "tls_0", "bidirectional": true }
  ]
}
`

	g := NewInfrastructureGraph(WithLinkProfiles(testProfiles()))
	topo, err := LoadTopology(g, strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadTopology returned error: %v", err)
	}

	if g.NodeCount() != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.NodeCount())
	}
	if len(topo.LinkIDs) != 3 || g.LinkCount() != 3 {
		t.Fatalf("expected 3 links, got summary=%d graph=%d", len(topo.LinkIDs), g.LinkCount())
	}

	fogID, err := topo.Node("fog_0")
	if err != nil {
		t.Fatalf("Node(fog_0): %v", err)
	}
	fog, _ := g.Node(fogID)
	if fog.Role() != RoleFog || fog.Capacity() != 400000 {
		t.Fatalf("fog node = %v (capacity %v)", fog, fog.Capacity())
	}
	if d, ok := fog.ShutdownDeadline(); fog.Active() || !ok || d != 5*time.Second {
		t.Fatalf("fog idle shutdown not configured: active=%v deadline=%v", fog.Active(), d)
	}

	tlsID, _ := topo.Node("tls_0")
	cloudID, _ := topo.Node("cloud")
	p, err := g.ShortestPath(tlsID, cloudID)
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if p.LatencyMs != 100 {
		t.Fatalf("uplink latency = %v, want override 100", p.LatencyMs)
	}

	// Ethernet has no override and takes the graph profile.
	eth := g.Links(LinkEthernet)
	if len(eth) != 2 || eth[0].LatencyMs() != 1 || eth[0].Bandwidth() != 1e6 {
		t.Fatalf("ethernet links = %v", eth)
	}
}

func TestLoadTopologyRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown field":  `{"nodes": [{"name": "a", "role": "fog", "colour": "red"}]}`,
		"unknown role":   `{"nodes": [{"name": "a", "role": "satellite"}]}`,
		"duplicate node": `{"nodes": [{"name": "a", "role": "fog"}, {"name": "a", "role": "fog"}]}`,
		"unknown kind":   `{"nodes": [{"name": "a", "role": "fog"}, {"name": "b", "role": "fog"}], "links": [{"kind": "laser", "src": "a", "dst": "b"}]}`,
		"dangling link":  `{"nodes": [{"name": "a", "role": "fog"}], "links": [{"kind": "wan", "src": "a", "dst": "zz"}]}`,
		"bad duration":   `{"nodes": [{"name": "a", "role": "fog", "idle_shutdown": "soon"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			g := NewInfrastructureGraph(WithLinkProfiles(testProfiles()))
			if _, err := LoadTopology(g, strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadTopologyUnknownNodeIsNotFound(t *testing.T) {
	g := NewInfrastructureGraph(WithLinkProfiles(testProfiles()))
	doc := `{"nodes": [{"name": "a", "role": "fog"}], "links": [{"kind": "wan", "src": "a", "dst": "zz"}]}`

	_, err := LoadTopology(g, strings.NewReader(doc))
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
}
