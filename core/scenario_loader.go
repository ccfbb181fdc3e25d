// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Topology is a summary of what LoadTopology added to the graph.
type Topology struct {
	NodeIDs map[string]NodeID
	LinkIDs []LinkID
}

// Node resolves a node name from the loaded topology.
func (t *Topology) Node(name string) (NodeID, error) {
	id, ok := t.NodeIDs[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return id, nil
}

// internal JSON shapes, unexported so they can evolve freely.
type topologyJSON struct {
	Nodes []topologyNodeJSON `json:"nodes"`
	Links []topologyLinkJSON `json:"links"`
}

type topologyNodeJSON struct {
	Name     string        `json:"name"`
	Role     string        `json:"role"` // cloud | fog | access_point | mobile
	MIPS     float64       `json:"mips"`
	Location *positionJSON `json:"location"` // omitted for cloud nodes
	Power    *powerJSON    `json:"power"`
	// IdleShutdown is a Go duration string; empty disables idle shutdown.
	IdleShutdown string `json:"idle_shutdown"`
}

type positionJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type powerJSON struct {
	StaticWatts     float64 `json:"static_watts"`
	MaxDynamicWatts float64 `json:"max_dynamic_watts"`
	WattPerMIPS     float64 `json:"watt_per_mips"`
}

type topologyLinkJSON struct {
	Kind          string   `json:"kind"`
	Src           string   `json:"src"`
	Dst           string   `json:"dst"`
	Bidirectional bool     `json:"bidirectional"`
	Bandwidth     *float64 `json:"bandwidth"`
	LatencyMs     *float64 `json:"latency_ms"`
}

// LoadTopology reads a JSON topology from r and adds its nodes and links to
// g. Links without explicit bandwidth or latency take the graph's profile
// for their kind.
func LoadTopology(g *InfrastructureGraph, r io.Reader) (*Topology, error) {
	if g == nil {
		return nil, fmt.Errorf("LoadTopology: graph is nil")
	}

	var payload topologyJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadTopology: decode failed: %w", err)
	}

	result := &Topology{NodeIDs: make(map[string]NodeID, len(payload.Nodes))}

	// 1) Nodes
	for _, jn := range payload.Nodes {
		if jn.Name == "" {
			return nil, fmt.Errorf("LoadTopology: %w: node with empty name", ErrBadInput)
		}
		if _, dup := result.NodeIDs[jn.Name]; dup {
			return nil, fmt.Errorf("LoadTopology: %w: duplicate node %q", ErrBadInput, jn.Name)
		}
		spec, err := jn.spec()
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: node %q: %w", jn.Name, err)
		}
		result.NodeIDs[jn.Name] = g.AddNode(spec).ID()
	}

	// 2) Links
	for i, jl := range payload.Links {
		kind, err := ParseLinkKind(jl.Kind)
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: link %d: %w", i, err)
		}
		src, err := result.Node(jl.Src)
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: link %d source: %w", i, err)
		}
		dst, err := result.Node(jl.Dst)
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: link %d destination: %w", i, err)
		}

		profile, _ := g.Profile(kind)
		if jl.Bandwidth != nil {
			profile.Bandwidth = *jl.Bandwidth
		}
		if jl.LatencyMs != nil {
			profile.LatencyMs = *jl.LatencyMs
		}

		pairs := [][2]NodeID{{src, dst}}
		if jl.Bidirectional {
			pairs = append(pairs, [2]NodeID{dst, src})
		}
		for _, p := range pairs {
			l := NewNetworkLink(kind, p[0], p[1], profile)
			if err := g.AddLink(l); err != nil {
				return nil, fmt.Errorf("LoadTopology: link %d: %w", i, err)
			}
			result.LinkIDs = append(result.LinkIDs, l.ID())
		}
	}

	return result, nil
}

func (jn topologyNodeJSON) spec() (NodeSpec, error) {
	role, err := roleFromString(jn.Role)
	if err != nil {
		return NodeSpec{}, err
	}
	spec := NodeSpec{Name: jn.Name, Role: role, MIPS: jn.MIPS}
	if jn.Location != nil {
		spec.Motion = StaticMotion{At: Location{X: jn.Location.X, Y: jn.Location.Y}}
	}
	if p := jn.Power; p != nil {
		if p.WattPerMIPS > 0 {
			spec.Power = SharedHostPower{WattPerMIPS: p.WattPerMIPS}
		} else {
			spec.Power = LinearHostPower{StaticWatts: p.StaticWatts, MaxDynamicWatts: p.MaxDynamicWatts}
		}
	}
	if jn.IdleShutdown != "" {
		d, err := time.ParseDuration(jn.IdleShutdown)
		if err != nil {
			return NodeSpec{}, fmt.Errorf("%w: idle_shutdown: %v", ErrBadInput, err)
		}
		spec.ShutdownOnIdle = true
		spec.IdleShutdown = d
	}
	return spec, nil
}

func roleFromString(s string) (NodeRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cloud":
		return RoleCloud, nil
	case "fog":
		return RoleFog, nil
	case "access_point", "ap", "traffic_light":
		return RoleAccessPoint, nil
	case "mobile", "taxi":
		return RoleMobile, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrBadInput, s)
	}
}
