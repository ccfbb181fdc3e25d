package core

// Measurement is a power reading in watts split into its static (idle) and
// dynamic (load-dependent) parts.
type Measurement struct {
	Static  float64 `json:"static"`
	Dynamic float64 `json:"dynamic"`
}

func (m Measurement) Total() float64 { return m.Static + m.Dynamic }

func (m Measurement) Add(other Measurement) Measurement {
	return Measurement{Static: m.Static + other.Static, Dynamic: m.Dynamic + other.Dynamic}
}

func (m Measurement) Scale(f float64) Measurement {
	return Measurement{Static: m.Static * f, Dynamic: m.Dynamic * f}
}

// HostPowerModel computes a host's draw from its ledger state. It is only
// consulted for active hosts.
type HostPowerModel interface {
	Measure(n *ComputeNode) Measurement
}

// LinearHostPower draws a constant static part plus a dynamic part linear in
// CPU utilisation.
type LinearHostPower struct {
	StaticWatts     float64
	MaxDynamicWatts float64
}

func (p LinearHostPower) Measure(n *ComputeNode) Measurement {
	return Measurement{Static: p.StaticWatts, Dynamic: p.MaxDynamicWatts * n.Utilization()}
}

// SharedHostPower models a slice of a large shared facility: there is no
// static share, and the dynamic part is proportional to the MIPS in use.
type SharedHostPower struct {
	WattPerMIPS float64
}

func (p SharedHostPower) Measure(n *ComputeNode) Measurement {
	return Measurement{Dynamic: n.Used() * p.WattPerMIPS}
}

// LinkPower is the energy profile of a link class. Dynamic power is
// (EnergyPerBit + AmplifierDissipation*d²) * usedBandwidth, so wired classes
// leave AmplifierDissipation at zero.
type LinkPower struct {
	EnergyPerBit         float64 // J/bit
	AmplifierDissipation float64 // J/bit/m²
}

// Measure returns the draw for usedBandwidth bits/s over distance metres.
func (p LinkPower) Measure(usedBandwidth, distance float64) Measurement {
	perBit := p.EnergyPerBit + p.AmplifierDissipation*distance*distance
	return Measurement{Dynamic: perBit * usedBandwidth}
}

// DistanceSensitive reports whether the profile needs endpoint positions.
func (p LinkPower) DistanceSensitive() bool { return p.AmplifierDissipation != 0 }
