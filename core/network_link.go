package core

import "fmt"

// LinkID is an arena index handed out by InfrastructureGraph.
type LinkID int

// LinkKind tags the class of a directed link. Each class carries its own
// bandwidth, latency and power coefficients through a LinkProfile.
type LinkKind int

const (
	LinkWan LinkKind = iota
	LinkWanUp
	LinkWanDown
	LinkEthernet
	LinkWifiApToAp
	LinkWifiTaxiToAp
)

// LinkKinds lists every kind in declaration order.
var LinkKinds = []LinkKind{LinkWan, LinkWanUp, LinkWanDown, LinkEthernet, LinkWifiApToAp, LinkWifiTaxiToAp}

func (k LinkKind) String() string {
	switch k {
	case LinkWan:
		return "wan"
	case LinkWanUp:
		return "wan_up"
	case LinkWanDown:
		return "wan_down"
	case LinkEthernet:
		return "ethernet"
	case LinkWifiApToAp:
		return "wifi_ap_to_ap"
	case LinkWifiTaxiToAp:
		return "wifi_taxi_to_ap"
	default:
		return fmt.Sprintf("link(%d)", int(k))
	}
}

// ParseLinkKind is the inverse of LinkKind.String.
func ParseLinkKind(s string) (LinkKind, error) {
	for _, k := range LinkKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown link kind %q", ErrBadInput, s)
}

// Wireless reports whether the kind is a WiFi class.
func (k LinkKind) Wireless() bool {
	return k == LinkWifiApToAp || k == LinkWifiTaxiToAp
}

// LinkProfile holds the per-class defaults used when a link of that class is
// created without explicit values.
type LinkProfile struct {
	Bandwidth float64 // bit/s
	LatencyMs float64
	Power     LinkPower
}

// NetworkLink is a directed edge of the infrastructure graph with a
// bandwidth ledger. Symmetric connections are two links, one per direction.
type NetworkLink struct {
	id        LinkID
	kind      LinkKind
	src, dst  NodeID
	latencyMs float64
	power     LinkPower
	bw        Ledger
	attached  bool
}

// NewNetworkLink builds a detached link from a profile.
func NewNetworkLink(kind LinkKind, src, dst NodeID, profile LinkProfile) *NetworkLink {
	return &NetworkLink{
		id:        -1,
		kind:      kind,
		src:       src,
		dst:       dst,
		latencyMs: profile.LatencyMs,
		power:     profile.Power,
		bw:        NewLedger(fmt.Sprintf("%s %d->%d", kind, src, dst), profile.Bandwidth),
	}
}

func (l *NetworkLink) ID() LinkID         { return l.id }
func (l *NetworkLink) Kind() LinkKind     { return l.kind }
func (l *NetworkLink) Src() NodeID        { return l.src }
func (l *NetworkLink) Dst() NodeID        { return l.dst }
func (l *NetworkLink) LatencyMs() float64 { return l.latencyMs }
func (l *NetworkLink) Power() LinkPower   { return l.power }

func (l *NetworkLink) Bandwidth() float64 { return l.bw.Capacity() }
func (l *NetworkLink) Used() float64      { return l.bw.Used() }

// Attached reports whether the link is still part of its graph. Removed
// links keep their ledger so holders can release what they reserved.
func (l *NetworkLink) Attached() bool { return l.attached }

// Reserve books bitRate on the link and reports whether it fit.
func (l *NetworkLink) Reserve(bitRate float64) bool { return l.bw.Reserve(bitRate) }

// Release returns bitRate to the link and panics on underflow.
func (l *NetworkLink) Release(bitRate float64) { l.bw.Release(bitRate) }

func (l *NetworkLink) String() string {
	return fmt.Sprintf("%s#%d(%d->%d)", l.kind, l.id, l.src, l.dst)
}
