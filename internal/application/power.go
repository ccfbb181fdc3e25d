package application

import (
	"sort"

	"github.com/signalsfoundry/leaf-simulator/core"
)

// Power attributes to the application its share of every resource it holds:
// each resource's current measurement scaled by held / used. Resources with
// nothing in use and links no longer in the graph contribute nothing, and a
// stopped or not yet running application draws nothing.
func (a *Application) Power() core.Measurement {
	var total core.Measurement
	if a.state != Running {
		return total
	}

	linkIDs := make([]core.LinkID, 0, len(a.links))
	for id := range a.links {
		linkIDs = append(linkIDs, id)
	}
	sort.Slice(linkIDs, func(i, j int) bool { return linkIDs[i] < linkIDs[j] })
	for _, id := range linkIDs {
		h := a.links[id]
		used := h.link.Used()
		if used == 0 || !h.link.Attached() {
			continue
		}
		total = total.Add(a.network.MeasureLink(h.link).Scale(h.amount / used))
	}

	nodeIDs := make([]core.NodeID, 0, len(a.cpu))
	for id := range a.cpu {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })
	for _, id := range nodeIDs {
		h := a.cpu[id]
		used := h.node.Used()
		if used == 0 {
			continue
		}
		total = total.Add(h.node.Measure().Scale(h.amount / used))
	}
	return total
}
