package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

// SimCollector bundles Prometheus metrics for a simulation run. It satisfies
// the recorder interfaces of the application, orchestrator and power
// packages so the experiment can hand the same value to all of them.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Reservations  *prometheus.CounterVec
	Placements    *prometheus.CounterVec
	TopologyChurn *prometheus.CounterVec
	Power         *prometheus.GaugeVec

	GraphNodes          prometheus.Gauge
	GraphLinks          prometheus.Gauge
	ActiveTaxis         prometheus.Gauge
	RunningApplications prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	reservations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaf_reservations_total",
		Help: "Reservation attempts, labeled by resource (cpu, network) and outcome (ok, rejected).",
	}, []string{"resource", "outcome"}), "leaf_reservations_total")
	if err != nil {
		return nil, err
	}
	placements, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaf_placements_total",
		Help: "Tasks placed by the orchestrator, labeled by target node role.",
	}, []string{"target"}), "leaf_placements_total")
	if err != nil {
		return nil, err
	}
	churn, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaf_topology_links_changed_total",
		Help: "Wireless links added or removed by mobility updates.",
	}, []string{"op"}), "leaf_topology_links_changed_total")
	if err != nil {
		return nil, err
	}
	powerGauge, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leaf_power_watts",
		Help: "Latest power sample per meter, split into static and dynamic components.",
	}, []string{"meter", "component"}), "leaf_power_watts")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaf_graph_nodes",
		Help: "Current number of compute nodes in the infrastructure graph.",
	}), "leaf_graph_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaf_graph_links",
		Help: "Current number of attached links in the infrastructure graph.",
	}), "leaf_graph_links")
	if err != nil {
		return nil, err
	}
	taxis, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaf_active_taxis",
		Help: "Current number of taxis in the city.",
	}), "leaf_active_taxis")
	if err != nil {
		return nil, err
	}
	apps, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaf_running_applications",
		Help: "Current number of running applications.",
	}), "leaf_running_applications")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:            gatherer,
		Reservations:        reservations,
		Placements:          placements,
		TopologyChurn:       churn,
		Power:               powerGauge,
		GraphNodes:          nodes,
		GraphLinks:          links,
		ActiveTaxis:         taxis,
		RunningApplications: apps,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveReservation satisfies application.ReservationRecorder.
func (c *SimCollector) ObserveReservation(resource string, ok bool) {
	if c == nil || c.Reservations == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	c.Reservations.WithLabelValues(resource, outcome).Inc()
}

// ObservePlacement satisfies orchestrator.PlacementRecorder.
func (c *SimCollector) ObservePlacement(target core.NodeRole) {
	if c == nil || c.Placements == nil {
		return
	}
	c.Placements.WithLabelValues(target.String()).Inc()
}

// ObservePower satisfies power.Recorder.
func (c *SimCollector) ObservePower(meter string, s power.Sample) {
	if c == nil || c.Power == nil {
		return
	}
	c.Power.WithLabelValues(meter, "static").Set(s.Static)
	c.Power.WithLabelValues(meter, "dynamic").Set(s.Dynamic)
}

// ObserveTopologyDiff counts the links a mobility update added and removed.
func (c *SimCollector) ObserveTopologyDiff(d core.TopologyDiff) {
	if c == nil || c.TopologyChurn == nil {
		return
	}
	if n := len(d.Added); n > 0 {
		c.TopologyChurn.WithLabelValues("add").Add(float64(n))
	}
	if n := len(d.Removed); n > 0 {
		c.TopologyChurn.WithLabelValues("remove").Add(float64(n))
	}
}

// SetGraphCounts updates the node and link gauges.
func (c *SimCollector) SetGraphCounts(nodes, links int) {
	if c == nil {
		return
	}
	if c.GraphNodes != nil {
		c.GraphNodes.Set(float64(nodes))
	}
	if c.GraphLinks != nil {
		c.GraphLinks.Set(float64(links))
	}
}

// SetActiveTaxis updates the taxi gauge.
func (c *SimCollector) SetActiveTaxis(n int) {
	if c == nil || c.ActiveTaxis == nil {
		return
	}
	c.ActiveTaxis.Set(float64(n))
}

// SetRunningApplications updates the running application gauge.
func (c *SimCollector) SetRunningApplications(n int) {
	if c == nil || c.RunningApplications == nil {
		return
	}
	c.RunningApplications.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
