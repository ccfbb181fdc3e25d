package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KernelCollector exposes discrete-event kernel metrics. It satisfies
// kernel.MetricsRecorder.
type KernelCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed *prometheus.CounterVec
	HandlerDuration prometheus.Histogram
	QueueDepth      prometheus.Gauge
}

// NewKernelCollector registers kernel metrics against the provided registerer.
func NewKernelCollector(reg prometheus.Registerer) (*KernelCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaf_kernel_events_total",
		Help: "Events delivered by the simulation kernel, labeled by target entity.",
	}, []string{"entity"}), "leaf_kernel_events_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leaf_kernel_handler_duration_seconds",
		Help:    "Wall-clock time spent in entity event handlers.",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})
	durations, err = registerHistogram(reg, durations, "leaf_kernel_handler_duration_seconds")
	if err != nil {
		return nil, err
	}

	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaf_kernel_queue_depth",
		Help: "Number of events waiting in the kernel queue.",
	})
	depth, err = registerGauge(reg, depth, "leaf_kernel_queue_depth")
	if err != nil {
		return nil, err
	}

	return &KernelCollector{
		gatherer:        gatherer,
		EventsProcessed: events,
		HandlerDuration: durations,
		QueueDepth:      depth,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *KernelCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEvent records one delivered event and its handler duration.
func (c *KernelCollector) ObserveEvent(entity string, d time.Duration) {
	if c == nil {
		return
	}
	if c.EventsProcessed != nil {
		c.EventsProcessed.WithLabelValues(entity).Inc()
	}
	if c.HandlerDuration != nil {
		c.HandlerDuration.Observe(d.Seconds())
	}
}

// SetQueueDepth updates the queue depth gauge.
func (c *KernelCollector) SetQueueDepth(n int) {
	if c == nil || c.QueueDepth == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
