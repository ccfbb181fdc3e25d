package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

func TestSimCollectorRecordsReservationsAndPlacements(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	c.ObserveReservation("network", true)
	c.ObserveReservation("network", true)
	c.ObserveReservation("cpu", false)
	c.ObservePlacement(core.RoleFog)
	c.ObservePlacement(core.RoleCloud)
	c.ObservePlacement(core.RoleFog)

	if got := testutil.ToFloat64(c.Reservations.WithLabelValues("network", "ok")); got != 2 {
		t.Fatalf("network ok reservations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Reservations.WithLabelValues("cpu", "rejected")); got != 1 {
		t.Fatalf("cpu rejected reservations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Placements.WithLabelValues("fog")); got != 2 {
		t.Fatalf("fog placements = %v, want 2", got)
	}
}

func TestSimCollectorPowerAndChurn(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	c.ObservePower(power.MeterFog, power.Sample{Time: time.Second, Measurement: core.Measurement{Static: 30, Dynamic: 12.5}})
	if got := testutil.ToFloat64(c.Power.WithLabelValues("fog", "static")); got != 30 {
		t.Fatalf("fog static = %v, want 30", got)
	}
	if got := testutil.ToFloat64(c.Power.WithLabelValues("fog", "dynamic")); got != 12.5 {
		t.Fatalf("fog dynamic = %v, want 12.5", got)
	}

	c.ObserveTopologyDiff(core.TopologyDiff{Added: make([]*core.NetworkLink, 4), Removed: make([]*core.NetworkLink, 2)})
	c.ObserveTopologyDiff(core.TopologyDiff{})
	if got := testutil.ToFloat64(c.TopologyChurn.WithLabelValues("add")); got != 4 {
		t.Fatalf("added links = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.TopologyChurn.WithLabelValues("remove")); got != 2 {
		t.Fatalf("removed links = %v, want 2", got)
	}
}

func TestSimCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	second.SetActiveTaxis(7)
	if got := testutil.ToFloat64(first.ActiveTaxis); got != 7 {
		t.Fatalf("shared gauge = %v, want 7", got)
	}
}

func TestSimCollectorNilIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveReservation("cpu", true)
	c.ObservePlacement(core.RoleFog)
	c.SetGraphCounts(1, 2)
	c.SetRunningApplications(3)
}

func TestMetricsHandlerExposesSimulationGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	k, err := NewKernelCollector(reg)
	if err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}
	c.SetGraphCounts(31, 210)
	c.SetActiveTaxis(12)
	c.SetRunningApplications(37)
	c.ObserveReservation("cpu", true)
	k.ObserveEvent("mobility_manager", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"leaf_graph_nodes 31",
		"leaf_graph_links 210",
		"leaf_active_taxis 12",
		"leaf_running_applications 37",
		"leaf_reservations_total",
		`leaf_kernel_events_total{entity="mobility_manager"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func TestKernelCollectorRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewKernelCollector(reg)
	if err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}

	c.ObserveEvent("tls_0", 2*time.Millisecond)
	c.ObserveEvent("tls_0", 3*time.Millisecond)
	c.ObserveEvent("power_sampler", time.Millisecond)
	c.SetQueueDepth(42)

	if got := testutil.ToFloat64(c.EventsProcessed.WithLabelValues("tls_0")); got != 2 {
		t.Fatalf("tls_0 events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.QueueDepth); got != 42 {
		t.Fatalf("queue depth = %v, want 42", got)
	}
	if count := histogramSampleCount(t, reg, "leaf_kernel_handler_duration_seconds", nil); count != 3 {
		t.Fatalf("handler duration sample_count = %d, want 3", count)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "leafsim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(ctx, "experiment")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"experiment"`) {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("LEAF_TRACING_ENABLED", "TRUE")
	t.Setenv("LEAF_TRACING_EXPORTER", "OTLP")
	t.Setenv("LEAF_TRACING_SAMPLE_RATIO", "2")
	t.Setenv("LEAF_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleRatio != 1 || cfg.ServiceName != "leafsim" {
		t.Fatalf("out of range ratio or default service not applied: %+v", cfg)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
