package experiment

import (
	"context"
	"encoding/csv"
	"math"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/leaf-simulator/internal/api"
	"github.com/signalsfoundry/leaf-simulator/internal/config"
	"github.com/signalsfoundry/leaf-simulator/internal/export"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Duration = 2 * time.Minute
	cfg.City.Width = 1000
	cfg.City.Height = 1000
	cfg.City.StreetsPerAxis = 2
	cfg.City.FogNodes = 1
	cfg.City.WifiRange = 400
	cfg.Taxis.MaxPerMinute = 60
	cfg.Taxis.CountProfile = []float64{1}
	cfg.Taxis.SpeedProfile = []float64{20}
	cfg.Output.Dir = t.TempDir()
	return cfg
}

type updates []api.Update

func (u *updates) Publish(up api.Update) { *u = append(*u, up) }

func TestRunWritesResultsAndSummary(t *testing.T) {
	cfg := smallConfig(t)
	var pub updates
	e, err := New(context.Background(), cfg, WithPublisher(&pub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.RunID() == "" {
		t.Fatalf("missing run id")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Experiment != "fog_1" || res.File != filepath.Join(cfg.Output.Dir, "fog_1_1.csv") {
		t.Fatalf("result identity = %q %q", res.Experiment, res.File)
	}
	if len(res.Meters) != 7 {
		t.Fatalf("got %d meter summaries, want 7", len(res.Meters))
	}
	want := []string{power.MeterCloud, power.MeterFog, power.MeterWifi, power.MeterWanUp, power.MeterWanDown, power.MeterCCTV, power.MeterSTM}
	for i, m := range res.Meters {
		if m.Name != want[i] || m.Samples != 12 {
			t.Fatalf("meter %d = %+v, want %s with 12 samples", i, m, want[i])
		}
	}
	if fog, _ := res.Meter(power.MeterFog); fog.MeanStatic != 30 || fog.MeanDynamic <= 0 {
		t.Fatalf("fog summary = %+v", fog)
	}
	if cctv, _ := res.Meter(power.MeterCCTV); cctv.MeanTotal() <= 0 {
		t.Fatalf("cctv drew no power: %+v", cctv)
	}
	if res.TaxisCreated == 0 || res.PeakTaxis == 0 || len(res.TaxiHistory) != 12 {
		t.Fatalf("taxis created=%d peak=%d history=%v", res.TaxisCreated, res.PeakTaxis, res.TaxiHistory)
	}

	if len(pub) != 12 || len(pub[0].Readings) != 7 || pub[0].Readings[6].Meter != power.MeterSTM {
		t.Fatalf("published %d updates, first %+v", len(pub), pub[0])
	}
	if pub[11].Time != 2*time.Minute {
		t.Fatalf("last update at %v", pub[11].Time)
	}

	r, err := export.Open(res.File)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if len(rows) != 13 || len(rows[0]) != 16 || rows[0][2] != "cloud static" || rows[12][0] != "120" {
		t.Fatalf("unexpected results layout: %d rows, header %v, last %v", len(rows), rows[0], rows[len(rows)-1])
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	run := func() *Result {
		e, err := New(context.Background(), smallConfig(t), WithoutExport())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.TaxisCreated != b.TaxisCreated || a.File != "" {
		t.Fatalf("runs differ: %d vs %d taxis", a.TaxisCreated, b.TaxisCreated)
	}
	for i := range a.TaxiHistory {
		if a.TaxiHistory[i] != b.TaxiHistory[i] {
			t.Fatalf("taxi history differs at %d: %v vs %v", i, a.TaxiHistory, b.TaxiHistory)
		}
	}
	for i := range a.Meters {
		if math.Abs(a.Meters[i].MeanTotal()-b.Meters[i].MeanTotal()) > 1e-6 {
			t.Fatalf("meter %s differs: %v vs %v", a.Meters[i].Name, a.Meters[i], b.Meters[i])
		}
	}
}

func TestRealTimePacingCompletes(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.Duration = 30 * time.Second
	e, err := New(context.Background(), cfg,
		WithoutExport(),
		WithPacing(Pacing{RealTime: true, Speedup: 1e6, Tick: 5 * time.Second}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !e.Kernel().Finished() {
		t.Fatalf("kernel not finished after paced run")
	}
	if m, _ := res.Meter(power.MeterCloud); m.Samples != 3 {
		t.Fatalf("cloud samples = %d, want 3", m.Samples)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	e, err := New(context.Background(), smallConfig(t), WithoutExport())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.Duration = 0
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestMetricsHandlerExposesSimulationMetrics(t *testing.T) {
	e, err := New(context.Background(), smallConfig(t), WithoutExport())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec := httptest.NewRecorder()
	e.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"leaf_graph_nodes", `leaf_power_watts{component="static",meter="fog"} 30`, "leaf_kernel_events_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
