// Package experiment wires one smart-city run together: the event kernel,
// the city, the power meters, the results exporter and the observability
// hooks.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/api"
	"github.com/signalsfoundry/leaf-simulator/internal/city"
	"github.com/signalsfoundry/leaf-simulator/internal/config"
	"github.com/signalsfoundry/leaf-simulator/internal/export"
	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
	"github.com/signalsfoundry/leaf-simulator/internal/observability"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
	"github.com/signalsfoundry/leaf-simulator/timectrl"
)

// Publisher receives the state of the run after every sampling round.
type Publisher interface {
	Publish(u api.Update)
}

// Pacing selects how simulated time relates to the wall clock.
type Pacing struct {
	// RealTime paces the kernel with a timectrl.TimeController.
	RealTime bool
	// Speedup scales real-time pacing; values <= 0 mean 1.
	Speedup float64
	// Tick is the real-time slice length; zero uses the simulation time step.
	Tick time.Duration
}

// Option configures an Experiment.
type Option func(*Experiment)

// WithLogger sets the base logger. The run logger adds run_id to it.
func WithLogger(l logging.Logger) Option {
	return func(e *Experiment) { e.baseLog = logging.OrNoop(l) }
}

// WithRegistry registers the experiment's collectors with reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Experiment) { e.registry = reg }
}

// WithPublisher forwards every sampling round to p.
func WithPublisher(p Publisher) Option {
	return func(e *Experiment) { e.publishers = append(e.publishers, p) }
}

// WithPacing sets real-time or accelerated execution.
func WithPacing(p Pacing) Option {
	return func(e *Experiment) { e.pacing = p }
}

// WithoutExport disables writing the results file.
func WithoutExport() Option {
	return func(e *Experiment) { e.export = false }
}

// Experiment is a single configured run. It is used once.
type Experiment struct {
	cfg        config.Config
	baseLog    logging.Logger
	log        logging.Logger
	runID      string
	registry   *prometheus.Registry
	publishers []Publisher
	pacing     Pacing
	export     bool

	kernel  *kernel.Kernel
	city    *city.City
	sampler *power.Sampler
	sim     *observability.SimCollector

	writer    *export.Writer
	exportErr error
	peakTaxis int
}

// New validates cfg and builds the whole scenario without running it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, baseLog: logging.Noop(), export: true}
	for _, opt := range opts {
		opt(e)
	}
	ctx, e.log = logging.WithRunLogger(ctx, e.baseLog)
	e.runID = logging.RunIDFromContext(ctx)
	e.log = e.log.With(logging.String("experiment", cfg.ExperimentName()))
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}

	sim, err := observability.NewSimCollector(e.registry)
	if err != nil {
		return nil, fmt.Errorf("experiment: metrics: %w", err)
	}
	kc, err := observability.NewKernelCollector(e.registry)
	if err != nil {
		return nil, fmt.Errorf("experiment: kernel metrics: %w", err)
	}
	e.sim = sim

	e.kernel = kernel.New(cfg.Simulation.Duration,
		kernel.WithLogger(e.log),
		kernel.WithMetricsRecorder(kc),
	)
	seed := cfg.Simulation.Seed
	e.city, err = city.New(e.kernel, cfg, rand.New(rand.NewPCG(seed, seed)),
		city.WithLogger(e.log),
		city.WithRecorder(sim),
		city.WithReservationRecorder(sim),
		city.WithPlacementRecorder(sim),
	)
	if err != nil {
		return nil, fmt.Errorf("experiment: build city: %w", err)
	}

	e.sampler, err = power.NewSampler(cfg.Simulation.PowerMeasurementInterval, Meters(e.city),
		power.WithRecorder(sim),
		power.WithSink(e.onSample),
		power.WithSamplerLogger(e.log),
	)
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	if err := e.kernel.Register(e.sampler); err != nil {
		return nil, err
	}
	return e, nil
}

// Meters returns the reference meters over c, in export order.
func Meters(c *city.City) []*power.Meter {
	g := c.Graph()
	return []*power.Meter{
		power.NewMeter(power.MeterCloud, power.Nodes(g, core.RoleCloud)),
		power.NewMeter(power.MeterFog, power.Nodes(g, core.RoleFog)),
		power.NewMeter(power.MeterWifi, power.Links(g, core.LinkWifiApToAp, core.LinkWifiTaxiToAp)),
		power.NewMeter(power.MeterWanUp, power.Links(g, core.LinkWanUp)),
		power.NewMeter(power.MeterWanDown, power.Links(g, core.LinkWanDown)),
		power.NewMeter(power.MeterCCTV, c.CCTV()),
		power.NewMeter(power.MeterSTM, c.STM()),
	}
}

func (e *Experiment) Config() config.Config          { return e.cfg }
func (e *Experiment) RunID() string                  { return e.runID }
func (e *Experiment) City() *city.City               { return e.city }
func (e *Experiment) Kernel() *kernel.Kernel         { return e.kernel }
func (e *Experiment) Meters() []*power.Meter         { return e.sampler.Meters() }
func (e *Experiment) Registry() *prometheus.Registry { return e.registry }

// MetricsHandler serves the experiment's Prometheus metrics.
func (e *Experiment) MetricsHandler() http.Handler { return e.sim.Handler() }

// ResultPath is where the results file is written, or "" when export is
// disabled.
func (e *Experiment) ResultPath() string {
	if !e.export {
		return ""
	}
	return filepath.Join(e.cfg.Output.Dir, e.cfg.ResultFile())
}

func (e *Experiment) onSample(now time.Duration, samples []power.Sample) {
	taxis := e.city.Mobility().ActiveTaxis()
	running := e.city.RunningApplications()
	e.peakTaxis = max(e.peakTaxis, taxis)
	e.sim.SetRunningApplications(running)

	if e.writer != nil && e.exportErr == nil {
		e.exportErr = e.writer.WriteRow(now, taxis, samples)
	}
	if len(e.publishers) == 0 {
		return
	}
	u := api.Update{Time: now, Taxis: taxis, RunningApplications: running, Readings: make([]api.Reading, len(samples))}
	for i, m := range e.sampler.Meters() {
		u.Readings[i] = api.Reading{Meter: m.Name(), Sample: samples[i]}
	}
	for _, p := range e.publishers {
		p.Publish(u)
	}
}

// Run executes the experiment to its end time and returns the summary.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	ctx = logging.ContextWithRunID(ctx, e.runID)
	ctx, span := observability.Tracer().Start(ctx, "experiment.run",
		trace.WithAttributes(
			attribute.String("experiment", e.cfg.ExperimentName()),
			attribute.String("run_id", e.runID),
			attribute.Int64("seed", int64(e.cfg.Simulation.Seed)),
			attribute.Float64("duration_seconds", e.cfg.Simulation.Duration.Seconds()),
		),
	)
	defer span.End()

	if path := e.ResultPath(); path != "" {
		names := make([]string, 0, len(e.sampler.Meters()))
		for _, m := range e.sampler.Meters() {
			names = append(names, m.Name())
		}
		w, err := export.Create(path, e.cfg.Output.Compress, names)
		if err != nil {
			observability.FailSpan(span, err, "create results file")
			return nil, err
		}
		e.writer = w
	}

	e.log.Info(ctx, "experiment started",
		logging.Int("fog_nodes", e.cfg.City.FogNodes),
		logging.Duration("duration", e.cfg.Simulation.Duration),
		logging.Bool("realtime", e.pacing.RealTime),
	)
	began := time.Now()

	runErr := e.execute(ctx)
	if e.writer != nil {
		runErr = errors.Join(runErr, e.exportErr, e.writer.Close())
	}
	if runErr != nil {
		observability.FailSpan(span, runErr, "experiment failed")
		e.log.Error(ctx, "experiment failed", logging.Err(runErr))
		return nil, runErr
	}

	res := e.result(time.Since(began))
	span.SetAttributes(attribute.Int("taxis_created", res.TaxisCreated))
	e.log.Info(ctx, "experiment finished",
		logging.Duration("wall", res.Wall),
		logging.Int("taxis_created", res.TaxisCreated),
		logging.String("results", res.File),
	)
	return res, nil
}

func (e *Experiment) execute(ctx context.Context) error {
	if !e.pacing.RealTime {
		return e.kernel.Run(ctx)
	}
	tick := e.pacing.Tick
	if tick <= 0 {
		tick = e.cfg.Simulation.TimeStep
	}
	tc := timectrl.NewTimeController(tick, timectrl.RealTime)
	tc.Speedup = e.pacing.Speedup
	tracer := observability.Tracer()
	tc.AddListener(func(simTime time.Duration) error {
		_, span := tracer.Start(ctx, "kernel.advance",
			trace.WithAttributes(attribute.Float64("sim_time_seconds", simTime.Seconds())))
		defer span.End()
		return e.kernel.Advance(simTime)
	})
	return tc.Run(ctx, e.kernel.End())
}

// MeterSummary is the mean draw of one meter over the run.
type MeterSummary struct {
	Name        string
	Samples     int
	MeanStatic  float64
	MeanDynamic float64
}

// MeanTotal is the mean static plus mean dynamic draw.
func (m MeterSummary) MeanTotal() float64 { return m.MeanStatic + m.MeanDynamic }

// Result summarises a finished run.
type Result struct {
	Experiment   string
	RunID        string
	Seed         uint64
	Duration     time.Duration
	Wall         time.Duration
	TaxisCreated int
	PeakTaxis    int
	TaxiHistory  []int
	Meters       []MeterSummary
	File         string
}

// Meter returns the summary for name.
func (r *Result) Meter(name string) (MeterSummary, bool) {
	for _, m := range r.Meters {
		if m.Name == name {
			return m, true
		}
	}
	return MeterSummary{}, false
}

func (e *Experiment) result(wall time.Duration) *Result {
	res := &Result{
		Experiment:   e.cfg.ExperimentName(),
		RunID:        e.runID,
		Seed:         e.cfg.Simulation.Seed,
		Duration:     e.cfg.Simulation.Duration,
		Wall:         wall,
		TaxisCreated: e.city.Mobility().Created(),
		PeakTaxis:    e.peakTaxis,
		TaxiHistory:  e.city.Mobility().History(),
		File:         e.ResultPath(),
	}
	for _, m := range e.sampler.Meters() {
		res.Meters = append(res.Meters, summarize(m))
	}
	return res
}

func summarize(m *power.Meter) MeterSummary {
	samples := m.Samples()
	out := MeterSummary{Name: m.Name(), Samples: len(samples)}
	if len(samples) == 0 {
		return out
	}
	static := make([]float64, len(samples))
	dynamic := make([]float64, len(samples))
	for i, s := range samples {
		static[i] = s.Static
		dynamic[i] = s.Dynamic
	}
	out.MeanStatic = stat.Mean(static, nil)
	out.MeanDynamic = stat.Mean(dynamic, nil)
	return out
}
