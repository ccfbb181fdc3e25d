// Command leafsim runs one smart-city fog computing experiment and writes
// the power measurements to a CSV file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/api"
	"github.com/signalsfoundry/leaf-simulator/internal/city"
	"github.com/signalsfoundry/leaf-simulator/internal/config"
	"github.com/signalsfoundry/leaf-simulator/internal/experiment"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
	"github.com/signalsfoundry/leaf-simulator/internal/observability"
)

// options holds the command line settings. Override flags only take effect
// when given explicitly.
type options struct {
	ConfigPath  string
	OutDir      string
	FogNodes    int
	Shutdown    time.Duration
	Seed        uint64
	Duration    time.Duration
	RealTime    bool
	Speedup     float64
	Tick        time.Duration
	MetricsAddr string
	APIAddr     string
	Compress    bool
	Topology    string
	Route       string

	set map[string]bool
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("leafsim", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&o.ConfigPath, "config", "", "YAML experiment configuration (defaults to the reference smart city)")
	fs.StringVar(&o.OutDir, "out", "", "directory for the results CSV")
	fs.IntVar(&o.FogNodes, "fog", 0, "number of fog nodes; 0 runs the cloud-only variant")
	fs.DurationVar(&o.Shutdown, "shutdown", 0, "fog idle-shutdown deadline; negative disables")
	fs.Uint64Var(&o.Seed, "seed", 0, "random seed")
	fs.DurationVar(&o.Duration, "duration", 0, "simulated duration")
	fs.BoolVar(&o.RealTime, "realtime", false, "pace the simulation against the wall clock")
	fs.Float64Var(&o.Speedup, "speedup", 1, "real-time speed-up factor")
	fs.DurationVar(&o.Tick, "tick", 0, "real-time pacing slice (defaults to the simulation time step)")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	fs.StringVar(&o.APIAddr, "api-addr", "", "HTTP address for the status API")
	fs.BoolVar(&o.Compress, "compress", false, "snappy-compress the results file")
	fs.StringVar(&o.Topology, "topology", "", "load a JSON topology and print a route instead of running an experiment")
	fs.StringVar(&o.Route, "route", "", "route to print in topology mode, as src:dst")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overlays the explicitly set flags on cfg.
func (o options) apply(cfg config.Config) config.Config {
	if o.set["out"] {
		cfg.Output.Dir = o.OutDir
	}
	if o.set["fog"] {
		cfg.City.FogNodes = o.FogNodes
	}
	if o.set["shutdown"] {
		cfg.Nodes.Fog.ShutdownDeadline = o.Shutdown
	}
	if o.set["seed"] {
		cfg.Simulation.Seed = o.Seed
	}
	if o.set["duration"] {
		cfg.Simulation.Duration = o.Duration
	}
	if o.set["compress"] {
		cfg.Output.Compress = o.Compress
	}
	if o.set["metrics-addr"] {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.set["api-addr"] {
		cfg.API.Addr = o.APIAddr
	}
	return cfg
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.Topology != "" {
		err = runTopology(opts.Topology, opts.Route, os.Stdout)
	} else {
		err = run(ctx, opts, log, os.Stdout)
	}
	if err != nil {
		log.Error(ctx, "leafsim failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger, out io.Writer) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg = opts.apply(cfg)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	store := api.NewStore()
	exp, err := experiment.New(ctx, cfg,
		experiment.WithLogger(log),
		experiment.WithPublisher(store),
		experiment.WithPacing(experiment.Pacing{
			RealTime: opts.RealTime,
			Speedup:  opts.Speedup,
			Tick:     opts.Tick,
		}),
	)
	if err != nil {
		return err
	}
	store.SetExperiment(cfg.ExperimentName(), exp.RunID())

	var servers []*http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exp.MetricsHandler())
		servers = append(servers, api.Serve(cfg.Metrics.Addr, mux, log))
	}
	if cfg.API.Addr != "" {
		servers = append(servers, api.Serve(cfg.API.Addr, api.NewHandler(store, exp.MetricsHandler(), log), log))
	}
	defer func() {
		for _, srv := range servers {
			if err := api.Shutdown(srv, 5*time.Second); err != nil {
				log.Warn(context.Background(), "http shutdown", logging.Err(err))
			}
		}
	}()

	res, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	store.Finish()

	for _, m := range res.Meters {
		log.Info(ctx, "mean power",
			logging.String("meter", m.Name),
			logging.Float("static_watts", m.MeanStatic),
			logging.Float("dynamic_watts", m.MeanDynamic),
		)
	}
	printSummary(out, res)
	return nil
}

func printSummary(out io.Writer, res *experiment.Result) {
	fmt.Fprintf(out, "%s (seed %d, run %s): %s simulated in %s, %d taxis\n",
		res.Experiment, res.Seed, res.RunID, res.Duration, res.Wall.Round(time.Millisecond), res.TaxisCreated)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "meter\tstatic W\tdynamic W\ttotal W\t")
	for _, m := range res.Meters {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t\n", m.Name, m.MeanStatic, m.MeanDynamic, m.MeanTotal())
	}
	tw.Flush()
	if res.File != "" {
		fmt.Fprintf(out, "results written to %s\n", res.File)
	}
}

// runTopology loads a JSON topology with the reference link profiles and
// prints the lowest-latency route between two named nodes.
func runTopology(path, route string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()

	g := core.NewInfrastructureGraph(core.WithLinkProfiles(city.LinkProfiles(config.Default().Links)))
	topo, err := core.LoadTopology(g, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "loaded %d nodes, %d links\n", g.NodeCount(), g.LinkCount())
	if route == "" {
		return nil
	}

	srcName, dstName, ok := strings.Cut(route, ":")
	if !ok {
		return fmt.Errorf("%w: route %q is not src:dst", core.ErrBadInput, route)
	}
	src, err := topo.Node(srcName)
	if err != nil {
		return err
	}
	dst, err := topo.Node(dstName)
	if err != nil {
		return err
	}
	p, err := g.ShortestPath(src, dst)
	if err != nil {
		return err
	}
	names := make([]string, len(p.Nodes))
	for i, id := range p.Nodes {
		n, err := g.Node(id)
		if err != nil {
			return err
		}
		names[i] = n.Name()
	}
	fmt.Fprintf(out, "%s (%.1f ms, %d hops)\n", strings.Join(names, " -> "), p.LatencyMs, len(p.Links))
	return nil
}
