// Package city builds the smart-city scenario: a street grid with a traffic
// light system on every crossing, fog data centres next to some of them, a
// cloud, and taxis that drive between the city gates.
package city

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/application"
	"github.com/signalsfoundry/leaf-simulator/internal/config"
	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
	"github.com/signalsfoundry/leaf-simulator/internal/orchestrator"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

// Recorder observes topology changes in the city.
type Recorder interface {
	ObserveTopologyDiff(d core.TopologyDiff)
	SetActiveTaxis(n int)
	SetGraphCounts(nodes, links int)
}

// Option configures a City.
type Option func(*City)

// WithLogger sets the logger used by the city and everything it builds.
func WithLogger(l logging.Logger) Option {
	return func(c *City) { c.log = logging.OrNoop(l) }
}

// WithRecorder attaches a topology recorder.
func WithRecorder(r Recorder) Option {
	return func(c *City) { c.recorder = r }
}

// WithReservationRecorder is passed to every application the city creates.
func WithReservationRecorder(r application.ReservationRecorder) Option {
	return func(c *City) { c.reservations = r }
}

// WithPlacementRecorder is passed to the city's orchestrator.
func WithPlacementRecorder(r orchestrator.PlacementRecorder) Option {
	return func(c *City) { c.placements = r }
}

// City owns the infrastructure graph of one experiment and the entities that
// act on it.
type City struct {
	cfg     config.Config
	kernel  *kernel.Kernel
	rng     *rand.Rand
	streets *StreetGrid
	graph   *core.InfrastructureGraph
	orch    *orchestrator.Orchestrator

	cloud    *core.ComputeNode
	lights   []*TrafficLight
	lightAt  map[core.Location]*TrafficLight
	fogs     []*core.ComputeNode
	mobility *MobilityManager

	cctv power.AppGroup
	stm  power.AppGroup

	log          logging.Logger
	recorder     Recorder
	reservations application.ReservationRecorder
	placements   orchestrator.PlacementRecorder
}

// New builds the city infrastructure on a fresh graph bound to k and
// registers the traffic lights and the mobility manager with it. All random
// choices draw from rng.
func New(k *kernel.Kernel, cfg config.Config, rng *rand.Rand, opts ...Option) (*City, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &City{
		cfg:     cfg,
		kernel:  k,
		rng:     rng,
		streets: NewStreetGrid(cfg.City.Width, cfg.City.Height, cfg.City.StreetsPerAxis),
		lightAt: make(map[core.Location]*TrafficLight),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.graph = core.NewInfrastructureGraph(
		core.WithScheduler(k),
		core.WithLinkProfiles(LinkProfiles(cfg.Links)),
	)

	if err := c.build(); err != nil {
		return nil, err
	}

	mode := orchestrator.Spread
	if cfg.ConsolidateMode() {
		mode = orchestrator.Consolidate
	}
	c.orch = orchestrator.New(c.graph,
		orchestrator.WithThreshold(cfg.Orchestrator.Threshold),
		orchestrator.WithMode(mode),
		orchestrator.WithLogger(c.log),
		orchestrator.WithRecorder(c.placements),
	)

	for _, tl := range c.lights {
		if err := k.Register(tl); err != nil {
			return nil, err
		}
	}
	c.mobility = newMobilityManager(c)
	if err := k.Register(c.mobility); err != nil {
		return nil, err
	}

	c.log.Info(context.Background(), "city built",
		logging.Int("traffic_lights", len(c.lights)),
		logging.Int("fog_nodes", len(c.fogs)),
		logging.Int("gates", len(c.streets.Gates())),
		logging.Int("links", c.graph.LinkCount()),
		logging.String("orchestrator_mode", mode.String()),
	)
	c.observeGraph()
	return c, nil
}

// LinkProfiles maps the configured link classes to graph link profiles.
func LinkProfiles(l config.Links) map[core.LinkKind]core.LinkProfile {
	profile := func(c config.Link) core.LinkProfile {
		return core.LinkProfile{
			Bandwidth: c.Bandwidth,
			LatencyMs: c.LatencyMs,
			Power:     core.LinkPower{EnergyPerBit: c.EnergyPerBit, AmplifierDissipation: c.AmplifierDissipation},
		}
	}
	return map[core.LinkKind]core.LinkProfile{
		core.LinkWan:          profile(l.Wan),
		core.LinkWanUp:        profile(l.WanUp),
		core.LinkWanDown:      profile(l.WanDown),
		core.LinkEthernet:     profile(l.Ethernet),
		core.LinkWifiApToAp:   profile(l.WifiApToAp),
		core.LinkWifiTaxiToAp: profile(l.WifiTaxiToAp),
	}
}

func (c *City) build() error {
	nodes := c.cfg.Nodes
	c.cloud = c.graph.AddNode(core.NodeSpec{
		Name:  "cloud",
		Role:  core.RoleCloud,
		MIPS:  nodes.Cloud.MIPS,
		Power: core.SharedHostPower{WattPerMIPS: nodes.Cloud.WattPerMIPS},
	})

	for i, loc := range c.streets.TrafficLights() {
		n := c.graph.AddNode(core.NodeSpec{
			Name:   fmt.Sprintf("tls_%d", i),
			Role:   core.RoleAccessPoint,
			MIPS:   nodes.TrafficLight.MIPS,
			Motion: core.StaticMotion{At: loc},
			Power:  core.SharedHostPower{WattPerMIPS: nodes.TrafficLight.WattPerMIPS},
		})
		if _, err := c.graph.Connect(core.LinkWanUp, n.ID(), c.cloud.ID()); err != nil {
			return err
		}
		if _, err := c.graph.Connect(core.LinkWanDown, c.cloud.ID(), n.ID()); err != nil {
			return err
		}
		for _, other := range c.lights {
			if core.WithinRange(loc, other.location, c.cfg.City.WifiRange) {
				if err := c.graph.ConnectBoth(core.LinkWifiApToAp, n.ID(), other.node.ID()); err != nil {
					return err
				}
			}
		}
		tl := &TrafficLight{city: c, node: n, location: loc}
		c.lights = append(c.lights, tl)
		c.lightAt[loc] = tl
	}

	fog := nodes.Fog
	for i, idx := range pickN(c.rng, len(c.lights), c.cfg.City.FogNodes) {
		host := c.lights[idx]
		n := c.graph.AddNode(core.NodeSpec{
			Name:           fmt.Sprintf("fog_%d", i),
			Role:           core.RoleFog,
			MIPS:           fog.MIPS,
			Motion:         core.StaticMotion{At: host.location},
			Power:          core.LinearHostPower{StaticWatts: fog.StaticWatts, MaxDynamicWatts: fog.MaxDynamicWatts},
			ShutdownOnIdle: fog.ShutdownEnabled(),
			IdleShutdown:   fog.ShutdownDeadline,
		})
		if err := c.graph.ConnectBoth(core.LinkEthernet, n.ID(), host.node.ID()); err != nil {
			return err
		}
		c.fogs = append(c.fogs, n)
	}
	return nil
}

// pickN returns n distinct indices out of [0, size) using a partial
// Durstenfeld shuffle.
func pickN(rng *rand.Rand, size, n int) []int {
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	for i := size - 1; i >= size-n; i-- {
		j := rng.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[size-n:]
}

func (c *City) Graph() *core.InfrastructureGraph         { return c.graph }
func (c *City) Streets() *StreetGrid                     { return c.streets }
func (c *City) Orchestrator() *orchestrator.Orchestrator { return c.orch }
func (c *City) Cloud() *core.ComputeNode                 { return c.cloud }
func (c *City) FogNodes() []*core.ComputeNode            { return c.fogs }
func (c *City) TrafficLights() []*TrafficLight           { return c.lights }
func (c *City) Mobility() *MobilityManager               { return c.mobility }

// CCTV is the group of all traffic light CCTV applications.
func (c *City) CCTV() *power.AppGroup { return &c.cctv }

// STM is the group of all taxi STM applications.
func (c *City) STM() *power.AppGroup { return &c.stm }

// RunningApplications counts the running CCTV and STM applications.
func (c *City) RunningApplications() int { return c.cctv.Running() + c.stm.Running() }

func (c *City) appOptions() []application.Option {
	return []application.Option{
		application.WithReallocation(c.cfg.Simulation.ApplicationReallocationInterval),
		application.WithLogger(c.log),
		application.WithRecorder(c.reservations),
	}
}

// newCCTV builds the CCTV pipeline of a traffic light: the camera on the
// traffic light, image analysis wherever the orchestrator puts it, storage
// in the cloud.
func (c *City) newCCTV(tl *TrafficLight) (*application.Application, error) {
	p := c.cfg.Applications.CCTV
	b := application.NewBuilder("cctv_" + tl.node.Name())
	camera := b.BoundTask("camera", p.SourceMIPS, tl.node)
	analysis := b.Task("image_analysis", p.ProcessingMIPS)
	storage := b.CloudTask("storage", p.SinkMIPS)
	b.Flow(camera, analysis, p.SourceRate)
	b.Flow(analysis, storage, p.ProcessingRate)
	return b.Build(c.graph, c.orch, c.appOptions()...)
}

// newSTM builds the smart traffic management application of a taxi: the
// taxi reports to a traffic manager placed by the orchestrator, which
// informs every traffic light on the taxi's route.
func (c *City) newSTM(t *Taxi) (*application.Application, error) {
	p := c.cfg.Applications.STM
	b := application.NewBuilder("stm_" + t.node.Name())
	car := b.BoundTask("car", p.SourceMIPS, t.node)
	manager := b.Task("traffic_manager", p.ProcessingMIPS)
	b.Flow(car, manager, p.SourceRate)
	for _, loc := range t.route.Interior() {
		tl, ok := c.lightAt[loc]
		if !ok {
			continue
		}
		sink := b.BoundTask("traffic_light_"+tl.node.Name(), p.SinkMIPS, tl.node)
		b.Flow(manager, sink, p.ProcessingRate)
	}
	return b.Build(c.graph, c.orch, c.appOptions()...)
}

func (c *City) observeGraph() {
	if c.recorder != nil {
		c.recorder.SetGraphCounts(c.graph.NodeCount(), c.graph.LinkCount())
	}
}
