// Package config holds the experiment configuration: its defaults, YAML
// loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config describes one experiment run.
type Config struct {
	Simulation   Simulation   `yaml:"simulation"`
	City         City         `yaml:"city"`
	Nodes        Nodes        `yaml:"nodes"`
	Links        Links        `yaml:"links"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Applications Applications `yaml:"applications"`
	Taxis        Taxis        `yaml:"taxis"`
	Output       Output       `yaml:"output"`
	Metrics      Endpoint     `yaml:"metrics"`
	API          Endpoint     `yaml:"api"`
}

// Simulation holds the run length, seed and the periodic intervals.
type Simulation struct {
	Duration time.Duration `yaml:"duration" validate:"gt=0"`
	Seed     uint64        `yaml:"seed"`
	TimeStep time.Duration `yaml:"time_step" validate:"gt=0"`

	PowerMeasurementInterval time.Duration `yaml:"power_measurement_interval" validate:"gt=0"`
	WifiReallocationInterval time.Duration `yaml:"wifi_reallocation_interval" validate:"gt=0"`
	// ApplicationReallocationInterval of zero disables periodic reallocation.
	ApplicationReallocationInterval time.Duration `yaml:"application_reallocation_interval" validate:"gte=0"`
}

// City describes the street grid and its infrastructure.
type City struct {
	Width          float64 `yaml:"width" validate:"gt=0"`
	Height         float64 `yaml:"height" validate:"gt=0"`
	StreetsPerAxis int     `yaml:"streets_per_axis" validate:"gte=1"`
	FogNodes       int     `yaml:"fog_nodes" validate:"gte=0"`
	WifiRange      float64 `yaml:"wifi_range" validate:"gt=0"`
}

// TrafficLights is the number of traffic light systems in the grid.
func (c City) TrafficLights() int { return c.StreetsPerAxis * c.StreetsPerAxis }

// Nodes holds the capacities and power coefficients of every node class.
type Nodes struct {
	Cloud        SharedHost `yaml:"cloud"`
	Fog          FogHost    `yaml:"fog"`
	TrafficLight SharedHost `yaml:"traffic_light"`
	Taxi         SharedHost `yaml:"taxi"`
}

// SharedHost is a host whose power is proportional to the MIPS in use.
type SharedHost struct {
	MIPS        float64 `yaml:"mips" validate:"gt=0"`
	WattPerMIPS float64 `yaml:"watt_per_mips" validate:"gte=0"`
}

// FogHost is a fog data centre with a linear power model.
type FogHost struct {
	MIPS            float64 `yaml:"mips" validate:"gt=0"`
	StaticWatts     float64 `yaml:"static_watts" validate:"gte=0"`
	MaxDynamicWatts float64 `yaml:"max_dynamic_watts" validate:"gte=0"`
	// ShutdownDeadline is how long an idle fog node stays powered. A
	// negative value disables idle shutdown.
	ShutdownDeadline time.Duration `yaml:"shutdown_deadline"`
}

// ShutdownEnabled reports whether idle fog nodes power off.
func (f FogHost) ShutdownEnabled() bool { return f.ShutdownDeadline >= 0 }

// Links holds one profile per link kind.
type Links struct {
	Wan          Link `yaml:"wan"`
	WanUp        Link `yaml:"wan_up"`
	WanDown      Link `yaml:"wan_down"`
	Ethernet     Link `yaml:"ethernet"`
	WifiApToAp   Link `yaml:"wifi_ap_to_ap"`
	WifiTaxiToAp Link `yaml:"wifi_taxi_to_ap"`
}

// Link is the profile of one link kind.
type Link struct {
	Bandwidth            float64 `yaml:"bandwidth" validate:"gt=0"`
	LatencyMs            float64 `yaml:"latency_ms" validate:"gte=0"`
	EnergyPerBit         float64 `yaml:"energy_per_bit" validate:"gte=0"`
	AmplifierDissipation float64 `yaml:"amplifier_dissipation" validate:"gte=0"`
}

// Orchestrator configures task placement.
type Orchestrator struct {
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	// Consolidate selects consolidate mode. Unset means consolidate exactly
	// when fog idle shutdown is enabled.
	Consolidate *bool `yaml:"consolidate"`
}

// Applications holds the CCTV and STM application shapes.
type Applications struct {
	CCTV Pipeline `yaml:"cctv"`
	STM  Pipeline `yaml:"stm"`
}

// Pipeline is a source -> processing -> sink application shape. SourceRate
// is the bit rate from source to processing, ProcessingRate from processing
// to each sink.
type Pipeline struct {
	SourceMIPS     float64 `yaml:"source_mips" validate:"gte=0"`
	ProcessingMIPS float64 `yaml:"processing_mips" validate:"gte=0"`
	SinkMIPS       float64 `yaml:"sink_mips" validate:"gte=0"`
	SourceRate     float64 `yaml:"source_rate" validate:"gte=0"`
	ProcessingRate float64 `yaml:"processing_rate" validate:"gte=0"`
}

// Taxis configures taxi demand and movement.
type Taxis struct {
	MaxPerMinute float64 `yaml:"max_per_minute" validate:"gte=0"`
	// CountProfile scales MaxPerMinute for each simulated minute, cycling.
	CountProfile []float64 `yaml:"count_profile" validate:"min=1,dive,gte=0,lte=1"`
	// SpeedProfile is the taxi speed in m/s for each simulated minute, cycling.
	SpeedProfile     []float64 `yaml:"speed_profile" validate:"min=1,dive,gt=0"`
	MinRouteFraction float64   `yaml:"min_route_fraction" validate:"gte=0,lt=1"`
}

// Output configures result files.
type Output struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

// Endpoint is an optional listen address; empty disables the server.
type Endpoint struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the reference smart-city experiment.
func Default() Config {
	wifi := Link{Bandwidth: 1.6e9, LatencyMs: 2, EnergyPerBit: 50e-9, AmplifierDissipation: 100e-12}
	wan := Link{Bandwidth: 1e12, LatencyMs: 100, EnergyPerBit: 6658e-9}
	return Config{
		Simulation: Simulation{
			Duration:                        30 * time.Minute,
			Seed:                            1,
			TimeStep:                        time.Second,
			PowerMeasurementInterval:        10 * time.Second,
			WifiReallocationInterval:        10 * time.Second,
			ApplicationReallocationInterval: 10 * time.Second,
		},
		City: City{
			Width:          3000,
			Height:         3000,
			StreetsPerAxis: 5,
			FogNodes:       6,
			WifiRange:      600,
		},
		Nodes: Nodes{
			Cloud:        SharedHost{MIPS: 1e14, WattPerMIPS: 700e-6},
			Fog:          FogHost{MIPS: 400000, StaticWatts: 30, MaxDynamicWatts: 170, ShutdownDeadline: -1},
			TrafficLight: SharedHost{MIPS: 10000},
			Taxi:         SharedHost{MIPS: 10000},
		},
		Links: Links{
			Wan:          wan,
			WanUp:        wan,
			WanDown:      wan,
			Ethernet:     Link{Bandwidth: 1e10, LatencyMs: 1},
			WifiApToAp:   wifi,
			WifiTaxiToAp: wifi,
		},
		Orchestrator: Orchestrator{Threshold: 0.8},
		Applications: Applications{
			CCTV: Pipeline{SourceMIPS: 50, ProcessingMIPS: 20000, SinkMIPS: 100, SourceRate: 5e6, ProcessingRate: 0.1e6},
			STM:  Pipeline{SourceMIPS: 50, ProcessingMIPS: 5000, SinkMIPS: 50, SourceRate: 100e3, ProcessingRate: 100e3},
		},
		Taxis: Taxis{
			MaxPerMinute:     20,
			CountProfile:     []float64{0.6, 0.7, 0.8, 0.9, 1, 1, 0.9, 0.8, 0.7, 0.6},
			SpeedProfile:     []float64{8},
			MinRouteFraction: 0.5,
		},
		Output: Output{Dir: "results"},
	}
}

// Load reads a YAML file and overlays it on Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.City.FogNodes > c.City.TrafficLights() {
		return fmt.Errorf("city.fog_nodes: %d fog nodes but only %d traffic lights to host them", c.City.FogNodes, c.City.TrafficLights())
	}
	if c.Simulation.TimeStep > time.Minute {
		return fmt.Errorf("simulation.time_step: must not exceed 1m, got %s", c.Simulation.TimeStep)
	}
	return nil
}

// ConsolidateMode reports whether the orchestrator packs fog nodes.
func (c Config) ConsolidateMode() bool {
	if c.Orchestrator.Consolidate != nil {
		return *c.Orchestrator.Consolidate
	}
	return c.Nodes.Fog.ShutdownEnabled()
}

// ExperimentName identifies the infrastructure variant: cloud_only, fog_<n>
// or fog_<n>_shutdown<seconds>.
func (c Config) ExperimentName() string {
	if c.City.FogNodes <= 0 {
		return "cloud_only"
	}
	name := fmt.Sprintf("fog_%d", c.City.FogNodes)
	if c.Nodes.Fog.ShutdownEnabled() {
		name += fmt.Sprintf("_shutdown%d", int64(c.Nodes.Fog.ShutdownDeadline/time.Second))
	}
	return name
}

// ResultFile is the CSV file name for this experiment and seed.
func (c Config) ResultFile() string {
	name := fmt.Sprintf("%s_%d.csv", c.ExperimentName(), c.Simulation.Seed)
	if c.Output.Compress {
		name += ".sz"
	}
	return name
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		param := e.Param()

		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s: must be greater than %s", field, param))
		case "gte", "min":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s", field, param))
		case "lt":
			msgs = append(msgs, fmt.Sprintf("%s: must be less than %s", field, param))
		case "lte", "max":
			msgs = append(msgs, fmt.Sprintf("%s: must not exceed %s", field, param))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
