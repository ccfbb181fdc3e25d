package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "fog_6", cfg.ExperimentName())
	require.Equal(t, "fog_6_1.csv", cfg.ResultFile())
	require.False(t, cfg.ConsolidateMode())
	require.Equal(t, 25, cfg.City.TrafficLights())
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
simulation:
  duration: 5m
  seed: 42
city:
  fog_nodes: 2
nodes:
  fog:
    shutdown_deadline: 5s
taxis:
  count_profile: [0.5, 1]
`))
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, cfg.Simulation.Duration)
	require.Equal(t, uint64(42), cfg.Simulation.Seed)
	require.Equal(t, time.Second, cfg.Simulation.TimeStep, "unset fields keep defaults")
	require.Equal(t, []float64{0.5, 1}, cfg.Taxis.CountProfile)
	require.Equal(t, 400000.0, cfg.Nodes.Fog.MIPS)

	require.Equal(t, "fog_2_shutdown5", cfg.ExperimentName())
	require.True(t, cfg.ConsolidateMode(), "shutdown implies consolidate when unset")
}

func TestParseEmptyInputYieldsDefault(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default().ExperimentName(), cfg.ExperimentName())
}

func TestConsolidateOverride(t *testing.T) {
	cfg, err := Parse(strings.NewReader("nodes:\n  fog:\n    shutdown_deadline: 10s\norchestrator:\n  consolidate: false\n"))
	require.NoError(t, err)
	require.False(t, cfg.ConsolidateMode())
}

func TestCloudOnlyName(t *testing.T) {
	cfg := Default()
	cfg.City.FogNodes = 0
	cfg.Nodes.Fog.ShutdownDeadline = 5 * time.Second
	cfg.Output.Compress = true
	require.Equal(t, "cloud_only", cfg.ExperimentName())
	require.Equal(t, "cloud_only_1.csv.sz", cfg.ResultFile())
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero duration", "simulation:\n  duration: 0s\n", "simulation.duration"},
		{"threshold above one", "orchestrator:\n  threshold: 1.5\n", "orchestrator.threshold"},
		{"empty speed profile", "taxis:\n  speed_profile: []\n", "taxis.speed_profile"},
		{"negative bandwidth", "links:\n  wan_up:\n    bandwidth: -1\n", "links.wan_up.bandwidth"},
		{"too many fog nodes", "city:\n  fog_nodes: 26\n", "city.fog_nodes"},
		{"bad metrics address", "metrics:\n  addr: nope\n", "metrics.addr"},
		{"unknown key", "simulation:\n  durration: 1m\n", "durration"},
		{"bad duration", "simulation:\n  duration: soon\n", "decode config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("city:\n  fog_nodes: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "cloud_only", cfg.ExperimentName())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestShippedShutdownConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "fog_shutdown.yaml"))
	require.NoError(t, err)
	require.Equal(t, "fog_6_shutdown5", cfg.ExperimentName())
	require.True(t, cfg.ConsolidateMode())
	require.Equal(t, "localhost:9090", cfg.Metrics.Addr)
	require.Equal(t, Default().Nodes.Cloud, cfg.Nodes.Cloud)
}
