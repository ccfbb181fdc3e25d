package application

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
)

// countingNetwork counts route lookups to observe reallocation ticks.
type countingNetwork struct {
	*core.InfrastructureGraph
	routes int
}

func (n *countingNetwork) ShortestPath(src, dst core.NodeID) (core.Path, error) {
	n.routes++
	return n.InfrastructureGraph.ShortestPath(src, dst)
}

func TestEntityStartsAndReallocatesUntilStopped(t *testing.T) {
	s := newScene(t)
	net := &countingNetwork{InfrastructureGraph: s.graph}

	b := NewBuilder("stm")
	src := b.BoundTask("car", 1, s.ap)
	b.Flow(src, b.BoundTask("tls", 1, s.fog), 5)
	app, err := b.Build(net, nil, WithReallocation(10*time.Second))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	k := kernel.New(time.Minute)
	app.Launch(k, time.Second)
	app.Halt(k, 35*time.Second)

	if err := k.RunUntil(time.Second); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if !app.Running() || net.routes != 1 {
		t.Fatalf("after launch running=%v routes=%d", app.Running(), net.routes)
	}

	// Reallocations at 11, 21 and 31 s, then the stop at 35 s ends the timer.
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if net.routes != 4 {
		t.Fatalf("route lookups = %d, want 4", net.routes)
	}
	if app.State() != Stopped || s.apFog.Used() != 0 {
		t.Fatalf("state=%s link used=%v after stop", app.State(), s.apFog.Used())
	}
}

func TestEntityIgnoresStartAfterEnd(t *testing.T) {
	s := newScene(t)
	app := s.pipeline(t, 1, 1, 1)

	k := kernel.New(5 * time.Second)
	if err := k.RunUntil(5 * time.Second); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	// The kernel is finished; a late start is never delivered.
	app.Launch(k, 0)
	if err := k.RunUntil(10 * time.Second); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if app.State() != Created {
		t.Fatalf("state = %s, want created", app.State())
	}
}

func TestEntityPropagatesStartFailure(t *testing.T) {
	s := newScene(t)
	s.graph.RemoveLink(s.fogCl.ID())
	app := s.pipeline(t, 1, 1, 1)

	k := kernel.New(time.Minute)
	app.Launch(k, 0)
	if err := k.Run(context.Background()); err == nil {
		t.Fatalf("Run succeeded although the application has no route")
	}
}
