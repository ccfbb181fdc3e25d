package city

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/leaf-simulator/core"
	"github.com/signalsfoundry/leaf-simulator/internal/application"
	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
)

const eventStartCCTV = 1

// TrafficLight is the kernel entity of a traffic light system. Shortly after
// the simulation starts it launches the crossing's CCTV application.
type TrafficLight struct {
	city     *City
	node     *core.ComputeNode
	location core.Location
	app      *application.Application
}

func (t *TrafficLight) Name() string                          { return t.node.Name() }
func (t *TrafficLight) Node() *core.ComputeNode               { return t.node }
func (t *TrafficLight) Location() core.Location               { return t.location }
func (t *TrafficLight) Application() *application.Application { return t.app }

// Start staggers the CCTV start by a random offset below one second.
func (t *TrafficLight) Start(k *kernel.Kernel) error {
	offset := time.Duration(t.city.rng.Float64() * float64(time.Second))
	k.Schedule(t, offset, eventStartCCTV, nil)
	return nil
}

func (t *TrafficLight) Handle(k *kernel.Kernel, ev kernel.Event) error {
	if ev.Kind != eventStartCCTV {
		return fmt.Errorf("traffic light %s: unexpected event kind %d", t.Name(), ev.Kind)
	}
	app, err := t.city.newCCTV(t)
	if err != nil {
		return err
	}
	t.app = app
	t.city.cctv.Add(app)
	app.Launch(k, 0)
	return nil
}

// Finish stops the CCTV application so every reservation is returned.
func (t *TrafficLight) Finish(*kernel.Kernel) error {
	if t.app != nil {
		t.app.Stop()
	}
	return nil
}
