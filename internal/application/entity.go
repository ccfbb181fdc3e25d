package application

import (
	"context"
	"time"

	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

// Event kinds handled by an application's kernel entity.
const (
	EventStart = iota + 1
	EventReallocate
	EventStop
)

// entity drives an Application from kernel events. Start and reallocation
// events delivered after the end time are ignored, as are events that went
// stale because the application was stopped in the meantime.
type entity struct{ app *Application }

func (e entity) Name() string               { return e.app.name }
func (e entity) Start(*kernel.Kernel) error { return nil }

func (e entity) Handle(k *kernel.Kernel, ev kernel.Event) error {
	a := e.app
	switch ev.Kind {
	case EventStart:
		if k.Now() > k.End() || a.state == Stopped {
			return nil
		}
		if err := a.Start(); err != nil {
			return err
		}
		if a.realloc > 0 {
			k.Schedule(e, a.realloc, EventReallocate, nil)
		}
	case EventReallocate:
		if k.Now() > k.End() || !a.Running() {
			return nil
		}
		if err := a.Reallocate(); err != nil {
			return err
		}
		k.Schedule(e, a.realloc, EventReallocate, nil)
	case EventStop:
		a.Stop()
	default:
		a.log.Warn(context.Background(), "unknown application event", logging.Int("kind", ev.Kind))
	}
	return nil
}

// Entity returns the kernel entity that drives this application.
func (a *Application) Entity() kernel.Entity { return entity{app: a} }

// Launch schedules the application to start delay from now.
func (a *Application) Launch(k *kernel.Kernel, delay time.Duration) {
	k.Schedule(a.Entity(), delay, EventStart, nil)
}

// Halt schedules the application to stop delay from now.
func (a *Application) Halt(k *kernel.Kernel, delay time.Duration) {
	k.Schedule(a.Entity(), delay, EventStop, nil)
}
