package kernel

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

// Event is a timed message delivered to an Entity. Kind values are defined
// by each entity package; the kernel never interprets them.
type Event struct {
	At      time.Duration
	Kind    int
	Payload any
}

// Entity is the behaviour the kernel drives. Start runs once when the
// simulation begins (or on registration if it is already running), Handle
// runs for every event addressed to the entity.
type Entity interface {
	Name() string
	Start(k *Kernel) error
	Handle(k *Kernel, ev Event) error
}

// Finisher is implemented by entities that need to act at the end of the
// simulation, e.g. to stop still-running applications.
type Finisher interface {
	Finish(k *Kernel) error
}

// MetricsRecorder receives kernel activity. Implementations must be cheap;
// they are called once per delivered event.
type MetricsRecorder interface {
	ObserveEvent(entity string, handler time.Duration)
	SetQueueDepth(n int)
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger.
func WithLogger(l logging.Logger) Option {
	return func(k *Kernel) { k.log = logging.OrNoop(l) }
}

// WithMetricsRecorder attaches a recorder for delivered events.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(k *Kernel) { k.metrics = r }
}

// Kernel is a single-threaded discrete-event scheduler. Events are delivered
// in time order; events at the same time are delivered in the order they
// were scheduled. Scheduled events cannot be revoked, so receivers re-check
// their guards on delivery. Events past the end time are never delivered.
//
// A Kernel is not safe for concurrent use.
type Kernel struct {
	now time.Duration
	end time.Duration
	seq uint64

	queue    eventQueue
	entities []Entity

	started  bool
	finished bool

	log     logging.Logger
	metrics MetricsRecorder
}

// New returns a kernel whose simulation ends at end.
func New(end time.Duration, opts ...Option) *Kernel {
	k := &Kernel{end: end, log: logging.Noop()}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Now returns the current simulation time.
func (k *Kernel) Now() time.Duration { return k.now }

// End returns the configured simulation end time.
func (k *Kernel) End() time.Duration { return k.end }

// Running reports whether the simulation has started and not yet finished.
func (k *Kernel) Running() bool { return k.started && !k.finished }

// Finished reports whether the end-of-simulation hooks have run.
func (k *Kernel) Finished() bool { return k.finished }

// Pending returns the number of queued events.
func (k *Kernel) Pending() int { return k.queue.Len() }

// Register adds an entity. If the simulation is already running the entity
// is started immediately.
func (k *Kernel) Register(e Entity) error {
	if k.finished {
		return fmt.Errorf("kernel: register %s after end of simulation", e.Name())
	}
	k.entities = append(k.entities, e)
	if !k.started {
		return nil
	}
	if err := e.Start(k); err != nil {
		return fmt.Errorf("kernel: start %s at %s: %w", e.Name(), k.now, err)
	}
	return nil
}

// Schedule queues an event for target, delivered delay after now. Negative
// delays are treated as zero.
func (k *Kernel) Schedule(target Entity, delay time.Duration, kind int, payload any) {
	k.push(item{target: target, ev: Event{Kind: kind, Payload: payload}}, delay)
}

// After queues fn to run delay after now. It is the kernel-level deferred
// callback used for cross-cutting timers.
func (k *Kernel) After(delay time.Duration, fn func()) {
	k.push(item{fn: fn}, delay)
}

func (k *Kernel) push(it item, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	k.seq++
	it.at = k.now + delay
	it.ev.At = it.at
	it.seq = k.seq
	heap.Push(&k.queue, it)
	if k.metrics != nil {
		k.metrics.SetQueueDepth(k.queue.Len())
	}
}

// RunUntil delivers every event with a time at or before min(t, End()) and
// leaves the clock at that bound. Reaching the end time runs the finish hooks.
func (k *Kernel) RunUntil(t time.Duration) error {
	if k.finished {
		return nil
	}
	if err := k.start(); err != nil {
		return err
	}
	bound := min(t, k.end)
	for k.queue.Len() > 0 && k.queue[0].at <= bound {
		if err := k.step(); err != nil {
			return err
		}
	}
	if bound > k.now {
		k.now = bound
	}
	if bound >= k.end {
		return k.finish()
	}
	return nil
}

// Advance is RunUntil shaped as a timectrl listener.
func (k *Kernel) Advance(simTime time.Duration) error { return k.RunUntil(simTime) }

// Run delivers events until the end time or until ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	if k.finished {
		return nil
	}
	if err := k.start(); err != nil {
		return err
	}
	for k.queue.Len() > 0 && k.queue[0].at <= k.end {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.step(); err != nil {
			return err
		}
	}
	k.now = k.end
	return k.finish()
}

func (k *Kernel) start() error {
	if k.started {
		return nil
	}
	k.started = true
	k.log.Info(context.Background(), "simulation started",
		logging.Int("entities", len(k.entities)),
		logging.Duration("end", k.end),
	)
	// Entities registered from another entity's Start are started by Register.
	initial := append([]Entity(nil), k.entities...)
	for _, e := range initial {
		if err := e.Start(k); err != nil {
			return fmt.Errorf("kernel: start %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (k *Kernel) step() error {
	it := heap.Pop(&k.queue).(item)
	k.now = it.at

	var began time.Time
	if k.metrics != nil {
		began = time.Now()
	}

	name := "callback"
	if it.fn != nil {
		it.fn()
	} else {
		name = it.target.Name()
		if err := it.target.Handle(k, it.ev); err != nil {
			return fmt.Errorf("kernel: t=%s %s event %d: %w", k.now, name, it.ev.Kind, err)
		}
	}

	if k.metrics != nil {
		k.metrics.ObserveEvent(name, time.Since(began))
		k.metrics.SetQueueDepth(k.queue.Len())
	}
	return nil
}

func (k *Kernel) finish() error {
	if k.finished {
		return nil
	}
	k.finished = true
	for _, e := range k.entities {
		f, ok := e.(Finisher)
		if !ok {
			continue
		}
		if err := f.Finish(k); err != nil {
			return fmt.Errorf("kernel: finish %s: %w", e.Name(), err)
		}
	}
	k.log.Info(context.Background(), "simulation finished",
		logging.Duration("sim_time", k.now),
		logging.Int("undelivered", k.queue.Len()),
	)
	return nil
}

type item struct {
	at     time.Duration
	seq    uint64
	target Entity
	ev     Event
	fn     func()
}

// eventQueue is a min-heap on (at, seq).
type eventQueue []item

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*q = old[:n-1]
	return it
}
