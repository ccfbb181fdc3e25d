package power

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/leaf-simulator/internal/kernel"
	"github.com/signalsfoundry/leaf-simulator/internal/logging"
)

const eventSample = 1

// Recorder receives every sample as it is taken.
type Recorder interface {
	ObservePower(meter string, s Sample)
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithRecorder forwards samples to r.
func WithRecorder(r Recorder) SamplerOption {
	return func(s *Sampler) { s.recorder = r }
}

// WithSink calls fn after every sampling round with the round's samples in
// meter order.
func WithSink(fn func(now time.Duration, samples []Sample)) SamplerOption {
	return func(s *Sampler) { s.sinks = append(s.sinks, fn) }
}

// WithSamplerLogger sets the sampler logger.
func WithSamplerLogger(l logging.Logger) SamplerOption {
	return func(s *Sampler) { s.log = logging.OrNoop(l) }
}

// Sampler is the kernel entity that samples every meter at a fixed
// interval, first at one interval after the start.
type Sampler struct {
	interval time.Duration
	meters   []*Meter
	recorder Recorder
	sinks    []func(time.Duration, []Sample)
	log      logging.Logger
}

// NewSampler returns a sampler over meters.
func NewSampler(interval time.Duration, meters []*Meter, opts ...SamplerOption) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("power: sampling interval must be positive, got %s", interval)
	}
	s := &Sampler{interval: interval, meters: meters, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sampler) Name() string     { return "power_sampler" }
func (s *Sampler) Meters() []*Meter { return s.meters }

// Meter returns the meter called name, or nil.
func (s *Sampler) Meter(name string) *Meter {
	for _, m := range s.meters {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

func (s *Sampler) Start(k *kernel.Kernel) error {
	k.Schedule(s, s.interval, eventSample, nil)
	return nil
}

func (s *Sampler) Handle(k *kernel.Kernel, ev kernel.Event) error {
	if ev.Kind != eventSample {
		return fmt.Errorf("power sampler: unexpected event kind %d", ev.Kind)
	}
	now := k.Now()
	round := make([]Sample, len(s.meters))
	for i, m := range s.meters {
		round[i] = m.Sample(now)
		if s.recorder != nil {
			s.recorder.ObservePower(m.Name(), round[i])
		}
	}
	for _, fn := range s.sinks {
		fn(now, round)
	}
	s.log.Debug(context.Background(), "power sampled", logging.Duration("sim_time", now))
	k.Schedule(s, s.interval, eventSample, nil)
	return nil
}
