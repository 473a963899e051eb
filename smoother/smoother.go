// Package smoother produces a continuous animated speed value from
// discrete samples.
//
// A fixed-cadence sampling loop, independent of signal arrival, pulls the
// latest accepted speed and moves the displayed value toward it with a
// bounded rate of change, so the needle never jumps even when the
// underlying signal updates sparsely or bursts.
package smoother

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/signalcore/component"
	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/pkg/timestamp"
)

var _ component.Lifecycle = (*Smoother)(nil)

// Defaults
const (
	// DefaultInterval is the output cadence (roughly 60 Hz).
	DefaultInterval = 16 * time.Millisecond
	// DefaultMaxRate is the displayed value's maximum rate of change in
	// units per second.
	DefaultMaxRate = 80.0
)

// Source supplies the latest accepted speed. ok is false while no speed
// has been received yet.
type Source func() (value float64, ok bool)

// Deps carries the smoother's dependencies.
type Deps struct {
	// Source is required: reads the latest accepted speed.
	Source Source

	// OnSample receives each interpolated output sample. Invoked from the
	// sampling goroutine; must not block.
	OnSample func(float64)

	// Interval is the output cadence. Zero selects the default.
	Interval time.Duration

	// MaxRate caps the displayed rate of change in units per second.
	// Zero selects the default.
	MaxRate float64

	Logger *slog.Logger
}

// Smoother interpolates the displayed speed.
type Smoother struct {
	source   Source
	onSample func(float64)
	interval time.Duration
	maxRate  float64
	logger   *slog.Logger

	mu        sync.Mutex
	displayed float64
	primed    bool
	lastStep  int64

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a smoother.
func New(deps Deps) (*Smoother, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: source is required", errors.ErrMissingConfig),
			"Smoother", "New", "validate dependencies")
	}
	if deps.Interval < 0 || deps.MaxRate < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: interval and max rate must be non-negative", errors.ErrInvalidConfig),
			"Smoother", "New", "validate configuration")
	}
	if deps.Interval == 0 {
		deps.Interval = DefaultInterval
	}
	if deps.MaxRate == 0 {
		deps.MaxRate = DefaultMaxRate
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Smoother{
		source:   deps.Source,
		onSample: deps.OnSample,
		interval: deps.Interval,
		maxRate:  deps.MaxRate,
		logger:   deps.Logger.With("component", "smoother"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Initialize prepares the smoother. Present for lifecycle symmetry.
func (s *Smoother) Initialize() error {
	return nil
}

// Start launches the fixed-cadence sampling loop.
func (s *Smoother) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	go s.run(ctx)
	return nil
}

// Stop halts the sampling loop.
func (s *Smoother) Stop(timeout time.Duration) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		select {
		case <-s.done:
		case <-time.After(timeout):
			err = errors.WrapTransient(
				fmt.Errorf("sampling loop did not stop within %v", timeout),
				"Smoother", "Stop", "wait for shutdown")
		}
	})
	return err
}

// Step advances the displayed value toward the current source value,
// bounding the change by maxRate over the elapsed time since the previous
// step. Pure apart from the retained displayed value: given the same step
// times and source values it always produces the same outputs.
func (s *Smoother) Step(now int64) float64 {
	target, ok := s.source()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ok {
		s.lastStep = now
		return s.displayed
	}

	if !s.primed {
		// First sample snaps: there is no previous displayed value to
		// animate from
		s.primed = true
		s.displayed = target
		s.lastStep = now
		return s.displayed
	}

	dt := now - s.lastStep
	s.lastStep = now
	if dt <= 0 {
		return s.displayed
	}

	maxDelta := s.maxRate * float64(dt) / 1000.0
	delta := target - s.displayed
	if math.Abs(delta) <= maxDelta {
		s.displayed = target
	} else if delta > 0 {
		s.displayed += maxDelta
	} else {
		s.displayed -= maxDelta
	}

	return s.displayed
}

// Displayed returns the current interpolated value.
func (s *Smoother) Displayed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed
}

func (s *Smoother) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := s.Step(timestamp.Now())
			if s.onSample != nil {
				s.onSample(v)
			}
		}
	}
}
