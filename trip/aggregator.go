// Package trip accumulates distance, duration and average speed over a
// bounded driving session.
//
// The aggregator is a two-state machine, Idle and Active, with exactly two
// transitions: an explicit trip start (Idle to Active) and an explicit
// reset (Active to Idle). Accumulators never reset implicitly.
package trip

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/pkg/timestamp"
)

// DefaultMaxSampleGap caps the Δt credited between consecutive speed
// samples, so a single stale gap after a long pause cannot inflate the
// distance.
const DefaultMaxSampleGap = 5 * time.Second

// State is the externally visible trip state. Speeds are km/h, distances
// km, timestamps Unix milliseconds.
type State struct {
	Active           bool          `json:"active"`
	StartedAt        int64         `json:"started_at"`
	Distance         float64       `json:"distance"`
	Duration         time.Duration `json:"duration"`
	AverageSpeed     float64       `json:"average_speed"`
	OdometerBaseline float64       `json:"odometer_baseline"`
}

// Aggregator derives trip state from accepted speed samples.
type Aggregator struct {
	mu sync.Mutex

	active       bool
	startedAt    int64
	distance     float64
	baseline     float64
	lastSampleAt int64

	maxGap   time.Duration
	onUpdate func(State)
	logger   *slog.Logger
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithMaxSampleGap overrides the Δt cap between consecutive samples.
func WithMaxSampleGap(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.maxGap = d
		}
	}
}

// WithUpdateCallback registers a callback invoked with the new state after
// every mutation. Called with the aggregator lock released.
func WithUpdateCallback(fn func(State)) Option {
	return func(a *Aggregator) {
		a.onUpdate = fn
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger.With("component", "trip")
		}
	}
}

// New creates an idle aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		maxGap: DefaultMaxSampleGap,
		logger: slog.Default().With("component", "trip"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins a new trip with the given odometer baseline. Starting an
// already-active trip is rejected; Idle to Active is the only way in.
func (a *Aggregator) Start(odometerBaseline float64) error {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("trip already active"),
			"Aggregator", "Start", "check state")
	}

	a.active = true
	a.startedAt = timestamp.Now()
	a.distance = 0
	a.baseline = odometerBaseline
	a.lastSampleAt = 0
	state := a.stateLocked()
	a.mu.Unlock()

	a.logger.Info("trip started", "odometer_baseline", odometerBaseline)
	a.notify(state)
	return nil
}

// Resume restores a previously persisted trip, continuing its accumulators.
func (a *Aggregator) Resume(saved State) error {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("trip already active"),
			"Aggregator", "Resume", "check state")
	}

	a.active = saved.Active
	a.startedAt = saved.StartedAt
	a.distance = saved.Distance
	a.baseline = saved.OdometerBaseline
	a.lastSampleAt = 0
	state := a.stateLocked()
	a.mu.Unlock()

	a.logger.Info("trip resumed",
		"distance", saved.Distance,
		"odometer_baseline", saved.OdometerBaseline)
	a.notify(state)
	return nil
}

// Reset ends the trip and clears all accumulators. Resetting an idle
// aggregator is a no-op.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}

	a.active = false
	a.startedAt = 0
	a.distance = 0
	a.baseline = 0
	a.lastSampleAt = 0
	state := a.stateLocked()
	a.mu.Unlock()

	a.logger.Info("trip reset")
	a.notify(state)
}

// ObserveSpeed integrates an accepted speed sample (km/h) taken at the
// given Unix-ms timestamp. Idle trips ignore samples. Negative speeds
// clamp to zero so distance stays non-decreasing.
func (a *Aggregator) ObserveSpeed(speed float64, at int64) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}

	if speed < 0 {
		speed = 0
	}

	if a.lastSampleAt > 0 && at > a.lastSampleAt {
		dt := at - a.lastSampleAt
		if max := a.maxGap.Milliseconds(); dt > max {
			dt = max
		}
		a.distance += speed * float64(dt) / float64(time.Hour.Milliseconds())
	}
	a.lastSampleAt = at

	state := a.stateLocked()
	a.mu.Unlock()

	a.notify(state)
}

// State returns the current trip state. Duration is wall-clock elapsed
// since trip start; a zero duration yields an average speed of zero.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Aggregator) stateLocked() State {
	s := State{
		Active:           a.active,
		StartedAt:        a.startedAt,
		Distance:         a.distance,
		OdometerBaseline: a.baseline,
	}

	if a.active && a.startedAt > 0 {
		s.Duration = timestamp.Since(a.startedAt)
	}

	if hours := s.Duration.Hours(); hours > 0 {
		s.AverageSpeed = s.Distance / hours
	}

	return s
}

func (a *Aggregator) notify(s State) {
	if a.onUpdate != nil {
		a.onUpdate(s)
	}
}
