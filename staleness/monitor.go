// Package staleness flags signals whose last update is older than their
// class timeout. Flags are set only here; the decode path clears them
// implicitly by applying fresh values through the store.
package staleness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/signalcore/component"
	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/metric"
	"github.com/c360/signalcore/natsclient"
	"github.com/c360/signalcore/pkg/timestamp"
	"github.com/c360/signalcore/signal"
	"github.com/c360/signalcore/store"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 250 * time.Millisecond

var _ component.Lifecycle = (*Monitor)(nil)

// Deps carries the monitor's dependencies.
type Deps struct {
	Store *store.Store

	// Timeouts maps each monitored key to its freshness timeout. Keys
	// without an entry are never flagged.
	Timeouts map[signal.Key]time.Duration

	// Interval is the sweep period. Zero selects DefaultInterval.
	Interval time.Duration

	// OnChange is invoked with the keys that transitioned to stale during
	// a sweep. Invoked from the monitor goroutine; must not block.
	OnChange func([]signal.Key)

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Monitor periodically sweeps the store for stale signals.
type Monitor struct {
	store    *store.Store
	timeouts map[signal.Key]time.Duration
	interval time.Duration
	onChange func([]signal.Key)
	logger   *slog.Logger
	metrics  *metric.Metrics

	sweepAll chan struct{}

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a staleness monitor.
func New(deps Deps) (*Monitor, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: store is required", errors.ErrMissingConfig),
			"Monitor", "New", "validate dependencies")
	}
	if deps.Interval < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: negative sweep interval", errors.ErrInvalidConfig),
			"Monitor", "New", "validate interval")
	}
	if deps.Interval == 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	timeouts := make(map[signal.Key]time.Duration, len(deps.Timeouts))
	for k, d := range deps.Timeouts {
		if d <= 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: timeout for %s must be positive", errors.ErrInvalidConfig, k),
				"Monitor", "New", "validate timeouts")
		}
		timeouts[k] = d
	}

	return &Monitor{
		store:    deps.Store,
		timeouts: timeouts,
		interval: deps.Interval,
		onChange: deps.OnChange,
		logger:   deps.Logger.With("component", "staleness"),
		metrics:  deps.Metrics,
		sweepAll: make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Initialize prepares the monitor. Present for lifecycle symmetry.
func (m *Monitor) Initialize() error {
	return nil
}

// Start launches the periodic sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	go m.run(ctx)
	return nil
}

// Stop halts the sweep loop.
func (m *Monitor) Stop(timeout time.Duration) error {
	var err error
	m.stopOnce.Do(func() {
		close(m.shutdown)

		select {
		case <-m.done:
		case <-time.After(timeout):
			err = errors.WrapTransient(
				fmt.Errorf("sweep loop did not stop within %v", timeout),
				"Monitor", "Stop", "wait for shutdown")
		}
	})
	return err
}

// HandleStatus reacts to transport status transitions. Loss of the
// connection sweeps every monitored signal immediately so the display
// reflects the outage within one frame instead of after the full timeout.
// Satisfies natsclient.StatusListener.
func (m *Monitor) HandleStatus(status natsclient.ConnectionStatus) {
	switch status {
	case natsclient.StatusDisconnected, natsclient.StatusReconnecting, natsclient.StatusCircuitOpen:
		select {
		case m.sweepAll <- struct{}{}:
		default:
			// A full sweep is already pending
		}
	default:
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, false)
		case <-m.sweepAll:
			m.logger.Info("transport lost, sweeping all signals")
			m.sweep(ctx, true)
		}
	}
}

// sweep flags timed-out signals stale. With force it flags every stored
// signal regardless of age, including keys that carry no freshness
// timeout: a transport loss invalidates everything.
func (m *Monitor) sweep(ctx context.Context, force bool) {
	now := timestamp.Now()

	var expired []signal.Key
	if force {
		m.store.Snapshot().Range(func(entry signal.Entry) bool {
			if !entry.Stale {
				expired = append(expired, entry.Key)
			}
			return true
		})
	} else {
		for key, timeout := range m.timeouts {
			entry, ok := m.store.Get(key)
			if !ok || entry.Stale {
				continue
			}
			if now-entry.UpdatedAt() > timeout.Milliseconds() {
				expired = append(expired, key)
			}
		}
	}

	if len(expired) == 0 {
		m.updateGauge()
		return
	}

	changed, err := m.store.MarkStale(ctx, expired)
	if err != nil {
		if !errors.Is(err, errors.ErrStoreClosed) {
			m.logger.Error("stale sweep failed", "error", err)
		}
		return
	}

	if len(changed) > 0 {
		m.logger.Debug("signals went stale", "keys", changed, "forced", force)
		if m.onChange != nil {
			m.onChange(changed)
		}
	}

	m.updateGauge()
}

// updateGauge publishes the current stale signal count.
func (m *Monitor) updateGauge() {
	if m.metrics == nil {
		return
	}

	count := 0
	m.store.Snapshot().Range(func(e signal.Entry) bool {
		if e.Stale {
			count++
		}
		return true
	})
	m.metrics.RecordStaleSignals(count)
}
