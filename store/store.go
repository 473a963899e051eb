// Package store holds the canonical, versioned vehicle state: one writer,
// many readers.
//
// All mutation funnels through a command channel consumed by a single run
// loop, so no two writers ever race. Readers never touch the live map:
// every accepted mutation publishes a fresh immutable snapshot through an
// atomic pointer swap, and Get/Snapshot read the latest published snapshot
// without blocking the writer.
package store

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
	"github.com/c360/signalcore/signal"
)

const defaultCommandBuffer = 256

var _ component.Lifecycle = (*Store)(nil)

type commandKind int

const (
	cmdApply commandKind = iota
	cmdMarkStale
)

type command struct {
	kind  commandKind
	key   signal.Key
	value signal.Value
	keys  []signal.Key

	applied chan bool
	changed chan []signal.Key
}

// Store is the vehicle state store.
type Store struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	commands chan command
	snapshot atomic.Pointer[signal.Snapshot]

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a store. Logger and metrics may be nil.
func New(logger *slog.Logger, metrics *metric.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		logger:   logger.With("component", "store"),
		metrics:  metrics,
		commands: make(chan command, defaultCommandBuffer),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	empty := signal.NewSnapshot(map[signal.Key]signal.Entry{}, 0)
	s.snapshot.Store(&empty)

	return s
}

// Initialize prepares the store. Present for lifecycle symmetry.
func (s *Store) Initialize() error {
	return nil
}

// Start launches the single-writer run loop.
func (s *Store) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	go s.run(ctx)
	return nil
}

// Stop shuts the run loop down, waiting up to timeout for it to drain.
func (s *Store) Stop(timeout time.Duration) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		select {
		case <-s.done:
		case <-time.After(timeout):
			err = errors.WrapTransient(
				fmt.Errorf("run loop did not stop within %v", timeout),
				"Store", "Stop", "wait for shutdown")
		}
	})
	return err
}

// Apply submits a decoded value for a key. It returns applied=false when
// the value's sequence number is not strictly greater than the stored one;
// this is a normal discard outcome, not an error. Accepted updates clear
// the stale flag.
func (s *Store) Apply(ctx context.Context, key signal.Key, value signal.Value) (bool, error) {
	cmd := command{
		kind:    cmdApply,
		key:     key,
		value:   value,
		applied: make(chan bool, 1),
	}

	select {
	case s.commands <- cmd:
	case <-s.shutdown:
		return false, errors.ErrStoreClosed
	case <-ctx.Done():
		return false, errors.WrapTransient(ctx.Err(), "Store", "Apply", "submit update")
	}

	select {
	case applied := <-cmd.applied:
		return applied, nil
	case <-s.done:
		return false, errors.ErrStoreClosed
	case <-ctx.Done():
		return false, errors.WrapTransient(ctx.Err(), "Store", "Apply", "await result")
	}
}

// MarkStale flags the given keys stale, keeping their last known values.
// It returns the keys that actually transitioned from fresh to stale.
// Only the staleness monitor calls this; the decode path never does.
func (s *Store) MarkStale(ctx context.Context, keys []signal.Key) ([]signal.Key, error) {
	cmd := command{
		kind:    cmdMarkStale,
		keys:    keys,
		changed: make(chan []signal.Key, 1),
	}

	select {
	case s.commands <- cmd:
	case <-s.shutdown:
		return nil, errors.ErrStoreClosed
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Store", "MarkStale", "submit command")
	}

	select {
	case changed := <-cmd.changed:
		return changed, nil
	case <-s.done:
		return nil, errors.ErrStoreClosed
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Store", "MarkStale", "await result")
	}
}

// Get returns the latest entry for a key from the current snapshot.
func (s *Store) Get(key signal.Key) (signal.Entry, bool) {
	return s.snapshot.Load().Get(key)
}

// Snapshot returns the current immutable point-in-time state view.
func (s *Store) Snapshot() signal.Snapshot {
	return *s.snapshot.Load()
}

// run is the single writer. It owns the live entry map; nothing else ever
// reads or writes it.
func (s *Store) run(ctx context.Context) {
	defer close(s.done)

	entries := make(map[signal.Key]signal.Entry)
	var version uint64

	publish := func() {
		version++
		copied := make(map[signal.Key]signal.Entry, len(entries))
		for k, e := range entries {
			copied[k] = e
		}
		snap := signal.NewSnapshot(copied, version)
		s.snapshot.Store(&snap)
	}

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			switch cmd.kind {
			case cmdApply:
				applied := s.apply(entries, cmd.key, cmd.value)
				if applied {
					publish()
				}
				cmd.applied <- applied

			case cmdMarkStale:
				changed := s.markStale(entries, cmd.keys)
				if len(changed) > 0 {
					publish()
				}
				cmd.changed <- changed
			}
		}
	}
}

// apply mutates the live map. Returns true when the update was accepted.
func (s *Store) apply(entries map[signal.Key]signal.Entry, key signal.Key, value signal.Value) bool {
	if existing, ok := entries[key]; ok && value.Seq <= existing.Seq() {
		if s.metrics != nil {
			s.metrics.RecordUpdateRejected(string(key))
		}
		s.logger.Debug("update rejected",
			"key", key,
			"seq", value.Seq,
			"stored_seq", existing.Seq())
		return false
	}

	entries[key] = signal.Entry{Key: key, Value: value, Stale: false}

	if s.metrics != nil {
		s.metrics.RecordUpdateApplied(string(key))
	}
	return true
}

// markStale flags existing fresh entries stale, preserving their values.
func (s *Store) markStale(entries map[signal.Key]signal.Entry, keys []signal.Key) []signal.Key {
	var changed []signal.Key
	for _, key := range keys {
		e, ok := entries[key]
		if !ok || e.Stale {
			continue
		}
		e.Stale = true
		entries[key] = e
		changed = append(changed, key)
	}
	return changed
}
