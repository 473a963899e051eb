// Package notify fans state deltas out to consumers at a bounded rate,
// decoupling publish jitter from render cadence.
//
// Rapid updates to one key within a flush window coalesce to the latest
// value, and a consumer that falls behind loses its oldest pending event
// rather than blocking the pipeline: display freshness is prioritized over
// notification completeness.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/signalcore/component"
	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/metric"
	"github.com/c360/signalcore/signal"
	"github.com/c360/signalcore/trip"
)

var _ component.Lifecycle = (*Notifier)(nil)

// Defaults
const (
	// DefaultFlushInterval bounds how often pending deltas are delivered.
	DefaultFlushInterval = 50 * time.Millisecond
	// DefaultSubscriberBuffer is the per-subscriber channel capacity.
	DefaultSubscriberBuffer = 64
)

// KeyAll subscribes to every signal.
const KeyAll signal.Key = ""

// Event is one delivered state delta.
type Event struct {
	Key   signal.Key
	Entry signal.Entry
}

// Subscription is a consumer's handle on the event feed.
type Subscription struct {
	id  string
	key signal.Key
	ch  chan Event

	notifier *Notifier
	closed   atomic.Bool
}

// C returns the subscription's event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.notifier.unsubscribe(s.id)
	}
}

// TripSubscription is a consumer's handle on the trip update feed.
type TripSubscription struct {
	id string
	ch chan trip.State

	notifier *Notifier
	closed   atomic.Bool
}

// C returns the subscription's trip state channel.
func (s *TripSubscription) C() <-chan trip.State {
	return s.ch
}

// Close cancels the subscription.
func (s *TripSubscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.notifier.unsubscribeTrip(s.id)
	}
}

// Deps carries the notifier's dependencies.
type Deps struct {
	// FlushInterval bounds delivery cadence. Zero selects the default.
	FlushInterval time.Duration
	// SubscriberBuffer is the per-subscriber channel capacity. Zero
	// selects the default.
	SubscriberBuffer int

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Notifier delivers coalesced state deltas and trip updates.
type Notifier struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	bufSize int
	limiter *rate.Limiter

	mu       sync.RWMutex
	subs     map[string]*Subscription
	tripSubs map[string]*TripSubscription

	pendingMu   sync.Mutex
	pending     map[signal.Key]signal.Entry
	pendingTrip *trip.State

	kick chan struct{}

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a notifier.
func New(deps Deps) (*Notifier, error) {
	if deps.FlushInterval < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: negative flush interval", errors.ErrInvalidConfig),
			"Notifier", "New", "validate flush interval")
	}
	if deps.FlushInterval == 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.SubscriberBuffer <= 0 {
		deps.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Notifier{
		logger:   deps.Logger.With("component", "notifier"),
		metrics:  deps.Metrics,
		bufSize:  deps.SubscriberBuffer,
		limiter:  rate.NewLimiter(rate.Every(deps.FlushInterval), 1),
		subs:     make(map[string]*Subscription),
		tripSubs: make(map[string]*TripSubscription),
		pending:  make(map[signal.Key]signal.Entry),
		kick:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Initialize prepares the notifier. Present for lifecycle symmetry.
func (n *Notifier) Initialize() error {
	return nil
}

// Start launches the flush loop.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	go n.run(ctx)
	return nil
}

// Stop halts the flush loop after a final drain of pending deltas.
func (n *Notifier) Stop(timeout time.Duration) error {
	var err error
	n.stopOnce.Do(func() {
		close(n.shutdown)

		select {
		case <-n.done:
		case <-time.After(timeout):
			err = errors.WrapTransient(
				fmt.Errorf("flush loop did not stop within %v", timeout),
				"Notifier", "Stop", "wait for shutdown")
		}
	})
	return err
}

// Subscribe registers interest in one key, or every key with KeyAll.
func (n *Notifier) Subscribe(key signal.Key) *Subscription {
	sub := &Subscription{
		id:       uuid.NewString(),
		key:      key,
		ch:       make(chan Event, n.bufSize),
		notifier: n,
	}

	n.mu.Lock()
	n.subs[sub.id] = sub
	n.mu.Unlock()

	return sub
}

// SubscribeTrip registers interest in trip state updates.
func (n *Notifier) SubscribeTrip() *TripSubscription {
	sub := &TripSubscription{
		id:       uuid.NewString(),
		ch:       make(chan trip.State, n.bufSize),
		notifier: n,
	}

	n.mu.Lock()
	n.tripSubs[sub.id] = sub
	n.mu.Unlock()

	return sub
}

func (n *Notifier) unsubscribe(id string) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

func (n *Notifier) unsubscribeTrip(id string) {
	n.mu.Lock()
	delete(n.tripSubs, id)
	n.mu.Unlock()
}

// Publish queues a state delta for delivery. A newer delta for the same
// key within one flush window replaces the pending one (last-write-wins).
// Never blocks.
func (n *Notifier) Publish(key signal.Key, entry signal.Entry) {
	n.pendingMu.Lock()
	if _, exists := n.pending[key]; exists && n.metrics != nil {
		n.metrics.NotificationsCoalesced.Inc()
	}
	n.pending[key] = entry
	n.pendingMu.Unlock()

	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// PublishTrip queues a trip state update, last-write-wins per window.
func (n *Notifier) PublishTrip(s trip.State) {
	n.pendingMu.Lock()
	if n.pendingTrip != nil && n.metrics != nil {
		n.metrics.NotificationsCoalesced.Inc()
	}
	n.pendingTrip = &s
	n.pendingMu.Unlock()

	select {
	case n.kick <- struct{}{}:
	default:
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case <-n.shutdown:
			// Final drain so shutdown does not discard queued deltas
			n.flush()
			return
		case <-ctx.Done():
			return
		case <-n.kick:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			n.flush()
		}
	}
}

// flush swaps out the pending set and delivers it.
func (n *Notifier) flush() {
	n.pendingMu.Lock()
	pending := n.pending
	pendingTrip := n.pendingTrip
	n.pending = make(map[signal.Key]signal.Entry)
	n.pendingTrip = nil
	n.pendingMu.Unlock()

	if len(pending) == 0 && pendingTrip == nil {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for key, entry := range pending {
		ev := Event{Key: key, Entry: entry}
		for _, sub := range n.subs {
			if sub.key != KeyAll && sub.key != key {
				continue
			}
			n.deliver(sub, ev)
		}
	}

	if pendingTrip != nil {
		for _, sub := range n.tripSubs {
			n.deliverTrip(sub, *pendingTrip)
		}
	}
}

// deliver sends without blocking: a full subscriber loses its oldest
// pending event in favor of the newest.
func (n *Notifier) deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		n.recordDelivered()
		return
	default:
	}

	select {
	case <-sub.ch:
		n.recordDropped()
	default:
	}

	select {
	case sub.ch <- ev:
		n.recordDelivered()
	default:
		n.recordDropped()
	}
}

func (n *Notifier) deliverTrip(sub *TripSubscription, s trip.State) {
	select {
	case sub.ch <- s:
		n.recordDelivered()
		return
	default:
	}

	select {
	case <-sub.ch:
		n.recordDropped()
	default:
	}

	select {
	case sub.ch <- s:
		n.recordDelivered()
	default:
		n.recordDropped()
	}
}

func (n *Notifier) recordDelivered() {
	if n.metrics != nil {
		n.metrics.NotificationsDelivered.Inc()
	}
}

func (n *Notifier) recordDropped() {
	if n.metrics != nil {
		n.metrics.NotificationsDropped.Inc()
	}
}
