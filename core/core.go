// Package core wires the ingestion pipeline together: transport session,
// decoder, state store, staleness monitor, trip aggregator, change
// notifier and speed smoother, behind one lifecycle.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/signalcore/component"
	"github.com/c360/signalcore/config"
	"github.com/c360/signalcore/decode"
	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/metric"
	"github.com/c360/signalcore/natsclient"
	"github.com/c360/signalcore/notify"
	"github.com/c360/signalcore/pkg/retry"
	"github.com/c360/signalcore/pkg/timestamp"
	"github.com/c360/signalcore/schema"
	"github.com/c360/signalcore/signal"
	"github.com/c360/signalcore/smoother"
	"github.com/c360/signalcore/staleness"
	"github.com/c360/signalcore/store"
	"github.com/c360/signalcore/trip"
)

var (
	_ component.Lifecycle    = (*Core)(nil)
	_ component.Discoverable = (*Core)(nil)
)

// Consumer is the UI-facing interface. The core never calls into rendering
// code directly; consumers receive deltas and trip updates on their own
// goroutine and read snapshots for the initial paint.
type Consumer interface {
	OnStateChanged(key signal.Key, entry signal.Entry)
	OnTripUpdated(state trip.State)
}

// Deps carries the core's dependencies. Config is required; everything
// else has working defaults.
type Deps struct {
	Config *config.Config

	// Descriptors is the decode descriptor set. Nil selects the stock
	// dashboard descriptors.
	Descriptors []schema.Descriptor

	// Client overrides the transport client, used by tests to run the
	// pipeline without a live bus.
	Client *natsclient.Client

	// OnSpeedSample receives smoothed speedometer samples when the
	// smoother is enabled. Must not block.
	OnSpeedSample func(float64)

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Core owns the ingestion pipeline.
type Core struct {
	cfg         *config.Config
	descriptors []schema.Descriptor
	registry    *schema.Registry
	logger      *slog.Logger
	metrics     *metric.Registry

	client     *natsclient.Client
	decoder    *decode.Decoder
	store      *store.Store
	monitor    *staleness.Monitor
	aggregator *trip.Aggregator
	notifier   *notify.Notifier
	smoother   *smoother.Smoother

	onSpeedSample func(float64)

	// Topics that passed per-subscription validation
	topics []string

	persistence trip.Persistence
	persistMu   sync.Mutex

	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	startTime time.Time

	initialized atomic.Bool
	started     atomic.Bool
	stopOnce    sync.Once
}

// New creates an uninitialized core.
func New(deps Deps) (*Core, error) {
	if deps.Config == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"Core", "New", "validate dependencies")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Descriptors == nil {
		deps.Descriptors = schema.DefaultDescriptors()
	}

	return &Core{
		cfg:           deps.Config.Clone(),
		descriptors:   deps.Descriptors,
		logger:        deps.Logger.With("component", "core"),
		metrics:       deps.Metrics,
		client:        deps.Client,
		onSpeedSample: deps.OnSpeedSample,
	}, nil
}

// Initialize builds the pipeline components and validates every configured
// subscription against the descriptor set. A topic without a descriptor is
// a configuration error for that subscription only: it is skipped and
// logged, and the remaining subscriptions run.
func (c *Core) Initialize() error {
	if !c.initialized.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	registry, err := schema.NewRegistry(c.descriptors)
	if err != nil {
		return err
	}
	c.registry = registry

	// Per-subscription validation: skip, don't crash
	for _, topic := range c.cfg.Topics {
		if _, ok := registry.Lookup(topic); !ok {
			c.logger.Error("no decode descriptor for configured topic, skipping subscription",
				"topic", topic,
				"error", errors.ErrSchemaNotFound)
			continue
		}
		c.topics = append(c.topics, topic)
	}
	if len(c.topics) == 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: no configured topic has a decode descriptor", errors.ErrInvalidConfig),
			"Core", "Initialize", "validate subscriptions")
	}

	var coreMetrics *metric.Metrics
	if c.metrics != nil {
		coreMetrics = c.metrics.CoreMetrics()
	}

	c.store = store.New(c.logger, coreMetrics)
	c.decoder = decode.New(registry, c.logger, coreMetrics)

	c.notifier, err = notify.New(notify.Deps{
		FlushInterval:    c.cfg.Notifier.FlushInterval.D(),
		SubscriberBuffer: c.cfg.Notifier.SubscriberBuffer,
		Logger:           c.logger,
		Metrics:          coreMetrics,
	})
	if err != nil {
		return err
	}

	c.monitor, err = staleness.New(staleness.Deps{
		Store:    c.store,
		Timeouts: registry.Timeouts(),
		Interval: c.cfg.Staleness.SweepInterval.D(),
		OnChange: c.publishStale,
		Logger:   c.logger,
		Metrics:  coreMetrics,
	})
	if err != nil {
		return err
	}

	c.aggregator = trip.New(
		trip.WithMaxSampleGap(c.cfg.Trip.MaxSampleGap.D()),
		trip.WithUpdateCallback(c.notifier.PublishTrip),
		trip.WithLogger(c.logger),
	)

	if c.cfg.Smoother.Enabled {
		c.smoother, err = smoother.New(smoother.Deps{
			Source:   c.speedSource,
			OnSample: c.onSpeedSample,
			Interval: c.cfg.Smoother.Interval.D(),
			MaxRate:  c.cfg.Smoother.MaxRate,
			Logger:   c.logger,
		})
		if err != nil {
			return err
		}
	}

	if c.client == nil {
		opts := []natsclient.ClientOption{
			natsclient.WithName(c.cfg.Transport.Name),
			natsclient.WithMaxReconnects(c.cfg.Transport.MaxReconnects),
			natsclient.WithReconnectWait(c.cfg.Transport.ReconnectWait.D()),
			natsclient.WithTimeout(c.cfg.Transport.ConnectTimeout.D()),
			natsclient.WithDrainTimeout(c.cfg.Transport.DrainTimeout.D()),
			natsclient.WithCircuitBreakerThreshold(c.cfg.Transport.CircuitThreshold),
			natsclient.WithMaxBackoff(c.cfg.Transport.MaxBackoff.D()),
			natsclient.WithLogger(slogAdapter{c.logger.With("component", "transport")}),
		}
		if c.metrics != nil {
			opts = append(opts, natsclient.WithMetrics(c.metrics))
		}
		c.client, err = natsclient.NewClient(c.cfg.Transport.URL, opts...)
		if err != nil {
			return err
		}
	}

	// Loss of the transport forces an immediate full staleness sweep
	c.client.AddStatusListener(c.monitor.HandleStatus)

	return nil
}

// Start brings the pipeline up: store, notifier, monitor and smoother
// loops, then subscriptions, then the transport connection (retried with
// backoff in the background so a bus outage at boot does not block
// startup).
func (c *Core) Start(ctx context.Context) error {
	if !c.initialized.Load() {
		return errors.ErrNotStarted
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	c.groupCtx, c.cancel = context.WithCancel(ctx)
	c.group, c.groupCtx = errgroup.WithContext(c.groupCtx)

	if err := c.store.Start(c.groupCtx); err != nil {
		return err
	}
	if err := c.notifier.Start(c.groupCtx); err != nil {
		return err
	}
	if err := c.monitor.Start(c.groupCtx); err != nil {
		return err
	}
	if c.smoother != nil {
		if err := c.smoother.Start(c.groupCtx); err != nil {
			return err
		}
	}

	for _, topic := range c.topics {
		subject := schema.ToSubject(topic)
		if err := c.client.Subscribe(c.groupCtx, subject, c.handleMessage); err != nil {
			return errors.Wrap(err, "Core", "Start", fmt.Sprintf("subscribe to %s", subject))
		}
	}

	c.group.Go(func() error {
		return c.connect(c.groupCtx)
	})

	c.startTime = time.Now()
	c.logger.Info("pipeline started",
		"topics", len(c.topics),
		"url", c.client.URL())
	return nil
}

// Stop tears the pipeline down in reverse start order and persists the
// trip state when persistence is configured.
func (c *Core) Stop(timeout time.Duration) error {
	var errs []error
	c.stopOnce.Do(func() {
		deadline := time.Now().Add(timeout)
		remaining := func() time.Duration {
			if r := time.Until(deadline); r > 0 {
				return r
			}
			return time.Millisecond
		}

		c.saveTrip()

		closeCtx, cancel := context.WithTimeout(context.Background(), remaining())
		if err := c.client.Close(closeCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()

		if c.cancel != nil {
			c.cancel()
		}

		if c.smoother != nil {
			if err := c.smoother.Stop(remaining()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.monitor.Stop(remaining()); err != nil {
			errs = append(errs, err)
		}
		if err := c.notifier.Stop(remaining()); err != nil {
			errs = append(errs, err)
		}
		if err := c.store.Stop(remaining()); err != nil {
			errs = append(errs, err)
		}

		if c.group != nil {
			_ = c.group.Wait()
		}
	})

	if len(errs) > 0 {
		return errors.Wrap(
			fmt.Errorf("%d components failed to stop cleanly: %v", len(errs), errs),
			"Core", "Stop", "shutdown")
	}
	return nil
}

// connect establishes the transport connection with persistent backoff,
// then sets up trip persistence if configured. It always returns nil: a
// transport outage degrades the pipeline (signals go stale) but must
// never take down the store, notifier or monitor loops that share the
// group context.
func (c *Core) connect(ctx context.Context) error {
	err := retry.Do(ctx, retry.Persistent(), func() error {
		return c.client.Connect(ctx)
	})
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("transport connect abandoned", "error", err)
		}
		return nil
	}

	c.setupTripPersistence(ctx)
	return nil
}

// handleMessage is the transport message handler: decode, apply, notify.
func (c *Core) handleMessage(ctx context.Context, subject string, data []byte) {
	topic := schema.ToTopic(subject)

	updates, err := c.decoder.Decode(topic, data, timestamp.Now())
	if err != nil {
		// Already logged and counted by the decoder; previous values are
		// retained
		return
	}

	for _, u := range updates {
		applied, err := c.store.Apply(ctx, u.Key, u.Value)
		if err != nil {
			if !errors.Is(err, errors.ErrStoreClosed) {
				c.logger.Error("apply failed", "key", u.Key, "error", err)
			}
			return
		}
		if !applied {
			// Normal out-of-order discard
			continue
		}

		entry, ok := c.store.Get(u.Key)
		if !ok {
			continue
		}
		c.notifier.Publish(u.Key, entry)

		if u.Key == signal.KeySpeed {
			c.aggregator.ObserveSpeed(u.Value.Float(), u.Value.ReceivedAt)
		}
	}
}

// publishStale emits change notifications for staleness transitions: the
// value is unchanged, but the transition itself is a reportable delta.
func (c *Core) publishStale(keys []signal.Key) {
	for _, key := range keys {
		if entry, ok := c.store.Get(key); ok {
			c.notifier.Publish(key, entry)
		}
	}
}

// speedSource feeds the smoother the latest accepted speed.
func (c *Core) speedSource() (float64, bool) {
	entry, ok := c.store.Get(signal.KeySpeed)
	if !ok {
		return 0, false
	}
	return entry.Value.Float(), true
}

// Snapshot returns the current immutable state view for initial paint.
func (c *Core) Snapshot() signal.Snapshot {
	return c.store.Snapshot()
}

// Get returns the latest entry for one signal.
func (c *Core) Get(key signal.Key) (signal.Entry, bool) {
	return c.store.Get(key)
}

// TripState returns the current trip state.
func (c *Core) TripState() trip.State {
	return c.aggregator.State()
}

// SmoothedSpeed returns the current interpolated speedometer value, or the
// raw stored speed when the smoother is disabled.
func (c *Core) SmoothedSpeed() float64 {
	if c.smoother != nil {
		return c.smoother.Displayed()
	}
	v, _ := c.speedSource()
	return v
}

// StartTrip begins a new trip, using the latest odometer reading as the
// baseline when one is known.
func (c *Core) StartTrip() error {
	baseline := 0.0
	if entry, ok := c.store.Get(signal.KeyOdometer); ok {
		baseline = entry.Value.Float()
	}
	return c.aggregator.Start(baseline)
}

// ResetTrip ends the active trip and clears its accumulators.
func (c *Core) ResetTrip() {
	c.aggregator.Reset()
	c.clearTrip()
}

// Notifier exposes the change notifier for additional consumers such as
// the websocket gateway.
func (c *Core) Notifier() *notify.Notifier {
	return c.notifier
}

// Transport returns the transport client, for health reporting.
func (c *Core) Transport() *natsclient.Client {
	return c.client
}

// Healthy reports whether the transport session is up.
func (c *Core) Healthy() bool {
	return c.client != nil && c.client.IsHealthy()
}

// Meta returns the pipeline's component metadata.
func (c *Core) Meta() component.Metadata {
	return component.Metadata{
		Name:        "signalcore",
		Type:        "pipeline",
		Description: fmt.Sprintf("vehicle signal ingestion over %d topics", len(c.topics)),
		Version:     "1.0.0",
	}
}

// Health reports the pipeline's runtime health.
func (c *Core) Health() component.HealthStatus {
	var uptime time.Duration
	if c.started.Load() {
		uptime = time.Since(c.startTime)
	}
	return component.HealthStatus{
		Healthy:   c.started.Load() && c.Healthy(),
		LastCheck: time.Now(),
		Uptime:    uptime,
	}
}

// AddConsumer attaches a UI consumer: deltas for every key plus trip
// updates, pumped on a dedicated goroutine until the core stops. Must be
// called after Start.
func (c *Core) AddConsumer(consumer Consumer) error {
	if !c.started.Load() {
		return errors.ErrNotStarted
	}

	sub := c.notifier.Subscribe(notify.KeyAll)
	tripSub := c.notifier.SubscribeTrip()

	c.group.Go(func() error {
		defer sub.Close()
		defer tripSub.Close()

		for {
			select {
			case <-c.groupCtx.Done():
				return nil
			case ev := <-sub.C():
				consumer.OnStateChanged(ev.Key, ev.Entry)
			case state := <-tripSub.C():
				consumer.OnTripUpdated(state)
			}
		}
	})
	return nil
}
