// Package ws serves the vehicle state feed to out-of-process renderers
// over WebSocket: each client receives one full snapshot on connect,
// then JSON-encoded deltas and trip updates as they happen.
//
// Delivery is lossy by design. Every client has a bounded send queue
// with a drop-oldest overflow policy, so a slow renderer falls behind
// on history but never blocks the pipeline and never sees anything
// older than its queue depth.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/signalcore/component"
	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/metric"
	"github.com/c360/signalcore/notify"
	"github.com/c360/signalcore/pkg/buffer"
	"github.com/c360/signalcore/pkg/timestamp"
	"github.com/c360/signalcore/signal"
	"github.com/c360/signalcore/trip"
)

// Defaults
const (
	// DefaultSendBuffer is the per-client send queue capacity.
	DefaultSendBuffer = 64
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultPingInterval is the keepalive ping cadence.
	DefaultPingInterval = 30 * time.Second
)

var _ component.Lifecycle = (*Server)(nil)

// StateSource is the slice of the pipeline the gateway reads from.
type StateSource interface {
	Snapshot() signal.Snapshot
	Notifier() *notify.Notifier
	TripState() trip.State
}

// Deps carries the server's dependencies. Source is required.
type Deps struct {
	Source StateSource

	// SendBuffer is the per-client send queue capacity. Zero selects the
	// default.
	SendBuffer int
	// WriteTimeout bounds a single frame write. Zero selects the default.
	WriteTimeout time.Duration
	// PingInterval is the keepalive cadence. Zero selects the default.
	PingInterval time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Server is the WebSocket gateway. Mount it on an HTTP mux; it upgrades
// connections itself.
type Server struct {
	source StateSource
	logger *slog.Logger

	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	closed    bool // set under clientsMu; no new clients after Stop

	metrics *serverMetrics

	wg       sync.WaitGroup
	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// client is one connected renderer. The queue absorbs bursts; wake is a
// capacity-1 doorbell for the write pump.
type client struct {
	conn  *websocket.Conn
	queue buffer.Buffer[[]byte]
	wake  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

type serverMetrics struct {
	clientsConnected prometheus.Gauge
	messagesSent     prometheus.Counter
	messagesDropped  prometheus.Counter
}

func newServerMetrics(registry *metric.Registry) (*serverMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &serverMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalcore",
			Subsystem: "ws",
			Name:      "clients_connected",
			Help:      "Number of currently connected WebSocket clients",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total frames written to WebSocket clients",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total frames dropped from full client send queues",
		}),
	}

	if err := registry.RegisterGauge("ws", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ws", "messages_sent_total", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ws", "messages_dropped_total", m.messagesDropped); err != nil {
		return nil, err
	}
	return m, nil
}

// New creates a WebSocket gateway server.
func New(deps Deps) (*Server, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: state source is required", errors.ErrMissingConfig),
			"Server", "New", "validate dependencies")
	}
	if deps.SendBuffer < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: negative send buffer", errors.ErrInvalidConfig),
			"Server", "New", "validate send buffer")
	}
	if deps.SendBuffer == 0 {
		deps.SendBuffer = DefaultSendBuffer
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = DefaultWriteTimeout
	}
	if deps.PingInterval <= 0 {
		deps.PingInterval = DefaultPingInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	metrics, err := newServerMetrics(deps.Metrics)
	if err != nil {
		return nil, err
	}

	return &Server{
		source:       deps.Source,
		logger:       deps.Logger.With("component", "ws"),
		sendBuffer:   deps.SendBuffer,
		writeTimeout: deps.WriteTimeout,
		pingInterval: deps.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients:  make(map[*client]struct{}),
		metrics:  metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Initialize prepares the server. Present for lifecycle symmetry.
func (s *Server) Initialize() error {
	return nil
}

// Start subscribes to the change feed and launches the broadcast pump.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	sub := s.source.Notifier().Subscribe(notify.KeyAll)
	tripSub := s.source.Notifier().SubscribeTrip()

	s.wg.Add(1)
	go s.pump(ctx, sub, tripSub)
	return nil
}

// Stop closes all client connections and waits for the pumps to exit.
func (s *Server) Stop(timeout time.Duration) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		// Setting closed under the lock bars late registrations: once it is
		// observed, ServeHTTP can no longer Add to the WaitGroup we are
		// about to Wait on.
		s.clientsMu.Lock()
		s.closed = true
		for cl := range s.clients {
			_ = cl.conn.Close()
		}
		s.clientsMu.Unlock()

		waitDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitDone)
		}()

		select {
		case <-waitDone:
		case <-time.After(timeout):
			err = errors.WrapTransient(
				fmt.Errorf("client pumps did not stop within %v", timeout),
				"Server", "Stop", "wait for shutdown")
		}
		close(s.done)
	})
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// pump fans the notifier feeds out to every connected client.
func (s *Server) pump(ctx context.Context, sub *notify.Subscription, tripSub *notify.TripSubscription) {
	defer s.wg.Done()
	defer sub.Close()
	defer tripSub.Close()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case ev := <-sub.C():
			data, err := encodeEnvelope(typeDelta, wireFromEntry(ev.Entry))
			if err != nil {
				s.logger.Error("encoding delta failed", "key", ev.Key, "error", err)
				continue
			}
			s.broadcast(data)
		case state := <-tripSub.C():
			data, err := encodeEnvelope(typeTrip, state)
			if err != nil {
				s.logger.Error("encoding trip update failed", "error", err)
				continue
			}
			s.broadcast(data)
		}
	}
}

func (s *Server) broadcast(data []byte) {
	s.clientsMu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		targets = append(targets, cl)
	}
	s.clientsMu.Unlock()

	for _, cl := range targets {
		s.enqueue(cl, data)
	}
}

// enqueue never blocks: the queue's drop-oldest policy sheds history for
// slow clients.
func (s *Server) enqueue(cl *client, data []byte) {
	if err := cl.queue.Write(data); err != nil {
		return // queue closed, client is going away
	}
	select {
	case cl.wake <- struct{}{}:
	default:
	}
}

// ServeHTTP upgrades the connection and registers the client. The
// snapshot is queued before the client joins the broadcast set, so every
// client sees a snapshot strictly before its first delta.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.started.Load() {
		http.Error(w, "gateway not started", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("connection upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	queue, err := buffer.NewCircular[[]byte](s.sendBuffer,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			if s.metrics != nil {
				s.metrics.messagesDropped.Inc()
			}
		}),
	)
	if err != nil {
		s.logger.Error("send queue creation failed", "error", err)
		_ = conn.Close()
		return
	}

	cl := &client{
		conn:  conn,
		queue: queue,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	// Snapshot and registration under one lock so no delta can slip in
	// between the snapshot build and the client joining the broadcast set.
	// The WaitGroup Add also happens here: Stop marks closed under this
	// lock before it Waits, so Add can never race the final Wait.
	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	snapData, err := encodeEnvelope(typeSnapshot, wireFromSnapshot(s.source.Snapshot()))
	if err != nil {
		s.clientsMu.Unlock()
		s.logger.Error("encoding snapshot failed", "error", err)
		_ = conn.Close()
		return
	}
	_ = cl.queue.Write(snapData)
	s.clients[cl] = struct{}{}
	count := len(s.clients)
	s.wg.Add(2)
	s.clientsMu.Unlock()

	cl.wake <- struct{}{}

	if s.metrics != nil {
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Info("client connected", "remote", r.RemoteAddr, "clients", count)

	go s.writePump(cl)
	go s.readPump(cl)
}

// writePump drains the client's queue onto the wire and keeps the
// connection alive with pings.
func (s *Server) writePump(cl *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-cl.done:
			return
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.removeClient(cl)
				return
			}
		case <-cl.wake:
			if !s.drainQueue(cl) {
				return
			}
		}
	}
}

// drainQueue writes every queued frame. Returns false when the client is
// gone.
func (s *Server) drainQueue(cl *client) bool {
	for {
		data, ok := cl.queue.Read()
		if !ok {
			return true
		}

		_ = cl.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(cl)
			return false
		}
		if s.metrics != nil {
			s.metrics.messagesSent.Inc()
		}
	}
}

// readPump consumes inbound frames. Renderers send nothing meaningful;
// reading is what surfaces pongs and connection loss.
func (s *Server) readPump(cl *client) {
	defer s.wg.Done()
	defer s.removeClient(cl)

	cl.conn.SetReadLimit(1024)
	_ = cl.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(cl *client) {
	cl.closeOnce.Do(func() {
		s.clientsMu.Lock()
		delete(s.clients, cl)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = cl.conn.Close()
		_ = cl.queue.Close()
		close(cl.done)

		if s.metrics != nil {
			s.metrics.clientsConnected.Set(float64(count))
		}
		s.logger.Info("client disconnected", "clients", count)
	})
}

// Wire protocol: every frame is an envelope with a type discriminator.
const (
	typeSnapshot = "snapshot"
	typeDelta    = "delta"
	typeTrip     = "trip"
)

// Envelope frames every message sent to a client.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// WireSignal is the JSON form of one signal entry.
type WireSignal struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Value      any    `json:"value"`
	Seq        uint64 `json:"seq"`
	ReceivedAt int64  `json:"received_at"`
	Stale      bool   `json:"stale"`
}

// WireSnapshot is the JSON form of a full state snapshot.
type WireSnapshot struct {
	Version uint64       `json:"version"`
	Signals []WireSignal `json:"signals"`
}

func wireFromEntry(e signal.Entry) WireSignal {
	return WireSignal{
		Key:        e.Key.String(),
		Kind:       e.Value.Kind.String(),
		Value:      wireValue(e.Value),
		Seq:        e.Seq(),
		ReceivedAt: e.UpdatedAt(),
		Stale:      e.Stale,
	}
}

func wireFromSnapshot(snap signal.Snapshot) WireSnapshot {
	out := WireSnapshot{
		Version: snap.Version(),
		Signals: make([]WireSignal, 0, snap.Len()),
	}
	snap.Range(func(e signal.Entry) bool {
		out.Signals = append(out.Signals, wireFromEntry(e))
		return true
	})
	return out
}

// wireValue projects the tagged union onto its JSON representation. Enums
// travel as their label.
func wireValue(v signal.Value) any {
	switch v.Kind {
	case signal.KindBool:
		return v.Bool()
	case signal.KindInt:
		return v.Int()
	case signal.KindFloat:
		return v.Float()
	case signal.KindEnum:
		_, label := v.Enum()
		return label
	case signal.KindString:
		return v.Str()
	default:
		return nil
	}
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Server", "encodeEnvelope", "marshal payload")
	}
	return json.Marshal(Envelope{
		Type:      typ,
		Timestamp: timestamp.Now(),
		Payload:   raw,
	})
}
