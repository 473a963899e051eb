// Package signalcore ingests vehicle telemetry from a message bus and
// maintains the authoritative state an instrument cluster renders from.
//
// # Architecture
//
// Signals flow one way, from the bus to the renderer:
//
//	┌──────────────────────────────────────┐
//	│        Transport Session             │  NATS connection with
//	│   (natsclient: reconnect, circuit)   │  circuit breaker
//	└──────────────────┬───────────────────┘
//	                   ↓ raw payloads
//	┌──────────────────────────────────────┐
//	│          Signal Decoder              │  descriptor-driven binary
//	│  (decode: binary + JSON schemas)     │  and JSON decoding
//	└──────────────────┬───────────────────┘
//	                   ↓ typed updates
//	┌──────────────────────────────────────┐
//	│        Vehicle State Store           │  single writer, ordered by
//	│  (store: versioned snapshots)        │  per-key sequence numbers
//	└──────────────────┬───────────────────┘
//	                   ↓ accepted deltas
//	┌──────────────────────────────────────┐
//	│         Change Notifier              │  coalesced, rate-bounded
//	│  (notify: drop-oldest fan-out)       │  delivery to consumers
//	└──────────────────────────────────────┘
//
// Around that spine:
//
//   - staleness: marks signals whose sources went quiet, and sweeps
//     everything immediately when the transport drops
//   - trip: integrates speed samples into distance, duration and
//     average speed, optionally persisted in a JetStream KV bucket
//   - smoother: interpolates the displayed speed at render cadence with
//     a bounded rate of change
//   - core: wires the pipeline together behind one lifecycle
//   - gateway/ws: WebSocket feed for out-of-process renderers, one
//     snapshot on connect then JSON deltas
//
// # Packages
//
// Pipeline:
//   - signal: keys, typed values, entries and immutable snapshots
//   - schema: decode descriptors and topic/subject mapping
//   - decode: payload decoding and per-key sequence assignment
//   - store: the vehicle state store
//   - staleness: signal timeout monitoring
//   - notify: change notification fan-out
//   - trip: trip aggregation and persistence
//   - smoother: display speed interpolation
//   - core: pipeline assembly and public API
//
// Infrastructure:
//   - natsclient: bus connection management
//   - config: configuration loading and validation
//   - metric: Prometheus metrics
//   - errors: structured error handling
//   - component: lifecycle interfaces
//   - gateway/ws: WebSocket delta feed
//   - pkg/buffer, pkg/retry, pkg/timestamp: utilities
//
// # Design Principles
//
// Display freshness over completeness:
//   - late updates are discarded, never reordered
//   - slow consumers lose old deltas, never block the pipeline
//   - a stale flag is an honest answer; a frozen gauge is not
//
// Isolation:
//   - a malformed payload on one topic never disturbs another signal
//   - loss of the bus marks state stale but keeps last known values
//
// # Binary
//
// Build and run the daemon:
//
//	go build ./cmd/clusterd
//	./clusterd --config configs/cluster.yaml
//
// clusterd serves the WebSocket feed on /ws, Prometheus metrics on
// /metrics and a health probe on /healthz.
package signalcore
