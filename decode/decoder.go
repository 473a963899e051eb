// Package decode converts raw topic payloads into typed signal values using
// descriptors from the schema registry.
//
// The decoder owns the per-key sequence counters. Transport-level ordering
// is advisory only: sequence numbers assigned here are authoritative for
// out-of-order rejection downstream, since bus-native sequencing is not
// monotonic across reconnects.
package decode

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/metric"
	"github.com/c360/signalcore/schema"
	"github.com/c360/signalcore/signal"
)

// Update is one decoded signal produced from a payload. A payload may carry
// several fields, so one decode can yield several updates.
type Update struct {
	Key   signal.Key
	Value signal.Value
}

// Decoder decodes raw payloads against the schema registry.
type Decoder struct {
	registry *schema.Registry
	logger   *slog.Logger
	metrics  *metric.Metrics

	// Per-key monotonic sequence counters. Decode normally runs on the
	// single transport goroutine, but the lock keeps the counters safe if
	// payloads are ever decoded concurrently.
	mu   sync.Mutex
	seqs map[signal.Key]uint64
}

// New creates a decoder. Logger and metrics may be nil.
func New(registry *schema.Registry, logger *slog.Logger, metrics *metric.Metrics) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		registry: registry,
		logger:   logger.With("component", "decoder"),
		metrics:  metrics,
		seqs:     make(map[signal.Key]uint64),
	}
}

// Decode converts a payload received on a topic at the given arrival time
// (Unix ms) into typed signal updates. Decode failures never produce
// partial results: either every field decodes or none do, so a malformed
// payload cannot mix decoded and missing fields from one message.
func (d *Decoder) Decode(topic string, payload []byte, arrival int64) ([]Update, error) {
	desc, ok := d.registry.Lookup(topic)
	if !ok {
		d.countError(topic, "no_descriptor")
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: topic %s", errors.ErrSchemaNotFound, topic),
			"Decoder", "Decode", "lookup descriptor")
	}

	var (
		updates []Update
		err     error
	)
	switch desc.Encoding {
	case schema.EncodingBinary:
		updates, err = d.decodeBinary(desc, payload)
	case schema.EncodingJSON:
		updates, err = d.decodeJSON(topic, desc, payload)
	default:
		err = errors.WrapInvalid(
			fmt.Errorf("descriptor %s: unknown encoding %q", desc.Topic, desc.Encoding),
			"Decoder", "Decode", "select codec")
	}

	if err != nil {
		d.countError(topic, reason(err))
		d.logger.Warn("decode failed",
			"topic", topic,
			"payload_len", len(payload),
			"error", err)
		return nil, err
	}

	// Sequence numbers are assigned only after the whole payload decoded
	for i := range updates {
		updates[i].Value.Seq = d.nextSeq(updates[i].Key)
		updates[i].Value.ReceivedAt = arrival

		if d.metrics != nil {
			d.metrics.RecordSignalDecoded(string(updates[i].Key))
		}
	}

	return updates, nil
}

// Seq returns the last sequence number assigned for a key.
func (d *Decoder) Seq(key signal.Key) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seqs[key]
}

func (d *Decoder) nextSeq(key signal.Key) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs[key]++
	return d.seqs[key]
}

func (d *Decoder) countError(topic, reason string) {
	if d.metrics != nil {
		d.metrics.RecordDecodeError(topic, reason)
	}
}

// reason maps a decode error to a bounded metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, errors.ErrTruncatedPayload):
		return "truncated"
	case errors.Is(err, errors.ErrOutOfRangeEnum):
		return "enum_range"
	case errors.Is(err, errors.ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "malformed"
	}
}
