package trip

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/signalcore/errors"
)

// DefaultBucket is the KV bucket name used for trip persistence.
const DefaultBucket = "vehicle_trip"

// stateKey is the KV entry holding the serialized trip state.
const stateKey = "state"

// Persistence saves and restores trip state across process restarts.
// The core's contract assumes volatile trip state; persistence is an
// optional collaborator.
type Persistence interface {
	Save(ctx context.Context, s State) error
	Load(ctx context.Context) (State, bool, error)
	Clear(ctx context.Context) error
}

// KVPersistence stores trip state in a JetStream key-value bucket.
type KVPersistence struct {
	bucket jetstream.KeyValue
}

// NewKVPersistence wraps a KV bucket as trip persistence.
func NewKVPersistence(bucket jetstream.KeyValue) *KVPersistence {
	return &KVPersistence{bucket: bucket}
}

// Save writes the trip state.
func (p *KVPersistence) Save(ctx context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.WrapInvalid(err, "KVPersistence", "Save", "marshal trip state")
	}

	if _, err := p.bucket.Put(ctx, stateKey, data); err != nil {
		return errors.WrapTransient(err, "KVPersistence", "Save", "put trip state")
	}
	return nil
}

// Load reads the persisted trip state. The second return value is false
// when nothing has been persisted yet.
func (p *KVPersistence) Load(ctx context.Context) (State, bool, error) {
	entry, err := p.bucket.Get(ctx, stateKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return State{}, false, nil
		}
		return State{}, false, errors.WrapTransient(err, "KVPersistence", "Load", "get trip state")
	}

	var s State
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return State{}, false, errors.WrapInvalid(err, "KVPersistence", "Load", "unmarshal trip state")
	}
	return s, true, nil
}

// Clear removes the persisted trip state.
func (p *KVPersistence) Clear(ctx context.Context) error {
	if err := p.bucket.Delete(ctx, stateKey); err != nil &&
		!errors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "KVPersistence", "Clear", "delete trip state")
	}
	return nil
}
