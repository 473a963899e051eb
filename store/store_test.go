package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/signal"
)

func startedStore(t *testing.T) *Store {
	t.Helper()
	s := New(nil, nil)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	return s
}

func value(seq uint64, f float64) signal.Value {
	v := signal.NewFloat(f)
	v.Seq = seq
	v.ReceivedAt = int64(seq)
	return v
}

func TestApply_AcceptsAndReads(t *testing.T) {
	s := startedStore(t)

	applied, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 42))
	require.NoError(t, err)
	assert.True(t, applied)

	e, ok := s.Get(signal.KeySpeed)
	require.True(t, ok)
	assert.InDelta(t, 42.0, e.Value.Float(), 1e-9)
	assert.Equal(t, uint64(1), e.Seq())
	assert.False(t, e.Stale)
}

// Out-of-order arrival: seq 1, 3, 2; seq 3 wins and seq 2 is rejected
func TestApply_OutOfOrderRejection(t *testing.T) {
	s := startedStore(t)
	key := signal.KeyBatteryLevel

	applied, err := s.Apply(context.Background(), key, value(1, 80))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Apply(context.Background(), key, value(3, 75))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Apply(context.Background(), key, value(2, 77))
	require.NoError(t, err)
	assert.False(t, applied)

	e, ok := s.Get(key)
	require.True(t, ok)
	assert.InDelta(t, 75.0, e.Value.Float(), 1e-9)
	assert.Equal(t, uint64(3), e.Seq())
}

// Applying the same (key, value, seq) twice leaves state as after one apply
func TestApply_Idempotence(t *testing.T) {
	s := startedStore(t)

	applied, err := s.Apply(context.Background(), signal.KeySpeed, value(5, 60))
	require.NoError(t, err)
	assert.True(t, applied)

	before := s.Snapshot()

	applied, err = s.Apply(context.Background(), signal.KeySpeed, value(5, 60))
	require.NoError(t, err)
	assert.False(t, applied)

	after := s.Snapshot()
	assert.Equal(t, before.Version(), after.Version())

	e, _ := after.Get(signal.KeySpeed)
	assert.Equal(t, uint64(5), e.Seq())
}

func TestMarkStale_TransitionsOnce(t *testing.T) {
	s := startedStore(t)

	_, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 42))
	require.NoError(t, err)

	changed, err := s.MarkStale(context.Background(), []signal.Key{signal.KeySpeed, signal.KeyExteriorTemp})
	require.NoError(t, err)
	assert.Equal(t, []signal.Key{signal.KeySpeed}, changed)

	// Value is retained, only the flag flips
	e, ok := s.Get(signal.KeySpeed)
	require.True(t, ok)
	assert.True(t, e.Stale)
	assert.InDelta(t, 42.0, e.Value.Float(), 1e-9)

	// Second sweep is a no-op
	changed, err = s.MarkStale(context.Background(), []signal.Key{signal.KeySpeed})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestApply_ClearsStaleFlag(t *testing.T) {
	s := startedStore(t)

	_, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 42))
	require.NoError(t, err)
	_, err = s.MarkStale(context.Background(), []signal.Key{signal.KeySpeed})
	require.NoError(t, err)

	applied, err := s.Apply(context.Background(), signal.KeySpeed, value(2, 43))
	require.NoError(t, err)
	assert.True(t, applied)

	e, _ := s.Get(signal.KeySpeed)
	assert.False(t, e.Stale)
}

func TestSnapshot_IsPointInTime(t *testing.T) {
	s := startedStore(t)

	_, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 10))
	require.NoError(t, err)

	snap := s.Snapshot()
	v1 := snap.Version()

	_, err = s.Apply(context.Background(), signal.KeySpeed, value(2, 20))
	require.NoError(t, err)

	// The earlier snapshot still sees the old value
	e, _ := snap.Get(signal.KeySpeed)
	assert.InDelta(t, 10.0, e.Value.Float(), 1e-9)
	assert.Equal(t, v1, snap.Version())

	e, _ = s.Get(signal.KeySpeed)
	assert.InDelta(t, 20.0, e.Value.Float(), 1e-9)
	assert.Greater(t, s.Snapshot().Version(), v1)
}

func TestStore_RejectedUpdateDoesNotBumpVersion(t *testing.T) {
	s := startedStore(t)

	_, err := s.Apply(context.Background(), signal.KeySpeed, value(2, 10))
	require.NoError(t, err)
	v := s.Snapshot().Version()

	applied, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 99))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, v, s.Snapshot().Version())
}

func TestStore_ApplyAfterStop(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))

	_, err := s.Apply(context.Background(), signal.KeySpeed, value(1, 1))
	assert.True(t, errors.Is(err, errors.ErrStoreClosed))
}

func TestStore_DoubleStart(t *testing.T) {
	s := startedStore(t)
	assert.True(t, errors.Is(s.Start(context.Background()), errors.ErrAlreadyStarted))
}
