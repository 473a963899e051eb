package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/signalcore/signal"
)

func TestNewRegistry_DefaultsValid(t *testing.T) {
	r, err := NewRegistry(DefaultDescriptors())
	require.NoError(t, err)

	d, ok := r.Lookup("vehicle/speed")
	require.True(t, ok)
	assert.Equal(t, EncodingBinary, d.Encoding)
	require.Len(t, d.Fields, 1)
	assert.Equal(t, signal.KeySpeed, d.Fields[0].Key)

	// Battery descriptor carries four fields
	d, ok = r.Lookup("vehicle/battery/state")
	require.True(t, ok)
	assert.Len(t, d.Fields, 4)
	assert.Equal(t, 25, d.MinPayloadLen())
}

func TestNewRegistry_RejectsDuplicateTopic(t *testing.T) {
	descs := []Descriptor{
		{Topic: "vehicle/speed", Encoding: EncodingBinary,
			Fields: []Field{{Key: signal.KeySpeed, Kind: signal.KindFloat}}},
		{Topic: "vehicle/speed", Encoding: EncodingBinary,
			Fields: []Field{{Key: signal.KeySpeed, Kind: signal.KindFloat}}},
	}

	_, err := NewRegistry(descs)
	assert.Error(t, err)
}

func TestNewRegistry_RejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{
			name: "empty topic",
			desc: Descriptor{Encoding: EncodingBinary,
				Fields: []Field{{Key: signal.KeySpeed, Kind: signal.KindFloat}}},
		},
		{
			name: "unknown encoding",
			desc: Descriptor{Topic: "a/b", Encoding: "protobuf",
				Fields: []Field{{Key: "a/b", Kind: signal.KindFloat}}},
		},
		{
			name: "no fields",
			desc: Descriptor{Topic: "a/b", Encoding: EncodingBinary},
		},
		{
			name: "enum without domain",
			desc: Descriptor{Topic: "a/b", Encoding: EncodingBinary,
				Fields: []Field{{Key: "a/b", Kind: signal.KindEnum}}},
		},
		{
			name: "json field without member name",
			desc: Descriptor{Topic: "a/b", Encoding: EncodingJSON,
				Fields: []Field{{Key: "a/b", Kind: signal.KindFloat}}},
		},
		{
			name: "negative staleness",
			desc: Descriptor{Topic: "a/b", Encoding: EncodingBinary, Staleness: -time.Second,
				Fields: []Field{{Key: "a/b", Kind: signal.KindFloat}}},
		},
		{
			name: "bad json schema",
			desc: Descriptor{Topic: "a/b", Encoding: EncodingJSON, JSONSchema: `{"type": 42}`,
				Fields: []Field{{Key: "a/b", Kind: signal.KindFloat, Name: "v"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry([]Descriptor{tt.desc})
			assert.Error(t, err)
		})
	}
}

func TestRegistry_WildcardLookup(t *testing.T) {
	descs := []Descriptor{
		{
			Topic:    "vehicle/telltale/*",
			Encoding: EncodingBinary,
			Fields: []Field{
				{Key: "vehicle/telltale", Kind: signal.KindEnum, Enum: []string{"off", "on", "blink"}},
			},
		},
		{
			Topic:    "vehicle/>",
			Encoding: EncodingBinary,
			Fields:   []Field{{Key: "vehicle/any", Kind: signal.KindFloat}},
		},
	}

	r, err := NewRegistry(descs)
	require.NoError(t, err)

	// One-segment wildcard wins in registration order
	d, ok := r.Lookup("vehicle/telltale/left")
	require.True(t, ok)
	assert.Equal(t, "vehicle/telltale/*", d.Topic)

	// "*" matches exactly one segment
	d, ok = r.Lookup("vehicle/telltale/left/extra")
	require.True(t, ok)
	assert.Equal(t, "vehicle/>", d.Topic)

	d, ok = r.Lookup("vehicle/speed")
	require.True(t, ok)
	assert.Equal(t, "vehicle/>", d.Topic)

	_, ok = r.Lookup("infra/health")
	assert.False(t, ok)
}

func TestRegistry_Timeouts(t *testing.T) {
	r, err := NewRegistry(DefaultDescriptors())
	require.NoError(t, err)

	d, ok := r.Timeout(signal.KeySpeed)
	require.True(t, ok)
	assert.Equal(t, time.Second, d)

	// Lock state has no freshness requirement
	_, ok = r.Timeout(signal.KeyLockState)
	assert.False(t, ok)

	timeouts := r.Timeouts()
	assert.Equal(t, 500*time.Millisecond, timeouts[signal.KeyTelltaleLeft])
}

func TestRegistry_CompiledSchema(t *testing.T) {
	r, err := NewRegistry(DefaultDescriptors())
	require.NoError(t, err)

	require.NotNil(t, r.Schema("vehicle/trip/data"))
	assert.Nil(t, r.Schema("vehicle/speed"))
}

func TestSubjectConversion(t *testing.T) {
	assert.Equal(t, "vehicle.battery.state", ToSubject("vehicle/battery/state"))
	assert.Equal(t, "vehicle.telltale.*", ToSubject("vehicle/telltale/*"))
	assert.Equal(t, "vehicle/battery/state", ToTopic("vehicle.battery.state"))
}
