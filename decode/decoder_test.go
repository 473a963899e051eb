package decode

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/schema"
	"github.com/c360/signalcore/signal"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.NewRegistry(schema.DefaultDescriptors())
	require.NoError(t, err)
	return r
}

func floatPayload(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func batteryPayload(level float64, charging bool, rng float64, timeToFull int64) []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint64(buf[0:], math.Float64bits(level))
	if charging {
		buf[8] = 1
	}
	binary.BigEndian.PutUint64(buf[9:], math.Float64bits(rng))
	binary.BigEndian.PutUint64(buf[17:], uint64(timeToFull))
	return buf
}

func TestDecode_SpeedBinary(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	arrival := time.Now().UnixMilli()
	updates, err := d.Decode("vehicle/speed", floatPayload(88.5), arrival)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, signal.KeySpeed, u.Key)
	assert.InDelta(t, 88.5, u.Value.Float(), 1e-9)
	assert.Equal(t, uint64(1), u.Value.Seq)
	assert.Equal(t, arrival, u.Value.ReceivedAt)
}

func TestDecode_BatteryMultiField(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	updates, err := d.Decode("vehicle/battery/state", batteryPayload(80, true, 212.4, 45), 1)
	require.NoError(t, err)
	require.Len(t, updates, 4)

	byKey := map[signal.Key]signal.Value{}
	for _, u := range updates {
		byKey[u.Key] = u.Value
	}

	assert.InDelta(t, 80.0, byKey[signal.KeyBatteryLevel].Float(), 1e-9)
	assert.True(t, byKey[signal.KeyBatteryCharging].Bool())
	assert.InDelta(t, 212.4, byKey[signal.KeyBatteryRange].Float(), 1e-9)
	assert.Equal(t, int64(45), byKey[signal.KeyBatteryTimeToFull].Int())
}

func TestDecode_SequenceIsPerKeyMonotonic(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	for i := 1; i <= 3; i++ {
		updates, err := d.Decode("vehicle/speed", floatPayload(float64(i)), int64(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), updates[0].Value.Seq)
	}

	// Another key has its own counter
	updates, err := d.Decode("vehicle/exterior/temp", floatPayload(21.5), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), updates[0].Value.Seq)

	assert.Equal(t, uint64(3), d.Seq(signal.KeySpeed))
}

func TestDecode_TruncatedPayload(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	_, err := d.Decode("vehicle/speed", []byte{0x01, 0x02}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTruncatedPayload))

	// Failed decode must not consume a sequence number
	assert.Equal(t, uint64(0), d.Seq(signal.KeySpeed))
}

func TestDecode_EnumDomain(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	updates, err := d.Decode("vehicle/telltale/left", []byte{2}, 1)
	require.NoError(t, err)
	ordinal, label := updates[0].Value.Enum()
	assert.Equal(t, int64(signal.TelltaleBlink), ordinal)
	assert.Equal(t, "blink", label)

	_, err = d.Decode("vehicle/telltale/left", []byte{7}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfRangeEnum))
}

func TestDecode_UnknownTopic(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	_, err := d.Decode("infra/health", []byte{1}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaNotFound))
}

func TestDecode_JSONWithSchema(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	updates, err := d.Decode("vehicle/trip/data", []byte(`{"odometer": 10234.7}`), 1)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, signal.KeyOdometer, updates[0].Key)
	assert.InDelta(t, 10234.7, updates[0].Value.Float(), 1e-9)

	// Schema rejects negative odometer readings
	_, err = d.Decode("vehicle/trip/data", []byte(`{"odometer": -1}`), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))

	// Malformed JSON
	_, err = d.Decode("vehicle/trip/data", []byte(`{`), 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
}

func TestDecode_JSONEnumByLabelAndOrdinal(t *testing.T) {
	descs := []schema.Descriptor{{
		Topic:    "vehicle/lock/json",
		Encoding: schema.EncodingJSON,
		Fields: []schema.Field{
			{Key: "vehicle/lock/json", Kind: signal.KindEnum, Name: "state",
				Enum: []string{"unlocked", "locked"}},
		},
	}}
	r, err := schema.NewRegistry(descs)
	require.NoError(t, err)
	d := New(r, nil, nil)

	updates, err := d.Decode("vehicle/lock/json", []byte(`{"state": "locked"}`), 1)
	require.NoError(t, err)
	ordinal, label := updates[0].Value.Enum()
	assert.Equal(t, int64(1), ordinal)
	assert.Equal(t, "locked", label)

	updates, err = d.Decode("vehicle/lock/json", []byte(`{"state": 0}`), 2)
	require.NoError(t, err)
	ordinal, _ = updates[0].Value.Enum()
	assert.Equal(t, int64(0), ordinal)

	_, err = d.Decode("vehicle/lock/json", []byte(`{"state": "ajar"}`), 3)
	assert.True(t, errors.Is(err, errors.ErrOutOfRangeEnum))
}

// A malformed payload on one topic must not affect another topic's counters
func TestDecode_FailureIsolation(t *testing.T) {
	d := New(testRegistry(t), nil, nil)

	_, err := d.Decode("vehicle/speed", floatPayload(50), 1)
	require.NoError(t, err)

	_, err = d.Decode("vehicle/battery/state", []byte{0xFF}, 2)
	require.Error(t, err)

	assert.Equal(t, uint64(1), d.Seq(signal.KeySpeed))
	assert.Equal(t, uint64(0), d.Seq(signal.KeyBatteryLevel))
}

func TestDecode_ScaleApplied(t *testing.T) {
	descs := []schema.Descriptor{{
		Topic:    "vehicle/speed/raw",
		Encoding: schema.EncodingBinary,
		Fields: []schema.Field{
			// Wire value in m/s, displayed in km/h
			{Key: "vehicle/speed/raw", Kind: signal.KindFloat, Offset: 0, Scale: 3.6},
		},
	}}
	r, err := schema.NewRegistry(descs)
	require.NoError(t, err)
	d := New(r, nil, nil)

	updates, err := d.Decode("vehicle/speed/raw", floatPayload(10), 1)
	require.NoError(t, err)
	assert.InDelta(t, 36.0, updates[0].Value.Float(), 1e-9)
}
