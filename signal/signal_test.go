package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"simple", "vehicle/speed", false},
		{"deep", "vehicle/battery/level", false},
		{"empty", "", true},
		{"leading slash", "/vehicle/speed", true},
		{"trailing slash", "vehicle/speed/", true},
		{"empty segment", "vehicle//speed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValue_KindMismatchReturnsZero(t *testing.T) {
	v := NewFloat(72.5)

	assert.Equal(t, 72.5, v.Float())
	assert.False(t, v.Bool())
	assert.Zero(t, v.Int())
	assert.Empty(t, v.Str())
}

func TestValue_IntWidensToFloat(t *testing.T) {
	v := NewInt(42)
	assert.Equal(t, 42.0, v.Float())
}

func TestValue_Enum(t *testing.T) {
	v := NewEnum(1, "locked")

	ordinal, label := v.Enum()
	assert.Equal(t, int64(1), ordinal)
	assert.Equal(t, "locked", label)
	assert.Equal(t, "locked", v.Str())
	assert.Equal(t, 1.0, v.Float())
}

func TestParseKind_Roundtrip(t *testing.T) {
	for _, k := range []Kind{KindBool, KindInt, KindFloat, KindEnum, KindString} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("quaternion")
	assert.Error(t, err)
}

func TestSnapshot_ImmutableView(t *testing.T) {
	entries := map[Key]Entry{
		KeySpeed: {Key: KeySpeed, Value: NewFloat(30)},
	}
	snap := NewSnapshot(entries, 5)

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(5), snap.Version())

	e, ok := snap.Get(KeySpeed)
	require.True(t, ok)
	assert.Equal(t, 30.0, e.Value.Float())

	_, ok = snap.Get(KeyOdometer)
	assert.False(t, ok)
}

func TestTelltaleState_Labels(t *testing.T) {
	assert.Equal(t, "off", TelltaleOff.String())
	assert.Equal(t, "on", TelltaleOn.String())
	assert.Equal(t, "blink", TelltaleBlink.String())
	assert.Equal(t, "locked", Locked.String())
	assert.Equal(t, "unlocked", Unlocked.String())
}
