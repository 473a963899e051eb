package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	ms := ToUnixMs(now)
	assert.True(t, FromUnixMs(ms).Equal(now))
}

func TestZeroMeansUnset(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))
	assert.Equal(t, time.Duration(0), Since(0))
}

func TestFormat(t *testing.T) {
	ms := int64(1672574400000) // 2023-01-01T12:00:00Z
	assert.Equal(t, "2023-01-01T12:00:00Z", Format(ms))
}
