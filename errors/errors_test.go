package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_Convention(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "decoder", "Decode", "payload parse")

	assert.EqualError(t, err, "decoder.Decode: payload parse failed: boom")
	assert.ErrorIs(t, err, base)
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"wrapped transient", WrapTransient(errors.New("x"), "c", "m", "a"), ErrorTransient},
		{"wrapped invalid", WrapInvalid(errors.New("x"), "c", "m", "a"), ErrorInvalid},
		{"wrapped fatal", WrapFatal(errors.New("x"), "c", "m", "a"), ErrorFatal},
		{"connection lost sentinel", ErrConnectionLost, ErrorTransient},
		{"truncated payload sentinel", ErrTruncatedPayload, ErrorInvalid},
		{"missing config sentinel", ErrMissingConfig, ErrorFatal},
		{"unknown defaults transient", errors.New("mystery"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsDecodeError(t *testing.T) {
	wrapped := fmt.Errorf("decode vehicle/speed: %w", ErrTruncatedPayload)
	assert.True(t, IsDecodeError(wrapped))
	assert.True(t, IsDecodeError(ErrOutOfRangeEnum))
	assert.True(t, IsDecodeError(ErrSchemaNotFound))
	assert.False(t, IsDecodeError(ErrConnectionLost))
	assert.False(t, IsDecodeError(nil))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := ErrSchemaMismatch
	err := WrapInvalid(base, "decoder", "Decode", "schema validation")

	var ce *ClassifiedError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "decoder", ce.Component)
	assert.ErrorIs(t, err, base)
}
