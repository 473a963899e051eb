package decode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/schema"
	"github.com/c360/signalcore/signal"
)

// decodeBinary extracts every descriptor field from a fixed-layout binary
// payload. Multi-byte values are big-endian; strings carry a two-byte
// length prefix.
func (d *Decoder) decodeBinary(desc schema.Descriptor, payload []byte) ([]Update, error) {
	if len(payload) < desc.MinPayloadLen() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: got %d bytes, layout needs %d",
				errors.ErrTruncatedPayload, len(payload), desc.MinPayloadLen()),
			"Decoder", "decodeBinary", "check payload length")
	}

	updates := make([]Update, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		v, err := decodeBinaryField(f, payload)
		if err != nil {
			return nil, err
		}
		updates = append(updates, Update{Key: f.Key, Value: v})
	}
	return updates, nil
}

func decodeBinaryField(f schema.Field, payload []byte) (signal.Value, error) {
	switch f.Kind {
	case signal.KindBool:
		return signal.NewBool(payload[f.Offset] != 0), nil

	case signal.KindInt:
		raw := int64(binary.BigEndian.Uint64(payload[f.Offset:]))
		return signal.NewInt(raw), nil

	case signal.KindFloat:
		raw := math.Float64frombits(binary.BigEndian.Uint64(payload[f.Offset:]))
		return signal.NewFloat(applyScale(raw, f.Scale)), nil

	case signal.KindEnum:
		ordinal := int64(payload[f.Offset])
		if ordinal >= int64(len(f.Enum)) {
			return signal.Value{}, errors.WrapInvalid(
				fmt.Errorf("%w: field %s ordinal %d, domain size %d",
					errors.ErrOutOfRangeEnum, f.Key, ordinal, len(f.Enum)),
				"Decoder", "decodeBinary", "check enum domain")
		}
		return signal.NewEnum(ordinal, f.Enum[ordinal]), nil

	case signal.KindString:
		n := int(binary.BigEndian.Uint16(payload[f.Offset:]))
		start := f.Offset + 2
		if start+n > len(payload) {
			return signal.Value{}, errors.WrapInvalid(
				fmt.Errorf("%w: field %s string length %d exceeds payload",
					errors.ErrTruncatedPayload, f.Key, n),
				"Decoder", "decodeBinary", "read string field")
		}
		return signal.NewString(string(payload[start : start+n])), nil

	default:
		return signal.Value{}, errors.WrapInvalid(
			fmt.Errorf("field %s: unsupported kind %s", f.Key, f.Kind),
			"Decoder", "decodeBinary", "select field kind")
	}
}

// applyScale multiplies a numeric value by the descriptor scale factor.
// Zero means no scaling.
func applyScale(v, scale float64) float64 {
	if scale == 0 {
		return v
	}
	return v * scale
}
