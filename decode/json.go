package decode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/schema"
	"github.com/c360/signalcore/signal"
)

// decodeJSON validates a JSON payload against the descriptor's compiled
// schema (when declared) and extracts every descriptor field by member name.
func (d *Decoder) decodeJSON(topic string, desc schema.Descriptor, payload []byte) ([]Update, error) {
	if compiled := d.registry.Schema(topic); compiled != nil {
		result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err),
				"Decoder", "decodeJSON", "validate payload")
		}
		if !result.Valid() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrSchemaMismatch, validationErrors(result)),
				"Decoder", "decodeJSON", "validate payload")
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err),
			"Decoder", "decodeJSON", "unmarshal payload")
	}

	updates := make([]Update, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		raw, ok := doc[f.Name]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: member %q for field %s", errors.ErrUnknownField, f.Name, f.Key),
				"Decoder", "decodeJSON", "extract field")
		}

		v, err := decodeJSONField(f, raw)
		if err != nil {
			return nil, err
		}
		updates = append(updates, Update{Key: f.Key, Value: v})
	}
	return updates, nil
}

func decodeJSONField(f schema.Field, raw any) (signal.Value, error) {
	mismatch := func() (signal.Value, error) {
		return signal.Value{}, errors.WrapInvalid(
			fmt.Errorf("%w: member %q is not a %s", errors.ErrSchemaMismatch, f.Name, f.Kind),
			"Decoder", "decodeJSON", "coerce field")
	}

	switch f.Kind {
	case signal.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return mismatch()
		}
		return signal.NewBool(b), nil

	case signal.KindInt:
		n, ok := raw.(float64)
		if !ok {
			return mismatch()
		}
		return signal.NewInt(int64(n)), nil

	case signal.KindFloat:
		n, ok := raw.(float64)
		if !ok {
			return mismatch()
		}
		return signal.NewFloat(applyScale(n, f.Scale)), nil

	case signal.KindEnum:
		// Accepts the label or the numeric ordinal
		switch v := raw.(type) {
		case string:
			for i, label := range f.Enum {
				if label == v {
					return signal.NewEnum(int64(i), label), nil
				}
			}
			return signal.Value{}, errors.WrapInvalid(
				fmt.Errorf("%w: field %s label %q", errors.ErrOutOfRangeEnum, f.Key, v),
				"Decoder", "decodeJSON", "check enum domain")
		case float64:
			ordinal := int64(v)
			if ordinal < 0 || ordinal >= int64(len(f.Enum)) {
				return signal.Value{}, errors.WrapInvalid(
					fmt.Errorf("%w: field %s ordinal %d, domain size %d",
						errors.ErrOutOfRangeEnum, f.Key, ordinal, len(f.Enum)),
					"Decoder", "decodeJSON", "check enum domain")
			}
			return signal.NewEnum(ordinal, f.Enum[ordinal]), nil
		default:
			return mismatch()
		}

	case signal.KindString:
		s, ok := raw.(string)
		if !ok {
			return mismatch()
		}
		return signal.NewString(s), nil

	default:
		return signal.Value{}, errors.WrapInvalid(
			fmt.Errorf("field %s: unsupported kind %s", f.Key, f.Kind),
			"Decoder", "decodeJSON", "select field kind")
	}
}

func validationErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
