// Package schema models the client side of the schema registry
// collaborator: decode descriptors that tell the decoder how to turn a raw
// payload on a topic into typed signal values, and an immutable registry
// resolving topics to descriptors.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/signal"
)

// Encoding identifies the payload encoding a descriptor decodes.
type Encoding string

// Supported payload encodings
const (
	EncodingBinary Encoding = "binary"
	EncodingJSON   Encoding = "json"
)

// Field maps one portion of a payload to one signal key.
//
// For binary payloads the field occupies a fixed position: Offset is the
// byte offset and the width follows from the kind (bool and enum one byte,
// int and float eight bytes big-endian, string a two-byte length prefix
// plus that many bytes). For JSON payloads Name selects the object member.
type Field struct {
	Key  signal.Key
	Kind signal.Kind

	// Binary layout
	Offset int

	// JSON member name
	Name string

	// Enum value domain, indexed by ordinal. Required for KindEnum.
	Enum []string

	// Unit is informational (e.g. "km/h", "percent").
	Unit string

	// Scale multiplies numeric values after extraction. Zero means 1.
	Scale float64
}

// Width returns the fixed byte width of the field for binary payloads.
// String fields are variable length; Width returns the two-byte length
// prefix and the decoder reads the remainder.
func (f Field) Width() int {
	switch f.Kind {
	case signal.KindBool, signal.KindEnum:
		return 1
	case signal.KindInt, signal.KindFloat:
		return 8
	case signal.KindString:
		return 2
	default:
		return 0
	}
}

// validate checks field consistency for the given encoding.
func (f Field) validate(enc Encoding) error {
	if err := f.Key.Validate(); err != nil {
		return err
	}
	if f.Kind == signal.KindEnum && len(f.Enum) == 0 {
		return fmt.Errorf("field %s: enum kind requires a value domain", f.Key)
	}
	switch enc {
	case EncodingBinary:
		if f.Offset < 0 {
			return fmt.Errorf("field %s: negative offset %d", f.Key, f.Offset)
		}
	case EncodingJSON:
		if f.Name == "" {
			return fmt.Errorf("field %s: json field requires a member name", f.Key)
		}
	}
	return nil
}

// Descriptor declares how payloads on one topic decode into signal values.
// Descriptors are immutable for the process lifetime; a schema change
// requires a new subscription.
type Descriptor struct {
	// Topic is the hierarchical topic path this descriptor serves. A
	// trailing "/*" matches exactly one extra segment, a trailing "/>"
	// matches any remainder.
	Topic string

	Encoding Encoding
	Fields   []Field

	// JSONSchema optionally validates JSON payloads before extraction.
	JSONSchema string

	// Staleness is the freshness timeout for every signal this descriptor
	// produces. Zero disables staleness tracking for those signals.
	Staleness time.Duration
}

// Validate checks the descriptor is internally consistent.
func (d Descriptor) Validate() error {
	if d.Topic == "" {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor has empty topic"),
			"Descriptor", "Validate", "check topic")
	}
	if d.Encoding != EncodingBinary && d.Encoding != EncodingJSON {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %s: unknown encoding %q", d.Topic, d.Encoding),
			"Descriptor", "Validate", "check encoding")
	}
	if len(d.Fields) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %s: no fields", d.Topic),
			"Descriptor", "Validate", "check fields")
	}
	if d.Staleness < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %s: negative staleness timeout", d.Topic),
			"Descriptor", "Validate", "check staleness timeout")
	}
	for _, f := range d.Fields {
		if err := f.validate(d.Encoding); err != nil {
			return errors.WrapInvalid(err, "Descriptor", "Validate", "check field")
		}
	}
	if d.JSONSchema != "" && d.Encoding != EncodingJSON {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %s: json schema on non-json encoding", d.Topic),
			"Descriptor", "Validate", "check json schema")
	}
	return nil
}

// MinPayloadLen returns the minimum binary payload length the descriptor's
// fixed fields require. String tails are checked at decode time.
func (d Descriptor) MinPayloadLen() int {
	max := 0
	for _, f := range d.Fields {
		if end := f.Offset + f.Width(); end > max {
			max = end
		}
	}
	return max
}

// Subject converts the descriptor's topic path into the bus subject form
// ("vehicle/battery/level" -> "vehicle.battery.level", "/*" -> ".*",
// "/>" -> ".>").
func (d Descriptor) Subject() string {
	return ToSubject(d.Topic)
}

// ToSubject converts a topic path to a bus subject.
func ToSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// ToTopic converts a bus subject back to a topic path.
func ToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
