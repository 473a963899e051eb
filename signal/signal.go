// Package signal defines the vehicle signal data model shared by the
// ingestion pipeline: keys, typed values, store entries and snapshots.
//
// A Value is a closed tagged union over the supported payload kinds. New
// kinds are added by extending the Kind enum and the Value accessors, never
// by runtime type inspection.
package signal

import (
	"fmt"
	"strings"
)

// Key identifies a logical signal by its hierarchical topic path,
// e.g. "vehicle/battery/level". Keys are immutable once defined.
type Key string

// String returns the key as its topic path.
func (k Key) String() string {
	return string(k)
}

// Validate checks that the key is a well-formed topic path.
func (k Key) Validate() error {
	s := string(k)
	if s == "" {
		return fmt.Errorf("signal key is empty")
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return fmt.Errorf("signal key %q has leading or trailing slash", s)
	}
	if strings.Contains(s, "//") {
		return fmt.Errorf("signal key %q has empty path segment", s)
	}
	return nil
}

// Kind enumerates the supported signal payload kinds.
type Kind int

// Supported payload kinds
const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindEnum
	KindString
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEnum:
		return "enum"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as used in descriptor definitions.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "enum":
		return KindEnum, nil
	case "string":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown signal kind %q", s)
	}
}

// Value is a decoded signal sample. Seq is assigned by the decoder
// (per-key monotonic counter); ReceivedAt is the arrival timestamp in
// Unix milliseconds.
type Value struct {
	Kind       Kind
	Seq        uint64
	ReceivedAt int64

	b bool
	i int64
	f float64
	s string
}

// NewBool creates a boolean Value.
func NewBool(v bool) Value {
	return Value{Kind: KindBool, b: v}
}

// NewInt creates an integer Value.
func NewInt(v int64) Value {
	return Value{Kind: KindInt, i: v}
}

// NewFloat creates a floating-point Value.
func NewFloat(v float64) Value {
	return Value{Kind: KindFloat, f: v}
}

// NewEnum creates an enum Value. The ordinal must already be validated
// against the descriptor's value domain.
func NewEnum(ordinal int64, label string) Value {
	return Value{Kind: KindEnum, i: ordinal, s: label}
}

// NewString creates a string Value.
func NewString(v string) Value {
	return Value{Kind: KindString, s: v}
}

// Bool returns the boolean payload; false if the kind does not match.
func (v Value) Bool() bool {
	if v.Kind != KindBool {
		return false
	}
	return v.b
}

// Int returns the integer payload; 0 if the kind does not match.
func (v Value) Int() int64 {
	if v.Kind != KindInt && v.Kind != KindEnum {
		return 0
	}
	return v.i
}

// Float returns the floating-point payload. Int payloads are widened so
// consumers like the trip aggregator can treat numeric signals uniformly.
func (v Value) Float() float64 {
	switch v.Kind {
	case KindFloat:
		return v.f
	case KindInt, KindEnum:
		return float64(v.i)
	default:
		return 0
	}
}

// Enum returns the enum ordinal and label; (0, "") if the kind does not match.
func (v Value) Enum() (int64, string) {
	if v.Kind != KindEnum {
		return 0, ""
	}
	return v.i, v.s
}

// Str returns the string payload; empty if the kind does not match.
func (v Value) Str() string {
	if v.Kind != KindString && v.Kind != KindEnum {
		return ""
	}
	return v.s
}

// String implements fmt.Stringer for logging.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.b)
	case KindInt:
		return fmt.Sprintf("int(%d)", v.i)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.f)
	case KindEnum:
		return fmt.Sprintf("enum(%d:%s)", v.i, v.s)
	case KindString:
		return fmt.Sprintf("string(%q)", v.s)
	default:
		return "unknown"
	}
}

// Entry is the stored state for one signal: the latest accepted value and
// its staleness flag. The stale flag is recomputed only by the staleness
// monitor; accepted updates clear it.
type Entry struct {
	Key   Key
	Value Value
	Stale bool
}

// Seq returns the sequence number of the stored value.
func (e Entry) Seq() uint64 {
	return e.Value.Seq
}

// UpdatedAt returns the receipt timestamp of the stored value in Unix ms.
func (e Entry) UpdatedAt() int64 {
	return e.Value.ReceivedAt
}

// Snapshot is an immutable point-in-time view of the vehicle state.
// The underlying map is never mutated after publication; readers may
// iterate it freely.
type Snapshot struct {
	entries map[Key]Entry
	version uint64
}

// NewSnapshot builds a snapshot from a map the caller promises not to
// mutate afterwards.
func NewSnapshot(entries map[Key]Entry, version uint64) Snapshot {
	return Snapshot{entries: entries, version: version}
}

// Get returns the entry for key, if present.
func (s Snapshot) Get(key Key) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Len returns the number of signals in the snapshot.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Version returns the store version this snapshot was taken at. Versions
// increase with every accepted mutation.
func (s Snapshot) Version() uint64 {
	return s.version
}

// Range calls fn for every entry until fn returns false.
func (s Snapshot) Range(fn func(Entry) bool) {
	for _, e := range s.entries {
		if !fn(e) {
			return
		}
	}
}
