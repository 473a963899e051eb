package schema

import (
	"time"

	"github.com/c360/signalcore/signal"
)

// Telltale and lock value domains, indexed by wire ordinal.
var (
	telltaleDomain = []string{"off", "on", "blink"}
	lockDomain     = []string{"unlocked", "locked"}
)

// odometerSchema validates the JSON trip payload published by the odometry
// service.
const odometerSchema = `{
	"type": "object",
	"required": ["odometer"],
	"properties": {
		"odometer": {"type": "number", "minimum": 0}
	}
}`

// DefaultDescriptors returns the stock dashboard descriptor set. Deployments
// with a different topic plan supply their own descriptors through
// configuration instead.
func DefaultDescriptors() []Descriptor {
	telltale := func(key signal.Key, topic string) Descriptor {
		return Descriptor{
			Topic:     topic,
			Encoding:  EncodingBinary,
			Staleness: 500 * time.Millisecond,
			Fields: []Field{
				{Key: key, Kind: signal.KindEnum, Offset: 0, Enum: telltaleDomain},
			},
		}
	}

	return []Descriptor{
		{
			Topic:     "vehicle/speed",
			Encoding:  EncodingBinary,
			Staleness: time.Second,
			Fields: []Field{
				{Key: signal.KeySpeed, Kind: signal.KindFloat, Offset: 0, Unit: "km/h"},
			},
		},
		{
			Topic:     "vehicle/battery/state",
			Encoding:  EncodingBinary,
			Staleness: 5 * time.Second,
			Fields: []Field{
				{Key: signal.KeyBatteryLevel, Kind: signal.KindFloat, Offset: 0, Unit: "percent"},
				{Key: signal.KeyBatteryCharging, Kind: signal.KindBool, Offset: 8},
				{Key: signal.KeyBatteryRange, Kind: signal.KindFloat, Offset: 9, Unit: "km"},
				{Key: signal.KeyBatteryTimeToFull, Kind: signal.KindInt, Offset: 17, Unit: "min"},
			},
		},
		{
			// Event-driven, no freshness requirement
			Topic:    "vehicle/lock/state",
			Encoding: EncodingBinary,
			Fields: []Field{
				{Key: signal.KeyLockState, Kind: signal.KindEnum, Offset: 0, Enum: lockDomain},
			},
		},
		{
			Topic:     "vehicle/exterior/temp",
			Encoding:  EncodingBinary,
			Staleness: 30 * time.Second,
			Fields: []Field{
				{Key: signal.KeyExteriorTemp, Kind: signal.KindFloat, Offset: 0, Unit: "celsius"},
			},
		},
		{
			Topic:      "vehicle/trip/data",
			Encoding:   EncodingJSON,
			Staleness:  10 * time.Second,
			JSONSchema: odometerSchema,
			Fields: []Field{
				{Key: signal.KeyOdometer, Kind: signal.KindFloat, Name: "odometer", Unit: "km"},
			},
		},
		telltale(signal.KeyTelltaleLeft, "vehicle/telltale/left"),
		telltale(signal.KeyTelltaleRight, "vehicle/telltale/right"),
		telltale(signal.KeyTelltaleHighbeam, "vehicle/telltale/highbeam"),
		telltale(signal.KeyTelltaleFog, "vehicle/telltale/fog"),
		telltale(signal.KeyTelltaleBrake, "vehicle/telltale/brake"),
		telltale(signal.KeyTelltalePark, "vehicle/telltale/park"),
		telltale(signal.KeyTelltaleTire, "vehicle/telltale/tire"),
	}
}
