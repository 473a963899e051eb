package signal

// Well-known dashboard signal keys. These mirror the default subscription
// set wired up by config.Default; deployments with a different topic plan
// supply their own descriptors instead.
const (
	KeySpeed             Key = "vehicle/speed"
	KeyBatteryLevel      Key = "vehicle/battery/level"
	KeyBatteryCharging   Key = "vehicle/battery/charging"
	KeyBatteryRange      Key = "vehicle/battery/range"
	KeyBatteryTimeToFull Key = "vehicle/battery/time_to_full"
	KeyLockState         Key = "vehicle/lock/state"
	KeyExteriorTemp      Key = "vehicle/exterior/temp"
	KeyOdometer          Key = "vehicle/odometer"
)

// Telltale signal keys. Telltales are enum signals carrying a TelltaleState.
const (
	KeyTelltaleLeft     Key = "vehicle/telltale/left"
	KeyTelltaleRight    Key = "vehicle/telltale/right"
	KeyTelltaleHighbeam Key = "vehicle/telltale/highbeam"
	KeyTelltaleFog      Key = "vehicle/telltale/fog"
	KeyTelltaleBrake    Key = "vehicle/telltale/brake"
	KeyTelltalePark     Key = "vehicle/telltale/park"
	KeyTelltaleTire     Key = "vehicle/telltale/tire"
)

// TelltaleState is the value domain for telltale enum signals.
type TelltaleState int64

// Telltale states
const (
	TelltaleOff TelltaleState = iota
	TelltaleOn
	TelltaleBlink
)

// String returns the descriptor label for the state.
func (t TelltaleState) String() string {
	switch t {
	case TelltaleOff:
		return "off"
	case TelltaleOn:
		return "on"
	case TelltaleBlink:
		return "blink"
	default:
		return "unknown"
	}
}

// LockState is the value domain for the lock enum signal.
type LockState int64

// Lock states
const (
	Unlocked LockState = iota
	Locked
)

// String returns the descriptor label for the state.
func (l LockState) String() string {
	switch l {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}
