package lvi

import (
	"fmt"
	"time"
)

// Mode is the heating mode reported and accepted by the vendor API
// (wire field gv_mode).
type Mode int

const (
	ModeComfort Mode = 0
	ModeOff     Mode = 1
	ModeFrost   Mode = 2
	ModeEco     Mode = 3
	ModeBoost   Mode = 4
	ModeProgram Mode = 11

	ModeUnknown Mode = -1
)

func (m Mode) Valid() bool {
	switch m {
	case ModeComfort, ModeOff, ModeFrost, ModeEco, ModeBoost, ModeProgram:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case ModeComfort:
		return "comfort"
	case ModeOff:
		return "off"
	case ModeFrost:
		return "frost"
	case ModeEco:
		return "eco"
	case ModeBoost:
		return "boost"
	case ModeProgram:
		return "program"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name to its wire value. Handy for CLI and MQTT
// payloads.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "comfort":
		return ModeComfort, nil
	case "off":
		return ModeOff, nil
	case "frost":
		return ModeFrost, nil
	case "eco":
		return ModeEco, nil
	case "boost":
		return ModeBoost, nil
	case "program":
		return ModeProgram, nil
	default:
		return ModeUnknown, fmt.Errorf("invalid mode: %q", s)
	}
}

// FanSpeed is the fan setting for heaters that have one (wire field
// fan_speed).
type FanSpeed int

const (
	FanAuto   FanSpeed = 0
	FanLow    FanSpeed = 1
	FanMedium FanSpeed = 2
	FanHigh   FanSpeed = 3

	FanUnknown FanSpeed = -1
)

func (f FanSpeed) Valid() bool {
	switch f {
	case FanAuto, FanLow, FanMedium, FanHigh:
		return true
	}
	return false
}

func (f FanSpeed) String() string {
	switch f {
	case FanAuto:
		return "auto"
	case FanLow:
		return "low"
	case FanMedium:
		return "medium"
	case FanHigh:
		return "high"
	default:
		return "unknown"
	}
}

func ParseFanSpeed(s string) (FanSpeed, error) {
	switch s {
	case "auto":
		return FanAuto, nil
	case "low":
		return FanLow, nil
	case "medium":
		return FanMedium, nil
	case "high":
		return FanHigh, nil
	default:
		return FanUnknown, fmt.Errorf("invalid fan speed: %q", s)
	}
}

// Heater is the last-fetched state of one heater. Records are only ever
// sourced from the vendor API; UpdateHeaters replaces them wholesale.
type Heater struct {
	// DeviceID is the vendor-assigned key used to address the heater
	// in commands (wire field id_device).
	DeviceID    string
	ApplianceID string
	Name        string
	ZoneNumber  int
	SmarthomeID string

	// AmbientTemp is the measured air temperature in °C.
	AmbientTemp float64
	// FloorTemp is the floor-sensor temperature in °C, zero when the
	// heater has no floor sensor.
	FloorTemp float64

	// TargetTemp is the currently active manual setpoint in °C.
	TargetTemp  float64
	ComfortTemp float64
	EcoTemp     float64
	FrostTemp   float64
	BoostTemp   float64

	// MinSetpoint and MaxSetpoint bound SetTemperature for this
	// heater. Both zero when the vendor does not report them.
	MinSetpoint float64
	MaxSetpoint float64

	Mode     Mode
	FanSpeed FanSpeed
	PowerOn  bool

	HeatingUp bool
	// Reachable reports radio contact between the gateway and the
	// heater (wire field status_com).
	Reachable  bool
	PowerWatts float64

	LastUpdate time.Time
}

// SetpointRange returns the valid target-temperature bounds for the
// heater. Each bound falls back to the vendor-documented 5..35 °C
// independently, since devices may report only one of them.
func (h Heater) SetpointRange() (min, max float64) {
	min, max = h.MinSetpoint, h.MaxSetpoint
	if min == 0 {
		min = DefaultMinSetpoint
	}
	if max == 0 {
		max = DefaultMaxSetpoint
	}
	return min, max
}

// Smarthome is one gateway/home registered on the account.
type Smarthome struct {
	ID          string
	Label       string
	MACAddress  string
	GeneralMode string
	HolidayMode bool
}

// ControlFlags selects which control fields SetControl changes. Nil
// fields are left untouched on the device.
type ControlFlags struct {
	Mode     *Mode
	PowerOn  *bool
	FanSpeed *FanSpeed
}

func (f ControlFlags) validate() error {
	if f.Mode == nil && f.PowerOn == nil && f.FanSpeed == nil {
		return fmt.Errorf("no control flags set")
	}
	if f.Mode != nil && !f.Mode.Valid() {
		return fmt.Errorf("invalid mode %d", int(*f.Mode))
	}
	if f.FanSpeed != nil && !f.FanSpeed.Valid() {
		return fmt.Errorf("invalid fan speed %d", int(*f.FanSpeed))
	}
	return nil
}
