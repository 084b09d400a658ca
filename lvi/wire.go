package lvi

import (
	"fmt"
	"strconv"
	"time"
)

// The vendor encodes most numeric fields as JSON strings and is not
// consistent about it, so records are decoded into map[string]any and
// converted field by field. Only identity fields are required; the rest
// default to their zero value when absent.

func smarthomeFromWire(raw map[string]any) (Smarthome, error) {
	id := parseString(raw["smarthome_id"])
	if id == "" {
		return Smarthome{}, fmt.Errorf("smarthome record missing smarthome_id")
	}
	return Smarthome{
		ID:          id,
		Label:       parseString(raw["label"]),
		MACAddress:  parseString(raw["mac_address"]),
		GeneralMode: parseString(raw["general_mode"]),
		HolidayMode: parseBool(raw["holiday_mode"]),
	}, nil
}

func heaterFromWire(raw map[string]any) (Heater, error) {
	deviceID := parseString(raw["id_device"])
	if deviceID == "" {
		return Heater{}, fmt.Errorf("device record missing id_device")
	}

	mode := Mode(parseInt(raw, "gv_mode", int(ModeUnknown)))
	if !mode.Valid() {
		mode = ModeUnknown
	}
	fan := FanSpeed(parseInt(raw, "fan_speed", int(FanUnknown)))
	if !fan.Valid() {
		fan = FanUnknown
	}

	return Heater{
		DeviceID:    deviceID,
		ApplianceID: parseString(raw["id_appareil"]),
		Name:        parseString(raw["nom_appareil"]),
		ZoneNumber:  parseInt(raw, "num_zone", 0),
		SmarthomeID: parseString(raw["smarthome_id"]),

		AmbientTemp: parseFloat(raw["temperature_air"]),
		FloorTemp:   parseFloat(raw["temperature_sol"]),

		TargetTemp:  parseFloat(raw["consigne_manuel"]),
		ComfortTemp: parseFloat(raw["consigne_confort"]),
		EcoTemp:     parseFloat(raw["consigne_eco"]),
		FrostTemp:   parseFloat(raw["consigne_hg"]),
		BoostTemp:   parseFloat(raw["consigne_boost"]),

		MinSetpoint: parseFloat(raw["min_set_point"]),
		MaxSetpoint: parseFloat(raw["max_set_point"]),

		Mode:     mode,
		FanSpeed: fan,
		PowerOn:  parseBool(raw["on_off"]),

		HeatingUp:  parseBool(raw["heating_up"]),
		Reachable:  parseBool(raw["status_com"]),
		PowerWatts: parseFloat(raw["puissance_app"]),

		LastUpdate: parseWireTime(raw["date_update"]),
	}, nil
}

func parseFloat(value any) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case string:
		if typed == "" {
			return 0
		}
		if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func parseInt(raw map[string]any, key string, fallback int) int {
	value, ok := raw[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case string:
		if parsed, err := strconv.Atoi(typed); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		// Identifiers sometimes arrive as bare numbers.
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case nil:
		return ""
	}
	return ""
}

func parseBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case float64:
		return typed != 0
	case string:
		return typed == "1" || typed == "true"
	}
	return false
}

// parseWireTime handles the vendor's "2006-01-02 15:04:05" timestamps
// and epoch seconds.
func parseWireTime(value any) time.Time {
	switch typed := value.(type) {
	case string:
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", typed, time.Local); err == nil {
			return ts
		}
		if secs, err := strconv.ParseInt(typed, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0)
		}
	case float64:
		if typed > 0 {
			return time.Unix(int64(typed), 0)
		}
	}
	return time.Time{}
}
