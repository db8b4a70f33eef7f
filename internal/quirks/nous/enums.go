package nous

import (
	"fmt"

	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
)

// TemperatureUnit is the display unit of the device screen.
type TemperatureUnit uint8

const (
	Celsius    TemperatureUnit = 0x00
	Fahrenheit TemperatureUnit = 0x01
)

func (u TemperatureUnit) String() string {
	switch u {
	case Celsius:
		return "celsius"
	case Fahrenheit:
		return "fahrenheit"
	}
	return fmt.Sprintf("TemperatureUnit(%d)", uint8(u))
}

func (u TemperatureUnit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// ParseTemperatureUnit accepts 0, 1 or the unit name.
func ParseTemperatureUnit(v interface{}) (TemperatureUnit, error) {
	if s, ok := v.(string); ok {
		switch s {
		case "celsius":
			return Celsius, nil
		case "fahrenheit":
			return Fahrenheit, nil
		}
		return 0, fmt.Errorf("%w: unknown temperature unit %q", tuya.ErrMapping, s)
	}
	n, ok := zcl.ToInt64(v)
	if !ok || n < int64(Celsius) || n > int64(Fahrenheit) {
		return 0, fmt.Errorf("%w: temperature unit %v", tuya.ErrMapping, v)
	}
	return TemperatureUnit(n), nil
}

// ValueAlarm is the state of a min/max threshold alarm.
type ValueAlarm uint8

const (
	MinAlarmOn ValueAlarm = 0x00
	MaxAlarmOn ValueAlarm = 0x01
	AlarmOff   ValueAlarm = 0x02
)

func (a ValueAlarm) String() string {
	switch a {
	case MinAlarmOn:
		return "min_alarm_on"
	case MaxAlarmOn:
		return "max_alarm_on"
	case AlarmOff:
		return "alarm_off"
	}
	return fmt.Sprintf("ValueAlarm(%d)", uint8(a))
}

func (a ValueAlarm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseValueAlarm accepts 0, 1 or 2.
func ParseValueAlarm(v interface{}) (ValueAlarm, error) {
	n, ok := zcl.ToInt64(v)
	if !ok || n < int64(MinAlarmOn) || n > int64(AlarmOff) {
		return 0, fmt.Errorf("%w: value alarm %v", tuya.ErrMapping, v)
	}
	return ValueAlarm(n), nil
}

func temperatureUnitFromWire(v interface{}) (interface{}, error) {
	return ParseTemperatureUnit(v)
}

func temperatureUnitToWire(v interface{}) (interface{}, error) {
	u, err := ParseTemperatureUnit(v)
	if err != nil {
		return nil, err
	}
	return int64(u), nil
}

func valueAlarmFromWire(v interface{}) (interface{}, error) {
	return ParseValueAlarm(v)
}
