package zcl

import (
	"fmt"
	"math"
	"reflect"
)

// ZCL data type IDs
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint24   uint8 = 0x22
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeInt24    uint8 = 0x2A
	TypeInt32    uint8 = 0x2B
	TypeEnum8    uint8 = 0x30
	TypeEnum16   uint8 = 0x31
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
	TypeEUI64    uint8 = 0xF0
	TypeUTC      uint8 = 0xE2
)

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeNoData:
		return "nodata"
	case TypeBool:
		return "bool"
	case TypeBitmap8:
		return "map8"
	case TypeBitmap16:
		return "map16"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint24:
		return "uint24"
	case TypeUint32:
		return "uint32"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt24:
		return "int24"
	case TypeInt32:
		return "int32"
	case TypeEnum8:
		return "enum8"
	case TypeEnum16:
		return "enum16"
	case TypeOctetStr:
		return "octstr"
	case TypeCharStr:
		return "string"
	case TypeEUI64:
		return "EUI64"
	case TypeUTC:
		return "UTC"
	default:
		return fmt.Sprintf("0x%02X", typeID)
	}
}

// IntegerRange returns the inclusive value range of an integer-valued ZCL
// type. ok is false for non-integer types.
func IntegerRange(typeID uint8) (min, max int64, ok bool) {
	switch typeID {
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return 0, math.MaxUint8, true
	case TypeUint16, TypeEnum16, TypeBitmap16:
		return 0, math.MaxUint16, true
	case TypeUint24:
		return 0, 0xFFFFFF, true
	case TypeUint32, TypeUTC:
		return 0, math.MaxUint32, true
	case TypeInt8:
		return math.MinInt8, math.MaxInt8, true
	case TypeInt16:
		return math.MinInt16, math.MaxInt16, true
	case TypeInt24:
		return -8388608, 8388607, true
	case TypeInt32:
		return math.MinInt32, math.MaxInt32, true
	}
	return 0, 0, false
}

// CheckValue verifies that val can be stored in an attribute of the given
// type. Integer types are range-checked; named integer types (enums,
// fixed-point wrappers) are accepted by their underlying kind.
func CheckValue(typeID uint8, val interface{}) error {
	if min, max, ok := IntegerRange(typeID); ok {
		v, ok := ToInt64(val)
		if !ok {
			return fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		if v < min || v > max {
			return fmt.Errorf("zcl: value %d overflows %s (range %d..%d)", v, TypeName(typeID), min, max)
		}
		return nil
	}

	switch typeID {
	case TypeBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
	case TypeCharStr:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		if len(s) > 254 {
			return fmt.Errorf("zcl: string too long for CharStr: %d (max 254)", len(s))
		}
	case TypeOctetStr:
		b, ok := val.([]byte)
		if !ok {
			return fmt.Errorf("zcl: cannot convert %T to []byte", val)
		}
		if len(b) > 254 {
			return fmt.Errorf("zcl: data too long for OctetStr: %d (max 254)", len(b))
		}
	}
	return nil
}

// ToInt64 converts any integer-kinded value, including named integer types,
// to int64. Floats are accepted only when they carry no fractional part.
func ToInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	case nil:
		return 0, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}
