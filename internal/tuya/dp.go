// Package tuya implements the Tuya MCU data-point protocol carried on the
// manufacturer-specific cluster 0xEF00, and a local cluster that maps data
// points onto standard ZCL attributes.
package tuya

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"zigbee-quirks/internal/zcl"
)

// ErrShortPayload is returned when a payload ends before a complete field.
var ErrShortPayload = errors.New("tuya: short payload")

// DPType is the data type tag of a data point.
type DPType uint8

// Data point types.
const (
	DPTypeRaw    DPType = 0x00
	DPTypeBool   DPType = 0x01
	DPTypeValue  DPType = 0x02 // signed 32-bit big-endian
	DPTypeString DPType = 0x03
	DPTypeEnum   DPType = 0x04 // single byte
	DPTypeBitmap DPType = 0x05 // 1, 2 or 4 bytes big-endian
)

func (t DPType) String() string {
	switch t {
	case DPTypeRaw:
		return "raw"
	case DPTypeBool:
		return "bool"
	case DPTypeValue:
		return "value"
	case DPTypeString:
		return "string"
	case DPTypeEnum:
		return "enum"
	case DPTypeBitmap:
		return "bitmap"
	}
	return fmt.Sprintf("DPType(%d)", uint8(t))
}

// DataPoint is one entry of a Tuya MCU command.
type DataPoint struct {
	ID   uint8
	Type DPType
	Data []byte
}

// Value decodes the data point. Raw data comes back as []byte, bool as bool,
// string as string; value, enum and bitmap as int64.
func (dp DataPoint) Value() (interface{}, error) {
	switch dp.Type {
	case DPTypeRaw:
		cp := make([]byte, len(dp.Data))
		copy(cp, dp.Data)
		return cp, nil
	case DPTypeBool:
		if len(dp.Data) != 1 {
			return nil, fmt.Errorf("tuya: dp %d: bool of %d bytes", dp.ID, len(dp.Data))
		}
		return dp.Data[0] != 0, nil
	case DPTypeValue:
		if len(dp.Data) != 4 {
			return nil, fmt.Errorf("tuya: dp %d: value of %d bytes", dp.ID, len(dp.Data))
		}
		return int64(int32(binary.BigEndian.Uint32(dp.Data))), nil
	case DPTypeString:
		return string(dp.Data), nil
	case DPTypeEnum:
		if len(dp.Data) != 1 {
			return nil, fmt.Errorf("tuya: dp %d: enum of %d bytes", dp.ID, len(dp.Data))
		}
		return int64(dp.Data[0]), nil
	case DPTypeBitmap:
		switch len(dp.Data) {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("tuya: dp %d: bitmap of %d bytes", dp.ID, len(dp.Data))
		}
		var val uint32
		for _, b := range dp.Data {
			val = val<<8 | uint32(b)
		}
		return int64(val), nil
	}
	return nil, fmt.Errorf("tuya: dp %d: unknown type %s", dp.ID, dp.Type)
}

// NewDataPoint encodes v as a data point of the given type. Integer kinds
// (including named integer types) are accepted for value, enum and bitmap.
func NewDataPoint(id uint8, typ DPType, v interface{}) (DataPoint, error) {
	dp := DataPoint{ID: id, Type: typ}
	switch typ {
	case DPTypeRaw:
		b, ok := v.([]byte)
		if !ok {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %T as raw", id, v)
		}
		dp.Data = append([]byte(nil), b...)
	case DPTypeBool:
		b, ok := v.(bool)
		if !ok {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %T as bool", id, v)
		}
		dp.Data = []byte{0}
		if b {
			dp.Data[0] = 1
		}
	case DPTypeString:
		s, ok := v.(string)
		if !ok {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %T as string", id, v)
		}
		dp.Data = []byte(s)
	case DPTypeValue:
		n, ok := zcl.ToInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %v as value", id, v)
		}
		dp.Data = binary.BigEndian.AppendUint32(nil, uint32(int32(n)))
	case DPTypeEnum:
		n, ok := zcl.ToInt64(v)
		if !ok || n < 0 || n > math.MaxUint8 {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %v as enum", id, v)
		}
		dp.Data = []byte{uint8(n)}
	case DPTypeBitmap:
		n, ok := zcl.ToInt64(v)
		if !ok || n < 0 || n > math.MaxUint32 {
			return dp, fmt.Errorf("tuya: dp %d: cannot encode %v as bitmap", id, v)
		}
		switch {
		case n <= math.MaxUint8:
			dp.Data = []byte{uint8(n)}
		case n <= math.MaxUint16:
			dp.Data = binary.BigEndian.AppendUint16(nil, uint16(n))
		default:
			dp.Data = binary.BigEndian.AppendUint32(nil, uint32(n))
		}
	default:
		return dp, fmt.Errorf("tuya: dp %d: unknown type %s", id, typ)
	}
	return dp, nil
}

// Command is the payload of the data-point commands: set data, get data
// response, set data response and active status report.
type Command struct {
	Seq        uint16
	DataPoints []DataPoint
}

// ParseCommand decodes seq(2 BE) followed by repeated
// [dp(1) type(1) len(2 BE) data(len)].
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if len(data) < 2 {
		return cmd, fmt.Errorf("%w: %d bytes, need sequence number", ErrShortPayload, len(data))
	}
	cmd.Seq = binary.BigEndian.Uint16(data[:2])

	pos := 2
	for pos < len(data) {
		if pos+4 > len(data) {
			return cmd, fmt.Errorf("%w: dp header at offset %d", ErrShortPayload, pos)
		}
		dp := DataPoint{ID: data[pos], Type: DPType(data[pos+1])}
		dataLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		pos += 4
		if pos+dataLen > len(data) {
			return cmd, fmt.Errorf("%w: dp %d needs %d bytes at offset %d, have %d",
				ErrShortPayload, dp.ID, dataLen, pos, len(data)-pos)
		}
		dp.Data = append([]byte(nil), data[pos:pos+dataLen]...)
		pos += dataLen
		cmd.DataPoints = append(cmd.DataPoints, dp)
	}
	return cmd, nil
}

// MarshalBinary encodes the command in the wire format read by ParseCommand.
func (c Command) MarshalBinary() ([]byte, error) {
	out := binary.BigEndian.AppendUint16(nil, c.Seq)
	for _, dp := range c.DataPoints {
		if len(dp.Data) > math.MaxUint16 {
			return nil, fmt.Errorf("tuya: dp %d: %d bytes of data", dp.ID, len(dp.Data))
		}
		out = append(out, dp.ID, uint8(dp.Type))
		out = binary.BigEndian.AppendUint16(out, uint16(len(dp.Data)))
		out = append(out, dp.Data...)
	}
	return out, nil
}
