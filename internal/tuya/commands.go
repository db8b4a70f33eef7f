package tuya

import (
	"encoding/binary"
	"fmt"
)

// Tuya MCU command IDs on cluster 0xEF00.
const (
	CommandSetData             uint8 = 0x00
	CommandGetData             uint8 = 0x01
	CommandSetDataResponse     uint8 = 0x02
	CommandQueryData           uint8 = 0x03
	CommandActiveStatusReport  uint8 = 0x06
	CommandMCUVersionRequest   uint8 = 0x10
	CommandMCUVersionResponse  uint8 = 0x11
	CommandSetTime             uint8 = 0x24
	CommandMCUConnectionStatus uint8 = 0x25
)

// TimePayload is the body of a set-time command: a byte list prefixed with
// its length as a little-endian uint16.
type TimePayload []byte

// NewTimePayload builds the standard 8-byte time body: UTC seconds then
// local seconds, each a big-endian uint32.
func NewTimePayload(utc, local uint32) TimePayload {
	p := binary.BigEndian.AppendUint32(nil, utc)
	return binary.BigEndian.AppendUint32(p, local)
}

// MarshalBinary prefixes the body with its length.
func (p TimePayload) MarshalBinary() ([]byte, error) {
	if len(p) > 0xFFFF {
		return nil, fmt.Errorf("tuya: time payload of %d bytes", len(p))
	}
	out := binary.LittleEndian.AppendUint16(make([]byte, 0, 2+len(p)), uint16(len(p)))
	return append(out, p...), nil
}

// ParseTimePayload decodes a length-prefixed time body.
func ParseTimePayload(data []byte) (TimePayload, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: time payload length", ErrShortPayload)
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	if len(data)-2 < n {
		return nil, fmt.Errorf("%w: time payload needs %d bytes, have %d", ErrShortPayload, n, len(data)-2)
	}
	return TimePayload(append([]byte(nil), data[2:2+n]...)), nil
}

// Timestamps returns the UTC and local seconds of an 8-byte body.
func (p TimePayload) Timestamps() (utc, local uint32, err error) {
	if len(p) != 8 {
		return 0, 0, fmt.Errorf("tuya: time payload of %d bytes, want 8", len(p))
	}
	return binary.BigEndian.Uint32(p[:4]), binary.BigEndian.Uint32(p[4:]), nil
}

// Gateway connection states reported in a connection-status response.
const (
	GatewayOffline   uint8 = 0x00
	GatewayConnected uint8 = 0x01
	GatewayTimeout   uint8 = 0x02
)

// ConnectionStatus is the payload of the MCU connection-status exchange:
// a transaction number and a one-byte-length-prefixed status.
type ConnectionStatus struct {
	TSN    uint8
	Status []byte
}

// ParseConnectionStatus decodes tsn(1) followed by the length-prefixed status.
func ParseConnectionStatus(data []byte) (ConnectionStatus, error) {
	var cs ConnectionStatus
	if len(data) < 1 {
		return cs, fmt.Errorf("%w: connection status", ErrShortPayload)
	}
	cs.TSN = data[0]
	if len(data) < 2 {
		return cs, nil
	}
	n := int(data[1])
	if len(data)-2 < n {
		return cs, fmt.Errorf("%w: connection status needs %d bytes, have %d", ErrShortPayload, n, len(data)-2)
	}
	cs.Status = append([]byte(nil), data[2:2+n]...)
	return cs, nil
}

// MarshalBinary encodes the status in the format read by ParseConnectionStatus.
func (cs ConnectionStatus) MarshalBinary() ([]byte, error) {
	if len(cs.Status) > 0xFF {
		return nil, fmt.Errorf("tuya: connection status of %d bytes", len(cs.Status))
	}
	out := []byte{cs.TSN, uint8(len(cs.Status))}
	return append(out, cs.Status...), nil
}

// MCUVersion is the payload of an MCU version response.
type MCUVersion struct {
	Status uint8
	TSN    uint8
	Raw    uint8
}

// ParseMCUVersion decodes status(1) tsn(1) version(1).
func ParseMCUVersion(data []byte) (MCUVersion, error) {
	if len(data) < 3 {
		return MCUVersion{}, fmt.Errorf("%w: mcu version needs 3 bytes, have %d", ErrShortPayload, len(data))
	}
	return MCUVersion{Status: data[0], TSN: data[1], Raw: data[2]}, nil
}

// String renders the packed version byte as major.minor.release.
func (v MCUVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Raw>>6, (v.Raw&0x3F)>>4, v.Raw&0x0F)
}
