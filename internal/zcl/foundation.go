package zcl

import "fmt"

// Status is a ZCL status code returned by command handlers.
type Status uint8

// ZCL status codes
const (
	StatusSuccess          Status = 0x00
	StatusFailure          Status = 0x01
	StatusUnsupClusterCmd  Status = 0x81
	StatusMalformedCommand Status = 0x80
	StatusUnsupportedAttr  Status = 0x86
	StatusInvalidValue     Status = 0x87
	StatusReadOnly         Status = 0x88
	StatusNotFound         Status = 0x8B
	StatusInvalidDataType  Status = 0x8D
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusMalformedCommand:
		return "MALFORMED_COMMAND"
	case StatusUnsupClusterCmd:
		return "UNSUP_CLUSTER_COMMAND"
	case StatusUnsupportedAttr:
		return "UNSUPPORTED_ATTRIBUTE"
	case StatusInvalidValue:
		return "INVALID_VALUE"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusInvalidDataType:
		return "INVALID_DATA_TYPE"
	}
	return fmt.Sprintf("Status(0x%02X)", uint8(s))
}

// Profile and device type IDs used in endpoint signatures.
const (
	ProfileHomeAutomation uint16 = 0x0104

	DeviceTypeSmartPlug         uint16 = 0x0051
	DeviceTypeTemperatureSensor uint16 = 0x0302
)
