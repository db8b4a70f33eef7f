package tuya

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"zigbee-quirks/internal/zcl"
)

var (
	// ErrMapping is returned when a data point value can't be turned into an
	// attribute value, or an attribute value into a data point.
	ErrMapping = errors.New("tuya: data point mapping failed")
	// ErrUnknownDataPoint is returned for a data point missing from the table.
	ErrUnknownDataPoint = errors.New("tuya: unknown data point")
)

// Converter turns a decoded data point value into the attribute value.
type Converter func(v interface{}) (interface{}, error)

// Encoder turns an attribute value written by a user into the value sent
// in a data point.
type Encoder func(v interface{}) (interface{}, error)

// Mapping routes one data point to one attribute.
type Mapping struct {
	// Endpoint holding the target cluster. Zero means the endpoint of the
	// MCU cluster itself.
	Endpoint  uint8
	ClusterID uint16
	Attribute string
	// FromWire converts the decoded value; nil stores it unchanged.
	FromWire Converter
	// ToWire enables writes; nil marks the attribute read-only.
	ToWire Encoder
	// DPType is the data point type used on writes.
	DPType DPType
}

// Writable reports whether the mapping supports the write path.
func (m Mapping) Writable() bool {
	return m.ToWire != nil
}

// Mappings is a data-point table keyed by DP index.
type Mappings map[uint8]Mapping

// Keys returns the DP indexes in ascending order.
func (m Mappings) Keys() []uint8 {
	keys := make([]uint8, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup finds the mapping targeting an attribute.
func (m Mappings) Lookup(cluster uint16, attr string) (uint8, Mapping, bool) {
	for _, k := range m.Keys() {
		if e := m[k]; e.ClusterID == cluster && e.Attribute == attr {
			return k, e, true
		}
	}
	return 0, Mapping{}, false
}

// MergeMappings returns a fresh table holding base plus extra. A key present
// in both is an error, so a derived table can only add data points.
func MergeMappings(base, extra Mappings) (Mappings, error) {
	out := make(Mappings, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for _, k := range extra.Keys() {
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("tuya: data point %d already mapped to %s", k, out[k].Attribute)
		}
		out[k] = extra[k]
	}
	return out, nil
}

// MustMergeMappings is MergeMappings for package-level tables.
func MustMergeMappings(base, extra Mappings) Mappings {
	out, err := MergeMappings(base, extra)
	if err != nil {
		panic(err)
	}
	return out
}

// Scale multiplies an integer data point value by factor.
func Scale(factor int64) Converter {
	return func(v interface{}) (interface{}, error) {
		n, ok := zcl.ToInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot scale %T", ErrMapping, v)
		}
		if n != 0 && (n > math.MaxInt64/abs(factor) || n < math.MinInt64/abs(factor)) {
			return nil, fmt.Errorf("%w: %d x %d overflows", ErrMapping, n, factor)
		}
		return n * factor, nil
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	if n == 0 {
		return 1
	}
	return n
}

// Integer accepts an integer data point value as int64.
func Integer(v interface{}) (interface{}, error) {
	n, ok := zcl.ToInt64(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an integer", ErrMapping, v)
	}
	return n, nil
}

// IntegerWire encodes an integer attribute value for a value data point.
// Numeric strings are not accepted; callers pass decoded JSON numbers.
func IntegerWire(v interface{}) (interface{}, error) {
	n, ok := zcl.ToInt64(v)
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: cannot encode %v as integer", ErrMapping, v)
	}
	return n, nil
}
