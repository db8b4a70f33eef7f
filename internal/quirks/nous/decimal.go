package nous

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
)

// Decimal1 is a fixed-point number with one fractional digit, stored as
// tenths: 390 is 39.0.
type Decimal1 int32

// ParseDecimal1 converts user-authored text such as "39.0" into tenths,
// rounding half to even: "0.25" is 2.
func ParseDecimal1(text string) (Decimal1, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("decimal1: %w", err)
	}
	return decimal1FromFloat(f)
}

// Decimal1FromBool converts a user-authored boolean: true is 1.0.
func Decimal1FromBool(b bool) Decimal1 {
	if b {
		return 10
	}
	return 0
}

// Decimal1FromWire keeps a value read off the wire, which is already in
// tenths.
func Decimal1FromWire(n int64) (Decimal1, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("decimal1: %d out of range", n)
	}
	return Decimal1(n), nil
}

func decimal1FromFloat(f float64) (Decimal1, error) {
	r := math.RoundToEven(f * 10)
	if math.IsNaN(r) || r < math.MinInt32 || r > math.MaxInt32 {
		return 0, fmt.Errorf("decimal1: %v out of range", f)
	}
	return Decimal1(r), nil
}

func decimal1FromWholeFloat(f float64) (Decimal1, error) {
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("decimal1: %v out of range", f)
	}
	return Decimal1(f), nil
}

// Float returns the decimal value.
func (d Decimal1) Float() float64 {
	return float64(d) / 10
}

func (d Decimal1) String() string {
	return fmt.Sprintf("%.1f", d.Float())
}

// MarshalJSON renders the value as a JSON number with one decimal, 39.0.
func (d Decimal1) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// decimal1FromWire is the data point converter for decimal attributes.
func decimal1FromWire(v interface{}) (interface{}, error) {
	n, ok := zcl.ToInt64(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a decimal", tuya.ErrMapping, v)
	}
	d, err := Decimal1FromWire(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tuya.ErrMapping, err)
	}
	return d, nil
}

// decimal1ToWire encodes a user-authored decimal for a value data point.
// Text and booleans are scaled by ten. Integers, including whole JSON
// numbers, are already tenths and pass through unchanged. A float with a
// fractional part is taken as degrees.
func decimal1ToWire(v interface{}) (interface{}, error) {
	var (
		d   Decimal1
		err error
	)
	switch val := v.(type) {
	case Decimal1:
		d = val
	case string:
		d, err = ParseDecimal1(val)
	case bool:
		d = Decimal1FromBool(val)
	case float64:
		if val == math.Trunc(val) {
			d, err = decimal1FromWholeFloat(val)
		} else {
			d, err = decimal1FromFloat(val)
		}
	default:
		n, ok := zcl.ToInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot encode %T as decimal", tuya.ErrMapping, v)
		}
		d, err = Decimal1FromWire(n)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tuya.ErrMapping, err)
	}
	return int64(d), nil
}
