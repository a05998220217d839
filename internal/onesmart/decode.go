package onesmart

import (
	"math"
	"math/bits"
)

// doubleBitThreshold is the bit length from which an integer attribute value
// is taken to be the raw bit pattern of an IEEE-754 double.
//
// Some gateway firmware transmits REAL attributes as the little-endian bytes
// of a float64 read back as an integer. Legitimate integer readings of 60
// bits or more would be misread; none have been observed.
const doubleBitThreshold = 60

// DecodeDouble undoes the gateway's double-as-integer encoding.
//
// Integers whose magnitude needs at least 60 bits are reinterpreted as
// float64 bits. Decoded values below 1 (and non-finite ones) become 0.
// Anything else is returned unchanged.
func DecodeDouble(v any) any {
	var raw uint64
	var magnitude uint64
	switch n := v.(type) {
	case int64:
		raw = uint64(n)
		magnitude = uint64(n)
		if n < 0 {
			magnitude = uint64(-n)
		}
	case uint64:
		raw = n
		magnitude = n
	default:
		return v
	}

	if bits.Len64(magnitude) < doubleBitThreshold {
		return v
	}

	f := math.Float64frombits(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return float64(0)
	}
	return f
}

// decodeAttributes applies DecodeDouble to every value of an apparatus
// attribute map, returning a new map.
func decodeAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for name, v := range attrs {
		out[name] = DecodeDouble(v)
	}
	return out
}
