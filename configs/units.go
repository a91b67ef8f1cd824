package configs

import "math"

// ToRaw converts a display value (grams, g/s ...) to its 16-bit register
// representation. The PLC stores every numeric parameter at one decimal of
// precision: raw = display * 10, anything finer truncates.
func ToRaw(display float64) uint16 {
	return uint16(display * RegisterUnitFactor)
}

// FromRaw converts an unsigned register value back to display units.
func FromRaw(raw uint16) float64 {
	return float64(raw) / RegisterUnitFactor
}

// WeightFromRaw decodes a live-weight register. The scale reports weight as a
// 16-bit two's-complement integer, so values above 32767 are negative.
func WeightFromRaw(raw uint16) float64 {
	v := int32(raw)
	if v > math.MaxInt16 {
		v -= 1 << 16
	}
	return float64(v) / RegisterUnitFactor
}
