package vec

import "math"

// Fp16ToFp32 converts one IEEE binary16 value, including subnormals and
// Inf/NaN payloads.
func Fp16ToFp32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF

	var f32 uint32
	if exp == 0 {
		if mant == 0 {
			f32 = sign << 31
		} else {
			shift := uint32(0)
			m := mant
			for m < 0x400 {
				m <<= 1
				shift++
			}
			m = (m & 0x3FF) << 13
			e := uint32(127 - 14 - shift)
			f32 = (sign << 31) | (e << 23) | m
		}
	} else if exp == 31 {
		if mant == 0 {
			f32 = (sign << 31) | 0x7F800000
		} else {
			f32 = (sign << 31) | 0x7F800000 | (mant << 13)
		}
	} else {
		newExp := exp - 15 + 127
		f32 = (sign << 31) | (newExp << 23) | (mant << 13)
	}
	return math.Float32frombits(f32)
}

// Fp32ToFp16 converts one float32 to binary16, flushing overflow to Inf
// and rounding subnormals toward zero.
func Fp32ToFp16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := bits >> 31
	exp := (bits >> 23) & 0xFF
	mant := bits & 0x7FFFFF

	var h uint16
	if exp == 0 {
		h = uint16(sign << 15)
	} else if exp == 255 {
		h = uint16(sign<<15) | 0x7C00
		if mant != 0 {
			h |= uint16(mant >> 13)
			if h&0x3FF == 0 {
				h |= 1
			}
		}
	} else {
		newExp := int(exp) - 127 + 15
		if newExp >= 31 {
			h = uint16(sign<<15) | 0x7C00
		} else if newExp <= 0 {
			shift := uint32(1 - newExp)
			if shift > 24 {
				h = uint16(sign << 15)
			} else {
				m := mant | 0x800000
				h = uint16(sign<<15) | uint16(m>>(13+shift))
			}
		} else {
			h = uint16(sign<<15) | uint16(newExp<<10) | uint16(mant>>13)
		}
	}
	return h
}

// Bf16ToFp32 converts one bfloat16 value. bf16 is the top half of a
// float32, so this is a shift.
func Bf16ToFp32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

// Fp32ToBf16 converts with round-to-nearest-even; NaN keeps a nonzero
// mantissa so it stays NaN.
func Fp32ToBf16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7F800000 == 0x7F800000 && bits&0x007FFFFF != 0 {
		return uint16(bits>>16) | 0x0040
	}
	rounded := bits + 0x7FFF + ((bits >> 16) & 1)
	return uint16(rounded >> 16)
}

// Fp16ToFp32Slice converts src into dst elementwise. Slices must be the
// same length.
func Fp16ToFp32Slice(src []uint16, dst []float32) {
	if len(src) != len(dst) {
		return
	}
	for i, h := range src {
		dst[i] = Fp16ToFp32(h)
	}
}

// Fp32ToBf16Slice converts src into dst elementwise. Slices must be the
// same length.
func Fp32ToBf16Slice(src []float32, dst []uint16) {
	if len(src) != len(dst) {
		return
	}
	for i, f := range src {
		dst[i] = Fp32ToBf16(f)
	}
}
