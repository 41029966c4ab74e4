// Package quant implements the block quantization schemes the kernel and
// graph layers share: symmetric int8 and int4 with per-block scales, and
// asymmetric per-row uint8 for dynamically quantized activations.
//
// Saturation rules: values outside the representable range clamp, never
// wrap. An all-zero block records a scale of zero and dequantizes to
// exactly zero, so a zero scale can never produce NaN or Inf downstream.
package quant

import (
	"fmt"
	"math"
)

const (
	int8Max = 127
	int4Max = 7
)

// QuantizeBlockSym quantizes src into int8 with one absmax scale per
// blockLen elements. len(src) must be a multiple of blockLen and
// len(scales) must cover len(src)/blockLen blocks.
func QuantizeBlockSym(src []float32, dst []int8, scales []float32, blockLen int) error {
	if blockLen <= 0 {
		return fmt.Errorf("quant: block length %d must be positive", blockLen)
	}
	if len(src)%blockLen != 0 {
		return fmt.Errorf("quant: length %d not a multiple of block length %d", len(src), blockLen)
	}
	nBlocks := len(src) / blockLen
	if len(dst) < len(src) || len(scales) < nBlocks {
		return fmt.Errorf("quant: output buffers too small: dst %d/%d scales %d/%d", len(dst), len(src), len(scales), nBlocks)
	}

	for b := 0; b < nBlocks; b++ {
		off := b * blockLen
		var amax float32
		for _, v := range src[off : off+blockLen] {
			a := v
			if a < 0 {
				a = -a
			}
			if a > amax {
				amax = a
			}
		}
		if amax == 0 {
			scales[b] = 0
			for i := 0; i < blockLen; i++ {
				dst[off+i] = 0
			}
			continue
		}
		scale := amax / int8Max
		scales[b] = scale
		inv := 1 / scale
		for i := 0; i < blockLen; i++ {
			q := math.Round(float64(src[off+i] * inv))
			if q > int8Max {
				q = int8Max
			} else if q < -int8Max {
				q = -int8Max
			}
			dst[off+i] = int8(q)
		}
	}
	return nil
}

// DequantizeBlock reverses QuantizeBlockSym. A zero scale emits exact
// zeros for its block.
func DequantizeBlock(dst []float32, src []int8, scales []float32, blockLen int) error {
	if blockLen <= 0 || len(src)%blockLen != 0 {
		return fmt.Errorf("quant: bad block length %d for %d elements", blockLen, len(src))
	}
	nBlocks := len(src) / blockLen
	if len(dst) < len(src) || len(scales) < nBlocks {
		return fmt.Errorf("quant: output buffers too small")
	}
	for b := 0; b < nBlocks; b++ {
		off := b * blockLen
		scale := scales[b]
		if scale == 0 {
			for i := 0; i < blockLen; i++ {
				dst[off+i] = 0
			}
			continue
		}
		for i := 0; i < blockLen; i++ {
			dst[off+i] = float32(src[off+i]) * scale
		}
	}
	return nil
}

// QuantizeRowAsym quantizes one activation row to uint8 with a single
// scale and zero point. The represented range always includes zero so the
// zero point is exact. A constant-zero row reports scale 0 and zero point
// 0, with all outputs at the zero point.
func QuantizeRowAsym(src []float32, dst []uint8) (scale float32, zero int32) {
	if len(src) == 0 {
		return 0, 0
	}
	rmin, rmax := float32(0), float32(0)
	for _, v := range src {
		if v < rmin {
			rmin = v
		}
		if v > rmax {
			rmax = v
		}
	}
	if rmax == rmin {
		for i := range src {
			dst[i] = 0
		}
		return 0, 0
	}
	scale = (rmax - rmin) / 255
	zero = int32(math.Round(float64(-rmin / scale)))
	if zero < 0 {
		zero = 0
	} else if zero > 255 {
		zero = 255
	}
	inv := 1 / scale
	for i, v := range src {
		q := math.Round(float64(v*inv)) + float64(zero)
		if q < 0 {
			q = 0
		} else if q > 255 {
			q = 255
		}
		dst[i] = uint8(q)
	}
	return scale, zero
}

// DequantizeRowAsym reverses QuantizeRowAsym for verification paths.
func DequantizeRowAsym(dst []float32, src []uint8, scale float32, zero int32) {
	if scale == 0 {
		for i := range src {
			dst[i] = 0
		}
		return
	}
	for i, q := range src {
		dst[i] = float32(int32(q)-zero) * scale
	}
}

// Pack4Bit packs pairs of int4 values (range [-8,7], callers keep to
// [-7,7]) into bytes, low nibble first. len(src) must be even.
func Pack4Bit(src []int8, dst []byte) error {
	if len(src)%2 != 0 {
		return fmt.Errorf("quant: int4 pack needs an even count, got %d", len(src))
	}
	if len(dst) < len(src)/2 {
		return fmt.Errorf("quant: int4 pack buffer too small")
	}
	for i := 0; i < len(src); i += 2 {
		lo := uint8(src[i]) & 0x0F
		hi := uint8(src[i+1]) & 0x0F
		dst[i/2] = lo | hi<<4
	}
	return nil
}

// Unpack4Bit reverses Pack4Bit with sign extension.
func Unpack4Bit(packed []byte, dst []int8) error {
	if len(dst) < len(packed)*2 {
		return fmt.Errorf("quant: int4 unpack buffer too small")
	}
	for i, b := range packed {
		dst[i*2] = signExtend4(b & 0x0F)
		dst[i*2+1] = signExtend4(b >> 4)
	}
	return nil
}

func signExtend4(n uint8) int8 {
	if n&0x8 != 0 {
		return int8(n) | ^int8(0x0F)
	}
	return int8(n)
}

// Quantize4BitSym quantizes src into packed int4 blocks with one absmax
// scale per blockLen elements. blockLen must be even.
func Quantize4BitSym(src []float32, packed []byte, scales []float32, blockLen int) error {
	if blockLen <= 0 || blockLen%2 != 0 {
		return fmt.Errorf("quant: int4 block length %d must be positive and even", blockLen)
	}
	if len(src)%blockLen != 0 {
		return fmt.Errorf("quant: length %d not a multiple of block length %d", len(src), blockLen)
	}
	nBlocks := len(src) / blockLen
	if len(packed) < len(src)/2 || len(scales) < nBlocks {
		return fmt.Errorf("quant: output buffers too small")
	}

	tmp := make([]int8, blockLen)
	for b := 0; b < nBlocks; b++ {
		off := b * blockLen
		var amax float32
		for _, v := range src[off : off+blockLen] {
			a := v
			if a < 0 {
				a = -a
			}
			if a > amax {
				amax = a
			}
		}
		if amax == 0 {
			scales[b] = 0
			for i := range tmp {
				tmp[i] = 0
			}
		} else {
			scale := amax / int4Max
			scales[b] = scale
			inv := 1 / scale
			for i := 0; i < blockLen; i++ {
				q := math.Round(float64(src[off+i] * inv))
				if q > int4Max {
					q = int4Max
				} else if q < -int4Max {
					q = -int4Max
				}
				tmp[i] = int8(q)
			}
		}
		if err := Pack4Bit(tmp, packed[off/2:off/2+blockLen/2]); err != nil {
			return err
		}
	}
	return nil
}

// Dequantize4Bit reverses Quantize4BitSym.
func Dequantize4Bit(dst []float32, packed []byte, scales []float32, blockLen int) error {
	if blockLen <= 0 || blockLen%2 != 0 {
		return fmt.Errorf("quant: int4 block length %d must be positive and even", blockLen)
	}
	n := len(packed) * 2
	if n%blockLen != 0 {
		return fmt.Errorf("quant: packed length %d not a multiple of block length", n)
	}
	nBlocks := n / blockLen
	if len(dst) < n || len(scales) < nBlocks {
		return fmt.Errorf("quant: output buffers too small")
	}

	tmp := make([]int8, blockLen)
	for b := 0; b < nBlocks; b++ {
		off := b * blockLen
		if err := Unpack4Bit(packed[off/2:off/2+blockLen/2], tmp); err != nil {
			return err
		}
		scale := scales[b]
		if scale == 0 {
			for i := 0; i < blockLen; i++ {
				dst[off+i] = 0
			}
			continue
		}
		for i := 0; i < blockLen; i++ {
			dst[off+i] = float32(tmp[i]) * scale
		}
	}
	return nil
}
