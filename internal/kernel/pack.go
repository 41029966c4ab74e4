package kernel

import (
	"fmt"

	"github.com/23skdu/longbow-windlass/internal/metrics"
	"github.com/23skdu/longbow-windlass/internal/vec"
)

// Layout names the row-major orientation of a raw weight matrix handed to
// pack. Transformer checkpoints usually store projections as [out, in],
// which is LayoutNK for a K-by-N multiply.
type Layout int

const (
	LayoutKN Layout = iota
	LayoutNK
)

// PackedWeight is a weight matrix rearranged once into the NTile x KTile
// blocked layout one core family reads. Within a column panel the k rows
// of NTile values are contiguous and zero padded to KPad, so a panel
// pointer plus k*NTile addresses any depth, including the trailing
// partial block. Immutable after packing and shared read-only across all
// workers; not portable across tile shapes.
type PackedWeight struct {
	K, N       int
	KPad, NPad int

	ntile, ktile int
	coreName     string

	fp32 []float32
	i8   []int8
	bf16 []uint16

	// Int8 packing only: per-column symmetric scales and the column sums
	// of quantized values the dequant epilogue needs for zero-point
	// correction.
	ColScales []float32
	ColSums   []int32
}

func roundUp(x, to int) int {
	return (x + to - 1) / to * to
}

// PanelStride returns the element distance between consecutive NTile
// panels.
func (pw *PackedWeight) PanelStride() int { return pw.KPad * pw.ntile }

// Compatible reports whether the packed layout matches a core's tile
// shape. A mismatch is a construction-time configuration error.
func (pw *PackedWeight) Compatible(c Core) bool {
	return pw.ntile == c.NTile() && pw.ktile == c.KTile()
}

// PanelFP32 returns the packed data starting at depth kOff of the panel
// containing column nOff. nOff must be NTile aligned.
func (pw *PackedWeight) PanelFP32(kOff, nOff int) ([]float32, int) {
	base := (nOff/pw.ntile)*pw.PanelStride() + kOff*pw.ntile
	return pw.fp32[base:], pw.PanelStride()
}

// PanelInt8 is PanelFP32 for the int8 buffer.
func (pw *PackedWeight) PanelInt8(kOff, nOff int) ([]int8, int) {
	base := (nOff/pw.ntile)*pw.PanelStride() + kOff*pw.ntile
	return pw.i8[base:], pw.PanelStride()
}

// PanelBf16 is PanelFP32 for the bf16 buffer.
func (pw *PackedWeight) PanelBf16(kOff, nOff int) ([]uint16, int) {
	base := (nOff/pw.ntile)*pw.PanelStride() + kOff*pw.ntile
	return pw.bf16[base:], pw.PanelStride()
}

// Bytes returns the packed buffer size.
func (pw *PackedWeight) Bytes() int {
	switch {
	case pw.fp32 != nil:
		return len(pw.fp32) * 4
	case pw.bf16 != nil:
		return len(pw.bf16) * 2
	default:
		return len(pw.i8) + len(pw.ColScales)*4 + len(pw.ColSums)*4
	}
}

func (pw *PackedWeight) index(kk, nn int) int {
	nb := nn / pw.ntile
	return nb*pw.PanelStride() + kk*pw.ntile + nn%pw.ntile
}

func checkPackArgs(w []float32, k, n int, layout Layout) error {
	if k <= 0 || n <= 0 {
		return fmt.Errorf("kernel: pack dims %dx%d must be positive", k, n)
	}
	if len(w) < k*n {
		return fmt.Errorf("kernel: weight buffer holds %d elements, need %d", len(w), k*n)
	}
	if layout != LayoutKN && layout != LayoutNK {
		return fmt.Errorf("kernel: unknown weight layout %d", layout)
	}
	return nil
}

func rawAt(w []float32, k, n int, layout Layout, kk, nn int) float32 {
	if layout == LayoutKN {
		return w[kk*n+nn]
	}
	return w[nn*k+kk]
}

// PackWeightFP32 packs a raw float32 matrix for one fp32 core family.
// Done once per weight; every later compute call reads the packed buffer
// zero-copy.
func PackWeightFP32(w []float32, k, n int, layout Layout, core Fp32Core) (*PackedWeight, error) {
	if err := checkPackArgs(w, k, n, layout); err != nil {
		return nil, err
	}
	pw := &PackedWeight{
		K: k, N: n,
		KPad: roundUp(k, core.KTile()), NPad: roundUp(n, core.NTile()),
		ntile: core.NTile(), ktile: core.KTile(),
		coreName: core.Name(),
	}
	pw.fp32 = make([]float32, pw.KPad*pw.NPad)
	for nn := 0; nn < n; nn++ {
		for kk := 0; kk < k; kk++ {
			pw.fp32[pw.index(kk, nn)] = rawAt(w, k, n, layout, kk, nn)
		}
	}
	metrics.RecordWeightPack(core.Name(), pw.Bytes())
	return pw, nil
}

// PackWeightBf16 converts to bfloat16 while packing for a bf16 core.
func PackWeightBf16(w []float32, k, n int, layout Layout, core Bf16Core) (*PackedWeight, error) {
	if err := checkPackArgs(w, k, n, layout); err != nil {
		return nil, err
	}
	pw := &PackedWeight{
		K: k, N: n,
		KPad: roundUp(k, core.KTile()), NPad: roundUp(n, core.NTile()),
		ntile: core.NTile(), ktile: core.KTile(),
		coreName: core.Name(),
	}
	pw.bf16 = make([]uint16, pw.KPad*pw.NPad)
	for nn := 0; nn < n; nn++ {
		for kk := 0; kk < k; kk++ {
			pw.bf16[pw.index(kk, nn)] = vec.Fp32ToBf16(rawAt(w, k, n, layout, kk, nn))
		}
	}
	metrics.RecordWeightPack(core.Name(), pw.Bytes())
	return pw, nil
}

// PackWeightInt8 quantizes each column symmetrically to int8 and packs
// for an int8 core. Column scales and sums ride along for the dequant
// epilogue. An all-zero column gets scale 0 and dequantizes to zero.
func PackWeightInt8(w []float32, k, n int, layout Layout, core Int8Core) (*PackedWeight, error) {
	if err := checkPackArgs(w, k, n, layout); err != nil {
		return nil, err
	}
	pw := &PackedWeight{
		K: k, N: n,
		KPad: roundUp(k, core.KTile()), NPad: roundUp(n, core.NTile()),
		ntile: core.NTile(), ktile: core.KTile(),
		coreName: core.Name(),
	}
	pw.i8 = make([]int8, pw.KPad*pw.NPad)
	pw.ColScales = make([]float32, n)
	pw.ColSums = make([]int32, n)

	for nn := 0; nn < n; nn++ {
		var amax float32
		for kk := 0; kk < k; kk++ {
			v := rawAt(w, k, n, layout, kk, nn)
			if v < 0 {
				v = -v
			}
			if v > amax {
				amax = v
			}
		}
		if amax == 0 {
			continue
		}
		scale := amax / 127
		pw.ColScales[nn] = scale
		inv := 1 / scale
		var sum int32
		for kk := 0; kk < k; kk++ {
			q := int32(roundNearest(rawAt(w, k, n, layout, kk, nn) * inv))
			if q > 127 {
				q = 127
			} else if q < -127 {
				q = -127
			}
			pw.i8[pw.index(kk, nn)] = int8(q)
			sum += q
		}
		pw.ColSums[nn] = sum
	}
	metrics.RecordWeightPack(core.Name(), pw.Bytes())
	return pw, nil
}

func roundNearest(v float32) float32 {
	if v >= 0 {
		return float32(int32(v + 0.5))
	}
	return float32(int32(v - 0.5))
}
