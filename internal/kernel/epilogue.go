package kernel

import "math"

// Epilogue writes one finished fp32 accumulator tile into the
// destination. Apply runs exactly once per output tile, after the full
// depth loop, on the worker that owns the tile's rectangle. acc holds
// rows*cols valid values at accStride.
type Epilogue interface {
	Apply(acc []float32, accStride, dstRow, dstCol, rows, cols int)
}

// EpilogueInt32 is the int32-accumulator counterpart used by the
// quantized path.
type EpilogueInt32 interface {
	Apply(acc []int32, accStride, dstRow, dstCol, rows, cols int)
}

// AlphaBeta stores alpha*acc + beta*C with an optional per-column bias,
// the plain GEMM output stage. Beta 0 overwrites without reading C.
type AlphaBeta struct {
	Dst   []float32
	LDC   int
	Alpha float32
	Beta  float32
	Bias  []float32
}

func (e AlphaBeta) Apply(acc []float32, accStride, dstRow, dstCol, rows, cols int) {
	for i := 0; i < rows; i++ {
		src := acc[i*accStride:]
		dst := e.Dst[(dstRow+i)*e.LDC+dstCol:]
		for j := 0; j < cols; j++ {
			v := e.Alpha * src[j]
			if e.Beta != 0 {
				v += e.Beta * dst[j]
			}
			if e.Bias != nil {
				v += e.Bias[dstCol+j]
			}
			dst[j] = v
		}
	}
}

// Store overwrites the destination with the raw accumulator.
type Store struct {
	Dst []float32
	LDC int
}

func (e Store) Apply(acc []float32, accStride, dstRow, dstCol, rows, cols int) {
	for i := 0; i < rows; i++ {
		copy(e.Dst[(dstRow+i)*e.LDC+dstCol:][:cols], acc[i*accStride:][:cols])
	}
}

// Accumulate adds the accumulator into the destination.
type Accumulate struct {
	Dst []float32
	LDC int
}

func (e Accumulate) Apply(acc []float32, accStride, dstRow, dstCol, rows, cols int) {
	for i := 0; i < rows; i++ {
		src := acc[i*accStride:]
		dst := e.Dst[(dstRow+i)*e.LDC+dstCol:]
		for j := 0; j < cols; j++ {
			dst[j] += src[j]
		}
	}
}

// BiasGELU adds a per-column bias then applies the tanh GELU
// approximation, fusing the activation into the tile store.
type BiasGELU struct {
	Dst  []float32
	LDC  int
	Bias []float32
}

func (e BiasGELU) Apply(acc []float32, accStride, dstRow, dstCol, rows, cols int) {
	for i := 0; i < rows; i++ {
		src := acc[i*accStride:]
		dst := e.Dst[(dstRow+i)*e.LDC+dstCol:]
		for j := 0; j < cols; j++ {
			v := src[j]
			if e.Bias != nil {
				v += e.Bias[dstCol+j]
			}
			dst[j] = gelu(v)
		}
	}
}

func gelu(x float32) float32 {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)
	x64 := float64(x)
	return float32(0.5 * x64 * (1 + math.Tanh(sqrt2OverPi*(x64+coeff*x64*x64*x64))))
}

// DequantStore maps int32 accumulators back to fp32. With per-row
// asymmetric activations and per-column symmetric weights the exact
// correction is scaleA*colScale*(acc - zpA*colSum); an optional bias is
// added after. Columns with scale 0 come out as bias or zero.
type DequantStore struct {
	Dst       []float32
	LDC       int
	RowScales []float32
	RowZeros  []int32
	ColScales []float32
	ColSums   []int32
	Bias      []float32
}

func (e DequantStore) Apply(acc []int32, accStride, dstRow, dstCol, rows, cols int) {
	for i := 0; i < rows; i++ {
		src := acc[i*accStride:]
		dst := e.Dst[(dstRow+i)*e.LDC+dstCol:]
		sa := e.RowScales[dstRow+i]
		zp := e.RowZeros[dstRow+i]
		for j := 0; j < cols; j++ {
			n := dstCol + j
			v := sa * e.ColScales[n] * float32(src[j]-zp*e.ColSums[n])
			if e.Bias != nil {
				v += e.Bias[n]
			}
			dst[j] = v
		}
	}
}
