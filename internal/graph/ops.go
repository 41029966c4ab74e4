// Package graph evaluates transformer forward passes on top of the
// tiled multiply framework. Projections run through packed weights; the
// attention mixdown walks the KV cache head by head. All activations
// cross op boundaries as fp32.
package graph

import (
	"math"

	"github.com/23skdu/longbow-windlass/internal/metrics"
	"github.com/23skdu/longbow-windlass/internal/vec"
)

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies the learned scale and shift.
func LayerNorm(dst, src []float32, rows, dim int, gamma, beta []float32, eps float32) {
	for r := 0; r < rows; r++ {
		in := src[r*dim : (r+1)*dim]
		out := dst[r*dim : (r+1)*dim]
		var mean float64
		for _, v := range in {
			mean += float64(v)
		}
		mean /= float64(dim)
		var variance float64
		for _, v := range in {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(dim)
		inv := float32(1 / math.Sqrt(variance+float64(eps)))
		for i, v := range in {
			out[i] = (v-float32(mean))*inv*gamma[i] + beta[i]
		}
	}
}

// RMSNorm scales each row by the reciprocal of its root mean square.
func RMSNorm(dst, src []float32, rows, dim int, gamma []float32, eps float32) {
	for r := 0; r < rows; r++ {
		in := src[r*dim : (r+1)*dim]
		out := dst[r*dim : (r+1)*dim]
		var sum float64
		for _, v := range in {
			sum += float64(v) * float64(v)
		}
		inv := float32(1 / math.Sqrt(sum/float64(dim)+float64(eps)))
		for i, v := range in {
			out[i] = v * inv * gamma[i]
		}
	}
}

// Rope rotates the first rotDims dimensions of every head in place.
// Pairs are split across the rotated span's halves, and the angle for
// row r uses absolute position nPast+r.
func Rope(x []float32, rows, heads, headDim, rotDims int, theta float32, nPast int) {
	half := rotDims / 2
	for r := 0; r < rows; r++ {
		pos := float64(nPast + r)
		for h := 0; h < heads; h++ {
			head := x[(r*heads+h)*headDim:]
			for i := 0; i < half; i++ {
				freq := math.Pow(float64(theta), -2*float64(i)/float64(rotDims))
				sin, cos := math.Sincos(pos * freq)
				a, b := float64(head[i]), float64(head[i+half])
				head[i] = float32(a*cos - b*sin)
				head[i+half] = float32(a*sin + b*cos)
			}
		}
	}
}

// SoftmaxRow exponentiates src into dst with the usual max subtraction.
// A row whose maximum is -Inf has every position masked; it comes out
// as all zeros instead of NaN.
func SoftmaxRow(dst, src []float32) {
	maxVal := float32(math.Inf(-1))
	for _, v := range src {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(float64(maxVal), -1) {
		for i := range dst[:len(src)] {
			dst[i] = 0
		}
		metrics.RecordSoftmaxMasking(len(src), true)
		return
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v - maxVal))
		dst[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range src {
		dst[i] *= inv
	}
}

// GELUInPlace applies the tanh approximation elementwise.
func GELUInPlace(x []float32) {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)
	for i, v := range x {
		v64 := float64(v)
		x[i] = float32(0.5 * v64 * (1 + math.Tanh(sqrt2OverPi*(v64+coeff*v64*v64*v64))))
	}
}

// AddInPlace accumulates src into dst.
func AddInPlace(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// ArgMax returns the index of the largest value, skipping NaNs so a
// poisoned logit cannot win.
func ArgMax(x []float32) int {
	best := -1
	bestVal := float32(math.Inf(-1))
	for i, v := range x {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

// WeightedSum accumulates w*src into dst, the value mixdown inner step.
func WeightedSum(dst []float32, w float32, src []float32) {
	vec.Axpy(w, src, dst, len(dst))
}
