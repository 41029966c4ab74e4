// Package vec holds the scalar vector kernels the micro-kernels and graph
// ops are written against: dot products, axpy, softmax-style exp, and the
// half-precision bit conversions. Everything here is branch-light pure Go
// so the compiler can keep the hot loops in registers.
package vec

import "math"

// Dot returns the inner product of a and b over the first n elements.
func Dot(a, b []float32, n int) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	s := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}

// Axpy computes dst[i] += alpha*x[i] over the first n elements.
func Axpy(alpha float32, x, dst []float32, n int) {
	i := 0
	for ; i+4 <= n; i += 4 {
		dst[i] += alpha * x[i]
		dst[i+1] += alpha * x[i+1]
		dst[i+2] += alpha * x[i+2]
		dst[i+3] += alpha * x[i+3]
	}
	for ; i < n; i++ {
		dst[i] += alpha * x[i]
	}
}

// Scale computes dst[i] = alpha*dst[i] over the first n elements.
func Scale(alpha float32, dst []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] *= alpha
	}
}

// AbsMax returns max(|x[i]|) over the slice, 0 for an empty slice.
func AbsMax(x []float32) float32 {
	var m float32
	for _, v := range x {
		a := v
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}

// Max returns the maximum element, or -MaxFloat32 for an empty slice.
func Max(x []float32) float32 {
	if len(x) == 0 {
		return -math.MaxFloat32
	}
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
