// Package tensor provides strided float32 views over flat buffers. Views
// never copy: slicing, transposing, and reshaping only reinterpret dims
// and strides, so the caller must keep the backing buffer alive for as
// long as any view of it. Quantized and packed operand layouts live in
// the kernel package, not here.
package tensor

import "fmt"

type Tensor struct {
	Data    []float32
	Dims    []int
	Strides []int
}

// New allocates a contiguous row-major tensor of the given shape.
func New(dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	t := &Tensor{
		Data: make([]float32, n),
		Dims: append([]int(nil), dims...),
	}
	t.Strides = contiguousStrides(dims)
	return t
}

// FromSlice wraps an existing buffer as a contiguous row-major view.
func FromSlice(data []float32, dims ...int) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("tensor: negative dim %d", d)
		}
		n *= d
	}
	if len(data) < n {
		return nil, fmt.Errorf("tensor: buffer holds %d elements, shape needs %d", len(data), n)
	}
	return &Tensor{
		Data:    data[:n],
		Dims:    append([]int(nil), dims...),
		Strides: contiguousStrides(dims),
	}, nil
}

func contiguousStrides(dims []int) []int {
	strides := make([]int, len(dims))
	s := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= dims[i]
	}
	return strides
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Dims) }

// NumElements returns the product of the dims.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// IsContiguous reports whether the view is dense row-major.
func (t *Tensor) IsContiguous() bool {
	s := 1
	for i := len(t.Dims) - 1; i >= 0; i-- {
		if t.Dims[i] != 1 && t.Strides[i] != s {
			return false
		}
		s *= t.Dims[i]
	}
	return true
}

func (t *Tensor) offset(idx []int) int {
	off := 0
	for i, x := range idx {
		off += x * t.Strides[i]
	}
	return off
}

// At reads one element. Index arity must match the rank.
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[t.offset(idx)]
}

// Set writes one element.
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[t.offset(idx)] = v
}

// Row returns the backing slice for row i of a rank-2 contiguous-inner
// view.
func (t *Tensor) Row(i int) []float32 {
	off := i * t.Strides[0]
	return t.Data[off : off+t.Dims[1]]
}

// Slice narrows one dimension to [start, start+length) without copying.
func (t *Tensor) Slice(dim, start, length int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Dims) {
		return nil, fmt.Errorf("tensor: slice dim %d out of range for rank %d", dim, len(t.Dims))
	}
	if start < 0 || length < 0 || start+length > t.Dims[dim] {
		return nil, fmt.Errorf("tensor: slice [%d,%d) out of range for dim size %d", start, start+length, t.Dims[dim])
	}
	dims := append([]int(nil), t.Dims...)
	dims[dim] = length
	return &Tensor{
		Data:    t.Data[start*t.Strides[dim]:],
		Dims:    dims,
		Strides: append([]int(nil), t.Strides...),
	}, nil
}

// Transpose swaps two dimensions by swapping their strides. No copy.
func (t *Tensor) Transpose(d0, d1 int) (*Tensor, error) {
	if d0 < 0 || d0 >= len(t.Dims) || d1 < 0 || d1 >= len(t.Dims) {
		return nil, fmt.Errorf("tensor: transpose dims (%d,%d) out of range for rank %d", d0, d1, len(t.Dims))
	}
	dims := append([]int(nil), t.Dims...)
	strides := append([]int(nil), t.Strides...)
	dims[d0], dims[d1] = dims[d1], dims[d0]
	strides[d0], strides[d1] = strides[d1], strides[d0]
	return &Tensor{Data: t.Data, Dims: dims, Strides: strides}, nil
}

// Reshape reinterprets a contiguous view under a new shape with the same
// element count.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	if !t.IsContiguous() {
		return nil, fmt.Errorf("tensor: reshape requires a contiguous view")
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != t.NumElements() {
		return nil, fmt.Errorf("tensor: reshape from %v to %v changes element count", t.Dims, dims)
	}
	return &Tensor{
		Data:    t.Data,
		Dims:    append([]int(nil), dims...),
		Strides: contiguousStrides(dims),
	}, nil
}

// CopyTo materializes the view into dst in row-major order. dst must hold
// NumElements values. Used when a kernel needs a dense operand from a
// strided view.
func (t *Tensor) CopyTo(dst []float32) error {
	n := t.NumElements()
	if len(dst) < n {
		return fmt.Errorf("tensor: copy target holds %d, need %d", len(dst), n)
	}
	if t.IsContiguous() {
		copy(dst[:n], t.Data[:n])
		return nil
	}
	idx := make([]int, len(t.Dims))
	for i := 0; i < n; i++ {
		dst[i] = t.Data[t.offset(idx)]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.Dims[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}
