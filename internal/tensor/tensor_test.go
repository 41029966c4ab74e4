package tensor

import "testing"

func seq(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i)
	}
	return s
}

func TestFromSliceAndAt(t *testing.T) {
	m, err := FromSlice(seq(12), 3, 4)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	if got := m.At(1, 2); got != 6 {
		t.Errorf("At(1,2) = %f, want 6", got)
	}
	m.Set(-1, 2, 3)
	if got := m.At(2, 3); got != -1 {
		t.Errorf("Set/At = %f, want -1", got)
	}
}

func TestFromSliceTooSmall(t *testing.T) {
	if _, err := FromSlice(seq(5), 3, 4); err == nil {
		t.Error("expected error for undersized buffer")
	}
}

func TestTransposeSharesData(t *testing.T) {
	m, _ := FromSlice(seq(6), 2, 3)
	tr, err := m.Transpose(0, 1)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if tr.Dims[0] != 3 || tr.Dims[1] != 2 {
		t.Fatalf("transposed dims = %v", tr.Dims)
	}
	if tr.At(2, 1) != m.At(1, 2) {
		t.Error("transpose changed element mapping")
	}

	// Writes through the view must be visible in the original.
	tr.Set(99, 0, 1)
	if m.At(1, 0) != 99 {
		t.Error("transpose copied data instead of sharing")
	}
	if tr.IsContiguous() {
		t.Error("transposed 2x3 view reported contiguous")
	}
}

func TestSliceRows(t *testing.T) {
	m, _ := FromSlice(seq(12), 4, 3)
	s, err := m.Slice(0, 1, 2)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if s.At(0, 0) != 3 || s.At(1, 2) != 8 {
		t.Errorf("slice elements wrong: %f %f", s.At(0, 0), s.At(1, 2))
	}

	s.Set(42, 0, 0)
	if m.At(1, 0) != 42 {
		t.Error("slice copied data instead of sharing")
	}
}

func TestSliceOutOfRange(t *testing.T) {
	m, _ := FromSlice(seq(12), 4, 3)
	if _, err := m.Slice(0, 3, 2); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := m.Slice(5, 0, 1); err == nil {
		t.Error("expected bad-dim error")
	}
}

func TestReshape(t *testing.T) {
	m, _ := FromSlice(seq(12), 3, 4)
	r, err := m.Reshape(2, 6)
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if r.At(1, 0) != 6 {
		t.Errorf("reshaped At(1,0) = %f, want 6", r.At(1, 0))
	}

	tr, _ := m.Transpose(0, 1)
	if _, err := tr.Reshape(12); err == nil {
		t.Error("reshape of non-contiguous view must fail")
	}
	if _, err := m.Reshape(5, 5); err == nil {
		t.Error("reshape changing element count must fail")
	}
}

func TestRow(t *testing.T) {
	m, _ := FromSlice(seq(12), 3, 4)
	r := m.Row(2)
	if len(r) != 4 || r[0] != 8 {
		t.Errorf("Row(2) = %v", r)
	}
}

func TestCopyToStrided(t *testing.T) {
	m, _ := FromSlice(seq(6), 2, 3)
	tr, _ := m.Transpose(0, 1)

	dst := make([]float32, 6)
	if err := tr.CopyTo(dst); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	want := []float32{0, 3, 1, 4, 2, 5}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %f, want %f", i, dst[i], want[i])
		}
	}
}
