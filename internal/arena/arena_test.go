package arena

import "testing"

func TestAllocAlignment(t *testing.T) {
	a := New(4096)

	if _, err := a.Alloc(3, 0); err != nil {
		t.Fatalf("Alloc(3): %v", err)
	}
	b, err := a.Alloc(16, 64)
	if err != nil {
		t.Fatalf("Alloc(16): %v", err)
	}
	if len(b) != 16 {
		t.Errorf("len = %d, want 16", len(b))
	}
	// Second allocation must start on the next 64-byte boundary relative
	// to the arena base.
	if a.Used() != 64+16 {
		t.Errorf("Used = %d, want 80", a.Used())
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := New(128)
	if _, err := a.Alloc(128, 1); err != nil {
		t.Fatalf("initial alloc: %v", err)
	}
	if _, err := a.Alloc(1, 1); err == nil {
		t.Error("expected out-of-capacity error")
	}
	a.Reset()
	if _, err := a.Alloc(128, 1); err != nil {
		t.Errorf("alloc after Reset: %v", err)
	}
}

func TestAllocNegative(t *testing.T) {
	a := New(64)
	if _, err := a.Alloc(-1, 1); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestTypedViewsZeroed(t *testing.T) {
	a := New(1 << 12)

	f, err := a.Float32(100)
	if err != nil {
		t.Fatalf("Float32: %v", err)
	}
	for i := range f {
		f[i] = 1.5
	}

	a.Reset()
	f2, err := a.Float32(100)
	if err != nil {
		t.Fatalf("Float32 after Reset: %v", err)
	}
	for i, v := range f2 {
		if v != 0 {
			t.Fatalf("view not zeroed at %d: %f", i, v)
		}
	}
}

func TestTypedViewsDisjoint(t *testing.T) {
	a := New(1 << 12)

	x, _ := a.Float32(8)
	y, _ := a.Int32(8)
	z, _ := a.Int8(8)
	if x == nil || y == nil || z == nil {
		t.Fatal("allocation failed")
	}

	for i := range x {
		x[i] = 42
	}
	for _, v := range y {
		if v != 0 {
			t.Fatal("int32 view overlaps float32 view")
		}
	}
	for i := range y {
		y[i] = -1
	}
	for _, v := range z {
		if v != 0 {
			t.Fatal("int8 view overlaps int32 view")
		}
	}
}

func TestZeroCount(t *testing.T) {
	a := New(64)
	f, err := a.Float32(0)
	if err != nil {
		t.Fatalf("Float32(0): %v", err)
	}
	if len(f) != 0 {
		t.Errorf("len = %d, want 0", len(f))
	}
}
