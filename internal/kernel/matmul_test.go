package kernel

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/quant"
)

func geluRef(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(0.7978845608028654*(x+0.044715*x*x*x)))
}

func TestMatmulMatchesReference(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(21))
	cores := []Fp32Core{fp32Scalar{}, fp32AVX2{}, fp32AVX512{}}
	shapes := []struct{ m, n, k int }{
		{1, 1, 1},
		{4, 8, 1},
		{5, 7, 3},
		{64, 64, 64},
		{67, 93, 41},
	}
	for _, core := range cores {
		mm := NewMatmulWithCore(core, feats, 3)
		for _, sh := range shapes {
			a := randFloats(rng, sh.m*sh.k)
			w := randFloats(rng, sh.k*sh.n)
			pw, err := mm.Pack(w, sh.k, sh.n, LayoutKN)
			if err != nil {
				t.Fatalf("%s: pack failed: %v", core.Name(), err)
			}
			c := make([]float32, sh.m*sh.n)
			err = mm.Compute(Arguments{
				M: sh.m, N: sh.n, K: sh.k,
				A: a, LDA: sh.k,
				C: c, LDC: sh.n,
			}, pw)
			if err != nil {
				t.Fatalf("%s %dx%dx%d: compute failed: %v", core.Name(), sh.m, sh.n, sh.k, err)
			}
			want := refGemm(a, sh.m, sh.k, sh.k, w, sh.n)
			for i := range c {
				if diff := math.Abs(float64(c[i]) - want[i]); diff > 1e-4 {
					t.Errorf("%s %dx%dx%d: c[%d] = %v, want %v",
						core.Name(), sh.m, sh.n, sh.k, i, c[i], want[i])
				}
			}
		}
	}
}

func TestMatmulDeterministicAcrossWorkerCounts(t *testing.T) {
	// The per-element accumulation order depends only on the blocking
	// steps, so the same multiply on one worker and on four must agree
	// bit for bit, not just within tolerance.
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(22))
	shapes := []struct{ m, n, k int }{
		{64, 64, 64},
		{67, 93, 41},
	}
	for _, core := range []Fp32Core{fp32Scalar{}, fp32AVX2{}, fp32AVX512{}} {
		for _, sh := range shapes {
			a := randFloats(rng, sh.m*sh.k)
			w := randFloats(rng, sh.k*sh.n)
			pw, err := PackWeightFP32(w, sh.k, sh.n, LayoutKN, core)
			if err != nil {
				t.Fatalf("pack failed: %v", err)
			}
			single := make([]float32, sh.m*sh.n)
			multi := make([]float32, sh.m*sh.n)
			args := Arguments{M: sh.m, N: sh.n, K: sh.k, A: a, LDA: sh.k, LDC: sh.n}

			args.C = single
			if err := NewMatmulWithCore(core, feats, 1).Compute(args, pw); err != nil {
				t.Fatalf("single worker compute failed: %v", err)
			}
			args.C = multi
			if err := NewMatmulWithCore(core, feats, 4).Compute(args, pw); err != nil {
				t.Fatalf("four worker compute failed: %v", err)
			}
			for i := range single {
				if single[i] != multi[i] {
					t.Fatalf("%s %dx%dx%d: c[%d] differs across worker counts: %v vs %v",
						core.Name(), sh.m, sh.n, sh.k, i, single[i], multi[i])
				}
			}
		}
	}
}

func TestMatmulAlphaBetaBias(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(23))
	m, n, k := 9, 17, 25
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	bias := randFloats(rng, n)
	c := randFloats(rng, m*n)
	prior := append([]float32(nil), c...)

	mm := NewMatmulWithCore(fp32Scalar{}, feats, 2)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	err = mm.Compute(Arguments{
		M: m, N: n, K: k,
		A: a, LDA: k,
		C: c, LDC: n,
		Alpha: 2, Beta: 0.5, Bias: bias,
	}, pw)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	ref := refGemm(a, m, k, k, w, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			want := 2*ref[i*n+j] + 0.5*float64(prior[i*n+j]) + float64(bias[j])
			if diff := math.Abs(float64(c[i*n+j]) - want); diff > 1e-3 {
				t.Errorf("c[%d][%d] = %v, want %v", i, j, c[i*n+j], want)
			}
		}
	}
}

func TestMatmulGELUEpilogue(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(24))
	m, n, k := 6, 10, 12
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	bias := randFloats(rng, n)

	mm := NewMatmulWithCore(fp32Scalar{}, feats, 2)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	c := make([]float32, m*n)
	err = mm.Compute(Arguments{
		M: m, N: n, K: k,
		A: a, LDA: k,
		C: c, LDC: n,
		Bias: bias, GELU: true,
	}, pw)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	ref := refGemm(a, m, k, k, w, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			want := geluRef(ref[i*n+j] + float64(bias[j]))
			if diff := math.Abs(float64(c[i*n+j]) - want); diff > 1e-4 {
				t.Errorf("c[%d][%d] = %v, want %v", i, j, c[i*n+j], want)
			}
		}
	}
}

func TestMatmulEpilogueOverride(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(25))
	m, n, k := 5, 9, 7
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	c := make([]float32, m*n)

	mm := NewMatmulWithCore(fp32Scalar{}, feats, 2)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	args := Arguments{
		M: m, N: n, K: k,
		A: a, LDA: k,
		C: c, LDC: n,
		Epilogue: Accumulate{Dst: c, LDC: n},
	}
	for pass := 0; pass < 3; pass++ {
		if err := mm.Compute(args, pw); err != nil {
			t.Fatalf("pass %d failed: %v", pass, err)
		}
	}
	ref := refGemm(a, m, k, k, w, n)
	for i := range c {
		if diff := math.Abs(float64(c[i]) - 3*ref[i]); diff > 3e-4 {
			t.Errorf("c[%d] = %v after three accumulating passes, want %v", i, c[i], 3*ref[i])
		}
	}
}

func TestMatmulStridedBuffers(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(26))
	m, n, k := 11, 13, 17
	lda, ldc := k+3, n+5
	a := randFloats(rng, m*lda)
	w := randFloats(rng, k*n)
	c := make([]float32, m*ldc)

	mm := NewMatmulWithCore(fp32AVX2{}, feats, 3)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	err = mm.Compute(Arguments{M: m, N: n, K: k, A: a, LDA: lda, C: c, LDC: ldc}, pw)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	want := refGemm(a, m, k, lda, w, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if diff := math.Abs(float64(c[i*ldc+j]) - want[i*n+j]); diff > 1e-4 {
				t.Errorf("c[%d][%d] = %v, want %v", i, j, c[i*ldc+j], want[i*n+j])
			}
		}
	}
	// Padding between rows must stay untouched.
	for i := 0; i < m; i++ {
		for j := n; j < ldc; j++ {
			if c[i*ldc+j] != 0 {
				t.Errorf("padding c[%d][%d] = %v, want 0", i, j, c[i*ldc+j])
			}
		}
	}
}

func TestMatmulValidationErrors(t *testing.T) {
	feats := isa.Detect()
	mm := NewMatmulWithCore(fp32Scalar{}, feats, 2)
	w := make([]float32, 8*16)
	pw, err := mm.Pack(w, 8, 16, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	a := make([]float32, 4*8)
	c := make([]float32, 4*16)
	good := Arguments{M: 4, N: 16, K: 8, A: a, LDA: 8, C: c, LDC: 16}

	cases := []struct {
		name   string
		mutate func(*Arguments)
	}{
		{"zero m", func(g *Arguments) { g.M = 0 }},
		{"negative k", func(g *Arguments) { g.K = -1 }},
		{"short lda", func(g *Arguments) { g.LDA = 4 }},
		{"short activation", func(g *Arguments) { g.A = a[:16] }},
		{"short ldc", func(g *Arguments) { g.LDC = 8 }},
		{"short output", func(g *Arguments) { g.C = c[:8] }},
		{"weight mismatch", func(g *Arguments) { g.N = 8; g.C = c; g.LDC = 8 }},
	}
	for _, tc := range cases {
		args := good
		tc.mutate(&args)
		if err := mm.Compute(args, pw); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
	if err := mm.Compute(good, nil); err == nil {
		t.Error("nil weight: expected an error")
	}
	if err := mm.Compute(good, pw); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
}

func TestMatmulRejectsForeignPacking(t *testing.T) {
	feats := isa.Detect()
	w := make([]float32, 8*16)
	pw, err := PackWeightFP32(w, 8, 16, LayoutKN, fp32Scalar{})
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	mm := NewMatmulWithCore(fp32AVX2{}, feats, 2)
	a := make([]float32, 4*8)
	c := make([]float32, 4*16)
	err = mm.Compute(Arguments{M: 4, N: 16, K: 8, A: a, LDA: 8, C: c, LDC: 16}, pw)
	if err == nil {
		t.Fatal("expected a tile shape mismatch error")
	}
	if !strings.Contains(err.Error(), "packed for") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestMatmulShapeChangeReusesInstance(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(27))
	mm := NewMatmulWithCore(fp32Scalar{}, feats, 4)
	for _, sh := range []struct{ m, n, k int }{{64, 64, 64}, {16, 24, 8}, {64, 64, 64}} {
		a := randFloats(rng, sh.m*sh.k)
		w := randFloats(rng, sh.k*sh.n)
		pw, err := mm.Pack(w, sh.k, sh.n, LayoutKN)
		if err != nil {
			t.Fatalf("pack failed: %v", err)
		}
		c := make([]float32, sh.m*sh.n)
		err = mm.Compute(Arguments{M: sh.m, N: sh.n, K: sh.k, A: a, LDA: sh.k, C: c, LDC: sh.n}, pw)
		if err != nil {
			t.Fatalf("%dx%dx%d: compute failed: %v", sh.m, sh.n, sh.k, err)
		}
		want := refGemm(a, sh.m, sh.k, sh.k, w, sh.n)
		for i := range c {
			if diff := math.Abs(float64(c[i]) - want[i]); diff > 1e-4 {
				t.Fatalf("%dx%dx%d: c[%d] = %v, want %v", sh.m, sh.n, sh.k, i, c[i], want[i])
			}
		}
	}
}

func TestMatmulBf16MatchesReference(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(28))
	for _, core := range []Bf16Core{bf16Scalar{}, bf16AMX{}} {
		mm := NewMatmulBf16WithCore(core, feats, 3)
		m, n, k := 33, 70, 29
		a := randFloats(rng, m*k)
		w := randFloats(rng, k*n)
		pw, err := mm.Pack(w, k, n, LayoutKN)
		if err != nil {
			t.Fatalf("pack failed: %v", err)
		}
		c := make([]float32, m*n)
		err = mm.Compute(Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}, pw)
		if err != nil {
			t.Fatalf("%s: compute failed: %v", core.Name(), err)
		}
		// bf16 keeps about eight significant bits per operand, so the
		// comparison runs against the fp32 reference with a tolerance
		// scaled by the depth.
		want := refGemm(a, m, k, k, w, n)
		tol := 0.004 * 2 * math.Sqrt(float64(k))
		for i := range c {
			if diff := math.Abs(float64(c[i]) - want[i]); diff > tol {
				t.Errorf("%s: c[%d] = %v, want %v within %v", core.Name(), i, c[i], want[i], tol)
			}
		}
	}
}

// quantBound returns a per-element error bound for the dynamically
// quantized product from the actual scales in play.
func quantBound(k int, sa, amax, cs, wmax float32) float64 {
	return float64(k) * (0.5*float64(sa)*(float64(wmax)+float64(cs)) +
		0.5*float64(cs)*(float64(amax)+float64(sa)))
}

func TestDynamicQuantWithinBound(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(29))
	for _, core := range []Int8Core{int8Scalar{}, int8VNNI{}, int8AMX{}} {
		mm := NewMatmulDynamicQuantWithCore(core, feats, 3)
		m, n, k := 19, 53, 64
		a := randFloats(rng, m*k)
		w := randFloats(rng, k*n)
		pw, err := mm.Pack(w, k, n, LayoutKN)
		if err != nil {
			t.Fatalf("pack failed: %v", err)
		}
		c := make([]float32, m*n)
		err = mm.Compute(Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}, pw)
		if err != nil {
			t.Fatalf("%s: compute failed: %v", core.Name(), err)
		}

		rowScale := make([]float32, m)
		rowMax := make([]float32, m)
		for i := 0; i < m; i++ {
			tmp := make([]uint8, k)
			rowScale[i], _ = quant.QuantizeRowAsym(a[i*k:(i+1)*k], tmp)
			for _, v := range a[i*k : (i+1)*k] {
				if av := float32(math.Abs(float64(v))); av > rowMax[i] {
					rowMax[i] = av
				}
			}
		}
		colMax := make([]float32, n)
		for kk := 0; kk < k; kk++ {
			for j := 0; j < n; j++ {
				if av := float32(math.Abs(float64(w[kk*n+j]))); av > colMax[j] {
					colMax[j] = av
				}
			}
		}

		want := refGemm(a, m, k, k, w, n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				bound := quantBound(k, rowScale[i], rowMax[i], pw.ColScales[j], colMax[j]) + 1e-4
				if diff := math.Abs(float64(c[i*n+j]) - want[i*n+j]); diff > bound {
					t.Errorf("%s: c[%d][%d] = %v, want %v within %v",
						core.Name(), i, j, c[i*n+j], want[i*n+j], bound)
				}
			}
		}
	}
}

func TestDynamicQuantDeterministicAcrossWorkerCounts(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(30))
	core := int8VNNI{}
	m, n, k := 64, 64, 64
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	pw, err := PackWeightInt8(w, k, n, LayoutKN, core)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	single := make([]float32, m*n)
	multi := make([]float32, m*n)
	args := Arguments{M: m, N: n, K: k, A: a, LDA: k, LDC: n}

	args.C = single
	if err := NewMatmulDynamicQuantWithCore(core, feats, 1).Compute(args, pw); err != nil {
		t.Fatalf("single worker compute failed: %v", err)
	}
	args.C = multi
	if err := NewMatmulDynamicQuantWithCore(core, feats, 4).Compute(args, pw); err != nil {
		t.Fatalf("four worker compute failed: %v", err)
	}
	for i := range single {
		if single[i] != multi[i] {
			t.Fatalf("c[%d] differs across worker counts: %v vs %v", i, single[i], multi[i])
		}
	}
}

func TestDynamicQuantZeroColumn(t *testing.T) {
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(31))
	m, n, k := 7, 16, 24
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	dead := 5
	for kk := 0; kk < k; kk++ {
		w[kk*n+dead] = 0
	}
	mm := NewMatmulDynamicQuantWithCore(int8Scalar{}, feats, 2)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if pw.ColScales[dead] != 0 {
		t.Fatalf("zero column got scale %v", pw.ColScales[dead])
	}
	c := make([]float32, m*n)
	if err := mm.Compute(Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}, pw); err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	for i := 0; i < m; i++ {
		if c[i*n+dead] != 0 {
			t.Errorf("row %d: zero-scale column produced %v, want exact zero", i, c[i*n+dead])
		}
	}
}

func TestDynamicQuantMoreWorkersThanRows(t *testing.T) {
	// Workers without quantize rows or output rectangles still join the
	// barrier, so the call must complete and stay correct.
	feats := isa.Detect()
	rng := rand.New(rand.NewSource(32))
	m, n, k := 2, 8, 16
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	mm := NewMatmulDynamicQuantWithCore(int8Scalar{}, feats, 8)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	c := make([]float32, m*n)
	if err := mm.Compute(Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}, pw); err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	want := refGemm(a, m, k, k, w, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if diff := math.Abs(float64(c[i*n+j]) - want[i*n+j]); diff > 0.25 {
				t.Errorf("c[%d][%d] = %v, want %v", i, j, c[i*n+j], want[i*n+j])
			}
		}
	}
}

func TestDynamicQuantRejectsUnsupportedEpilogue(t *testing.T) {
	feats := isa.Detect()
	mm := NewMatmulDynamicQuantWithCore(int8Scalar{}, feats, 2)
	w := make([]float32, 8*8)
	for i := range w {
		w[i] = 1
	}
	pw, err := mm.Pack(w, 8, 8, LayoutKN)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	a := make([]float32, 2*8)
	c := make([]float32, 2*8)
	args := Arguments{M: 2, N: 8, K: 8, A: a, LDA: 8, C: c, LDC: 8, GELU: true}
	if err := mm.Compute(args, pw); err == nil {
		t.Error("GELU on the quantized path must be rejected")
	}
	args.GELU = false
	args.Beta = 0.5
	if err := mm.Compute(args, pw); err == nil {
		t.Error("beta accumulation on the quantized path must be rejected")
	}
}
