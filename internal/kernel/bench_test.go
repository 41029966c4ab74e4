package kernel

import (
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-windlass/internal/isa"
)

func BenchmarkMatmulF32_128(b *testing.B)  { benchmarkMatmulF32(b, 128, 128, 128) }
func BenchmarkMatmulF32_512(b *testing.B)  { benchmarkMatmulF32(b, 512, 512, 512) }
func BenchmarkMatmulF32_1024(b *testing.B) { benchmarkMatmulF32(b, 1024, 1024, 1024) }

func benchmarkMatmulF32(b *testing.B, m, n, k int) {
	rng := rand.New(rand.NewSource(1))
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	c := make([]float32, m*n)

	mm := NewMatmul(0)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		b.Fatalf("pack failed: %v", err)
	}
	args := Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}

	// Warmup builds the plan and sizes the arenas.
	if err := mm.Compute(args, pw); err != nil {
		b.Fatalf("compute failed: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := mm.Compute(args, pw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMatmulInt8_128(b *testing.B) { benchmarkMatmulInt8(b, 128, 128, 128) }
func BenchmarkMatmulInt8_512(b *testing.B) { benchmarkMatmulInt8(b, 512, 512, 512) }

func benchmarkMatmulInt8(b *testing.B, m, n, k int) {
	rng := rand.New(rand.NewSource(2))
	a := randFloats(rng, m*k)
	w := randFloats(rng, k*n)
	c := make([]float32, m*n)

	mm := NewMatmulDynamicQuant(0)
	pw, err := mm.Pack(w, k, n, LayoutKN)
	if err != nil {
		b.Fatalf("pack failed: %v", err)
	}
	args := Arguments{M: m, N: n, K: k, A: a, LDA: k, C: c, LDC: n}

	if err := mm.Compute(args, pw); err != nil {
		b.Fatalf("compute failed: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := mm.Compute(args, pw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPackWeightF32_1024(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	k, n := 1024, 1024
	w := randFloats(rng, k*n)
	core := Fp32CoreFor(isa.Detect())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := PackWeightFP32(w, k, n, LayoutKN, core); err != nil {
			b.Fatal(err)
		}
	}
}
