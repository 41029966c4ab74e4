// windlass-bench times the matmul flavors across every micro-kernel
// variant the host can run and reports per-call throughput.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/kernel"
	"github.com/23skdu/longbow-windlass/internal/logger"
)

var (
	mSize   = flag.Int("m", 64, "activation rows")
	nSize   = flag.Int("n", 4096, "output columns")
	kSize   = flag.Int("k", 4096, "shared depth")
	iters   = flag.Int("iters", 10, "timed iterations per core")
	threads = flag.Int("threads", 0, "workers, 0 means one per physical core")
	logLvl  = flag.String("log-level", "warn", "debug, info, warn or error")
)

func main() {
	flag.Parse()
	logger.Setup(*logLvl, "console")

	feats := isa.Detect()
	fmt.Printf("cpu: %s (%s, %d cores, L2 %d KiB)\n",
		feats.Brand, feats.Level, feats.PhysicalCores, feats.L2Size/1024)
	fmt.Printf("gemm: %dx%dx%d, %d iterations each\n\n", *mSize, *nSize, *kSize, *iters)

	a := randomMatrix(*mSize, *kSize, 1)
	w := randomMatrix(*kSize, *nSize, 2)
	c := make([]float32, *mSize**nSize)
	flops := 2 * float64(*mSize) * float64(*nSize) * float64(*kSize)

	for _, level := range []isa.Level{isa.LevelScalar, isa.LevelAVX2, isa.LevelAVX512} {
		core, err := kernel.Fp32CoreByLevel(feats, level)
		if err != nil {
			continue
		}
		mm := kernel.NewMatmulWithCore(core, feats, *threads)
		pw, err := mm.Pack(w, *kSize, *nSize, kernel.LayoutKN)
		if err != nil {
			fatal("pack %s: %v", core.Name(), err)
		}
		report(core.Name(), flops, timeIt(func() error {
			return mm.Compute(gemmArgs(a, c), pw)
		}))
	}

	for _, level := range []isa.Level{isa.LevelScalar, isa.LevelAVX512VNNI, isa.LevelAMXINT8} {
		core, err := kernel.Int8CoreByLevel(feats, level)
		if err != nil {
			continue
		}
		mm := kernel.NewMatmulDynamicQuantWithCore(core, feats, *threads)
		pw, err := mm.Pack(w, *kSize, *nSize, kernel.LayoutKN)
		if err != nil {
			fatal("pack %s: %v", core.Name(), err)
		}
		report(core.Name(), flops, timeIt(func() error {
			return mm.Compute(gemmArgs(a, c), pw)
		}))
	}

	bf := kernel.Bf16CoreFor(feats)
	mm := kernel.NewMatmulBf16WithCore(bf, feats, *threads)
	pw, err := mm.Pack(w, *kSize, *nSize, kernel.LayoutKN)
	if err != nil {
		fatal("pack %s: %v", bf.Name(), err)
	}
	report(bf.Name(), flops, timeIt(func() error {
		return mm.Compute(gemmArgs(a, c), pw)
	}))
}

func gemmArgs(a, c []float32) kernel.Arguments {
	return kernel.Arguments{
		M: *mSize, N: *nSize, K: *kSize,
		A: a, LDA: *kSize,
		C: c, LDC: *nSize,
	}
}

// timeIt runs one warmup call, then averages the timed iterations.
func timeIt(compute func() error) time.Duration {
	if err := compute(); err != nil {
		fatal("compute: %v", err)
	}
	start := time.Now()
	for i := 0; i < *iters; i++ {
		if err := compute(); err != nil {
			fatal("compute: %v", err)
		}
	}
	return time.Since(start) / time.Duration(*iters)
}

func report(name string, flops float64, avg time.Duration) {
	fmt.Printf("%-16s %12v/op %9.2f GFLOP/s\n",
		name, avg.Round(time.Microsecond), flops/avg.Seconds()/1e9)
}

func randomMatrix(rows, cols int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, rows*cols)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
