package kernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/23skdu/longbow-windlass/internal/arena"
	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/metrics"
	"github.com/23skdu/longbow-windlass/internal/parallel"
)

// Arguments describes one multiply of an M x K activation against a
// packed K x N weight into an M x N destination. Alpha 0 is treated as
// 1 so the zero value computes C = A*B. Beta, Bias and GELU extend the
// fp32 epilogue; the dynamically quantized path honors Bias only.
// Epilogue, when set, replaces the built-in output stage entirely.
type Arguments struct {
	M, N, K int

	A   []float32
	LDA int
	C   []float32
	LDC int

	Alpha, Beta float32
	Bias        []float32
	GELU        bool

	Epilogue Epilogue
}

func (args *Arguments) check(w *PackedWeight, core Core) error {
	if args.M <= 0 || args.N <= 0 || args.K <= 0 {
		return fmt.Errorf("kernel: multiply dims %dx%dx%d must be positive", args.M, args.N, args.K)
	}
	if w == nil {
		return fmt.Errorf("kernel: nil packed weight")
	}
	if !w.Compatible(core) {
		return fmt.Errorf("kernel: weight packed for %s tiles %dx%d, core %s wants %dx%d",
			w.coreName, w.ntile, w.ktile, core.Name(), core.NTile(), core.KTile())
	}
	if w.K != args.K || w.N != args.N {
		return fmt.Errorf("kernel: weight is %dx%d, multiply wants %dx%d", w.K, w.N, args.K, args.N)
	}
	if args.LDA < args.K {
		return fmt.Errorf("kernel: lda %d shorter than k %d", args.LDA, args.K)
	}
	if len(args.A) < (args.M-1)*args.LDA+args.K {
		return fmt.Errorf("kernel: activation buffer holds %d elements, need %d", len(args.A), (args.M-1)*args.LDA+args.K)
	}
	if args.LDC < args.N {
		return fmt.Errorf("kernel: ldc %d shorter than n %d", args.LDC, args.N)
	}
	if len(args.C) < (args.M-1)*args.LDC+args.N {
		return fmt.Errorf("kernel: output buffer holds %d elements, need %d", len(args.C), (args.M-1)*args.LDC+args.N)
	}
	if args.Bias != nil && len(args.Bias) < args.N {
		return fmt.Errorf("kernel: bias holds %d elements, need %d", len(args.Bias), args.N)
	}
	return nil
}

func (args *Arguments) alpha() float32 {
	if args.Alpha == 0 {
		return 1
	}
	return args.Alpha
}

// runner owns what one multiply flavor shares across calls: the cached
// plan and the per-worker scratch arenas. The mutex serializes calls on
// one instance; workers launched inside a call touch only their own
// arena and their own output rectangle.
type runner struct {
	workers int
	feats   isa.Features
	plan    Plan
	arenas  []*arena.Arena
	mu      sync.Mutex
}

func newRunner(feats isa.Features, workers int) runner {
	if workers <= 0 {
		workers = feats.PhysicalCores
	}
	if workers < 1 {
		workers = 1
	}
	return runner{workers: workers, feats: feats, arenas: make([]*arena.Arena, workers)}
}

// prepare refreshes the plan for this problem shape and makes sure every
// worker arena can hold the workspace it implies. Caller holds mu.
func (ru *runner) prepare(m, n, k int, core Core, elemA, elemC int, convertA bool) {
	if ru.plan.Update(m, n, k, ru.workers, core, elemA, elemC, ru.feats.L2Size) {
		metrics.RecordPlanRebuild()
	}
	need := ru.plan.WorkspaceSize(convertA)
	for i, a := range ru.arenas {
		if a == nil || a.Cap() < need {
			ru.arenas[i] = arena.New(need)
		}
	}
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Matmul is the fp32 compute interface. One instance serializes its
// calls and reuses its partition plan and scratch while the problem
// shape stays put.
type Matmul struct {
	runner
	core Fp32Core
}

// NewMatmul picks the widest fp32 core the host supports. workers <= 0
// means one per physical core.
func NewMatmul(workers int) *Matmul {
	feats := isa.Detect()
	return &Matmul{runner: newRunner(feats, workers), core: Fp32CoreFor(feats)}
}

// NewMatmulWithCore pins a specific core, used by tests and by callers
// that already probed.
func NewMatmulWithCore(core Fp32Core, feats isa.Features, workers int) *Matmul {
	return &Matmul{runner: newRunner(feats, workers), core: core}
}

func (mm *Matmul) Core() Fp32Core { return mm.core }
func (mm *Matmul) Workers() int   { return mm.workers }

// Pack rearranges a raw weight into this instance's packed layout.
func (mm *Matmul) Pack(w []float32, k, n int, layout Layout) (*PackedWeight, error) {
	return PackWeightFP32(w, k, n, layout, mm.core)
}

// Compute runs C = alpha*A*B + beta*C (plus bias and optional GELU)
// across the worker grid and blocks until every worker finishes.
func (mm *Matmul) Compute(args Arguments, w *PackedWeight) error {
	if err := args.check(w, mm.core); err != nil {
		return err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.prepare(args.M, args.N, args.K, mm.core, 4, 4, false)

	ep := args.Epilogue
	if ep == nil {
		if args.GELU {
			ep = BiasGELU{Dst: args.C, LDC: args.LDC, Bias: args.Bias}
		} else {
			ep = AlphaBeta{Dst: args.C, LDC: args.LDC, Alpha: args.alpha(), Beta: args.Beta, Bias: args.Bias}
		}
	}

	start := time.Now()
	errs := make([]error, mm.workers)
	parallel.Run(mm.workers, func(tid int) {
		errs[tid] = launchFp32(mm.core, mm.plan.Steps, mm.plan.Index(tid), args.K,
			args.A, args.LDA, w, mm.arenas[tid], ep)
	})
	metrics.RecordMatmul(mm.core.Name(), args.M, args.N, args.K, time.Since(start))
	return firstError(errs)
}

// MatmulBf16 multiplies in bfloat16 with fp32 accumulation. Activations
// arrive as fp32 and are converted chunk by chunk in worker scratch.
type MatmulBf16 struct {
	runner
	core Bf16Core
}

func NewMatmulBf16(workers int) *MatmulBf16 {
	feats := isa.Detect()
	return &MatmulBf16{runner: newRunner(feats, workers), core: Bf16CoreFor(feats)}
}

func NewMatmulBf16WithCore(core Bf16Core, feats isa.Features, workers int) *MatmulBf16 {
	return &MatmulBf16{runner: newRunner(feats, workers), core: core}
}

func (mm *MatmulBf16) Core() Bf16Core { return mm.core }
func (mm *MatmulBf16) Workers() int   { return mm.workers }

func (mm *MatmulBf16) Pack(w []float32, k, n int, layout Layout) (*PackedWeight, error) {
	return PackWeightBf16(w, k, n, layout, mm.core)
}

func (mm *MatmulBf16) Compute(args Arguments, w *PackedWeight) error {
	if err := args.check(w, mm.core); err != nil {
		return err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.prepare(args.M, args.N, args.K, mm.core, 2, 4, true)

	ep := args.Epilogue
	if ep == nil {
		if args.GELU {
			ep = BiasGELU{Dst: args.C, LDC: args.LDC, Bias: args.Bias}
		} else {
			ep = AlphaBeta{Dst: args.C, LDC: args.LDC, Alpha: args.alpha(), Beta: args.Beta, Bias: args.Bias}
		}
	}

	start := time.Now()
	errs := make([]error, mm.workers)
	parallel.Run(mm.workers, func(tid int) {
		errs[tid] = launchBf16(mm.core, mm.plan.Steps, mm.plan.Index(tid), args.K,
			args.A, args.LDA, w, mm.arenas[tid], ep)
	})
	metrics.RecordMatmul(mm.core.Name(), args.M, args.N, args.K, time.Since(start))
	return firstError(errs)
}

// MatmulDynamicQuant multiplies fp32 activations against an int8 packed
// weight by quantizing the activation rows on the fly. Each call runs
// two phases: workers quantize disjoint row ranges, meet at a barrier,
// and only then start the integer tile loop, since any tile may read
// any activation row. Every worker reaches the barrier even when its
// row range or output rectangle is empty.
type MatmulDynamicQuant struct {
	runner
	core Int8Core
	dq   dynQuant
}

func NewMatmulDynamicQuant(workers int) *MatmulDynamicQuant {
	feats := isa.Detect()
	return &MatmulDynamicQuant{runner: newRunner(feats, workers), core: Int8CoreFor(feats)}
}

func NewMatmulDynamicQuantWithCore(core Int8Core, feats isa.Features, workers int) *MatmulDynamicQuant {
	return &MatmulDynamicQuant{runner: newRunner(feats, workers), core: core}
}

func (mm *MatmulDynamicQuant) Core() Int8Core { return mm.core }
func (mm *MatmulDynamicQuant) Workers() int   { return mm.workers }

func (mm *MatmulDynamicQuant) Pack(w []float32, k, n int, layout Layout) (*PackedWeight, error) {
	return PackWeightInt8(w, k, n, layout, mm.core)
}

func (mm *MatmulDynamicQuant) Compute(args Arguments, w *PackedWeight) error {
	if err := args.check(w, mm.core); err != nil {
		return err
	}
	if w.ColScales == nil {
		return fmt.Errorf("kernel: weight for %s lacks quantization metadata", mm.core.Name())
	}
	if args.GELU || args.Epilogue != nil {
		return fmt.Errorf("kernel: quantized path supports the dequantizing epilogue only")
	}
	if args.Beta != 0 || (args.Alpha != 0 && args.Alpha != 1) {
		return fmt.Errorf("kernel: quantized path overwrites its output, alpha/beta unsupported")
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.prepare(args.M, args.N, args.K, mm.core, 1, 4, false)
	mm.dq.resize(args.M, args.K)

	ep := EpilogueInt32(DequantStore{
		Dst: args.C, LDC: args.LDC,
		RowScales: mm.dq.scales, RowZeros: mm.dq.zeros,
		ColScales: w.ColScales, ColSums: w.ColSums,
		Bias: args.Bias,
	})

	start := time.Now()
	errs := make([]error, mm.workers)
	barrier := parallel.NewBarrier(mm.workers)
	parallel.Run(mm.workers, func(tid int) {
		lo, hi := rowRange(args.M, mm.workers, tid)
		mm.dq.quantizeRows(args.A, args.LDA, lo, hi)
		barrier.Wait()
		errs[tid] = launchInt8(mm.core, mm.plan.Steps, mm.plan.Index(tid), args.K,
			mm.dq.qa, args.K, w, mm.arenas[tid], ep)
	})
	metrics.RecordMatmul(mm.core.Name(), args.M, args.N, args.K, time.Since(start))
	return firstError(errs)
}
