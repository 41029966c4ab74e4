package graph

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-windlass/internal/config"
	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/kernel"
	"github.com/23skdu/longbow-windlass/internal/logger"
	"github.com/23skdu/longbow-windlass/internal/parallel"
	"github.com/23skdu/longbow-windlass/internal/quant"
)

// LayerWeights carries one block's raw fp32 parameters. Projection
// matrices are row-major [out, in], the layout checkpoints use.
type LayerWeights struct {
	AttnNormG, AttnNormB []float32
	Wq, Bq               []float32
	Wk, Bk               []float32
	Wv, Bv               []float32
	Wo, Bo               []float32
	FFNNormG, FFNNormB   []float32
	W1, B1               []float32
	W2, B2               []float32
}

// Weights is a full raw checkpoint.
type Weights struct {
	Embedding  []float32 // [vocab, dim]
	Layers     []LayerWeights
	FinalNormG []float32
	FinalNormB []float32
	Output     []float32 // [vocab, dim]
}

// proj is one packed projection plus its bias.
type proj struct {
	w       *kernel.PackedWeight
	bias    []float32
	in, out int
}

type layer struct {
	attnNormG, attnNormB []float32
	q, k, v, o           proj
	ffnNormG, ffnNormB   []float32
	up, down             proj
}

// Options tune how a model is built and run.
type Options struct {
	// Threads is the matmul worker count; zero means one per physical
	// core.
	Threads int
}

// Model is a packed, immutable transformer ready to evaluate. One
// matmul instance per weight flavor is shared by all projections so the
// partition plan and scratch arenas are reused across layers.
type Model struct {
	cfg   config.Config
	wtype config.WeightType

	embed      []float32
	layers     []layer
	finalNormG []float32
	finalNormB []float32
	output     proj

	mmF32  *kernel.Matmul
	mmBf16 *kernel.MatmulBf16
	mmI8   *kernel.MatmulDynamicQuant
	pool   *parallel.Pool

	scratch evalScratch
	perf    PerfCounters

	log *logger.Logger
}

// NewModel validates the configuration, packs every projection for the
// selected weight type, and wires the compute instances.
func NewModel(cfg config.Config, w Weights, opts Options) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	wtype := cfg.WeightType
	if wtype == config.WeightAuto {
		wtype = config.WeightF32
	}

	m := &Model{
		cfg:   cfg,
		wtype: wtype,
		log:   logger.Log.With("graph"),
	}
	feats := isa.Detect()
	switch wtype {
	case config.WeightF32:
		m.mmF32 = kernel.NewMatmulWithCore(kernel.Fp32CoreFor(feats), feats, opts.Threads)
	case config.WeightBF16:
		m.mmBf16 = kernel.NewMatmulBf16WithCore(kernel.Bf16CoreFor(feats), feats, opts.Threads)
	case config.WeightInt8, config.WeightInt4:
		m.mmI8 = kernel.NewMatmulDynamicQuantWithCore(kernel.Int8CoreFor(feats), feats, opts.Threads)
	default:
		return nil, fmt.Errorf("graph: unsupported weight type %s", wtype)
	}

	if len(w.Embedding) != cfg.VocabSize*cfg.Dim {
		return nil, fmt.Errorf("graph: embedding holds %d values, want %d", len(w.Embedding), cfg.VocabSize*cfg.Dim)
	}
	if len(w.Layers) != cfg.Layers {
		return nil, fmt.Errorf("graph: %d layer weight sets, config wants %d", len(w.Layers), cfg.Layers)
	}
	m.embed = w.Embedding
	m.finalNormG, m.finalNormB = w.FinalNormG, w.FinalNormB
	if len(m.finalNormG) != cfg.Dim {
		return nil, fmt.Errorf("graph: final norm gamma holds %d values, want %d", len(m.finalNormG), cfg.Dim)
	}
	needBeta := cfg.Norm == config.NormLayer
	if needBeta && len(m.finalNormB) != cfg.Dim {
		return nil, fmt.Errorf("graph: final norm beta holds %d values, want %d", len(m.finalNormB), cfg.Dim)
	}

	m.layers = make([]layer, cfg.Layers)
	for i := range w.Layers {
		lw := &w.Layers[i]
		l := &m.layers[i]
		l.attnNormG, l.attnNormB = lw.AttnNormG, lw.AttnNormB
		l.ffnNormG, l.ffnNormB = lw.FFNNormG, lw.FFNNormB
		if len(l.attnNormG) != cfg.Dim || len(l.ffnNormG) != cfg.Dim {
			return nil, fmt.Errorf("graph: layer %d norm weights sized wrong", i)
		}
		if needBeta && (len(l.attnNormB) != cfg.Dim || len(l.ffnNormB) != cfg.Dim) {
			return nil, fmt.Errorf("graph: layer %d norm shift sized wrong", i)
		}
		var err error
		if l.q, err = m.pack(lw.Wq, lw.Bq, cfg.Dim, cfg.Dim); err != nil {
			return nil, fmt.Errorf("graph: layer %d query: %w", i, err)
		}
		if l.k, err = m.pack(lw.Wk, lw.Bk, cfg.Dim, cfg.Dim); err != nil {
			return nil, fmt.Errorf("graph: layer %d key: %w", i, err)
		}
		if l.v, err = m.pack(lw.Wv, lw.Bv, cfg.Dim, cfg.Dim); err != nil {
			return nil, fmt.Errorf("graph: layer %d value: %w", i, err)
		}
		if l.o, err = m.pack(lw.Wo, lw.Bo, cfg.Dim, cfg.Dim); err != nil {
			return nil, fmt.Errorf("graph: layer %d output: %w", i, err)
		}
		if l.up, err = m.pack(lw.W1, lw.B1, cfg.Dim, cfg.HiddenDim); err != nil {
			return nil, fmt.Errorf("graph: layer %d ffn up: %w", i, err)
		}
		if l.down, err = m.pack(lw.W2, lw.B2, cfg.HiddenDim, cfg.Dim); err != nil {
			return nil, fmt.Errorf("graph: layer %d ffn down: %w", i, err)
		}
	}
	var err error
	if m.output, err = m.pack(w.Output, nil, cfg.Dim, cfg.VocabSize); err != nil {
		return nil, fmt.Errorf("graph: output projection: %w", err)
	}
	m.pool = parallel.NewPool(opts.Threads)

	m.log.Info("model packed",
		"arch", cfg.GetArchitecture(),
		"layers", cfg.Layers,
		"dim", cfg.Dim,
		"weights", wtype.String(),
	)
	return m, nil
}

// pack prepares a raw [out, in] matrix for the model's kernel flavor.
// Int4 weights pass through the nibble codec first; the extra rounding
// is the storage cost, the compute then runs on the int8 path.
func (m *Model) pack(raw, bias []float32, in, out int) (proj, error) {
	if len(raw) != in*out {
		return proj{}, fmt.Errorf("weight holds %d values, want %dx%d", len(raw), out, in)
	}
	if bias != nil && len(bias) != out {
		return proj{}, fmt.Errorf("bias holds %d values, want %d", len(bias), out)
	}
	src := raw
	if m.wtype == config.WeightInt4 {
		decoded, err := m.int4RoundTrip(raw)
		if err != nil {
			return proj{}, err
		}
		src = decoded
	}

	var (
		pw  *kernel.PackedWeight
		err error
	)
	switch m.wtype {
	case config.WeightF32:
		pw, err = m.mmF32.Pack(src, in, out, kernel.LayoutNK)
	case config.WeightBF16:
		pw, err = m.mmBf16.Pack(src, in, out, kernel.LayoutNK)
	default:
		pw, err = m.mmI8.Pack(src, in, out, kernel.LayoutNK)
	}
	if err != nil {
		return proj{}, err
	}
	return proj{w: pw, bias: bias, in: in, out: out}, nil
}

// int4RoundTrip encodes a weight through the block int4 codec and back,
// leaving the values the stored form would reproduce.
func (m *Model) int4RoundTrip(raw []float32) ([]float32, error) {
	blockLen := m.cfg.Int4BlockLen
	n := len(raw)
	padded := (n + blockLen - 1) / blockLen * blockLen
	buf := raw
	if padded != n {
		buf = make([]float32, padded)
		copy(buf, raw)
	}
	packed := make([]byte, padded/2)
	scales := make([]float32, padded/blockLen)
	if err := quant.Quantize4BitSym(buf, packed, scales, blockLen); err != nil {
		return nil, err
	}
	decoded := make([]float32, padded)
	if err := quant.Dequantize4Bit(decoded, packed, scales, blockLen); err != nil {
		return nil, err
	}
	return decoded[:n], nil
}

func (m *Model) Config() config.Config         { return m.cfg }
func (m *Model) WeightType() config.WeightType { return m.wtype }

// NewCache allocates a KV cache sized for this model's context window.
func (m *Model) NewCache() (*KVCache, error) {
	return NewKVCache(m.cfg.Layers, m.cfg.Dim, m.cfg.SeqLen)
}

// Close releases the attention worker pool.
func (m *Model) Close() {
	m.pool.Close()
}

// project runs one packed projection over rows activation rows.
func (m *Model) project(dst, x []float32, rows int, p *proj, gelu bool) error {
	args := kernel.Arguments{
		M: rows, N: p.out, K: p.in,
		A: x, LDA: p.in,
		C: dst, LDC: p.out,
		Bias: p.bias,
	}
	switch {
	case m.mmF32 != nil:
		args.GELU = gelu
		return m.mmF32.Compute(args, p.w)
	case m.mmBf16 != nil:
		args.GELU = gelu
		return m.mmBf16.Compute(args, p.w)
	default:
		// The quantized path dequantizes in its epilogue; the
		// activation is applied as a separate op.
		if err := m.mmI8.Compute(args, p.w); err != nil {
			return err
		}
		if gelu {
			GELUInPlace(dst[:rows*p.out])
		}
		return nil
	}
}

// RandomWeights builds a deterministic toy checkpoint for the given
// configuration, used by tests and the demo binary.
func RandomWeights(cfg config.Config, seed int64) Weights {
	rng := rand.New(rand.NewSource(seed))
	randSlice := func(n int, scale float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = (rng.Float32()*2 - 1) * scale
		}
		return out
	}
	ones := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}

	w := Weights{
		Embedding:  randSlice(cfg.VocabSize*cfg.Dim, 0.1),
		FinalNormG: ones(cfg.Dim),
		FinalNormB: make([]float32, cfg.Dim),
		Output:     randSlice(cfg.VocabSize*cfg.Dim, 0.1),
	}
	w.Layers = make([]LayerWeights, cfg.Layers)
	projScale := float32(0.08)
	for i := range w.Layers {
		w.Layers[i] = LayerWeights{
			AttnNormG: ones(cfg.Dim),
			AttnNormB: make([]float32, cfg.Dim),
			Wq:        randSlice(cfg.Dim*cfg.Dim, projScale),
			Bq:        make([]float32, cfg.Dim),
			Wk:        randSlice(cfg.Dim*cfg.Dim, projScale),
			Bk:        make([]float32, cfg.Dim),
			Wv:        randSlice(cfg.Dim*cfg.Dim, projScale),
			Bv:        make([]float32, cfg.Dim),
			Wo:        randSlice(cfg.Dim*cfg.Dim, projScale),
			Bo:        make([]float32, cfg.Dim),
			FFNNormG:  ones(cfg.Dim),
			FFNNormB:  make([]float32, cfg.Dim),
			W1:        randSlice(cfg.HiddenDim*cfg.Dim, projScale),
			B1:        make([]float32, cfg.HiddenDim),
			W2:        randSlice(cfg.Dim*cfg.HiddenDim, projScale),
			B2:        make([]float32, cfg.Dim),
		}
	}
	return w
}
