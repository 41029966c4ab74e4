package graph

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-windlass/internal/config"
	"github.com/23skdu/longbow-windlass/internal/metrics"
	"github.com/23skdu/longbow-windlass/internal/vec"
)

// PerfCounters accumulate totals across Evaluate calls on one model.
type PerfCounters struct {
	Evaluations atomic.Int64
	Tokens      atomic.Int64
}

// Perf exposes the model's running counters.
func (m *Model) Perf() *PerfCounters { return &m.perf }

// LastHidden returns a copy of the final-norm hidden row for the last
// token of the most recent successful Evaluate, or an empty slice before
// the first pass.
func (m *Model) LastHidden() []float32 {
	return append([]float32(nil), m.scratch.lastHidden...)
}

// evalScratch holds the activation buffers of a forward pass. Buffers
// grow on demand and are reused across Evaluate calls, so a model
// processing one token at a time allocates only on the first call.
type evalScratch struct {
	x, normed         []float32
	q, k, v           []float32
	attnOut, attnProj []float32
	ffnOut            []float32
	hidden            []float32
	lastHidden        []float32
}

func (s *evalScratch) resize(rows, dim, hiddenDim int) {
	need := rows * dim
	if cap(s.x) < need {
		s.x = make([]float32, need)
		s.normed = make([]float32, need)
		s.q = make([]float32, need)
		s.k = make([]float32, need)
		s.v = make([]float32, need)
		s.attnOut = make([]float32, need)
		s.attnProj = make([]float32, need)
		s.ffnOut = make([]float32, need)
	}
	s.x = s.x[:need]
	s.normed = s.normed[:need]
	s.q = s.q[:need]
	s.k = s.k[:need]
	s.v = s.v[:need]
	s.attnOut = s.attnOut[:need]
	s.attnProj = s.attnProj[:need]
	s.ffnOut = s.ffnOut[:need]

	needHidden := rows * hiddenDim
	if cap(s.hidden) < needHidden {
		s.hidden = make([]float32, needHidden)
	}
	s.hidden = s.hidden[:needHidden]
}

// Evaluate runs the forward pass for tokens occupying positions nPast
// through nPast+len(tokens)-1, reading earlier positions from cache and
// writing the new ones into it. With logitsAll the returned slice holds
// one vocabulary row per input token, otherwise just the row for the
// last token; the slice is freshly allocated each call.
//
// The cache length advances only after the whole pass succeeds, so a
// failed call leaves the cache as it was.
func (m *Model) Evaluate(ctx context.Context, cache *KVCache, tokens []int, nPast int, logitsAll bool) ([]float32, error) {
	started := time.Now()
	cfg := m.cfg
	n := len(tokens)
	if n == 0 {
		return nil, fmt.Errorf("graph: no tokens to evaluate")
	}
	if cache == nil {
		return nil, fmt.Errorf("graph: nil kv cache")
	}
	if cache.Layers() != cfg.Layers || cache.Dim() != cfg.Dim {
		return nil, fmt.Errorf("graph: cache shaped for %dx%d, model wants %dx%d",
			cache.Layers(), cache.Dim(), cfg.Layers, cfg.Dim)
	}
	if nPast < 0 || nPast > cache.Len() {
		return nil, fmt.Errorf("graph: past length %d outside cached range [0, %d]", nPast, cache.Len())
	}
	if nPast+n > cache.Capacity() {
		metrics.RecordValidationError("evaluate", "context_overflow")
		return nil, fmt.Errorf("graph: %d tokens at offset %d exceed context window %d", n, nPast, cache.Capacity())
	}
	for i, tok := range tokens {
		if tok < 0 || tok >= cfg.VocabSize {
			metrics.RecordValidationError("evaluate", "token_range")
			return nil, fmt.Errorf("graph: token %d at position %d outside vocabulary of %d", tok, i, cfg.VocabSize)
		}
	}

	s := &m.scratch
	s.resize(n, cfg.Dim, cfg.HiddenDim)
	for i, tok := range tokens {
		copy(s.x[i*cfg.Dim:(i+1)*cfg.Dim], m.embed[tok*cfg.Dim:(tok+1)*cfg.Dim])
	}

	for li := range m.layers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := m.forwardLayer(li, n, nPast, cache); err != nil {
			return nil, err
		}
		if cfg.DebugActivations {
			m.auditActivations(li, s.x)
		}
	}

	m.norm(s.normed, s.x, n, m.finalNormG, m.finalNormB)

	if cap(s.lastHidden) < cfg.Dim {
		s.lastHidden = make([]float32, cfg.Dim)
	}
	s.lastHidden = s.lastHidden[:cfg.Dim]
	copy(s.lastHidden, s.normed[(n-1)*cfg.Dim:n*cfg.Dim])

	rows, src := 1, s.normed[(n-1)*cfg.Dim:]
	if logitsAll {
		rows, src = n, s.normed
	}
	logits := make([]float32, rows*cfg.VocabSize)
	if err := m.project(logits, src, rows, &m.output, false); err != nil {
		return nil, fmt.Errorf("graph: logits: %w", err)
	}
	if cfg.DebugLogits {
		m.auditLogits(logits, rows, cfg.VocabSize)
	}

	if err := cache.Advance(nPast + n); err != nil {
		return nil, err
	}
	m.perf.Evaluations.Add(1)
	m.perf.Tokens.Add(int64(n))
	metrics.RecordEval(n, time.Since(started))
	metrics.RecordContextLength(nPast + n)
	return logits, nil
}

func (m *Model) norm(dst, src []float32, rows int, gamma, beta []float32) {
	if m.cfg.Norm == config.NormRMS {
		RMSNorm(dst, src, rows, m.cfg.Dim, gamma, m.cfg.Eps)
		return
	}
	LayerNorm(dst, src, rows, m.cfg.Dim, gamma, beta, m.cfg.Eps)
}

func (m *Model) forwardLayer(li, n, nPast int, cache *KVCache) error {
	cfg := m.cfg
	s := &m.scratch
	l := &m.layers[li]
	dim := cfg.Dim

	m.norm(s.normed, s.x, n, l.attnNormG, l.attnNormB)

	if err := m.project(s.q, s.normed, n, &l.q, false); err != nil {
		return fmt.Errorf("graph: layer %d query: %w", li, err)
	}
	if err := m.project(s.k, s.normed, n, &l.k, false); err != nil {
		return fmt.Errorf("graph: layer %d key: %w", li, err)
	}
	if err := m.project(s.v, s.normed, n, &l.v, false); err != nil {
		return fmt.Errorf("graph: layer %d value: %w", li, err)
	}

	rot := cfg.RotaryDims()
	Rope(s.q, n, cfg.Heads, cfg.HeadDim, rot, cfg.RopeTheta, nPast)
	Rope(s.k, n, cfg.Heads, cfg.HeadDim, rot, cfg.RopeTheta, nPast)

	for i := 0; i < n; i++ {
		if err := cache.Put(li, nPast+i, s.k[i*dim:(i+1)*dim], s.v[i*dim:(i+1)*dim]); err != nil {
			return fmt.Errorf("graph: layer %d: %w", li, err)
		}
	}

	m.attention(li, n, nPast, cache)

	if err := m.project(s.attnProj, s.attnOut, n, &l.o, false); err != nil {
		return fmt.Errorf("graph: layer %d attn out: %w", li, err)
	}

	if cfg.ParallelResidual {
		// Both branches read the pre-residual input; the feed-forward
		// norm sees x before the attention output lands on it.
		m.norm(s.normed, s.x, n, l.ffnNormG, l.ffnNormB)
		if err := m.ffn(li, n); err != nil {
			return err
		}
		AddInPlace(s.x, s.attnProj)
		AddInPlace(s.x, s.ffnOut)
		return nil
	}

	AddInPlace(s.x, s.attnProj)
	m.norm(s.normed, s.x, n, l.ffnNormG, l.ffnNormB)
	if err := m.ffn(li, n); err != nil {
		return err
	}
	AddInPlace(s.x, s.ffnOut)
	return nil
}

func (m *Model) ffn(li, n int) error {
	l := &m.layers[li]
	s := &m.scratch
	if err := m.project(s.hidden, s.normed, n, &l.up, true); err != nil {
		return fmt.Errorf("graph: layer %d ffn up: %w", li, err)
	}
	if err := m.project(s.ffnOut, s.hidden, n, &l.down, false); err != nil {
		return fmt.Errorf("graph: layer %d ffn down: %w", li, err)
	}
	return nil
}

// attention fills s.attnOut with the causal mixdown, one head span per
// pool task. Query row i attends to cache positions [0, nPast+i]; the
// score row always has at least one live entry, so the softmax never
// sees a fully masked input.
func (m *Model) attention(li, n, nPast int, cache *KVCache) {
	cfg := m.cfg
	s := &m.scratch
	hd := cfg.HeadDim
	dim := cfg.Dim
	invScale := float32(1 / math.Sqrt(float64(hd)))

	m.pool.ParallelFor(cfg.Heads, func(start, end int) {
		scores := make([]float32, nPast+n)
		for h := start; h < end; h++ {
			off := h * hd
			for i := 0; i < n; i++ {
				span := nPast + i + 1
				qRow := s.q[i*dim+off : i*dim+off+hd]
				row := scores[:span]
				for j := 0; j < span; j++ {
					kRow := cache.KeyRow(li, j)
					row[j] = vec.Dot(qRow, kRow[off:off+hd], hd) * invScale
				}
				SoftmaxRow(row, row)

				out := s.attnOut[i*dim+off : i*dim+off+hd]
				clear(out)
				for j := 0; j < span; j++ {
					vRow := cache.ValueRow(li, j)
					WeightedSum(out, row[j], vRow[off:off+hd])
				}
			}
		}
	})
}
