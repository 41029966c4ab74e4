package graph

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/23skdu/longbow-windlass/internal/logger"
	"github.com/23skdu/longbow-windlass/internal/metrics"
)

// SamplerConfig controls token selection from a logit row. Temperature
// zero means greedy; TopK and TopP of zero disable their filters.
type SamplerConfig struct {
	Temperature float64
	TopK        int
	TopP        float64
	RepPenalty  float64
	Seed        int64
}

// Sampler draws next tokens from model logits with a private RNG, so
// two samplers built from the same seed replay the same choices.
type Sampler struct {
	cfg SamplerConfig
	rng *rand.Rand
	log *logger.Logger
}

func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Sampler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: logger.Log.With("sampler"),
	}
}

type tokenProb struct {
	id   int
	prob float64
}

// repetitionWindow bounds how far back the penalty looks.
const repetitionWindow = 64

// Sample picks the next token from one vocabulary row of logits,
// consulting history for the repetition penalty. The logits are
// modified in place when a penalty applies.
func (s *Sampler) Sample(logits []float32, history []int) int {
	metrics.RecordSampling(s.cfg.Temperature, s.cfg.TopK, s.cfg.TopP)

	if bad := countNonFinite(logits); bad > 0 {
		metrics.RecordSamplingNaN(bad)
		s.log.Warn("non-finite logits, falling back to first finite token", "count", bad)
		return firstFinite(logits)
	}

	if s.cfg.RepPenalty > 1 && len(history) > 0 {
		s.penalizeRepeats(logits, history)
	}

	if s.cfg.Temperature == 0 {
		return greedy(logits)
	}

	probs := softmaxWithTemperature(logits, s.cfg.Temperature)
	candidates := collectCandidates(probs)
	if len(candidates) == 0 {
		return greedy(logits)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})
	candidates = filterTopK(candidates, s.cfg.TopK)
	candidates = filterTopP(candidates, s.cfg.TopP)
	if len(candidates) == 0 {
		return greedy(logits)
	}
	return s.draw(candidates)
}

func countNonFinite(logits []float32) int {
	bad := 0
	for _, v := range logits {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			bad++
		}
	}
	return bad
}

func firstFinite(logits []float32) int {
	for i, v := range logits {
		f := float64(v)
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			return i
		}
	}
	return 0
}

func greedy(logits []float32) int {
	if i := ArgMax(logits); i >= 0 {
		return i
	}
	return 0
}

// penalizeRepeats divides positive logits and multiplies negative ones
// for each distinct token in the recent history, pushing both toward
// less likely.
func (s *Sampler) penalizeRepeats(logits []float32, history []int) {
	start := 0
	if len(history) > repetitionWindow {
		start = len(history) - repetitionWindow
	}
	seen := make(map[int]struct{}, len(history)-start)
	for _, id := range history[start:] {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if id < 0 || id >= len(logits) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= float32(s.cfg.RepPenalty)
		} else {
			logits[id] *= float32(s.cfg.RepPenalty)
		}
	}
}

func softmaxWithTemperature(logits []float32, temperature float64) []float64 {
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = float64(v) / temperature
	}
	maxVal := probs[0]
	for _, v := range probs {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i := range probs {
		probs[i] = math.Exp(probs[i] - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func collectCandidates(probs []float64) []tokenProb {
	candidates := make([]tokenProb, 0, len(probs))
	for i, p := range probs {
		if p > 1e-10 && !math.IsNaN(p) && !math.IsInf(p, 0) {
			candidates = append(candidates, tokenProb{id: i, prob: p})
		}
	}
	return candidates
}

func filterTopK(candidates []tokenProb, k int) []tokenProb {
	if k <= 0 || k >= len(candidates) {
		return candidates
	}
	return candidates[:k]
}

// filterTopP keeps the smallest prefix of the sorted candidates whose
// mass reaches p, renormalized so the draw stays a proper distribution.
func filterTopP(candidates []tokenProb, p float64) []tokenProb {
	if p >= 1.0 || p <= 0.0 {
		return candidates
	}
	sum := 0.0
	for i, c := range candidates {
		sum += c.prob
		if sum >= p {
			selected := candidates[:i+1]
			total := 0.0
			for _, sc := range selected {
				total += sc.prob
			}
			for j := range selected {
				selected[j].prob /= total
			}
			return selected
		}
	}
	return candidates
}

func (s *Sampler) draw(candidates []tokenProb) int {
	sum := 0.0
	for _, c := range candidates {
		sum += c.prob
	}
	r := s.rng.Float64() * sum
	acc := 0.0
	for _, c := range candidates {
		acc += c.prob
		if r < acc {
			return c.id
		}
	}
	return candidates[0].id
}
