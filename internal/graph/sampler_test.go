package graph

import (
	"math"
	"testing"
)

func TestSamplerGreedy(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 0, Seed: 1})
	logits := []float32{0.1, 2.5, -1, 2.4}
	if got := s.Sample(logits, nil); got != 1 {
		t.Fatalf("greedy picked %d, want 1", got)
	}
}

func TestSamplerSeedDeterminism(t *testing.T) {
	cfg := SamplerConfig{Temperature: 0.8, TopK: 8, TopP: 0.95, Seed: 42}
	a := NewSampler(cfg)
	b := NewSampler(cfg)
	logits := []float32{1, 2, 3, 2.5, 0.5, 1.5, 2.2, 0.1}
	for i := 0; i < 32; i++ {
		la := append([]float32(nil), logits...)
		lb := append([]float32(nil), logits...)
		if ta, tb := a.Sample(la, nil), b.Sample(lb, nil); ta != tb {
			t.Fatalf("draw %d diverged: %d vs %d", i, ta, tb)
		}
	}
}

func TestSamplerNonFiniteFallback(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 0.7, Seed: 3})

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	if got := s.Sample([]float32{nan, inf, 1.5, 2}, nil); got != 2 {
		t.Fatalf("fallback picked %d, want first finite index 2", got)
	}
	if got := s.Sample([]float32{nan, nan}, nil); got != 0 {
		t.Fatalf("all-NaN fallback picked %d, want 0", got)
	}
}

func TestSamplerTopKOne(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 1.2, TopK: 1, Seed: 4})
	logits := []float32{0.3, 0.1, 1.7, 0.9}
	for i := 0; i < 16; i++ {
		row := append([]float32(nil), logits...)
		if got := s.Sample(row, nil); got != 2 {
			t.Fatalf("draw %d: top-k=1 picked %d, want 2", i, got)
		}
	}
}

func TestSamplerTopPKeepsDominantToken(t *testing.T) {
	// Token 0 holds well over half the mass, so top-p 0.5 leaves it alone.
	s := NewSampler(SamplerConfig{Temperature: 1, TopP: 0.5, Seed: 5})
	logits := []float32{5, 0, 0, 0}
	for i := 0; i < 16; i++ {
		row := append([]float32(nil), logits...)
		if got := s.Sample(row, nil); got != 0 {
			t.Fatalf("draw %d: top-p picked %d, want 0", i, got)
		}
	}
}

func TestSamplerRepetitionPenalty(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 0, RepPenalty: 2, Seed: 6})

	// Token 0 leads, but halving its logit after it appears in history
	// hands the greedy pick to token 1.
	logits := []float32{2.0, 1.9, 0.1}
	if got := s.Sample(logits, []int{0}); got != 1 {
		t.Fatalf("penalized greedy picked %d, want 1", got)
	}
}

func TestSamplerHistoryOutsideVocab(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 0, RepPenalty: 4, Seed: 7})
	logits := []float32{1, 0.5}
	if got := s.Sample(logits, []int{99, -3, 0}); got != 1 {
		t.Fatalf("got %d, want 1 after penalizing token 0 only", got)
	}
}
