package graph

import (
	"strings"
	"testing"

	"github.com/23skdu/longbow-windlass/internal/config"
)

func TestRandomWeightsShapes(t *testing.T) {
	cfg := testConfig()
	w := RandomWeights(cfg, 3)

	if len(w.Embedding) != cfg.VocabSize*cfg.Dim {
		t.Fatalf("embedding length %d", len(w.Embedding))
	}
	if len(w.Output) != cfg.VocabSize*cfg.Dim {
		t.Fatalf("output length %d", len(w.Output))
	}
	if len(w.Layers) != cfg.Layers {
		t.Fatalf("%d layers", len(w.Layers))
	}
	l := w.Layers[0]
	if len(l.Wq) != cfg.Dim*cfg.Dim || len(l.Wk) != cfg.Dim*cfg.Dim || len(l.Wv) != cfg.Dim*cfg.Dim {
		t.Fatal("attention projection sizes wrong")
	}
	if len(l.W1) != cfg.HiddenDim*cfg.Dim || len(l.W2) != cfg.Dim*cfg.HiddenDim {
		t.Fatal("ffn projection sizes wrong")
	}
	if len(l.B1) != cfg.HiddenDim || len(l.B2) != cfg.Dim {
		t.Fatal("ffn bias sizes wrong")
	}

	// Same seed replays the same weights.
	again := RandomWeights(cfg, 3)
	for i := range w.Embedding {
		if w.Embedding[i] != again.Embedding[i] {
			t.Fatal("seeded weights not reproducible")
		}
	}
}

func TestNewModelValidation(t *testing.T) {
	cfg := testConfig()

	bad := cfg
	bad.HeadDim = 7
	if _, err := NewModel(bad, RandomWeights(cfg, 1), Options{}); err == nil {
		t.Error("inconsistent head geometry accepted")
	}

	w := RandomWeights(cfg, 1)
	w.Embedding = w.Embedding[:10]
	if _, err := NewModel(cfg, w, Options{}); err == nil {
		t.Error("truncated embedding accepted")
	}

	w = RandomWeights(cfg, 1)
	w.Layers = w.Layers[:1]
	if _, err := NewModel(cfg, w, Options{}); err == nil {
		t.Error("missing layer accepted")
	}

	w = RandomWeights(cfg, 1)
	w.Layers[1].Bq = w.Layers[1].Bq[:3]
	_, err := NewModel(cfg, w, Options{})
	if err == nil {
		t.Fatal("truncated bias accepted")
	}
	if !strings.Contains(err.Error(), "layer 1") {
		t.Fatalf("error %q does not name the offending layer", err)
	}

	w = RandomWeights(cfg, 1)
	w.Layers[0].Wo = w.Layers[0].Wo[:8]
	if _, err := NewModel(cfg, w, Options{}); err == nil {
		t.Error("truncated projection accepted")
	}
}

func TestNewModelResolvesAutoWeights(t *testing.T) {
	cfg := testConfig()
	cfg.WeightType = config.WeightAuto
	m := testModel(t, cfg)
	if m.WeightType() != config.WeightF32 {
		t.Fatalf("auto resolved to %s", m.WeightType())
	}
}

func TestModelNewCacheShape(t *testing.T) {
	cfg := testConfig()
	m := testModel(t, cfg)
	cache, err := m.NewCache()
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if cache.Layers() != cfg.Layers || cache.Dim() != cfg.Dim || cache.Capacity() != cfg.SeqLen {
		t.Fatalf("cache shaped %d/%d/%d", cache.Layers(), cache.Dim(), cache.Capacity())
	}
}
