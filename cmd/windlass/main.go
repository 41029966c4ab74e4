package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/23skdu/longbow-windlass/internal/config"
	"github.com/23skdu/longbow-windlass/internal/export"
	"github.com/23skdu/longbow-windlass/internal/graph"
	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/logger"
	"github.com/23skdu/longbow-windlass/internal/monitoring"
)

var (
	dim        = flag.Int("dim", 256, "model width")
	numLayers  = flag.Int("layers", 4, "transformer layers")
	numHeads   = flag.Int("heads", 8, "attention heads")
	hiddenDim  = flag.Int("hidden", 1024, "feed-forward width")
	vocabSize  = flag.Int("vocab", 512, "vocabulary size")
	seqLen     = flag.Int("ctx", 512, "context window")
	weightsArg = flag.String("weights", "f32", "weight type: f32, bf16, int8 or int4")
	threads    = flag.Int("threads", 0, "matmul workers, 0 means one per physical core")
	seed       = flag.Int64("seed", 42, "weight and sampler seed")
	promptArg  = flag.String("tokens", "1,2,3,4", "comma separated prompt token ids")
	numTokens  = flag.Int("n", 32, "tokens to generate")
	temp       = flag.Float64("temperature", 0.8, "sampling temperature, 0 means greedy")
	topK       = flag.Int("top-k", 40, "top-k filter, 0 disables")
	topP       = flag.Float64("top-p", 0.95, "top-p filter, 0 disables")
	repPenalty = flag.Float64("rep-penalty", 1.1, "repetition penalty, values <= 1 disable")
	healthAddr = flag.String("health", ":9090", "health and metrics listen address")
	exportAddr = flag.String("export", "", "arrow flight endpoint for per-step logits, empty disables")
	exportPath = flag.String("export-path", "windlass/logits", "flight descriptor path")
	logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
	logFormat  = flag.String("log-format", "console", "console or json")
	debugActs  = flag.Bool("debug-activations", false, "audit every layer for non-finite activations")
	debugLogit = flag.Bool("debug-logits", false, "audit logit rows before sampling")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log.With("windlass")

	feats := isa.Detect()
	log.Info("cpu detected",
		"level", feats.Level.String(),
		"cores", feats.PhysicalCores,
		"l2_bytes", feats.L2Size,
		"brand", feats.Brand,
	)

	cfg, err := buildConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	hm := monitoring.NewHealthMonitor()
	go func() {
		if err := hm.Start(*healthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server stopped", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hm.Stop(ctx)
	}()

	log.Info("packing model",
		"dim", cfg.Dim,
		"layers", cfg.Layers,
		"heads", cfg.Heads,
		"vocab", cfg.VocabSize,
		"weights", cfg.WeightType.String(),
	)
	model, err := graph.NewModel(cfg, graph.RandomWeights(cfg, *seed), graph.Options{Threads: *threads})
	if err != nil {
		log.Error("model construction failed", "error", err)
		os.Exit(1)
	}
	defer model.Close()

	cache, err := model.NewCache()
	if err != nil {
		log.Error("cache allocation failed", "error", err)
		os.Exit(1)
	}
	hm.SetRuntimeInfo(monitoring.RuntimeInfo{
		ModelLoaded:   true,
		Architecture:  cfg.GetArchitecture(),
		WeightType:    model.WeightType().String(),
		NumLayers:     cfg.Layers,
		NumHeads:      cfg.Heads,
		ContextLength: cfg.SeqLen,
		KVCacheBytes:  cache.Bytes(),
	})

	var sink export.Exporter
	if *exportAddr != "" {
		fe, err := export.NewFlightExporter(*exportAddr, *exportPath, cfg.VocabSize)
		if err != nil {
			log.Error("exporter setup failed", "error", err)
			os.Exit(1)
		}
		defer fe.Close()
		sink = fe
	}

	prompt, err := parseTokens(*promptArg, cfg.VocabSize)
	if err != nil {
		log.Error("bad prompt tokens", "error", err)
		os.Exit(1)
	}

	sampler := graph.NewSampler(graph.SamplerConfig{
		Temperature: *temp,
		TopK:        *topK,
		TopP:        *topP,
		RepPenalty:  *repPenalty,
		Seed:        *seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	generated, err := generate(ctx, model, hm, sink, sampler, cache, prompt, *numTokens)
	elapsed := time.Since(started)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("generation interrupted", "generated", len(generated))
		} else {
			log.Error("generation failed", "error", err)
			os.Exit(1)
		}
	}

	fmt.Printf("prompt:    %v\n", prompt)
	fmt.Printf("generated: %v\n", generated)
	if len(generated) > 0 && elapsed > 0 {
		fmt.Printf("%d tokens in %v (%.2f t/s)\n",
			len(generated), elapsed.Round(time.Millisecond),
			float64(len(generated))/elapsed.Seconds())
	}
}

func buildConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.Dim = *dim
	cfg.Layers = *numLayers
	cfg.Heads = *numHeads
	cfg.HiddenDim = *hiddenDim
	cfg.VocabSize = *vocabSize
	cfg.SeqLen = *seqLen
	cfg.DebugActivations = *debugActs
	cfg.DebugLogits = *debugLogit
	if *numHeads > 0 {
		cfg.HeadDim = *dim / *numHeads
	}

	wt, err := config.ParseWeightType(*weightsArg)
	if err != nil {
		return cfg, err
	}
	cfg.WeightType = wt
	return cfg, cfg.Validate()
}

func parseTokens(s string, vocab int) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", p, err)
		}
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("token %d outside vocabulary of %d", id, vocab)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}
	return out, nil
}

// generate prefills the prompt, then samples one token at a time until
// n tokens are produced, the context window fills, or ctx is cancelled.
// Per-step logit rows are captured before sampling mutates them.
func generate(ctx context.Context, model *graph.Model, hm *monitoring.HealthMonitor, sink export.Exporter, sampler *graph.Sampler, cache *graph.KVCache, prompt []int, n int) ([]int, error) {
	stepStart := time.Now()
	logits, err := model.Evaluate(ctx, cache, prompt, 0, false)
	if err != nil {
		hm.RecordFailure("runtime", err)
		return nil, err
	}
	hm.RecordEvaluation(len(prompt), time.Since(stepStart))

	history := append([]int(nil), prompt...)
	out := make([]int, 0, n)
	var trace []export.Record

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if sink != nil {
			trace = append(trace, export.Record{
				Step:   int64(i),
				Vector: append([]float32(nil), logits...),
			})
		}

		next := sampler.Sample(logits, history)
		out = append(out, next)
		history = append(history, next)

		if cache.Len() >= cache.Capacity() {
			break
		}
		stepStart = time.Now()
		logits, err = model.Evaluate(ctx, cache, []int{next}, cache.Len(), false)
		if err != nil {
			hm.RecordFailure("runtime", err)
			return out, err
		}
		hm.RecordEvaluation(1, time.Since(stepStart))
	}

	if sink != nil && len(trace) > 0 {
		if err := sink.Export(ctx, trace); err != nil {
			return out, fmt.Errorf("export generation trace: %w", err)
		}
	}
	return out, nil
}
