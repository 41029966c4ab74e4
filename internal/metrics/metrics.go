package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	EvalTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_tokens_total",
		Help: "The total number of tokens evaluated",
	})

	EvalDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "eval_duration_seconds",
		Help: "Duration of evaluation steps",
	})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000, 32000},
	})

	MatmulDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matmul_duration_seconds",
		Help:    "Histogram of tiled multiply execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"core"})

	MatmulFlopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matmul_flops_total",
		Help: "Total floating point operations issued to each core",
	}, []string{"core"})

	PlanRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "partition_plan_rebuilds_total",
		Help: "Total number of partition plan recomputations",
	})

	WeightsPackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weights_packed_total",
		Help: "Total number of weight tensors packed per core",
	}, []string{"core"})

	WeightPackedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weight_packed_bytes",
		Help: "Total bytes held by packed weight buffers",
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	// Logit range audit metrics
	LogitMaxValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_max_value",
		Help:    "Maximum logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100, 500, 1000},
	})

	LogitMinValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_min_value",
		Help:    "Minimum logit value observed",
		Buckets: []float64{-1000, -500, -100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	LogitRMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_rms",
		Help:    "Root mean square of logit values",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	LogitFlatDistribution = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_flat_distribution_total",
		Help: "Count of flat logit distributions detected",
	})

	LogitNaNCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_nan_count_total",
		Help: "Total count of NaN values in logits",
	})

	// KV cache metrics
	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Total capacity of KV cache in bytes",
	})

	KVCacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_used_bytes",
		Help: "Current bytes used in KV cache",
	})

	KVCacheAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_appends_total",
		Help: "Total number of KV cache append operations",
	})

	// Softmax masking metrics
	SoftmaxMaskedCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "softmax_masked_count",
		Help:    "Number of masked positions in softmax",
		Buckets: []float64{0, 10, 100, 500, 1000, 2000, 4000, 8000},
	})

	SoftmaxAllMasked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softmax_all_masked_total",
		Help: "Count of fully masked softmax rows",
	})

	// Activation flow metrics
	ActivationHealthy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activation_healthy_total",
		Help: "Count of healthy activation flows",
	})

	ActivationUnhealthy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activation_unhealthy_total",
		Help: "Count of unhealthy activation flows",
	})

	// Sampling metrics
	SamplingTemperature = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_temperature",
		Help:    "Temperature values used in sampling",
		Buckets: []float64{0, 0.1, 0.3, 0.5, 0.7, 1.0, 1.5, 2.0},
	})

	SamplingTopK = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_top_k",
		Help:    "Top-K values used in sampling",
		Buckets: []float64{1, 5, 10, 20, 40, 50, 100},
	})

	SamplingTopP = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_top_p",
		Help:    "Top-P values used in sampling",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 0.95, 1.0},
	})

	SamplingNaNHandling = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sampling_nan_handling_total",
		Help: "Count of NaN/Inf values handled during sampling",
	})

	// Export metrics
	ExportRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_records_total",
		Help: "Total number of records shipped to the export sink",
	})

	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "export_duration_seconds",
		Help:    "Export round trip latency",
		Buckets: prometheus.DefBuckets,
	})

	ExportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_errors_total",
		Help: "Total number of failed export attempts",
	})
)

func RecordEval(tokens int, duration time.Duration) {
	EvalTokensTotal.Add(float64(tokens))
	totalTokens.Add(int64(tokens))
	EvalDuration.Observe(duration.Seconds())
}

// TokensEvaluated returns the process-lifetime token count, used by the
// health endpoint.
func TokensEvaluated() int64 {
	return totalTokens.Load()
}

func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

func RecordMatmul(core string, m, n, k int, duration time.Duration) {
	MatmulDuration.WithLabelValues(core).Observe(duration.Seconds())
	MatmulFlopsTotal.WithLabelValues(core).Add(2 * float64(m) * float64(n) * float64(k))
}

func RecordPlanRebuild() {
	PlanRebuilds.Inc()
}

func RecordWeightPack(core string, bytes int) {
	WeightsPackedTotal.WithLabelValues(core).Inc()
	WeightPackedBytes.Add(float64(bytes))
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordLogitAudit records logit range audit results
func RecordLogitAudit(max, min, rms float32, hasNaN, isFlat bool) {
	LogitMaxValue.Observe(float64(max))
	LogitMinValue.Observe(float64(min))
	LogitRMS.Observe(float64(rms))
	if isFlat {
		LogitFlatDistribution.Inc()
	}
	if hasNaN {
		LogitNaNCount.Inc()
	}
}

// RecordKVCacheStats records KV cache capacity and usage
func RecordKVCacheStats(capacity, used int64) {
	KVCacheCapacityBytes.Set(float64(capacity))
	KVCacheUsedBytes.Set(float64(used))
}

func RecordKVCacheAppend(tokens int) {
	KVCacheAppends.Add(float64(tokens))
}

// RecordSoftmaxMasking records how much of an attention row was masked
// and whether the row had no visible position at all.
func RecordSoftmaxMasking(masked int, allMasked bool) {
	SoftmaxMaskedCount.Observe(float64(masked))
	if allMasked {
		SoftmaxAllMasked.Inc()
	}
}

// RecordActivationFlow records whether a forward pass stayed inside
// healthy activation ranges.
func RecordActivationFlow(healthy bool) {
	if healthy {
		ActivationHealthy.Inc()
	} else {
		ActivationUnhealthy.Inc()
	}
}

// RecordSampling records the knobs used for one sampling step.
func RecordSampling(temperature float64, topK int, topP float64) {
	SamplingTemperature.Observe(temperature)
	if topK > 0 {
		SamplingTopK.Observe(float64(topK))
	}
	if topP > 0 {
		SamplingTopP.Observe(topP)
	}
}

func RecordSamplingNaN(count int) {
	if count > 0 {
		SamplingNaNHandling.Add(float64(count))
	}
}

func RecordExport(records int, duration time.Duration, err error) {
	if err != nil {
		ExportErrors.Inc()
		return
	}
	ExportRecordsTotal.Add(float64(records))
	ExportDuration.Observe(duration.Seconds())
}
