package graph

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-windlass/internal/metrics"
)

// auditActivations scans one layer's residual stream for non-finite
// values. Enabled per model via DebugActivations; the scan touches every
// element, so it stays off in normal runs.
func (m *Model) auditActivations(layer int, x []float32) {
	nan, inf := 0, 0
	for _, v := range x {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			nan++
		case math.IsInf(f, 0):
			inf++
		}
	}
	healthy := nan == 0 && inf == 0
	metrics.RecordActivationFlow(healthy)
	if !healthy {
		metrics.RecordNumericalInstability(fmt.Sprintf("layer_%d", layer), nan, inf)
		m.log.Warn("non-finite activations", "layer", layer, "nan", nan, "inf", inf)
	}
}

// flatLogitSpread is the max-min range below which a logit row carries
// no usable ranking signal.
const flatLogitSpread = 1e-6

// auditLogits summarizes each logit row before it leaves the model.
func (m *Model) auditLogits(logits []float32, rows, vocab int) {
	for r := 0; r < rows; r++ {
		row := logits[r*vocab : (r+1)*vocab]
		maxV := float32(math.Inf(-1))
		minV := float32(math.Inf(1))
		sumSq := 0.0
		nan := 0
		for _, v := range row {
			if math.IsNaN(float64(v)) {
				nan++
				continue
			}
			if v > maxV {
				maxV = v
			}
			if v < minV {
				minV = v
			}
			sumSq += float64(v) * float64(v)
		}
		rms := float32(math.Sqrt(sumSq / float64(vocab)))
		flat := nan < vocab && maxV-minV < flatLogitSpread
		metrics.RecordLogitAudit(maxV, minV, rms, nan > 0, flat)
		if nan > 0 {
			m.log.Warn("logit row contains NaN", "row", r, "count", nan)
		}
	}
}
