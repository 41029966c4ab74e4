package kernel

import "github.com/23skdu/longbow-windlass/internal/quant"

// dynQuant holds the row-quantized activation shared by every worker of
// one dynamic int8 multiply. Workers fill disjoint row ranges in the
// first phase, meet at a barrier, then all read the whole buffer during
// compute. Buffers grow monotonically and are reused across calls.
type dynQuant struct {
	qa     []uint8
	scales []float32
	zeros  []int32
	m, k   int
}

func (dq *dynQuant) resize(m, k int) {
	if need := m * k; cap(dq.qa) < need {
		dq.qa = make([]uint8, need)
	} else {
		dq.qa = dq.qa[:need]
	}
	if cap(dq.scales) < m {
		dq.scales = make([]float32, m)
		dq.zeros = make([]int32, m)
	} else {
		dq.scales = dq.scales[:m]
		dq.zeros = dq.zeros[:m]
	}
	dq.m, dq.k = m, k
}

// quantizeRows quantizes activation rows [lo, hi). Row ranges across
// workers are disjoint so no synchronization is needed until the
// barrier.
func (dq *dynQuant) quantizeRows(a []float32, lda, lo, hi int) {
	for i := lo; i < hi; i++ {
		dq.scales[i], dq.zeros[i] = quant.QuantizeRowAsym(a[i*lda:][:dq.k], dq.qa[i*dq.k:][:dq.k])
	}
}

// rowRange splits m rows evenly across workers for the quantize phase.
// Every worker gets a range even when it is empty, because every worker
// must still reach the barrier.
func rowRange(m, workers, tid int) (lo, hi int) {
	base, extra := m/workers, m%workers
	lo = tid*base + min(tid, extra)
	hi = lo + base
	if tid < extra {
		hi++
	}
	return lo, hi
}
