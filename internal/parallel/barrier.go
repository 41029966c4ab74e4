package parallel

import "sync"

// Barrier is a reusable counting barrier. Wait blocks until all parties
// have arrived, then releases the whole generation at once. The dynamic
// quantization pre-pass uses one: every worker quantizes its row range,
// crosses the barrier, and only then reads any quantized data.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     uint64
}

// NewBarrier creates a barrier for the given number of parties. parties
// below 1 is treated as 1, which makes Wait a no-op.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of participants per generation.
func (b *Barrier) Parties() int { return b.parties }

// Wait blocks the caller until all parties have called Wait for the
// current generation.
func (b *Barrier) Wait() {
	b.mu.Lock()
	gen := b.gen
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
