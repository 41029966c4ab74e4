// Package parallel provides the fork-join region, the persistent worker
// pool, and the barrier primitive the kernel layer builds on. Compute
// calls spawn exactly one worker per partition-plan slot; the pool exists
// so row-sliced graph ops can reuse goroutines across the many small
// launches of a forward pass.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Run executes fn(tid) for tid in [0, workers) on freshly spawned
// goroutines and joins them all before returning. The worker count must
// match the partition plan the callers index into; workers holding an
// empty rectangle return immediately.
//
// Fresh goroutines rather than pool dispatch: a barrier inside fn needs
// all participants running concurrently, which a bounded pool cannot
// guarantee.
func Run(workers int, fn func(tid int)) {
	if workers <= 0 {
		return
	}
	if workers == 1 {
		fn(0)
		return
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for tid := 0; tid < workers; tid++ {
		go func(id int) {
			defer wg.Done()
			fn(id)
		}(tid)
	}
	wg.Wait()
}

// Pool is a persistent worker pool reused across many parallel operations.
type Pool struct {
	numWorkers int
	workC      chan workItem
	closeOnce  sync.Once
	closed     atomic.Bool
}

type workItem struct {
	fn      func()
	barrier *sync.WaitGroup
}

// NewPool spawns numWorkers persistent workers. numWorkers <= 0 means
// GOMAXPROCS.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
	}
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

func (p *Pool) NumWorkers() int { return p.numWorkers }

// Close shuts the pool down once pending work drains. Safe to call twice.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.workC)
	})
}

// ParallelFor splits [0, n) into contiguous chunks, one per worker, and
// blocks until all chunks complete. Falls back to a sequential call when
// the pool is closed or the range is trivial.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if p.closed.Load() {
		fn(0, n)
		return
	}

	workers := p.numWorkers
	if workers > n {
		workers = n
	}
	if workers == 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		start := i * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= n {
			wg.Done()
			continue
		}
		s, e := start, end
		p.workC <- workItem{
			fn:      func() { fn(s, e) },
			barrier: &wg,
		}
	}
	wg.Wait()
}
