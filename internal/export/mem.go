package export

import (
	"context"
	"fmt"
	"sync"
)

// MemExporter collects records in memory. It stands in for a Flight
// endpoint in tests and in runs that only want the capture side.
type MemExporter struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func NewMemExporter() *MemExporter {
	return &MemExporter{}
}

// Export copies the batch, so callers may reuse their buffers.
func (e *MemExporter) Export(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("export: exporter closed")
	}
	for _, r := range records {
		e.records = append(e.records, Record{
			Step:   r.Step,
			Vector: append([]float32(nil), r.Vector...),
		})
	}
	return nil
}

func (e *MemExporter) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Records returns a snapshot of everything exported so far.
func (e *MemExporter) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.records...)
}

// Reset drops collected records, keeping the exporter usable.
func (e *MemExporter) Reset() {
	e.mu.Lock()
	e.records = e.records[:0]
	e.mu.Unlock()
}
