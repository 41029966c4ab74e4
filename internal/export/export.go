// Package export streams evaluation artifacts, one embedding or logit
// vector per generation step, to an Arrow Flight endpoint.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-windlass/internal/logger"
	"github.com/23skdu/longbow-windlass/internal/metrics"
)

// Record is one exported row.
type Record struct {
	Step   int64
	Vector []float32
}

// Exporter receives batches of records. Implementations must tolerate
// batches arriving from a single goroutine only.
type Exporter interface {
	Export(ctx context.Context, records []Record) error
	Close() error
}

// FlightExporter ships record batches over Arrow Flight DoPut. Every
// batch becomes one Arrow record with a step column and a fixed-width
// float32 list column.
type FlightExporter struct {
	path   string
	dim    int
	client flight.Client
	mem    memory.Allocator
	schema *arrow.Schema
	log    *logger.Logger
}

func vectorSchema(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "step", Type: arrow.PrimitiveTypes.Int64},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// NewFlightExporter dials addr without credentials; the connection is
// established lazily on the first Export. path names the Flight
// descriptor the server files the batches under.
func NewFlightExporter(addr, path string, dim int) (*FlightExporter, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("export: vector width %d must be positive", dim)
	}
	if path == "" {
		path = "vectors"
	}
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("export: dial %s: %w", addr, err)
	}
	return &FlightExporter{
		path:   path,
		dim:    dim,
		client: client,
		mem:    memory.DefaultAllocator,
		schema: vectorSchema(dim),
		log:    logger.Log.With("export"),
	}, nil
}

// Export writes one batch and waits for the server to acknowledge the
// stream.
func (e *FlightExporter) Export(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	started := time.Now()

	rec, err := e.buildRecord(records)
	if err != nil {
		metrics.RecordExport(0, 0, err)
		return err
	}
	defer rec.Release()

	stream, err := e.client.DoPut(ctx)
	if err != nil {
		metrics.RecordExport(0, 0, err)
		return fmt.Errorf("export: open put stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(e.schema))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{e.path},
	})
	if err := w.Write(rec); err != nil {
		metrics.RecordExport(0, 0, err)
		return fmt.Errorf("export: write batch: %w", err)
	}
	if err := w.Close(); err != nil {
		metrics.RecordExport(0, 0, err)
		return fmt.Errorf("export: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		metrics.RecordExport(0, 0, err)
		return fmt.Errorf("export: close stream: %w", err)
	}
	if err := drainAcks(stream); err != nil {
		metrics.RecordExport(0, 0, err)
		return fmt.Errorf("export: server ack: %w", err)
	}

	elapsed := time.Since(started)
	metrics.RecordExport(len(records), elapsed, nil)
	e.log.Debug("batch exported", "records", len(records), "elapsed", elapsed)
	return nil
}

func drainAcks(stream flight.FlightService_DoPutClient) error {
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (e *FlightExporter) buildRecord(records []Record) (arrow.Record, error) {
	b := array.NewRecordBuilder(e.mem, e.schema)
	defer b.Release()

	steps := b.Field(0).(*array.Int64Builder)
	lists := b.Field(1).(*array.FixedSizeListBuilder)
	values := lists.ValueBuilder().(*array.Float32Builder)

	for _, r := range records {
		if len(r.Vector) != e.dim {
			return nil, fmt.Errorf("export: step %d carries %d values, want %d", r.Step, len(r.Vector), e.dim)
		}
		steps.Append(r.Step)
		lists.Append(true)
		values.AppendValues(r.Vector, nil)
	}
	return b.NewRecord(), nil
}

func (e *FlightExporter) Close() error {
	return e.client.Close()
}
