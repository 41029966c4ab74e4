package export

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestBuildRecordColumns(t *testing.T) {
	const dim = 4
	e := &FlightExporter{
		dim:    dim,
		mem:    memory.NewGoAllocator(),
		schema: vectorSchema(dim),
	}

	batch := []Record{
		{Step: 0, Vector: []float32{1, 2, 3, 4}},
		{Step: 1, Vector: []float32{5, 6, 7, 8}},
		{Step: 5, Vector: []float32{-1, -2, -3, -4}},
	}
	rec, err := e.buildRecord(batch)
	if err != nil {
		t.Fatalf("buildRecord: %v", err)
	}
	defer rec.Release()

	if rec.NumRows() != int64(len(batch)) {
		t.Fatalf("%d rows, want %d", rec.NumRows(), len(batch))
	}
	if got := rec.Schema().Field(0).Name; got != "step" {
		t.Fatalf("first field %q", got)
	}
	if got := rec.Schema().Field(1).Name; got != "vector" {
		t.Fatalf("second field %q", got)
	}

	steps := rec.Column(0).(*array.Int64)
	for i, r := range batch {
		if steps.Value(i) != r.Step {
			t.Fatalf("row %d step %d, want %d", i, steps.Value(i), r.Step)
		}
	}

	lists := rec.Column(1).(*array.FixedSizeList)
	values := lists.ListValues().(*array.Float32)
	for i, r := range batch {
		for j, want := range r.Vector {
			if got := values.Value(i*dim + j); got != want {
				t.Fatalf("row %d value %d: got %v want %v", i, j, got, want)
			}
		}
	}
}

func TestBuildRecordRejectsWrongWidth(t *testing.T) {
	e := &FlightExporter{
		dim:    3,
		mem:    memory.NewGoAllocator(),
		schema: vectorSchema(3),
	}
	if _, err := e.buildRecord([]Record{{Step: 0, Vector: []float32{1, 2}}}); err == nil {
		t.Fatal("narrow vector accepted")
	}
}

func TestMemExporterCollects(t *testing.T) {
	e := NewMemExporter()
	ctx := context.Background()

	src := []float32{1, 2}
	if err := e.Export(ctx, []Record{{Step: 0, Vector: src}}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	src[0] = 99
	if err := e.Export(ctx, []Record{{Step: 1, Vector: []float32{3, 4}}}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got := e.Records()
	if len(got) != 2 {
		t.Fatalf("%d records", len(got))
	}
	if got[0].Vector[0] != 1 {
		t.Fatalf("exporter aliased the caller's buffer: %v", got[0].Vector)
	}
	if got[1].Step != 1 || got[1].Vector[1] != 4 {
		t.Fatalf("second record %+v", got[1])
	}

	e.Reset()
	if len(e.Records()) != 0 {
		t.Fatal("reset left records behind")
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Export(ctx, []Record{{Step: 2, Vector: []float32{5, 6}}}); err == nil {
		t.Fatal("export after close accepted")
	}
}
