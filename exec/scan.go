package exec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

// RowReader yields micro batches of rows restricted to the scanned columns.
// Values are strings or nil; already typed values are accepted as well.
type RowReader interface {
	// Read returns the next micro batch, io.EOF at the end.
	Read(ctx context.Context) ([][]any, error)
	Close() error
}

// RowSource opens a reader over the source columns at projection.
type RowSource interface {
	OpenRows(ctx context.Context, projection []int) (RowReader, error)
}

// ScanExec turns rows of a RowSource into typed batches.
type ScanExec struct {
	Source     RowSource
	Label      string
	Projection []int
	schema     *schema.Schema
}

// NewScanExec scans source whose full schema is full. A nil projection
// scans every column.
func NewScanExec(label string, source RowSource, full *schema.Schema, projection []int) (*ScanExec, error) {
	s := full
	if projection != nil {
		p, err := full.Project(projection)
		if err != nil {
			return nil, err
		}
		s = p
	}
	return &ScanExec{Source: source, Label: label, Projection: projection, schema: s}, nil
}

func (self *ScanExec) Type() int                 { return PlanScan }
func (self *ScanExec) Schema() *schema.Schema    { return self.schema }
func (self *ScanExec) Children() []ExecutionPlan { return nil }

func (self *ScanExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	reader, err := self.Source.OpenRows(ctx, self.Projection)
	if err != nil {
		return nil, err
	}
	st := newStream(ctx, opts, "ScanExec", self.schema, func() (*data.RecordBatch, error) {
		for {
			rows, err := reader.Read(ctx)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				continue
			}
			return self.toBatch(rows)
		}
	})
	st.onDone = reader.Close
	return st, nil
}

func (self *ScanExec) toBatch(rows [][]any) (*data.RecordBatch, error) {
	if self.schema.Len() == 0 {
		return data.NewRowsBatch(len(rows)), nil
	}
	b := data.NewRecordBatch(self.schema)
	for _, row := range rows {
		if len(row) != self.schema.Len() {
			return nil, errs.SchemaShape("scan", "row has %d values, expect %d", len(row), self.schema.Len())
		}
		for idx, v := range row {
			b.Column(idx).Add(v)
		}
	}
	return b, nil
}

func (self *ScanExec) String() string {
	if self.Projection == nil {
		return fmt.Sprintf("ScanExec: %s", self.Label)
	}
	names := []string{}
	for _, f := range self.schema.Fields() {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("ScanExec: %s projection=[%s]", self.Label, strings.Join(names, ", "))
}

// EmptyExec produces no row, or a single row without columns.
type EmptyExec struct {
	ProduceOneRow bool
	schema        *schema.Schema
}

func NewEmptyExec(produceOneRow bool) *EmptyExec {
	return &EmptyExec{ProduceOneRow: produceOneRow, schema: schema.Empty()}
}

func (self *EmptyExec) Type() int                 { return PlanEmpty }
func (self *EmptyExec) Schema() *schema.Schema    { return self.schema }
func (self *EmptyExec) Children() []ExecutionPlan { return nil }

func (self *EmptyExec) String() string {
	if self.ProduceOneRow {
		return "EmptyExec: produce_one_row=true"
	}
	return "EmptyExec"
}

func (self *EmptyExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	emitted := !self.ProduceOneRow
	return newStream(ctx, opts, "EmptyExec", self.schema, func() (*data.RecordBatch, error) {
		if emitted {
			return nil, io.EOF
		}
		emitted = true
		return data.NewRowsBatch(1), nil
	}), nil
}
