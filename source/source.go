// Package source holds the data sources a table can be registered with. A
// source knows its schema up front and scans itself into a ScanExec that
// reads micro batches of string rows.
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// DefaultMicroBatch is the number of rows a source reader hands out per
// read.
const DefaultMicroBatch = 10

// Source is both the logical table and the physical scanner.
type Source interface {
	plan.TableSource
	exec.DataSource
}

// MemorySource serves rows held in memory. Values are strings or nil, typed
// values are accepted too.
type MemorySource struct {
	Label      string
	MicroBatch int
	schema     *schema.Schema
	rows       [][]any
}

// NewMemorySource creates a source over rows, every row must have one value
// per field of s.
func NewMemorySource(label string, s *schema.Schema, rows [][]any) *MemorySource {
	return &MemorySource{
		Label:      label,
		MicroBatch: DefaultMicroBatch,
		schema:     s,
		rows:       rows,
	}
}

// NewInferredMemorySource infers the schema from the rows themselves.
func NewInferredMemorySource(label string, names []string, rows [][]string, maxRows int) *MemorySource {
	s := InferSchema(names, rows, maxRows)
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := make([]any, len(names))
		for idx := range names {
			if idx < len(r) {
				row[idx] = nullable(r[idx])
			}
		}
		values = append(values, row)
	}
	return NewMemorySource(label, s, values)
}

func (self *MemorySource) Schema() *schema.Schema { return self.schema }

func (self *MemorySource) Scan(projection []int) (exec.ExecutionPlan, error) {
	return exec.NewScanExec(self.String(), self, self.schema, projection)
}

func (self *MemorySource) String() string {
	return fmt.Sprintf("memory(%s)", self.Label)
}

func (self *MemorySource) OpenRows(_ context.Context, projection []int) (exec.RowReader, error) {
	cols, err := projectionColumns(self.schema, projection)
	if err != nil {
		return nil, err
	}
	return &memoryReader{src: self, cols: cols}, nil
}

type memoryReader struct {
	src  *MemorySource
	cols []int
	pos  int
}

func (self *memoryReader) Read(ctx context.Context) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if self.pos >= len(self.src.rows) {
		return nil, io.EOF
	}
	end := min(self.pos+microBatch(self.src.MicroBatch), len(self.src.rows))
	out := make([][]any, 0, end-self.pos)
	for ; self.pos < end; self.pos++ {
		row := self.src.rows[self.pos]
		o := make([]any, len(self.cols))
		for idx, c := range self.cols {
			if c < len(row) {
				o[idx] = row[c]
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (self *memoryReader) Close() error { return nil }

func microBatch(n int) int {
	if n <= 0 {
		return DefaultMicroBatch
	}
	return n
}

// projectionColumns checks projection against s, nil selects every column.
func projectionColumns(s *schema.Schema, projection []int) ([]int, error) {
	if projection == nil {
		out := make([]int, s.Len())
		for idx := range out {
			out[idx] = idx
		}
		return out, nil
	}
	if _, err := s.Project(projection); err != nil {
		return nil, errs.SchemaShape("source", "%s", err)
	}
	return projection, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
