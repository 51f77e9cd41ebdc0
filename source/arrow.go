package source

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/schema"
)

// ArrowSource serves Arrow records. Every record must carry the schema of
// the first one. Values are handed to the scan as strings.
type ArrowSource struct {
	Label      string
	MicroBatch int
	records    []arrow.Record
	schema     *schema.Schema
}

// NewArrowSource retains the records, Release gives them back.
func NewArrowSource(label string, records ...arrow.Record) (*ArrowSource, error) {
	if len(records) == 0 {
		return nil, errs.SchemaShape("source", "arrow source %s has no record", label)
	}
	first := records[0].Schema()
	for _, r := range records[1:] {
		if !r.Schema().Equal(first) {
			return nil, errs.SchemaShape("source", "arrow source %s mixes record schemas", label)
		}
	}
	fields := make([]schema.Field, 0, len(first.Fields()))
	for _, f := range first.Fields() {
		fields = append(fields, schema.NewField(f.Name, data.FromArrowType(f.Type)))
	}
	for _, r := range records {
		r.Retain()
	}
	return &ArrowSource{
		Label:      label,
		MicroBatch: DefaultMicroBatch,
		records:    records,
		schema:     schema.NewSchema(fields...),
	}, nil
}

func (self *ArrowSource) Release() {
	for _, r := range self.records {
		r.Release()
	}
	self.records = nil
}

func (self *ArrowSource) Schema() *schema.Schema { return self.schema }

func (self *ArrowSource) Scan(projection []int) (exec.ExecutionPlan, error) {
	return exec.NewScanExec(self.String(), self, self.schema, projection)
}

func (self *ArrowSource) String() string {
	return fmt.Sprintf("arrow(%s)", self.Label)
}

func (self *ArrowSource) OpenRows(_ context.Context, projection []int) (exec.RowReader, error) {
	cols, err := projectionColumns(self.schema, projection)
	if err != nil {
		return nil, err
	}
	return &arrowReader{src: self, cols: cols}, nil
}

type arrowReader struct {
	src  *ArrowSource
	cols []int
	rec  int
	row  int
}

func (self *arrowReader) Read(ctx context.Context) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for self.rec < len(self.src.records) && self.row >= int(self.src.records[self.rec].NumRows()) {
		self.rec++
		self.row = 0
	}
	if self.rec >= len(self.src.records) {
		return nil, io.EOF
	}
	r := self.src.records[self.rec]
	end := min(self.row+microBatch(self.src.MicroBatch), int(r.NumRows()))
	out := make([][]any, 0, end-self.row)
	for ; self.row < end; self.row++ {
		row := make([]any, len(self.cols))
		for idx, c := range self.cols {
			if v := data.ArrowValue(r.Column(c), self.row); v != nil {
				row[idx] = data.ToString(v)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (self *arrowReader) Close() error { return nil }
