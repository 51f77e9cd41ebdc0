package data

import (
	"fmt"
	"strings"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

// RecordBatch is a set of rows stored column by column. Arrays are in schema
// order and share one length.
//
// Filter, Slice and Reorder mutate the batch in place. A batch has a single
// owner at a time, an operator that mutates one it received owns it from
// that point on.
type RecordBatch struct {
	schema *schema.Schema
	arrays []RecordArray

	// only meaningful for a batch without columns
	rows int
}

// NewRecordBatch creates an empty batch with one empty array per field.
func NewRecordBatch(s *schema.Schema) *RecordBatch {
	arrays := make([]RecordArray, s.Len())
	for idx, f := range s.Fields() {
		arrays[idx] = NewArray(f.Type)
	}
	return &RecordBatch{schema: s, arrays: arrays}
}

// NewRecordBatchFromArrays wraps existing arrays. The arrays are not copied.
func NewRecordBatchFromArrays(s *schema.Schema, arrays []RecordArray) (*RecordBatch, error) {
	if len(arrays) != s.Len() {
		return nil, errs.SchemaShape("batch", "schema has %d fields but %d arrays are given", s.Len(), len(arrays))
	}
	for idx := 1; idx < len(arrays); idx++ {
		if arrays[idx].Len() != arrays[0].Len() {
			return nil, errs.SchemaShape("batch", "array %d has %d rows, expect %d", idx, arrays[idx].Len(), arrays[0].Len())
		}
	}
	return &RecordBatch{schema: s, arrays: arrays}, nil
}

// NewRecordBatchFromColumns builds a batch from explicit column values, one
// slice per field, each value converted by the permissive Add.
func NewRecordBatchFromColumns(s *schema.Schema, columns [][]any) (*RecordBatch, error) {
	if len(columns) != s.Len() {
		return nil, errs.SchemaShape("batch", "schema has %d fields but %d columns are given", s.Len(), len(columns))
	}
	arrays := make([]RecordArray, len(columns))
	for idx, col := range columns {
		arrays[idx] = NewArrayFrom(s.Field(idx).Type, col...)
	}
	return NewRecordBatchFromArrays(s, arrays)
}

// NewRowsBatch creates a batch without columns carrying rows rows.
func NewRowsBatch(rows int) *RecordBatch {
	return &RecordBatch{schema: schema.Empty(), rows: rows}
}

func (self *RecordBatch) Schema() *schema.Schema {
	return self.schema
}

func (self *RecordBatch) Arrays() []RecordArray {
	return self.arrays
}

func (self *RecordBatch) Column(idx int) RecordArray {
	return self.arrays[idx]
}

func (self *RecordBatch) NumColumns() int {
	return len(self.arrays)
}

// RowCount is the length of the first array, 0 without columns unless the
// batch was created by NewRowsBatch.
func (self *RecordBatch) RowCount() int {
	if len(self.arrays) == 0 {
		return self.rows
	}
	return self.arrays[0].Len()
}

// AddRow appends one row, one value per field.
func (self *RecordBatch) AddRow(values ...any) error {
	if len(values) != len(self.arrays) {
		return errs.SchemaShape("batch", "row has %d values, expect %d", len(values), len(self.arrays))
	}
	for idx, v := range values {
		self.arrays[idx].Add(v)
	}
	if len(self.arrays) == 0 {
		self.rows++
	}
	return nil
}

// Row returns the values of row idx.
func (self *RecordBatch) Row(idx int) []any {
	out := make([]any, len(self.arrays))
	for col, arr := range self.arrays {
		out[col] = arr.Get(idx)
	}
	return out
}

// Rows returns every row of the batch.
func (self *RecordBatch) Rows() [][]any {
	out := make([][]any, 0, self.RowCount())
	for idx := 0; idx < self.RowCount(); idx++ {
		out = append(out, self.Row(idx))
	}
	return out
}

// Concat appends the rows of other, whose field types must match.
func (self *RecordBatch) Concat(other *RecordBatch) error {
	if len(other.arrays) != len(self.arrays) {
		return errs.SchemaShape("batch", "cannot concat batch of %d columns into %d columns", len(other.arrays), len(self.arrays))
	}
	for idx, arr := range self.arrays {
		if err := arr.Concat(other.arrays[idx]); err != nil {
			return errs.SchemaShape("batch", "column %d: %s", idx, err)
		}
	}
	if len(self.arrays) == 0 {
		self.rows += other.rows
	}
	return nil
}

// Slice keeps rows [offset, offset+count).
func (self *RecordBatch) Slice(offset, count int) {
	for _, arr := range self.arrays {
		arr.Slice(offset, count)
	}
	if len(self.arrays) == 0 {
		self.rows = max(min(self.rows-offset, count), 0)
	}
}

// Filter removes every row whose mask bit is false. Removal walks from the
// highest index down so earlier removals never shift a pending index.
func (self *RecordBatch) Filter(mask []bool) {
	if len(self.arrays) == 0 {
		kept := 0
		for idx := 0; idx < self.rows && idx < len(mask); idx++ {
			if mask[idx] {
				kept++
			}
		}
		self.rows = kept
		return
	}
	for _, arr := range self.arrays {
		for idx := arr.Len() - 1; idx >= 0; idx-- {
			if idx >= len(mask) || !mask[idx] {
				arr.RemoveAt(idx)
			}
		}
	}
}

// Reorder applies perm to every column except the ones in exclude, which are
// already in the target order.
func (self *RecordBatch) Reorder(perm []int, exclude ...int) {
	for idx, arr := range self.arrays {
		skip := false
		for _, e := range exclude {
			if e == idx {
				skip = true
				break
			}
		}
		if !skip {
			arr.Reorder(perm)
		}
	}
}

// Take builds a new batch from rows at indices, -1 yields a null row.
func (self *RecordBatch) Take(indices []int) *RecordBatch {
	arrays := make([]RecordArray, len(self.arrays))
	for idx, arr := range self.arrays {
		arrays[idx] = arr.Take(indices)
	}
	return &RecordBatch{schema: self.schema, arrays: arrays, rows: len(indices)}
}

// WithSchema returns a batch sharing the arrays under another schema of the
// same shape.
func (self *RecordBatch) WithSchema(s *schema.Schema) (*RecordBatch, error) {
	if s.Len() != len(self.arrays) {
		return nil, errs.SchemaShape("batch", "schema has %d fields but batch has %d columns", s.Len(), len(self.arrays))
	}
	return &RecordBatch{schema: s, arrays: self.arrays, rows: self.rows}, nil
}

func (self *RecordBatch) String() string {
	b := &strings.Builder{}
	for idx, f := range self.schema.Fields() {
		if idx > 0 {
			b.WriteString("|")
		}
		b.WriteString(f.QualifiedName())
	}
	b.WriteString("\n")
	for row := 0; row < self.RowCount(); row++ {
		for col, arr := range self.arrays {
			if col > 0 {
				b.WriteString("|")
			}
			b.WriteString(FormatValue(arr.DataType(), arr.Get(row)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (self *RecordBatch) GoString() string {
	return fmt.Sprintf("RecordBatch(%d cols, %d rows)", len(self.arrays), self.RowCount())
}
