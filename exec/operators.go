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

// ----------------------------------------------------------------------------
// Filter
// ----------------------------------------------------------------------------

// FilterExec drops the rows its predicate does not select. Batches are
// narrowed in place and forwarded.
type FilterExec struct {
	Input     ExecutionPlan
	Predicate Expr
}

func NewFilterExec(input ExecutionPlan, predicate Expr) (*FilterExec, error) {
	ty := predicate.DataType()
	if ty != schema.TypeBoolean && ty != schema.TypeNull {
		return nil, errs.InvalidPlan("physical", "filter predicate %s must be Boolean, got %s", predicate, ty)
	}
	return &FilterExec{Input: input, Predicate: predicate}, nil
}

func (self *FilterExec) Type() int                 { return PlanFilter }
func (self *FilterExec) Schema() *schema.Schema    { return self.Input.Schema() }
func (self *FilterExec) Children() []ExecutionPlan { return []ExecutionPlan{self.Input} }
func (self *FilterExec) String() string            { return "FilterExec: " + self.Predicate.String() }

func (self *FilterExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	input, err := self.Input.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, opts, "FilterExec", self.Schema(), func() (*data.RecordBatch, error) {
		for {
			b, err := input.Next()
			if err != nil {
				return nil, err
			}
			mask, err := Mask(self.Predicate, b)
			if err != nil {
				return nil, err
			}
			b.Filter(mask)
			if b.RowCount() > 0 {
				return b, nil
			}
		}
	}, input), nil
}

// ----------------------------------------------------------------------------
// Projection
// ----------------------------------------------------------------------------

type ProjectionExec struct {
	Input  ExecutionPlan
	Exprs  []Expr
	Names  []string
	schema *schema.Schema
}

// NewProjectionExec evaluates exprs, fields are the output fields in the
// same order and carry the expressions' types.
func NewProjectionExec(input ExecutionPlan, exprs []Expr, fields []schema.Field) (*ProjectionExec, error) {
	if len(exprs) != len(fields) {
		return nil, errs.InvalidPlan("physical", "projection has %d expressions but %d fields", len(exprs), len(fields))
	}
	names := make([]string, 0, len(fields))
	out := make([]schema.Field, 0, len(fields))
	for idx, f := range fields {
		f.Type = exprs[idx].DataType()
		out = append(out, f)
		names = append(names, f.Name)
	}
	return &ProjectionExec{Input: input, Exprs: exprs, Names: names, schema: schema.NewSchema(out...)}, nil
}

func (self *ProjectionExec) Type() int                 { return PlanProjection }
func (self *ProjectionExec) Schema() *schema.Schema    { return self.schema }
func (self *ProjectionExec) Children() []ExecutionPlan { return []ExecutionPlan{self.Input} }

func (self *ProjectionExec) String() string {
	s := []string{}
	for idx, e := range self.Exprs {
		if c, ok := e.(*Column); ok && c.Name == self.Names[idx] {
			s = append(s, e.String())
		} else {
			s = append(s, e.String()+" AS "+self.Names[idx])
		}
	}
	return "ProjectionExec: " + strings.Join(s, ", ")
}

func (self *ProjectionExec) project(b *data.RecordBatch) (*data.RecordBatch, error) {
	arrays := make([]data.RecordArray, len(self.Exprs))
	used := map[data.RecordArray]bool{}
	for idx, e := range self.Exprs {
		v, err := e.Evaluate(b)
		if err != nil {
			return nil, err
		}
		arr := data.ToArray(v)

		// an array shared by two output columns would be mutated twice by a
		// later in-place operator
		if used[arr] {
			arr = arr.Take(identity(arr.Len()))
		}
		used[arr] = true
		arrays[idx] = arr
	}
	if len(arrays) == 0 {
		return data.NewRowsBatch(b.RowCount()), nil
	}
	return data.NewRecordBatchFromArrays(self.schema, arrays)
}

func (self *ProjectionExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	input, err := self.Input.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, opts, "ProjectionExec", self.schema, func() (*data.RecordBatch, error) {
		b, err := input.Next()
		if err != nil {
			return nil, err
		}
		return self.project(b)
	}, input), nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// ----------------------------------------------------------------------------
// Limit
// ----------------------------------------------------------------------------

// LimitExec skips Skip rows then passes at most Fetch rows, a negative Fetch
// is unbounded. It stops pulling its input once Fetch rows were emitted.
type LimitExec struct {
	Input ExecutionPlan
	Skip  int
	Fetch int
}

func NewLimitExec(input ExecutionPlan, skip, fetch int) *LimitExec {
	return &LimitExec{Input: input, Skip: skip, Fetch: fetch}
}

func (self *LimitExec) Type() int                 { return PlanLimit }
func (self *LimitExec) Schema() *schema.Schema    { return self.Input.Schema() }
func (self *LimitExec) Children() []ExecutionPlan { return []ExecutionPlan{self.Input} }

func (self *LimitExec) String() string {
	if self.Fetch < 0 {
		return fmt.Sprintf("LimitExec: skip=%d, fetch=None", self.Skip)
	}
	return fmt.Sprintf("LimitExec: skip=%d, fetch=%d", self.Skip, self.Fetch)
}

func (self *LimitExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	input, err := self.Input.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	skip, fetch := self.Skip, self.Fetch
	return newStream(ctx, opts, "LimitExec", self.Schema(), func() (*data.RecordBatch, error) {
		for {
			if fetch == 0 {
				// no further pull; Close finishes the upstream stream
				return nil, io.EOF
			}
			b, err := input.Next()
			if err != nil {
				return nil, err
			}
			rows := b.RowCount()
			if rows <= skip {
				skip -= rows
				continue
			}
			count := rows - skip
			if fetch >= 0 {
				count = min(count, fetch)
				fetch -= count
			}
			b.Slice(skip, count)
			skip = 0
			return b, nil
		}
	}, input), nil
}

// ----------------------------------------------------------------------------
// Sort
// ----------------------------------------------------------------------------

type SortExpr struct {
	Expr Expr
	Asc  bool
}

func (self *SortExpr) String() string {
	if self.Asc {
		return self.Expr.String() + " ASC"
	}
	return self.Expr.String() + " DESC"
}

// SortExec collects its whole input into one batch and sorts it. Nulls come
// first ascending and last descending.
type SortExec struct {
	Input ExecutionPlan
	Exprs []*SortExpr
}

func NewSortExec(input ExecutionPlan, exprs []*SortExpr) *SortExec {
	return &SortExec{Input: input, Exprs: exprs}
}

func (self *SortExec) Type() int                 { return PlanSort }
func (self *SortExec) Schema() *schema.Schema    { return self.Input.Schema() }
func (self *SortExec) Children() []ExecutionPlan { return []ExecutionPlan{self.Input} }

func (self *SortExec) String() string {
	s := []string{}
	for _, e := range self.Exprs {
		s = append(s, e.String())
	}
	return "SortExec: " + strings.Join(s, ", ")
}

func (self *SortExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	input, err := self.Input.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	done := false
	return newStream(ctx, opts, "SortExec", self.Schema(), func() (*data.RecordBatch, error) {
		if done {
			return nil, io.EOF
		}
		done = true
		all, err := collectBatch(input, self.Schema())
		if err != nil {
			return nil, err
		}
		if all.RowCount() == 0 {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, errs.Cancelled("SortExec", err)
		}
		perm, err := SortPermutation(all, self.Exprs)
		if err != nil {
			return nil, err
		}
		all.Reorder(perm)
		return all, nil
	}, input), nil
}

// SortPermutation orders the rows of b by exprs. The first key is sorted
// over the whole batch, every further key only within the runs of rows that
// are equal on all previous keys, each pass a stable single column sort.
func SortPermutation(b *data.RecordBatch, exprs []*SortExpr) ([]int, error) {
	n := b.RowCount()
	keys := make([]data.RecordArray, 0, len(exprs))
	for _, e := range exprs {
		v, err := e.Expr.Evaluate(b)
		if err != nil {
			return nil, err
		}
		// copy, keys are reordered as passes go
		keys = append(keys, data.ToArray(v).Take(identity(n)))
	}

	perm := identity(n)
	apply := func(p []int) {
		next := make([]int, n)
		for i, x := range p {
			next[i] = perm[x]
		}
		perm = next
		for _, k := range keys {
			k.Reorder(p)
		}
	}

	for k, e := range exprs {
		if k == 0 {
			apply(keys[0].SortIndices(!e.Asc, 0, n))
			continue
		}
		p := identity(n)
		changed := false
		for start := 0; start < n; {
			end := start + 1
			for end < n && sameKeys(keys[:k], start, end) {
				end++
			}
			if end-start > 1 {
				copy(p[start:end], keys[k].SortIndices(!e.Asc, start, end-start))
				changed = true
			}
			start = end
		}
		if changed {
			apply(p)
		}
	}
	return perm, nil
}

func sameKeys(keys []data.RecordArray, a, b int) bool {
	for _, k := range keys {
		if data.KeyString(k.Get(a)) != data.KeyString(k.Get(b)) {
			return false
		}
	}
	return true
}
