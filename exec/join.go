package exec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// Joins collect the left input (build side) completely, then stream the
// right input (probe side) batch by batch. Per probe batch the matcher lists
// candidate (build, probe) row pairs, the residual filter narrows them and
// the join type decides which rows are emitted. Build rows that depend on
// every probe batch (left unmatched, semi and anti) are emitted once the
// probe side is exhausted.
//
// A row index of -1 stands for a missing row and yields nulls.

type JoinSide int

const (
	JoinSideLeft JoinSide = iota
	JoinSideRight
)

func (self JoinSide) String() string {
	if self == JoinSideLeft {
		return "left"
	}
	return "right"
}

// ColumnIndex locates an output column in one of the join inputs.
type ColumnIndex struct {
	Index int
	Side  JoinSide
}

// JoinFilter is a residual predicate evaluated against an intermediate batch
// made only of Columns, the columns the predicate reads.
type JoinFilter struct {
	Expr    Expr
	Columns []ColumnIndex
	Schema  *schema.Schema
}

func (self *JoinFilter) String() string {
	return self.Expr.String()
}

// OutputColumns lists the join output columns, left columns first. Every join
// type carries both sides; semi and anti joins emit one side and Materialize
// fills the other with nulls.
func OutputColumns(left, right *schema.Schema) []ColumnIndex {
	out := make([]ColumnIndex, 0, left.Len()+right.Len())
	for i := 0; i < left.Len(); i++ {
		out = append(out, ColumnIndex{Index: i, Side: JoinSideLeft})
	}
	for i := 0; i < right.Len(); i++ {
		out = append(out, ColumnIndex{Index: i, Side: JoinSideRight})
	}
	return out
}

func columnsSchema(left, right *schema.Schema, cols []ColumnIndex) *schema.Schema {
	fields := make([]schema.Field, 0, len(cols))
	for _, c := range cols {
		if c.Side == JoinSideLeft {
			fields = append(fields, left.Field(c.Index))
		} else {
			fields = append(fields, right.Field(c.Index))
		}
	}
	return schema.NewSchema(fields...)
}

// matcher lists the candidate pairs of one probe batch against the build
// batch, ordered by probe row.
type matcher func(build, probe *data.RecordBatch) (buildIdx, probeIdx []int, err error)

// joinCore holds what both join operators share.
type joinCore struct {
	Left     ExecutionPlan
	Right    ExecutionPlan
	JoinType plan.JoinType
	Filter   *JoinFilter
	Columns  []ColumnIndex
	schema   *schema.Schema
}

func newJoinCore(left, right ExecutionPlan, ty plan.JoinType, filter *JoinFilter) joinCore {
	cols := OutputColumns(left.Schema(), right.Schema())
	return joinCore{
		Left:     left,
		Right:    right,
		JoinType: ty,
		Filter:   filter,
		Columns:  cols,
		schema:   columnsSchema(left.Schema(), right.Schema(), cols),
	}
}

func (self *joinCore) Schema() *schema.Schema    { return self.schema }
func (self *joinCore) Children() []ExecutionPlan { return []ExecutionPlan{self.Left, self.Right} }

// Materialize builds a batch of cols from index pairs. A column whose side
// has no rows is filled with nulls.
func Materialize(
	s *schema.Schema,
	cols []ColumnIndex,
	build, probe *data.RecordBatch,
	buildIdx, probeIdx []int,
) (*data.RecordBatch, error) {
	if len(cols) == 0 {
		return data.NewRowsBatch(len(buildIdx)), nil
	}
	arrays := make([]data.RecordArray, len(cols))
	for idx, c := range cols {
		src, indices := probe, probeIdx
		if c.Side == JoinSideLeft {
			src, indices = build, buildIdx
		}
		if src == nil || src.RowCount() == 0 || allNull(indices) {
			arr := data.NewArray(s.Field(idx).Type)
			arr.FillNull(len(indices))
			arrays[idx] = arr
			continue
		}
		arrays[idx] = src.Column(c.Index).Take(indices)
	}
	return data.NewRecordBatchFromArrays(s, arrays)
}

func allNull(indices []int) bool {
	for _, i := range indices {
		if i >= 0 {
			return false
		}
	}
	return true
}

// applyFilter keeps the pairs the residual filter selects.
func (self *joinCore) applyFilter(build, probe *data.RecordBatch, buildIdx, probeIdx []int) ([]int, []int, error) {
	if self.Filter == nil || len(buildIdx) == 0 {
		return buildIdx, probeIdx, nil
	}
	tmp, err := Materialize(self.Filter.Schema, self.Filter.Columns, build, probe, buildIdx, probeIdx)
	if err != nil {
		return nil, nil, err
	}
	mask, err := Mask(self.Filter.Expr, tmp)
	if err != nil {
		return nil, nil, err
	}
	bo, po := buildIdx[:0:0], probeIdx[:0:0]
	for i, ok := range mask {
		if ok {
			bo = append(bo, buildIdx[i])
			po = append(po, probeIdx[i])
		}
	}
	return bo, po, nil
}

// adjustProbe turns the filtered pairs of one probe batch into the pairs to
// emit now. visited records the build rows that matched so far.
func (self *joinCore) adjustProbe(buildIdx, probeIdx []int, probeRows int, visited []bool) ([]int, []int) {
	for _, b := range buildIdx {
		visited[b] = true
	}

	switch self.JoinType {
	case plan.JoinInner, plan.JoinLeft:
		return buildIdx, probeIdx

	case plan.JoinLeftSemi, plan.JoinLeftAnti:
		return nil, nil

	case plan.JoinRight, plan.JoinFull:
		matched := make([]bool, probeRows)
		for _, p := range probeIdx {
			matched[p] = true
		}
		for p := 0; p < probeRows; p++ {
			if !matched[p] {
				buildIdx = append(buildIdx, -1)
				probeIdx = append(probeIdx, p)
			}
		}
		return buildIdx, probeIdx

	case plan.JoinRightSemi, plan.JoinRightAnti:
		matched := make([]bool, probeRows)
		for _, p := range probeIdx {
			matched[p] = true
		}
		out := []int{}
		for p := 0; p < probeRows; p++ {
			if matched[p] == (self.JoinType == plan.JoinRightSemi) {
				out = append(out, p)
			}
		}
		return fill(len(out), -1), out
	}
	return buildIdx, probeIdx
}

// adjustFinal lists the build rows to emit after the probe side ended.
func (self *joinCore) adjustFinal(visited []bool) []int {
	out := []int{}
	switch self.JoinType {
	case plan.JoinLeft, plan.JoinFull, plan.JoinLeftAnti:
		for b, v := range visited {
			if !v {
				out = append(out, b)
			}
		}
	case plan.JoinLeftSemi:
		for b, v := range visited {
			if v {
				out = append(out, b)
			}
		}
	}
	return out
}

func (self *joinCore) execute(ctx context.Context, opts Options, node string, match matcher) (RecordBatchStream, error) {
	left, err := self.Left.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	right, err := self.Right.Execute(ctx, opts)
	if err != nil {
		left.Close()
		return nil, err
	}

	var build *data.RecordBatch
	var visited []bool
	finished := false

	return newStream(ctx, opts, node, self.schema, func() (*data.RecordBatch, error) {
		if build == nil {
			b, err := collectBatch(left, self.Left.Schema())
			if err != nil {
				return nil, err
			}
			build = b
			visited = make([]bool, b.RowCount())
		}
		for {
			probe, err := right.Next()
			if err == io.EOF {
				if finished {
					return nil, io.EOF
				}
				finished = true
				rows := self.adjustFinal(visited)
				if len(rows) == 0 {
					return nil, io.EOF
				}
				empty := data.NewRecordBatch(self.Right.Schema())
				return Materialize(self.schema, self.Columns, build, empty, rows, fill(len(rows), -1))
			}
			if err != nil {
				return nil, err
			}

			bi, pi, err := match(build, probe)
			if err != nil {
				return nil, err
			}
			bi, pi, err = self.applyFilter(build, probe, bi, pi)
			if err != nil {
				return nil, err
			}
			bi, pi = self.adjustProbe(bi, pi, probe.RowCount(), visited)
			if len(pi) == 0 {
				continue
			}
			return Materialize(self.schema, self.Columns, build, probe, bi, pi)
		}
	}, left, right), nil
}

func fill(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (self *joinCore) describe(name string, on string) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s: mode=%s", name, self.JoinType)
	if on != "" {
		fmt.Fprintf(&b, ", on=[%s]", on)
	}
	if self.Filter != nil {
		fmt.Fprintf(&b, ", filter=%s", self.Filter)
	}
	return b.String()
}

// ----------------------------------------------------------------------------
// Hash join
// ----------------------------------------------------------------------------

// JoinKey is one equality condition. Both sides are compared after
// conversion to Type.
type JoinKey struct {
	Left  Expr
	Right Expr
	Type  schema.DataType
}

// HashJoinExec matches rows through a hash table over the build side keys.
// A null key never matches.
type HashJoinExec struct {
	joinCore
	On []JoinKey
}

func NewHashJoinExec(left, right ExecutionPlan, on []JoinKey, filter *JoinFilter, ty plan.JoinType) (*HashJoinExec, error) {
	if len(on) == 0 {
		return nil, errs.InvalidPlan("physical", "hash join without keys")
	}
	return &HashJoinExec{joinCore: newJoinCore(left, right, ty, filter), On: on}, nil
}

func (self *HashJoinExec) Type() int { return PlanHashJoin }

func (self *HashJoinExec) String() string {
	on := []string{}
	for _, k := range self.On {
		on = append(on, fmt.Sprintf("(%s, %s)", k.Left, k.Right))
	}
	return self.describe("HashJoinExec", strings.Join(on, ", "))
}

// keysOf encodes the join key of every row, ok is false for a row with a
// null or unconvertible key.
func (self *HashJoinExec) keysOf(b *data.RecordBatch, left bool) ([]string, []bool, error) {
	n := b.RowCount()
	keys := make([]string, n)
	ok := make([]bool, n)
	for i := range ok {
		ok[i] = true
	}
	sb := strings.Builder{}
	cols := make([]data.ColumnValue, 0, len(self.On))
	for _, k := range self.On {
		e := k.Right
		if left {
			e = k.Left
		}
		v, err := e.Evaluate(b)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, v)
	}
	for row := 0; row < n; row++ {
		sb.Reset()
		for i, c := range cols {
			v, good := data.Convert(self.On[i].Type, c.Get(row))
			if !good {
				ok[row] = false
				break
			}
			sb.WriteString(data.KeyString(v))
			sb.WriteByte(0)
		}
		keys[row] = sb.String()
	}
	return keys, ok, nil
}

func (self *HashJoinExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	var table map[string][]int
	return self.execute(ctx, opts, "HashJoinExec", func(build, probe *data.RecordBatch) ([]int, []int, error) {
		if table == nil {
			keys, ok, err := self.keysOf(build, true)
			if err != nil {
				return nil, nil, err
			}
			table = map[string][]int{}
			for row, k := range keys {
				if ok[row] {
					table[k] = append(table[k], row)
				}
			}
		}
		keys, ok, err := self.keysOf(probe, false)
		if err != nil {
			return nil, nil, err
		}
		bi, pi := []int{}, []int{}
		for row, k := range keys {
			if !ok[row] {
				continue
			}
			for _, b := range table[k] {
				bi = append(bi, b)
				pi = append(pi, row)
			}
		}
		return bi, pi, nil
	})
}

// ----------------------------------------------------------------------------
// Nested loop join
// ----------------------------------------------------------------------------

// NestedLoopJoinExec pairs every probe row with every build row and leaves
// the selection to the filter. Without a filter it is a cross join.
type NestedLoopJoinExec struct {
	joinCore
}

func NewNestedLoopJoinExec(left, right ExecutionPlan, filter *JoinFilter, ty plan.JoinType) *NestedLoopJoinExec {
	return &NestedLoopJoinExec{joinCore: newJoinCore(left, right, ty, filter)}
}

func (self *NestedLoopJoinExec) Type() int { return PlanNestedLoopJoin }

func (self *NestedLoopJoinExec) String() string {
	return self.describe("NestedLoopJoinExec", "")
}

func (self *NestedLoopJoinExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	return self.execute(ctx, opts, "NestedLoopJoinExec", func(build, probe *data.RecordBatch) ([]int, []int, error) {
		n, m := build.RowCount(), probe.RowCount()
		bi := make([]int, 0, n*m)
		pi := make([]int, 0, n*m)
		for p := 0; p < m; p++ {
			for b := 0; b < n; b++ {
				bi = append(bi, b)
				pi = append(pi, p)
			}
		}
		return bi, pi, nil
	})
}
