package exec

import (
	"context"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/colsql/accum"
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource serves rows in micro batches of size micro.
type memSource struct {
	rows   [][]any
	micro  int
	reads  int
	closed int
}

type memReader struct {
	src        *memSource
	rows       [][]any
	projection []int
	micro      int
	pos        int
}

func (self *memSource) OpenRows(ctx context.Context, projection []int) (RowReader, error) {
	return &memReader{src: self, rows: self.rows, projection: projection, micro: self.micro}, nil
}

func (self *memReader) Read(ctx context.Context) ([][]any, error) {
	if self.pos >= len(self.rows) {
		return nil, io.EOF
	}
	end := min(self.pos+self.micro, len(self.rows))
	out := [][]any{}
	for _, r := range self.rows[self.pos:end] {
		if self.projection == nil {
			out = append(out, r)
			continue
		}
		p := make([]any, 0, len(self.projection))
		for _, i := range self.projection {
			p = append(p, r[i])
		}
		out = append(out, p)
	}
	self.pos = end
	self.src.reads++
	return out, nil
}

func (self *memReader) Close() error {
	self.src.closed++
	return nil
}

func newScan(t *testing.T, s *schema.Schema, micro int, rows ...[]any) ExecutionPlan {
	p, err := NewScanExec("mem", &memSource{rows: rows, micro: micro}, s, nil)
	require.Nil(t, err)
	return p
}

func collectRows(t *testing.T, p ExecutionPlan) [][]any {
	batches, err := Collect(context.Background(), p, DefaultOptions())
	require.Nil(t, err)
	out := [][]any{}
	for _, b := range batches {
		out = append(out, b.Rows()...)
	}
	return out
}

func col(s *schema.Schema, idx int) *Column {
	c, err := NewColumn(s, idx)
	if err != nil {
		panic(err)
	}
	return c
}

func bin(t *testing.T, l Expr, op plan.Operator, r Expr) Expr {
	b, err := NewBinary(l, op, r)
	require.Nil(t, err)
	return b
}

func lit(ty schema.DataType, v any) *Literal {
	return NewLiteral(data.NewScalar(ty, v))
}

var abSchema = schema.NewSchema(
	schema.NewField("a", schema.TypeInteger),
	schema.NewField("b", schema.TypeInteger),
)

func TestScan(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("b", schema.TypeUtf8),
		schema.NewField("c", schema.TypeDouble),
	)
	src := &memSource{micro: 2, rows: [][]any{
		{"1", "x", "1.5"},
		{"oops", nil, "2"},
		{"3", "z", nil},
	}}

	p, err := NewScanExec("mem", src, s, []int{2, 0})
	assert.Nil(err)
	assert.Equal("ScanExec: mem projection=[c, a]", Describe(p))

	batches, err := Collect(context.Background(), p, DefaultOptions())
	assert.Nil(err)
	assert.Len(batches, 2)
	assert.Equal(2, batches[0].RowCount())
	assert.Equal([]any{1.5, int64(1)}, batches[0].Row(0))
	assert.Equal([]any{float64(2), nil}, batches[0].Row(1))
	assert.Equal([]any{nil, int64(3)}, batches[1].Row(0))

	empty := NewEmptyExec(true)
	batches, err = Collect(context.Background(), empty, DefaultOptions())
	assert.Nil(err)
	assert.Len(batches, 1)
	assert.Equal(1, batches[0].RowCount())

	batches, err = Collect(context.Background(), NewEmptyExec(false), DefaultOptions())
	assert.Nil(err)
	assert.Len(batches, 0)
}

func TestFilter(t *testing.T) {
	assert := assert.New(t)

	scan := newScan(t, abSchema, 10, []any{"1", "10"}, []any{"2", "20"}, []any{"3", nil})

	// a != 2, mask [T, F, T]
	f, err := NewFilterExec(scan, bin(t, col(abSchema, 0), plan.OpNotEq, lit(schema.TypeInteger, 2)))
	assert.Nil(err)
	assert.Equal([][]any{{int64(1), int64(10)}, {int64(3), nil}}, collectRows(t, f))

	// a null predicate value drops the row
	f, err = NewFilterExec(scan, bin(t, col(abSchema, 1), plan.OpGt, lit(schema.TypeInteger, 5)))
	assert.Nil(err)
	assert.Equal([][]any{{int64(1), int64(10)}, {int64(2), int64(20)}}, collectRows(t, f))

	_, err = NewFilterExec(scan, col(abSchema, 0))
	assert.True(errors.Is(err, errs.ErrInvalidPlan))
}

func TestProjection(t *testing.T) {
	assert := assert.New(t)

	scan := newScan(t, abSchema, 10, []any{"1", "10"}, []any{"2", "0"})

	p, err := NewProjectionExec(
		scan,
		[]Expr{
			col(abSchema, 0),
			col(abSchema, 0),
			bin(t, col(abSchema, 1), plan.OpDivide, col(abSchema, 0)),
			bin(t, col(abSchema, 0), plan.OpDivide, col(abSchema, 1)),
			lit(schema.TypeUtf8, "k"),
		},
		[]schema.Field{
			schema.NewField("a", schema.TypeNull),
			schema.NewField("a2", schema.TypeNull),
			schema.NewField("q", schema.TypeNull),
			schema.NewField("r", schema.TypeNull),
			schema.NewField("k", schema.TypeNull),
		},
	)
	assert.Nil(err)
	assert.Equal(schema.TypeInteger, p.Schema().Field(2).Type)
	assert.Equal("ProjectionExec: a@0, a@0 AS a2, b@1 / a@0 AS q, a@0 / b@1 AS r, 'k' AS k", Describe(p))

	// division by zero yields null
	assert.Equal([][]any{
		{int64(1), int64(1), int64(10), int64(0), "k"},
		{int64(2), int64(2), int64(0), nil, "k"},
	}, collectRows(t, p))

	// a column projected twice is not mutated twice by a later filter
	f, err := NewFilterExec(p, bin(t, NewColumnTyped("a", 0, schema.TypeInteger), plan.OpEq, lit(schema.TypeInteger, 2)))
	assert.Nil(err)
	assert.Equal([][]any{{int64(2), int64(2), int64(0), nil, "k"}}, collectRows(t, f))
}

func TestBinaryEval(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(
		schema.NewField("x", schema.TypeBoolean),
		schema.NewField("y", schema.TypeBoolean),
		schema.NewField("s", schema.TypeUtf8),
	)
	b, err := data.NewRecordBatchFromColumns(s, [][]any{
		{true, false, nil, nil, true},
		{nil, nil, true, false, true},
		{"apple", "banana", "50%", nil, "a_c"},
	})
	assert.Nil(err)

	eval := func(e Expr) []any {
		v, err := e.Evaluate(b)
		require.Nil(t, err)
		out := []any{}
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.Get(i))
		}
		return out
	}

	assert.Equal([]any{nil, false, nil, false, true}, eval(bin(t, col(s, 0), plan.OpAnd, col(s, 1))))
	assert.Equal([]any{true, nil, true, nil, true}, eval(bin(t, col(s, 0), plan.OpOr, col(s, 1))))
	assert.Equal([]any{true, false, false, nil, true}, eval(bin(t, col(s, 2), plan.OpLike, lit(schema.TypeUtf8, "a%"))))
	assert.Equal([]any{false, true, true, nil, false}, eval(bin(t, col(s, 2), plan.OpNotLike, lit(schema.TypeUtf8, "a%"))))
	assert.Equal([]any{false, false, true, nil, false}, eval(bin(t, col(s, 2), plan.OpLike, lit(schema.TypeUtf8, "%%[%]"))))
	assert.Equal([]any{false, false, false, nil, true}, eval(bin(t, col(s, 2), plan.OpLike, lit(schema.TypeUtf8, "a_c"))))

	// mixed numeric comparison and arithmetic
	n := bin(t, lit(schema.TypeInteger, 3), plan.OpMultiply, lit(schema.TypeDouble, 1.5))
	assert.Equal(schema.TypeDouble, n.DataType())
	assert.Equal([]any{4.5, 4.5, 4.5, 4.5, 4.5}, eval(n))
	assert.Equal([]any{true, true, true, true, true}, eval(bin(t, lit(schema.TypeInteger, 3), plan.OpLt, lit(schema.TypeDouble, 3.5))))

	_, err = NewBinary(col(s, 0), plan.OpPlus, lit(schema.TypeInteger, 1))
	assert.True(errors.Is(err, errs.ErrTypeMismatch))
}

func TestLimit(t *testing.T) {
	assert := assert.New(t)

	rows := [][]any{}
	for i := 0; i < 20; i++ {
		rows = append(rows, []any{i, i})
	}

	for _, micro := range []int{20, 3, 1} {
		scan := newScan(t, abSchema, micro, rows...)
		out := collectRows(t, NewLimitExec(scan, 5, 10))
		assert.Len(out, 10)
		for i, r := range out {
			assert.Equal(int64(i+5), r[0])
		}
	}

	scan := newScan(t, abSchema, 4, rows...)
	assert.Len(collectRows(t, NewLimitExec(scan, 18, -1)), 2)
	assert.Len(collectRows(t, NewLimitExec(scan, 0, 0)), 0)
	assert.Len(collectRows(t, NewLimitExec(scan, 25, 3)), 0)
	assert.Equal("LimitExec: skip=18, fetch=None", Describe(NewLimitExec(scan, 18, -1)))
}

func TestLimitClosesInput(t *testing.T) {
	assert := assert.New(t)

	rows := [][]any{}
	for i := 0; i < 20; i++ {
		rows = append(rows, []any{i, i})
	}
	src := &memSource{rows: rows, micro: 3}
	scan, err := NewScanExec("mem", src, abSchema, nil)
	require.Nil(t, err)

	stream, err := NewLimitExec(scan, 0, 4).Execute(context.Background(), DefaultOptions())
	require.Nil(t, err)
	n := 0
	for {
		b, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.Nil(t, err)
		n += b.RowCount()
	}
	assert.Equal(4, n)

	// the input is left unread past the limit, Close still reaches it
	assert.Equal(2, src.reads)
	assert.Equal(0, src.closed)
	assert.Nil(stream.Close())
	assert.Equal(1, src.closed)
}

func TestSort(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(schema.NewField("v", schema.TypeUtf8))
	scan := newScan(t, s, 2, []any{"c"}, []any{"b"}, []any{"d"}, []any{"e"}, []any{"a"})

	asc := collectRows(t, NewSortExec(scan, []*SortExpr{{Expr: col(s, 0), Asc: true}}))
	assert.Equal([][]any{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}, asc)

	desc := collectRows(t, NewSortExec(scan, []*SortExpr{{Expr: col(s, 0), Asc: false}}))
	assert.Equal([][]any{{"e"}, {"d"}, {"c"}, {"b"}, {"a"}}, desc)

	// composite key, nulls first ascending
	scan = newScan(t, abSchema, 2,
		[]any{"2", "1"},
		[]any{"1", "5"},
		[]any{nil, "7"},
		[]any{"2", "3"},
		[]any{"1", "4"},
	)
	p := NewSortExec(scan, []*SortExpr{{Expr: col(abSchema, 0), Asc: true}, {Expr: col(abSchema, 1), Asc: false}})
	assert.Equal("SortExec: a@0 ASC, b@1 DESC", Describe(p))
	assert.Equal([][]any{
		{nil, int64(7)},
		{int64(1), int64(5)},
		{int64(1), int64(4)},
		{int64(2), int64(3)},
		{int64(2), int64(1)},
	}, collectRows(t, p))
}

func TestSortPermutation(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(schema.NewField("v", schema.TypeUtf8))
	b, err := data.NewRecordBatchFromColumns(s, [][]any{{"c", "b", "d", "e", "a"}})
	assert.Nil(err)

	perm, err := SortPermutation(b, []*SortExpr{{Expr: col(s, 0), Asc: true}})
	assert.Nil(err)
	assert.Equal([]int{4, 1, 0, 2, 3}, perm)

	perm, err = SortPermutation(b, []*SortExpr{{Expr: col(s, 0), Asc: false}})
	assert.Nil(err)
	assert.Equal([]int{3, 2, 0, 1, 4}, perm)
}

func sumPlan(t *testing.T, input ExecutionPlan) ExecutionPlan {
	partial, err := NewAggregateExec(
		AggregatePartial,
		input,
		[]Expr{col(abSchema, 0)},
		[]schema.Field{abSchema.Field(0)},
		[]*AggregateExpr{{
			Kind:     accum.AggSum,
			Name:     "sum(b)",
			Args:     []Expr{col(abSchema, 1)},
			ArgTypes: []schema.DataType{schema.TypeInteger},
		}},
	)
	require.Nil(t, err)
	require.Equal(t, "a|sum(b)[sum]", fieldNames(partial.Schema()))

	final, err := NewAggregateExec(
		AggregateFinal,
		partial,
		[]Expr{col(partial.Schema(), 0)},
		[]schema.Field{abSchema.Field(0)},
		[]*AggregateExpr{{
			Kind:     accum.AggSum,
			Name:     "sum(b)",
			Args:     []Expr{col(partial.Schema(), 1)},
			ArgTypes: []schema.DataType{schema.TypeInteger},
		}},
	)
	require.Nil(t, err)
	return final
}

func fieldNames(s *schema.Schema) string {
	out := ""
	for idx, f := range s.Fields() {
		if idx > 0 {
			out += "|"
		}
		out += f.Name
	}
	return out
}

func TestGroupedAggregate(t *testing.T) {
	assert := assert.New(t)

	scan := newScan(t, abSchema, 2, []any{"1", "10"}, []any{"1", "20"}, []any{"2", "5"})
	p := sumPlan(t, scan)
	assert.Equal("a|sum(b)", fieldNames(p.Schema()))
	assert.Equal(
		"AggregateExec: mode=Final, gby=[a@0], aggr=[sum(sum(b)[sum]@1)]\n"+
			"  AggregateExec: mode=Partial, gby=[a@0], aggr=[sum(b@1)]\n"+
			"    ScanExec: mem\n",
		Display(p),
	)
	assert.ElementsMatch([][]any{{int64(1), int64(30)}, {int64(2), int64(5)}}, collectRows(t, p))

	// a tiny batch size splits the output
	batches, err := Collect(context.Background(), p, Options{BatchSize: 1})
	assert.Nil(err)
	assert.Len(batches, 2)

	// no input, no group
	assert.Len(collectRows(t, sumPlan(t, newScan(t, abSchema, 2))), 0)
}

func TestUngroupedAggregate(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(schema.NewField("v", schema.TypeInteger))
	aggs := func() []*AggregateExpr {
		return []*AggregateExpr{
			{Kind: accum.AggCount, Name: "count(*)", Args: []Expr{lit(schema.TypeInteger, 1)}, ArgTypes: []schema.DataType{schema.TypeInteger}},
			{Kind: accum.AggVariancePop, Name: "var_pop(v)", Args: []Expr{col(s, 0)}, ArgTypes: []schema.DataType{schema.TypeInteger}},
			{Kind: accum.AggVariance, Name: "var(v)", Args: []Expr{col(s, 0)}, ArgTypes: []schema.DataType{schema.TypeInteger}},
			{
				Kind:     accum.AggCount,
				Name:     "count(v) FILTER",
				Args:     []Expr{col(s, 0)},
				ArgTypes: []schema.DataType{schema.TypeInteger},
				Filter:   bin(t, col(s, 0), plan.OpGt, lit(schema.TypeInteger, 3)),
			},
		}
	}

	build := func(input ExecutionPlan) ExecutionPlan {
		partial, err := NewAggregateExec(AggregatePartial, input, nil, nil, aggs())
		require.Nil(t, err)
		assert.Equal(1+3+3+1, partial.Schema().Len())

		final := aggs()
		pos := 0
		for _, a := range final {
			fields, err := a.StateFields()
			require.Nil(t, err)
			a.Args = nil
			a.Filter = nil
			for range fields {
				a.Args = append(a.Args, col(partial.Schema(), pos))
				pos++
			}
		}
		p, err := NewAggregateExec(AggregateFinal, partial, nil, nil, final)
		require.Nil(t, err)
		return p
	}

	rows := collectRows(t, build(newScan(t, s, 2, []any{1}, []any{2}, []any{3}, []any{4}, []any{5})))
	require.Len(t, rows, 1)
	assert.Equal(int64(5), rows[0][0])
	assert.InDelta(2.0, rows[0][1], 1e-9)
	assert.InDelta(2.5, rows[0][2], 1e-9)
	assert.Equal(int64(2), rows[0][3])

	// empty input still yields one row
	rows = collectRows(t, build(newScan(t, s, 2)))
	require.Len(t, rows, 1)
	assert.Equal(int64(0), rows[0][0])
	assert.Nil(rows[0][1])
}

var (
	leftSchema = schema.NewSchema(
		schema.NewQualifiedField("t", "a", schema.TypeInteger),
		schema.NewQualifiedField("t", "b", schema.TypeUtf8),
	)
	rightSchema = schema.NewSchema(
		schema.NewQualifiedField("u", "a", schema.TypeInteger),
		schema.NewQualifiedField("u", "d", schema.TypeDouble),
	)
)

func joinInputs(t *testing.T) (ExecutionPlan, ExecutionPlan) {
	left := newScan(t, leftSchema, 2, []any{"1", "x"}, []any{"2", "y"}, []any{"3", "z"})
	right := newScan(t, rightSchema, 2, []any{"1", "1.5"}, []any{"2", "2.5"}, []any{"4", "4.5"})
	return left, right
}

func hashJoin(t *testing.T, ty plan.JoinType) ExecutionPlan {
	left, right := joinInputs(t)
	p, err := NewHashJoinExec(left, right, []JoinKey{{
		Left:  col(leftSchema, 0),
		Right: col(rightSchema, 0),
		Type:  schema.TypeInteger,
	}}, nil, ty)
	require.Nil(t, err)
	return p
}

func loopJoin(t *testing.T, ty plan.JoinType) ExecutionPlan {
	left, right := joinInputs(t)
	fs := schema.NewSchema(leftSchema.Field(0), rightSchema.Field(0))
	filter := &JoinFilter{
		Expr:    bin(t, col(fs, 0), plan.OpEq, col(fs, 1)),
		Columns: []ColumnIndex{{Index: 0, Side: JoinSideLeft}, {Index: 0, Side: JoinSideRight}},
		Schema:  fs,
	}
	return NewNestedLoopJoinExec(left, right, filter, ty)
}

func TestJoin(t *testing.T) {
	assert := assert.New(t)

	expect := map[plan.JoinType][][]any{
		plan.JoinInner: {
			{int64(1), "x", int64(1), 1.5},
			{int64(2), "y", int64(2), 2.5},
		},
		plan.JoinLeft: {
			{int64(1), "x", int64(1), 1.5},
			{int64(2), "y", int64(2), 2.5},
			{int64(3), "z", nil, nil},
		},
		plan.JoinRight: {
			{int64(1), "x", int64(1), 1.5},
			{int64(2), "y", int64(2), 2.5},
			{nil, nil, int64(4), 4.5},
		},
		plan.JoinFull: {
			{int64(1), "x", int64(1), 1.5},
			{int64(2), "y", int64(2), 2.5},
			{nil, nil, int64(4), 4.5},
			{int64(3), "z", nil, nil},
		},
		plan.JoinLeftSemi: {
			{int64(1), "x", nil, nil},
			{int64(2), "y", nil, nil},
		},
		plan.JoinLeftAnti: {
			{int64(3), "z", nil, nil},
		},
		plan.JoinRightSemi: {
			{nil, nil, int64(1), 1.5},
			{nil, nil, int64(2), 2.5},
		},
		plan.JoinRightAnti: {
			{nil, nil, int64(4), 4.5},
		},
	}

	for ty, rows := range expect {
		h := hashJoin(t, ty)
		assert.Equal(rows, collectRows(t, h), "hash %s", ty)
		assert.Equal(4, h.Schema().Len(), "hash %s", ty)

		// same result, different matching strategy
		assert.Equal(rows, collectRows(t, loopJoin(t, ty)), "loop %s", ty)
	}

	assert.Equal(
		"HashJoinExec: mode=Inner, on=[(a@0, a@0)]\n"+
			"  ScanExec: mem\n"+
			"  ScanExec: mem\n",
		Display(hashJoin(t, plan.JoinInner)),
	)
	assert.Equal("NestedLoopJoinExec: mode=LeftAnti, filter=a@0 = a@1", Describe(loopJoin(t, plan.JoinLeftAnti)))
}

func TestJoinEmptySide(t *testing.T) {
	assert := assert.New(t)

	left := newScan(t, leftSchema, 2, []any{"1", "x"})
	right := newScan(t, rightSchema, 2)
	p := NewNestedLoopJoinExec(left, right, nil, plan.JoinLeft)
	assert.Equal([][]any{{int64(1), "x", nil, nil}}, collectRows(t, p))

	// cross join
	left, right = joinInputs(t)
	assert.Len(collectRows(t, NewNestedLoopJoinExec(left, right, nil, plan.JoinInner)), 9)
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	scan := newScan(t, abSchema, 1, []any{"1", "1"}, []any{"2", "2"})
	s, err := scan.Execute(ctx, DefaultOptions())
	assert.Nil(err)

	_, err = s.Next()
	assert.Nil(err)

	cancel()
	_, err = s.Next()
	assert.True(errors.Is(err, errs.ErrCancelled))
	assert.True(errors.Is(err, context.Canceled))

	// the stream stays finished
	_, err = s.Next()
	assert.Equal(io.EOF, err)
	assert.Nil(s.Close())
}

func TestObserve(t *testing.T) {
	assert := assert.New(t)

	seen := map[string]int{}
	opts := DefaultOptions()
	opts.Observe = func(node string, rows int) { seen[node] += rows }

	scan := newScan(t, abSchema, 1, []any{"1", "1"}, []any{"2", "2"}, []any{"3", "3"})
	_, err := Collect(context.Background(), NewLimitExec(scan, 0, 2), opts)
	assert.Nil(err)
	assert.Equal(2, seen["ScanExec"])
	assert.Equal(2, seen["LimitExec"])
}
