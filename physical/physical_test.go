package physical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/optimizer"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
	"github.com/dianpeng/colsql/source"
	"github.com/dianpeng/colsql/sql"
)

type testCatalog map[string]plan.TableSource

func (self testCatalog) Table(name string) (plan.TableSource, bool) {
	t, ok := self[name]
	return t, ok
}

func newCatalog() testCatalog {
	t := source.NewMemorySource("t", schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("b", schema.TypeInteger),
		schema.NewField("c", schema.TypeUtf8),
	), [][]any{
		{"1", "10", "x"},
		{"2", "20", "y"},
		{"2", "30", nil},
		{"3", nil, "x"},
	})
	t.MicroBatch = 3

	u := source.NewMemorySource("u", schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("d", schema.TypeDouble),
	), [][]any{
		{"1", "1.5"},
		{"2", "2.5"},
		{"4", "4.5"},
	})
	return testCatalog{"t": t, "u": u}
}

func create(input string, optimize bool) (exec.ExecutionPlan, error) {
	code, err := sql.Parse(input)
	if err != nil {
		return nil, err
	}
	p, err := plan.PlanSQL(code, newCatalog())
	if err != nil {
		return nil, err
	}
	if optimize {
		if p, err = optimizer.New(nil).Optimize(p); err != nil {
			return nil, err
		}
	}
	return Create(p)
}

func run(input string, optimize bool) ([][]any, error) {
	p, err := create(input, optimize)
	if err != nil {
		return nil, err
	}
	opts := exec.DefaultOptions()
	opts.BatchSize = 2
	batches, err := exec.Collect(context.Background(), p, opts)
	if err != nil {
		return nil, err
	}
	out := [][]any{}
	for _, b := range batches {
		out = append(out, b.Rows()...)
	}
	return out, nil
}

func doTestQuery(expect [][]any, input string, assert *assert.Assertions) {
	for _, optimize := range []bool{false, true} {
		rows, err := run(input, optimize)
		if assert.Nil(err, input) {
			assert.Equal(expect, rows, input)
		}
	}
}

func TestQueryBasic(t *testing.T) {
	assert := assert.New(t)

	doTestQuery([][]any{{int64(2), int64(30)}, {int64(2), int64(20)}},
		"select a, b from t where b > 10 order by b desc", assert)
	doTestQuery([][]any{{int64(2)}},
		"select a from t limit 1 offset 1", assert)
	doTestQuery([][]any{{int64(11)}, {int64(21)}},
		"select b + 1 as k from t where b < 30", assert)
	doTestQuery([][]any{{"x"}, {"x"}},
		"select c from t where c like 'x%'", assert)
	doTestQuery([][]any{{int64(2)}},
		"select 1 + 1", assert)
}

func TestQueryAggregate(t *testing.T) {
	assert := assert.New(t)

	doTestQuery([][]any{
		{int64(1), int64(1), int64(10)},
		{int64(2), int64(2), int64(50)},
		{int64(3), int64(1), nil},
	}, "select a, count(*), sum(b) from t group by a order by a", assert)

	doTestQuery([][]any{{int64(4), int64(3), 20.0}},
		"select count(*), count(b), avg(b) from t", assert)

	doTestQuery([][]any{{int64(0), nil}},
		"select count(*), sum(b) from t where a > 100", assert)

	doTestQuery([][]any{{int64(2)}},
		"select count(distinct c) from t", assert)

	doTestQuery([][]any{{int64(2), int64(50)}},
		"select a, sum(b) as s from t group by a having sum(b) > 15", assert)

	doTestQuery([][]any{{nil}, {"x"}, {"y"}},
		"select distinct c from t order by c", assert)
}

func TestQueryJoin(t *testing.T) {
	assert := assert.New(t)

	doTestQuery([][]any{
		{int64(10), 1.5},
		{int64(20), 2.5},
		{int64(30), 2.5},
	}, "select t.b, u.d from t join u on t.a = u.a order by t.b", assert)

	doTestQuery([][]any{
		{int64(1), 1.5},
		{int64(2), 2.5},
		{int64(2), 2.5},
		{int64(3), nil},
	}, "select t.a, u.d from t left join u on t.a = u.a order by t.a", assert)

	doTestQuery([][]any{
		{int64(1), int64(4)},
		{int64(2), int64(4)},
		{int64(2), int64(4)},
		{int64(3), int64(4)},
	}, "select t.a, u.a from t join u on t.a < u.a where u.a = 4 order by t.a", assert)
}

func TestDisplay(t *testing.T) {
	assert := assert.New(t)

	p, err := create("select a from t where b > 1", true)
	require.NoError(t, err)
	assert.Equal(
		"ProjectionExec: a@0\n"+
			"  FilterExec: b@1 > 1\n"+
			"    ScanExec: memory(t) projection=[a, b]\n",
		exec.Display(p),
	)

	p, err = create("select b, d from t join u on u.a = t.a", true)
	require.NoError(t, err)
	assert.Equal(
		"ProjectionExec: b@1, d@3\n"+
			"  HashJoinExec: mode=Inner, on=[(a@0, a@0)]\n"+
			"    ScanExec: memory(t) projection=[a, b]\n"+
			"    ScanExec: memory(u)\n",
		exec.Display(p),
	)

	p, err = create("select t.a from t join u on t.a < u.a", true)
	require.NoError(t, err)
	assert.Contains(exec.Display(p), "NestedLoopJoinExec: mode=Inner, filter=a@0 < a@1")

	p, err = create("select 1", false)
	require.NoError(t, err)
	assert.Contains(exec.Display(p), "EmptyExec: produce_one_row=true")
}

func TestTwoStageAggregate(t *testing.T) {
	assert := assert.New(t)

	p, err := create("select a, sum(b) from t group by a", true)
	require.NoError(t, err)

	final, ok := p.(*exec.AggregateExec)
	require.True(t, ok)
	assert.Equal(exec.AggregateFinal, final.Mode)
	assert.Equal(2, final.Schema().Len())

	partial, ok := final.Input.(*exec.AggregateExec)
	require.True(t, ok)
	assert.Equal(exec.AggregatePartial, partial.Mode)

	// the final stage reads every state column by position
	states := 0
	for _, a := range final.AggrExprs {
		states += len(a.Args)
		assert.Nil(a.Filter)
	}
	assert.Equal(partial.Schema().Len(), len(final.GroupExprs)+states)
}

func TestUnscannableTable(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(schema.NewField("a", schema.TypeInteger))
	scan, err := plan.NewTableScan("x", &logicalOnly{s: s}, nil)
	require.NoError(t, err)

	_, err = Create(scan)
	assert.ErrorIs(err, errs.ErrInvalidPlan)
}

type logicalOnly struct {
	s *schema.Schema
}

func (self *logicalOnly) Schema() *schema.Schema { return self.s }

func TestCreateExprErrors(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(schema.NewField("a", schema.TypeInteger))

	_, err := CreateExpr(&plan.ScalarVariable{Names: []string{"x", "y"}}, s, s)
	assert.ErrorIs(err, errs.ErrUnsupported)

	_, err = CreateExpr(plan.NewAggregateFunction(0, false, plan.NewColumn("", "a")), s, s)
	assert.ErrorIs(err, errs.ErrInvalidPlan)

	_, err = CreateExpr(plan.NewColumn("", "missing"), s, s)
	assert.ErrorIs(err, errs.ErrUnresolved)

	e, err := CreateExpr(plan.NewAlias(plan.NewBinary(plan.NewColumn("", "a"), plan.OpPlus, plan.LitInt(1)), "k"), s, s)
	if assert.NoError(err) {
		assert.Equal("a@0 + 1", e.String())
		assert.Equal(schema.TypeInteger, e.DataType())
	}

	b, err := data.NewRecordBatchFromColumns(s, [][]any{{int64(1), int64(2)}})
	require.NoError(t, err)
	v, err := e.Evaluate(b)
	if assert.NoError(err) {
		assert.Equal(int64(3), v.Get(1))
	}
}
