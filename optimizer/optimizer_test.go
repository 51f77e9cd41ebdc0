package optimizer

import (
	"testing"

	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
	"github.com/dianpeng/colsql/sql"
	"github.com/stretchr/testify/assert"
)

type testTable struct {
	s *schema.Schema
}

func (self *testTable) Schema() *schema.Schema { return self.s }

type testCatalog map[string]plan.TableSource

func (self testCatalog) Table(name string) (plan.TableSource, bool) {
	t, ok := self[name]
	return t, ok
}

var catalog = testCatalog{
	"t": &testTable{s: schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("b", schema.TypeInteger),
		schema.NewField("c", schema.TypeUtf8),
	)},
	"u": &testTable{s: schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("d", schema.TypeDouble),
	)},
}

func planOf(input string) (plan.LogicalPlan, error) {
	code, err := sql.Parse(input)
	if err != nil {
		return nil, err
	}
	return plan.PlanSQL(code, catalog)
}

func doTestOptimize(opt *Optimizer, expect, input string, assert *assert.Assertions) {
	p, err := planOf(input)
	if !assert.Nil(err, input) {
		return
	}
	o, err := opt.Optimize(p)
	if !assert.Nil(err, input) {
		return
	}
	assert.Equal(expect, plan.Display(o), input)

	// a second run changes nothing
	again, err := opt.Optimize(o)
	if assert.Nil(err, input) {
		assert.Equal(plan.Display(o), plan.Display(again), input)
	}
}

func TestOptimizeScan(t *testing.T) {
	assert := assert.New(t)
	opt := New(nil)

	doTestOptimize(opt, "TableScan: t projection=[a]\n", "select a from t", assert)
	doTestOptimize(opt, "TableScan: t\n", "select * from t", assert)

	doTestOptimize(
		opt,
		"Projection: #t.c, #t.a\n"+
			"  TableScan: t projection=[a, c]\n",
		"select c, a from t",
		assert,
	)

	doTestOptimize(
		opt,
		"Projection: #t.a AS x\n"+
			"  TableScan: t projection=[a]\n",
		"select a as x from t",
		assert,
	)

	doTestOptimize(
		opt,
		"Projection: #t.a\n"+
			"  Filter: #t.b > 1\n"+
			"    TableScan: t projection=[a, b]\n",
		"select a from t where b > 1",
		assert,
	)

	doTestOptimize(
		opt,
		"Limit: skip=0, fetch=2\n"+
			"  TableScan: t projection=[a]\n",
		"select a from t limit 2",
		assert,
	)
}

func TestOptimizeAggregate(t *testing.T) {
	assert := assert.New(t)
	opt := New(nil)

	doTestOptimize(
		opt,
		"Aggregate: groupBy=[[#t.a]], aggr=[[sum(#t.b)]]\n"+
			"  TableScan: t projection=[a, b]\n",
		"select a, sum(b) from t group by a",
		assert,
	)

	// nothing is read, the first column keeps the row count
	doTestOptimize(
		opt,
		"Aggregate: groupBy=[[]], aggr=[[count(*)]]\n"+
			"  TableScan: t projection=[a]\n",
		"select count(*) from t",
		assert,
	)

	doTestOptimize(
		opt,
		"Aggregate: groupBy=[[#t.a]], aggr=[[]]\n"+
			"  TableScan: t projection=[a]\n",
		"select distinct a from t",
		assert,
	)
}

func TestOptimizeSortJoin(t *testing.T) {
	assert := assert.New(t)
	opt := New(nil)

	doTestOptimize(
		opt,
		"Projection: #t.a\n"+
			"  Sort: #t.b ASC\n"+
			"    TableScan: t projection=[a, b]\n",
		"select a from t order by b",
		assert,
	)

	doTestOptimize(
		opt,
		"Projection: #t.b, #u.d\n"+
			"  Inner Join: #t.a = #u.a\n"+
			"    TableScan: t projection=[a, b]\n"+
			"    TableScan: u\n",
		"select b, d from t join u on u.a = t.a",
		assert,
	)

	doTestOptimize(
		opt,
		"SubqueryAlias: x\n"+
			"  TableScan: t projection=[b]\n",
		"select x.b from t x",
		assert,
	)
}

func TestOptimizeSingleRule(t *testing.T) {
	assert := assert.New(t)

	doTestOptimize(
		NewWithRules(nil, &ReplaceDistinctWithAggregate{}),
		"Aggregate: groupBy=[[#t.a]], aggr=[[]]\n"+
			"  Projection: #t.a\n"+
			"    TableScan: t\n",
		"select distinct a from t",
		assert,
	)

	doTestOptimize(
		NewWithRules(nil, &EliminateProjection{}),
		"TableScan: t\n",
		"select a, b, c from t",
		assert,
	)

	doTestOptimize(
		NewWithRules(nil, &EliminateProjection{}),
		"Projection: #t.b, #t.a, #t.c\n"+
			"  TableScan: t\n",
		"select b, a, c from t",
		assert,
	)

	names := []string{}
	for _, r := range New(nil).Rules() {
		names = append(names, r.Name())
	}
	assert.Equal([]string{"replace_distinct_aggregate", "push_down_projection", "eliminate_projection"}, names)
}

func TestMergeProjection(t *testing.T) {
	assert := assert.New(t)

	p, err := plan.Scan("t", catalog["t"], nil).
		Project(plan.NewAlias(plan.NewBinary(plan.NewColumn("", "a"), plan.OpPlus, plan.LitInt(1)), "k"), plan.NewColumn("", "b")).
		Project(plan.NewColumn("", "k")).
		Build()
	assert.Nil(err)

	o, err := New(nil).Optimize(p)
	assert.Nil(err)
	assert.Equal(
		"Projection: #t.a + 1 AS k\n"+
			"  TableScan: t projection=[a]\n",
		plan.Display(o),
	)
	assert.Equal(p.Schema().String(), o.Schema().String())
}

func TestOptimizeUnchanged(t *testing.T) {
	assert := assert.New(t)

	p, err := planOf("select b + 1 as x from t where a > 1")
	assert.Nil(err)

	// the rule reports nil when the plan is already narrow
	o, err := Apply(&PushDownProjection{}, p)
	assert.Nil(err)
	np, err := (&PushDownProjection{}).TryOptimize(o)
	assert.Nil(err)
	assert.Nil(np)

	np, err = (&EliminateProjection{}).TryOptimize(o)
	assert.Nil(err)
	assert.Nil(np)
}
