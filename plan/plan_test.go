package plan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/colsql/accum"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
	"github.com/dianpeng/colsql/sql"
	"github.com/stretchr/testify/assert"
)

type testTable struct {
	s *schema.Schema
}

func (self *testTable) Schema() *schema.Schema { return self.s }

type testCatalog map[string]TableSource

func (self testCatalog) Table(name string) (TableSource, bool) {
	t, ok := self[name]
	return t, ok
}

func newCatalog() testCatalog {
	return testCatalog{
		"t": &testTable{s: schema.NewSchema(
			schema.NewField("a", schema.TypeInteger),
			schema.NewField("b", schema.TypeInteger),
			schema.NewField("c", schema.TypeUtf8),
		)},
		"u": &testTable{s: schema.NewSchema(
			schema.NewField("a", schema.TypeInteger),
			schema.NewField("d", schema.TypeDouble),
		)},
		"f": &testTable{s: schema.NewSchema(
			schema.NewField("ok", schema.TypeBoolean),
		)},
	}
}

func planOf(input string) (LogicalPlan, error) {
	code, err := sql.Parse(input)
	if err != nil {
		return nil, err
	}
	return PlanSQL(code, newCatalog())
}

func doTestPlan(expect, input string, assert *assert.Assertions) {
	p, err := planOf(input)
	if !assert.Nil(err, input) {
		return
	}
	assert.Equal(expect, Display(p), input)
}

func doTestPlanErr(kind error, input string, assert *assert.Assertions) {
	_, err := planOf(input)
	if assert.NotNil(err, input) {
		assert.True(errors.Is(err, kind), "%s: %s", input, err)
		assert.Contains(err.Error(), "stage(", input)
	}
}

func TestPlanScan(t *testing.T) {
	assert := assert.New(t)

	doTestPlan(
		"Projection: #t.a\n"+
			"  TableScan: t\n",
		"select a from t",
		assert,
	)

	doTestPlan(
		"Projection: #t.a, #t.b, #t.c\n"+
			"  TableScan: t\n",
		"select * from t",
		assert,
	)

	doTestPlan(
		"Projection: #t.a\n"+
			"  Filter: (#t.b > 1) AND (#t.c LIKE 'x%')\n"+
			"    TableScan: t\n",
		"select a from t where b > 1 and c like 'x%'",
		assert,
	)

	doTestPlan(
		"Projection: #x.a, #x.b + 1 AS y\n"+
			"  SubqueryAlias: x\n"+
			"    TableScan: t\n",
		"select x.a, b + 1 as y from t x",
		assert,
	)

	doTestPlan(
		"Projection: 1, 'abc'\n"+
			"  EmptyRelation: produce_one_row=true\n",
		"select 1, 'abc'",
		assert,
	)
}

func TestPlanUnary(t *testing.T) {
	assert := assert.New(t)

	doTestPlan(
		"Projection: 0 - #t.a\n"+
			"  TableScan: t\n",
		"select -a from t",
		assert,
	)
	doTestPlan(
		"Projection: #f.ok\n"+
			"  Filter: #f.ok = false\n"+
			"    TableScan: f\n",
		"select ok from f where not ok",
		assert,
	)
}

func TestPlanAggregate(t *testing.T) {
	assert := assert.New(t)

	doTestPlan(
		"Projection: #t.a, #sum(t.b)\n"+
			"  Filter: #sum(t.b) > 10\n"+
			"    Aggregate: groupBy=[[#t.a]], aggr=[[sum(#t.b)]]\n"+
			"      TableScan: t\n",
		"select a, sum(b) from t group by a having sum(b) > 10",
		assert,
	)

	// having through a projection alias
	doTestPlan(
		"Projection: #t.a, #sum(t.b) AS s\n"+
			"  Filter: #sum(t.b) > 10\n"+
			"    Aggregate: groupBy=[[#t.a]], aggr=[[sum(#t.b)]]\n"+
			"      TableScan: t\n",
		"select a, sum(b) as s from t group by a having s > 10",
		assert,
	)

	doTestPlan(
		"Projection: #count(*), #count(DISTINCT t.c)\n"+
			"  Aggregate: groupBy=[[]], aggr=[[count(*), count(DISTINCT #t.c)]]\n"+
			"    TableScan: t\n",
		"select count(*), count(distinct c) from t",
		assert,
	)

	// an aggregate used twice is computed once
	doTestPlan(
		"Projection: #max(t.b) - #min(t.b), #max(t.b)\n"+
			"  Aggregate: groupBy=[[]], aggr=[[max(#t.b), min(#t.b)]]\n"+
			"    TableScan: t\n",
		"select max(b) - min(b), max(b) from t",
		assert,
	)

	// group by a projection alias
	doTestPlan(
		"Projection: #t.a + 1 AS k, #avg(t.b)\n"+
			"  Aggregate: groupBy=[[#t.a + 1]], aggr=[[avg(#t.b)]]\n"+
			"    TableScan: t\n",
		"select a + 1 as k, avg(b) from t group by k",
		assert,
	)
}

func TestPlanSortLimit(t *testing.T) {
	assert := assert.New(t)

	doTestPlan(
		"Limit: skip=5, fetch=10\n"+
			"  Sort: #x DESC\n"+
			"    Projection: #t.a AS x\n"+
			"      TableScan: t\n",
		"select a as x from t order by x desc limit 10 offset 5",
		assert,
	)

	doTestPlan(
		"Limit: skip=3, fetch=None\n"+
			"  Projection: #t.a\n"+
			"    TableScan: t\n",
		"select a from t offset 3",
		assert,
	)

	// sort key missing from the projection
	doTestPlan(
		"Projection: #t.a\n"+
			"  Sort: #t.b ASC\n"+
			"    Projection: #t.a, #t.b\n"+
			"      TableScan: t\n",
		"select a from t order by b",
		assert,
	)

	doTestPlan(
		"Sort: #s DESC\n"+
			"  Projection: #t.a, #sum(t.b) AS s\n"+
			"    Aggregate: groupBy=[[#t.a]], aggr=[[sum(#t.b)]]\n"+
			"      TableScan: t\n",
		"select a, sum(b) as s from t group by a order by sum(b) desc",
		assert,
	)

	doTestPlan(
		"Sort: #t.a ASC\n"+
			"  Distinct:\n"+
			"    Projection: #t.a\n"+
			"      TableScan: t\n",
		"select distinct a from t order by a",
		assert,
	)
}

func TestPlanJoin(t *testing.T) {
	assert := assert.New(t)

	doTestPlan(
		"Projection: #t.b, #u.d\n"+
			"  Inner Join: #t.a = #u.a Filter: #u.d > 1\n"+
			"    TableScan: t\n"+
			"    TableScan: u\n",
		"select b, d from t join u on u.a = t.a and d > 1",
		assert,
	)

	doTestPlan(
		"Projection: #x.b, #y.d\n"+
			"  Left Join: #x.a = #y.a\n"+
			"    SubqueryAlias: x\n"+
			"      TableScan: t\n"+
			"    SubqueryAlias: y\n"+
			"      TableScan: u\n",
		"select x.b, y.d from t x left join u y on x.a = y.a",
		assert,
	)

	// no equality key at all
	doTestPlan(
		"Projection: #t.b\n"+
			"  Full Join:  Filter: #t.b < #u.d\n"+
			"    TableScan: t\n"+
			"    TableScan: u\n",
		"select b from t full join u on b < d",
		assert,
	)
}

func TestPlanError(t *testing.T) {
	assert := assert.New(t)

	doTestPlanErr(errs.ErrInvalidPlan, "select *", assert)
	doTestPlanErr(errs.ErrUnresolved, "select zz from t", assert)
	doTestPlanErr(errs.ErrUnresolved, "select a from nope", assert)
	doTestPlanErr(errs.ErrUnresolved, "select a from t join u on t.a = u.a", assert)
	doTestPlanErr(errs.ErrUnresolved, "select u.* from t", assert)
	doTestPlanErr(errs.ErrUnsupported, "select upper(c) from t", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select a, sum(b) from t group by a having c = 'x'", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select b, sum(b) from t group by a", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select a from t limit a", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select a from t limit 1.5", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select a from t where sum(b) > 1", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select sum(sum(b)) from t", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select sum(*) from t", assert)
	doTestPlanErr(errs.ErrInvalidPlan, "select distinct a from t order by b", assert)
	doTestPlanErr(errs.ErrTypeMismatch, "select a from t where c", assert)
	doTestPlanErr(errs.ErrTypeMismatch, "select c - c from t", assert)
}

func TestBuilder(t *testing.T) {
	assert := assert.New(t)
	cat := newCatalog()

	right, err := Scan("u", cat["u"], nil).Build()
	assert.Nil(err)

	p, err := Scan("t", cat["t"], nil).
		Join(right, JoinLeftAnti, []*Column{NewColumn("t", "a")}, []*Column{NewColumn("u", "a")}, nil).
		Filter(NewBinary(NewColumn("", "b"), OpGt, LitInt(1))).
		Project(&Wildcard{}).
		Limit(0, 2).
		Build()
	assert.Nil(err)
	assert.Equal(
		"Limit: skip=0, fetch=2\n"+
			"  Projection: #t.a, #t.b, #t.c, #u.a, #u.d\n"+
			"    Filter: #t.b > 1\n"+
			"      LeftAnti Join: #t.a = #u.a\n"+
			"        TableScan: t\n"+
			"        TableScan: u\n",
		Display(p),
	)

	// semi and anti joins carry both sides
	j, err := Scan("t", cat["t"], nil).
		Join(right, JoinRightSemi, []*Column{NewColumn("", "a")}, []*Column{NewColumn("", "a")}, nil).
		Build()
	assert.Nil(err)
	assert.Equal(5, j.Schema().Len())
	assert.Equal("t.a", j.Schema().Field(0).QualifiedName())
	assert.Equal("u.d", j.Schema().Field(4).QualifiedName())

	// the first failure sticks
	_, err = Scan("t", cat["t"], nil).
		Filter(NewColumn("", "missing")).
		Project(NewColumn("", "a")).
		Build()
	assert.True(errors.Is(err, errs.ErrUnresolved))

	scan, err := Scan("t", cat["t"], []int{2, 0}).Build()
	assert.Nil(err)
	assert.Equal("TableScan: t projection=[c, a]", Describe(scan))
	assert.Equal("t.c", scan.Schema().Field(0).QualifiedName())
}

func TestWithNewInputs(t *testing.T) {
	assert := assert.New(t)
	cat := newCatalog()

	p, err := Scan("t", cat["t"], nil).
		Project(NewColumn("", "a"), NewAlias(NewColumn("", "c"), "s")).
		Build()
	assert.Nil(err)

	narrow, err := Scan("t", cat["t"], []int{0, 2}).Build()
	assert.Nil(err)

	q, err := WithNewInputs(p, []LogicalPlan{narrow})
	assert.Nil(err)
	assert.Equal(PlanProjection, q.Type())
	assert.Equal(narrow, q.Inputs()[0])
	assert.True(q.Schema().Equal(p.Schema()))

	_, err = WithNewInputs(p, nil)
	assert.True(errors.Is(err, errs.ErrInvalidPlan))

	// input no longer has the column
	onlyA, _ := Scan("t", cat["t"], []int{0}).Build()
	_, err = WithNewInputs(p, []LogicalPlan{onlyA})
	assert.True(errors.Is(err, errs.ErrUnresolved))
}

func TestExprRewrite(t *testing.T) {
	assert := assert.New(t)

	a := NewColumn("t", "a")
	sum := NewAggregateFunction(accum.AggSum, false, NewColumn("t", "b"))
	e := NewBinary(NewBinary(a, OpPlus, LitInt(1)), OpMultiply, sum)

	assert.Equal("(#t.a + 1) * sum(#t.b)", e.String())
	assert.Equal("(t.a + 1) * sum(t.b)", ExprName(e))

	// untouched subtrees are shared
	same, err := CloneWithReplacement(e, func(Expr) (Expr, error) { return nil, nil })
	assert.Nil(err)
	assert.True(same == Expr(e))

	r, err := CloneWithReplacement(e, func(x Expr) (Expr, error) {
		if ExprEqual(x, a) {
			return LitInt(7), nil
		}
		return nil, nil
	})
	assert.Nil(err)
	assert.Equal("(7 + 1) * sum(#t.b)", r.String())
	assert.True(r.(*Binary).Right == Expr(sum))
	assert.Equal("(#t.a + 1) * sum(#t.b)", e.String())

	aggs := FindAggregates(e, NewBinary(sum, OpGt, LitInt(0)))
	assert.Equal(1, len(aggs))

	cols := ExprColumns(e, a)
	assert.Equal(2, len(cols))
	assert.Equal("t.a", cols[0].FlatName())
	assert.Equal("t.b", cols[1].FlatName())

	parts := SplitConjunction(NewBinary(NewBinary(a, OpEq, LitInt(1)), OpAnd, NewBinary(a, OpLt, LitInt(2))))
	assert.Equal(2, len(parts))
	assert.True(ExprEqual(parts[0], NewBinary(NewColumn("t", "a"), OpEq, LitInt(1))))
	assert.Nil(Conjunction(nil))
}

func TestExprTyping(t *testing.T) {
	assert := assert.New(t)

	s := schema.NewSchema(
		schema.NewQualifiedField("t", "i", schema.TypeInteger),
		schema.NewQualifiedField("t", "f", schema.TypeDouble),
		schema.NewQualifiedField("t", "s", schema.TypeUtf8),
		schema.NewQualifiedField("t", "d", schema.TypeDecimal),
	)

	ty, err := DataTypeOf(NewBinary(NewColumn("", "i"), OpPlus, NewColumn("", "f")), s)
	assert.Nil(err)
	assert.Equal(schema.TypeDouble, ty)

	ty, err = DataTypeOf(NewBinary(NewColumn("", "i"), OpDivide, NewColumn("", "d")), s)
	assert.Nil(err)
	assert.Equal(schema.TypeDecimal, ty)

	ty, err = DataTypeOf(NewBinary(NewColumn("", "s"), OpPlus, LitInt(1)), s)
	assert.Nil(err)
	assert.Equal(schema.TypeInteger, ty)

	ty, err = DataTypeOf(NewBinary(NewColumn("", "s"), OpLike, LitStr("a%")), s)
	assert.Nil(err)
	assert.Equal(schema.TypeBoolean, ty)

	_, err = DataTypeOf(NewBinary(NewColumn("", "s"), OpMinus, NewColumn("", "s")), s)
	assert.True(errors.Is(err, errs.ErrTypeMismatch))

	_, err = DataTypeOf(NewBinary(NewColumn("", "i"), OpAnd, LitBool(true)), s)
	assert.True(errors.Is(err, errs.ErrTypeMismatch))

	f, err := ToField(NewAlias(NewAggregateFunction(accum.AggAvg, false, NewColumn("", "i")), "m"), s)
	assert.Nil(err)
	assert.Equal("m", f.Name)
	assert.Equal(schema.TypeDouble, f.Type)

	f, err = ToField(NewColumn("", "f"), s)
	assert.Nil(err)
	assert.Equal("t.f", f.QualifiedName())

	f, err = ToField(NewAggregateFunction(accum.AggCount, false, &Wildcard{}), s)
	assert.Nil(err)
	assert.Equal("count(*)", f.Name)
	assert.Equal(schema.TypeInteger, f.Type)
}
