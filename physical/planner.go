package physical

import (
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// ----------------------------------------------------------------------------
//
// Physical planning, turns an (optimized) logical plan into exec operators.
//
// Every physical operator produces its columns in the same order as the
// logical node it comes from, so a logical column resolved by name against
// the logical input schema gives the physical index directly. The physical
// column takes its name from the physical input field at that index.
//
// Aggregates are always lowered into two stages. The Partial stage folds
// input rows into accumulator states, its schema is the group columns
// followed by every state field of every aggregate. The Final stage groups
// by the partial group columns again and merges the state columns, giving
// the group columns followed by one value per aggregate. Partial states of
// several partitions could be merged by the same Final stage.
//
// ----------------------------------------------------------------------------

// Create lowers p into an execution plan.
func Create(p plan.LogicalPlan) (exec.ExecutionPlan, error) {
	return (&planner{}).create(p)
}

type planner struct{}

func (self *planner) create(p plan.LogicalPlan) (exec.ExecutionPlan, error) {
	switch p.Type() {
	case plan.PlanEmptyRelation:
		return exec.NewEmptyExec(p.(*plan.EmptyRelation).ProduceOneRow), nil

	case plan.PlanTableScan:
		scan := p.(*plan.TableScan)
		src, ok := scan.Source.(exec.DataSource)
		if !ok {
			return nil, errs.InvalidPlan("physical", "table %s cannot be scanned", scan.Name)
		}
		return src.Scan(scan.Projection)

	case plan.PlanProjection:
		return self.createProjection(p.(*plan.Projection))

	case plan.PlanFilter:
		f := p.(*plan.Filter)
		input, err := self.create(f.Input)
		if err != nil {
			return nil, err
		}
		pred, err := CreateExpr(f.Predicate, f.Input.Schema(), input.Schema())
		if err != nil {
			return nil, err
		}
		return exec.NewFilterExec(input, pred)

	case plan.PlanSort:
		s := p.(*plan.Sort)
		input, err := self.create(s.Input)
		if err != nil {
			return nil, err
		}
		exprs := make([]*exec.SortExpr, 0, len(s.Exprs))
		for _, e := range s.Exprs {
			o, ok := e.(*plan.OrderBy)
			if !ok {
				o = plan.NewOrderBy(e, true)
			}
			x, err := CreateExpr(o.Expr, s.Input.Schema(), input.Schema())
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, &exec.SortExpr{Expr: x, Asc: o.Asc})
		}
		return exec.NewSortExec(input, exprs), nil

	case plan.PlanLimit:
		l := p.(*plan.Limit)
		input, err := self.create(l.Input)
		if err != nil {
			return nil, err
		}
		return exec.NewLimitExec(input, l.Skip, l.Fetch), nil

	case plan.PlanAggregate:
		return self.createAggregate(p.(*plan.Aggregate))

	case plan.PlanDistinct:
		// not rewritten by the optimizer, group by every column
		d := p.(*plan.Distinct)
		group := []plan.Expr{}
		for _, f := range d.Input.Schema().Fields() {
			group = append(group, plan.ColumnOf(f))
		}
		a, err := plan.NewAggregate(d.Input, group, nil)
		if err != nil {
			return nil, err
		}
		return self.createAggregate(a)

	case plan.PlanJoin:
		return self.createJoin(p.(*plan.Join))

	case plan.PlanSubqueryAlias:
		// renames only, the physical columns stay the same
		return self.create(p.(*plan.SubqueryAlias).Input)

	default:
		return nil, errs.InvalidPlan("physical", "unknown plan node %d", p.Type())
	}
}

func (self *planner) createProjection(p *plan.Projection) (exec.ExecutionPlan, error) {
	input, err := self.create(p.Input)
	if err != nil {
		return nil, err
	}
	exprs := make([]exec.Expr, 0, len(p.Exprs))
	fields := make([]schema.Field, 0, len(p.Exprs))
	for idx, e := range p.Exprs {
		x, err := CreateExpr(e, p.Input.Schema(), input.Schema())
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, x)
		fields = append(fields, p.Schema().Field(idx))
	}
	return exec.NewProjectionExec(input, exprs, fields)
}

func (self *planner) createAggregate(a *plan.Aggregate) (exec.ExecutionPlan, error) {
	input, err := self.create(a.Input)
	if err != nil {
		return nil, err
	}
	ls, ps := a.Input.Schema(), input.Schema()

	groupExprs := make([]exec.Expr, 0, len(a.GroupExprs))
	groupFields := make([]schema.Field, 0, len(a.GroupExprs))
	for idx, g := range a.GroupExprs {
		x, err := CreateExpr(g, ls, ps)
		if err != nil {
			return nil, err
		}
		groupExprs = append(groupExprs, x)
		groupFields = append(groupFields, a.Schema().Field(idx))
	}

	partialAggs := make([]*exec.AggregateExpr, 0, len(a.AggrExprs))
	for idx, e := range a.AggrExprs {
		f, ok := plan.UnAlias(e).(*plan.AggregateFunction)
		if !ok {
			return nil, errs.InvalidPlan("physical", "%s is not an aggregate expression", e)
		}
		x, err := self.createAggregateExpr(f, ls, ps)
		if err != nil {
			return nil, err
		}
		x.Name = a.Schema().Field(len(a.GroupExprs) + idx).Name
		partialAggs = append(partialAggs, x)
	}

	partial, err := exec.NewAggregateExec(exec.AggregatePartial, input, groupExprs, groupFields, partialAggs)
	if err != nil {
		return nil, err
	}

	// the final stage reads group and state columns by position
	ss := partial.Schema()
	finalGroup := make([]exec.Expr, 0, len(groupExprs))
	for idx := range groupExprs {
		c, err := exec.NewColumn(ss, idx)
		if err != nil {
			return nil, err
		}
		finalGroup = append(finalGroup, c)
	}
	pos := len(groupExprs)
	finalAggs := make([]*exec.AggregateExpr, 0, len(partialAggs))
	for _, pa := range partialAggs {
		states, err := pa.StateFields()
		if err != nil {
			return nil, err
		}
		args := make([]exec.Expr, 0, len(states))
		for range states {
			c, err := exec.NewColumn(ss, pos)
			if err != nil {
				return nil, err
			}
			args = append(args, c)
			pos++
		}
		finalAggs = append(finalAggs, &exec.AggregateExpr{
			Kind:     pa.Kind,
			Distinct: pa.Distinct,
			Name:     pa.Name,
			Args:     args,
			ArgTypes: pa.ArgTypes,
		})
	}
	return exec.NewAggregateExec(exec.AggregateFinal, partial, finalGroup, groupFields, finalAggs)
}

func (self *planner) createAggregateExpr(f *plan.AggregateFunction, ls, ps *schema.Schema) (*exec.AggregateExpr, error) {
	argTypes, err := plan.AggregateArgTypes(f, ls)
	if err != nil {
		return nil, err
	}
	args := make([]exec.Expr, 0, len(f.Args))
	for _, arg := range f.Args {
		if arg.Type() == plan.ExprWildcard {
			// count(*) counts a constant that is never null
			args = append(args, exec.NewLiteral(data.NewScalar(schema.TypeInteger, int64(1))))
			continue
		}
		x, err := CreateExpr(arg, ls, ps)
		if err != nil {
			return nil, err
		}
		args = append(args, x)
	}
	out := &exec.AggregateExpr{
		Kind:     f.Kind,
		Distinct: f.Distinct,
		Args:     args,
		ArgTypes: argTypes,
	}
	if f.Filter != nil {
		x, err := CreateExpr(f.Filter, ls, ps)
		if err != nil {
			return nil, err
		}
		out.Filter = x
	}
	return out, nil
}

func (self *planner) createJoin(j *plan.Join) (exec.ExecutionPlan, error) {
	left, err := self.create(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := self.create(j.Right)
	if err != nil {
		return nil, err
	}

	var filter *exec.JoinFilter
	if j.Filter != nil {
		filter, err = createJoinFilter(j, left.Schema(), right.Schema())
		if err != nil {
			return nil, err
		}
	}

	if len(j.On) == 0 {
		return exec.NewNestedLoopJoinExec(left, right, filter, j.JoinType), nil
	}

	keys := make([]exec.JoinKey, 0, len(j.On))
	for _, on := range j.On {
		l, err := CreateExpr(on.Left, j.Left.Schema(), left.Schema())
		if err != nil {
			return nil, err
		}
		r, err := CreateExpr(on.Right, j.Right.Schema(), right.Schema())
		if err != nil {
			return nil, err
		}
		ty, ok := schema.Coerce(l.DataType(), r.DataType())
		if !ok {
			return nil, errs.TypeMismatch("physical", "cannot join %s with %s", on.Left, on.Right)
		}
		keys = append(keys, exec.JoinKey{Left: l, Right: r, Type: ty})
	}
	return exec.NewHashJoinExec(left, right, keys, filter, j.JoinType)
}

// createJoinFilter resolves the residual filter against an intermediate
// schema holding only the columns it reads.
func createJoinFilter(j *plan.Join, lp, rp *schema.Schema) (*exec.JoinFilter, error) {
	ll, rl := j.Left.Schema(), j.Right.Schema()
	cols := []exec.ColumnIndex{}
	logical := []schema.Field{}
	physical := []schema.Field{}
	for _, c := range plan.ExprColumns(j.Filter) {
		if idx := ll.IndexOf(c.Relation, c.Name); idx >= 0 {
			cols = append(cols, exec.ColumnIndex{Index: idx, Side: exec.JoinSideLeft})
			logical = append(logical, ll.Field(idx))
			physical = append(physical, fieldAt(lp, idx, ll.Field(idx)))
			continue
		}
		if idx := rl.IndexOf(c.Relation, c.Name); idx >= 0 {
			cols = append(cols, exec.ColumnIndex{Index: idx, Side: exec.JoinSideRight})
			logical = append(logical, rl.Field(idx))
			physical = append(physical, fieldAt(rp, idx, rl.Field(idx)))
			continue
		}
		return nil, errs.Unresolved("physical", "join filter column %s not found", c)
	}
	ps := schema.NewSchema(physical...)
	e, err := CreateExpr(j.Filter, schema.NewSchema(logical...), ps)
	if err != nil {
		return nil, err
	}
	return &exec.JoinFilter{Expr: e, Columns: cols, Schema: ps}, nil
}

func fieldAt(s *schema.Schema, idx int, fallback schema.Field) schema.Field {
	if idx < s.Len() {
		return s.Field(idx)
	}
	return fallback
}

// CreateExpr lowers a logical expression. Columns resolve against the
// logical input schema ls; ps is the physical input schema of the same
// shape.
func CreateExpr(e plan.Expr, ls, ps *schema.Schema) (exec.Expr, error) {
	switch e.Type() {
	case plan.ExprColumn:
		c := e.(*plan.Column)
		idx, err := plan.ResolveColumn(c, ls)
		if err != nil {
			return nil, err
		}
		if idx < ps.Len() {
			return exec.NewColumn(ps, idx)
		}
		return exec.NewColumnTyped(c.FlatName(), idx, ls.Field(idx).Type), nil

	case plan.ExprLiteral:
		return exec.NewLiteral(e.(*plan.Literal).Value), nil

	case plan.ExprAlias:
		return CreateExpr(e.(*plan.Alias).Expr, ls, ps)

	case plan.ExprBinary:
		b := e.(*plan.Binary)
		l, err := CreateExpr(b.Left, ls, ps)
		if err != nil {
			return nil, err
		}
		r, err := CreateExpr(b.Right, ls, ps)
		if err != nil {
			return nil, err
		}
		return exec.NewBinary(l, b.Op, r)

	case plan.ExprScalarVariable:
		return nil, errs.Unsupported("physical", "scalar variable %s", e)

	case plan.ExprAggregate:
		return nil, errs.InvalidPlan("physical", "aggregate %s outside of an aggregation", e)

	case plan.ExprOrderBy:
		return CreateExpr(e.(*plan.OrderBy).Expr, ls, ps)

	default:
		return nil, errs.InvalidPlan("physical", "cannot lower expression %s", e)
	}
}
