package optimizer

import (
	"sort"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// PushDownProjection narrows every node to the columns its ancestors use,
// down to the table scans.
//
// The rule walks the tree once from the node it is given and carries the
// set of columns required above. A node that passes its input schema through
// (filter, sort, limit, join) adds its own columns to the set. A projection
// keeps only the expressions that produce required columns and restarts the
// set from what those expressions read. An aggregate restarts the set from
// its group and aggregate expressions. A scan reads only the required source
// columns, or its first column when nothing is required so row counts
// survive.
//
// A projection sitting directly on another projection is merged into one by
// substituting the child's expressions, aliased when the substitution would
// change the output name.
//
// The rule works top down. The engine visits the inputs of a rewritten node
// again; the rewrite is stable, so those visits report no change.
type PushDownProjection struct{}

func (self *PushDownProjection) Name() string           { return "push_down_projection" }
func (self *PushDownProjection) ApplyOrder() ApplyOrder { return TopDown }

func (self *PushDownProjection) TryOptimize(p plan.LogicalPlan) (plan.LogicalPlan, error) {
	np, err := pushDown(p, newColumnSet(), false)
	if err != nil {
		return nil, err
	}
	if plan.Display(np) == plan.Display(p) {
		return nil, nil
	}
	return np, nil
}

type columnSet struct {
	keys map[string]bool
	cols []*plan.Column
}

func newColumnSet(cols ...*plan.Column) *columnSet {
	s := &columnSet{keys: map[string]bool{}}
	s.add(cols...)
	return s
}

func (self *columnSet) add(cols ...*plan.Column) {
	for _, c := range cols {
		k := c.FlatName()
		if self.keys[k] {
			continue
		}
		self.keys[k] = true
		self.cols = append(self.cols, c)
	}
}

func (self *columnSet) union(cols ...*plan.Column) *columnSet {
	out := newColumnSet(self.cols...)
	out.add(cols...)
	return out
}

func (self *columnSet) has(f schema.Field) bool {
	for _, c := range self.cols {
		if c.Name == f.Name && (c.Relation == "" || c.Relation == f.Qualifier) {
			return true
		}
	}
	return false
}

func schemaColumns(s *schema.Schema) []*plan.Column {
	out := make([]*plan.Column, 0, s.Len())
	for _, f := range s.Fields() {
		out = append(out, plan.ColumnOf(f))
	}
	return out
}

func joinOnColumns(on []plan.JoinOn) []*plan.Column {
	out := []*plan.Column{}
	for _, p := range on {
		out = append(out, p.Left, p.Right)
	}
	return out
}

// pushDown rewrites p so it produces at least the required columns. With
// hasProjection false nothing above p narrows its output, so all of p's
// columns are required.
func pushDown(p plan.LogicalPlan, required *columnSet, hasProjection bool) (plan.LogicalPlan, error) {
	if !hasProjection {
		required = required.union(schemaColumns(p.Schema())...)
	}

	switch p.Type() {
	case plan.PlanEmptyRelation:
		return p, nil

	case plan.PlanTableScan:
		return pushDownScan(p.(*plan.TableScan), required)

	case plan.PlanProjection:
		return pushDownProjection(p.(*plan.Projection), required, hasProjection)

	case plan.PlanFilter:
		f := p.(*plan.Filter)
		input, err := pushDown(f.Input, required.union(plan.ExprColumns(f.Predicate)...), true)
		if err != nil {
			return nil, err
		}
		return plan.NewFilter(input, f.Predicate)

	case plan.PlanAggregate:
		a := p.(*plan.Aggregate)
		all := append(append([]plan.Expr{}, a.GroupExprs...), a.AggrExprs...)
		input, err := pushDown(a.Input, newColumnSet(plan.ExprColumns(all...)...), true)
		if err != nil {
			return nil, err
		}
		return plan.NewAggregate(input, a.GroupExprs, a.AggrExprs)

	case plan.PlanSort:
		s := p.(*plan.Sort)
		input, err := pushDown(s.Input, required.union(plan.ExprColumns(s.Exprs...)...), true)
		if err != nil {
			return nil, err
		}
		return plan.NewSort(input, s.Exprs)

	case plan.PlanLimit, plan.PlanDistinct:
		input, err := pushDown(p.Inputs()[0], required, true)
		if err != nil {
			return nil, err
		}
		return plan.WithNewInputs(p, []plan.LogicalPlan{input})

	case plan.PlanJoin:
		return pushDownJoin(p.(*plan.Join), required)

	case plan.PlanSubqueryAlias:
		a := p.(*plan.SubqueryAlias)
		inner := newColumnSet()
		for _, c := range required.cols {
			if idx := a.Schema().IndexOf(c.Relation, c.Name); idx >= 0 {
				inner.add(plan.ColumnOf(a.Input.Schema().Field(idx)))
			}
		}
		input, err := pushDown(a.Input, inner, true)
		if err != nil {
			return nil, err
		}
		return plan.NewSubqueryAlias(input, a.Alias), nil

	default:
		return nil, errs.InvalidPlan("optimizer", "unknown plan node %d", p.Type())
	}
}

func pushDownScan(scan *plan.TableScan, required *columnSet) (plan.LogicalPlan, error) {
	if scan.Projection != nil {
		return scan, nil
	}
	src := scan.SourceSchema()
	indices := []int{}
	for idx, f := range src.Fields() {
		if required.has(f) {
			indices = append(indices, idx)
		}
	}
	switch {
	case len(indices) == src.Len():
		return scan, nil
	case len(indices) == 0:
		indices = []int{0}
	}
	sort.Ints(indices)
	return plan.NewTableScan(scan.Name, scan.Source, indices)
}

func pushDownProjection(proj *plan.Projection, required *columnSet, hasProjection bool) (plan.LogicalPlan, error) {
	exprs := []plan.Expr{}
	fields := []schema.Field{}
	for idx, e := range proj.Exprs {
		f := proj.Schema().Field(idx)
		if !hasProjection || required.has(f) {
			exprs = append(exprs, e)
			fields = append(fields, f)
		}
	}
	if len(exprs) == 0 && len(proj.Exprs) > 0 {
		exprs = append(exprs, proj.Exprs[0])
		fields = append(fields, proj.Schema().Field(0))
	}

	input, err := pushDown(proj.Input, newColumnSet(plan.ExprColumns(exprs...)...), true)
	if err != nil {
		return nil, err
	}

	if child, ok := input.(*plan.Projection); ok {
		merged, err := mergeProjection(exprs, fields, child)
		if err != nil {
			return nil, err
		}
		exprs = merged
		input = child.Input
	}

	if f, ok := input.(*plan.Filter); ok && isIdentity(exprs, f.Schema()) {
		return f, nil
	}
	return plan.NewProjection(input, exprs)
}

// mergeProjection rewrites exprs, which read child's output, to read child's
// input instead. fields are the names the rewritten exprs must keep.
func mergeProjection(exprs []plan.Expr, fields []schema.Field, child *plan.Projection) ([]plan.Expr, error) {
	out := make([]plan.Expr, 0, len(exprs))
	for idx, e := range exprs {
		n, err := plan.CloneWithReplacement(e, func(x plan.Expr) (plan.Expr, error) {
			c, ok := x.(*plan.Column)
			if !ok {
				return nil, nil
			}
			i, err := plan.ResolveColumn(c, child.Schema())
			if err != nil {
				return nil, err
			}
			return plan.UnAlias(child.Exprs[i]), nil
		})
		if err != nil {
			return nil, err
		}
		f, err := plan.ToField(n, child.Input.Schema())
		if err != nil {
			return nil, err
		}
		if f.Name != fields[idx].Name || f.Qualifier != fields[idx].Qualifier {
			n = plan.NewAlias(plan.UnAlias(n), fields[idx].Name)
		}
		out = append(out, n)
	}
	return out, nil
}

func pushDownJoin(j *plan.Join, required *columnSet) (plan.LogicalPlan, error) {
	all := required.union(joinOnColumns(j.On)...)
	if j.Filter != nil {
		all = all.union(plan.ExprColumns(j.Filter)...)
	}
	side := func(in plan.LogicalPlan) *columnSet {
		s := newColumnSet()
		for _, c := range all.cols {
			if in.Schema().IndexOf(c.Relation, c.Name) >= 0 {
				s.add(c)
			}
		}
		return s
	}
	left, err := pushDown(j.Left, side(j.Left), true)
	if err != nil {
		return nil, err
	}
	right, err := pushDown(j.Right, side(j.Right), true)
	if err != nil {
		return nil, err
	}
	out, err := plan.NewJoin(left, right, j.On, j.Filter, j.JoinType)
	if err != nil {
		return nil, err
	}
	out.Constraint = j.Constraint
	return out, nil
}
