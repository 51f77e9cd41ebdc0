package optimizer

import (
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// ReplaceDistinctWithAggregate turns Distinct(x) into an Aggregate grouping
// by every column of x without aggregate functions.
type ReplaceDistinctWithAggregate struct{}

func (self *ReplaceDistinctWithAggregate) Name() string           { return "replace_distinct_aggregate" }
func (self *ReplaceDistinctWithAggregate) ApplyOrder() ApplyOrder { return BottomUp }

func (self *ReplaceDistinctWithAggregate) TryOptimize(p plan.LogicalPlan) (plan.LogicalPlan, error) {
	d, ok := p.(*plan.Distinct)
	if !ok {
		return nil, nil
	}
	group := []plan.Expr{}
	for _, f := range d.Input.Schema().Fields() {
		group = append(group, plan.ColumnOf(f))
	}
	return plan.NewAggregate(d.Input, group, nil)
}

// EliminateProjection drops a Projection that only repeats the columns of
// its input, same order and same names.
type EliminateProjection struct{}

func (self *EliminateProjection) Name() string           { return "eliminate_projection" }
func (self *EliminateProjection) ApplyOrder() ApplyOrder { return BottomUp }

func (self *EliminateProjection) TryOptimize(p plan.LogicalPlan) (plan.LogicalPlan, error) {
	proj, ok := p.(*plan.Projection)
	if !ok {
		return nil, nil
	}
	if isIdentity(proj.Exprs, proj.Input.Schema()) {
		return proj.Input, nil
	}
	return nil, nil
}

// isIdentity compares column by column, a schema comparison is not enough
// since an aliased expression may produce an equal field.
func isIdentity(exprs []plan.Expr, s *schema.Schema) bool {
	if len(exprs) != s.Len() {
		return false
	}
	for idx, e := range exprs {
		c, ok := e.(*plan.Column)
		if !ok {
			return false
		}
		f := s.Field(idx)
		if c.Name != f.Name || c.Relation != f.Qualifier {
			return false
		}
	}
	return true
}
