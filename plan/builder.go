package plan

import (
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

// Builder assembles a logical plan bottom up. The first failing step sticks,
// later steps are no-ops and Build reports it.
//
//	p, err := plan.Scan("t", src, nil).
//	  Filter(plan.NewBinary(plan.NewColumn("", "a"), plan.OpGt, plan.LitInt(1))).
//	  Project(plan.NewColumn("", "b")).
//	  Build()
type Builder struct {
	plan LogicalPlan
	err  error
}

func From(p LogicalPlan) *Builder {
	return &Builder{plan: p}
}

func Scan(name string, source TableSource, projection []int) *Builder {
	p, err := NewTableScan(name, source, projection)
	if err != nil {
		return &Builder{err: err}
	}
	return &Builder{plan: p}
}

func Empty(produceOneRow bool) *Builder {
	return &Builder{plan: NewEmptyRelation(produceOneRow)}
}

func (self *Builder) Build() (LogicalPlan, error) {
	if self.err != nil {
		return nil, self.err
	}
	return self.plan, nil
}

// Schema of the plan built so far, nil after a failure.
func (self *Builder) Schema() *schema.Schema {
	if self.err != nil {
		return nil
	}
	return self.plan.Schema()
}

func (self *Builder) next(fn func(LogicalPlan) (LogicalPlan, error)) *Builder {
	if self.err != nil {
		return self
	}
	p, err := fn(self.plan)
	if err != nil {
		return &Builder{err: err}
	}
	return &Builder{plan: p}
}

func (self *Builder) Filter(predicate Expr) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		e, err := NormalizeExpr(predicate, input.Schema())
		if err != nil {
			return nil, err
		}
		return NewFilter(input, e)
	})
}

// ExpandWildcard lists a column for every field w covers.
func ExpandWildcard(w *Wildcard, s *schema.Schema) ([]Expr, error) {
	if s.Len() == 0 {
		return nil, errs.InvalidPlan("plan", "wildcard %s used without a table", w)
	}
	out := []Expr{}
	for _, f := range s.Fields() {
		if w.Relation == "" || f.Qualifier == w.Relation {
			out = append(out, ColumnOf(f))
		}
	}
	if len(out) == 0 {
		return nil, errs.Unresolved("plan", "no table named %s for %s", w.Relation, w)
	}
	return out, nil
}

// Project expands wildcards and qualifies columns against the input.
func (self *Builder) Project(exprs ...Expr) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		out := []Expr{}
		for _, e := range exprs {
			if w, ok := e.(*Wildcard); ok {
				cols, err := ExpandWildcard(w, input.Schema())
				if err != nil {
					return nil, err
				}
				out = append(out, cols...)
				continue
			}
			n, err := NormalizeExpr(e, input.Schema())
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return NewProjection(input, out)
	})
}

func normalizeAll(exprs []Expr, s *schema.Schema) ([]Expr, error) {
	out := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		n, err := NormalizeExpr(e, s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (self *Builder) Aggregate(groupExprs, aggrExprs []Expr) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		g, err := normalizeAll(groupExprs, input.Schema())
		if err != nil {
			return nil, err
		}
		a, err := normalizeAll(aggrExprs, input.Schema())
		if err != nil {
			return nil, err
		}
		return NewAggregate(input, g, a)
	})
}

// Sort orders by exprs, a bare expression sorts ascending.
func (self *Builder) Sort(exprs ...Expr) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		e, err := normalizeAll(exprs, input.Schema())
		if err != nil {
			return nil, err
		}
		return NewSort(input, e)
	})
}

func (self *Builder) Limit(skip, fetch int) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		return NewLimit(input, skip, fetch)
	})
}

func (self *Builder) Distinct() *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		return NewDistinct(input), nil
	})
}

func (self *Builder) Alias(name string) *Builder {
	return self.next(func(input LogicalPlan) (LogicalPlan, error) {
		return NewSubqueryAlias(input, name), nil
	})
}

// Join joins the current plan (left) with right on leftKeys[i] =
// rightKeys[i]. filter may be nil.
func (self *Builder) Join(right LogicalPlan, ty JoinType, leftKeys, rightKeys []*Column, filter Expr) *Builder {
	return self.next(func(left LogicalPlan) (LogicalPlan, error) {
		if len(leftKeys) != len(rightKeys) {
			return nil, errs.InvalidPlan("plan", "join keys mismatch, %d left and %d right", len(leftKeys), len(rightKeys))
		}
		on := make([]JoinOn, 0, len(leftKeys))
		for idx := range leftKeys {
			l, err := NormalizeColumn(leftKeys[idx], left.Schema())
			if err != nil {
				return nil, err
			}
			r, err := NormalizeColumn(rightKeys[idx], right.Schema())
			if err != nil {
				return nil, err
			}
			on = append(on, JoinOn{Left: l, Right: r})
		}
		if filter != nil {
			f, err := NormalizeExpr(filter, left.Schema().Join(right.Schema()))
			if err != nil {
				return nil, err
			}
			filter = f
		}
		return NewJoin(left, right, on, filter, ty)
	})
}
