package plan

import (
	"fmt"
	"strings"
)

// Printing the plan out, for testing, debugging, explain etc ...

func joinExprs(exprs []Expr) string {
	s := make([]string, 0, len(exprs))
	for _, e := range exprs {
		s = append(s, e.String())
	}
	return strings.Join(s, ", ")
}

// Describe renders the single node p, without its inputs.
func Describe(p LogicalPlan) string {
	switch p.Type() {
	case PlanEmptyRelation:
		if p.(*EmptyRelation).ProduceOneRow {
			return "EmptyRelation: produce_one_row=true"
		}
		return "EmptyRelation"

	case PlanTableScan:
		t := p.(*TableScan)
		if t.Projection == nil {
			return "TableScan: " + t.Name
		}
		names := []string{}
		for _, f := range t.Schema().Fields() {
			names = append(names, f.Name)
		}
		return fmt.Sprintf("TableScan: %s projection=[%s]", t.Name, strings.Join(names, ", "))

	case PlanFilter:
		return "Filter: " + p.(*Filter).Predicate.String()

	case PlanProjection:
		return "Projection: " + joinExprs(p.(*Projection).Exprs)

	case PlanAggregate:
		a := p.(*Aggregate)
		return fmt.Sprintf("Aggregate: groupBy=[[%s]], aggr=[[%s]]", joinExprs(a.GroupExprs), joinExprs(a.AggrExprs))

	case PlanSort:
		return "Sort: " + joinExprs(p.(*Sort).Exprs)

	case PlanLimit:
		l := p.(*Limit)
		if l.Fetch < 0 {
			return fmt.Sprintf("Limit: skip=%d, fetch=None", l.Skip)
		}
		return fmt.Sprintf("Limit: skip=%d, fetch=%d", l.Skip, l.Fetch)

	case PlanDistinct:
		return "Distinct:"

	case PlanJoin:
		j := p.(*Join)
		on := make([]string, 0, len(j.On))
		for _, x := range j.On {
			on = append(on, x.Left.String()+" = "+x.Right.String())
		}
		s := fmt.Sprintf("%s Join: %s", j.JoinType, strings.Join(on, ", "))
		if j.Filter != nil {
			s += " Filter: " + j.Filter.String()
		}
		return s

	case PlanSubqueryAlias:
		return "SubqueryAlias: " + p.(*SubqueryAlias).Alias

	default:
		panic("unknown plan")
	}
}

func doDisplay(p LogicalPlan, level int, buf *strings.Builder) {
	buf.WriteString(strings.Repeat("  ", level))
	buf.WriteString(Describe(p))
	buf.WriteString("\n")
	for _, x := range p.Inputs() {
		doDisplay(x, level+1, buf)
	}
}

// Display renders the plan tree, one node per line, children indented.
func Display(p LogicalPlan) string {
	buf := &strings.Builder{}
	doDisplay(p, 0, buf)
	return buf.String()
}
