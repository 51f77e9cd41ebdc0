package plan

import (
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

// CloneWithReplacement rebuilds e. fn is tried on every node first, a non
// nil result replaces that whole subtree; otherwise the children are rebuilt
// the same way. Subtrees fn left alone are shared with e, not copied.
func CloneWithReplacement(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	r, err := fn(e)
	if err != nil {
		return nil, err
	}
	if r != nil {
		return r, nil
	}

	switch e.Type() {
	case ExprColumn, ExprLiteral, ExprWildcard, ExprScalarVariable:
		return e, nil

	case ExprAlias:
		a := e.(*Alias)
		inner, err := CloneWithReplacement(a.Expr, fn)
		if err != nil {
			return nil, err
		}
		if inner == a.Expr {
			return e, nil
		}
		return NewAlias(inner, a.Name), nil

	case ExprBinary:
		b := e.(*Binary)
		l, err := CloneWithReplacement(b.Left, fn)
		if err != nil {
			return nil, err
		}
		r, err := CloneWithReplacement(b.Right, fn)
		if err != nil {
			return nil, err
		}
		if l == b.Left && r == b.Right {
			return e, nil
		}
		return NewBinary(l, b.Op, r), nil

	case ExprAggregate:
		a := e.(*AggregateFunction)
		changed := false
		args := make([]Expr, len(a.Args))
		for idx, x := range a.Args {
			y, err := CloneWithReplacement(x, fn)
			if err != nil {
				return nil, err
			}
			changed = changed || y != x
			args[idx] = y
		}
		filter := a.Filter
		if filter != nil {
			if filter, err = CloneWithReplacement(a.Filter, fn); err != nil {
				return nil, err
			}
			changed = changed || filter != a.Filter
		}
		if !changed {
			return e, nil
		}
		return &AggregateFunction{Kind: a.Kind, Args: args, Distinct: a.Distinct, Filter: filter}, nil

	case ExprOrderBy:
		o := e.(*OrderBy)
		inner, err := CloneWithReplacement(o.Expr, fn)
		if err != nil {
			return nil, err
		}
		if inner == o.Expr {
			return e, nil
		}
		return NewOrderBy(inner, o.Asc), nil

	default:
		panic("unknown expression")
	}
}

// ExprEqual compares two expressions structurally.
func ExprEqual(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch a.Type() {
	case ExprColumn:
		x, y := a.(*Column), b.(*Column)
		return x.Name == y.Name && x.Relation == y.Relation
	case ExprLiteral:
		return a.(*Literal).Value.Equal(b.(*Literal).Value)
	case ExprAlias:
		x, y := a.(*Alias), b.(*Alias)
		return x.Name == y.Name && ExprEqual(x.Expr, y.Expr)
	case ExprBinary:
		x, y := a.(*Binary), b.(*Binary)
		return x.Op == y.Op && ExprEqual(x.Left, y.Left) && ExprEqual(x.Right, y.Right)
	case ExprAggregate:
		x, y := a.(*AggregateFunction), b.(*AggregateFunction)
		if x.Kind != y.Kind || x.Distinct != y.Distinct || len(x.Args) != len(y.Args) {
			return false
		}
		for idx := range x.Args {
			if !ExprEqual(x.Args[idx], y.Args[idx]) {
				return false
			}
		}
		return ExprEqual(x.Filter, y.Filter)
	case ExprWildcard:
		return a.(*Wildcard).Relation == b.(*Wildcard).Relation
	case ExprScalarVariable:
		x, y := a.(*ScalarVariable), b.(*ScalarVariable)
		if len(x.Names) != len(y.Names) {
			return false
		}
		for idx := range x.Names {
			if x.Names[idx] != y.Names[idx] {
				return false
			}
		}
		return true
	case ExprOrderBy:
		x, y := a.(*OrderBy), b.(*OrderBy)
		return x.Asc == y.Asc && ExprEqual(x.Expr, y.Expr)
	default:
		panic("unknown expression")
	}
}

// VisitExpr walks e in pre order, fn returning false skips the children.
func VisitExpr(e Expr, fn func(Expr) bool) {
	if !fn(e) {
		return
	}
	switch e.Type() {
	case ExprAlias:
		VisitExpr(e.(*Alias).Expr, fn)
	case ExprBinary:
		b := e.(*Binary)
		VisitExpr(b.Left, fn)
		VisitExpr(b.Right, fn)
	case ExprAggregate:
		a := e.(*AggregateFunction)
		for _, x := range a.Args {
			VisitExpr(x, fn)
		}
		if a.Filter != nil {
			VisitExpr(a.Filter, fn)
		}
	case ExprOrderBy:
		VisitExpr(e.(*OrderBy).Expr, fn)
	}
}

// ExprColumns lists the distinct columns e references, in order of first
// appearance.
func ExprColumns(exprs ...Expr) []*Column {
	seen := make(map[string]bool)
	out := []*Column{}
	for _, e := range exprs {
		VisitExpr(e, func(x Expr) bool {
			if c, ok := x.(*Column); ok {
				if key := c.FlatName(); !seen[key] {
					seen[key] = true
					out = append(out, c)
				}
			}
			return true
		})
	}
	return out
}

// FindAggregates collects the structurally distinct aggregate calls nested in
// exprs, in order of first appearance.
func FindAggregates(exprs ...Expr) []Expr {
	out := []Expr{}
	for _, e := range exprs {
		VisitExpr(e, func(x Expr) bool {
			if x.Type() != ExprAggregate {
				return true
			}
			for _, y := range out {
				if ExprEqual(x, y) {
					return false
				}
			}
			out = append(out, x)
			return false
		})
	}
	return out
}

func HasAggregate(e Expr) bool {
	return len(FindAggregates(e)) > 0
}

// ExprAsColumn is the column that refers to the output of e once e has been
// computed by a node with input schema s.
func ExprAsColumn(e Expr, s *schema.Schema) (*Column, error) {
	if c, ok := e.(*Column); ok {
		idx, err := ResolveColumn(c, s)
		if err != nil {
			return nil, err
		}
		return ColumnOf(s.Field(idx)), nil
	}
	return NewColumn("", ExprName(e)), nil
}

// RebaseExpr replaces every subexpression of e equal to one of bases with a
// column reading the output of that base.
func RebaseExpr(e Expr, bases []Expr, input *schema.Schema) (Expr, error) {
	return CloneWithReplacement(e, func(x Expr) (Expr, error) {
		for _, b := range bases {
			if ExprEqual(x, b) {
				return ExprAsColumn(b, input)
			}
		}
		return nil, nil
	})
}

// NormalizeColumn qualifies c against the first schema that knows its name.
// An unqualified name matching fields of more than one qualifier is
// ambiguous.
func NormalizeColumn(c *Column, schemas ...*schema.Schema) (*Column, error) {
	if c.Relation != "" {
		for _, s := range schemas {
			if s.HasField(c.Relation, c.Name) {
				return c, nil
			}
		}
		return nil, errs.Unresolved("plan", "column %s not found", c.FlatName())
	}

	for _, s := range schemas {
		quals := []string{}
		for _, f := range s.Fields() {
			if f.Name != c.Name {
				continue
			}
			dup := false
			for _, q := range quals {
				if q == f.Qualifier {
					dup = true
				}
			}
			if !dup {
				quals = append(quals, f.Qualifier)
			}
		}
		switch len(quals) {
		case 0:
			continue
		case 1:
			return NewColumn(quals[0], c.Name), nil
		default:
			return nil, errs.Unresolved("plan", "ambiguous column %s, candidates %v", c.Name, quals)
		}
	}
	return nil, errs.Unresolved("plan", "column %s not found", c.Name)
}

// NormalizeExpr qualifies every column of e.
func NormalizeExpr(e Expr, schemas ...*schema.Schema) (Expr, error) {
	return CloneWithReplacement(e, func(x Expr) (Expr, error) {
		if c, ok := x.(*Column); ok {
			return NormalizeColumn(c, schemas...)
		}
		return nil, nil
	})
}

// ResolveAliases substitutes unqualified references to an alias with the
// aliased expression.
func ResolveAliases(e Expr, aliases map[string]Expr) (Expr, error) {
	return CloneWithReplacement(e, func(x Expr) (Expr, error) {
		if c, ok := x.(*Column); ok && c.Relation == "" {
			if a, ok := aliases[c.Name]; ok {
				return a, nil
			}
		}
		return nil, nil
	})
}

// UnAlias strips a top level alias.
func UnAlias(e Expr) Expr {
	if a, ok := e.(*Alias); ok {
		return a.Expr
	}
	return e
}

// SplitConjunction flattens a chain of AND into its operands.
func SplitConjunction(e Expr) []Expr {
	if b, ok := e.(*Binary); ok && b.Op == OpAnd {
		return append(SplitConjunction(b.Left), SplitConjunction(b.Right)...)
	}
	return []Expr{e}
}

// Conjunction joins exprs with AND, nil when empty.
func Conjunction(exprs []Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if out == nil {
			out = e
		} else {
			out = NewBinary(out, OpAnd, e)
		}
	}
	return out
}
