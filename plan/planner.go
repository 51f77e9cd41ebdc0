package plan

import (
	"github.com/dianpeng/colsql/accum"
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
	"github.com/dianpeng/colsql/sql"
)

// Lowering a SELECT statement into a logical plan. The plan is built bottom
// up, each clause wraps what has been built so far:
//
//  1. FROM, a TableScan per table (wrapped by a SubqueryAlias when the table
//     is aliased) and one Join per join clause. No FROM at all yields an
//     EmptyRelation which produces a single row without columns.
//
//  2. WHERE, a Filter.
//
//  3. GROUP BY and aggregates. The aggregate calls are collected from the
//     projection, HAVING and ORDER BY. When there is any of them, or a GROUP
//     BY, an Aggregate node computes the group keys followed by the
//     aggregate results. Every expression above it is rebased, ie a
//     subexpression equal to a group key or an aggregate call turns into a
//     column reading the Aggregate output, since past the Aggregate nothing
//     else exists.
//
//  4. HAVING, a Filter above the Aggregate.
//
//  5. The projection, followed by Distinct if asked.
//
//  6. ORDER BY, a Sort. A sort key reading a column the projection dropped
//     makes the projection carry that column too, the Sort runs over it and
//     a last Projection restores the requested output.
//
//  7. LIMIT / OFFSET, a Limit.
//
// HAVING and GROUP BY may refer to a projection alias, such references are
// replaced with the aliased expression before anything else.

// Catalog resolves the table names used in FROM.
type Catalog interface {
	Table(name string) (TableSource, bool)
}

type sqlPlanner struct {
	catalog Catalog
}

// PlanSQL lowers a parsed statement.
func PlanSQL(code *sql.Code, catalog Catalog) (LogicalPlan, error) {
	return PlanSelect(code.Select, catalog)
}

// PlanSelect lowers one SELECT.
func PlanSelect(s *sql.Select, catalog Catalog) (LogicalPlan, error) {
	p := &sqlPlanner{catalog: catalog}
	return p.planSelect(s)
}

func (self *sqlPlanner) planSelect(s *sql.Select) (LogicalPlan, error) {
	input, err := self.planFrom(s.From)
	if err != nil {
		return nil, err
	}

	// where
	if s.Where != nil {
		cond, err := self.toExpr(s.Where.Condition)
		if err != nil {
			return nil, err
		}
		if HasAggregate(cond) {
			return nil, errs.InvalidPlan("plan", "aggregate functions are not allowed in WHERE")
		}
		if input, err = From(input).Filter(cond).Build(); err != nil {
			return nil, err
		}
	}

	// projection
	selectExprs, err := self.planProjectionList(s.Projection, input)
	if err != nil {
		return nil, err
	}
	projSchema, err := ExprsToSchema(selectExprs, input.Schema())
	if err != nil {
		return nil, err
	}
	combined := projSchema.Merge(input.Schema())

	aliases := make(map[string]Expr)
	for _, e := range selectExprs {
		if a, ok := e.(*Alias); ok {
			aliases[a.Name] = a.Expr
		}
	}

	// group by / having / order by are resolved against the projection
	// first, then the input
	groupExprs := []Expr{}
	if s.GroupBy != nil {
		for _, g := range s.GroupBy.Name {
			e, err := self.toAliasedExpr(g, combined, aliases)
			if err != nil {
				return nil, err
			}
			groupExprs = append(groupExprs, e)
		}
	}

	var having Expr
	if s.Having != nil {
		if having, err = self.toAliasedExpr(s.Having.Condition, combined, aliases); err != nil {
			return nil, err
		}
	}

	orderExprs := []Expr{}
	if s.OrderBy != nil {
		for _, item := range s.OrderBy.Item {
			e, err := self.toExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			if e, err = NormalizeExpr(e, combined); err != nil {
				return nil, err
			}
			orderExprs = append(orderExprs, NewOrderBy(e, !item.Desc))
		}
	}

	// aggregation
	all := append([]Expr{}, selectExprs...)
	if having != nil {
		all = append(all, having)
	}
	all = append(all, orderExprs...)
	aggrExprs := FindAggregates(all...)

	if len(groupExprs) > 0 || len(aggrExprs) > 0 {
		agg, err := NewAggregate(input, groupExprs, aggrExprs)
		if err != nil {
			return nil, err
		}
		bases := append(append([]Expr{}, groupExprs...), aggrExprs...)
		rebase := func(e Expr) (Expr, error) {
			return RebaseExpr(e, bases, input.Schema())
		}

		for idx, e := range selectExprs {
			if selectExprs[idx], err = rebase(e); err != nil {
				return nil, err
			}
			if err := self.checkAggregated(selectExprs[idx], agg.Schema()); err != nil {
				return nil, err
			}
		}
		if having != nil {
			if having, err = rebase(having); err != nil {
				return nil, err
			}
			if err := self.checkAggregated(having, agg.Schema()); err != nil {
				return nil, err
			}
		}
		for idx, e := range orderExprs {
			if orderExprs[idx], err = rebase(e); err != nil {
				return nil, err
			}
		}
		input = agg
	}

	if having != nil {
		if input, err = NewFilter(input, having); err != nil {
			return nil, err
		}
	}

	proj, err := NewProjection(input, selectExprs)
	if err != nil {
		return nil, err
	}
	var out LogicalPlan = proj

	if s.Distinct {
		out = NewDistinct(out)
	}

	if len(orderExprs) > 0 {
		if out, err = self.planSort(out, proj, input, selectExprs, orderExprs, s.Distinct); err != nil {
			return nil, err
		}
	}

	return self.planLimit(out, s.Limit, s.Offset)
}

// checkAggregated makes sure e only reads the output of the aggregate.
func (self *sqlPlanner) checkAggregated(e Expr, aggSchema *schema.Schema) error {
	for _, c := range ExprColumns(e) {
		if aggSchema.IndexOf(c.Relation, c.Name) < 0 {
			return errs.InvalidPlan(
				"plan",
				"column %s must appear in the GROUP BY clause or be used in an aggregate function",
				c.FlatName(),
			)
		}
	}
	return nil
}

func (self *sqlPlanner) toAliasedExpr(x sql.Expr, s *schema.Schema, aliases map[string]Expr) (Expr, error) {
	e, err := self.toExpr(x)
	if err != nil {
		return nil, err
	}
	if e, err = NormalizeExpr(e, s); err != nil {
		return nil, err
	}
	return ResolveAliases(e, aliases)
}

// ----------------------------------------------------------------------------
// From
// ----------------------------------------------------------------------------

func (self *sqlPlanner) planTable(t *sql.TableRef) (LogicalPlan, error) {
	src, ok := self.catalog.Table(t.Name)
	if !ok {
		return nil, errs.Unresolved("plan", "table %s not found", t.Name)
	}
	scan, err := NewTableScan(t.Name, src, nil)
	if err != nil {
		return nil, err
	}
	if t.Alias != "" && t.Alias != t.Name {
		return NewSubqueryAlias(scan, t.Alias), nil
	}
	return scan, nil
}

func (self *sqlPlanner) planFrom(f *sql.From) (LogicalPlan, error) {
	if f == nil {
		return NewEmptyRelation(true), nil
	}
	left, err := self.planTable(f.Table)
	if err != nil {
		return nil, err
	}
	for _, j := range f.Join {
		right, err := self.planTable(j.Table)
		if err != nil {
			return nil, err
		}
		if left, err = self.planJoin(left, right, j); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func joinTypeOf(kind int) JoinType {
	switch kind {
	case sql.JoinLeft:
		return JoinLeft
	case sql.JoinRight:
		return JoinRight
	case sql.JoinFull:
		return JoinFull
	default:
		return JoinInner
	}
}

// sideOf tells which input a column belongs to, 0 for left, 1 for right and
// -1 when it resolves in neither or both.
func sideOf(c *Column, left, right *schema.Schema) (*Column, int) {
	l, lerr := NormalizeColumn(c, left)
	r, rerr := NormalizeColumn(c, right)
	switch {
	case lerr == nil && rerr != nil:
		return l, 0
	case rerr == nil && lerr != nil:
		return r, 1
	default:
		return nil, -1
	}
}

// planJoin splits the ON condition: every conjunct of the shape lcol = rcol
// with one column per side is an equality key, the rest is the residual
// filter evaluated over the joined row.
func (self *sqlPlanner) planJoin(left, right LogicalPlan, j *sql.Join) (LogicalPlan, error) {
	cond, err := self.toExpr(j.On)
	if err != nil {
		return nil, err
	}
	ls, rs := left.Schema(), right.Schema()

	on := []JoinOn{}
	rest := []Expr{}
	for _, e := range SplitConjunction(cond) {
		if b, ok := e.(*Binary); ok && b.Op == OpEq {
			lc, lok := b.Left.(*Column)
			rc, rok := b.Right.(*Column)
			if lok && rok {
				x, xs := sideOf(lc, ls, rs)
				y, ys := sideOf(rc, ls, rs)
				if xs == 0 && ys == 1 {
					on = append(on, JoinOn{Left: x, Right: y})
					continue
				}
				if xs == 1 && ys == 0 {
					on = append(on, JoinOn{Left: y, Right: x})
					continue
				}
			}
		}
		n, err := NormalizeExpr(e, ls.Join(rs))
		if err != nil {
			return nil, err
		}
		rest = append(rest, n)
	}
	return NewJoin(left, right, on, Conjunction(rest), joinTypeOf(j.Kind))
}

// ----------------------------------------------------------------------------
// Projection
// ----------------------------------------------------------------------------

func (self *sqlPlanner) planProjectionList(p *sql.Projection, input LogicalPlan) ([]Expr, error) {
	out := []Expr{}
	for _, v := range p.ValueList {
		switch v.Type() {
		case sql.SelectVarStar:
			cols, err := ExpandWildcard(&Wildcard{Relation: v.(*sql.Star).Table}, input.Schema())
			if err != nil {
				return nil, err
			}
			out = append(out, cols...)

		default:
			col := v.(*sql.Col)
			e, err := self.toExpr(col.Value)
			if err != nil {
				return nil, err
			}
			if e, err = NormalizeExpr(e, input.Schema()); err != nil {
				return nil, err
			}
			if col.As != "" {
				e = NewAlias(e, col.As)
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Sort and limit
// ----------------------------------------------------------------------------

func (self *sqlPlanner) planSort(
	out LogicalPlan, // projection, or distinct over it
	proj *Projection,
	projInput LogicalPlan,
	selectExprs []Expr,
	orderExprs []Expr,
	distinct bool,
) (LogicalPlan, error) {
	projOut := proj.Schema()
	missing := []Expr{}

	addMissing := func(c *Column) {
		for _, m := range missing {
			if ExprEqual(m, c) {
				return
			}
		}
		missing = append(missing, c)
	}

	sortExprs := make([]Expr, 0, len(orderExprs))
	for _, o := range orderExprs {
		ob := o.(*OrderBy)
		e, err := CloneWithReplacement(ob.Expr, func(x Expr) (Expr, error) {
			// a key spelled like a select item reads its output
			for idx, se := range selectExprs {
				if (x.Type() != ExprColumn || se.Type() == ExprAlias) && ExprEqual(UnAlias(se), x) {
					return ColumnOf(projOut.Field(idx)), nil
				}
			}
			c, ok := x.(*Column)
			if !ok {
				return nil, nil
			}
			if n, err := NormalizeColumn(c, projOut); err == nil {
				return n, nil
			}
			n, err := NormalizeColumn(c, projInput.Schema())
			if err != nil {
				return nil, err
			}
			addMissing(n)
			return n, nil
		})
		if err != nil {
			return nil, err
		}
		sortExprs = append(sortExprs, NewOrderBy(e, ob.Asc))
	}

	if len(missing) == 0 {
		return NewSort(out, sortExprs)
	}
	if distinct {
		return nil, errs.InvalidPlan("plan", "for SELECT DISTINCT, ORDER BY expressions must appear in the select list")
	}

	wide, err := NewProjection(projInput, append(append([]Expr{}, selectExprs...), missing...))
	if err != nil {
		return nil, err
	}
	sorted, err := NewSort(wide, sortExprs)
	if err != nil {
		return nil, err
	}
	restore := make([]Expr, 0, projOut.Len())
	for idx := 0; idx < projOut.Len(); idx++ {
		restore = append(restore, ColumnOf(wide.Schema().Field(idx)))
	}
	return NewProjection(sorted, restore)
}

func (self *sqlPlanner) literalInt(e sql.Expr, what string) (int, error) {
	c, ok := e.(*sql.Const)
	if !ok || c.Ty != sql.ConstInt {
		return 0, errs.InvalidPlan("plan", "%s value %s is not a literal integer", what, sql.PrintExpr(e))
	}
	if c.Int < 0 {
		return 0, errs.InvalidPlan("plan", "%s value %d is negative", what, c.Int)
	}
	return int(c.Int), nil
}

func (self *sqlPlanner) planLimit(input LogicalPlan, limit *sql.Limit, offset *sql.Offset) (LogicalPlan, error) {
	if limit == nil && offset == nil {
		return input, nil
	}
	skip, fetch := 0, -1
	if offset != nil {
		v, err := self.literalInt(offset.Value, "offset")
		if err != nil {
			return nil, err
		}
		skip = v
	}
	if limit != nil {
		v, err := self.literalInt(limit.Value, "limit")
		if err != nil {
			return nil, err
		}
		fetch = v
	}
	return NewLimit(input, skip, fetch)
}

// ----------------------------------------------------------------------------
// Expression
// ----------------------------------------------------------------------------

func binaryOp(tk int) (Operator, bool) {
	switch tk {
	case sql.TkEq:
		return OpEq, true
	case sql.TkNe:
		return OpNotEq, true
	case sql.TkLt:
		return OpLt, true
	case sql.TkLe:
		return OpLtEq, true
	case sql.TkGt:
		return OpGt, true
	case sql.TkGe:
		return OpGtEq, true
	case sql.TkAdd:
		return OpPlus, true
	case sql.TkSub:
		return OpMinus, true
	case sql.TkMul:
		return OpMultiply, true
	case sql.TkDiv:
		return OpDivide, true
	case sql.TkMod:
		return OpModulo, true
	case sql.TkAnd:
		return OpAnd, true
	case sql.TkOr:
		return OpOr, true
	case sql.TkLike:
		return OpLike, true
	case sql.TkNotLike:
		return OpNotLike, true
	default:
		return OpEq, false
	}
}

func (self *sqlPlanner) toConst(c *sql.Const) *Literal {
	switch c.Ty {
	case sql.ConstInt:
		return LitInt(c.Int)
	case sql.ConstReal:
		return LitFloat(c.Real)
	case sql.ConstBool:
		return LitBool(c.Bool)
	case sql.ConstStr:
		return LitStr(c.String)
	default:
		return NewLiteral(data.NullScalar(schema.TypeNull))
	}
}

func (self *sqlPlanner) toCall(c *sql.Call) (Expr, error) {
	kind, ok := accum.ParseAggKind(c.Name)
	if !ok {
		return nil, errs.Unsupported("plan", "function %s is not supported", c.Name)
	}
	args := []Expr{}
	if c.Star {
		if kind != accum.AggCount {
			return nil, errs.InvalidPlan("plan", "%s(*) is not allowed", c.Name)
		}
		args = append(args, &Wildcard{})
	}
	for _, p := range c.Parameters {
		e, err := self.toExpr(p)
		if err != nil {
			return nil, err
		}
		if HasAggregate(e) {
			return nil, errs.InvalidPlan("plan", "aggregate call nested in %s", c.Name)
		}
		args = append(args, e)
	}
	if len(args) != kind.ArgCount() {
		return nil, errs.InvalidPlan("plan", "%s expects %d argument(s), got %d", c.Name, kind.ArgCount(), len(args))
	}
	return NewAggregateFunction(kind, c.Distinct, args...), nil
}

func (self *sqlPlanner) toExpr(x sql.Expr) (Expr, error) {
	switch x.Type() {
	case sql.ExprConst:
		return self.toConst(x.(*sql.Const)), nil

	case sql.ExprRef:
		r := x.(*sql.Ref)
		return NewColumn(r.Table, r.Id), nil

	case sql.ExprCall:
		return self.toCall(x.(*sql.Call))

	case sql.ExprVar:
		return &ScalarVariable{Names: x.(*sql.Var).Name}, nil

	case sql.ExprUnary:
		u := x.(*sql.Unary)
		operand, err := self.toExpr(u.Operand)
		if err != nil {
			return nil, err
		}
		switch u.Op {
		case sql.TkSub:
			return NewBinary(LitInt(0), OpMinus, operand), nil
		case sql.TkNot:
			return NewBinary(operand, OpEq, LitBool(false)), nil
		default:
			return nil, errs.Unsupported("plan", "unary operator %s", sql.TokenName(u.Op))
		}

	case sql.ExprBinary:
		b := x.(*sql.Binary)
		op, ok := binaryOp(b.Op)
		if !ok {
			return nil, errs.Unsupported("plan", "binary operator %s", sql.TokenName(b.Op))
		}
		l, err := self.toExpr(b.L)
		if err != nil {
			return nil, err
		}
		r, err := self.toExpr(b.R)
		if err != nil {
			return nil, err
		}
		return NewBinary(l, op, r), nil

	default:
		return nil, errs.Unsupported("plan", "expression %s", sql.PrintExpr(x))
	}
}
