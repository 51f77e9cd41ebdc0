package plan

import (
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

const (
	PlanEmptyRelation = iota
	PlanTableScan
	PlanFilter
	PlanProjection
	PlanAggregate
	PlanSort
	PlanLimit
	PlanDistinct
	PlanJoin
	PlanSubqueryAlias
)

// LogicalPlan is one node of a logical plan tree. Every node's schema is
// derived from its inputs and its own parameters only, WithNewInputs relies
// on that to rebuild a node over rewritten children.
type LogicalPlan interface {
	Type() int
	Schema() *schema.Schema
	Inputs() []LogicalPlan

	logicalPlan()
}

// TableSource is what a TableScan reads from. The physical planner requires
// the concrete source to also know how to scan itself.
type TableSource interface {
	Schema() *schema.Schema
}

type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinLeftSemi
	JoinLeftAnti
	JoinRightSemi
	JoinRightAnti
)

func (self JoinType) String() string {
	switch self {
	case JoinInner:
		return "Inner"
	case JoinLeft:
		return "Left"
	case JoinRight:
		return "Right"
	case JoinFull:
		return "Full"
	case JoinLeftSemi:
		return "LeftSemi"
	case JoinLeftAnti:
		return "LeftAnti"
	case JoinRightSemi:
		return "RightSemi"
	default:
		return "RightAnti"
	}
}

type JoinConstraint int

const (
	JoinConstraintOn JoinConstraint = iota
	JoinConstraintUsing
)

// JoinOn is one equality pair, Left resolves in the left input and Right in
// the right input.
type JoinOn struct {
	Left  *Column
	Right *Column
}

type EmptyRelation struct {
	ProduceOneRow bool
	schema        *schema.Schema
}

type TableScan struct {
	Name   string
	Source TableSource

	// Projection is the list of source column indices, nil means every
	// column.
	Projection []int
	schema     *schema.Schema
}

type Filter struct {
	Input     LogicalPlan
	Predicate Expr
}

type Projection struct {
	Input  LogicalPlan
	Exprs  []Expr
	schema *schema.Schema
}

type Aggregate struct {
	Input      LogicalPlan
	GroupExprs []Expr
	AggrExprs  []Expr
	schema     *schema.Schema
}

type Sort struct {
	Input LogicalPlan
	Exprs []Expr // *OrderBy
}

// Limit skips Skip rows then emits at most Fetch rows, a negative Fetch is
// unbounded.
type Limit struct {
	Input LogicalPlan
	Skip  int
	Fetch int
}

type Distinct struct {
	Input LogicalPlan
}

type Join struct {
	Left       LogicalPlan
	Right      LogicalPlan
	On         []JoinOn
	Filter     Expr
	JoinType   JoinType
	Constraint JoinConstraint
	schema     *schema.Schema
}

type SubqueryAlias struct {
	Input  LogicalPlan
	Alias  string
	schema *schema.Schema
}

func (self *EmptyRelation) Type() int { return PlanEmptyRelation }
func (self *TableScan) Type() int     { return PlanTableScan }
func (self *Filter) Type() int        { return PlanFilter }
func (self *Projection) Type() int    { return PlanProjection }
func (self *Aggregate) Type() int     { return PlanAggregate }
func (self *Sort) Type() int          { return PlanSort }
func (self *Limit) Type() int         { return PlanLimit }
func (self *Distinct) Type() int      { return PlanDistinct }
func (self *Join) Type() int          { return PlanJoin }
func (self *SubqueryAlias) Type() int { return PlanSubqueryAlias }

func (self *EmptyRelation) Schema() *schema.Schema { return self.schema }
func (self *TableScan) Schema() *schema.Schema     { return self.schema }
func (self *Filter) Schema() *schema.Schema        { return self.Input.Schema() }
func (self *Projection) Schema() *schema.Schema    { return self.schema }
func (self *Aggregate) Schema() *schema.Schema     { return self.schema }
func (self *Sort) Schema() *schema.Schema          { return self.Input.Schema() }
func (self *Limit) Schema() *schema.Schema         { return self.Input.Schema() }
func (self *Distinct) Schema() *schema.Schema      { return self.Input.Schema() }
func (self *Join) Schema() *schema.Schema          { return self.schema }
func (self *SubqueryAlias) Schema() *schema.Schema { return self.schema }

func (self *EmptyRelation) Inputs() []LogicalPlan { return nil }
func (self *TableScan) Inputs() []LogicalPlan     { return nil }
func (self *Filter) Inputs() []LogicalPlan        { return []LogicalPlan{self.Input} }
func (self *Projection) Inputs() []LogicalPlan    { return []LogicalPlan{self.Input} }
func (self *Aggregate) Inputs() []LogicalPlan     { return []LogicalPlan{self.Input} }
func (self *Sort) Inputs() []LogicalPlan          { return []LogicalPlan{self.Input} }
func (self *Limit) Inputs() []LogicalPlan         { return []LogicalPlan{self.Input} }
func (self *Distinct) Inputs() []LogicalPlan      { return []LogicalPlan{self.Input} }
func (self *Join) Inputs() []LogicalPlan          { return []LogicalPlan{self.Left, self.Right} }
func (self *SubqueryAlias) Inputs() []LogicalPlan { return []LogicalPlan{self.Input} }

func (self *EmptyRelation) logicalPlan() {}
func (self *TableScan) logicalPlan()     {}
func (self *Filter) logicalPlan()        {}
func (self *Projection) logicalPlan()    {}
func (self *Aggregate) logicalPlan()     {}
func (self *Sort) logicalPlan()          {}
func (self *Limit) logicalPlan()         {}
func (self *Distinct) logicalPlan()      {}
func (self *Join) logicalPlan()          {}
func (self *SubqueryAlias) logicalPlan() {}

// ----------------------------------------------------------------------------
// Constructors, each one validates its expressions against the input schema
// ----------------------------------------------------------------------------

func NewEmptyRelation(produceOneRow bool) *EmptyRelation {
	return &EmptyRelation{ProduceOneRow: produceOneRow, schema: schema.Empty()}
}

// NewTableScan scans source under name. Every field is qualified by name.
func NewTableScan(name string, source TableSource, projection []int) (*TableScan, error) {
	full := source.Schema().WithQualifier(name)
	s := full
	if projection != nil {
		p, err := full.Project(projection)
		if err != nil {
			return nil, err
		}
		s = p
	}
	return &TableScan{Name: name, Source: source, Projection: projection, schema: s}, nil
}

// SourceSchema is the full schema of the source, qualified by the table name.
func (self *TableScan) SourceSchema() *schema.Schema {
	return self.Source.Schema().WithQualifier(self.Name)
}

func NewFilter(input LogicalPlan, predicate Expr) (*Filter, error) {
	ty, err := DataTypeOf(predicate, input.Schema())
	if err != nil {
		return nil, err
	}
	if ty != schema.TypeBoolean && ty != schema.TypeNull {
		return nil, errs.TypeMismatch("plan", "filter predicate %s must be Boolean, got %s", predicate, ty)
	}
	return &Filter{Input: input, Predicate: predicate}, nil
}

func NewProjection(input LogicalPlan, exprs []Expr) (*Projection, error) {
	s, err := ExprsToSchema(exprs, input.Schema())
	if err != nil {
		return nil, err
	}
	return &Projection{Input: input, Exprs: exprs, schema: s}, nil
}

func NewAggregate(input LogicalPlan, groupExprs, aggrExprs []Expr) (*Aggregate, error) {
	for _, e := range aggrExprs {
		if UnAlias(e).Type() != ExprAggregate {
			return nil, errs.InvalidPlan("plan", "%s is not an aggregate expression", e)
		}
	}
	for _, e := range groupExprs {
		if HasAggregate(e) {
			return nil, errs.InvalidPlan("plan", "aggregate %s is not allowed in group by", e)
		}
	}
	all := make([]Expr, 0, len(groupExprs)+len(aggrExprs))
	all = append(all, groupExprs...)
	all = append(all, aggrExprs...)
	s, err := ExprsToSchema(all, input.Schema())
	if err != nil {
		return nil, err
	}
	return &Aggregate{Input: input, GroupExprs: groupExprs, AggrExprs: aggrExprs, schema: s}, nil
}

func NewSort(input LogicalPlan, exprs []Expr) (*Sort, error) {
	out := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e.Type() != ExprOrderBy {
			e = NewOrderBy(e, true)
		}
		if _, err := DataTypeOf(e, input.Schema()); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return &Sort{Input: input, Exprs: out}, nil
}

func NewLimit(input LogicalPlan, skip, fetch int) (*Limit, error) {
	if skip < 0 {
		return nil, errs.InvalidPlan("plan", "negative offset %d", skip)
	}
	return &Limit{Input: input, Skip: skip, Fetch: fetch}, nil
}

func NewDistinct(input LogicalPlan) *Distinct {
	return &Distinct{Input: input}
}

// JoinSchema is the output schema of every join type: left ++ right. Semi and
// anti joins fill the side they do not emit with nulls.
func JoinSchema(left, right *schema.Schema) *schema.Schema {
	return left.Join(right)
}

func NewJoin(left, right LogicalPlan, on []JoinOn, filter Expr, ty JoinType) (*Join, error) {
	for _, p := range on {
		if _, err := ResolveColumn(p.Left, left.Schema()); err != nil {
			return nil, err
		}
		if _, err := ResolveColumn(p.Right, right.Schema()); err != nil {
			return nil, err
		}
	}
	if filter != nil {
		ty, err := DataTypeOf(filter, left.Schema().Join(right.Schema()))
		if err != nil {
			return nil, err
		}
		if ty != schema.TypeBoolean && ty != schema.TypeNull {
			return nil, errs.TypeMismatch("plan", "join filter %s must be Boolean, got %s", filter, ty)
		}
	}
	return &Join{
		Left:       left,
		Right:      right,
		On:         on,
		Filter:     filter,
		JoinType:   ty,
		Constraint: JoinConstraintOn,
		schema:     JoinSchema(left.Schema(), right.Schema()),
	}, nil
}

func NewSubqueryAlias(input LogicalPlan, alias string) *SubqueryAlias {
	return &SubqueryAlias{
		Input:  input,
		Alias:  alias,
		schema: input.Schema().WithQualifier(alias),
	}
}

// WithNewInputs rebuilds p over inputs, deriving the schema again.
func WithNewInputs(p LogicalPlan, inputs []LogicalPlan) (LogicalPlan, error) {
	if len(inputs) != len(p.Inputs()) {
		return nil, errs.InvalidPlan("plan", "expect %d inputs, got %d", len(p.Inputs()), len(inputs))
	}
	switch p.Type() {
	case PlanEmptyRelation, PlanTableScan:
		return p, nil
	case PlanFilter:
		return NewFilter(inputs[0], p.(*Filter).Predicate)
	case PlanProjection:
		return NewProjection(inputs[0], p.(*Projection).Exprs)
	case PlanAggregate:
		a := p.(*Aggregate)
		return NewAggregate(inputs[0], a.GroupExprs, a.AggrExprs)
	case PlanSort:
		return NewSort(inputs[0], p.(*Sort).Exprs)
	case PlanLimit:
		l := p.(*Limit)
		return NewLimit(inputs[0], l.Skip, l.Fetch)
	case PlanDistinct:
		return NewDistinct(inputs[0]), nil
	case PlanJoin:
		j := p.(*Join)
		out, err := NewJoin(inputs[0], inputs[1], j.On, j.Filter, j.JoinType)
		if err != nil {
			return nil, err
		}
		out.Constraint = j.Constraint
		return out, nil
	case PlanSubqueryAlias:
		return NewSubqueryAlias(inputs[0], p.(*SubqueryAlias).Alias), nil
	default:
		panic("unknown plan")
	}
}
