package plan

import (
	"bytes"
	"strings"

	"github.com/dianpeng/colsql/accum"
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

const (
	ExprColumn = iota
	ExprLiteral
	ExprAlias
	ExprBinary
	ExprAggregate
	ExprWildcard
	ExprScalarVariable
	ExprOrderBy
)

// Expr is a logical expression. The set of implementations is closed, every
// switch over Type() handles all of them. Expressions are never mutated once
// built, rewrites go through CloneWithReplacement.
type Expr interface {
	Type() int

	// Display form, used by plan printing, ie #t.a + 1
	String() string

	logicalExpr()
}

type Operator int

const (
	OpEq Operator = iota
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpPlus
	OpMinus
	OpMultiply
	OpDivide
	OpModulo
	OpAnd
	OpOr
	OpLike
	OpNotLike
)

func (self Operator) String() string {
	switch self {
	case OpEq:
		return "="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLtEq:
		return "<="
	case OpGt:
		return ">"
	case OpGtEq:
		return ">="
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	case OpMultiply:
		return "*"
	case OpDivide:
		return "/"
	case OpModulo:
		return "%"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpLike:
		return "LIKE"
	default:
		return "NOT LIKE"
	}
}

func (self Operator) IsComparison() bool {
	return self >= OpEq && self <= OpGtEq
}

func (self Operator) IsArithmetic() bool {
	return self >= OpPlus && self <= OpModulo
}

func (self Operator) IsLogical() bool {
	return self == OpAnd || self == OpOr
}

// Column references a field by name, Relation is the qualifier and is empty
// when unqualified.
type Column struct {
	Name     string
	Relation string
}

type Literal struct {
	Value data.ScalarValue
}

type Alias struct {
	Expr Expr
	Name string
}

type Binary struct {
	Left  Expr
	Op    Operator
	Right Expr
}

// AggregateFunction is a call to an aggregate. count(*) carries a single
// Wildcard argument. Filter is optional.
type AggregateFunction struct {
	Kind     accum.AggKind
	Args     []Expr
	Distinct bool
	Filter   Expr
}

// Wildcard is the unexpanded * (or t.* when Relation is set).
type Wildcard struct {
	Relation string
}

type ScalarVariable struct {
	Names []string
}

type OrderBy struct {
	Expr Expr
	Asc  bool
}

func (self *Column) Type() int            { return ExprColumn }
func (self *Literal) Type() int           { return ExprLiteral }
func (self *Alias) Type() int             { return ExprAlias }
func (self *Binary) Type() int            { return ExprBinary }
func (self *AggregateFunction) Type() int { return ExprAggregate }
func (self *Wildcard) Type() int          { return ExprWildcard }
func (self *ScalarVariable) Type() int    { return ExprScalarVariable }
func (self *OrderBy) Type() int           { return ExprOrderBy }

func (self *Column) logicalExpr()            {}
func (self *Literal) logicalExpr()           {}
func (self *Alias) logicalExpr()             {}
func (self *Binary) logicalExpr()            {}
func (self *AggregateFunction) logicalExpr() {}
func (self *Wildcard) logicalExpr()          {}
func (self *ScalarVariable) logicalExpr()    {}
func (self *OrderBy) logicalExpr()           {}

func NewColumn(relation, name string) *Column {
	return &Column{Name: name, Relation: relation}
}

// ColumnOf references field f of some schema.
func ColumnOf(f schema.Field) *Column {
	return &Column{Name: f.Name, Relation: f.Qualifier}
}

func NewLiteral(v data.ScalarValue) *Literal {
	return &Literal{Value: v}
}

func LitInt(v int64) *Literal {
	return &Literal{Value: data.ScalarValue{Type: schema.TypeInteger, Value: v}}
}

func LitFloat(v float64) *Literal {
	return &Literal{Value: data.ScalarValue{Type: schema.TypeDouble, Value: v}}
}

func LitStr(v string) *Literal {
	return &Literal{Value: data.ScalarValue{Type: schema.TypeUtf8, Value: v}}
}

func LitBool(v bool) *Literal {
	return &Literal{Value: data.ScalarValue{Type: schema.TypeBoolean, Value: v}}
}

func LitNull() *Literal {
	return &Literal{Value: data.NullScalar(schema.TypeNull)}
}

func NewAlias(e Expr, name string) *Alias {
	return &Alias{Expr: e, Name: name}
}

func NewBinary(l Expr, op Operator, r Expr) *Binary {
	return &Binary{Left: l, Op: op, Right: r}
}

func NewAggregateFunction(kind accum.AggKind, distinct bool, args ...Expr) *AggregateFunction {
	return &AggregateFunction{Kind: kind, Args: args, Distinct: distinct}
}

func NewOrderBy(e Expr, asc bool) *OrderBy {
	return &OrderBy{Expr: e, Asc: asc}
}

// FlatName is qualifier.name, or name.
func (self *Column) FlatName() string {
	if self.Relation == "" {
		return self.Name
	}
	return self.Relation + "." + self.Name
}

// ----------------------------------------------------------------------------
// Display
// ----------------------------------------------------------------------------

func (self *Column) String() string  { return "#" + self.FlatName() }
func (self *Literal) String() string { return self.Value.Literal() }
func (self *Alias) String() string   { return self.Expr.String() + " AS " + self.Name }

func operand(e Expr, display bool) string {
	s := ExprName(e)
	if display {
		s = e.String()
	}
	if e.Type() == ExprBinary {
		return "(" + s + ")"
	}
	return s
}

func (self *Binary) String() string {
	return operand(self.Left, true) + " " + self.Op.String() + " " + operand(self.Right, true)
}

func (self *AggregateFunction) render(arg func(Expr) string) string {
	buf := &bytes.Buffer{}
	buf.WriteString(self.Kind.String())
	buf.WriteString("(")
	if self.Distinct {
		buf.WriteString("DISTINCT ")
	}
	for idx, a := range self.Args {
		if idx > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(arg(a))
	}
	buf.WriteString(")")
	if self.Filter != nil {
		buf.WriteString(" FILTER (WHERE ")
		buf.WriteString(arg(self.Filter))
		buf.WriteString(")")
	}
	return buf.String()
}

func (self *AggregateFunction) String() string {
	return self.render(func(e Expr) string { return e.String() })
}

func (self *Wildcard) String() string {
	if self.Relation != "" {
		return self.Relation + ".*"
	}
	return "*"
}

func (self *ScalarVariable) String() string { return "@" + strings.Join(self.Names, ".") }

func (self *OrderBy) String() string {
	if self.Asc {
		return self.Expr.String() + " ASC"
	}
	return self.Expr.String() + " DESC"
}

// ExprName is the output field name an expression produces when it is not a
// bare column reference. Structurally equal expressions have equal names.
func ExprName(e Expr) string {
	switch e.Type() {
	case ExprColumn:
		return e.(*Column).FlatName()
	case ExprLiteral:
		return e.(*Literal).Value.Literal()
	case ExprAlias:
		return e.(*Alias).Name
	case ExprBinary:
		b := e.(*Binary)
		return operand(b.Left, false) + " " + b.Op.String() + " " + operand(b.Right, false)
	case ExprAggregate:
		return e.(*AggregateFunction).render(ExprName)
	case ExprWildcard:
		return e.(*Wildcard).String()
	case ExprScalarVariable:
		return e.(*ScalarVariable).String()
	case ExprOrderBy:
		return ExprName(e.(*OrderBy).Expr)
	default:
		panic("unknown expression")
	}
}

// ----------------------------------------------------------------------------
// Typing
// ----------------------------------------------------------------------------

// ResolveColumn finds the index of c in s. An unqualified column takes the
// first field with a matching name.
func ResolveColumn(c *Column, s *schema.Schema) (int, error) {
	idx := s.IndexOf(c.Relation, c.Name)
	if idx < 0 {
		return -1, errs.Unresolved("plan", "column %s not found in [%s]", c.FlatName(), s)
	}
	return idx, nil
}

// BinaryType is the result type of l op r.
func BinaryType(l schema.DataType, op Operator, r schema.DataType) (schema.DataType, error) {
	switch {
	case op.IsComparison():
		if _, ok := schema.Coerce(l, r); !ok {
			return schema.TypeNull, errs.TypeMismatch("plan", "cannot compare %s %s %s", l, op, r)
		}
		return schema.TypeBoolean, nil

	case op.IsLogical():
		for _, t := range []schema.DataType{l, r} {
			if t != schema.TypeBoolean && t != schema.TypeNull {
				return schema.TypeNull, errs.TypeMismatch("plan", "operator %s expects Boolean, got %s", op, t)
			}
		}
		return schema.TypeBoolean, nil

	case op == OpLike || op == OpNotLike:
		return schema.TypeBoolean, nil

	default:
		if l == schema.TypeNull && r == schema.TypeNull {
			return schema.TypeNull, nil
		}
		ty, ok := schema.Coerce(l, r)
		if !ok || !ty.IsNumeric() {
			return schema.TypeNull, errs.TypeMismatch("plan", "operator %s is not defined for %s and %s", op, l, r)
		}
		return ty, nil
	}
}

// DataTypeOf infers the type e evaluates to against input schema s.
func DataTypeOf(e Expr, s *schema.Schema) (schema.DataType, error) {
	switch e.Type() {
	case ExprColumn:
		idx, err := ResolveColumn(e.(*Column), s)
		if err != nil {
			return schema.TypeNull, err
		}
		return s.Field(idx).Type, nil

	case ExprLiteral:
		return e.(*Literal).Value.Type, nil

	case ExprAlias:
		return DataTypeOf(e.(*Alias).Expr, s)

	case ExprBinary:
		b := e.(*Binary)
		l, err := DataTypeOf(b.Left, s)
		if err != nil {
			return schema.TypeNull, err
		}
		r, err := DataTypeOf(b.Right, s)
		if err != nil {
			return schema.TypeNull, err
		}
		return BinaryType(l, b.Op, r)

	case ExprAggregate:
		a := e.(*AggregateFunction)
		argTypes, err := AggregateArgTypes(a, s)
		if err != nil {
			return schema.TypeNull, err
		}
		return accum.ReturnType(a.Kind, argTypes)

	case ExprWildcard:
		return schema.TypeNull, errs.InvalidPlan("plan", "wildcard %s was not expanded", e)

	case ExprScalarVariable:
		return schema.TypeUtf8, nil

	case ExprOrderBy:
		return DataTypeOf(e.(*OrderBy).Expr, s)

	default:
		panic("unknown expression")
	}
}

// AggregateArgTypes types the arguments of a; a wildcard argument counts rows
// and is typed as Integer.
func AggregateArgTypes(a *AggregateFunction, s *schema.Schema) ([]schema.DataType, error) {
	out := make([]schema.DataType, 0, len(a.Args))
	for _, arg := range a.Args {
		if arg.Type() == ExprWildcard {
			out = append(out, schema.TypeInteger)
			continue
		}
		ty, err := DataTypeOf(arg, s)
		if err != nil {
			return nil, err
		}
		out = append(out, ty)
	}
	return out, nil
}

// ToField is the output field e produces against input schema s. A bare
// column keeps the input field with its qualifier.
func ToField(e Expr, s *schema.Schema) (schema.Field, error) {
	switch e.Type() {
	case ExprColumn:
		idx, err := ResolveColumn(e.(*Column), s)
		if err != nil {
			return schema.Field{}, err
		}
		return s.Field(idx), nil
	case ExprOrderBy:
		return ToField(e.(*OrderBy).Expr, s)
	}

	ty, err := DataTypeOf(e, s)
	if err != nil {
		return schema.Field{}, err
	}
	return schema.NewField(ExprName(e), ty), nil
}

// ExprsToSchema derives a schema from a list of expressions.
func ExprsToSchema(exprs []Expr, s *schema.Schema) (*schema.Schema, error) {
	fields := make([]schema.Field, 0, len(exprs))
	for _, e := range exprs {
		f, err := ToField(e, s)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return schema.NewSchema(fields...), nil
}
