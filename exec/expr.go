package exec

import (
	"fmt"
	"math"
	"regexp"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
)

// Physical expressions are resolved against a fixed input schema, columns
// are positional and every node knows its result type.

const (
	ExprColumn = iota
	ExprLiteral
	ExprBinary
)

type Expr interface {
	Type() int
	DataType() schema.DataType

	// Evaluate computes the expression for every row of b.
	Evaluate(b *data.RecordBatch) (data.ColumnValue, error)
	String() string
}

type Column struct {
	Name  string
	Index int
	ty    schema.DataType
}

type Literal struct {
	Value data.ScalarValue
}

type Binary struct {
	Left  Expr
	Op    plan.Operator
	Right Expr
	ty    schema.DataType

	// compiled once when the LIKE pattern is a literal
	like *regexp.Regexp
}

// NewColumn references field idx of s.
func NewColumn(s *schema.Schema, idx int) (*Column, error) {
	if idx < 0 || idx >= s.Len() {
		return nil, errs.InvalidPlan("physical", "column index %d out of range of [%s]", idx, s)
	}
	f := s.Field(idx)
	return &Column{Name: f.Name, Index: idx, ty: f.Type}, nil
}

// NewColumnTyped builds a column without a schema at hand.
func NewColumnTyped(name string, idx int, ty schema.DataType) *Column {
	return &Column{Name: name, Index: idx, ty: ty}
}

func NewLiteral(v data.ScalarValue) *Literal {
	return &Literal{Value: v}
}

func NewBinary(l Expr, op plan.Operator, r Expr) (*Binary, error) {
	ty, err := plan.BinaryType(l.DataType(), op, r.DataType())
	if err != nil {
		return nil, err
	}
	b := &Binary{Left: l, Op: op, Right: r, ty: ty}
	if op == plan.OpLike || op == plan.OpNotLike {
		if lit, ok := r.(*Literal); ok && !lit.Value.IsNull() {
			re, err := compileLike(data.ToString(lit.Value.Value))
			if err != nil {
				return nil, errs.InvalidPlan("physical", "bad LIKE pattern %s: %s", lit, err)
			}
			b.like = re
		}
	}
	return b, nil
}

func (self *Column) Type() int  { return ExprColumn }
func (self *Literal) Type() int { return ExprLiteral }
func (self *Binary) Type() int  { return ExprBinary }

func (self *Column) DataType() schema.DataType  { return self.ty }
func (self *Literal) DataType() schema.DataType { return self.Value.Type }
func (self *Binary) DataType() schema.DataType  { return self.ty }

func (self *Column) String() string  { return fmt.Sprintf("%s@%d", self.Name, self.Index) }
func (self *Literal) String() string { return self.Value.Literal() }
func (self *Binary) String() string {
	operand := func(e Expr) string {
		if e.Type() == ExprBinary {
			return "(" + e.String() + ")"
		}
		return e.String()
	}
	return operand(self.Left) + " " + self.Op.String() + " " + operand(self.Right)
}

func (self *Column) Evaluate(b *data.RecordBatch) (data.ColumnValue, error) {
	if self.Index >= b.NumColumns() {
		return nil, errs.InvalidPlan("exec", "column %s out of range, batch has %d columns", self, b.NumColumns())
	}
	return data.NewArrayColumnValue(b.Column(self.Index)), nil
}

func (self *Literal) Evaluate(b *data.RecordBatch) (data.ColumnValue, error) {
	return data.NewScalarColumnValue(self.Value, b.RowCount()), nil
}

func (self *Binary) Evaluate(b *data.RecordBatch) (data.ColumnValue, error) {
	l, err := self.Left.Evaluate(b)
	if err != nil {
		return nil, err
	}
	r, err := self.Right.Evaluate(b)
	if err != nil {
		return nil, err
	}
	if l.Len() != r.Len() {
		return nil, errs.TypeMismatch("exec", "operands of %s have %d and %d rows", self, l.Len(), r.Len())
	}

	switch {
	case self.Op.IsLogical():
		return self.logical(l, r), nil
	case self.Op == plan.OpLike || self.Op == plan.OpNotLike:
		return self.match(l, r)
	case self.Op.IsComparison():
		return self.compare(l, r), nil
	default:
		return self.arithmetic(l, r), nil
	}
}

// ----------------------------------------------------------------------------
// Evaluation
// ----------------------------------------------------------------------------

type boolBuilder struct {
	bits  []bool
	nulls []bool
}

func newBoolBuilder(n int) *boolBuilder {
	return &boolBuilder{bits: make([]bool, n)}
}

func (self *boolBuilder) setNull(idx int) {
	if self.nulls == nil {
		self.nulls = make([]bool, len(self.bits))
	}
	self.nulls[idx] = true
}

func (self *boolBuilder) build() data.ColumnValue {
	return data.NewBooleanColumnValue(self.bits, self.nulls)
}

// logical implements SQL three valued AND/OR: a false operand decides AND, a
// true operand decides OR, otherwise any null gives null.
func (self *Binary) logical(l, r data.ColumnValue) data.ColumnValue {
	out := newBoolBuilder(l.Len())
	for idx := 0; idx < l.Len(); idx++ {
		lv, lok := data.ToBool(l.Get(idx))
		rv, rok := data.ToBool(r.Get(idx))
		lnull := l.IsNull(idx) || !lok
		rnull := r.IsNull(idx) || !rok

		if self.Op == plan.OpAnd {
			switch {
			case (!lnull && !lv) || (!rnull && !rv):
				out.bits[idx] = false
			case lnull || rnull:
				out.setNull(idx)
			default:
				out.bits[idx] = true
			}
		} else {
			switch {
			case (!lnull && lv) || (!rnull && rv):
				out.bits[idx] = true
			case lnull || rnull:
				out.setNull(idx)
			default:
				out.bits[idx] = false
			}
		}
	}
	return out.build()
}

func (self *Binary) compare(l, r data.ColumnValue) data.ColumnValue {
	out := newBoolBuilder(l.Len())
	ct, _ := schema.Coerce(l.DataType(), r.DataType())
	for idx := 0; idx < l.Len(); idx++ {
		lv, lok := data.Convert(ct, l.Get(idx))
		rv, rok := data.Convert(ct, r.Get(idx))
		if !lok || !rok {
			out.setNull(idx)
			continue
		}
		c := data.CompareValues(lv, rv)
		switch self.Op {
		case plan.OpEq:
			out.bits[idx] = c == 0
		case plan.OpNotEq:
			out.bits[idx] = c != 0
		case plan.OpLt:
			out.bits[idx] = c < 0
		case plan.OpLtEq:
			out.bits[idx] = c <= 0
		case plan.OpGt:
			out.bits[idx] = c > 0
		case plan.OpGtEq:
			out.bits[idx] = c >= 0
		}
	}
	return out.build()
}

func (self *Binary) match(l, r data.ColumnValue) (data.ColumnValue, error) {
	out := newBoolBuilder(l.Len())
	for idx := 0; idx < l.Len(); idx++ {
		if l.IsNull(idx) || r.IsNull(idx) {
			out.setNull(idx)
			continue
		}
		re := self.like
		if re == nil {
			x, err := compileLike(data.ToString(r.Get(idx)))
			if err != nil {
				return nil, errs.TypeMismatch("exec", "bad LIKE pattern %q: %s", data.ToString(r.Get(idx)), err)
			}
			re = x
		}
		ok := re.MatchString(data.ToString(l.Get(idx)))
		if self.Op == plan.OpNotLike {
			ok = !ok
		}
		out.bits[idx] = ok
	}
	return out.build(), nil
}

// arithmetic computes in the result type, a null operand, a value that does
// not convert or a division by zero all give null.
func (self *Binary) arithmetic(l, r data.ColumnValue) data.ColumnValue {
	arr := data.NewArray(self.ty)
	for idx := 0; idx < l.Len(); idx++ {
		lv, lok := data.Convert(self.ty, l.Get(idx))
		rv, rok := data.Convert(self.ty, r.Get(idx))
		if !lok || !rok {
			arr.AddNull()
			continue
		}
		v, ok := arith(self.Op, lv, rv)
		if !ok {
			arr.AddNull()
			continue
		}
		arr.Add(v)
	}
	return data.NewArrayColumnValue(arr)
}

func arith(op plan.Operator, l, r any) (any, bool) {
	switch x := l.(type) {
	case int64:
		y := r.(int64)
		switch op {
		case plan.OpPlus:
			return x + y, true
		case plan.OpMinus:
			return x - y, true
		case plan.OpMultiply:
			return x * y, true
		case plan.OpDivide:
			if y == 0 {
				return nil, false
			}
			return x / y, true
		case plan.OpModulo:
			if y == 0 {
				return nil, false
			}
			return x % y, true
		}

	case float64:
		y := r.(float64)
		switch op {
		case plan.OpPlus:
			return x + y, true
		case plan.OpMinus:
			return x - y, true
		case plan.OpMultiply:
			return x * y, true
		case plan.OpDivide:
			if y == 0 {
				return nil, false
			}
			return x / y, true
		case plan.OpModulo:
			if y == 0 {
				return nil, false
			}
			return math.Mod(x, y), true
		}

	case decimal.Decimal:
		y := r.(decimal.Decimal)
		switch op {
		case plan.OpPlus:
			return x.Add(y), true
		case plan.OpMinus:
			return x.Sub(y), true
		case plan.OpMultiply:
			return x.Mul(y), true
		case plan.OpDivide:
			if y.IsZero() {
				return nil, false
			}
			return x.Div(y), true
		case plan.OpModulo:
			if y.IsZero() {
				return nil, false
			}
			return x.Mod(y), true
		}
	}
	return nil, false
}

// Mask evaluates a predicate into a selection mask, null counts as false.
func Mask(e Expr, b *data.RecordBatch) ([]bool, error) {
	v, err := e.Evaluate(b)
	if err != nil {
		return nil, err
	}
	return data.ToMask(v), nil
}

// ExprColumns lists the distinct column indices e reads, in first-seen order.
func ExprColumns(e Expr) []int {
	seen := map[int]bool{}
	out := []int{}
	var walk func(Expr)
	walk = func(x Expr) {
		switch x.Type() {
		case ExprColumn:
			c := x.(*Column)
			if !seen[c.Index] {
				seen[c.Index] = true
				out = append(out, c.Index)
			}
		case ExprBinary:
			b := x.(*Binary)
			walk(b.Left)
			walk(b.Right)
		}
	}
	walk(e)
	return out
}

// RewriteColumns rebuilds e with every column replaced by fn's result.
func RewriteColumns(e Expr, fn func(*Column) (Expr, error)) (Expr, error) {
	switch e.Type() {
	case ExprColumn:
		return fn(e.(*Column))
	case ExprBinary:
		b := e.(*Binary)
		l, err := RewriteColumns(b.Left, fn)
		if err != nil {
			return nil, err
		}
		r, err := RewriteColumns(b.Right, fn)
		if err != nil {
			return nil, err
		}
		return NewBinary(l, b.Op, r)
	default:
		return e, nil
	}
}
