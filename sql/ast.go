package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	ConstNull = iota
	ConstBool
	ConstStr
	ConstInt
	ConstReal
)

const (
	ExprConst = iota
	ExprRef
	ExprCall
	ExprVar
	ExprUnary
	ExprBinary
)

const (
	SelectVarCol = iota
	SelectVarStar
)

const (
	JoinInner = iota
	JoinLeft
	JoinRight
	JoinFull
)

type CodeInfo struct {
	Start   int
	End     int
	Snippet string
}

type SelectVar interface {
	Type() int
	CInfo() CodeInfo

	// If the field has an alias, via as keyword, then it returns otherwise
	// returns an empty string
	Alias() string
}

// A projected expression, optionally aliased.
type Col struct {
	CodeInfo CodeInfo
	As       string
	Value    Expr
}

// Wildcard, Table is set for the t.* form.
type Star struct {
	CodeInfo CodeInfo
	Table    string
}

func (self *Col) Type() int       { return SelectVarCol }
func (self *Col) CInfo() CodeInfo { return self.CodeInfo }
func (self *Col) Alias() string   { return self.As }

func (self *Star) Type() int       { return SelectVarStar }
func (self *Star) CInfo() CodeInfo { return self.CodeInfo }
func (self *Star) Alias() string   { return "" }

type SelectVarList []SelectVar

type Projection struct {
	CodeInfo  CodeInfo
	ValueList SelectVarList
}

func (self *SelectVarList) HasStar() bool {
	for _, y := range *self {
		if y.Type() == SelectVarStar {
			return true
		}
	}
	return false
}

type TableRef struct {
	CodeInfo CodeInfo
	Name     string
	Alias    string
}

// Name the table is referenced by inside of the query.
func (self *TableRef) RefName() string {
	if self.Alias != "" {
		return self.Alias
	}
	return self.Name
}

type Join struct {
	CodeInfo CodeInfo
	Kind     int
	Table    *TableRef
	On       Expr
}

type From struct {
	CodeInfo CodeInfo
	Table    *TableRef
	Join     []*Join
}

type Where struct {
	CodeInfo  CodeInfo
	Condition Expr
}

type Having Where

type GroupBy struct {
	CodeInfo CodeInfo
	Name     []Expr
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

type OrderBy struct {
	CodeInfo CodeInfo
	Item     []*OrderItem
}

// Limit and Offset keep the expression as written, the planner requires an
// integer literal.
type Limit struct {
	CodeInfo CodeInfo
	Value    Expr
}

type Offset Limit

type Select struct {
	CodeInfo CodeInfo
	Distinct bool

	Projection *Projection
	From       *From // nil when the query has no from clause
	Where      *Where
	GroupBy    *GroupBy
	Having     *Having
	OrderBy    *OrderBy
	Limit      *Limit
	Offset     *Offset
}

type Code struct {
	CodeInfo CodeInfo
	Select   *Select
}

/** -------------------------------------------------------------------------
 ** Expression
 ** -----------------------------------------------------------------------*/
type Const struct {
	Ty       int
	Bool     bool
	String   string
	Real     float64
	Int      int64
	CodeInfo CodeInfo
}

// Column reference, Table is empty when unqualified.
type Ref struct {
	Table    string
	Id       string
	CodeInfo CodeInfo
}

// Function call. Star is set for f(*).
type Call struct {
	Name       string
	Distinct   bool
	Star       bool
	Parameters []Expr
	CodeInfo   CodeInfo
}

// Scalar variable, ie @name.part
type Var struct {
	Name     []string
	CodeInfo CodeInfo
}

type Unary struct {
	Op       int
	Operand  Expr
	CodeInfo CodeInfo
}

type Binary struct {
	Op       int
	L        Expr
	R        Expr
	CodeInfo CodeInfo
}

type Expr interface {
	Type() int
	CInfo() CodeInfo
}

func (self *Const) Type() int       { return ExprConst }
func (self *Const) CInfo() CodeInfo { return self.CodeInfo }

func (self *Ref) Type() int       { return ExprRef }
func (self *Ref) CInfo() CodeInfo { return self.CodeInfo }

func (self *Call) Type() int       { return ExprCall }
func (self *Call) CInfo() CodeInfo { return self.CodeInfo }

func (self *Var) Type() int       { return ExprVar }
func (self *Var) CInfo() CodeInfo { return self.CodeInfo }

func (self *Unary) Type() int       { return ExprUnary }
func (self *Unary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Binary) Type() int       { return ExprBinary }
func (self *Binary) CInfo() CodeInfo { return self.CodeInfo }

/* ----------------------------------------------------------------------------
 * Visitor
 * ---------------------------------------------------------------------------*/

// VisitExpr walks the tree in pre order, returning false from fn skips the
// children of that node.
func VisitExpr(expr Expr, fn func(Expr) (bool, error)) error {
	goon, err := fn(expr)
	if err != nil || !goon {
		return err
	}
	switch expr.Type() {
	case ExprCall:
		for _, x := range expr.(*Call).Parameters {
			if err := VisitExpr(x, fn); err != nil {
				return err
			}
		}
	case ExprUnary:
		return VisitExpr(expr.(*Unary).Operand, fn)
	case ExprBinary:
		b := expr.(*Binary)
		if err := VisitExpr(b.L, fn); err != nil {
			return err
		}
		return VisitExpr(b.R, fn)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Printer
// ----------------------------------------------------------------------------

func doPrintExprConst(c *Const, buf *bytes.Buffer) {
	switch c.Ty {
	case ConstInt:
		buf.WriteString(strconv.FormatInt(c.Int, 10))
	case ConstReal:
		buf.WriteString(strconv.FormatFloat(c.Real, 'g', -1, 64))
	case ConstBool:
		if c.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case ConstNull:
		buf.WriteString("null")
	default:
		buf.WriteString("'" + strings.ReplaceAll(c.String, "'", "''") + "'")
	}
}

func doPrintExpr(expr Expr, buf *bytes.Buffer) {
	switch expr.Type() {
	case ExprConst:
		doPrintExprConst(expr.(*Const), buf)
	case ExprRef:
		r := expr.(*Ref)
		if r.Table != "" {
			buf.WriteString(r.Table)
			buf.WriteString(".")
		}
		buf.WriteString(r.Id)
	case ExprCall:
		c := expr.(*Call)
		buf.WriteString(c.Name)
		buf.WriteString("(")
		if c.Distinct {
			buf.WriteString("distinct ")
		}
		if c.Star {
			buf.WriteString("*")
		}
		for idx, p := range c.Parameters {
			if idx > 0 {
				buf.WriteString(", ")
			}
			doPrintExpr(p, buf)
		}
		buf.WriteString(")")
	case ExprVar:
		buf.WriteString("@")
		buf.WriteString(strings.Join(expr.(*Var).Name, "."))
	case ExprUnary:
		u := expr.(*Unary)
		if u.Op == TkNot {
			buf.WriteString("not ")
		} else {
			buf.WriteString(TokenName(u.Op))
		}
		doPrintExpr(u.Operand, buf)
	case ExprBinary:
		b := expr.(*Binary)
		buf.WriteString("(")
		doPrintExpr(b.L, buf)
		buf.WriteString(" ")
		buf.WriteString(TokenName(b.Op))
		buf.WriteString(" ")
		doPrintExpr(b.R, buf)
		buf.WriteString(")")
	}
}

func PrintExpr(expr Expr) string {
	buf := &bytes.Buffer{}
	doPrintExpr(expr, buf)
	return buf.String()
}

func printTableRef(t *TableRef, buf *bytes.Buffer) {
	buf.WriteString(t.Name)
	if t.Alias != "" {
		buf.WriteString(" as ")
		buf.WriteString(t.Alias)
	}
}

func joinKindName(k int) string {
	switch k {
	case JoinLeft:
		return "left join"
	case JoinRight:
		return "right join"
	case JoinFull:
		return "full join"
	default:
		return "join"
	}
}

// PrintSelect renders the statement back as one line of SQL.
func PrintSelect(s *Select) string {
	buf := &bytes.Buffer{}
	buf.WriteString("select ")
	if s.Distinct {
		buf.WriteString("distinct ")
	}
	for idx, v := range s.Projection.ValueList {
		if idx > 0 {
			buf.WriteString(", ")
		}
		switch v.Type() {
		case SelectVarStar:
			if t := v.(*Star).Table; t != "" {
				buf.WriteString(t + ".")
			}
			buf.WriteString("*")
		default:
			c := v.(*Col)
			doPrintExpr(c.Value, buf)
			if c.As != "" {
				buf.WriteString(" as ")
				buf.WriteString(c.As)
			}
		}
	}
	if s.From != nil {
		buf.WriteString(" from ")
		printTableRef(s.From.Table, buf)
		for _, j := range s.From.Join {
			buf.WriteString(" ")
			buf.WriteString(joinKindName(j.Kind))
			buf.WriteString(" ")
			printTableRef(j.Table, buf)
			buf.WriteString(" on ")
			doPrintExpr(j.On, buf)
		}
	}
	if s.Where != nil {
		buf.WriteString(" where ")
		doPrintExpr(s.Where.Condition, buf)
	}
	if s.GroupBy != nil {
		buf.WriteString(" group by ")
		for idx, e := range s.GroupBy.Name {
			if idx > 0 {
				buf.WriteString(", ")
			}
			doPrintExpr(e, buf)
		}
	}
	if s.Having != nil {
		buf.WriteString(" having ")
		doPrintExpr(s.Having.Condition, buf)
	}
	if s.OrderBy != nil {
		buf.WriteString(" order by ")
		for idx, item := range s.OrderBy.Item {
			if idx > 0 {
				buf.WriteString(", ")
			}
			doPrintExpr(item.Expr, buf)
			if item.Desc {
				buf.WriteString(" desc")
			}
		}
	}
	if s.Limit != nil {
		buf.WriteString(" limit ")
		doPrintExpr(s.Limit.Value, buf)
	}
	if s.Offset != nil {
		buf.WriteString(" offset ")
		doPrintExpr(s.Offset.Value, buf)
	}
	return buf.String()
}

func (self *Code) String() string {
	return fmt.Sprintf("%s;", PrintSelect(self.Select))
}
