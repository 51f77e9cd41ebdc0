package sql

// parser of the sql, which is tailered for our own usage. We briefly describe
// the grammar of sql as following EBNF
//
// ### statement -------------------------------------------------------------
//
// code := select ';'?
// select :=
//     SELECT DISTINCT? projection
//     from?
//     where?
//     group-by?
//     having?
//     order-by?
//     limit?
//     offset?
//
// projection := project-var (',' project-var)*
// project-var := '*' | ID '.' '*' | expr as?
// as := [AS? ID]
//
// from := FROM table-ref join*
// table-ref := ID (AS? ID)?
// join := (INNER | LEFT OUTER? | RIGHT OUTER? | FULL OUTER?)? JOIN table-ref ON expr
//
// where := WHERE expr
// group-by := GROUPBY expr (',' expr)*
// having := HAVING expr
// order-by := ORDERBY order-item (',' order-item)*
// order-item := expr (ASC | DESC)?
// limit := LIMIT expr
// offset := OFFSET expr
//
// ### expression -------------------------------------------------------------
// expr := binary
//
// binary := unary (binary-op unary)*
// binary-op := OR | AND | [NOT] IN | [NOT] BETWEEN | [NOT] LIKE | = | != |
//              < | <= | > | >= | + | - | * | / | %
//
// unary := ('-' | '+' | NOT)* atomic
//
// atomic :=
//   const |
//   ID ('.' ID)? |
//   ID '(' call-arg-list? ')' |
//   '@' ID ('.' ID)* |
//   '(' expr ')'
//
// call-arg-list := '*' | DISTINCT? expr (',' expr)*
//
// const := INT | REAL | TRUE | FALSE | NULL | STR
//
// ----------------------------------------------------------------------------

import (
	"github.com/dianpeng/colsql/errs"
)

type Parser struct {
	L *Lexer
}

func newParser(xx string) *Parser {
	return &Parser{
		L: newLexer(xx),
	}
}

func NewParser(xx string) *Parser {
	return newParser(xx)
}

// Parse parses exactly one select statement.
func Parse(xx string) (*Code, error) {
	return newParser(xx).Parse()
}

func (self *Parser) posStart() int {
	return self.L.Cursor
}

func (self *Parser) posEnd() int {
	return self.L.Cursor
}

func (self *Parser) snippet(start, end int) string {
	if start >= end {
		start = end
	}
	return self.L.Source[start:end]
}

func (self *Parser) err(msg string) error {
	if self.L.Token == TkError {
		return errs.Parse("parse", "%s", self.L.Lexeme.Text)
	}
	return errs.Parse("parse", "%s: %s", self.L.dinfo(), msg)
}

func (self *Parser) expect(tk int, what string) error {
	if self.L.Token == tk {
		self.L.Next()
		return nil
	}
	return self.err("expect " + what)
}

func (self *Parser) currentCodeInfo(start int) CodeInfo {
	return CodeInfo{
		Start:   start,
		End:     self.posEnd(),
		Snippet: self.snippet(start, self.posEnd()),
	}
}

func (self *Parser) Parse() (*Code, error) {
	c := &Code{}
	start := self.posStart()

	self.L.Next()
	switch self.L.Token {
	case TkSelect:
		n, err := self.parseSelect()
		if err != nil {
			return nil, err
		}
		c.Select = n
	default:
		return nil, self.err("unknown statement, expect *select*")
	}

	c.CodeInfo = self.currentCodeInfo(start)

	if self.L.Token == TkSemicolon {
		self.L.Next()
	}
	if self.L.Token != TkEof {
		return nil, self.err("dangling code after the statement, only one statement is allowed")
	}
	return c, nil
}

func (self *Parser) parseSelect() (*Select, error) {
	self.L.Next() // skip the *select* keyword

	s := &Select{}
	start := self.posStart()

	if self.L.Token == TkDistinct {
		s.Distinct = true
		self.L.Next()
	}

	if n, err := self.parseProjection(); err != nil {
		return nil, err
	} else {
		s.Projection = n
	}

	if self.L.Token == TkFrom {
		n, err := self.parseFrom()
		if err != nil {
			return nil, err
		}
		s.From = n
	}

LOOP:
	for {
		var err error
		switch self.L.Token {
		case TkWhere:
			if s.Where != nil {
				return nil, self.err("where clause has already been specified")
			}
			s.Where, err = self.parseWhere()

		case TkGroupBy:
			if s.GroupBy != nil {
				return nil, self.err("group by clause has already been specified")
			}
			s.GroupBy, err = self.parseGroupBy()

		case TkHaving:
			if s.Having != nil {
				return nil, self.err("having clause has already been specified")
			}
			var w *Where
			w, err = self.parseWhere()
			s.Having = (*Having)(w)

		case TkOrderBy:
			if s.OrderBy != nil {
				return nil, self.err("order by clause has already been specified")
			}
			s.OrderBy, err = self.parseOrderBy()

		case TkLimit:
			if s.Limit != nil {
				return nil, self.err("limit clause has already been specified")
			}
			s.Limit, err = self.parseLimit()

		case TkOffset:
			if s.Offset != nil {
				return nil, self.err("offset clause has already been specified")
			}
			var l *Limit
			l, err = self.parseLimit()
			s.Offset = (*Offset)(l)

		default:
			break LOOP
		}
		if err != nil {
			return nil, err
		}
	}

	s.CodeInfo = self.currentCodeInfo(start)
	return s, nil
}

func (self *Parser) parseProjectionVar() (SelectVar, error) {
	start := self.posStart()

	if self.L.Token == TkMul {
		self.L.Next()
		return &Star{
			CodeInfo: self.currentCodeInfo(start),
		}, nil
	}

	// t.* is detected by peeking, the lexer is cheap to snapshot
	if self.L.Token == TkId {
		saved := *self.L
		table := self.L.Lexeme.Text
		if self.L.Next() == TkDot && self.L.Next() == TkMul {
			self.L.Next()
			return &Star{
				CodeInfo: self.currentCodeInfo(start),
				Table:    table,
			}, nil
		}
		*self.L = saved
	}

	val, err := self.parseExpr()
	if err != nil {
		return nil, err
	}

	alias := ""
	if self.L.Token == TkAs {
		if self.L.Next() != TkId {
			return nil, self.err("expect an alias identifier after *as*")
		}
		alias = self.L.Lexeme.Text
		self.L.Next()
	} else if self.L.Token == TkId {
		alias = self.L.Lexeme.Text
		self.L.Next()
	}

	return &Col{
		CodeInfo: self.currentCodeInfo(start),
		As:       alias,
		Value:    val,
	}, nil
}

// SQLLIST, which is a name I coin to represent grammar like following :
// element (',' element)*, the difference between the normal one is that the
// list will never be empty.
func (self *Parser) parseSqlList(
	visitor func(int) error,
) error {
	if err := visitor(0); err != nil {
		return err
	}
	idx := 1

	for self.L.Token == TkComma {
		self.L.Next()
		if err := visitor(idx); err != nil {
			return err
		}
		idx++
	}

	return nil
}

func (self *Parser) parseProjection() (*Projection, error) {
	x := SelectVarList{}
	start := self.posStart()

	if err := self.parseSqlList(
		func(idx int) error {
			n, err := self.parseProjectionVar()
			if err != nil {
				return err
			}
			x = append(x, n)
			return nil
		},
	); err != nil {
		return nil, err
	}

	return &Projection{
		CodeInfo:  self.currentCodeInfo(start),
		ValueList: x,
	}, nil
}

func (self *Parser) parseTableRef() (*TableRef, error) {
	start := self.posStart()
	if self.L.Token != TkId {
		return nil, self.err("expect a table name")
	}
	t := &TableRef{
		Name: self.L.Lexeme.Text,
	}
	self.L.Next()

	if self.L.Token == TkAs {
		if self.L.Next() != TkId {
			return nil, self.err("expect a identifier after *as*")
		}
		t.Alias = self.L.Lexeme.Text
		self.L.Next()
	} else if self.L.Token == TkId {
		t.Alias = self.L.Lexeme.Text
		self.L.Next()
	}

	t.CodeInfo = self.currentCodeInfo(start)
	return t, nil
}

func (self *Parser) parseJoinKind() (int, bool) {
	kind := JoinInner
	switch self.L.Token {
	case TkJoin:
		return kind, true
	case TkInner:
		self.L.Next()
		return kind, self.L.Token == TkJoin
	case TkLeft:
		kind = JoinLeft
	case TkRight:
		kind = JoinRight
	case TkFull:
		kind = JoinFull
	default:
		return kind, false
	}
	if self.L.Next() == TkOuter {
		self.L.Next()
	}
	return kind, self.L.Token == TkJoin
}

func (self *Parser) parseFrom() (*From, error) {
	from := &From{}
	start := self.posStart()

	self.L.Next() // eat the *from*

	t, err := self.parseTableRef()
	if err != nil {
		return nil, err
	}
	from.Table = t

	for {
		jstart := self.posStart()
		switch self.L.Token {
		case TkJoin, TkInner, TkLeft, TkRight, TkFull:
		case TkComma:
			return nil, self.err("comma join is not supported, use JOIN ... ON")
		default:
			from.CodeInfo = self.currentCodeInfo(start)
			return from, nil
		}

		kind, ok := self.parseJoinKind()
		if !ok {
			return nil, self.err("expect *join*")
		}
		self.L.Next()

		tr, err := self.parseTableRef()
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkOn, "*on* after the joined table"); err != nil {
			return nil, err
		}
		on, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		from.Join = append(from.Join, &Join{
			CodeInfo: self.currentCodeInfo(jstart),
			Kind:     kind,
			Table:    tr,
			On:       on,
		})
	}
}

func (self *Parser) parseWhere() (*Where, error) {
	start := self.posStart()

	self.L.Next()
	n, err := self.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Where{
		CodeInfo:  self.currentCodeInfo(start),
		Condition: n,
	}, nil
}

func (self *Parser) parseGroupBy() (*GroupBy, error) {
	gb := &GroupBy{}
	start := self.posStart()

	self.L.Next() // eat group by

	if err := self.parseSqlList(
		func(idx int) error {
			c, err := self.parseExpr()
			if err != nil {
				return err
			}
			gb.Name = append(gb.Name, c)
			return nil
		},
	); err != nil {
		return nil, err
	}

	gb.CodeInfo = self.currentCodeInfo(start)
	return gb, nil
}

func (self *Parser) parseOrderBy() (*OrderBy, error) {
	oB := &OrderBy{}
	start := self.posStart()
	self.L.Next() // eat order by

	if err := self.parseSqlList(
		func(idx int) error {
			c, err := self.parseExpr()
			if err != nil {
				return err
			}
			item := &OrderItem{Expr: c}
			switch self.L.Token {
			case TkAsc:
				self.L.Next()
			case TkDesc:
				item.Desc = true
				self.L.Next()
			}
			oB.Item = append(oB.Item, item)
			return nil
		},
	); err != nil {
		return nil, err
	}

	oB.CodeInfo = self.currentCodeInfo(start)
	return oB, nil
}

func (self *Parser) parseLimit() (*Limit, error) {
	start := self.posStart()
	self.L.Next()

	v, err := self.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Limit{
		CodeInfo: self.currentCodeInfo(start),
		Value:    v,
	}, nil
}

// ----------------------------------------------------------------------------
// Expression Parsing
// ----------------------------------------------------------------------------

func (self *Parser) parseExpr() (Expr, error) {
	return self.doParseBin(0)
}

const maxOpPrec = 7
const invalidOpPrec = -1

func (self *Parser) binPrec(tk int) int {
	switch tk {
	case TkOr:
		return 0
	case TkAnd:
		return 1
	case TkIn, TkBetween, TkLike, TkNot:
		return 2
	case TkEq, TkNe:
		return 3
	case TkLt, TkLe, TkGt, TkGe:
		return 4
	case TkAdd, TkSub:
		return 5
	case TkMul, TkDiv, TkMod:
		return 6
	default:
		return invalidOpPrec
	}
}

// Binary parsing, precedence climbing
func (self *Parser) doParseBin(prec int) (Expr, error) {
	if prec == maxOpPrec {
		return self.parseUnary()
	}

	start := self.posStart()

	l, err := self.parseUnary()
	if err != nil {
		return nil, err
	}

	return self.doParseBinRest(l, prec, start)
}

func (self *Parser) doParseBinBetweenRHS(
	prec int,
) (Expr, Expr, error) {
	lowerBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	if self.L.Token != TkAnd {
		return nil, nil, self.err("expect AND for BETWEEN operator")
	}
	self.L.Next()

	upperBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	return lowerBound, upperBound, nil
}

func (self *Parser) doParseBinInRHS() ([]Expr, error) {
	if self.L.Token != TkLPar {
		return nil, self.err("expect '(' for IN operator's rhs")
	}
	self.L.Next()

	out := []Expr{}

	for self.L.Token != TkRPar {
		v, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if self.L.Token == TkComma {
			self.L.Next()
		} else if self.L.Token != TkRPar {
			return nil, self.err("expect a ',' or ')' after element in IN's rhs")
		}
	}

	self.L.Next()
	if len(out) == 0 {
		return nil, self.err("IN operator's RHS is an empty set, which is not allowed")
	}
	return out, nil
}

func (self *Parser) doParseBinRest(lhs Expr,
	prec int,
	start int,
) (Expr, error) {

	for {
		tk := self.L.Token
		nextPrec := self.binPrec(tk)

		if nextPrec == invalidOpPrec || nextPrec < prec {
			break
		}

		ntk := self.L.Next() // eat the operator token

		if tk == TkNot {
			switch ntk {
			case TkIn:
				tk = tkNotIn
			case TkBetween:
				tk = tkNotBetween
			case TkLike:
				tk = TkNotLike
			default:
				return nil, self.err(
					"NOT operator shows up, but expect a suffix operator, " +
						"example like NOT IN, NOT BETWEEN, NOT LIKE",
				)
			}
			self.L.Next()
		}

		var newNode Expr
		switch tk {
		case TkBetween, tkNotBetween:
			lower, upper, err := self.doParseBinBetweenRHS(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			between := &Binary{
				Op: TkAnd,
				L: &Binary{
					Op:       TkGe,
					L:        lhs,
					R:        lower,
					CodeInfo: self.currentCodeInfo(start),
				},
				R: &Binary{
					Op:       TkLe,
					L:        lhs,
					R:        upper,
					CodeInfo: self.currentCodeInfo(start),
				},
				CodeInfo: self.currentCodeInfo(start),
			}
			if tk == TkBetween {
				newNode = between
			} else {
				newNode = &Unary{
					Op:       TkNot,
					Operand:  between,
					CodeInfo: self.currentCodeInfo(start),
				}
			}

		case TkIn, tkNotIn:
			v, err := self.doParseBinInRHS()
			if err != nil {
				return nil, err
			}
			var out Expr
			for _, vv := range v {
				eq := &Binary{
					Op:       TkEq,
					L:        lhs,
					R:        vv,
					CodeInfo: self.currentCodeInfo(start),
				}
				if out == nil {
					out = eq
				} else {
					out = &Binary{
						Op:       TkOr,
						L:        out,
						R:        eq,
						CodeInfo: self.currentCodeInfo(start),
					}
				}
			}
			if tk == tkNotIn {
				newNode = &Unary{
					Op:       TkNot,
					Operand:  out,
					CodeInfo: self.currentCodeInfo(start),
				}
			} else {
				newNode = out
			}

		default:
			v, err := self.doParseBin(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			newNode = &Binary{
				Op:       tk,
				L:        lhs,
				R:        v,
				CodeInfo: self.currentCodeInfo(start),
			}
		}

		lhs = newNode
	}

	return lhs, nil
}

func (self *Parser) parseUnary() (Expr, error) {
	start := self.posStart()

	switch self.L.Token {
	case TkAdd:
		self.L.Next()
		return self.parseUnary()
	case TkSub, TkNot:
		op := self.L.Token
		self.L.Next()

		var operand Expr
		var err error
		if op == TkNot {
			// NOT binds looser than comparison but tighter than AND
			operand, err = self.doParseBin(self.binPrec(TkNot))
		} else {
			operand, err = self.parseUnary()
		}
		if err != nil {
			return nil, err
		}
		// fold negative literals
		if c, ok := operand.(*Const); ok && op == TkSub {
			switch c.Ty {
			case ConstInt:
				c.Int = -c.Int
				return c, nil
			case ConstReal:
				c.Real = -c.Real
				return c, nil
			}
		}
		return &Unary{
			Op:       op,
			Operand:  operand,
			CodeInfo: self.currentCodeInfo(start),
		}, nil
	default:
		return self.parseAtomic()
	}
}

func (self *Parser) parseCall(name string, start int) (*Call, error) {
	call := &Call{Name: name}
	self.L.Next() // eat '('

	switch self.L.Token {
	case TkRPar:
	case TkMul:
		call.Star = true
		self.L.Next()
	default:
		if self.L.Token == TkDistinct {
			call.Distinct = true
			self.L.Next()
		}
		for {
			e, err := self.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Parameters = append(call.Parameters, e)
			if self.L.Token != TkComma {
				break
			}
			self.L.Next()
		}
	}

	if err := self.expect(TkRPar, "')' to close the call"); err != nil {
		return nil, err
	}
	call.CodeInfo = self.currentCodeInfo(start)
	return call, nil
}

func (self *Parser) parseConstExpr() *Const {
	start := self.posStart()

	c := &Const{}
	switch self.L.Token {
	case TkTrue:
		c.Ty = ConstBool
		c.Bool = true
	case TkFalse:
		c.Ty = ConstBool
	case TkNull:
		c.Ty = ConstNull
	case TkStr:
		c.Ty = ConstStr
		c.String = self.L.Lexeme.Text
	case TkInt:
		c.Ty = ConstInt
		c.Int = self.L.Lexeme.Int
	case TkReal:
		c.Ty = ConstReal
		c.Real = self.L.Lexeme.Real
	default:
		return nil
	}
	self.L.Next()
	c.CodeInfo = self.currentCodeInfo(start)
	return c
}

func (self *Parser) parseAtomic() (Expr, error) {
	start := self.posStart()

	switch self.L.Token {
	case TkTrue, TkFalse, TkNull, TkStr, TkInt, TkReal:
		return self.parseConstExpr(), nil

	case TkId:
		id := self.L.Lexeme.Text
		switch self.L.Next() {
		case TkLPar:
			return self.parseCall(id, start)
		case TkDot:
			if self.L.Next() != TkId {
				return nil, self.err("expect a column name after '.'")
			}
			col := self.L.Lexeme.Text
			self.L.Next()
			return &Ref{
				Table:    id,
				Id:       col,
				CodeInfo: self.currentCodeInfo(start),
			}, nil
		default:
			return &Ref{
				Id:       id,
				CodeInfo: self.currentCodeInfo(start),
			}, nil
		}

	case TkAt:
		v := &Var{}
		for {
			if self.L.Next() != TkId {
				return nil, self.err("expect a identifier for variable name")
			}
			v.Name = append(v.Name, self.L.Lexeme.Text)
			if self.L.Next() != TkDot {
				break
			}
		}
		v.CodeInfo = self.currentCodeInfo(start)
		return v, nil

	case TkLPar:
		self.L.Next()
		e, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkRPar, "')' to close the sub expression"); err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, self.err("unexpected token for expression")
	}
}
