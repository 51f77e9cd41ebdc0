package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// Literal
	TkTrue = iota
	TkFalse
	TkInt
	TkReal
	TkNull
	TkStr
	TkId

	// Keywords
	TkSelect
	TkFrom
	TkAs
	TkWhere
	TkGroupBy
	TkOrderBy
	TkLimit
	TkOffset
	TkHaving
	TkDistinct
	TkIn
	TkBetween
	TkLike
	TkJoin
	TkInner
	TkLeft
	TkRight
	TkFull
	TkOuter
	TkOn
	TkAsc
	TkDesc

	// Punctuation
	TkComma
	TkSemicolon
	TkAt
	TkLPar
	TkRPar

	TkAdd
	TkSub
	TkMul
	TkDiv
	TkMod

	TkLt
	TkLe
	TkGt
	TkGe
	TkEq
	TkNe

	TkAnd
	TkOr
	TkNot

	TkDot

	TkError
	TkEof

	// never produced by lexing, the parser folds NOT LIKE into it
	TkNotLike

	// Special hidden tokens that will never showsup during lexing, used inside
	// of parser for desugar purpose
	tkNotBetween
	tkNotIn
)

func TokenName(tk int) string {
	switch tk {
	case TkAdd:
		return "+"
	case TkSub:
		return "-"
	case TkMul:
		return "*"
	case TkDiv:
		return "/"
	case TkMod:
		return "%"
	case TkLt:
		return "<"
	case TkLe:
		return "<="
	case TkGt:
		return ">"
	case TkGe:
		return ">="
	case TkEq:
		return "="
	case TkNe:
		return "!="
	case TkAnd:
		return "and"
	case TkOr:
		return "or"
	case TkNot:
		return "not"
	case TkLike:
		return "like"
	case TkNotLike:
		return "not like"
	default:
		return fmt.Sprintf("token(%d)", tk)
	}
}

type Lexeme struct {
	Text string
	Int  int64
	Real float64
	Bool bool
}

type Lexer struct {
	Source string
	Cursor int
	Token  int
	Lexeme Lexeme
}

func (self *Lexer) nextRune() (rune, int) {
	if self.Cursor >= len(self.Source) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(self.Source[self.Cursor:])
}

func (self *Lexer) nextRune2() rune {
	if self.Cursor+1 >= len(self.Source) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(self.Source[self.Cursor+1:])
	return r
}

func (self *Lexer) yield(tk int, sz int) int {
	self.Token = tk
	self.Cursor += sz
	return tk
}

func (self *Lexer) eof() int {
	self.Token = TkEof
	return TkEof
}

// generate a debug position for diagnostic information output
func (self *Lexer) pos(where int, source string) (int, int) {
	line := 1
	col := 1

	for idx := 0; idx < where && idx < len(source); {
		r, sz := utf8.DecodeRuneInString(source[idx:])
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
		idx += max(sz, 1)
	}

	return line, col
}

func (self *Lexer) dinfo() string {
	line, col := self.pos(self.Cursor, self.Source)
	return fmt.Sprintf("around position(%d: %d)", line, col)
}

func (self *Lexer) err(msg string) int {
	self.Lexeme.Text = fmt.Sprintf("%s: %s", self.dinfo(), msg)
	self.Token = TkError
	return TkError
}

func (self *Lexer) errE(err error) int {
	return self.err(err.Error())
}

func (self *Lexer) errUtf8() int {
	return self.err("invalid utf8 character")
}

func (self *Lexer) lexLineComment() bool {
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				return true // reaching end of the input
			}
			self.errUtf8()
			return false
		}

		self.Cursor += sz

		if r == '\n' {
			return true
		}
	}
}

func (self *Lexer) lexBlockComment() bool {
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				self.err("block comment is not closed properly")
			} else {
				self.errUtf8()
			}
			return false
		}

		if r == '*' && self.nextRune2() == '/' {
			self.Cursor += 2
			return true
		}

		self.Cursor += sz
	}
}

// 1) exponent or dot indicates a real number
// 2) 0x prefix is allowed for integers
// 3) otherwise treated as 64 bits integer
func (self *Lexer) lexNum(c rune) int {
	hasDot := false
	hasE := false
	hex := false

	buf := &bytes.Buffer{}
	buf.WriteRune(c)
	self.Cursor++

	if c == '0' {
		if r, _ := self.nextRune(); r == 'x' || r == 'X' {
			hex = true
			buf.WriteRune('x')
			self.Cursor++
		}
	}

loop:
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				break
			}
			return self.errUtf8()
		}

		switch {
		case r == '.' && !hex && !hasDot && !hasE:
			hasDot = true
		case (r == 'e' || r == 'E') && !hex && !hasE:
			hasE = true
			buf.WriteRune(r)
			self.Cursor += sz
			if n, _ := self.nextRune(); n == '+' || n == '-' {
				buf.WriteRune(n)
				self.Cursor++
			}
			continue
		case r >= '0' && r <= '9':
		case hex && strings.ContainsRune("abcdefABCDEF", r):
		default:
			break loop
		}

		buf.WriteRune(r)
		self.Cursor += sz
	}

	if hasDot || hasE {
		f, err := strconv.ParseFloat(buf.String(), 64)
		if err != nil {
			return self.errE(err)
		}
		self.Lexeme.Real = f
		self.Token = TkReal
		return TkReal
	}

	base := 10
	if hex {
		base = 0
	}
	i, err := strconv.ParseInt(buf.String(), base, 64)
	if err != nil {
		return self.errE(err)
	}
	self.Lexeme.Int = i
	self.Token = TkInt
	return TkInt
}

// string literal, quoted by ' or ". A doubled quote inside the literal is a
// quote character, backslash escapes are also recognized.
func (self *Lexer) lexStr(quote rune) int {
	buf := &bytes.Buffer{}

	self.Cursor++
	self.Lexeme.Text = ""

	for {
		c, sz := self.nextRune()

		if c == utf8.RuneError {
			if sz == 0 {
				return self.err("string literal is not closed by quote properly")
			}
			return self.errUtf8()
		}

		if c == quote {
			if self.nextRune2() == quote {
				buf.WriteRune(quote)
				self.Cursor += 2 * sz
				continue
			}
			self.Cursor += sz
			break
		}

		if c == '\\' {
			switch self.nextRune2() {
			case 't':
				buf.WriteRune('\t')
			case 'n':
				buf.WriteRune('\n')
			case 'b':
				buf.WriteRune('\b')
			case 'v':
				buf.WriteRune('\v')
			case 'r':
				buf.WriteRune('\r')
			case '\'':
				buf.WriteRune('\'')
			case '"':
				buf.WriteRune('"')
			case '\\':
				buf.WriteRune('\\')
			default:
				return self.err("unknown escape sequences inside of string literal")
			}
			self.Cursor += 2
			continue
		}

		buf.WriteRune(c)
		self.Cursor += sz
	}

	self.Lexeme.Text = buf.String()
	self.Token = TkStr
	return self.Token
}

// `quoted identifier`, keeps its case and may contain any character
func (self *Lexer) lexQuotedId() int {
	self.Cursor++
	end := strings.IndexByte(self.Source[self.Cursor:], '`')
	if end < 0 {
		return self.err("quoted identifier is not closed by '`'")
	}
	self.Lexeme.Text = self.Source[self.Cursor : self.Cursor+end]
	self.Cursor += end + 1
	self.Token = TkId
	return TkId
}

var keywords = map[string]int{
	"and":      TkAnd,
	"as":       TkAs,
	"asc":      TkAsc,
	"between":  TkBetween,
	"desc":     TkDesc,
	"distinct": TkDistinct,
	"false":    TkFalse,
	"from":     TkFrom,
	"full":     TkFull,
	"having":   TkHaving,
	"in":       TkIn,
	"inner":    TkInner,
	"join":     TkJoin,
	"left":     TkLeft,
	"like":     TkLike,
	"limit":    TkLimit,
	"not":      TkNot,
	"null":     TkNull,
	"offset":   TkOffset,
	"on":       TkOn,
	"or":       TkOr,
	"outer":    TkOuter,
	"right":    TkRight,
	"select":   TkSelect,
	"true":     TkTrue,
	"where":    TkWhere,
}

// words that only form a keyword when followed by BY, alone they are plain
// identifiers
var byKeywords = map[string]int{
	"group": TkGroupBy,
	"order": TkOrderBy,
}

// single character tokens
var punctuations = map[rune]int{
	',': TkComma,
	';': TkSemicolon,
	'.': TkDot,
	'@': TkAt,
	'(': TkLPar,
	')': TkRPar,
	'+': TkAdd,
	'*': TkMul,
	'%': TkMod,
}

// operators, the longest spelling is tried first
var operators = []struct {
	text string
	tk   int
}{
	{"&&", TkAnd},
	{"||", TkOr},
	{"==", TkEq},
	{">=", TkGe},
	{"<=", TkLe},
	{"<>", TkNe},
	{"!=", TkNe},
	{"=", TkEq},
	{">", TkGt},
	{"<", TkLt},
	{"!", TkNot},
	{"-", TkSub},
	{"/", TkDiv},
}

func (self *Lexer) isWS(r rune) bool {
	switch r {
	case ' ', '\r', '\t', '\n', '\b', '\v':
		return true
	default:
		return false
	}
}

func (self *Lexer) isIdChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func (self *Lexer) isIdLeadingChar(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

// scan returns the first offset at or after from whose rune fails pred.
func (self *Lexer) scan(from int, pred func(rune) bool) int {
	for from < len(self.Source) {
		r, sz := utf8.DecodeRuneInString(self.Source[from:])
		if r == utf8.RuneError || !pred(r) {
			break
		}
		from += sz
	}
	return from
}

// followedBy consumes the whitespace and the word w when w is the next word.
func (self *Lexer) followedBy(w string) bool {
	start := self.scan(self.Cursor, self.isWS)
	end := self.scan(start, self.isIdChar)
	if end == start || !strings.EqualFold(self.Source[start:end], w) {
		return false
	}
	self.Cursor = end
	return true
}

// identifiers keep their case, columns are resolved case sensitively.
// Keywords match in any case.
func (self *Lexer) lexWord(c rune) int {
	if !self.isIdLeadingChar(c) {
		return self.err("invalid leading character of identifier")
	}

	start := self.Cursor
	self.Cursor = self.scan(start+utf8.RuneLen(c), self.isIdChar)
	word := self.Source[start:self.Cursor]
	lower := strings.ToLower(word)

	if tk, ok := byKeywords[lower]; ok && self.followedBy("by") {
		self.Token = tk
		return tk
	}
	if tk, ok := keywords[lower]; ok {
		self.Token = tk
		return tk
	}

	self.Lexeme.Text = word
	self.Token = TkId
	return TkId
}

// comment skips a comment starting at the cursor. It reports whether a
// comment was found, and ok is false when lexing failed inside of it.
func (self *Lexer) comment() (found bool, ok bool) {
	rest := self.Source[self.Cursor:]
	switch {
	case strings.HasPrefix(rest, "--"), strings.HasPrefix(rest, "//"):
		self.Cursor += 2
		return true, self.lexLineComment()
	case strings.HasPrefix(rest, "#"):
		self.Cursor++
		return true, self.lexLineComment()
	case strings.HasPrefix(rest, "/*"):
		self.Cursor += 2
		return true, self.lexBlockComment()
	}
	return false, true
}

func (self *Lexer) Next() int {
	if self.Token == TkEof || self.Token == TkError && self.Cursor > 0 {
		return self.Token
	}
	return self.next()
}

func (self *Lexer) next() int {
	for {
		c, sz := self.nextRune()
		if c == utf8.RuneError {
			if sz == 0 {
				return self.eof()
			}
			return self.errUtf8()
		}

		if self.isWS(c) {
			self.Cursor += sz
			continue
		}
		if found, ok := self.comment(); found {
			if !ok {
				return self.Token
			}
			continue
		}
		if tk, ok := punctuations[c]; ok {
			return self.yield(tk, 1)
		}

		switch {
		case c == '\'' || c == '"':
			return self.lexStr(c)
		case c == '`':
			return self.lexQuotedId()
		case c >= '0' && c <= '9':
			return self.lexNum(c)
		case c == '&' && self.nextRune2() != '&':
			return self.err("are you missing '&' for and operator?")
		case c == '|' && self.nextRune2() != '|':
			return self.err("are you missing '|' for or operator?")
		}

		rest := self.Source[self.Cursor:]
		for _, op := range operators {
			if strings.HasPrefix(rest, op.text) {
				return self.yield(op.tk, len(op.text))
			}
		}
		return self.lexWord(c)
	}
}

func newLexer(source string) *Lexer {
	return &Lexer{
		Source: source,
		Cursor: 0,
		Token:  TkError,
	}
}
