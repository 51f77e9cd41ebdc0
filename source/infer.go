package source

import (
	"regexp"
	"strings"

	"github.com/dianpeng/colsql/schema"
)

// DefaultInferMaxRows is how many rows are sampled to infer a schema.
const DefaultInferMaxRows = 100

type candidate uint16

const (
	candBool candidate = 1 << iota
	candInt
	candFloat
	candDate
	candTsSecond
	candTsMilli
	candTsMicro
	candTsNano
)

const tsPrefix = `\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`
const tsZone = `(Z|[+-]\d{2}:\d{2})?`

var patterns = []struct {
	flag candidate
	re   *regexp.Regexp
}{
	{candBool, regexp.MustCompile(`^(?i:true|false)$`)},
	{candInt, regexp.MustCompile(`^[-+]?\d+$`)},
	{candFloat, regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)},
	{candDate, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)},
	{candTsSecond, regexp.MustCompile(`^` + tsPrefix + tsZone + `$`)},
	{candTsMilli, regexp.MustCompile(`^` + tsPrefix + `(\.\d{1,3})?` + tsZone + `$`)},
	{candTsMicro, regexp.MustCompile(`^` + tsPrefix + `(\.\d{1,6})?` + tsZone + `$`)},
	{candTsNano, regexp.MustCompile(`^` + tsPrefix + `(\.\d{1,9})?` + tsZone + `$`)},
}

// most specific first
var resolution = []struct {
	flag candidate
	ty   schema.DataType
}{
	{candBool, schema.TypeBoolean},
	{candInt, schema.TypeInteger},
	{candFloat, schema.TypeDouble},
	{candDate, schema.TypeDate},
	{candTsSecond, schema.TypeTimestampSecond},
	{candTsMilli, schema.TypeTimestampMillisecond},
	{candTsMicro, schema.TypeTimestampMicrosecond},
	{candTsNano, schema.TypeTimestampNanosecond},
}

// classify ORs together every candidate v matches. Quoted values match
// nothing.
func classify(v string) candidate {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return 0
	}
	var out candidate
	for _, p := range patterns {
		if p.re.MatchString(v) {
			out |= p.flag
		}
	}
	return out
}

// inferrer folds sampled values into one candidate set per column. A
// column's type is the most specific candidate every non empty value
// matched.
type inferrer struct {
	sets []candidate
	seen []bool
}

func newInferrer(width int) *inferrer {
	return &inferrer{sets: make([]candidate, width), seen: make([]bool, width)}
}

func (self *inferrer) add(col int, v string) {
	if col >= len(self.sets) || v == "" {
		return
	}
	c := classify(v)
	if !self.seen[col] {
		self.sets[col] = c
		self.seen[col] = true
		return
	}
	self.sets[col] &= c
}

func (self *inferrer) typeOf(col int) schema.DataType {
	if !self.seen[col] {
		return schema.TypeUtf8
	}
	for _, r := range resolution {
		if self.sets[col]&r.flag != 0 {
			return r.ty
		}
	}
	return schema.TypeUtf8
}

func (self *inferrer) schema(names []string) *schema.Schema {
	fields := make([]schema.Field, 0, len(names))
	for idx, n := range names {
		fields = append(fields, schema.NewField(n, self.typeOf(idx)))
	}
	return schema.NewSchema(fields...)
}

// InferSchema samples at most maxRows rows (DefaultInferMaxRows when not
// positive) and types every named column.
func InferSchema(names []string, rows [][]string, maxRows int) *schema.Schema {
	if maxRows <= 0 {
		maxRows = DefaultInferMaxRows
	}
	inf := newInferrer(len(names))
	for idx, row := range rows {
		if idx >= maxRows {
			break
		}
		for col, v := range row {
			inf.add(col, v)
		}
	}
	return inf.schema(names)
}

// InferType types a single column of values.
func InferType(values []string) schema.DataType {
	inf := newInferrer(1)
	for _, v := range values {
		inf.add(0, v)
	}
	return inf.typeOf(0)
}
