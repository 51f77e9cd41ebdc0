package accum

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
)

// Accumulator folds the rows of one group into an aggregate value. The
// partial stage feeds input rows through Accumulate/UpdateBatch and emits
// State; the final stage feeds those states through MergeBatch and emits
// Evaluate.
type Accumulator interface {
	// Accumulate folds one input row, one value per argument.
	Accumulate(values ...any) error

	// Merge folds one state tuple produced by State of another instance.
	Merge(state []any) error

	State() []data.ScalarValue
	Evaluate() data.ScalarValue
}

func rowOf(columns []data.ColumnValue, idx int, row []any) []any {
	for i, c := range columns {
		row[i] = c.Get(idx)
	}
	return row
}

// UpdateBatch accumulates every row of the argument columns.
func UpdateBatch(acc Accumulator, values []data.ColumnValue) error {
	if len(values) == 0 {
		return nil
	}
	row := make([]any, len(values))
	for i := 0; i < values[0].Len(); i++ {
		if err := acc.Accumulate(rowOf(values, i, row)...); err != nil {
			return err
		}
	}
	return nil
}

// MergeBatch merges every row of the state columns.
func MergeBatch(acc Accumulator, states []data.ColumnValue) error {
	if len(states) == 0 {
		return nil
	}
	row := make([]any, len(states))
	for i := 0; i < states[0].Len(); i++ {
		if err := acc.Merge(rowOf(states, i, row)); err != nil {
			return err
		}
	}
	return nil
}

func stateLen(state []any, n int) error {
	if len(state) != n {
		return errs.SchemaShape("aggregate", "expect %d state values, got %d", n, len(state))
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return data.ToFloat(v)
}

// count ----------------------------------------------------------------------

type countAcc struct {
	count int64
}

func (self *countAcc) Accumulate(values ...any) error {
	if values[0] != nil {
		self.count++
	}
	return nil
}

func (self *countAcc) Merge(state []any) error {
	if err := stateLen(state, 1); err != nil {
		return err
	}
	if v, ok := data.ToInt(state[0]); ok && state[0] != nil {
		self.count += v
	}
	return nil
}

func (self *countAcc) State() []data.ScalarValue {
	return []data.ScalarValue{self.Evaluate()}
}

func (self *countAcc) Evaluate() data.ScalarValue {
	return data.ScalarValue{Type: schema.TypeInteger, Value: self.count}
}

// sum ------------------------------------------------------------------------

type sumAcc struct {
	ty    schema.DataType
	valid bool
	i     int64
	f     float64
	d     decimal.Decimal
}

func (self *sumAcc) add(v any) {
	x, ok := data.Convert(self.ty, v)
	if !ok {
		return
	}
	self.valid = true
	switch self.ty {
	case schema.TypeInteger:
		self.i += x.(int64)
	case schema.TypeDecimal:
		self.d = self.d.Add(x.(decimal.Decimal))
	default:
		self.f += x.(float64)
	}
}

func (self *sumAcc) Accumulate(values ...any) error {
	self.add(values[0])
	return nil
}

func (self *sumAcc) Merge(state []any) error {
	if err := stateLen(state, 1); err != nil {
		return err
	}
	self.add(state[0])
	return nil
}

func (self *sumAcc) State() []data.ScalarValue {
	return []data.ScalarValue{self.Evaluate()}
}

func (self *sumAcc) Evaluate() data.ScalarValue {
	if !self.valid {
		return data.NullScalar(self.ty)
	}
	switch self.ty {
	case schema.TypeInteger:
		return data.ScalarValue{Type: self.ty, Value: self.i}
	case schema.TypeDecimal:
		return data.ScalarValue{Type: self.ty, Value: self.d}
	default:
		return data.ScalarValue{Type: self.ty, Value: self.f}
	}
}

// min / max ------------------------------------------------------------------

type minMaxAcc struct {
	ty    schema.DataType
	max   bool
	value any
}

func (self *minMaxAcc) Accumulate(values ...any) error {
	x, ok := data.Convert(self.ty, values[0])
	if !ok {
		return nil
	}
	if self.value == nil {
		self.value = x
		return nil
	}
	c := data.CompareValues(x, self.value)
	if (self.max && c > 0) || (!self.max && c < 0) {
		self.value = x
	}
	return nil
}

func (self *minMaxAcc) Merge(state []any) error {
	if err := stateLen(state, 1); err != nil {
		return err
	}
	return self.Accumulate(state[0])
}

func (self *minMaxAcc) State() []data.ScalarValue {
	return []data.ScalarValue{self.Evaluate()}
}

func (self *minMaxAcc) Evaluate() data.ScalarValue {
	return data.ScalarValue{Type: self.ty, Value: self.value}
}

// avg ------------------------------------------------------------------------

type avgAcc struct {
	ty    schema.DataType
	count int64
	f     float64
	d     decimal.Decimal
}

func (self *avgAcc) addSum(v any) bool {
	x, ok := data.Convert(self.ty, v)
	if !ok {
		return false
	}
	if self.ty == schema.TypeDecimal {
		self.d = self.d.Add(x.(decimal.Decimal))
	} else {
		self.f += x.(float64)
	}
	return true
}

func (self *avgAcc) Accumulate(values ...any) error {
	if self.addSum(values[0]) {
		self.count++
	}
	return nil
}

func (self *avgAcc) Merge(state []any) error {
	if err := stateLen(state, 2); err != nil {
		return err
	}
	c, ok := data.ToInt(state[0])
	if !ok || state[0] == nil || c == 0 {
		return nil
	}
	if self.addSum(state[1]) {
		self.count += c
	}
	return nil
}

func (self *avgAcc) State() []data.ScalarValue {
	sum := data.ScalarValue{Type: self.ty, Value: self.f}
	if self.ty == schema.TypeDecimal {
		sum.Value = self.d
	}
	return []data.ScalarValue{
		{Type: schema.TypeInteger, Value: self.count},
		sum,
	}
}

func (self *avgAcc) Evaluate() data.ScalarValue {
	if self.count == 0 {
		return data.NullScalar(self.ty)
	}
	if self.ty == schema.TypeDecimal {
		return data.ScalarValue{Type: self.ty, Value: self.d.Div(decimal.NewFromInt(self.count))}
	}
	return data.ScalarValue{Type: self.ty, Value: self.f / float64(self.count)}
}

// median ---------------------------------------------------------------------

type medianAcc struct {
	values []float64
}

func (self *medianAcc) Accumulate(values ...any) error {
	if x, ok := toFloat(values[0]); ok {
		self.values = append(self.values, x)
	}
	return nil
}

func (self *medianAcc) Merge(state []any) error {
	if err := stateLen(state, 1); err != nil {
		return err
	}
	list, err := decodeList(state[0])
	if err != nil {
		return err
	}
	for _, v := range list {
		if err := self.Accumulate(v); err != nil {
			return err
		}
	}
	return nil
}

func (self *medianAcc) State() []data.ScalarValue {
	list := make([]string, 0, len(self.values))
	for _, v := range self.values {
		list = append(list, data.ToString(v))
	}
	return []data.ScalarValue{encodeList(list)}
}

func (self *medianAcc) Evaluate() data.ScalarValue {
	n := len(self.values)
	if n == 0 {
		return data.NullScalar(schema.TypeDouble)
	}
	sorted := slices.Clone(self.values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return data.ScalarValue{Type: schema.TypeDouble, Value: sorted[n/2]}
	}
	return data.ScalarValue{Type: schema.TypeDouble, Value: (sorted[n/2-1] + sorted[n/2]) / 2}
}

// variance / stddev, Welford's online algorithm -------------------------------

type varianceAcc struct {
	pop    bool
	stddev bool
	count  int64
	mean   float64
	m2     float64
}

func (self *varianceAcc) Accumulate(values ...any) error {
	x, ok := toFloat(values[0])
	if !ok {
		return nil
	}
	self.count++
	delta := x - self.mean
	self.mean += delta / float64(self.count)
	self.m2 += delta * (x - self.mean)
	return nil
}

func (self *varianceAcc) Merge(state []any) error {
	if err := stateLen(state, 3); err != nil {
		return err
	}
	c, ok := data.ToInt(state[0])
	if !ok || state[0] == nil || c == 0 {
		return nil
	}
	mean, _ := toFloat(state[1])
	m2, _ := toFloat(state[2])
	if self.count == 0 {
		self.count, self.mean, self.m2 = c, mean, m2
		return nil
	}

	n1, n2 := float64(self.count), float64(c)
	n := n1 + n2
	delta := mean - self.mean
	self.mean += delta * n2 / n
	self.m2 += m2 + delta*delta*n1*n2/n
	self.count += c
	return nil
}

func (self *varianceAcc) State() []data.ScalarValue {
	return []data.ScalarValue{
		{Type: schema.TypeInteger, Value: self.count},
		{Type: schema.TypeDouble, Value: self.mean},
		{Type: schema.TypeDouble, Value: self.m2},
	}
}

func (self *varianceAcc) Evaluate() data.ScalarValue {
	var v float64
	switch {
	case self.pop && self.count > 0:
		v = self.m2 / float64(self.count)
	case !self.pop && self.count > 1:
		v = self.m2 / float64(self.count-1)
	default:
		return data.NullScalar(schema.TypeDouble)
	}
	if self.stddev {
		v = math.Sqrt(v)
	}
	return data.ScalarValue{Type: schema.TypeDouble, Value: v}
}

// covariance -----------------------------------------------------------------

type covarianceAcc struct {
	pop   bool
	count int64
	mean1 float64
	mean2 float64
	c     float64
}

func (self *covarianceAcc) Accumulate(values ...any) error {
	x, ok1 := toFloat(values[0])
	y, ok2 := toFloat(values[1])
	if !ok1 || !ok2 {
		return nil
	}
	self.count++
	n := float64(self.count)
	dx := x - self.mean1
	self.mean1 += dx / n
	self.mean2 += (y - self.mean2) / n
	self.c += dx * (y - self.mean2)
	return nil
}

func (self *covarianceAcc) Merge(state []any) error {
	if err := stateLen(state, 4); err != nil {
		return err
	}
	c, ok := data.ToInt(state[0])
	if !ok || state[0] == nil || c == 0 {
		return nil
	}
	mean1, _ := toFloat(state[1])
	mean2, _ := toFloat(state[2])
	cc, _ := toFloat(state[3])
	if self.count == 0 {
		self.count, self.mean1, self.mean2, self.c = c, mean1, mean2, cc
		return nil
	}

	n1, n2 := float64(self.count), float64(c)
	n := n1 + n2
	d1 := mean1 - self.mean1
	d2 := mean2 - self.mean2
	self.c += cc + d1*d2*n1*n2/n
	self.mean1 += d1 * n2 / n
	self.mean2 += d2 * n2 / n
	self.count += c
	return nil
}

func (self *covarianceAcc) State() []data.ScalarValue {
	return []data.ScalarValue{
		{Type: schema.TypeInteger, Value: self.count},
		{Type: schema.TypeDouble, Value: self.mean1},
		{Type: schema.TypeDouble, Value: self.mean2},
		{Type: schema.TypeDouble, Value: self.c},
	}
}

func (self *covarianceAcc) Evaluate() data.ScalarValue {
	switch {
	case self.pop && self.count > 0:
		return data.ScalarValue{Type: schema.TypeDouble, Value: self.c / float64(self.count)}
	case !self.pop && self.count > 1:
		return data.ScalarValue{Type: schema.TypeDouble, Value: self.c / float64(self.count-1)}
	default:
		return data.NullScalar(schema.TypeDouble)
	}
}

// distinct -------------------------------------------------------------------

// distinctAcc feeds the wrapped aggregate each distinct non-null input once.
// values keeps the inputs seen so far for the partial state.
type distinctAcc struct {
	argTypes []schema.DataType
	inner    Accumulator
	seen     map[string]struct{}
	values   []any
}

func newDistinct(kind AggKind, argTypes []schema.DataType) (*distinctAcc, error) {
	inner, err := New(kind, argTypes, false)
	if err != nil {
		return nil, err
	}
	return &distinctAcc{
		argTypes: argTypes,
		inner:    inner,
		seen:     make(map[string]struct{}),
	}, nil
}

func (self *distinctAcc) Accumulate(values ...any) error {
	v := values[0]
	if v == nil {
		return nil
	}
	if ty := self.argTypes[0]; ty != schema.TypeNull {
		x, ok := data.Convert(ty, v)
		if !ok {
			return nil
		}
		v = x
	}
	key := data.KeyString(v)
	if _, ok := self.seen[key]; ok {
		return nil
	}
	if err := self.inner.Accumulate(v); err != nil {
		return err
	}
	self.seen[key] = struct{}{}
	self.values = append(self.values, v)
	return nil
}

func (self *distinctAcc) Merge(state []any) error {
	if err := stateLen(state, 1); err != nil {
		return err
	}
	list, err := decodeList(state[0])
	if err != nil {
		return err
	}
	for _, v := range list {
		if err := self.Accumulate(v); err != nil {
			return err
		}
	}
	return nil
}

func (self *distinctAcc) State() []data.ScalarValue {
	list := make([]string, 0, len(self.values))
	for _, v := range self.values {
		list = append(list, data.ToString(v))
	}
	return []data.ScalarValue{encodeList(list)}
}

func (self *distinctAcc) Evaluate() data.ScalarValue {
	return self.inner.Evaluate()
}

// encodeList never fails: a []string always marshals.
func encodeList(list []string) data.ScalarValue {
	blob, err := json.Marshal(list)
	if err != nil {
		panic(errors.AssertionFailedf("aggregate: encode state list: %v", err))
	}
	return data.ScalarValue{Type: schema.TypeUtf8, Value: string(blob)}
}

func decodeList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, errs.TypeMismatch("aggregate", "list state must be Utf8, got %T", v)
	}
	if s == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, errs.TypeMismatch("aggregate", "malformed list state: %s", err)
	}
	return list, nil
}
