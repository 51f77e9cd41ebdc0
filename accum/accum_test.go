package accum

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func ints(values ...any) []data.ColumnValue {
	return []data.ColumnValue{
		data.NewArrayColumnValue(data.NewArrayFrom(schema.TypeInteger, values...)),
	}
}

func mustNew(t *testing.T, kind AggKind, argTypes []schema.DataType, distinct bool) Accumulator {
	acc, err := New(kind, argTypes, distinct)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

// twoStage feeds each chunk into its own partial accumulator and merges the
// states into one final accumulator.
func twoStage(t *testing.T, kind AggKind, chunks ...[]any) data.ScalarValue {
	argTypes := []schema.DataType{schema.TypeInteger}
	final := mustNew(t, kind, argTypes, false)
	for _, c := range chunks {
		partial := mustNew(t, kind, argTypes, false)
		if err := UpdateBatch(partial, ints(c...)); err != nil {
			t.Fatal(err)
		}
		state := partial.State()
		row := make([]any, len(state))
		for i, s := range state {
			row[i] = s.Value
		}
		if err := final.Merge(row); err != nil {
			t.Fatal(err)
		}
	}
	return final.Evaluate()
}

func TestParseAggKind(t *testing.T) {
	assert := assert.New(t)

	k, ok := ParseAggKind("SUM")
	assert.True(ok)
	assert.Equal(AggSum, k)

	k, ok = ParseAggKind("stddev_pop")
	assert.True(ok)
	assert.Equal(AggStddevPop, k)

	_, ok = ParseAggKind("concat")
	assert.False(ok)
	assert.Equal(2, AggCovariance.ArgCount())
	assert.Equal("count", AggCount.String())
}

func TestReturnType(t *testing.T) {
	assert := assert.New(t)

	ty, err := ReturnType(AggCount, []schema.DataType{schema.TypeUtf8})
	assert.Nil(err)
	assert.Equal(schema.TypeInteger, ty)

	ty, err = ReturnType(AggSum, []schema.DataType{schema.TypeInteger})
	assert.Nil(err)
	assert.Equal(schema.TypeInteger, ty)

	ty, err = ReturnType(AggAvg, []schema.DataType{schema.TypeInteger})
	assert.Nil(err)
	assert.Equal(schema.TypeDouble, ty)

	ty, err = ReturnType(AggMax, []schema.DataType{schema.TypeDate})
	assert.Nil(err)
	assert.Equal(schema.TypeDate, ty)

	_, err = ReturnType(AggSum, []schema.DataType{schema.TypeBoolean})
	assert.True(errors.Is(err, errs.ErrTypeMismatch))

	_, err = ReturnType(AggCovariance, []schema.DataType{schema.TypeDouble})
	assert.True(errors.Is(err, errs.ErrInvalidPlan))
}

func TestStateFields(t *testing.T) {
	assert := assert.New(t)

	fields, err := StateFields(AggAvg, "avg(b)", []schema.DataType{schema.TypeInteger}, false)
	assert.Nil(err)
	assert.Equal(2, len(fields))
	assert.Equal("avg(b)[count]", fields[0].Name)
	assert.Equal(schema.TypeDouble, fields[1].Type)

	fields, err = StateFields(AggVariance, "v", []schema.DataType{schema.TypeDouble}, false)
	assert.Nil(err)
	assert.Equal(3, len(fields))

	fields, err = StateFields(AggCovariancePop, "c", []schema.DataType{schema.TypeDouble, schema.TypeDouble}, false)
	assert.Nil(err)
	assert.Equal(4, len(fields))

	fields, err = StateFields(AggSum, "s", []schema.DataType{schema.TypeInteger}, true)
	assert.Nil(err)
	assert.Equal(1, len(fields))
	assert.Equal(schema.TypeUtf8, fields[0].Type)
}

func TestCountSumMinMax(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int64(3), twoStage(t, AggCount, []any{1, nil}, []any{2, 3}).Value)
	assert.Equal(int64(6), twoStage(t, AggSum, []any{1, nil}, []any{2, 3}).Value)
	assert.Equal(int64(1), twoStage(t, AggMin, []any{5, 1}, []any{2, nil}).Value)
	assert.Equal(int64(5), twoStage(t, AggMax, []any{5, 1}, []any{2, nil}).Value)

	// all null input
	assert.True(twoStage(t, AggSum, []any{nil}, []any{nil}).IsNull())
	assert.True(twoStage(t, AggMin, []any{nil}).IsNull())
	assert.Equal(int64(0), twoStage(t, AggCount, []any{nil}).Value)
}

func TestAvg(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(2.5, twoStage(t, AggAvg, []any{1, 2}, []any{3, 4}).Value)
	assert.Equal(2.0, twoStage(t, AggAvg, []any{1, 2, 3}, []any{}).Value)
	assert.True(twoStage(t, AggAvg, []any{nil}).IsNull())

	acc := mustNew(t, AggAvg, []schema.DataType{schema.TypeDecimal}, false)
	acc.Accumulate(decimal.RequireFromString("1.5"))
	acc.Accumulate(decimal.RequireFromString("2.5"))
	v := acc.Evaluate()
	assert.Equal(schema.TypeDecimal, v.Type)
	assert.True(decimal.NewFromInt(2).Equal(v.Value.(decimal.Decimal)))
}

func TestMedian(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(3.0, twoStage(t, AggMedian, []any{5, 1}, []any{3}).Value)
	assert.Equal(2.5, twoStage(t, AggMedian, []any{4, 1}, []any{3, 2}).Value)
	assert.True(twoStage(t, AggMedian, []any{nil}).IsNull())
}

func TestVariance(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(2.0, twoStage(t, AggVariancePop, []any{1, 2}, []any{3, 4, 5}).Value, 1e-9)
	assert.InDelta(2.5, twoStage(t, AggVariance, []any{1, 2}, []any{3, 4, 5}).Value, 1e-9)
	assert.InDelta(math.Sqrt(2.5), twoStage(t, AggStddev, []any{1, 2, 3}, []any{4, 5}).Value, 1e-9)
	assert.InDelta(math.Sqrt(2.0), twoStage(t, AggStddevPop, []any{1}, []any{2, 3, 4, 5}).Value, 1e-9)

	// single value sample variance is undefined
	assert.True(twoStage(t, AggVariance, []any{1}).IsNull())
	assert.Equal(0.0, twoStage(t, AggVariancePop, []any{1}).Value)
}

func TestVarianceMergeMatchesSinglePass(t *testing.T) {
	assert := assert.New(t)

	single := twoStage(t, AggVariance, []any{3, 7, 7, 19, 24, 1})
	split := twoStage(t, AggVariance, []any{3}, []any{7, 7}, []any{}, []any{19, 24, 1})
	assert.InDelta(single.Value, split.Value, 1e-9)
}

func TestCovariance(t *testing.T) {
	assert := assert.New(t)

	argTypes := []schema.DataType{schema.TypeDouble, schema.TypeDouble}
	xs := []any{1.0, 2.0, 3.0, 4.0}
	ys := []any{2.0, 4.0, 6.0, 8.0}

	single := mustNew(t, AggCovariance, argTypes, false)
	for i := range xs {
		single.Accumulate(xs[i], ys[i])
	}
	assert.InDelta(10.0/3.0, single.Evaluate().Value, 1e-9)

	final := mustNew(t, AggCovariancePop, argTypes, false)
	for _, r := range [][2]int{{0, 1}, {1, 4}} {
		p := mustNew(t, AggCovariancePop, argTypes, false)
		err := UpdateBatch(p, []data.ColumnValue{
			data.NewArrayColumnValue(data.NewArrayFrom(schema.TypeDouble, xs[r[0]:r[1]]...)),
			data.NewArrayColumnValue(data.NewArrayFrom(schema.TypeDouble, ys[r[0]:r[1]]...)),
		})
		assert.Nil(err)
		state := p.State()
		cols := []data.ColumnValue{}
		for _, s := range state {
			cols = append(cols, data.NewScalarColumnValue(s, 1))
		}
		assert.Nil(MergeBatch(final, cols))
	}
	assert.InDelta(2.5, final.Evaluate().Value, 1e-9)

	// rows with a null on either side are skipped
	acc := mustNew(t, AggCovariance, argTypes, false)
	acc.Accumulate(1.0, nil)
	acc.Accumulate(nil, 2.0)
	assert.True(acc.Evaluate().IsNull())
}

func TestDistinct(t *testing.T) {
	assert := assert.New(t)

	argTypes := []schema.DataType{schema.TypeInteger}
	final := mustNew(t, AggCount, argTypes, true)
	for _, chunk := range [][]any{{1, 2, 2, nil}, {2, 3}} {
		p := mustNew(t, AggCount, argTypes, true)
		assert.Nil(UpdateBatch(p, ints(chunk...)))
		assert.Nil(final.Merge([]any{p.State()[0].Value}))
	}
	assert.Equal(int64(3), final.Evaluate().Value)

	sum := mustNew(t, AggSum, argTypes, true)
	assert.Nil(UpdateBatch(sum, ints(5, 5, 1)))
	assert.Equal(int64(6), sum.Evaluate().Value)

	_, err := New(AggCovariance, []schema.DataType{schema.TypeDouble, schema.TypeDouble}, true)
	assert.True(errors.Is(err, errs.ErrUnsupported))
}

func TestDistinctMergeMatchesSinglePass(t *testing.T) {
	assert := assert.New(t)

	strs := func(values ...any) []data.ColumnValue {
		return []data.ColumnValue{
			data.NewArrayColumnValue(data.NewArrayFrom(schema.TypeUtf8, values...)),
		}
	}
	argTypes := []schema.DataType{schema.TypeUtf8}
	chunks := [][]any{{`a"b`, "x,y", nil}, {`a"b`, "[z]"}, {"x,y"}}

	for _, kind := range []AggKind{AggCount, AggMin, AggMax} {
		single := mustNew(t, kind, argTypes, true)
		final := mustNew(t, kind, argTypes, true)
		for _, chunk := range chunks {
			assert.Nil(UpdateBatch(single, strs(chunk...)))

			p := mustNew(t, kind, argTypes, true)
			assert.Nil(UpdateBatch(p, strs(chunk...)))
			assert.Nil(final.Merge([]any{p.State()[0].Value}))
		}
		assert.Equal(single.Evaluate(), final.Evaluate(), kind.String())
	}

	count := mustNew(t, AggCount, argTypes, true)
	assert.Nil(UpdateBatch(count, strs(`a"b`, "x,y", `a"b`, "[z]")))
	assert.Equal(int64(3), count.Evaluate().Value)

	lo := mustNew(t, AggMin, argTypes, true)
	assert.Nil(UpdateBatch(lo, strs(`a"b`, "x,y", "[z]")))
	assert.Equal("[z]", lo.Evaluate().Value)
}

func TestMergeBadState(t *testing.T) {
	assert := assert.New(t)

	acc := mustNew(t, AggAvg, []schema.DataType{schema.TypeInteger}, false)
	err := acc.Merge([]any{int64(1)})
	assert.True(errors.Is(err, errs.ErrSchemaShape))

	med := mustNew(t, AggMedian, []schema.DataType{schema.TypeInteger}, false)
	err = med.Merge([]any{"not json"})
	assert.True(errors.Is(err, errs.ErrTypeMismatch))
}
