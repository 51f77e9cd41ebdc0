package engine

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/logger"
	"github.com/dianpeng/colsql/schema"
	"github.com/dianpeng/colsql/source"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	e := New(opts...)
	require.NoError(t, e.RegisterTable("t", source.NewMemorySource("t", schema.NewSchema(
		schema.NewField("a", schema.TypeInteger),
		schema.NewField("b", schema.TypeUtf8),
	), [][]any{
		{"1", "x"},
		{"2", "y"},
		{"3", nil},
	})))
	return e
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)

	e := newEngine(t)
	assert.Equal([]string{"t"}, e.Tables())

	src, ok := e.Table("t")
	assert.True(ok)
	assert.Equal(2, src.Schema().Len())

	assert.Error(e.RegisterTable("t", source.NewMemorySource("t", schema.Empty(), nil)))
	assert.Error(e.RegisterTable("", source.NewMemorySource("t", schema.Empty(), nil)))

	_, ok = e.Deregister("t")
	assert.True(ok)
	_, ok = e.Deregister("t")
	assert.False(ok)

	_, err := e.Collect(context.Background(), "select a from t")
	assert.ErrorIs(err, errs.ErrUnresolved)
}

func TestQuery(t *testing.T) {
	assert := assert.New(t)

	e := newEngine(t, WithBatchSize(1))
	r, err := e.Query(context.Background(), "select a, b from t where a > 1 order by a desc")
	require.NoError(t, err)
	assert.NotEmpty(r.ID)
	assert.Equal(2, r.Schema.Len())

	rows := [][]any{}
	for {
		b, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows = append(rows, b.Rows()...)
	}
	assert.Equal([][]any{{int64(3), nil}, {int64(2), "y"}}, rows)
	assert.Equal(2, r.Rows())

	_, err = r.Next()
	assert.Equal(io.EOF, err)
	assert.NoError(r.Close())
}

func TestCollectBatch(t *testing.T) {
	assert := assert.New(t)

	for _, optimize := range []bool{true, false} {
		e := newEngine(t, WithOptimize(optimize))
		b, err := e.CollectBatch(context.Background(), "select count(*) as n, max(a) from t")
		require.NoError(t, err)
		assert.Equal([][]any{{int64(3), int64(3)}}, b.Rows())
		assert.Equal("n", b.Schema().Field(0).Name)

		b, err = e.CollectBatch(context.Background(), "select a from t where a > 10")
		require.NoError(t, err)
		assert.Equal(0, b.RowCount())
		assert.Equal(1, b.Schema().Len())
	}
}

func TestQueryErrors(t *testing.T) {
	assert := assert.New(t)
	e := newEngine(t)

	_, err := e.Collect(context.Background(), "select from")
	assert.ErrorIs(err, errs.ErrParse)

	_, err = e.Collect(context.Background(), "select zzz from t")
	assert.ErrorIs(err, errs.ErrUnresolved)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Collect(ctx, "select a from t")
	assert.ErrorIs(err, errs.ErrCancelled)
	assert.ErrorIs(err, context.Canceled)
}

func TestExplain(t *testing.T) {
	assert := assert.New(t)

	e := newEngine(t)
	x, err := e.Explain("select a from t where a > 1")
	require.NoError(t, err)
	assert.Equal(
		"Projection: #t.a\n"+
			"  Filter: #t.a > 1\n"+
			"    TableScan: t\n",
		x.Logical,
	)
	assert.Equal(
		"Filter: #t.a > 1\n"+
			"  TableScan: t projection=[a]\n",
		x.Optimized,
	)
	assert.Equal(
		"FilterExec: a@0 > 1\n"+
			"  ScanExec: memory(t) projection=[a]\n",
		x.Physical,
	)

	out, err := x.YAML()
	require.NoError(t, err)
	back := &Explanation{}
	require.NoError(t, yaml.Unmarshal(out, back))
	assert.Equal(x, back)

	e = newEngine(t, WithOptimize(false))
	x, err = e.Explain("select a from t")
	require.NoError(t, err)
	assert.Empty(x.Optimized)
	assert.NotContains(x.String(), "optimized:")
}

func TestMetrics(t *testing.T) {
	assert := assert.New(t)

	m := NewMetrics(prometheus.NewRegistry())
	e := newEngine(t, WithMetrics(m))

	_, err := e.Collect(context.Background(), "select a from t")
	require.NoError(t, err)
	_, err = e.Collect(context.Background(), "select nope from t")
	assert.Error(err)

	assert.Equal(1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ok")))
	assert.Equal(1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("error")))
	assert.Equal(3.0, testutil.ToFloat64(m.RowsTotal.WithLabelValues("ScanExec")))
	assert.Equal(1, testutil.CollectAndCount(m.QueryDuration))
}

func TestLogging(t *testing.T) {
	assert := assert.New(t)

	buf := &bytes.Buffer{}
	e := newEngine(t, WithLogger(logger.NewForTest(zapcore.AddSync(buf))))
	r, err := e.Query(context.Background(), "select a from t")
	require.NoError(t, err)
	_, err = r.Collect()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(out, `"query_id":"`+r.ID+`"`)
	assert.Contains(out, `"msg":"physical plan"`)
	assert.Contains(out, `"msg":"query done"`)
	assert.Contains(out, `"rows":3`)
}
