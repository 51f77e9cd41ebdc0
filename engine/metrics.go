package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors a query reports to.
type Metrics struct {
	// QueriesTotal counts finished queries by status: ok, error or
	// cancelled.
	QueriesTotal *prometheus.CounterVec

	// QueryDuration is the time from planning until the result is drained
	// or closed.
	QueryDuration prometheus.Histogram

	// BatchesTotal counts batches emitted per operator.
	BatchesTotal *prometheus.CounterVec

	// RowsTotal counts rows emitted per operator, the ScanExec series is
	// the number of rows read from sources.
	RowsTotal *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colsql_queries_total",
				Help: "Total number of queries by final status",
			},
			[]string{"status"},
		),
		QueryDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "colsql_query_duration_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colsql_batches_total",
				Help: "Total number of batches emitted by operators",
			},
			[]string{"operator"},
		),
		RowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colsql_rows_total",
				Help: "Total number of rows emitted by operators",
			},
			[]string{"operator"},
		),
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics registers with the default Prometheus registry, once per
// process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (self *Metrics) observe(node string, rows int) {
	if self == nil {
		return
	}
	self.BatchesTotal.WithLabelValues(node).Inc()
	self.RowsTotal.WithLabelValues(node).Add(float64(rows))
}

func (self *Metrics) finish(status string, seconds float64) {
	if self == nil {
		return
	}
	self.QueriesTotal.WithLabelValues(status).Inc()
	self.QueryDuration.Observe(seconds)
}
