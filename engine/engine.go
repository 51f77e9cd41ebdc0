// Package engine is the session facade: a catalog of registered tables and
// the pipeline from SQL text to a stream of record batches.
//
//	SQL -> sql.Parse -> plan.PlanSQL -> optimizer -> physical.Create -> exec
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/optimizer"
	"github.com/dianpeng/colsql/physical"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/source"
	"github.com/dianpeng/colsql/sql"
)

type Engine struct {
	mu     sync.RWMutex
	tables map[string]source.Source

	optimizer *optimizer.Optimizer
	optimize  bool
	batchSize int
	log       *zap.Logger
	metrics   *Metrics
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		e.batchSize = n
	}
}

// WithOptimize turns the logical optimizer on or off, it is on by default.
func WithOptimize(on bool) Option {
	return func(e *Engine) {
		e.optimize = on
	}
}

// WithOptimizer replaces the default rule set.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(e *Engine) {
		e.optimizer = o
	}
}

// WithMetrics reports queries to m, nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		tables:    map[string]source.Source{},
		optimize:  true,
		batchSize: exec.DefaultBatchSize,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.optimizer == nil {
		e.optimizer = optimizer.New(e.log)
	}
	return e
}

// RegisterTable makes src queryable as name. Names are case sensitive.
func (self *Engine) RegisterTable(name string, src source.Source) error {
	if name == "" {
		return errors.New("stage(engine): empty table name")
	}
	if src == nil {
		return errors.Newf("stage(engine): table %s has no source", name)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.tables[name]; ok {
		return errors.Newf("stage(engine): table %s already registered", name)
	}
	self.tables[name] = src
	self.log.Debug("table registered", zap.String("table", name), zap.Stringer("schema", src.Schema()))
	return nil
}

// Deregister removes name and returns its source.
func (self *Engine) Deregister(name string) (source.Source, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	src, ok := self.tables[name]
	if ok {
		delete(self.tables, name)
	}
	return src, ok
}

// Table implements plan.Catalog.
func (self *Engine) Table(name string) (plan.TableSource, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	src, ok := self.tables[name]
	if !ok {
		return nil, false
	}
	return src, true
}

// Tables lists the registered names in order.
func (self *Engine) Tables() []string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	out := make([]string, 0, len(self.tables))
	for n := range self.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (self *Engine) CreateLogicalPlan(query string) (plan.LogicalPlan, error) {
	code, err := sql.Parse(query)
	if err != nil {
		return nil, err
	}
	return plan.PlanSQL(code, self)
}

// Optimize runs the optimizer, unless it was turned off.
func (self *Engine) Optimize(p plan.LogicalPlan) (plan.LogicalPlan, error) {
	if !self.optimize {
		return p, nil
	}
	return self.optimizer.Optimize(p)
}

func (self *Engine) CreatePhysicalPlan(p plan.LogicalPlan) (exec.ExecutionPlan, error) {
	return physical.Create(p)
}

func (self *Engine) execOptions() exec.Options {
	opts := exec.DefaultOptions()
	if self.batchSize > 0 {
		opts.BatchSize = self.batchSize
	}
	if self.metrics != nil {
		opts.Observe = self.metrics.observe
	}
	return opts
}

// Collect runs query to completion and returns every batch.
func (self *Engine) Collect(ctx context.Context, query string) ([]*data.RecordBatch, error) {
	r, err := self.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Collect()
}

// CollectBatch runs query to completion and concatenates the result into a
// single batch, which carries the result schema even when it is empty.
func (self *Engine) CollectBatch(ctx context.Context, query string) (*data.RecordBatch, error) {
	r, err := self.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	batches, err := r.Collect()
	if err != nil {
		return nil, err
	}
	out := data.NewRecordBatch(r.Schema)
	for _, b := range batches {
		if err := out.Concat(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}
