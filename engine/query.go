package engine

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/plan"
	"github.com/dianpeng/colsql/schema"
)

// Result is a running query. Batches are pulled with Next, the query is
// finished once Next returns io.EOF or an error, or the result is closed.
type Result struct {
	ID     string
	SQL    string
	Schema *schema.Schema
	Plan   exec.ExecutionPlan

	engine  *Engine
	log     *zap.Logger
	stream  exec.RecordBatchStream
	start   time.Time
	rows    int
	batches int
	done    bool
}

// Query plans query and starts executing it. Nothing is read from the
// sources until the first Next.
func (self *Engine) Query(ctx context.Context, query string) (*Result, error) {
	id := uuid.NewString()
	log := self.log.With(zap.String("query_id", id))
	start := time.Now()

	log.Debug("query", zap.String("sql", query))
	p, err := self.plan(log, query)
	if err != nil {
		self.fail(log, start, err)
		return nil, err
	}

	stream, err := p.Execute(ctx, self.execOptions())
	if err != nil {
		self.fail(log, start, err)
		return nil, err
	}
	return &Result{
		ID:     id,
		SQL:    query,
		Schema: p.Schema(),
		Plan:   p,
		engine: self,
		log:    log,
		stream: stream,
		start:  start,
	}, nil
}

func (self *Engine) plan(log *zap.Logger, query string) (exec.ExecutionPlan, error) {
	logical, err := self.CreateLogicalPlan(query)
	if err != nil {
		return nil, err
	}
	log.Debug("logical plan", zap.String("plan", plan.Display(logical)))

	optimized, err := self.Optimize(logical)
	if err != nil {
		return nil, err
	}
	if self.optimize {
		log.Debug("optimized plan", zap.String("plan", plan.Display(optimized)))
	}

	p, err := self.CreatePhysicalPlan(optimized)
	if err != nil {
		return nil, err
	}
	log.Debug("physical plan", zap.String("plan", exec.Display(p)))
	return p, nil
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

func (self *Engine) fail(log *zap.Logger, start time.Time, err error) {
	elapsed := time.Since(start)
	self.metrics.finish(status(err), elapsed.Seconds())
	log.Info("query failed", zap.Error(err), zap.Duration("duration", elapsed))
}

// Next returns the next batch, io.EOF at the end.
func (self *Result) Next() (*data.RecordBatch, error) {
	if self.done {
		return nil, io.EOF
	}
	b, err := self.stream.Next()
	if err == io.EOF {
		self.finish(nil)
		return nil, io.EOF
	}
	if err != nil {
		self.finish(err)
		return nil, err
	}
	self.rows += b.RowCount()
	self.batches++
	return b, nil
}

// Collect drains the result.
func (self *Result) Collect() ([]*data.RecordBatch, error) {
	out := []*data.RecordBatch{}
	for {
		b, err := self.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// Close stops the query early, it is safe to call after the end.
func (self *Result) Close() error {
	if !self.done {
		self.finish(nil)
	}
	return nil
}

// Rows is the number of rows returned so far.
func (self *Result) Rows() int { return self.rows }

func (self *Result) finish(err error) {
	self.done = true
	closeErr := self.stream.Close()
	if err == nil && closeErr != nil {
		self.log.Warn("closing query", zap.Error(closeErr))
	}

	elapsed := time.Since(self.start)
	self.engine.metrics.finish(status(err), elapsed.Seconds())
	fields := []zap.Field{
		zap.Int("rows", self.rows),
		zap.Int("batches", self.batches),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		self.log.Info("query failed", append(fields, zap.Error(err))...)
		return
	}
	self.log.Info("query done", fields...)
}
