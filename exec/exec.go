package exec

import (
	"context"
	"io"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

const (
	PlanScan = iota
	PlanEmpty
	PlanFilter
	PlanProjection
	PlanSort
	PlanLimit
	PlanAggregate
	PlanHashJoin
	PlanNestedLoopJoin
)

const DefaultBatchSize = 1024

// Options are handed down the whole tree by Execute.
type Options struct {
	// BatchSize bounds batches an operator builds itself, sources keep their
	// own micro batch size.
	BatchSize int

	// Observe, when set, is told about every batch an operator emits.
	Observe func(node string, rows int)
}

func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize}
}

func (self Options) batchSize() int {
	if self.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return self.BatchSize
}

// ExecutionPlan is one physical operator. Execute starts a fresh pass over
// the whole subtree every time it is called.
type ExecutionPlan interface {
	Type() int
	Schema() *schema.Schema
	Children() []ExecutionPlan
	Execute(ctx context.Context, opts Options) (RecordBatchStream, error)
}

// RecordBatchStream is a finite, pull driven sequence of batches. Next
// returns io.EOF once exhausted. A batch returned by Next is owned by the
// caller.
type RecordBatchStream interface {
	Schema() *schema.Schema
	Next() (*data.RecordBatch, error)
	Close() error
}

// DataSource is a table that can be scanned.
type DataSource interface {
	Schema() *schema.Schema

	// Scan reads only the source columns at projection, nil reads all.
	Scan(projection []int) (ExecutionPlan, error)
}

// stream adapts a next function into a RecordBatchStream. It checks the
// context before every pull and closes its inputs once.
type stream struct {
	ctx    context.Context
	opts   Options
	node   string
	schema *schema.Schema
	next   func() (*data.RecordBatch, error)
	inputs []RecordBatchStream
	onDone func() error
	done   bool
	closed bool
}

func newStream(
	ctx context.Context,
	opts Options,
	node string,
	s *schema.Schema,
	next func() (*data.RecordBatch, error),
	inputs ...RecordBatchStream,
) *stream {
	return &stream{
		ctx:    ctx,
		opts:   opts,
		node:   node,
		schema: s,
		next:   next,
		inputs: inputs,
	}
}

func (self *stream) Schema() *schema.Schema {
	return self.schema
}

func (self *stream) Next() (*data.RecordBatch, error) {
	if self.done {
		return nil, io.EOF
	}
	if err := self.ctx.Err(); err != nil {
		self.done = true
		return nil, errs.Cancelled(self.node, err)
	}
	b, err := self.next()
	if err != nil {
		self.done = true
		return nil, err
	}
	if self.opts.Observe != nil {
		self.opts.Observe(self.node, b.RowCount())
	}
	return b, nil
}

func (self *stream) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true
	var first error
	if self.onDone != nil {
		first = self.onDone()
	}
	for _, in := range self.inputs {
		if err := in.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Collect runs p to completion and returns every batch.
func Collect(ctx context.Context, p ExecutionPlan, opts Options) ([]*data.RecordBatch, error) {
	s, err := p.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return Drain(s)
}

// Drain pulls s until the end.
func Drain(s RecordBatchStream) ([]*data.RecordBatch, error) {
	out := []*data.RecordBatch{}
	for {
		b, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// collectBatch concatenates every batch of s into one batch of schema sc.
func collectBatch(s RecordBatchStream, sc *schema.Schema) (*data.RecordBatch, error) {
	all := data.NewRecordBatch(sc)
	for {
		b, err := s.Next()
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		if err := all.Concat(b); err != nil {
			return nil, err
		}
	}
}
