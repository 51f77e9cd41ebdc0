package exec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dianpeng/colsql/accum"
	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

type AggregateMode int

const (
	// AggregatePartial folds input rows into accumulator states.
	AggregatePartial AggregateMode = iota

	// AggregateFinal merges states and emits finished values.
	AggregateFinal
)

func (self AggregateMode) String() string {
	if self == AggregatePartial {
		return "Partial"
	}
	return "Final"
}

// AggregateExpr is one aggregate function call. In the partial stage Args
// are the function arguments; in the final stage they read the state columns
// the partial stage produced. ArgTypes are always the types of the original
// arguments.
type AggregateExpr struct {
	Kind     accum.AggKind
	Distinct bool
	Name     string
	Args     []Expr
	ArgTypes []schema.DataType

	// Filter selects the input rows, partial stage only. May be nil.
	Filter Expr
}

func (self *AggregateExpr) NewAccumulator() (accum.Accumulator, error) {
	return accum.New(self.Kind, self.ArgTypes, self.Distinct)
}

func (self *AggregateExpr) StateFields() ([]schema.Field, error) {
	return accum.StateFields(self.Kind, self.Name, self.ArgTypes, self.Distinct)
}

func (self *AggregateExpr) Field() (schema.Field, error) {
	ty, err := accum.ReturnType(self.Kind, self.ArgTypes)
	if err != nil {
		return schema.Field{}, err
	}
	return schema.NewField(self.Name, ty), nil
}

func (self *AggregateExpr) String() string {
	args := []string{}
	for _, a := range self.Args {
		args = append(args, a.String())
	}
	d := ""
	if self.Distinct {
		d = "DISTINCT "
	}
	s := fmt.Sprintf("%s(%s%s)", self.Kind, d, strings.Join(args, ", "))
	if self.Filter != nil {
		s += " FILTER (WHERE " + self.Filter.String() + ")"
	}
	return s
}

// AggregateExec groups its input by GroupExprs and runs AggrExprs per group.
// Without group expressions it always emits exactly one row.
type AggregateExec struct {
	Mode        AggregateMode
	Input       ExecutionPlan
	GroupExprs  []Expr
	GroupFields []schema.Field
	AggrExprs   []*AggregateExpr
	schema      *schema.Schema
}

// NewAggregateExec derives the output schema: the group fields followed by
// the state fields (partial) or result field (final) of every aggregate.
func NewAggregateExec(
	mode AggregateMode,
	input ExecutionPlan,
	groupExprs []Expr,
	groupFields []schema.Field,
	aggrExprs []*AggregateExpr,
) (*AggregateExec, error) {
	if len(groupExprs) != len(groupFields) {
		return nil, errs.InvalidPlan("physical", "aggregate has %d group expressions but %d fields", len(groupExprs), len(groupFields))
	}
	fields := []schema.Field{}
	for idx, f := range groupFields {
		f.Type = groupExprs[idx].DataType()
		fields = append(fields, f)
	}
	for _, a := range aggrExprs {
		if mode == AggregatePartial {
			sf, err := a.StateFields()
			if err != nil {
				return nil, err
			}
			fields = append(fields, sf...)
		} else {
			f, err := a.Field()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	}
	return &AggregateExec{
		Mode:        mode,
		Input:       input,
		GroupExprs:  groupExprs,
		GroupFields: groupFields,
		AggrExprs:   aggrExprs,
		schema:      schema.NewSchema(fields...),
	}, nil
}

func (self *AggregateExec) Type() int                 { return PlanAggregate }
func (self *AggregateExec) Schema() *schema.Schema    { return self.schema }
func (self *AggregateExec) Children() []ExecutionPlan { return []ExecutionPlan{self.Input} }

func (self *AggregateExec) String() string {
	g := []string{}
	for _, e := range self.GroupExprs {
		g = append(g, e.String())
	}
	a := []string{}
	for _, e := range self.AggrExprs {
		a = append(a, e.String())
	}
	return fmt.Sprintf("AggregateExec: mode=%s, gby=[%s], aggr=[%s]", self.Mode, strings.Join(g, ", "), strings.Join(a, ", "))
}

type aggGroup struct {
	key  []any
	accs []accum.Accumulator
}

func (self *AggregateExec) newAccumulators() ([]accum.Accumulator, error) {
	out := make([]accum.Accumulator, 0, len(self.AggrExprs))
	for _, a := range self.AggrExprs {
		acc, err := a.NewAccumulator()
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// aggInput is one aggregate's evaluated arguments for a batch.
type aggInput struct {
	args []data.ColumnValue
	mask []bool
}

func (self *AggregateExec) evalInputs(b *data.RecordBatch) ([]aggInput, error) {
	out := make([]aggInput, 0, len(self.AggrExprs))
	for _, a := range self.AggrExprs {
		in := aggInput{}
		for _, e := range a.Args {
			v, err := e.Evaluate(b)
			if err != nil {
				return nil, err
			}
			in.args = append(in.args, v)
		}
		if a.Filter != nil && self.Mode == AggregatePartial {
			m, err := Mask(a.Filter, b)
			if err != nil {
				return nil, err
			}
			in.mask = m
		}
		out = append(out, in)
	}
	return out, nil
}

// feed folds row idx into accs.
func (self *AggregateExec) feed(accs []accum.Accumulator, inputs []aggInput, idx int) error {
	for i, acc := range accs {
		in := inputs[i]
		if in.mask != nil && !in.mask[idx] {
			continue
		}
		row := make([]any, len(in.args))
		for j, c := range in.args {
			row[j] = c.Get(idx)
		}
		var err error
		if self.Mode == AggregatePartial {
			err = acc.Accumulate(row...)
		} else {
			err = acc.Merge(row)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// feedBatch folds a whole batch into one accumulator set.
func (self *AggregateExec) feedBatch(accs []accum.Accumulator, inputs []aggInput) error {
	for i, acc := range accs {
		in := inputs[i]
		if in.mask != nil {
			continue
		}
		var err error
		if self.Mode == AggregatePartial {
			err = accum.UpdateBatch(acc, in.args)
		} else {
			err = accum.MergeBatch(acc, in.args)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *AggregateExec) appendGroup(b *data.RecordBatch, g *aggGroup) {
	col := 0
	for _, v := range g.key {
		b.Column(col).Add(v)
		col++
	}
	for _, acc := range g.accs {
		if self.Mode == AggregatePartial {
			for _, s := range acc.State() {
				b.Column(col).Add(s.Value)
				col++
			}
		} else {
			b.Column(col).Add(acc.Evaluate().Value)
			col++
		}
	}
}

// aggregate consumes the whole input and returns the groups in arrival
// order.
func (self *AggregateExec) aggregate(input RecordBatchStream) ([]*aggGroup, error) {
	if len(self.GroupExprs) == 0 {
		accs, err := self.newAccumulators()
		if err != nil {
			return nil, err
		}
		g := &aggGroup{accs: accs}
		for {
			b, err := input.Next()
			if err == io.EOF {
				return []*aggGroup{g}, nil
			}
			if err != nil {
				return nil, err
			}
			inputs, err := self.evalInputs(b)
			if err != nil {
				return nil, err
			}
			if err := self.feedBatch(accs, inputs); err != nil {
				return nil, err
			}
			for i, in := range inputs {
				if in.mask == nil {
					continue
				}
				for idx := 0; idx < b.RowCount(); idx++ {
					if err := self.feed(accs[i:i+1], inputs[i:i+1], idx); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	groups := map[string]*aggGroup{}
	order := []*aggGroup{}
	keyBuf := strings.Builder{}
	for {
		b, err := input.Next()
		if err == io.EOF {
			return order, nil
		}
		if err != nil {
			return nil, err
		}
		keys := make([]data.ColumnValue, 0, len(self.GroupExprs))
		for _, e := range self.GroupExprs {
			v, err := e.Evaluate(b)
			if err != nil {
				return nil, err
			}
			keys = append(keys, v)
		}
		inputs, err := self.evalInputs(b)
		if err != nil {
			return nil, err
		}
		for idx := 0; idx < b.RowCount(); idx++ {
			keyBuf.Reset()
			for _, k := range keys {
				keyBuf.WriteString(data.KeyString(k.Get(idx)))
				keyBuf.WriteByte(0)
			}
			g, ok := groups[keyBuf.String()]
			if !ok {
				accs, err := self.newAccumulators()
				if err != nil {
					return nil, err
				}
				key := make([]any, len(keys))
				for i, k := range keys {
					key[i] = k.Get(idx)
				}
				g = &aggGroup{key: key, accs: accs}
				groups[keyBuf.String()] = g
				order = append(order, g)
			}
			if err := self.feed(g.accs, inputs, idx); err != nil {
				return nil, err
			}
		}
	}
}

func (self *AggregateExec) Execute(ctx context.Context, opts Options) (RecordBatchStream, error) {
	input, err := self.Input.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	node := "AggregateExec(" + self.Mode.String() + ")"

	var groups []*aggGroup
	loaded := false
	pos := 0
	return newStream(ctx, opts, node, self.schema, func() (*data.RecordBatch, error) {
		if !loaded {
			g, err := self.aggregate(input)
			if err != nil {
				return nil, err
			}
			groups = g
			loaded = true
		}
		if pos >= len(groups) {
			return nil, io.EOF
		}
		b := data.NewRecordBatch(self.schema)
		end := min(pos+opts.batchSize(), len(groups))
		for ; pos < end; pos++ {
			self.appendGroup(b, groups[pos])
		}
		return b, nil
	}, input), nil
}
