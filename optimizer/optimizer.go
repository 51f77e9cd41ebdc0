package optimizer

import (
	"github.com/dianpeng/colsql/plan"
	"go.uber.org/zap"
)

type ApplyOrder int

const (
	// TopDown tries the rule on a node before its inputs.
	TopDown ApplyOrder = iota

	// BottomUp tries the rule on a node after its inputs were rewritten.
	BottomUp
)

// Rule rewrites a single plan node.
type Rule interface {
	Name() string
	ApplyOrder() ApplyOrder

	// TryOptimize returns nil, not an error, when the rule does not apply.
	TryOptimize(p plan.LogicalPlan) (plan.LogicalPlan, error)
}

// Optimizer runs a fixed list of rules, each exactly once over the whole
// tree, in order.
type Optimizer struct {
	rules []Rule
	log   *zap.Logger
}

// DefaultRules is the rule list New uses.
func DefaultRules() []Rule {
	return []Rule{
		&ReplaceDistinctWithAggregate{},
		&PushDownProjection{},
		&EliminateProjection{},
	}
}

func New(log *zap.Logger) *Optimizer {
	return NewWithRules(log, DefaultRules()...)
}

func NewWithRules(log *zap.Logger, rules ...Rule) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{rules: rules, log: log}
}

func (self *Optimizer) Rules() []Rule {
	return self.rules
}

func (self *Optimizer) Optimize(p plan.LogicalPlan) (plan.LogicalPlan, error) {
	for _, r := range self.rules {
		np, err := Apply(r, p)
		if err != nil {
			self.log.Debug("optimizer rule failed", zap.String("rule", r.Name()), zap.Error(err))
			return nil, err
		}
		if np != p {
			self.log.Debug(
				"optimizer rule applied",
				zap.String("rule", r.Name()),
				zap.String("plan", plan.Display(np)),
			)
		}
		p = np
	}
	return p, nil
}

// Apply runs rule over the whole tree in the rule's declared order. The
// result is p itself when nothing changed.
func Apply(rule Rule, p plan.LogicalPlan) (plan.LogicalPlan, error) {
	switch rule.ApplyOrder() {
	case TopDown:
		np, err := rule.TryOptimize(p)
		if err != nil {
			return nil, err
		}
		if np == nil {
			np = p
		}
		return applyInputs(rule, np)

	default:
		np, err := applyInputs(rule, p)
		if err != nil {
			return nil, err
		}
		r, err := rule.TryOptimize(np)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return np, nil
		}
		return r, nil
	}
}

func applyInputs(rule Rule, p plan.LogicalPlan) (plan.LogicalPlan, error) {
	inputs := p.Inputs()
	if len(inputs) == 0 {
		return p, nil
	}
	changed := false
	out := make([]plan.LogicalPlan, 0, len(inputs))
	for _, in := range inputs {
		x, err := Apply(rule, in)
		if err != nil {
			return nil, err
		}
		changed = changed || x != in
		out = append(out, x)
	}
	if !changed {
		return p, nil
	}
	return plan.WithNewInputs(p, out)
}
