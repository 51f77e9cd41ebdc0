package engine

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/plan"
)

// Explanation holds the renderings of every planning stage. Optimized is
// empty when the optimizer is turned off.
type Explanation struct {
	SQL       string `yaml:"sql"`
	Logical   string `yaml:"logical"`
	Optimized string `yaml:"optimized,omitempty"`
	Physical  string `yaml:"physical"`
}

// Explain plans query without running it.
func (self *Engine) Explain(query string) (*Explanation, error) {
	logical, err := self.CreateLogicalPlan(query)
	if err != nil {
		return nil, err
	}
	out := &Explanation{SQL: query, Logical: plan.Display(logical)}

	optimized, err := self.Optimize(logical)
	if err != nil {
		return nil, err
	}
	if self.optimize {
		out.Optimized = plan.Display(optimized)
	}

	p, err := self.CreatePhysicalPlan(optimized)
	if err != nil {
		return nil, err
	}
	out.Physical = exec.Display(p)
	return out, nil
}

func (self *Explanation) YAML() ([]byte, error) {
	out, err := yaml.Marshal(self)
	if err != nil {
		return nil, errors.Wrap(err, "explain: yaml")
	}
	return out, nil
}

func (self *Explanation) String() string {
	s := "logical:\n" + self.Logical
	if self.Optimized != "" {
		s += "optimized:\n" + self.Optimized
	}
	return s + "physical:\n" + self.Physical
}
