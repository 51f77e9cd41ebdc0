package exec

import (
	"fmt"
	"strings"
)

// Describe renders the single operator p.
func Describe(p ExecutionPlan) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}

// Display renders the operator tree, one line per operator, children
// indented by two spaces.
func Display(p ExecutionPlan) string {
	b := &strings.Builder{}
	display(b, p, 0)
	return b.String()
}

func display(b *strings.Builder, p ExecutionPlan, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(Describe(p))
	b.WriteString("\n")
	for _, c := range p.Children() {
		display(b, c, depth+1)
	}
}
