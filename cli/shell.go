package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shellPrompt = "colsql> "
	morePrompt  = "     -> "
)

func newShellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return newShell(s, cmd.OutOrStdout()).Run(cmd.Context())
		},
	}
}

type shellResult int

const (
	shellOK shellResult = iota
	shellExit
	shellMore
)

// shell reads statements terminated by ';'. Lines starting with a backslash
// are commands and need no terminator.
type shell struct {
	session *session
	out     io.Writer
	buf     strings.Builder
}

func newShell(s *session, out io.Writer) *shell {
	return &shell{session: s, out: out}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".colsql_history")
}

var keywords = []string{
	"SELECT", "DISTINCT", "FROM", "WHERE", "GROUP BY", "HAVING", "ORDER BY",
	"LIMIT", "OFFSET", "JOIN", "LEFT JOIN", "RIGHT JOIN", "FULL JOIN", "ON",
	"AND", "OR", "NOT", "LIKE", "IN", "BETWEEN", "AS", "ASC", "DESC",
	"EXPLAIN",
}

func (self *shell) complete(line string) []string {
	i := strings.LastIndexAny(line, " \t,(")
	prefix, word := line[:i+1], line[i+1:]
	if word == "" {
		return nil
	}
	cands := append([]string{}, keywords...)
	cands = append(cands, self.session.engine.Tables()...)
	out := []string{}
	for _, c := range cands {
		if strings.HasPrefix(strings.ToUpper(c), strings.ToUpper(word)) {
			out = append(out, prefix+c)
		}
	}
	sort.Strings(out)
	return out
}

// Run drives the line editor until \q or end of input.
func (self *shell) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(self.complete)

	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if hist == "" {
			return
		}
		if f, err := os.Create(hist); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintf(self.out, "colsql %s, \\? for help\n", Version)
	prompt := shellPrompt
	for {
		text, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			self.buf.Reset()
			prompt = shellPrompt
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(self.out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			line.AppendHistory(text)
		}

		switch self.Feed(ctx, text) {
		case shellExit:
			return nil
		case shellMore:
			prompt = morePrompt
		default:
			prompt = shellPrompt
		}
	}
}

// Feed consumes one input line.
func (self *shell) Feed(ctx context.Context, text string) shellResult {
	text = strings.TrimSpace(text)
	if text == "" {
		if self.buf.Len() > 0 {
			return shellMore
		}
		return shellOK
	}
	if self.buf.Len() == 0 && strings.HasPrefix(text, "\\") {
		return self.command(text)
	}

	if self.buf.Len() > 0 {
		self.buf.WriteString(" ")
	}
	self.buf.WriteString(text)
	if !strings.HasSuffix(text, ";") {
		return shellMore
	}

	stmt := strings.TrimSpace(strings.TrimSuffix(self.buf.String(), ";"))
	self.buf.Reset()
	self.statement(ctx, stmt)
	return shellOK
}

func (self *shell) statement(ctx context.Context, stmt string) {
	var err error
	if rest, ok := cutPrefixFold(stmt, "explain "); ok {
		err = self.session.explain(self.out, rest, false)
	} else {
		err = self.session.run(ctx, self.out, stmt, false)
	}
	if err != nil {
		self.session.log.Debug("shell statement failed", zap.Error(err))
		fmt.Fprintf(self.out, "ERROR %s\n", err)
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func (self *shell) command(text string) shellResult {
	fields := strings.Fields(text)
	switch fields[0] {
	case "\\q", "\\quit":
		return shellExit

	case "\\?", "\\h", "\\help":
		fmt.Fprint(self.out, `Statements end with ';'.
  SELECT ...;           run a query
  EXPLAIN SELECT ...;   show the plans of a query
  \d                    list tables
  \d NAME               describe a table
  \q                    quit
`)

	case "\\d":
		if len(fields) == 1 {
			for _, n := range self.session.engine.Tables() {
				fmt.Fprintln(self.out, n)
			}
			break
		}
		t, ok := self.session.engine.Table(fields[1])
		if !ok {
			fmt.Fprintf(self.out, "ERROR no table %s\n", fields[1])
			break
		}
		for _, f := range t.Schema().Fields() {
			fmt.Fprintf(self.out, "%s\t%s\n", f.Name, f.Type)
		}

	default:
		fmt.Fprintf(self.out, "ERROR unknown command %s, \\? for help\n", fields[0])
	}
	return shellOK
}
