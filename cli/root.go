// Package cli is the colsql command line: one shot queries, plan explain and
// an interactive shell over tables registered from CSV files and SQL
// databases.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	BuildDate = "dev"
)

type rootOptions struct {
	configFile string
	logLevel   string
	noColor    bool
	metrics    bool
	tables     tableFlags
}

// NewRootCommand builds the colsql command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "colsql",
		Short: "colsql - run SQL over CSV files and database tables",
		Long: `colsql runs SELECT queries over tables registered from CSV files,
SQLite databases and Postgres, with a columnar pull based engine.

Run one query:
  colsql query -t emp=emp.csv "select dept, count(*) from emp group by dept"

Start the interactive shell:
  colsql shell -t emp=emp.csv`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&opts.metrics, "metrics", false, "report to the default Prometheus registry")
	pf.StringArrayVarP(&opts.tables.csv, "table", "t", nil, "register a CSV file, name=path")
	pf.StringArrayVar(&opts.tables.sqlite, "sqlite", nil, "register a SQLite table, name=file:table")
	pf.StringArrayVar(&opts.tables.postgres, "postgres", nil, "register a Postgres table, name=dsn:table")

	root.AddCommand(
		newQueryCommand(opts),
		newExplainCommand(opts),
		newShellCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "colsql %s (built %s)\n", Version, BuildDate)
			},
		},
	)
	return root
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	arrow := false
	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run a query and print the result, reads stdin without argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			s, err := newSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.run(cmd.Context(), cmd.OutOrStdout(), query, arrow)
		},
	}
	cmd.Flags().BoolVar(&arrow, "arrow", false, "print the result as Arrow records")
	return cmd
}

func newExplainCommand(opts *rootOptions) *cobra.Command {
	asYAML := false
	cmd := &cobra.Command{
		Use:   "explain [sql]",
		Short: "Print the logical, optimized and physical plans of a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			s, err := newSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.explain(cmd.OutOrStdout(), query, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the plans as YAML")
	return cmd
}

func queryText(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (self *session) format() Format {
	f := DefaultFormat()
	f.Color = self.cfg.Render.Color
	f.MaxRows = self.cfg.Render.MaxRows
	return f
}

func (self *session) run(ctx context.Context, w io.Writer, query string, arrow bool) error {
	r, err := self.engine.Query(ctx, query)
	if err != nil {
		return err
	}
	defer r.Close()
	batches, err := r.Collect()
	if err != nil {
		return err
	}
	if arrow {
		return RenderArrow(w, r.Schema, batches)
	}
	t := NewTable(r.Schema, self.format())
	for _, b := range batches {
		t.Add(b)
	}
	return t.Render(w)
}

func (self *session) explain(w io.Writer, query string, asYAML bool) error {
	x, err := self.engine.Explain(query)
	if err != nil {
		return err
	}
	if asYAML {
		out, err := x.YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	_, err = io.WriteString(w, x.String())
	return err
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
