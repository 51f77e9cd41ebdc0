package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gawki "github.com/benhoyt/goawk/interp"
	gawkp "github.com/benhoyt/goawk/parser"
	"github.com/cockroachdb/errors"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/schema"
)

// CSVOptions controls how a CSV file is read.
type CSVOptions struct {
	Separator    rune
	Header       bool
	MicroBatch   int
	InferMaxRows int
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Separator:    ',',
		Header:       true,
		MicroBatch:   DefaultMicroBatch,
		InferMaxRows: DefaultInferMaxRows,
	}
}

// CSVSource reads a CSV file through goawk's CSV input mode. The schema is
// inferred once when the source is opened. Without a header row columns are
// named c1, c2 and so on.
type CSVSource struct {
	Path    string
	Options CSVOptions
	schema  *schema.Schema
}

// OpenCSV samples the file and infers its schema.
func OpenCSV(path string, opts CSVOptions) (*CSVSource, error) {
	if opts.Separator == 0 {
		opts.Separator = ','
	}
	names, rows, err := sampleCSV(path, opts)
	if err != nil {
		return nil, err
	}
	return &CSVSource{
		Path:    path,
		Options: opts,
		schema:  InferSchema(names, rows, opts.InferMaxRows),
	}, nil
}

func (self *CSVSource) Schema() *schema.Schema { return self.schema }

func (self *CSVSource) Scan(projection []int) (exec.ExecutionPlan, error) {
	return exec.NewScanExec(self.String(), self, self.schema, projection)
}

func (self *CSVSource) String() string {
	return fmt.Sprintf("csv(%s)", self.Path)
}

// ----------------------------------------------------------------------------
// AWK programs
//
// Each record is handed to Go through native functions: field(i, v) stores
// one value of the current row and row() finishes it. The scan program only
// touches the projected fields, field i of the output reads $(col+1).
// ----------------------------------------------------------------------------

const sampleProgram = `
NR == 1 && header { for (i = 1; i <= NF; i++) head(i, $i); next }
NR > max + header { exit }
{ for (i = 1; i <= NF; i++) field(i, $i); row() }
`

func scanProgram(cols []int) string {
	b := &strings.Builder{}
	b.WriteString("NR == 1 && header { next }\n{\n")
	for idx, c := range cols {
		fmt.Fprintf(b, "  field(%d, $%d)\n", idx+1, c+1)
	}
	b.WriteString("  row()\n}\n")
	return b.String()
}

type awkRun struct {
	program string
	funcs   map[string]any
	vars    []string
}

func (self *awkRun) execute(ctx context.Context, path string, opts CSVOptions) error {
	prog, err := gawkp.ParseProgram([]byte(self.program), &gawkp.ParserConfig{
		Funcs: self.funcs,
	})
	if err != nil {
		return errors.AssertionFailedf("source(csv): bad program: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return errs.SchemaShape("source", "cannot open csv %s: %v", path, err)
	}
	defer f.Close()

	header := "0"
	if opts.Header {
		header = "1"
	}

	interp, err := gawki.New(prog)
	if err != nil {
		return errors.AssertionFailedf("source(csv): %v", err)
	}
	config := &gawki.Config{
		Stdin:     f,
		Output:    io.Discard,
		Error:     io.Discard,
		Environ:   []string{},
		NoArgVars: true,
		NoExec:    true,
		Funcs:     self.funcs,
		Vars:      append([]string{"header", header}, self.vars...),
		InputMode: gawki.CSVMode,
		CSVInput:  gawki.CSVInputConfig{Separator: opts.Separator},
	}
	if _, err = interp.ExecuteContext(ctx, config); err != nil {
		return errs.SchemaShape("source", "reading csv %s: %v", path, err)
	}
	return nil
}

// rowBuilder collects the values field() reports until row() is called.
type rowBuilder struct {
	width int
	cur   []any
}

func (self *rowBuilder) field(i int, v string) {
	if self.cur == nil {
		self.cur = make([]any, self.width)
	}
	if i < 1 || i > self.width {
		return
	}
	self.cur[i-1] = nullable(v)
}

func (self *rowBuilder) take() []any {
	out := self.cur
	if out == nil {
		out = make([]any, self.width)
	}
	self.cur = nil
	return out
}

func sampleCSV(path string, opts CSVOptions) ([]string, [][]string, error) {
	maxRows := opts.InferMaxRows
	if maxRows <= 0 {
		maxRows = DefaultInferMaxRows
	}

	names := []string{}
	rows := [][]string{}
	cur := []string{}

	run := &awkRun{
		program: sampleProgram,
		vars:    []string{"max", strconv.Itoa(maxRows)},
		funcs: map[string]any{
			"head": func(i int, v string) {
				names = append(names, strings.TrimSpace(v))
			},
			"field": func(i int, v string) {
				cur = append(cur, v)
			},
			"row": func() {
				rows = append(rows, cur)
				cur = []string{}
			},
		},
	}
	if err := run.execute(context.Background(), path, opts); err != nil {
		return nil, nil, err
	}

	if !opts.Header {
		width := 0
		for _, r := range rows {
			width = max(width, len(r))
		}
		for idx := 0; idx < width; idx++ {
			names = append(names, "c"+strconv.Itoa(idx+1))
		}
	}
	for idx, n := range names {
		if n == "" {
			names[idx] = "c" + strconv.Itoa(idx+1)
		}
	}
	return names, rows, nil
}

func (self *CSVSource) OpenRows(ctx context.Context, projection []int) (exec.RowReader, error) {
	cols, err := projectionColumns(self.schema, projection)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &csvReader{
		chunks: make(chan csvChunk),
		ctx:    rctx,
		cancel: cancel,
	}
	go r.run(rctx, self, cols)
	return r, nil
}

type csvChunk struct {
	rows [][]any
	err  error
}

// csvReader runs the interpreter on its own goroutine. The goroutine blocks
// until the scan pulls the next micro batch, so reading never runs ahead by
// more than one batch.
type csvReader struct {
	chunks chan csvChunk
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func (self *csvReader) run(ctx context.Context, src *CSVSource, cols []int) {
	defer close(self.chunks)

	size := microBatch(src.Options.MicroBatch)
	rb := &rowBuilder{width: len(cols)}
	pending := make([][]any, 0, size)

	send := func(c csvChunk) bool {
		select {
		case self.chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	run := &awkRun{
		program: scanProgram(cols),
		funcs: map[string]any{
			"field": rb.field,
			"row": func() {
				pending = append(pending, rb.take())
				if len(pending) >= size {
					if send(csvChunk{rows: pending}) {
						pending = make([][]any, 0, size)
					}
				}
			},
		},
	}
	err := run.execute(ctx, src.Path, src.Options)
	if ctx.Err() != nil {
		return
	}
	if len(pending) > 0 && !send(csvChunk{rows: pending}) {
		return
	}
	if err != nil {
		send(csvChunk{err: err})
	}
}

func (self *csvReader) Read(ctx context.Context) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("source", err)
	}
	select {
	case c, ok := <-self.chunks:
		if !ok {
			// the interpreter stops early only when its context is done
			if err := self.ctx.Err(); err != nil {
				return nil, errs.Cancelled("source", err)
			}
			return nil, io.EOF
		}
		if c.err != nil {
			return nil, c.err
		}
		return c.rows, nil
	case <-ctx.Done():
		return nil, errs.Cancelled("source", ctx.Err())
	}
}

// Close stops the interpreter and waits for its goroutine to finish.
func (self *csvReader) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true
	self.cancel()
	for range self.chunks {
	}
	return nil
}
