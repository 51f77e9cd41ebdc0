package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/dianpeng/colsql/data"
	"github.com/dianpeng/colsql/schema"
)

// Style is how one kind of cell is printed.
type Style struct {
	Color     color.Attribute
	Bold      bool
	Underline bool
	Italic    bool
}

func (self Style) sprint(enabled bool, s string) string {
	if !enabled {
		return s
	}
	c := color.New(self.Color)
	if self.Bold {
		c.Add(color.Bold)
	}
	if self.Underline {
		c.Add(color.Underline)
	}
	if self.Italic {
		c.Add(color.Italic)
	}
	c.EnableColor()
	return c.Sprint(s)
}

// Format styles a rendered table: the title row, numeric cells, text cells
// and NULL.
type Format struct {
	Title  Style
	Number Style
	String Style
	Null   Style
	Border string
	Color  bool

	// MaxRows stops rendering after that many rows, 0 means no limit.
	MaxRows int
}

func DefaultFormat() Format {
	return Format{
		Title:  Style{Color: color.FgCyan, Bold: true},
		Number: Style{Color: color.FgYellow},
		String: Style{Color: color.Reset},
		Null:   Style{Color: color.FgMagenta, Italic: true},
		Border: "|",
		Color:  true,
	}
}

// Table accumulates batches and renders them aligned.
type Table struct {
	format    Format
	schema    *schema.Schema
	cells     [][]string
	nulls     [][]bool
	truncated bool
}

func NewTable(s *schema.Schema, f Format) *Table {
	return &Table{format: f, schema: s}
}

func (self *Table) Add(b *data.RecordBatch) {
	for idx := 0; idx < b.RowCount(); idx++ {
		if self.format.MaxRows > 0 && len(self.cells) >= self.format.MaxRows {
			self.truncated = true
			return
		}
		row := make([]string, self.schema.Len())
		nulls := make([]bool, self.schema.Len())
		for col := range row {
			v := b.Column(col).Get(idx)
			row[col] = data.FormatValue(self.schema.Field(col).Type, v)
			nulls[col] = v == nil
		}
		self.cells = append(self.cells, row)
		self.nulls = append(self.nulls, nulls)
	}
}

func (self *Table) widths() []int {
	out := make([]int, self.schema.Len())
	for idx, f := range self.schema.Fields() {
		out[idx] = utf8.RuneCountInString(f.Name)
	}
	for _, row := range self.cells {
		for idx, c := range row {
			out[idx] = max(out[idx], utf8.RuneCountInString(c))
		}
	}
	return out
}

func pad(s string, width int, right bool) string {
	n := width - utf8.RuneCountInString(s)
	if n <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}

// Render writes the title bar, the rows and a footer with the row count.
func (self *Table) Render(w io.Writer) error {
	f := self.format
	widths := self.widths()
	sep := f.Border

	line := func(cells []string) string {
		b := &strings.Builder{}
		for _, c := range cells {
			b.WriteString(sep)
			b.WriteString(" ")
			b.WriteString(c)
			b.WriteString(" ")
		}
		b.WriteString(sep)
		return b.String()
	}

	titles := make([]string, 0, len(widths))
	plain := make([]string, 0, len(widths))
	for idx, fld := range self.schema.Fields() {
		t := pad(fld.Name, widths[idx], false)
		plain = append(plain, t)
		titles = append(titles, f.Title.sprint(f.Color, t))
	}
	del := strings.Repeat("-", utf8.RuneCountInString(line(plain)))

	out := &strings.Builder{}
	fmt.Fprintln(out, del)
	fmt.Fprintln(out, line(titles))
	fmt.Fprintln(out, del)
	for r, row := range self.cells {
		cells := make([]string, 0, len(row))
		for idx, c := range row {
			ty := self.schema.Field(idx).Type
			switch {
			case self.nulls[r][idx]:
				cells = append(cells, f.Null.sprint(f.Color, pad(c, widths[idx], false)))
			case ty.IsNumeric():
				cells = append(cells, f.Number.sprint(f.Color, pad(c, widths[idx], true)))
			default:
				cells = append(cells, f.String.sprint(f.Color, pad(c, widths[idx], false)))
			}
		}
		fmt.Fprintln(out, line(cells))
	}
	fmt.Fprintln(out, del)

	n := len(self.cells)
	switch {
	case self.truncated:
		fmt.Fprintf(out, "(first %d rows)\n", n)
	case n == 1:
		fmt.Fprintln(out, "(1 row)")
	default:
		fmt.Fprintf(out, "(%d rows)\n", n)
	}
	_, err := io.WriteString(w, out.String())
	return err
}

// RenderArrow exports every batch as an Arrow record and prints the schema
// followed by the columns of each record.
func RenderArrow(w io.Writer, s *schema.Schema, batches []*data.RecordBatch) error {
	b := &strings.Builder{}
	for _, fld := range data.ArrowSchema(s).Fields() {
		fmt.Fprintf(b, "%s: %s\n", fld.Name, fld.Type)
	}
	for idx, batch := range batches {
		rec := batch.ToArrow(nil)
		fmt.Fprintf(b, "record %d: %d rows\n", idx, rec.NumRows())
		for col, arr := range rec.Columns() {
			fmt.Fprintf(b, "  %s: %s\n", rec.ColumnName(col), arr)
		}
		rec.Release()
	}
	_, err := io.WriteString(w, b.String())
	return err
}
