package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/exec"
	"github.com/dianpeng/colsql/schema"
)

// SQLSource reads one table of a database/sql database. Column types come
// from the declared column types, columns without one are inferred from a
// sample of their values.
type SQLSource struct {
	DB         *sql.DB
	Table      string
	MicroBatch int
	schema     *schema.Schema
}

// OpenSQLite opens table of the SQLite database at path.
func OpenSQLite(ctx context.Context, path, table string) (*SQLSource, error) {
	return open(ctx, "sqlite", path, table)
}

// OpenPostgres opens table through the pgx driver.
func OpenPostgres(ctx context.Context, dsn, table string) (*SQLSource, error) {
	return open(ctx, "pgx", dsn, table)
}

func open(ctx context.Context, driver, dsn, table string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "source(sql): open %s", driver)
	}
	src, err := NewSQLSource(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return src, nil
}

// NewSQLSource reads the schema of table from db.
func NewSQLSource(ctx context.Context, db *sql.DB, table string) (*SQLSource, error) {
	self := &SQLSource{DB: db, Table: table, MicroBatch: DefaultMicroBatch}
	s, err := self.describe(ctx)
	if err != nil {
		return nil, err
	}
	self.schema = s
	return self, nil
}

func (self *SQLSource) Close() error { return self.DB.Close() }

func (self *SQLSource) Schema() *schema.Schema { return self.schema }

func (self *SQLSource) Scan(projection []int) (exec.ExecutionPlan, error) {
	return exec.NewScanExec(self.String(), self, self.schema, projection)
}

func (self *SQLSource) String() string {
	return fmt.Sprintf("sql(%s)", self.Table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// declaredType maps a declared column type, false when there is none or it
// is not understood.
func declaredType(name string) (schema.DataType, bool) {
	n := strings.ToUpper(name)
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = n[:i]
	}
	n = strings.TrimSpace(n)
	switch {
	case n == "":
		return schema.TypeNull, false
	case n == "BOOL" || n == "BOOLEAN":
		return schema.TypeBoolean, true
	case strings.Contains(n, "INT"):
		return schema.TypeInteger, true
	case n == "REAL" || n == "FLOAT" || n == "FLOAT4" || n == "FLOAT8" || strings.HasPrefix(n, "DOUBLE"):
		return schema.TypeDouble, true
	case n == "NUMERIC" || n == "DECIMAL":
		return schema.TypeDecimal, true
	case n == "DATE":
		return schema.TypeDate, true
	case strings.HasPrefix(n, "TIMESTAMP") || n == "DATETIME":
		return schema.TypeTimestampMicrosecond, true
	case strings.Contains(n, "CHAR") || strings.Contains(n, "TEXT") || n == "CLOB" || n == "UUID":
		return schema.TypeUtf8, true
	default:
		return schema.TypeNull, false
	}
}

func (self *SQLSource) describe(ctx context.Context) (*schema.Schema, error) {
	rows, err := self.DB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(self.Table), DefaultInferMaxRows))
	if err != nil {
		return nil, errs.Unresolved("source", "table %s: %v", self.Table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "source(sql): column types")
	}
	samples := make([][]string, len(types))
	for rows.Next() {
		values, err := scanRow(rows, len(types))
		if err != nil {
			return nil, err
		}
		for idx, v := range values {
			if v != nil {
				samples[idx] = append(samples[idx], sqlString(v))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "source(sql): sample rows")
	}

	fields := make([]schema.Field, 0, len(types))
	for idx, t := range types {
		ty, ok := declaredType(t.DatabaseTypeName())
		if !ok {
			ty = InferType(samples[idx])
		}
		fields = append(fields, schema.NewField(t.Name(), ty))
	}
	return schema.NewSchema(fields...), nil
}

func scanRow(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	ptrs := make([]any, width)
	for idx := range values {
		ptrs[idx] = &values[idx]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, "source(sql): scan row")
	}
	return values, nil
}

// sqlString renders a driver value for the scan.
func sqlString(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999999")
	default:
		return fmt.Sprintf("%v", x)
	}
}

func (self *SQLSource) OpenRows(ctx context.Context, projection []int) (exec.RowReader, error) {
	cols, err := projectionColumns(self.schema, projection)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		// count only, no column to select
		return self.query(ctx, "SELECT 1 FROM "+quoteIdent(self.Table), 0)
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, quoteIdent(self.schema.Field(c).Name))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), quoteIdent(self.Table))
	return self.query(ctx, q, len(cols))
}

func (self *SQLSource) query(ctx context.Context, q string, width int) (exec.RowReader, error) {
	rows, err := self.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "source(sql): %s", q)
	}
	return &sqlReader{rows: rows, width: width, size: microBatch(self.MicroBatch)}, nil
}

type sqlReader struct {
	rows  *sql.Rows
	width int
	size  int
	done  bool
}

func (self *sqlReader) Read(ctx context.Context) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if self.done {
		return nil, io.EOF
	}
	out := make([][]any, 0, self.size)
	for len(out) < self.size {
		if !self.rows.Next() {
			self.done = true
			if err := self.rows.Err(); err != nil {
				return nil, errors.Wrap(err, "source(sql): read rows")
			}
			break
		}
		row := make([]any, self.width)
		if self.width == 0 {
			var one any
			if err := self.rows.Scan(&one); err != nil {
				return nil, errors.Wrap(err, "source(sql): scan row")
			}
		} else {
			values, err := scanRow(self.rows, self.width)
			if err != nil {
				return nil, err
			}
			for idx, v := range values {
				if v != nil {
					row[idx] = sqlString(v)
				}
			}
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (self *sqlReader) Close() error { return self.rows.Close() }
