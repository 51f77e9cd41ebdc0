package cli

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dianpeng/colsql/config"
	"github.com/dianpeng/colsql/engine"
	"github.com/dianpeng/colsql/logger"
	"github.com/dianpeng/colsql/source"
)

// tableFlags are the table registrations given on the command line.
type tableFlags struct {
	csv      []string
	sqlite   []string
	postgres []string
}

// tableSpec is one name=location registration.
type tableSpec struct {
	name     string
	location string
	table    string
}

// parseTableSpec splits name=location, and name=location:table when
// withTable is set. The table is taken after the last colon so a location
// may contain colons itself.
func parseTableSpec(spec string, withTable bool) (tableSpec, error) {
	name, loc, ok := strings.Cut(spec, "=")
	if !ok || name == "" || loc == "" {
		return tableSpec{}, errors.Newf("invalid table %q, expect name=location", spec)
	}
	out := tableSpec{name: name, location: loc}
	if withTable {
		i := strings.LastIndexByte(loc, ':')
		if i <= 0 || i == len(loc)-1 {
			return tableSpec{}, errors.Newf("invalid table %q, expect name=location:table", spec)
		}
		out.location, out.table = loc[:i], loc[i+1:]
	}
	return out, nil
}

// session is the engine plus what was used to build it.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	engine  *engine.Engine
	closers []func() error
}

func (self *session) Close() {
	for _, c := range self.closers {
		_ = c()
	}
	_ = self.log.Sync()
}

func newSession(ctx context.Context, opts *rootOptions) (*session, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.noColor {
		cfg.Render.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithBatchSize(cfg.Engine.BatchSize),
		engine.WithOptimize(cfg.Engine.Optimize),
	}
	if opts.metrics {
		engineOpts = append(engineOpts, engine.WithMetrics(engine.DefaultMetrics()))
	}

	s := &session{
		cfg:    cfg,
		log:    log,
		engine: engine.New(engineOpts...),
	}
	if err := s.register(ctx, &opts.tables); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (self *session) csvOptions() source.CSVOptions {
	c := self.cfg.Source.CSV
	return source.CSVOptions{
		Separator:    c.SeparatorRune(),
		Header:       c.Header,
		MicroBatch:   c.MicroBatch,
		InferMaxRows: c.InferMaxRows,
	}
}

func (self *session) register(ctx context.Context, t *tableFlags) error {
	for _, spec := range t.csv {
		ts, err := parseTableSpec(spec, false)
		if err != nil {
			return err
		}
		src, err := source.OpenCSV(ts.location, self.csvOptions())
		if err != nil {
			return err
		}
		if err := self.engine.RegisterTable(ts.name, src); err != nil {
			return err
		}
	}

	open := func(specs []string, fn func(ctx context.Context, loc, table string) (*source.SQLSource, error)) error {
		for _, spec := range specs {
			ts, err := parseTableSpec(spec, true)
			if err != nil {
				return err
			}
			src, err := fn(ctx, ts.location, ts.table)
			if err != nil {
				return err
			}
			self.closers = append(self.closers, src.Close)
			if err := self.engine.RegisterTable(ts.name, src); err != nil {
				return err
			}
		}
		return nil
	}
	if err := open(t.sqlite, source.OpenSQLite); err != nil {
		return err
	}
	return open(t.postgres, source.OpenPostgres)
}
