// Package config loads the engine and command line settings. Settings come
// from defaults, an optional YAML file and COLSQL_* environment variables,
// in increasing priority.
package config

import (
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Source SourceConfig `mapstructure:"source"`
	Log    LogConfig    `mapstructure:"log"`
	Render RenderConfig `mapstructure:"render"`
}

type EngineConfig struct {
	BatchSize int  `mapstructure:"batch_size"`
	Optimize  bool `mapstructure:"optimize"`
}

type SourceConfig struct {
	CSV CSVConfig `mapstructure:"csv"`
}

type CSVConfig struct {
	MicroBatch   int    `mapstructure:"micro_batch"`
	InferMaxRows int    `mapstructure:"infer_max_rows"`
	Separator    string `mapstructure:"separator"`
	Header       bool   `mapstructure:"header"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RenderConfig struct {
	Color   bool `mapstructure:"color"`
	MaxRows int  `mapstructure:"max_rows"`
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BatchSize: 1024,
			Optimize:  true,
		},
		Source: SourceConfig{
			CSV: CSVConfig{
				MicroBatch:   10,
				InferMaxRows: 100,
				Separator:    ",",
				Header:       true,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Render: RenderConfig{
			Color:   true,
			MaxRows: 1000,
		},
	}
}

// Load reads the configuration. An empty path looks for colsql.yaml in the
// working directory and in $HOME/.colsql, a missing file there is fine.
func Load(path string) (*Config, error) {
	v := viper.New()

	cfg := Default()
	v.SetDefault("engine.batch_size", cfg.Engine.BatchSize)
	v.SetDefault("engine.optimize", cfg.Engine.Optimize)
	v.SetDefault("source.csv.micro_batch", cfg.Source.CSV.MicroBatch)
	v.SetDefault("source.csv.infer_max_rows", cfg.Source.CSV.InferMaxRows)
	v.SetDefault("source.csv.separator", cfg.Source.CSV.Separator)
	v.SetDefault("source.csv.header", cfg.Source.CSV.Header)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("render.color", cfg.Render.Color)
	v.SetDefault("render.max_rows", cfg.Render.MaxRows)

	v.SetEnvPrefix("COLSQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	} else {
		v.SetConfigName("colsql")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.colsql")
		_ = v.ReadInConfig()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (self *Config) Validate() error {
	if self.Engine.BatchSize <= 0 {
		return errors.Newf("config: engine.batch_size must be positive, got %d", self.Engine.BatchSize)
	}
	if self.Source.CSV.MicroBatch <= 0 {
		return errors.Newf("config: source.csv.micro_batch must be positive, got %d", self.Source.CSV.MicroBatch)
	}
	if self.Source.CSV.InferMaxRows <= 0 {
		return errors.Newf("config: source.csv.infer_max_rows must be positive, got %d", self.Source.CSV.InferMaxRows)
	}
	if utf8.RuneCountInString(self.Source.CSV.Separator) != 1 {
		return errors.Newf("config: source.csv.separator must be one character, got %q", self.Source.CSV.Separator)
	}
	switch strings.ToLower(self.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Newf("config: invalid log level %q", self.Log.Level)
	}
	switch strings.ToLower(self.Log.Format) {
	case "text", "json":
	default:
		return errors.Newf("config: invalid log format %q", self.Log.Format)
	}
	return nil
}

// SeparatorRune is the CSV separator as a rune.
func (self CSVConfig) SeparatorRune() rune {
	r, _ := utf8.DecodeRuneInString(self.Separator)
	return r
}
