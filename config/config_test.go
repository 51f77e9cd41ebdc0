package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Nil(cfg)
	assert.Error(err)

	cfg = Default()
	assert.NoError(cfg.Validate())
	assert.Equal(1024, cfg.Engine.BatchSize)
	assert.True(cfg.Engine.Optimize)
	assert.Equal(10, cfg.Source.CSV.MicroBatch)
	assert.Equal(100, cfg.Source.CSV.InferMaxRows)
	assert.Equal(',', cfg.Source.CSV.SeparatorRune())
	assert.Equal("info", cfg.Log.Level)
	assert.Equal(1000, cfg.Render.MaxRows)
}

func TestLoadFile(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "colsql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  batch_size: 64
  optimize: false
source:
  csv:
    separator: ";"
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(64, cfg.Engine.BatchSize)
	assert.False(cfg.Engine.Optimize)
	assert.Equal(';', cfg.Source.CSV.SeparatorRune())
	assert.Equal(10, cfg.Source.CSV.MicroBatch)
	assert.Equal("debug", cfg.Log.Level)
}

func TestLoadEnv(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("COLSQL_ENGINE_BATCH_SIZE", "7")
	path := filepath.Join(t.TempDir(), "colsql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(7, cfg.Engine.BatchSize)
	assert.Equal("json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	for _, fn := range []func(*Config){
		func(c *Config) { c.Engine.BatchSize = 0 },
		func(c *Config) { c.Source.CSV.MicroBatch = -1 },
		func(c *Config) { c.Source.CSV.InferMaxRows = 0 },
		func(c *Config) { c.Source.CSV.Separator = "ab" },
		func(c *Config) { c.Log.Level = "loud" },
		func(c *Config) { c.Log.Format = "xml" },
	} {
		cfg := Default()
		fn(cfg)
		assert.Error(cfg.Validate())
	}
}
