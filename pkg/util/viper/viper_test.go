package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Serializer struct {
		MaxDepth int    `mapstructure:"maxDepth"`
		Indent   bool   `mapstructure:"indent"`
		Format   string `mapstructure:"format"`
	} `mapstructure:"serializer"`
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serializer:\n  maxDepth: 12\n  indent: true\n"), 0o600))

	c := New()
	c.SetDefault("serializer.format", "xml")
	require.NoError(t, c.LoadFile(path))

	var cfg testConfig
	require.NoError(t, c.Unmarshal(&cfg))
	assert.Equal(t, 12, cfg.Serializer.MaxDepth)
	assert.True(t, cfg.Serializer.Indent)
	assert.Equal(t, "xml", cfg.Serializer.Format)
}

func TestLoadMissingFile(t *testing.T) {
	c := New()
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestZeroValueConfig(t *testing.T) {
	var c Config
	c.SetDefault("serializer.maxDepth", 3)

	var cfg testConfig
	require.NoError(t, c.UnmarshalKey("serializer", &cfg.Serializer))
	assert.Equal(t, 3, cfg.Serializer.MaxDepth)
}
