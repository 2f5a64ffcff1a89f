package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

func TestConfigurationNormalize(t *testing.T) {
	cfg := &Configuration{}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, DefaultConfiguration(), cfg)

	cfg = &Configuration{MaxDepth: -1}
	assert.ErrorIs(t, cfg.Normalize(), merr.ErrParameterInvalid)

	cfg = &Configuration{Compression: "gzip"}
	assert.ErrorIs(t, cfg.Normalize(), merr.ErrParameterInvalid)

	cfg = &Configuration{FormatVersion: "one"}
	assert.ErrorIs(t, cfg.Normalize(), merr.ErrParameterInvalid)
}

func TestConfigurationVersion(t *testing.T) {
	cfg := &Configuration{FormatVersion: "2.1.0"}
	require.NoError(t, cfg.Normalize())
	assert.EqualValues(t, 2, cfg.Version().Major)

	ok, err := cfg.CompatibleVersion("2.9.3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.CompatibleVersion("1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cfg.CompatibleVersion("latest")
	assert.ErrorIs(t, err, merr.ErrFormatVersion)
}
