package dbexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationLoader_PostConfigure_MergesAndNormalizesKeys(t *testing.T) {
	opts := DefaultDbOptions()
	source := MapConnectionStringSource{
		"Reporting": "server=A;database=reporting",
		"Blank":     "   ",
	}

	loader := NewConfigurationLoader()
	loader.PostConfigure(opts, source)

	value, ok := opts.connectionString("reporting")
	require.True(t, ok)
	assert.Equal(t, "server=A;database=reporting", value)

	_, ok = opts.connectionString("blank")
	assert.False(t, ok, "blank values must be ignored")
}

func TestConfigurationLoader_PostConfigure_ResolvesDefaultConnectionString(t *testing.T) {
	opts := DefaultDbOptions()
	source := MapConnectionStringSource{}

	loader := NewConfigurationLoader()

	loader.PostConfigure(opts, &stubSource{
		MapConnectionStringSource: source,
		defaultName:               opts.DefaultConnectionName,
		defaultValue:              "server=B",
	})

	value, ok := opts.connectionString(opts.DefaultConnectionName)
	require.True(t, ok)
	assert.Equal(t, "server=B", value)
}

func TestConfigurationLoader_PostConfigure_IsIdempotentPerOptionsIdentity(t *testing.T) {
	opts := DefaultDbOptions()
	loader := NewConfigurationLoader()

	first := MapConnectionStringSource{"main": "server=first"}
	loader.PostConfigure(opts, first)

	second := MapConnectionStringSource{"main": "server=second"}
	loader.PostConfigure(opts, second)

	value, ok := opts.connectionString("main")
	require.True(t, ok)
	assert.Equal(t, "server=first", value, "a second PostConfigure call against the same *DbOptions must be a no-op")
}

func TestConfigurationLoader_PostConfigure_NilArgumentsAreNoOps(t *testing.T) {
	loader := NewConfigurationLoader()
	assert.NotPanics(t, func() {
		loader.PostConfigure(nil, MapConnectionStringSource{})
		loader.PostConfigure(DefaultDbOptions(), nil)
	})
}

type stubSource struct {
	MapConnectionStringSource
	defaultName  string
	defaultValue string
}

func (s *stubSource) DefaultConnectionString(name string) (string, bool) {
	if name == s.defaultName {
		return s.defaultValue, true
	}
	return s.MapConnectionStringSource.DefaultConnectionString(name)
}
