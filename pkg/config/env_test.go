package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrDefault(t *testing.T) {
	t.Setenv("JSTZ_TEST_STR", "value")

	assert.Equal(t, "value", GetOrDefault("JSTZ_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetOrDefault("JSTZ_TEST_STR_MISSING", "fallback"))
}

func TestGetBoolOrDefault(t *testing.T) {
	t.Setenv("JSTZ_TEST_BOOL", "true")
	t.Setenv("JSTZ_TEST_BOOL_BAD", "not-a-bool")

	assert.True(t, GetBoolOrDefault("JSTZ_TEST_BOOL", false))
	assert.True(t, GetBoolOrDefault("JSTZ_TEST_BOOL_BAD", true))
	assert.False(t, GetBoolOrDefault("JSTZ_TEST_BOOL_MISSING", false))
}

func TestGetIntOrDefault(t *testing.T) {
	t.Setenv("JSTZ_TEST_INT", "250")
	t.Setenv("JSTZ_TEST_INT_BAD", "abc")

	assert.Equal(t, int64(250), GetIntOrDefault("JSTZ_TEST_INT", 1))
	assert.Equal(t, int64(9), GetIntOrDefault("JSTZ_TEST_INT_BAD", 9))
}

func TestFromEnv(t *testing.T) {
	type cfg struct {
		Name     string `env:"JSTZ_TEST_NAME"`
		Poll     int64  `env:"JSTZ_TEST_POLL"`
		Verbose  bool   `env:"JSTZ_TEST_VERBOSE"`
		Untagged string
	}

	t.Setenv("JSTZ_TEST_NAME", "jstzd")
	t.Setenv("JSTZ_TEST_POLL", "500")
	t.Setenv("JSTZ_TEST_VERBOSE", "true")

	var c cfg
	require.NoError(t, FromEnv(&c))

	assert.Equal(t, "jstzd", c.Name)
	assert.Equal(t, int64(500), c.Poll)
	assert.True(t, c.Verbose)
	assert.Empty(t, c.Untagged)
}

func TestFromEnvRejectsNonPointer(t *testing.T) {
	type cfg struct{}

	assert.Error(t, FromEnv(cfg{}))
	assert.Error(t, FromEnv((*cfg)(nil)))
}
