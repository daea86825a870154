package cmd

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	for name, expected := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	} {
		lvl, err := getLogLevel(name)
		require.NoError(t, err)
		assert.Equal(t, expected, lvl)
	}

	_, err := getLogLevel("LOUD")
	assert.Error(t, err)
}

func TestLevelStringToLevelVar(t *testing.T) {
	lvl, err := levelStringToLevelVar("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl.Level())

	_, err = levelStringToLevelVar("nope")
	assert.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	out, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"ERROR",
	)
	require.NoError(t, err)
	lvl, ok := out.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, lvl.Level())

	// non-LevelVar targets pass through untouched
	out, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "ERROR")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", out)

	_, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"LOUD",
	)
	assert.Error(t, err)
}
