package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	var buf bytes.Buffer
	l, err := Build(&buf, "json", slog.LevelInfo)
	require.NoError(t, err)
	l.With("model", "en").WithGroup("load").Info("loaded", "tokens", 4)
	l.Debug("hidden")
	assert.Contains(t, buf.String(), `"msg":"loaded"`)
	assert.Contains(t, buf.String(), `"model":"en"`)
	assert.Contains(t, buf.String(), `"load":{"tokens":4}`)
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	l, err = Build(&buf, "", slog.LevelWarn)
	require.NoError(t, err)
	l.Warn("careful")
	assert.Contains(t, buf.String(), "level=WARN msg=careful")

	_, err = Build(&buf, "xml", slog.LevelInfo)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestContext(t *testing.T) {
	l := Discard()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
	assert.NotNil(t, FromContext(context.Background()))
}
