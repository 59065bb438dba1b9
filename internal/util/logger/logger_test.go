package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test.output")

	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log.Info("after switch", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "after switch")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "subsystem=test.output")
	assert.Contains(t, out, "level=info")
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("test.level")
	SetLevel("test.level", slog.LevelWarn)
	log.Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel("test.level", slog.LevelDebug)
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("relay.server=debug, relay.limiter=warn ,error", "JSON", "true")

	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("relay.server"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("relay.limiter"))
	assert.Equal(t, slog.LevelError, cfg.LevelFor("other"))
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg := ParseConfig("", "", "")

	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Equal(t, FormatText, cfg.Format)
	assert.False(t, cfg.AddSource)

	// 无法识别的级别被忽略
	cfg = ParseConfig("verbose,relay=loud", "", "")
	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Empty(t, cfg.SubsystemLevels)
}

func TestLogger_Cached(t *testing.T) {
	a := Logger("test.cache")
	b := Logger("test.cache")
	require.Same(t, a, b)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
