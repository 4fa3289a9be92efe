package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/locus/internal/config"
)

// initBuffered resets the global logger and initializes it against an
// in-memory console writer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "locus",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Named("discovery").Info("Step resolved.")

		out := buf.String()
		assert.Contains(t, out, "\x1b[32mINFO"+ansiReset)
		assert.Contains(t, out, "locus.discovery.")
		assert.Contains(t, out, "Step resolved.")
	})

	t.Run("unknown color falls back to plain level", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Warn: "chartreuse"},
		})

		GetLogger().Warn("plain")

		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), ansiReset)
	})

	t.Run("NO_COLOR disables level colors", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		buf := initBuffered(t, config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("plain")

		assert.Contains(t, buf.String(), "INFO")
		assert.NotContains(t, buf.String(), ansiReset)
	})

	t.Run("color names are case insensitive", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Error: "Red"},
		})

		GetLogger().Error("Vision tier failed.")

		assert.Contains(t, buf.String(), "\x1b[31mERROR"+ansiReset)
	})

	t.Run("json logger emits structured fields", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})

		GetLogger().Warn("Memory tier missed.", zap.String("action_text", "click submit"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Memory tier missed.", entry["msg"])
		assert.Equal(t, "click submit", entry["action_text"])
	})

	t.Run("level filters lower entries", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("invalid level defaults to info", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "chatty", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("writes to a rotating log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "locus.log")
		initBuffered(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: path,
			MaxSize: 1,
		})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, string(content), `"level":"ERROR"`)
	})

	t.Run("only initializes once", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, first, GetLogger())
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Nil(t, global.Load(), "fallback must not be stored globally")
}

func TestIgnorableSyncError(t *testing.T) {
	assert.True(t, ignorableSyncError(errors.New("sync /dev/stdout: invalid argument")))
	assert.True(t, ignorableSyncError(errors.New("sync /dev/stderr: inappropriate ioctl for device")))
	assert.False(t, ignorableSyncError(errors.New("write locus.log: no space left on device")))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
