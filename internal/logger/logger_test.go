package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		l, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.Nil(t, l.file)
		assert.NoError(t, l.Close())
	})

	t.Run("plain file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "bridge.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		_, rotating := l.file.(*RotatingWriter)
		assert.False(t, rotating)

		l.Info().Str("event", "bridge.state").Msg("bound")
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"service":"passivebridge"`)
		assert.Contains(t, string(content), `"message":"bound"`)
	})

	t.Run("rotating file with redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "bridge.log")

		l, err := New(Config{Level: "info", File: logFile, MaxSize: 1, Redaction: true})
		require.NoError(t, err)
		_, rotating := l.file.(*RotatingWriter)
		assert.True(t, rotating)
		require.NotNil(t, l.redactor)

		l.Info().Str("authorization", "Bearer abc.def").Msg("auth pushed")
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), redacted)
		assert.NotContains(t, string(content), "abc.def")
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.NotNil(t, l)
		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	})
}

func TestLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bridge.log")
	l, err := New(Config{Level: "warn", File: logFile})
	require.NoError(t, err)

	l.Debug().Msg("hidden debug")
	l.Info().Msg("hidden info")
	l.Warn().Msg("shown warn")
	l.Error().Msg("shown error")
	gw := l.Component("gateway")
	gw.Warn().Msg("component warn")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(content)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "shown error")
	assert.Contains(t, out, `"component":"gateway"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 50, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
}

func TestWith(t *testing.T) {
	l, err := New(Config{Level: "info"})
	require.NoError(t, err)

	child := l.With().Str("clientId", "abc").Logger()
	assert.True(t, child.Info().Enabled())
	assert.False(t, child.Debug().Enabled())
}

func TestSetLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bridge.log")
	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	defer func() { _ = l.SetLevel("info") }()

	child := l.Component("bridge")
	child.Debug().Msg("before reload")

	require.NoError(t, l.SetLevel("debug"))
	child.Debug().Msg("after reload")

	assert.Error(t, l.SetLevel("loud"))
	assert.Error(t, l.SetLevel(""))
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "before reload")
	assert.Contains(t, string(content), "after reload")
}
