package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasCommand("stop"), "stop command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"stop", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Stop the passivebridge daemon")
		assert.Contains(t, helpText, "timeout")
	})
}

func TestStopDaemon(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		_, err := stopDaemon(filepath.Join(t.TempDir(), "missing.pid"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})

	t.Run("stale pid file is removed", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "stale.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

		_, err := stopDaemon(pidFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stale")
		assert.NoFileExists(t, pidFile)
	})
}
