package cli

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/harun/passivebridge/internal/daemon"
	"github.com/harun/passivebridge/internal/logger"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDaemon runs a daemon on a free port and points cfg at it.
func startDaemon(t *testing.T, startBridge bool) (*daemon.Daemon, *rpcClient) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Host.UploadSchedule = "@every 1h"

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := daemon.New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		if d.Status().Running {
			_ = d.Stop()
		}
	})

	_, cfg.Gateway.Port = splitAddr(t, d.Addr())

	if startBridge {
		bound := make(chan string, 1)
		require.NoError(t, d.GetBridge().Start(&listener.Funcs[struct{}]{
			OnSuccess: func(struct{}) { bound <- "" },
			OnError:   func(msg string) { bound <- msg },
		}))
		select {
		case msg := <-bound:
			require.Empty(t, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("bridge never bound")
		}
	}
	return d, newRPCClient(cfg)
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasCommand("status"), "status command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path := writeConfig(t, testConfig(t))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--config", path})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "Status: stopped")
	})
}

func TestPrintHostStatus(t *testing.T) {
	t.Run("bridge not started", func(t *testing.T) {
		_, client := startDaemon(t, false)

		out := &bytes.Buffer{}
		require.NoError(t, printHostStatus(context.Background(), out, client))
		assert.Contains(t, out.String(), "Bridge: not started")
	})

	t.Run("lists every source", func(t *testing.T) {
		d, client := startDaemon(t, true)

		out := &bytes.Buffer{}
		require.NoError(t, printHostStatus(context.Background(), out, client))
		assert.Contains(t, out.String(), "Server: DISCONNECTED")
		for _, p := range d.GetConfig().Host.Plugins {
			assert.Contains(t, out.String(), p.Name+":")
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
