package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/harun/passivebridge/internal/daemon"
	"github.com/harun/passivebridge/pkg/gateway"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the passivebridge daemon, the session host
server status and the status of every source plugin.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// The PID file is written at startup.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return printHostStatus(ctx, out, newRPCClient(cfg))
}

// printHostStatus prints the session host status reported by the daemon.
func printHostStatus(ctx context.Context, out io.Writer, client *rpcClient) error {
	server, err := client.Call(ctx, "serverStatus")
	var rpcErr *gateway.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == gateway.NotConnected {
		fmt.Fprintln(out, "Bridge: not started")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query server status: %w", err)
	}
	fmt.Fprintf(out, "Server: %v\n", server)

	sources, err := client.Call(ctx, "sourceStatus")
	if err != nil {
		return fmt.Errorf("failed to query source status: %w", err)
	}
	statuses, _ := sources.(map[string]interface{})
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %v\n", name, statuses[name])
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
