package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure key=value...",
		Short: "Update host settings on the running daemon",
		Long: `Send settings to the running daemon's session host.
Numbers and booleans are sent as such, anything else as text.
An empty value ("key=") resets the setting to its default.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runConfigure,
	}
}

func runConfigure(cmd *cobra.Command, args []string) error {
	settings, err := parseSettings(args)
	if err != nil {
		return err
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if _, err := newRPCClient(cfg).Call(ctx, "configure", settings); err != nil {
		return fmt.Errorf("configure failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated %d setting(s)\n", len(settings))
	return nil
}

// parseSettings turns key=value arguments into a configure payload.
func parseSettings(args []string) (map[string]interface{}, error) {
	settings := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", arg)
		}
		settings[key] = parseValue(value)
	}
	return settings, nil
}

func parseValue(value string) interface{} {
	if value == "" {
		return nil
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
