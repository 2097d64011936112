package cli

import (
	"fmt"
	"os"

	"github.com/harun/passivebridge/internal/config"
	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard to set up passivebridge.
The wizard asks for the gateway address and shared secret and writes the
configuration file.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	wizard := config.NewWizard(cmd.InOrStdin(), out)

	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if _, err := os.Stat(loader.GetConfigPath()); err == nil {
		fmt.Fprintf(out, "Overwriting existing configuration at %s\n", loader.GetConfigPath())
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start passivebridge with: passivebridge start")
	return nil
}
