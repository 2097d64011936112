package cli

import (
	"fmt"

	"github.com/harun/passivebridge/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	envFile  string
)

// rootCmd is the command tree run by Execute.
var rootCmd = NewRootCmd()

// NewRootCmd builds the command tree. The global flag variables are reset to
// their defaults on every call.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passivebridge",
		Short: "passivebridge - session host bridge daemon",
		Long: `passivebridge exposes a data-collection session host to gateway clients.
It multiplexes host events onto registered listeners and correlates
asynchronous host callbacks with the commands that started them.`,
		Version:           version,
		PersistentPreRunE: loadEnvFile,
		SilenceUsage:      true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.passivebridge/passivebridge.json)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of "+config.EnvPrefix+"_* environment overrides")

	// Version template
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newStopCmd(),
		newConfigureCmd(),
		newSetupCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvFile loads the env file. A missing default file is not an error.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadConfig reads the configuration named by --config and applies the
// --log-level override.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return loader, cfg, nil
}

// GetRootCmd returns a fresh command tree for testing
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
