package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/config"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	// Set by PersistentPreRunE for every subcommand.
	appCfg *config.Config
	logger *observability.Logger
	out    *ui.UI
)

var rootCmd = &cobra.Command{
	Use:   "extractflow",
	Short: "Upload files, extract structured data remotely and clean up after yourself",
	Long: `extractflow drives a hosted processing API through three steps:
upload the contents of local files, apply an extraction prompt to them and
retrieve the result. Every remote call is recorded, and the objects created
on the server can be deleted from the same session or swept up later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		appCfg = cfg

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:  level,
			Format: cfg.Observability.LogFormat,
		})

		out = ui.New(ui.Options{
			Out:     cmd.OutOrStdout(),
			ErrOut:  cmd.ErrOrStderr(),
			In:      cmd.InOrStdin(),
			NoColor: noColor,
			Verbose: verbose,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
