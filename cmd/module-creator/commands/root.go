// Package commands implements the module-creator CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/module-creator/internal/config"
	"github.com/spherical/module-creator/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "module-creator",
	Short: "Turn PDF manuals into training modules and assessments",
	Long: `module-creator extracts the text of a PDF manual and asks a language model
to write training modules from it, then a multiple-choice assessment for
each module. Documents can be processed from the command line or through
the HTTP server.`,
	SilenceUsage: true,
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

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
}
