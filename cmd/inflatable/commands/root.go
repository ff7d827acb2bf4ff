package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/marshallshelly/inflatable/cmd/inflatable/output"
	"github.com/marshallshelly/inflatable/pkg/config"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFiles []string
	verbose     bool
	jsonOutput  bool

	// mappings are supplied by the program embedding the CLI.
	mappings []*mapping.Mapping
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "inflatable",
	Short: "Inflatable - object mapping over several data sources",
	Long: `Inflatable maps Go entity graphs onto one or more relational data sources.

The CLI works from the same YAML configuration as the library:
  - check that every configured data source answers
  - show the result cache options, optionally following file changes
  - plan, write or apply the schema of the registered mappings

Programs that register mappings run the CLI through commands.Execute.`,
	SilenceUsage: true,
}

// Execute runs the root command over the given mappings.
func Execute(ms ...*mapping.Mapping) {
	mappings = ms
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", []string{"inflatable.yaml"}, "Configuration files, later files override earlier ones")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// loadConfig loads the configuration files and a logger for it.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFiles...)
	if err != nil {
		return nil, nil, err
	}
	log := cfg.Logger()
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else if log.GetLevel() > logrus.WarnLevel {
		log.SetLevel(logrus.WarnLevel)
	}
	return cfg, log, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(output.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
