package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/marshallshelly/inflatable/cmd/inflatable/output"
	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/config"
	"github.com/spf13/cobra"
)

var watch bool

// optionsCmd shows the result cache options
var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Show the result cache options",
	Long: `Show the result cache options of the configuration.

With --watch the command keeps running and prints the options again each
time the last configuration file changes, as a running engine would apply them.

Examples:
  inflatable options
  inflatable options --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOptions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(optionsCmd)

	optionsCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow changes of the configuration file")
}

// optionsView is the JSON form of cache.Options.
type optionsView struct {
	ScanFrequency      string `json:"scan_frequency"`
	MaxCacheSize       int    `json:"max_cache_size"`
	AbsoluteExpiration string `json:"absolute_expiration"`
	SlidingExpiration  string `json:"sliding_expiration"`
	Backend            string `json:"backend"`
}

func runOptions(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := printOptions(cfg); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	w, err := config.NewWatcher(configFiles[len(configFiles)-1], log)
	if err != nil {
		return err
	}
	if !jsonOutput {
		output.Info("Watching %s, press Ctrl+C to stop", configFiles[len(configFiles)-1])
	}
	return w.Run(ctx, func(*config.Config) {
		// Reload every file so overrides keep their precedence.
		next, err := config.Load(configFiles...)
		if err != nil {
			output.Error("%v", err)
			return
		}
		if err := printOptions(next); err != nil {
			output.Error("%v", err)
		}
	})
}

func printOptions(cfg *config.Config) error {
	backend := "memory"
	if cfg.Redis != nil {
		backend = "redis " + cfg.Redis.Addr
	}
	if jsonOutput {
		return printJSON(viewOptions(cfg.Options, backend))
	}

	output.Section("Cache options")
	tw := tabwriter.NewWriter(output.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "scan frequency\t%s\n", cfg.Options.ScanFrequency)
	fmt.Fprintf(tw, "max cache size\t%d\n", cfg.Options.MaxCacheSize)
	fmt.Fprintf(tw, "absolute expiration\t%s\n", cfg.Options.AbsoluteExpiration)
	fmt.Fprintf(tw, "sliding expiration\t%s\n", cfg.Options.SlidingExpiration)
	fmt.Fprintf(tw, "backend\t%s\n", backend)
	return tw.Flush()
}

func viewOptions(o cache.Options, backend string) optionsView {
	return optionsView{
		ScanFrequency:      o.ScanFrequency.String(),
		MaxCacheSize:       o.MaxCacheSize,
		AbsoluteExpiration: o.AbsoluteExpiration.String(),
		SlidingExpiration:  o.SlidingExpiration.String(),
		Backend:            backend,
	}
}
