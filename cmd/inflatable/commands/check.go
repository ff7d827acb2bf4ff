package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/marshallshelly/inflatable/cmd/inflatable/output"
	"github.com/marshallshelly/inflatable/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var checkTimeout time.Duration

// checkCmd pings every configured data source
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the configured data sources answer",
	Long: `Open every data source that names a provider and ping it concurrently.

Examples:
  inflatable check
  inflatable check --config base.yaml --config prod.yaml --timeout 2s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 5*time.Second, "Timeout for each ping")
}

// SourceStatus is the outcome of pinging one data source.
type SourceStatus struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func runCheck(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	statuses, err := check(ctx, cfg, checkTimeout)
	if err != nil {
		return err
	}

	failed := 0
	for _, s := range statuses {
		if s.Status == "failed" {
			failed++
		}
	}
	if jsonOutput {
		if err := printJSON(statuses); err != nil {
			return err
		}
	} else {
		output.Section("Data sources")
		for _, s := range statuses {
			fmt.Fprintf(output.Writer, "%s %-16s %s\n", output.StatusIcon(s.Status), s.Name, s.Provider)
			if s.Error != "" {
				output.Muted("    %s", s.Error)
			}
		}
		fmt.Fprintln(output.Writer)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d data sources failed", failed, len(statuses))
	}
	if !jsonOutput {
		output.Success("All %d data sources answered", len(statuses))
	}
	return nil
}

// check opens and pings every source with a provider. Individual failures
// are reported in the statuses; only an unusable configuration is an error.
func check(ctx context.Context, cfg *config.Config, timeout time.Duration) ([]SourceStatus, error) {
	drivers, err := cfg.OpenDrivers(ctx)
	if err != nil {
		return nil, err
	}
	defer config.CloseDrivers(drivers)

	var statuses []SourceStatus
	for _, ds := range cfg.DataSources {
		if ds.Provider == "" {
			continue
		}
		statuses = append(statuses, SourceStatus{Name: ds.Name, Provider: ds.Provider, Status: "ok"})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range statuses {
		s := &statuses[i]
		d := drivers[s.Name]
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := d.Ping(pctx); err != nil {
				s.Status = "failed"
				s.Error = err.Error()
			}
			return nil
		})
	}
	return statuses, g.Wait()
}
