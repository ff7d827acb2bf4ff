package commands

import (
	"context"
	"fmt"

	"github.com/marshallshelly/inflatable/cmd/inflatable/output"
	"github.com/marshallshelly/inflatable/pkg/config"
	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/migration"
	"github.com/marshallshelly/inflatable/pkg/registry"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Plan flags
	planSource    string
	migrationsDir string
	apply         bool
	drop          bool
)

// planCmd plans the schema of the registered mappings
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan the schema of the registered mappings",
	Long: `Resolve the registered mappings against every configured data source and
print the DDL that realizes them.

With --out the statements are written as timestamped up/down migration files.
With --apply each data source's schema_generation policy is carried out:
UpdateSchema and ApplyAnalysis run the statements, the others do not.

Examples:
  inflatable plan
  inflatable plan --source main --out ./migrations
  inflatable plan --apply`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planSource, "source", "s", "", "Only plan this data source")
	planCmd.Flags().StringVarP(&migrationsDir, "out", "o", "", "Write migration files to this directory")
	planCmd.Flags().BoolVar(&apply, "apply", false, "Apply the schema generation policy of each data source")
	planCmd.Flags().BoolVar(&drop, "drop", false, "Plan DROP statements instead")
	planCmd.MarkFlagsMutuallyExclusive("apply", "drop")
}

// SourcePlan is the outcome of planning one data source.
type SourcePlan struct {
	DataSource string   `json:"data_source"`
	Provider   string   `json:"provider"`
	Policy     string   `json:"policy"`
	Statements []string `json:"statements"`
	Applied    bool     `json:"applied"`
	UpPath     string   `json:"up_path,omitempty"`
	DownPath   string   `json:"down_path,omitempty"`
}

func runPlan(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		output.Warning("No mappings registered. Run the CLI from a program that passes its mappings to commands.Execute.")
		return nil
	}
	sources, err := resolve(cfg, log)
	if err != nil {
		return err
	}

	var plans []SourcePlan
	for _, src := range sources {
		if planSource != "" && src.Name() != planSource {
			continue
		}
		p, err := planSourceSchema(ctx, cfg, log, src)
		if err != nil {
			return fmt.Errorf("data source %s: %w", src.Name(), err)
		}
		if p != nil {
			plans = append(plans, *p)
		}
	}
	if planSource != "" && len(plans) == 0 {
		return fmt.Errorf("data source %s has no mapped types or no provider", planSource)
	}

	if jsonOutput {
		return printJSON(plans)
	}
	for _, p := range plans {
		printPlan(p)
	}
	return nil
}

func resolve(cfg *config.Config, log logrus.FieldLogger) ([]*schema.MappingSource, error) {
	reg := registry.NewRegistry(registry.WithLogger(log))
	if err := cfg.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(mappings...); err != nil {
		return nil, err
	}
	return reg.Resolve()
}

func planSourceSchema(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, src *schema.MappingSource) (*SourcePlan, error) {
	ds := src.DataSource
	if ds.Provider == "" {
		log.WithField("data_source", ds.Name).Warn("skipping data source without provider")
		return nil, nil
	}
	d, err := dialect.For(ds.Provider)
	if err != nil {
		return nil, err
	}
	p := &SourcePlan{DataSource: ds.Name, Provider: d.Name(), Policy: ds.SchemaGeneration.String()}

	planner := migration.NewPlanner(d)
	if drop {
		p.Statements = planner.PlanDrop(src)
	} else {
		p.Statements = planner.Plan(src)
	}

	if migrationsDir != "" {
		file, err := migration.NewGenerator(migrationsDir).Write(planner.Migration(src, ds.Name+"_schema"))
		if err != nil {
			return nil, err
		}
		p.UpPath, p.DownPath = file.UpPath, file.DownPath
	}

	if apply {
		drivers, err := cfg.OpenDrivers(ctx)
		if err != nil {
			return nil, err
		}
		defer config.CloseDrivers(drivers)
		res, err := migration.NewRealizer(migration.WithLogger(log)).Realize(ctx, src, drivers[ds.Name])
		if err != nil {
			return nil, err
		}
		p.Applied = res.Applied
	}
	return p, nil
}

func printPlan(p SourcePlan) {
	output.Section(fmt.Sprintf("%s (%s, %s)", p.DataSource, p.Provider, p.Policy))
	if len(p.Statements) == 0 {
		output.Info("Nothing to create")
		return
	}
	for _, stmt := range p.Statements {
		output.SQL(stmt)
	}
	fmt.Fprintln(output.Writer)
	switch {
	case p.Applied:
		output.Success("Applied %d statement(s)", len(p.Statements))
	case apply:
		output.Muted("Not applied: policy %s does not run statements", p.Policy)
	default:
		fmt.Fprintf(output.Writer, "%s %d statement(s) planned\n", output.StatusIcon("planned"), len(p.Statements))
	}
	if p.UpPath != "" {
		output.Success("Created migration")
		output.Muted("  Up:   %s", p.UpPath)
		output.Muted("  Down: %s", p.DownPath)
	}
}
