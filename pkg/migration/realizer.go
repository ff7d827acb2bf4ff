package migration

import (
	"context"
	"fmt"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/sirupsen/logrus"
)

// Realizer applies the schema generation policy of data sources.
type Realizer struct {
	log     logrus.FieldLogger
	options PlannerOptions
}

// RealizerOption configures a Realizer.
type RealizerOption func(*Realizer)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) RealizerOption {
	return func(r *Realizer) { r.log = log }
}

// WithPlannerOptions sets the options of the planners used per data source.
func WithPlannerOptions(opts PlannerOptions) RealizerOption {
	return func(r *Realizer) { r.options = opts }
}

// NewRealizer creates a realizer.
func NewRealizer(opts ...RealizerOption) *Realizer {
	r := &Realizer{
		log:     logrus.StandardLogger(),
		options: PlannerOptions{IfNotExists: true, Indexes: true},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Realize applies the policy of src's data source through driver:
// NoAnalysis does nothing, GenerateAnalysis only plans, and UpdateSchema and
// ApplyAnalysis run the planned statements in one transaction. Update is
// safe to repeat because tables are only created when missing.
func (r *Realizer) Realize(ctx context.Context, src *schema.MappingSource, driver runtime.Driver) (*Result, error) {
	ds := src.DataSource
	res := &Result{DataSource: ds.Name, Policy: ds.SchemaGeneration}
	log := r.log.WithFields(logrus.Fields{"data_source": ds.Name, "policy": ds.SchemaGeneration.String()})

	if ds.SchemaGeneration == mapping.NoAnalysis {
		log.Debug("schema generation disabled")
		return res, nil
	}
	opts := r.options
	if ds.SchemaGeneration == mapping.UpdateSchema {
		opts.IfNotExists = true
	}
	res.Statements = NewPlannerWithOptions(driver.Dialect(), opts).Plan(src)
	if ds.SchemaGeneration == mapping.GenerateAnalysis || len(res.Statements) == 0 {
		log.WithField("statements", len(res.Statements)).Info("schema analysis generated")
		return res, nil
	}
	if !ds.Writable {
		return nil, fmt.Errorf("%w: schema of data source %s", runtime.ErrReadOnly, ds.Name)
	}

	err := withTransaction(ctx, driver, func(tx runtime.Tx) error {
		for _, stmt := range res.Statements {
			if ds.Audit {
				log.WithField("statement", stmt).Info("applying schema statement")
			} else {
				log.Debug(stmt)
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &runtime.ExecutionError{Command: "schema", DataSource: ds.Name, Query: stmt, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Applied = true
	log.WithField("statements", len(res.Statements)).Info("schema applied")
	return res, nil
}

// RealizeAll realizes every source with the driver of the same name.
func (r *Realizer) RealizeAll(ctx context.Context, sources []*schema.MappingSource, drivers map[string]runtime.Driver) ([]*Result, error) {
	var out []*Result
	for _, src := range sources {
		drv, ok := drivers[src.Name()]
		if !ok {
			return out, fmt.Errorf("%w: data source %s", runtime.ErrNoConnection, src.Name())
		}
		res, err := r.Realize(ctx, src, drv)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func withTransaction(ctx context.Context, driver runtime.Driver, fn func(tx runtime.Tx) error) error {
	conn, err := driver.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
