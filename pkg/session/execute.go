package session

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/marshallshelly/inflatable/pkg/builder"
	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/track"
	"github.com/sirupsen/logrus"
)

// Execute writes everything queued. Each data source runs its commands in
// one transaction, in data source order. Generated identities are written
// into their entities and into every command still waiting for them.
//
// The first failure stops the call: the failing source is rolled back, and
// sources that already committed stay committed. The queue is cleared
// either way.
func (s *Session) Execute(ctx context.Context) error {
	w, err := s.begin()
	if err != nil {
		return err
	}
	defer s.finish()
	if len(w.queue) == 0 {
		return nil
	}

	start := time.Now()
	s.m.metrics.executes.Inc(1)
	err = s.execute(ctx, w)
	s.m.metrics.executeTime.Record(time.Since(start))
	if err != nil {
		s.m.metrics.executeErrors.Inc(1)
		s.log.WithError(err).Warn("execute failed")
	}
	return err
}

func (s *Session) begin() (work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Executing {
		return work{}, runtime.ErrSessionBusy
	}
	w := s.work
	s.work = newWork()
	s.state = Executing
	return w, nil
}

func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		s.state = Accumulating
	} else {
		s.state = Idle
	}
}

func (s *Session) execute(ctx context.Context, w work) error {
	batches, err := s.m.plan(w)
	if err != nil {
		return err
	}

	waiting := make(map[any][]*builder.Command)
	for i, b := range batches {
		for _, c := range b.cmds {
			for _, ref := range c.References() {
				waiting[ref] = append(waiting[ref], c)
			}
		}
		batches[i].cmds = builder.Merge(b.cmds)
	}

	written := make(map[string]bool)
	var runErr error
	for _, b := range batches {
		if runErr = s.run(ctx, b, waiting); runErr != nil {
			break
		}
		for _, c := range b.cmds {
			if c.Type != nil {
				written[c.Type.GoType.String()] = true
			}
		}
	}
	s.invalidate(ctx, written)
	if runErr != nil {
		return runErr
	}
	s.settle(w)
	return nil
}

// run executes the commands of one data source in a transaction.
func (s *Session) run(ctx context.Context, b batch, waiting map[any][]*builder.Command) error {
	name := b.r.name()
	d := b.r.driver.Dialect()
	log := s.log.WithField("data_source", name)

	conn, err := b.r.driver.Acquire(ctx)
	if err != nil {
		return &runtime.ExecutionError{Command: "acquire", DataSource: name, Err: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return &runtime.ExecutionError{Command: "begin", DataSource: name, Err: err}
	}
	var generated []*builder.Command
	abort := func(err error) error {
		s.rollback(ctx, tx, log)
		// Identities of rolled back rows are not kept.
		for _, c := range generated {
			_ = builder.SetIdentity(c.Type, c.Entity, 0)
		}
		return err
	}
	for _, c := range b.cmds {
		if err := ctx.Err(); err != nil {
			return abort(fmt.Errorf("execute on data source %s: %w", name, err))
		}
		if err := s.exec(ctx, tx, d, name, c, waiting, log); err != nil {
			return abort(err)
		}
		if c.Identity {
			generated = append(generated, c)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &runtime.ExecutionError{Command: "commit", DataSource: name, Err: err}
	}
	log.WithField("commands", len(b.cmds)).Debug("batch committed")
	return nil
}

func (s *Session) exec(ctx context.Context, tx runtime.Tx, d dialect.Dialect, source string, c *builder.Command, waiting map[any][]*builder.Command, log logrus.FieldLogger) error {
	sql, args, err := builder.Render(c, d)
	if err != nil {
		return failure(source, c, "", err)
	}
	log.WithFields(logrus.Fields{"command": c.Kind.String(), "table": c.Table}).Debug(sql)
	s.m.metrics.command(c.Kind, source)

	if !c.Identity {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return failure(source, c, sql, err)
		}
		return nil
	}
	id, err := tx.Insert(ctx, sql, d.SupportsReturning(), args...)
	if err != nil {
		return failure(source, c, sql, err)
	}
	if err := builder.SetIdentity(c.Type, c.Entity, id); err != nil {
		return failure(source, c, sql, err)
	}
	ids := c.Type.IDValues(reflect.ValueOf(c.Entity))
	for _, dep := range waiting[c.Entity] {
		dep.Patch(c.Entity, ids)
	}
	return nil
}

func failure(source string, c *builder.Command, sql string, err error) error {
	e := &runtime.ExecutionError{Command: c.Kind.String(), DataSource: source, Query: sql, Err: err}
	if c.Type != nil {
		e.Type = c.Type.Name
	}
	return e
}

func (s *Session) rollback(ctx context.Context, tx runtime.Tx, log logrus.FieldLogger) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("rollback failed")
	}
}

// invalidate drops cached results depending on the written types.
func (s *Session) invalidate(ctx context.Context, written map[string]bool) {
	if s.m.cache == nil || len(written) == 0 {
		return
	}
	types := make([]string, 0, len(written))
	for t := range written {
		types = append(types, t)
	}
	sort.Strings(types)
	s.m.gens.bump(types)
	if err := s.m.cache.Invalidate(context.WithoutCancel(ctx), types...); err != nil {
		s.m.metrics.cacheErrors.Inc(1)
		s.log.WithError(err).WithField("types", types).Warn("cache invalidation failed")
	}
}

// settle marks saved entities as stored and unchanged.
func (s *Session) settle(w work) {
	for _, it := range w.queue {
		st := track.Of(it.entity)
		if st == nil {
			continue
		}
		st.ResetChanges()
		if it.delete {
			continue
		}
		st.Attach(s.m)
		for _, p := range it.loaded {
			st.MarkLoaded(p)
		}
	}
}
