package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/marshallshelly/inflatable/pkg/builder"
	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/query"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/track"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// statement is a read command bound to its data source.
type statement struct {
	r   *route
	cmd *builder.Command
}

// Query runs a query description and returns the matching entities as
// pointers to their concrete types. Entities of the same identity read from
// several data sources or statements are merged into one.
func (s *Session) Query(ctx context.Context, desc *query.Description) ([]any, error) {
	if s.State() == Executing {
		return nil, runtime.ErrSessionBusy
	}
	return s.m.query(ctx, s.log, desc)
}

// Find runs a typed query.
func Find[T any](ctx context.Context, s *Session, q *query.Query[T]) ([]T, error) {
	results, err := s.Query(ctx, q.Description())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(results))
	for _, e := range results {
		v, ok := as[T](e)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a %s", runtime.ErrInvalidModel, e, reflect.TypeFor[T]())
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first result of a typed query, or runtime.ErrNotFound.
func First[T any](ctx context.Context, s *Session, q *query.Query[T]) (T, error) {
	var zero T
	desc := q.Description()
	desc.Take = 1
	results, err := s.Query(ctx, desc)
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, runtime.ErrNotFound
	}
	v, ok := as[T](results[0])
	if !ok {
		return zero, fmt.Errorf("%w: %T is not a %s", runtime.ErrInvalidModel, results[0], reflect.TypeFor[T]())
	}
	return v, nil
}

func (m *Manager) query(ctx context.Context, log logrus.FieldLogger, desc *query.Description) ([]any, error) {
	start := time.Now()
	m.metrics.queries.Inc(1)
	defer func() { m.metrics.queryTime.Record(time.Since(start)) }()

	routes := m.readers(desc.Target)
	if len(routes) == 0 {
		return nil, &runtime.TranslationError{Type: fmt.Sprint(desc.Target), Err: runtime.ErrUnmappedType}
	}
	union := len(routes) > 1
	var stmts []statement
	var skipped error
	for _, r := range routes {
		cmds, err := r.tr.Translate(desc, union)
		if err != nil {
			// A property stored by another data source excludes this one.
			if union && errors.Is(err, runtime.ErrUnknownProperty) {
				skipped = err
				continue
			}
			m.metrics.queryErrors.Inc(1)
			return nil, err
		}
		for _, c := range cmds {
			stmts = append(stmts, statement{r: r, cmd: c})
		}
	}
	if len(stmts) == 0 && skipped != nil {
		m.metrics.queryErrors.Inc(1)
		return nil, skipped
	}

	paged := union || len(routes[0].src.ConcreteTypes(desc.Target)) > 1
	rows, err := m.fetch(ctx, log, desc.Target.String(), stmts, fmt.Sprintf("skip=%d;take=%d", desc.Skip, desc.Take), nil)
	if err != nil {
		m.metrics.queryErrors.Inc(1)
		return nil, err
	}
	entities, err := m.materialize(stmts, rows, paged && len(desc.Orders) > 0)
	if err != nil {
		m.metrics.queryErrors.Inc(1)
		return nil, err
	}
	if paged {
		entities = entities[min(desc.Skip, len(entities)):]
		if desc.Take > 0 && len(entities) > desc.Take {
			entities = entities[:desc.Take]
		}
	}
	return entities, nil
}

// fetch returns the rows of each statement, from the cache when a result
// of the same canonical text is stored there.
func (m *Manager) fetch(ctx context.Context, log logrus.FieldLogger, target string, stmts []statement, options string, depends []string) ([][][]any, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	var key cache.Key
	var gen uint64
	if m.cache != nil {
		key = cacheKey(target, stmts, options, depends)
		gen = m.gens.of(key.Types)
		payload, ok, err := m.cache.Get(ctx, key)
		switch {
		case err != nil:
			m.metrics.cacheErrors.Inc(1)
			log.WithError(err).WithField("key", key.ID).Warn("cache lookup failed")
		case ok:
			rows, err := decodeRows(payload)
			if err == nil && len(rows) == len(stmts) {
				return rows, nil
			}
			log.WithField("key", key.ID).Warn("cached result cannot be decoded")
		}
	}

	rows := make([][][]any, len(stmts))
	for _, r := range m.routes {
		if err := m.read(ctx, r, stmts, rows); err != nil {
			return nil, err
		}
	}
	if m.cache == nil {
		return rows, nil
	}

	// Results are always read back from their encoded form, so cached and
	// fresh results hold the same values.
	payload, err := encodeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", target, err)
	}
	m.store(ctx, log, key, gen, payload)
	return decodeRows(payload)
}

// store caches a fresh result unless a write invalidated its types since
// gen was taken. A write racing the store itself is undone afterwards.
func (m *Manager) store(ctx context.Context, log logrus.FieldLogger, key cache.Key, gen uint64, payload []byte) {
	if m.gens.of(key.Types) != gen {
		m.metrics.cacheStale.Inc(1)
		return
	}
	if err := m.cache.Set(ctx, key, payload); err != nil {
		m.metrics.cacheErrors.Inc(1)
		log.WithError(err).WithField("key", key.ID).Warn("cache store failed")
		return
	}
	if m.gens.of(key.Types) == gen {
		return
	}
	m.metrics.cacheStale.Inc(1)
	if err := m.cache.Invalidate(context.WithoutCancel(ctx), key.Types...); err != nil {
		m.metrics.cacheErrors.Inc(1)
		log.WithError(err).WithField("key", key.ID).Warn("cache invalidation failed")
	}
}

// read runs the statements of one data source on one connection.
func (m *Manager) read(ctx context.Context, r *route, stmts []statement, rows [][][]any) error {
	var conn runtime.Conn
	for i, st := range stmts {
		if st.r != r {
			continue
		}
		if conn == nil {
			var err error
			if conn, err = r.driver.Acquire(ctx); err != nil {
				return &runtime.ExecutionError{Command: "acquire", DataSource: r.name(), Err: err}
			}
			defer conn.Release()
		}
		m.log.WithFields(logrus.Fields{"data_source": r.name(), "command": st.cmd.Kind.String()}).Debug(st.cmd.SQL)
		m.metrics.command(st.cmd.Kind, r.name())
		set, err := conn.Query(ctx, st.cmd.SQL, st.cmd.Args...)
		if err != nil {
			return failure(r.name(), st.cmd, st.cmd.SQL, err)
		}
		rows[i] = set.Rows
	}
	return nil
}

// cacheKey builds the canonical key of a read: the target, the statements
// with their data source configuration and arguments, and the options
// applied after reading.
func cacheKey(target string, stmts []statement, options string, depends []string) cache.Key {
	var b strings.Builder
	b.WriteString(target)
	types := slices.Clone(depends)
	for _, st := range stmts {
		fmt.Fprintf(&b, "\n%s|%s|", st.r.src.DataSource.Fingerprint(), st.cmd.SQL)
		for i, a := range st.cmd.Args {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%T:%v", a, a)
		}
		types = append(types, st.cmd.Type.GoType.String())
	}
	b.WriteString("\n")
	b.WriteString(options)
	sort.Strings(types)
	return cache.NewKey(target, b.String(), slices.Compact(types))
}

func encodeRows(rows [][][]any) ([]byte, error) {
	return msgpack.Marshal(rows)
}

func decodeRows(payload []byte) ([][][]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)
	var rows [][][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type found struct {
	entity any
	shape  *builder.Shape
	row    []any
}

// materialize builds the entities of the rows, merging rows of the same
// identity. With sorted set the union is ordered by the shapes' sort keys.
func (m *Manager) materialize(stmts []statement, rows [][][]any, sorted bool) ([]any, error) {
	var all []*found
	byID := make(map[string]*found)
	for i, st := range stmts {
		shape := st.cmd.Shape
		for _, row := range rows[i] {
			id, keyed := shape.Identity(row)
			if f, ok := byID[id]; keyed && ok {
				if err := shape.Fill(f.entity, row); err != nil {
					return nil, err
				}
				continue
			}
			e, err := shape.Materialize(row)
			if err != nil {
				return nil, fmt.Errorf("materialize %s: %w", shape.Type.Name, err)
			}
			f := &found{entity: e, shape: shape, row: row}
			if keyed {
				byID[id] = f
			}
			all = append(all, f)
		}
	}
	if sorted {
		slices.SortStableFunc(all, compareFound)
	}
	out := make([]any, len(all))
	for i, f := range all {
		if st := track.Of(f.entity); st != nil {
			st.ResetChanges()
			st.Attach(m)
		}
		out[i] = f.entity
	}
	return out, nil
}

func compareFound(a, b *found) int {
	for k := range min(len(a.shape.Orders), len(b.shape.Orders)) {
		ka, kb := a.shape.Orders[k], b.shape.Orders[k]
		c := builder.Compare(a.row[ka.Index], b.row[kb.Index])
		if ka.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// as returns e as a T, viewing it through an embedded struct when T is a
// pointer to one of the types e embeds.
func as[T any](e any) (T, bool) {
	if v, ok := e.(T); ok {
		return v, true
	}
	var zero T
	v, ok := convert(reflect.ValueOf(e), reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	return v.Interface().(T), true
}

// convert returns v, a struct pointer, as a value assignable to to.
func convert(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	if v.Type().AssignableTo(to) {
		return v, true
	}
	if to.Kind() == reflect.Struct {
		p, ok := convert(v, reflect.PointerTo(to))
		if !ok {
			return reflect.Value{}, false
		}
		return p.Elem(), true
	}
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	s := v.Elem()
	for i := range s.NumField() {
		f := s.Type().Field(i)
		if !f.Anonymous || !f.IsExported() {
			continue
		}
		fv := s.Field(i)
		switch {
		case fv.Kind() == reflect.Struct:
			fv = fv.Addr()
		case fv.Kind() == reflect.Pointer && !fv.IsNil():
		default:
			continue
		}
		if out, ok := convert(fv, to); ok {
			return out, true
		}
	}
	return reflect.Value{}, false
}
