// Package session is the unit of work: it accumulates saves and deletes of
// entity graphs, turns them into ordered commands per data source and runs
// them, and answers queries through the result cache.
package session

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/marshallshelly/inflatable/pkg/builder"
	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
)

// route binds a resolved data source to its driver.
type route struct {
	src    *schema.MappingSource
	driver runtime.Driver
	tr     *builder.Translator
}

func (r *route) name() string {
	return r.src.Name()
}

// Manager owns the resolved data sources, their drivers and the result
// cache, and creates sessions over them. It is safe for concurrent use.
type Manager struct {
	routes  []*route
	cache   cache.Store
	gens    generations
	log     logrus.FieldLogger
	metrics *Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache sets the result cache. Without one, every query runs.
func WithCache(store cache.Store) Option {
	return func(m *Manager) { m.cache = store }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics scope.
func WithMetrics(scope tally.Scope) Option {
	return func(m *Manager) { m.metrics = NewMetrics(scope) }
}

// NewManager wires resolved sources to their drivers, keyed by data source
// name. Sources run in data source Order.
func NewManager(sources []*schema.MappingSource, drivers map[string]runtime.Driver, opts ...Option) (*Manager, error) {
	m := &Manager{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(tally.NoopScope)
	}
	for _, src := range sources {
		d, ok := drivers[src.Name()]
		if !ok || d == nil {
			return nil, fmt.Errorf("%w: data source %s", runtime.ErrNoConnection, src.Name())
		}
		m.routes = append(m.routes, &route{
			src:    src,
			driver: d,
			tr:     builder.NewTranslator(src, d.Dialect()),
		})
	}
	sort.SliceStable(m.routes, func(i, j int) bool {
		return m.routes[i].src.DataSource.Order < m.routes[j].src.DataSource.Order
	})
	return m, nil
}

// NewSession starts an idle session.
func (m *Manager) NewSession() *Session {
	id := uuid.NewString()
	return &Session{
		m:    m,
		id:   id,
		log:  m.log.WithField("session", id),
		work: newWork(),
	}
}

// Sources returns the resolved sources in execution order.
func (m *Manager) Sources() []*schema.MappingSource {
	out := make([]*schema.MappingSource, len(m.routes))
	for i, r := range m.routes {
		out[i] = r.src
	}
	return out
}

// writers returns the writable routes storing the concrete type of entity.
func (m *Manager) writers(entity any) ([]*route, error) {
	var out []*route
	mapped := false
	for _, r := range m.routes {
		t, ok := r.src.TypeOf(entity)
		if !ok || !t.Concrete {
			continue
		}
		mapped = true
		if r.src.DataSource.Writable {
			out = append(out, r)
		}
	}
	switch {
	case !mapped:
		return nil, fmt.Errorf("%w: %T", runtime.ErrUnmappedType, entity)
	case len(out) == 0:
		return nil, fmt.Errorf("%w: %T", runtime.ErrReadOnly, entity)
	}
	return out, nil
}

// readers returns the readable routes storing some concrete type of target.
func (m *Manager) readers(target reflect.Type) []*route {
	var out []*route
	for _, r := range m.routes {
		if r.src.DataSource.Readable && len(r.src.ConcreteTypes(target)) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// relationships returns the relationship properties of an entity's type,
// merged over the writable sources that store it.
func (m *Manager) relationships(entity any) []*schema.Property {
	var out []*schema.Property
	seen := make(map[string]bool)
	for _, r := range m.routes {
		if !r.src.DataSource.Writable {
			continue
		}
		t, ok := r.src.TypeOf(entity)
		if !ok || !t.Concrete {
			continue
		}
		for _, p := range t.Properties {
			if p.Relationship == nil || p.Ambiguous || seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}
