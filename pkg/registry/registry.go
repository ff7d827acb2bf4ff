// Package registry is the schema manager: it holds data source descriptors
// and declared mappings, and resolves them into one MappingSource per data
// source.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/sirupsen/logrus"
)

// Registry is a thread-safe registry of data sources and mappings.
type Registry struct {
	mu       sync.RWMutex
	parser   *mapping.Parser
	logger   logrus.FieldLogger
	sources  map[string]*mapping.DataSource
	mappings []*mapping.Mapping
	resolved map[string]*schema.MappingSource
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report resolution.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a new Registry instance.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		parser:   mapping.NewParser(),
		logger:   logrus.StandardLogger(),
		sources:  make(map[string]*mapping.DataSource),
		resolved: make(map[string]*schema.MappingSource),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddDataSource registers a data source descriptor.
func (r *Registry) AddDataSource(ds *mapping.DataSource) error {
	if ds == nil || ds.Name == "" {
		return errors.New("data source name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[ds.Name]; ok {
		return fmt.Errorf("data source %s already registered", ds.Name)
	}
	r.sources[ds.Name] = ds
	return nil
}

// Register adds declared mappings. Their data sources must already be registered.
func (r *Registry) Register(ms ...*mapping.Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range ms {
		if _, ok := r.sources[m.DataSource]; !ok {
			return fmt.Errorf("mapping %s: data source %s not registered", m.Name(), m.DataSource)
		}
		r.mappings = append(r.mappings, m)
	}
	return nil
}

// RegisterModel parses a tagged struct and registers its mapping.
func (r *Registry) RegisterModel(model any, dataSource string, opts ...mapping.MappingOption) error {
	m, err := r.parser.Parse(model, dataSource, opts...)
	if err != nil {
		return fmt.Errorf("failed to parse model %T: %w", model, err)
	}
	return r.Register(m)
}

// Resolve resolves every data source. Sources that fail are left out of the
// result and their errors are joined; the others remain usable.
func (r *Registry) Resolve() ([]*schema.MappingSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolved = make(map[string]*schema.MappingSource)
	var errs []error
	for _, ds := range r.sortedSources() {
		src, err := schema.Resolve(r.mappings, ds)
		if err != nil {
			r.logger.WithError(err).WithField("data_source", ds.Name).Error("mapping resolution failed")
			errs = append(errs, err)
			continue
		}
		r.resolved[ds.Name] = src
		r.logger.WithFields(logrus.Fields{
			"data_source": ds.Name,
			"types":       len(src.Types()),
		}).Info("mappings resolved")
	}
	return r.ordered(), errors.Join(errs...)
}

// Rescan discards resolved sources and resolves again.
func (r *Registry) Rescan() ([]*schema.MappingSource, error) {
	return r.Resolve()
}

// Source returns the resolved source of a data source.
func (r *Registry) Source(name string) (*schema.MappingSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.resolved[name]
	if !ok {
		return nil, fmt.Errorf("data source %s is not resolved", name)
	}
	return src, nil
}

// Sources returns every resolved source ordered by data source Order.
func (r *Registry) Sources() []*schema.MappingSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

// DataSources returns the registered descriptors ordered by Order.
func (r *Registry) DataSources() []*mapping.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedSources()
}

// Has reports whether a type is mapped in any data source.
func (r *Registry) Has(modelType reflect.Type) bool {
	for modelType.Kind() == reflect.Pointer {
		modelType = modelType.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mappings {
		if m.Type == modelType {
			return true
		}
	}
	return false
}

// Clear removes all registered data sources and mappings.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = make(map[string]*mapping.DataSource)
	r.mappings = nil
	r.resolved = make(map[string]*schema.MappingSource)
}

func (r *Registry) sortedSources() []*mapping.DataSource {
	out := make([]*mapping.DataSource, 0, len(r.sources))
	for _, ds := range r.sources {
		out = append(out, ds)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) ordered() []*schema.MappingSource {
	var out []*schema.MappingSource
	for _, ds := range r.sortedSources() {
		if src, ok := r.resolved[ds.Name]; ok {
			out = append(out, src)
		}
	}
	return out
}
