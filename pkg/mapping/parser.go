package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

const (
	// StructTagKey is the key used in struct tags (e.g., `po:"..."`).
	StructTagKey = "po"
)

// TableNamer lets a model name its own table.
type TableNamer interface {
	TableName() string
}

// Parser builds mappings from struct tags.
//
// Tag format: `po:"column,option,option(value)"`. The column may be left
// empty to use the derived name. Options:
//
//	id, autoIncrement          identity
//	maxLength(n), nullable     scalar column shape
//	map, manyToOne, manyToMany relationship kind (default: reference)
//	cascade, cascade(false)    relationship ownership
//	linkTable(name)            ManyToMany link table
//	foreignKey(column)         single-column foreign key
//
// A tag of "-" skips the field. Embedded structs are not flattened; map them
// on their own to have their properties inherited.
type Parser struct {
	mu    sync.Mutex
	cache map[string]*Mapping
}

// NewParser creates a new Parser instance.
func NewParser() *Parser {
	return &Parser{cache: make(map[string]*Mapping)}
}

// Parse extracts the mapping of a struct model for a data source.
func (p *Parser) Parse(model any, dataSource string, opts ...MappingOption) (*Mapping, error) {
	modelType := reflect.TypeOf(model)
	if modelType == nil {
		return nil, fmt.Errorf("model must be a struct, got nil")
	}
	for modelType.Kind() == reflect.Pointer {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", modelType.Kind())
	}

	cacheKey := dataSource + "\x00" + modelType.PkgPath() + "." + modelType.Name()
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache[cacheKey]; ok && len(opts) == 0 {
		return cached, nil
	}

	m := &Mapping{Type: modelType, DataSource: dataSource}
	if namer, ok := reflect.New(modelType).Interface().(TableNamer); ok {
		m.Table = namer.TableName()
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		if !field.IsExported() || field.Anonymous {
			continue
		}
		tagValue, ok := field.Tag.Lookup(StructTagKey)
		if !ok || tagValue == "-" {
			continue
		}
		tagOpts, err := parseTag(tagValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tag for field %s: %w", field.Name, err)
		}
		if err := addField(m, field, tagOpts); err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
	}

	if err := validate(m); err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		p.cache[cacheKey] = m
	}
	return m, nil
}

func addField(m *Mapping, field reflect.StructField, opts *TagOptions) error {
	if opts.Has("id") {
		m.IDs = append(m.IDs, IDProperty{
			Name:          field.Name,
			Type:          field.Type,
			Column:        opts.Name,
			AutoIncrement: opts.Has("autoIncrement"),
			Ordinal:       len(m.IDs),
		})
		return nil
	}

	prop := Property{Name: field.Name, Kind: Reference, Column: opts.Name}
	switch {
	case opts.Has("map"):
		prop.Kind = Map
		prop.Cascade = true
	case opts.Has("manyToOne"):
		prop.Kind = ManyToOne
	case opts.Has("manyToMany"):
		prop.Kind = ManyToMany
	}
	if opts.Has("cascade") {
		on, err := opts.Bool("cascade")
		if err != nil {
			return err
		}
		prop.Cascade = on
	}
	if v := opts.Get("maxLength"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid maxLength %q: %w", v, err)
		}
		prop.MaxLength = n
	}
	prop.Nullable = opts.Has("nullable")
	prop.LinkTable = opts.Get("linkTable")
	prop.ForeignKey = opts.Get("foreignKey")
	m.Properties = append(m.Properties, prop)
	return nil
}

// TagOptions represents parsed tag options.
type TagOptions struct {
	Name    string            // Column name (first element)
	Options map[string]string // Other options
}

// parseTag parses a struct tag value into TagOptions.
// Format: "column_name,option1,option2(value),option3"
func parseTag(tag string) (*TagOptions, error) {
	parts := splitTag(tag)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty tag value")
	}
	opts := &TagOptions{
		Name:    parts[0],
		Options: make(map[string]string),
	}
	for _, opt := range parts[1:] {
		if opt == "" {
			continue
		}
		if idx := strings.Index(opt, "("); idx != -1 {
			if !strings.HasSuffix(opt, ")") {
				return nil, fmt.Errorf("invalid option format: %s", opt)
			}
			opts.Options[opt[:idx]] = opt[idx+1 : len(opt)-1]
			continue
		}
		opts.Options[opt] = ""
	}
	return opts, nil
}

// Has checks if an option exists.
func (t *TagOptions) Has(key string) bool {
	_, ok := t.Options[key]
	return ok
}

// Get returns the value of an option.
func (t *TagOptions) Get(key string) string {
	return t.Options[key]
}

// Bool reads a flag option; a bare flag is true.
func (t *TagOptions) Bool(key string) (bool, error) {
	v, ok := t.Options[key]
	if !ok {
		return false, nil
	}
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

// splitTag splits a tag value by commas, handling nested parentheses.
func splitTag(tag string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	for _, ch := range tag {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(current.String()))
				current.Reset()
				continue
			}
		}
		current.WriteRune(ch)
	}
	parts = append(parts, strings.TrimSpace(current.String()))
	return parts
}
