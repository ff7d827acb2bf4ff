// Package config loads the engine configuration from YAML files.
//
// A configuration names the data sources, the result cache options and an
// optional Redis server sharing cached results between processes:
//
//	log_level: info
//	options:
//	  scan_frequency: 1m
//	  max_cache_size: 1024
//	  absolute_expiration: 1h
//	  sliding_expiration: 10m
//	data_sources:
//	  - name: main
//	    provider: postgres
//	    connection_string: postgres://localhost/zoo
//	    schema_generation: UpdateSchema
//
// Several files may be given; later files override the fields they set.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/registry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the root of a configuration file.
type Config struct {
	LogLevel    string             `yaml:"log_level"`
	Options     cache.Options      `yaml:"options"`
	Redis       *cache.RedisConfig `yaml:"redis"`
	DataSources []DataSource       `yaml:"data_sources"`
}

// DataSource is the file form of a mapping.DataSource. Readable and
// Writable default to true when omitted.
type DataSource struct {
	Name             string `yaml:"name"`
	Order            int    `yaml:"order"`
	Readable         *bool  `yaml:"readable"`
	Writable         *bool  `yaml:"writable"`
	SchemaGeneration string `yaml:"schema_generation"`
	Audit            bool   `yaml:"audit"`
	Provider         string `yaml:"provider"`
	ConnectionString string `yaml:"connection_string"`
	TablePrefix      string `yaml:"table_prefix"`
	TableSuffix      string `yaml:"table_suffix"`
}

// ValidationError is returned when a parsed configuration is invalid.
type ValidationError struct {
	Err error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// Default returns a configuration without data sources.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Options:  cache.DefaultOptions(),
	}
}

// Load parses the given files over the defaults and validates the result.
func Load(files ...string) (*Config, error) {
	cfg := Default()
	if err := Parse(cfg, files...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals the files into cfg in order, so values from later files
// take precedence, then validates it.
func Parse(cfg *Config, files ...string) error {
	if len(files) == 0 {
		return errors.New("no files to load")
	}
	for _, fname := range files {
		data, err := os.ReadFile(fname)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", fname, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return ValidationError{Err: err}
	}
	return nil
}

// Validate checks the log level, the cache options and every data source.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Options.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("options: %w", err))
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis: addr is required"))
	}
	seen := make(map[string]bool)
	for i, ds := range c.DataSources {
		if ds.Name == "" {
			errs = append(errs, fmt.Errorf("data_sources[%d]: name is required", i))
			continue
		}
		if seen[ds.Name] {
			errs = append(errs, fmt.Errorf("data source %s: declared twice", ds.Name))
		}
		seen[ds.Name] = true
		if _, err := ds.Descriptor(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Level parses the log level. An empty level is info.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(c.LogLevel)
}

// Descriptor converts the entry into a data source descriptor.
func (d DataSource) Descriptor() (*mapping.DataSource, error) {
	policy, err := mapping.ParseSchemaGeneration(d.SchemaGeneration)
	if err != nil {
		return nil, fmt.Errorf("data source %s: %w", d.Name, err)
	}
	if d.Provider != "" {
		if _, err := dialect.For(d.Provider); err != nil {
			return nil, fmt.Errorf("data source %s: %w", d.Name, err)
		}
	}
	ds := mapping.NewDataSource(d.Name, d.Order)
	if d.Readable != nil {
		ds.Readable = *d.Readable
	}
	if d.Writable != nil {
		ds.Writable = *d.Writable
	}
	ds.SchemaGeneration = policy
	ds.Audit = d.Audit
	ds.Provider = d.Provider
	ds.ConnectionString = d.ConnectionString
	ds.TablePrefix = d.TablePrefix
	ds.TableSuffix = d.TableSuffix
	return ds, nil
}

// Descriptors converts every data source entry.
func (c *Config) Descriptors() ([]*mapping.DataSource, error) {
	out := make([]*mapping.DataSource, 0, len(c.DataSources))
	for _, d := range c.DataSources {
		ds, err := d.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// Register adds the configured data sources to a registry.
func (c *Config) Register(r *registry.Registry) error {
	sources, err := c.Descriptors()
	if err != nil {
		return err
	}
	for _, ds := range sources {
		if err := r.AddDataSource(ds); err != nil {
			return err
		}
	}
	return nil
}
