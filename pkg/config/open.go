package config

import (
	"context"
	"fmt"

	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
)

// Logger returns a logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if level, err := c.Level(); err == nil {
		log.SetLevel(level)
	}
	return log
}

// OpenDrivers opens a driver for every data source that names a provider.
// On failure the drivers already opened are closed.
func (c *Config) OpenDrivers(ctx context.Context) (map[string]runtime.Driver, error) {
	drivers := make(map[string]runtime.Driver, len(c.DataSources))
	for _, ds := range c.DataSources {
		if ds.Provider == "" {
			continue
		}
		d, err := runtime.Open(ctx, ds.Provider, ds.ConnectionString)
		if err != nil {
			CloseDrivers(drivers)
			return nil, fmt.Errorf("data source %s: %w", ds.Name, err)
		}
		drivers[ds.Name] = d
	}
	return drivers, nil
}

// CloseDrivers closes every driver, ignoring errors.
func CloseDrivers(drivers map[string]runtime.Driver) {
	for _, d := range drivers {
		_ = d.Close()
	}
}

// OpenCache creates the result cache: a Redis store when a server is
// configured, the in-process cache otherwise.
func (c *Config) OpenCache(ctx context.Context, log logrus.FieldLogger, scope tally.Scope) (cache.Store, error) {
	if scope == nil {
		scope = tally.NoopScope
	}
	if c.Redis != nil {
		return cache.DialRedis(ctx, *c.Redis, c.Options, log)
	}
	return cache.New(c.Options, cache.WithLogger(log), cache.WithScope(scope))
}
