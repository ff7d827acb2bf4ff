package cache

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
)

type entry struct {
	text     string
	payload  []byte
	types    []string
	created  time.Time
	accessed time.Time
}

// Cache is the in-process result store. All state is guarded by one mutex.
type Cache struct {
	mu       sync.Mutex
	opts     Options
	entries  *lru.Cache[string, *entry]
	byType   map[string]map[string]struct{}
	removing bool

	now     func() time.Time
	log     logrus.FieldLogger
	metrics *Metrics

	jmu  sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Cache) { c.log = log }
}

// WithScope sets the metrics scope.
func WithScope(scope tally.Scope) Option {
	return func(c *Cache) { c.metrics = NewMetrics(scope) }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts its janitor. Close stops it.
func New(opts Options, options ...Option) (*Cache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		opts:   opts,
		byType: make(map[string]map[string]struct{}),
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
	for _, o := range options {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(tally.NoopScope)
	}
	entries, err := lru.NewWithEvict(opts.MaxCacheSize, c.evicted)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.startJanitor(opts.ScanFrequency)
	return c, nil
}

// evicted runs under c.mu whenever the LRU drops an entry.
func (c *Cache) evicted(id string, e *entry) {
	c.unindex(id, e)
	if !c.removing {
		c.metrics.evictions.Inc(1)
	}
}

func (c *Cache) unindex(id string, e *entry) {
	for _, t := range e.types {
		if ids, ok := c.byType[t]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(c.byType, t)
			}
		}
	}
}

func (c *Cache) remove(id string) {
	c.removing = true
	c.entries.Remove(id)
	c.removing = false
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	if c.opts.AbsoluteExpiration > 0 && now.Sub(e.created) >= c.opts.AbsoluteExpiration {
		return true
	}
	return c.opts.SlidingExpiration > 0 && now.Sub(e.accessed) >= c.opts.SlidingExpiration
}

// Get returns a copy of the payload stored for key.
func (c *Cache) Get(_ context.Context, key Key) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key.ID)
	if !ok {
		c.metrics.misses.Inc(1)
		return nil, false, nil
	}
	now := c.now()
	if c.expired(e, now) {
		c.remove(key.ID)
		c.metrics.expirations.Inc(1)
		c.metrics.misses.Inc(1)
		return nil, false, nil
	}
	if e.text != key.Text {
		c.remove(key.ID)
		c.metrics.inconsistencies.Inc(1)
		c.metrics.misses.Inc(1)
		c.log.WithFields(logrus.Fields{
			"key":    key.ID,
			"stored": e.text,
			"wanted": key.Text,
		}).Warn("cache entry does not match its key")
		return nil, false, nil
	}
	e.accessed = now
	c.metrics.hits.Inc(1)
	return bytes.Clone(e.payload), true, nil
}

// Set stores a copy of payload.
func (c *Cache) Set(_ context.Context, key Key, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old, ok := c.entries.Peek(key.ID); ok {
		c.unindex(key.ID, old)
	}
	e := &entry{
		text:     key.Text,
		payload:  bytes.Clone(payload),
		types:    slices.Clone(key.Types),
		created:  now,
		accessed: now,
	}
	c.entries.Add(key.ID, e)
	for _, t := range e.types {
		ids, ok := c.byType[t]
		if !ok {
			ids = make(map[string]struct{})
			c.byType[t] = ids
		}
		ids[key.ID] = struct{}{}
	}
	c.metrics.size.Update(float64(c.entries.Len()))
	return nil
}

// Invalidate drops every entry depending on one of the types.
func (c *Cache) Invalidate(_ context.Context, types ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range types {
		for id := range c.byType[t] {
			c.remove(id)
			n++
		}
	}
	if n > 0 {
		c.metrics.invalidations.Inc(int64(n))
		c.log.WithFields(logrus.Fields{"types": types, "entries": n}).Debug("cache entries invalidated")
	}
	c.metrics.size.Update(float64(c.entries.Len()))
	return nil
}

// Sweep drops expired entries and reports how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, id := range c.entries.Keys() {
		if e, ok := c.entries.Peek(id); ok && c.expired(e, now) {
			c.remove(id)
			n++
		}
	}
	if n > 0 {
		c.metrics.expirations.Inc(int64(n))
	}
	c.metrics.size.Update(float64(c.entries.Len()))
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removing = true
	c.entries.Purge()
	c.removing = false
	c.byType = make(map[string]map[string]struct{})
	c.metrics.size.Update(0)
}

// Options returns the active options.
func (c *Cache) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Reconfigure applies new options. Shrinking the capacity evicts the least
// recently used entries; a new scan frequency restarts the janitor.
func (c *Cache) Reconfigure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	old := c.opts
	c.opts = opts
	c.entries.Resize(opts.MaxCacheSize)
	c.metrics.size.Update(float64(c.entries.Len()))
	c.mu.Unlock()

	if opts.ScanFrequency != old.ScanFrequency {
		c.stopJanitor()
		c.startJanitor(opts.ScanFrequency)
	}
	c.log.WithFields(logrus.Fields{
		"scan_frequency":      opts.ScanFrequency,
		"max_cache_size":      opts.MaxCacheSize,
		"absolute_expiration": opts.AbsoluteExpiration,
		"sliding_expiration":  opts.SlidingExpiration,
	}).Info("cache reconfigured")
	return nil
}

// Close stops the janitor.
func (c *Cache) Close() error {
	c.stopJanitor()
	return nil
}

func (c *Cache) startJanitor(every time.Duration) {
	c.jmu.Lock()
	defer c.jmu.Unlock()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.WithField("entries", n).Debug("expired cache entries purged")
				}
			case <-stop:
				return
			}
		}
	}(c.stop, c.done)
}

func (c *Cache) stopJanitor() {
	c.jmu.Lock()
	defer c.jmu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
}
