// Package cache stores encoded query results keyed by their canonical text.
//
// Entries expire after an absolute lifetime or after a period without
// access, whichever comes first, and are dropped when an entity of one of
// their types is written.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const keyPrefix = "inflatable"

// Options controls expiry and capacity.
type Options struct {
	// ScanFrequency is the interval of the expired entry sweep.
	ScanFrequency time.Duration `yaml:"scan_frequency"`
	// MaxCacheSize is the maximum number of entries.
	MaxCacheSize int `yaml:"max_cache_size"`
	// AbsoluteExpiration bounds the lifetime of an entry.
	AbsoluteExpiration time.Duration `yaml:"absolute_expiration"`
	// SlidingExpiration expires entries not read for this long.
	SlidingExpiration time.Duration `yaml:"sliding_expiration"`
}

// DefaultOptions returns the default cache options.
func DefaultOptions() Options {
	return Options{
		ScanFrequency:      time.Minute,
		MaxCacheSize:       1024,
		AbsoluteExpiration: time.Hour,
		SlidingExpiration:  10 * time.Minute,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if o.ScanFrequency <= 0 {
		errs = append(errs, fmt.Errorf("scan frequency must be positive, got %s", o.ScanFrequency))
	}
	if o.MaxCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("max cache size must be positive, got %d", o.MaxCacheSize))
	}
	if o.AbsoluteExpiration < 0 || o.SlidingExpiration < 0 {
		errs = append(errs, errors.New("expirations cannot be negative"))
	}
	return errors.Join(errs...)
}

// ttl returns the lifetime of a fresh entry: the smaller positive window.
func (o Options) ttl() time.Duration {
	switch {
	case o.AbsoluteExpiration == 0:
		return o.SlidingExpiration
	case o.SlidingExpiration == 0:
		return o.AbsoluteExpiration
	}
	return min(o.AbsoluteExpiration, o.SlidingExpiration)
}

// Key identifies a cached result. ID is derived from the canonical Text,
// which is kept to detect hash collisions. Types lists the entity types
// whose writes invalidate the entry.
type Key struct {
	ID    string
	Text  string
	Types []string
}

// NewKey returns the key of a canonical query text.
func NewKey(target, text string, types []string) Key {
	return Key{
		ID:    fmt.Sprintf("%s:%s:%016x", keyPrefix, target, xxhash.Sum64String(text)),
		Text:  text,
		Types: types,
	}
}

// Store is a result cache backend.
type Store interface {
	// Get returns the payload stored for key. A miss is not an error.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set stores a payload.
	Set(ctx context.Context, key Key, payload []byte) error
	// Invalidate drops every entry depending on one of the types.
	Invalidate(ctx context.Context, types ...string) error
	// Close releases the store.
	Close() error
}
