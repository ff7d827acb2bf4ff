// Package track is the instrumentation contract between entities and sessions.
//
// An entity opts in by embedding State and calling NotifyChanged from its
// setters:
//
//	type Item struct {
//	    track.State
//	    ID   int64
//	    Name string
//	}
//
//	func (i *Item) SetName(name string) {
//	    i.Name = name
//	    i.NotifyChanged("Name")
//	}
//
// Sessions then write only changed properties, and relationship properties
// of loaded entities are filled on first EnsureLoaded.
package track

import (
	"context"
	"sort"
	"sync"
)

// Loader fills a relationship property of a loaded entity.
type Loader interface {
	Load(ctx context.Context, entity any, property string) error
}

// Tracked is implemented by entities embedding State.
type Tracked interface {
	TrackingState() *State
}

// Notifier is the change notification feed.
type Notifier interface {
	NotifyChanged(property string)
	ChangedProperties() []string
	ResetChanges()
}

// State records changes and lazy-load bookkeeping for one entity.
// The zero value is ready to use.
type State struct {
	mu       sync.Mutex
	changed  map[string]bool
	loaded   map[string]bool
	keys     map[string][]any
	loader   Loader
	attached bool
}

// TrackingState implements Tracked.
func (s *State) TrackingState() *State {
	return s
}

// NotifyChanged records that a property was modified.
func (s *State) NotifyChanged(property string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changed == nil {
		s.changed = make(map[string]bool)
	}
	s.changed[property] = true
}

// ChangedProperties returns the modified properties in name order.
func (s *State) ChangedProperties() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.changed))
	for p := range s.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsChanged reports whether a property was modified.
func (s *State) IsChanged(property string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed[property]
}

// ResetChanges forgets recorded modifications.
func (s *State) ResetChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = nil
}

// Attach marks the entity as persisted and sets the loader used for lazy loading.
func (s *State) Attach(loader Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = loader
	s.attached = true
}

// Attached reports whether the entity was loaded from or saved to a data source.
func (s *State) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// SetForeignKey records the key of a single reference read with the entity.
func (s *State) SetForeignKey(property string, key []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = make(map[string][]any)
	}
	s.keys[property] = key
}

// ForeignKey returns the key recorded for a single reference.
func (s *State) ForeignKey(property string) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[property]
	return k, ok
}

// MarkLoaded records that a relationship property holds its stored value.
func (s *State) MarkLoaded(property string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		s.loaded = make(map[string]bool)
	}
	s.loaded[property] = true
}

// IsLoaded reports whether a relationship property was loaded.
func (s *State) IsLoaded(property string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[property]
}

// EnsureLoaded loads a relationship property on first access. Entities that
// are not attached to a loader are left untouched.
func (s *State) EnsureLoaded(ctx context.Context, entity any, property string) error {
	s.mu.Lock()
	loader, done := s.loader, s.loaded[property]
	s.mu.Unlock()
	if done || loader == nil {
		return nil
	}
	if err := loader.Load(ctx, entity, property); err != nil {
		return err
	}
	s.MarkLoaded(property)
	return nil
}

// Of returns the state of a tracked entity, or nil.
func Of(entity any) *State {
	if t, ok := entity.(Tracked); ok {
		return t.TrackingState()
	}
	return nil
}
