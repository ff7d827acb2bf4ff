package session

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/marshallshelly/inflatable/pkg/track"
	"github.com/sirupsen/logrus"
)

// State is the phase of a session.
type State int

const (
	// Idle sessions have nothing queued.
	Idle State = iota
	// Accumulating sessions hold queued saves and deletes.
	Accumulating
	// Executing sessions are running their queue.
	Executing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Executing:
		return "executing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session accumulates saves and deletes and runs them as one unit of work.
// A session is not meant to be shared; calls made while it executes fail
// with runtime.ErrSessionBusy. It can be reused after Execute returns.
type Session struct {
	m   *Manager
	id  string
	log logrus.FieldLogger

	mu    sync.Mutex
	state State
	work
}

// work is the accumulated queue. Entities are keyed by pointer.
type work struct {
	queue   []*item
	saves   map[any]*item
	deletes map[any]*item
}

func newWork() work {
	return work{saves: make(map[any]*item), deletes: make(map[any]*item)}
}

// snapshot returns a function restoring the queue to its current content,
// including what later traversals record on items already queued.
func (w *work) snapshot() func() {
	n := len(w.queue)
	prev := make([]item, n)
	for i, it := range w.queue {
		prev[i] = *it
	}
	return func() {
		for _, it := range w.queue[n:] {
			if it.delete {
				delete(w.deletes, it.entity)
			} else {
				delete(w.saves, it.entity)
			}
		}
		for i, it := range w.queue[:n] {
			*it = prev[i]
		}
		w.queue = w.queue[:n]
	}
}

type ownerKey struct {
	owner    any
	property string
}

type member struct {
	property string
	entity   any
}

// item is one queued entity with what the traversal learned about it.
type item struct {
	entity any
	delete bool
	// owners are the collections the entity is saved as a member of.
	owners []ownerKey
	// members are the entities of collections that do not cascade: they are
	// linked to or unlinked from the entity, never written otherwise.
	members []member
	// links are the targets of many-to-many properties, whose link rows
	// listed in cleared are rewritten.
	links   []member
	cleared []string
	// loaded lists the relationship properties holding their stored value
	// once the entity is written.
	loaded []string
	// waitFor lists the items whose commands run first.
	waitFor []*item
}

func (it *item) addOwner(k *ownerKey) {
	if k != nil && !slices.Contains(it.owners, *k) {
		it.owners = append(it.owners, *k)
	}
}

func (it *item) after(dep *item) {
	if dep != it && !slices.Contains(it.waitFor, dep) {
		it.waitFor = append(it.waitFor, dep)
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of queued entities.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear drops everything queued.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Executing {
		return runtime.ErrSessionBusy
	}
	s.work = newWork()
	s.state = Idle
	return nil
}

// Save queues entities and, following cascading relationships, the
// entities they own. Arguments are pointers to mapped structs or slices of
// them. Each entity is queued once however often it is reached.
func (s *Session) Save(objs ...any) error {
	return s.accumulate(objs, func(e any) error { return s.queueSave(e, nil) })
}

// Delete queues entities for deletion together with the entities their
// cascading relationships own. Members of relationships that do not cascade
// are unlinked instead.
func (s *Session) Delete(objs ...any) error {
	return s.accumulate(objs, s.queueDelete)
}

func (s *Session) accumulate(objs []any, queue func(any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Executing {
		return runtime.ErrSessionBusy
	}
	entities, err := flatten(objs)
	if err != nil {
		return err
	}
	undo := s.work.snapshot()
	for _, e := range entities {
		if err := queue(e); err != nil {
			undo()
			return err
		}
	}
	if len(s.queue) > 0 {
		s.state = Accumulating
	}
	return nil
}

func (s *Session) queueSave(e any, owner *ownerKey) error {
	if it, ok := s.saves[e]; ok {
		it.addOwner(owner)
		return nil
	}
	if _, err := s.m.writers(e); err != nil {
		return err
	}
	it := &item{entity: e}
	it.addOwner(owner)
	s.saves[e] = it
	s.queue = append(s.queue, it)

	for _, p := range s.m.relationships(e) {
		if !loaded(e, p) {
			continue
		}
		rel := p.Relationship
		switch {
		case !rel.Collection:
			ref := reference(e, p)
			if ref == nil {
				continue
			}
			it.loaded = append(it.loaded, p.Name)
			if rel.Cascade {
				if err := s.queueSave(ref, nil); err != nil {
					return err
				}
			}
		case rel.Kind == mapping.ManyToMany:
			it.loaded = append(it.loaded, p.Name)
			it.cleared = append(it.cleared, p.Name)
			for _, target := range members(e, p) {
				it.links = append(it.links, member{property: p.Name, entity: target})
				if rel.Cascade {
					if err := s.queueSave(target, nil); err != nil {
						return err
					}
				}
			}
		default:
			it.loaded = append(it.loaded, p.Name)
			for _, child := range members(e, p) {
				if !rel.Cascade {
					it.members = append(it.members, member{property: p.Name, entity: child})
					continue
				}
				if err := s.queueSave(child, &ownerKey{owner: e, property: p.Name}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Session) queueDelete(e any) error {
	if _, ok := s.deletes[e]; ok {
		return nil
	}
	if _, err := s.m.writers(e); err != nil {
		return err
	}
	it := &item{entity: e, delete: true}
	s.deletes[e] = it
	s.queue = append(s.queue, it)

	for _, p := range s.m.relationships(e) {
		if !loaded(e, p) {
			continue
		}
		rel := p.Relationship
		switch {
		case !rel.Collection:
			ref := reference(e, p)
			if ref == nil || !rel.Cascade {
				continue
			}
			if err := s.queueDelete(ref); err != nil {
				return err
			}
			// The row holding the foreign key goes first.
			s.deletes[ref].after(it)
		case rel.Kind == mapping.ManyToMany:
			it.cleared = append(it.cleared, p.Name)
			if !rel.Cascade {
				continue
			}
			for _, target := range members(e, p) {
				if err := s.queueDelete(target); err != nil {
					return err
				}
				s.deletes[target].after(it)
			}
		default:
			for _, child := range members(e, p) {
				if !rel.Cascade {
					it.members = append(it.members, member{property: p.Name, entity: child})
					continue
				}
				if err := s.queueDelete(child); err != nil {
					return err
				}
				it.after(s.deletes[child])
			}
		}
	}
	return nil
}

// flatten expands slices and checks that every entity is a struct pointer.
func flatten(objs []any) ([]any, error) {
	var out []any
	for _, o := range objs {
		v := reflect.ValueOf(o)
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			for i := range v.Len() {
				e := entityOf(v.Index(i))
				if e == nil {
					return nil, fmt.Errorf("%w: element %d of %T is not a struct pointer", runtime.ErrInvalidModel, i, o)
				}
				out = append(out, e)
			}
			continue
		}
		if v.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("%w: %T must be passed by pointer", runtime.ErrInvalidModel, o)
		}
		e := entityOf(v)
		if e == nil {
			return nil, fmt.Errorf("%w: %T is not a struct pointer", runtime.ErrInvalidModel, o)
		}
		out = append(out, e)
	}
	return out, nil
}

// entityOf returns the entity pointer held by v. Addressable struct values,
// such as slice elements, are referenced in place.
func entityOf(v reflect.Value) any {
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		if v.CanAddr() {
			return v.Addr().Interface()
		}
	}
	return nil
}

// reference returns the entity held by a single relationship property.
func reference(e any, p *schema.Property) any {
	f, ok := schema.Field(schema.Indirect(reflect.ValueOf(e)), p.Index, false)
	if !ok {
		return nil
	}
	return entityOf(f)
}

// members returns the entities held by a collection property.
func members(e any, p *schema.Property) []any {
	f, ok := schema.Field(schema.Indirect(reflect.ValueOf(e)), p.Index, false)
	if !ok || f.Kind() != reflect.Slice {
		return nil
	}
	var out []any
	for i := range f.Len() {
		if m := entityOf(f.Index(i)); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// loaded reports whether a relationship property holds the stored state.
// Collections of stored entities that were never loaded are left alone.
func loaded(e any, p *schema.Property) bool {
	st := track.Of(e)
	if st == nil || !st.Attached() || !p.Relationship.Collection {
		return true
	}
	return st.IsLoaded(p.Name)
}

// changed returns the properties to update: nil for entities without
// change tracking, which are written in full.
func changed(e any) []string {
	st := track.Of(e)
	if st == nil || !st.Attached() {
		return nil
	}
	return st.ChangedProperties()
}

func attached(e any) bool {
	st := track.Of(e)
	return st != nil && st.Attached()
}

// ExecuteAsync runs Execute on its own goroutine. The channel receives the
// result and is closed.
func (s *Session) ExecuteAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.Execute(ctx)
	}()
	return done
}
