package session

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/marshallshelly/inflatable/pkg/builder"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
)

// step is a translated command waiting for its place in the batch of one
// data source.
type step struct {
	cmd  *builder.Command
	r    *route
	item *item
	seq  int
	// after lists steps that must run first regardless of identities.
	after []*step
}

// batch is the ordered work of one data source.
type batch struct {
	r    *route
	cmds []*builder.Command
}

// planner translates queued items into commands.
type planner struct {
	m      *Manager
	w      work
	steps  map[*route][]*step
	byItem map[*item][]*step
	seq    int
}

func (m *Manager) plan(w work) ([]batch, error) {
	p := &planner{
		m:      m,
		w:      w,
		steps:  make(map[*route][]*step),
		byItem: make(map[*item][]*step),
	}
	p.adoptMembers()

	// Saves are planned before deletes.
	for _, it := range w.queue {
		if !it.delete {
			if err := p.save(it); err != nil {
				return nil, err
			}
		}
	}
	for _, it := range w.queue {
		if it.delete {
			if err := p.delete(it); err != nil {
				return nil, err
			}
		}
	}
	p.link()

	var out []batch
	for _, r := range m.routes {
		steps := p.steps[r]
		if len(steps) == 0 {
			continue
		}
		ordered := p.order(steps)
		cmds := make([]*builder.Command, len(ordered))
		for i, s := range ordered {
			cmds[i] = s.cmd
		}
		out = append(out, batch{r: r, cmds: cmds})
	}
	return out, nil
}

// adoptMembers turns links to members that are saved anyway into owners of
// their own writes, so the back reference is written with the row.
func (p *planner) adoptMembers() {
	for _, it := range p.w.queue {
		if it.delete {
			continue
		}
		it.members = slices.DeleteFunc(it.members, func(mb member) bool {
			child, ok := p.w.saves[mb.entity]
			if ok {
				child.addOwner(&ownerKey{owner: it.entity, property: mb.property})
			}
			return ok
		})
	}
}

func (p *planner) add(r *route, it *item, cmd *builder.Command) {
	p.seq++
	s := &step{cmd: cmd, r: r, item: it, seq: p.seq}
	p.steps[r] = append(p.steps[r], s)
	p.byItem[it] = append(p.byItem[it], s)
}

func (p *planner) save(it *item) error {
	routes, err := p.m.writers(it.entity)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(it.entity)
	owned := false
	for _, r := range routes {
		t, _ := r.src.TypeOf(it.entity)
		isNew := t.IsNew(v)
		opt := builder.WriteOptions{Owners: backKeys(r.src, it.owners)}

		var cmd *builder.Command
		switch {
		case len(t.IDs) == 0:
			cmd, err = r.tr.Insert(it.entity, opt)
		case isNew:
			// The first source generates the identity, later ones store it.
			opt.ExplicitID = owned
			owned = true
			cmd, err = r.tr.Insert(it.entity, opt)
		case t.AutoIncrement() || attached(it.entity):
			opt.Changed = changed(it.entity)
			cmd, err = r.tr.Update(it.entity, opt)
		default:
			opt.Upsert = true
			cmd, err = r.tr.Insert(it.entity, opt)
		}
		if err != nil {
			return err
		}
		if cmd != nil {
			p.add(r, it, cmd)
		}

		for _, mb := range it.members {
			ct, ok := r.src.TypeOf(mb.entity)
			if !ok || !ct.Concrete {
				continue
			}
			if ct.IsNew(reflect.ValueOf(mb.entity)) {
				return fmt.Errorf("%w: %T in %s.%s is not stored and the collection does not cascade",
					runtime.ErrMissingIdentity, mb.entity, t.Name, mb.property)
			}
			cmd, err := r.tr.SetOwner(mb.entity, builder.BackKey{Owner: t.Index, Property: mb.property}, it.entity)
			if err != nil {
				return err
			}
			p.add(r, it, cmd)
		}

		if !isNew {
			for _, name := range it.cleared {
				if !hasProperty(t, name) {
					continue
				}
				cmd, err := r.tr.JoinDelete(it.entity, name, nil)
				if err != nil {
					return err
				}
				p.add(r, it, cmd)
			}
		}
		for _, l := range it.links {
			if !hasProperty(t, l.property) {
				continue
			}
			cmd, err := r.tr.JoinSave(it.entity, l.property, l.entity)
			if err != nil {
				return err
			}
			p.add(r, it, cmd)
		}
	}
	return nil
}

func (p *planner) delete(it *item) error {
	routes, err := p.m.writers(it.entity)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(it.entity)
	for _, r := range routes {
		t, _ := r.src.TypeOf(it.entity)
		if t.IsNew(v) {
			// Never stored.
			continue
		}
		for _, mb := range it.members {
			if _, gone := p.w.deletes[mb.entity]; gone {
				continue
			}
			ct, ok := r.src.TypeOf(mb.entity)
			if !ok || !ct.Concrete || ct.IsNew(reflect.ValueOf(mb.entity)) {
				continue
			}
			cmd, err := r.tr.SetOwner(mb.entity, builder.BackKey{Owner: t.Index, Property: mb.property}, nil)
			if err != nil {
				return err
			}
			p.add(r, it, cmd)
		}
		for _, name := range it.cleared {
			if !hasProperty(t, name) {
				continue
			}
			cmd, err := r.tr.JoinDelete(it.entity, name, nil)
			if err != nil {
				return err
			}
			p.add(r, it, cmd)
		}
		cmd, err := r.tr.Delete(it.entity)
		if err != nil {
			return err
		}
		p.add(r, it, cmd)
	}
	return nil
}

// link turns item dependencies into step dependencies within each source.
func (p *planner) link() {
	for _, steps := range p.steps {
		for _, s := range steps {
			for _, dep := range s.item.waitFor {
				for _, d := range p.byItem[dep] {
					if d.r == s.r {
						s.after = append(s.after, d)
					}
				}
			}
		}
	}
}

// backKeys maps collection owners to the back reference keys of one source.
func backKeys(src *schema.MappingSource, owners []ownerKey) map[builder.BackKey]any {
	if len(owners) == 0 {
		return nil
	}
	out := make(map[builder.BackKey]any, len(owners))
	for _, o := range owners {
		t, ok := src.TypeOf(o.owner)
		if !ok {
			continue
		}
		out[builder.BackKey{Owner: t.Index, Property: o.property}] = o.owner
	}
	return out
}

func hasProperty(t *schema.Type, name string) bool {
	p := t.Property(name)
	return p != nil && p.Relationship != nil
}
