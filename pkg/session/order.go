package session

import (
	"slices"

	"github.com/marshallshelly/inflatable/pkg/builder"
)

// order sorts the steps of one data source so that every command runs after
// the inserts of the entities it references, and after the steps it waits
// for. Ties keep queue order. A cycle of inserts is broken by writing one
// of its references as NULL and restoring it with an update at the end;
// other cycles fall back to queue order.
func (p *planner) order(steps []*step) []*step {
	remaining := slices.Clone(steps)
	out := make([]*step, 0, len(steps))
	for len(remaining) > 0 {
		in, next := dependencies(remaining)
		var ready []*step
		for _, s := range remaining {
			if in[s] == 0 {
				ready = append(ready, s)
			}
		}
		done := make(map[*step]bool)
		for len(ready) > 0 {
			s := ready[0]
			ready = ready[1:]
			out = append(out, s)
			done[s] = true
			for _, n := range next[s] {
				in[n]--
				if in[n] == 0 {
					i, _ := slices.BinarySearchFunc(ready, n, bySeq)
					ready = slices.Insert(ready, i, n)
				}
			}
		}
		remaining = slices.DeleteFunc(remaining, func(s *step) bool { return done[s] })
		if len(remaining) == 0 {
			break
		}
		if fix := p.breakCycle(remaining); fix != nil {
			remaining = append(remaining, fix)
			continue
		}
		out = append(out, remaining[0])
		remaining = remaining[1:]
	}
	return out
}

func bySeq(a, b *step) int {
	return a.seq - b.seq
}

// dependencies returns the in-degree and successors of each step.
func dependencies(steps []*step) (map[*step]int, map[*step][]*step) {
	inserts := insertsOf(steps)
	member := make(map[*step]bool, len(steps))
	for _, s := range steps {
		member[s] = true
	}
	in := make(map[*step]int, len(steps))
	next := make(map[*step][]*step)
	seen := make(map[[2]*step]bool)
	edge := func(from, to *step) {
		if seen[[2]*step{from, to}] {
			return
		}
		seen[[2]*step{from, to}] = true
		next[from] = append(next[from], to)
		in[to]++
	}
	for _, s := range steps {
		for _, ref := range s.cmd.References() {
			ins, ok := inserts[ref]
			if !ok || (ins == s && !selfPending(s.cmd)) {
				continue
			}
			edge(ins, s)
		}
		for _, a := range s.after {
			if member[a] {
				edge(a, s)
			}
		}
	}
	return in, next
}

// insertsOf indexes the first insert of each entity.
func insertsOf(steps []*step) map[any]*step {
	out := make(map[any]*step)
	for _, s := range steps {
		if s.cmd.Kind != builder.Insert || s.cmd.Entity == nil {
			continue
		}
		if _, ok := out[s.cmd.Entity]; !ok {
			out[s.cmd.Entity] = s
		}
	}
	return out
}

// selfPending reports whether an insert refers to its own generated
// identity outside its key, as a self-referencing row does.
func selfPending(c *builder.Command) bool {
	if c.Kind != builder.Insert || c.Type == nil {
		return false
	}
	keys := c.Type.IDColumns()
	for _, row := range c.Rows {
		for j, p := range row {
			if p.Ref == c.Entity && p.Pending() && !slices.Contains(keys, c.Columns[j]) {
				return true
			}
		}
	}
	return false
}

// breakCycle defers the references of the first insert that points at a
// row not inserted yet, and returns the update restoring them.
func (p *planner) breakCycle(remaining []*step) *step {
	inserts := insertsOf(remaining)
	pending := func(e any) bool {
		_, ok := inserts[e]
		return ok
	}
	for _, s := range remaining {
		if s.cmd.Kind != builder.Insert {
			continue
		}
		if fix := s.cmd.Defer(pending); fix != nil {
			p.seq++
			return &step{cmd: fix, r: s.r, item: s.item, seq: p.seq}
		}
	}
	return nil
}
