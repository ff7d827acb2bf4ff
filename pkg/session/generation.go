package session

import "sync"

// generations counts the invalidations of each entity type. A result read
// while its types were invalidated must not be stored once the write is done.
type generations struct {
	mu sync.Mutex
	n  map[string]uint64
}

func (g *generations) bump(types []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n == nil {
		g.n = make(map[string]uint64)
	}
	for _, t := range types {
		g.n[t]++
	}
}

// of returns a value that changes whenever one of the types is invalidated.
// Counters only grow, so their sum does.
func (g *generations) of(types []string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sum uint64
	for _, t := range types {
		sum += g.n[t]
	}
	return sum
}
