// Package graph holds the mix topology: an arena of track and bus nodes
// connected by forward edges (source -> destination). Every source feeds at
// most one destination and the structure is kept acyclic, rooted at a
// single master bus. Reverse lookups are derived on demand.
package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrExists      = errors.New("node already exists")
	ErrCycle       = errors.New("edge would create a cycle")
	ErrInvalidEdge = errors.New("invalid edge")
	ErrMaster      = errors.New("master bus cannot be modified")
)

// Kind distinguishes tracks (leaf sources) from buses (summing points).
type Kind int

const (
	KindTrack Kind = iota
	KindBus
)

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindBus:
		return "bus"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type slot struct {
	id    string
	kind  Kind
	dest  int // arena index of the destination bus, -1 when unrouted
	alive bool
}

// Graph is not safe for concurrent use; the engine confines it to the
// control goroutine.
type Graph struct {
	nodes  []slot
	index  map[string]int
	free   []int
	master int
}

// New creates a graph holding only the master bus.
func New(masterID string) *Graph {
	g := &Graph{index: make(map[string]int)}
	g.nodes = append(g.nodes, slot{id: masterID, kind: KindBus, dest: -1, alive: true})
	g.index[masterID] = 0
	g.master = 0
	return g
}

// Master returns the master bus id.
func (g *Graph) Master() string { return g.nodes[g.master].id }

// Len returns the number of live nodes including master.
func (g *Graph) Len() int { return len(g.index) }

// Add inserts an unrouted node.
func (g *Graph) Add(id string, kind Kind) error {
	if _, ok := g.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	s := slot{id: id, kind: kind, dest: -1, alive: true}
	var idx int
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
		g.nodes[idx] = s
	} else {
		idx = len(g.nodes)
		g.nodes = append(g.nodes, s)
	}
	g.index[id] = idx
	return nil
}

// Remove deletes a node, prunes its outgoing edge and every edge that
// targeted it. It returns the ids of sources left unrouted.
func (g *Graph) Remove(id string) ([]string, error) {
	idx, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if idx == g.master {
		return nil, ErrMaster
	}
	var orphaned []string
	for i := range g.nodes {
		if g.nodes[i].alive && g.nodes[i].dest == idx {
			g.nodes[i].dest = -1
			orphaned = append(orphaned, g.nodes[i].id)
		}
	}
	g.nodes[idx] = slot{dest: -1}
	delete(g.index, id)
	g.free = append(g.free, idx)
	return orphaned, nil
}

// Contains reports whether id is a live node.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Kind returns the kind of id.
func (g *Graph) Kind(id string) (Kind, bool) {
	idx, ok := g.index[id]
	if !ok {
		return 0, false
	}
	return g.nodes[idx].kind, true
}

// Connect routes src into the bus dst, replacing any previous destination
// of src. Edges that would close a cycle are rejected and leave the graph
// unchanged.
func (g *Graph) Connect(src, dst string) error {
	si, ok := g.index[src]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrNotFound, src)
	}
	di, ok := g.index[dst]
	if !ok {
		return fmt.Errorf("%w: destination %s", ErrNotFound, dst)
	}
	if si == g.master {
		return fmt.Errorf("%w: master has no destination", ErrMaster)
	}
	if g.nodes[di].kind != KindBus {
		return fmt.Errorf("%w: destination %s is a %s", ErrInvalidEdge, dst, g.nodes[di].kind)
	}
	if g.reaches(di, si) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, src, dst)
	}
	g.nodes[si].dest = di
	return nil
}

// WouldCycle reports whether routing src into dst would create a cycle.
func (g *Graph) WouldCycle(src, dst string) bool {
	si, ok1 := g.index[src]
	di, ok2 := g.index[dst]
	if !ok1 || !ok2 {
		return false
	}
	return g.reaches(di, si)
}

// reaches follows destination edges from 'from' and reports whether 'to'
// is on the path (including from == to).
func (g *Graph) reaches(from, to int) bool {
	for steps := 0; from >= 0 && steps <= len(g.nodes); steps++ {
		if from == to {
			return true
		}
		from = g.nodes[from].dest
	}
	return false
}

// Disconnect leaves src unrouted.
func (g *Graph) Disconnect(src string) error {
	si, ok := g.index[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	g.nodes[si].dest = -1
	return nil
}

// Destination returns the bus src feeds.
func (g *Graph) Destination(src string) (string, bool) {
	si, ok := g.index[src]
	if !ok || g.nodes[si].dest < 0 {
		return "", false
	}
	return g.nodes[g.nodes[si].dest].id, true
}

// Sources returns the nodes feeding dst in arena order.
func (g *Graph) Sources(dst string) []string {
	di, ok := g.index[dst]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range g.nodes {
		if s.alive && s.dest == di {
			out = append(out, s.id)
		}
	}
	return out
}

// IDs returns every live node id in arena order.
func (g *Graph) IDs() []string {
	out := make([]string, 0, len(g.index))
	for _, s := range g.nodes {
		if s.alive {
			out = append(out, s.id)
		}
	}
	return out
}

// Order returns every live node so that each node appears after all of its
// sources: leaves first, master last. Ties keep arena order.
func (g *Graph) Order() []string {
	pending := make([]int, len(g.nodes))
	for _, s := range g.nodes {
		if s.alive && s.dest >= 0 {
			pending[s.dest]++
		}
	}
	queue := make([]int, 0, len(g.index))
	for i, s := range g.nodes {
		if s.alive && pending[i] == 0 {
			queue = append(queue, i)
		}
	}
	out := make([]string, 0, len(g.index))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		out = append(out, g.nodes[i].id)
		if d := g.nodes[i].dest; d >= 0 {
			pending[d]--
			if pending[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return out
}

// Flags carries the user-facing mute and solo switches of one node.
type Flags struct {
	Mute bool
	Solo bool
}

// EffectiveMute applies the solo rule at every summing point: when any
// source of a bus is soloed, every non-soloed source of that bus is muted
// regardless of its own mute flag. A node's own mute flag always applies.
// The master bus is never silenced by solo.
func (g *Graph) EffectiveMute(flags map[string]Flags) map[string]bool {
	soloAt := make(map[int]bool)
	for _, s := range g.nodes {
		if s.alive && s.dest >= 0 && flags[s.id].Solo {
			soloAt[s.dest] = true
		}
	}
	out := make(map[string]bool, len(g.index))
	for _, s := range g.nodes {
		if !s.alive {
			continue
		}
		f := flags[s.id]
		muted := f.Mute
		if s.dest >= 0 && soloAt[s.dest] && !f.Solo {
			muted = true
		}
		out[s.id] = muted
	}
	return out
}
