// Package dataflow implements a small synchronous push graph.
//
// Nodes are ranked by creation order, so every node ranks higher than the
// nodes it reads from. An external input (a Signal emission) marks its
// downstream nodes dirty and the graph recomputes them in rank order until
// nothing is dirty. Inputs arriving while a propagation is in flight are
// deferred until it has finished, so the effects of two inputs never
// interleave.
//
// A Graph is not safe for concurrent use; one goroutine owns it.
package dataflow

import (
	"container/heap"
	"time"
)

// Event is a timestamped value travelling along a graph edge.
type Event[T any] struct {
	Time time.Time
	Data T
}

// Graph schedules recomputation of dirty nodes.
type Graph struct {
	seq      int
	dirty    rankHeap
	flushing bool
	deferred []func()
	scope    *Scope
	now      func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithClock overrides the clock used to stamp Signal.Set emissions.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGraph(opts ...Option) *Graph {
	g := &Graph{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Now returns the graph clock.
func (g *Graph) Now() time.Time { return g.now() }

// Do runs fn as one external input and propagates its effects. Called
// during a propagation, fn is queued and runs once the current one is done.
func (g *Graph) Do(fn func()) {
	if g.flushing {
		g.deferred = append(g.deferred, fn)
		return
	}
	g.flushing = true
	defer func() { g.flushing = false }()

	fn()
	g.drain()
	for len(g.deferred) > 0 {
		next := g.deferred[0]
		g.deferred = g.deferred[1:]
		next()
		g.drain()
	}
}

// Flush propagates anything left dirty by graph construction.
func (g *Graph) Flush() { g.Do(func() {}) }

// Propagating reports whether the graph is inside Do.
func (g *Graph) Propagating() bool { return g.flushing }

func (g *Graph) drain() {
	for g.dirty.Len() > 0 {
		c := heap.Pop(&g.dirty).(*core)
		c.queued = false
		if !c.closed && c.run != nil {
			c.run()
		}
	}
}

func (g *Graph) register(c *core) {
	g.seq++
	c.g = g
	c.rank = g.seq
	if g.scope != nil {
		g.scope.cores = append(g.scope.cores, c)
	}
}

func (g *Graph) markDirty(c *core) {
	if c.queued || c.closed {
		return
	}
	c.queued = true
	heap.Push(&g.dirty, c)
}

// core is the type-independent part of every node.
type core struct {
	g      *Graph
	rank   int
	name   string
	queued bool
	closed bool
	run    func()
	detach []func()
}

func (c *core) close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, d := range c.detach {
		d()
	}
	c.detach = nil
}

type rankHeap []*core

func (h rankHeap) Len() int           { return len(h) }
func (h rankHeap) Less(i, j int) bool { return h[i].rank < h[j].rank }
func (h rankHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rankHeap) Push(x any)        { *h = append(*h, x.(*core)) }
func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Scope collects the nodes built inside Build so they can be detached together.
type Scope struct {
	g     *Graph
	cores []*core
}

func (g *Graph) NewScope() *Scope { return &Scope{g: g} }

// Build registers every node created by fn with the scope.
func (s *Scope) Build(fn func()) {
	prev := s.g.scope
	s.g.scope = s
	defer func() { s.g.scope = prev }()
	fn()
}

// Close detaches every node of the scope. Pending work for those nodes is discarded.
func (s *Scope) Close() {
	for _, c := range s.cores {
		c.close()
	}
	s.cores = nil
}

// Len reports how many nodes the scope owns.
func (s *Scope) Len() int { return len(s.cores) }
