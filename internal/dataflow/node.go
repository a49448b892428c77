package dataflow

import (
	"sort"
	"time"
)

// Node is a graph vertex producing events of type T.
type Node[T any] struct {
	core
	latest Event[T]
	has    bool
	subs   []*subscription[T]
	// replay feeds a new subscriber its backlog; nil replays the latest event only.
	replay func(deliver func(Event[T])) int
}

type subscription[T any] struct {
	target  *core
	deliver func(Event[T])
}

func newNode[T any](g *Graph, name string) *Node[T] {
	n := &Node[T]{}
	n.name = name
	g.register(&n.core)
	return n
}

// Name returns the node's debug name.
func (n *Node[T]) Name() string { return n.name }

// Graph returns the graph owning the node.
func (n *Node[T]) Graph() *Graph { return n.g }

// Peek returns the most recent event without subscribing.
func (n *Node[T]) Peek() (Event[T], bool) { return n.latest, n.has }

// Closed reports whether the node has been detached.
func (n *Node[T]) Closed() bool { return n.closed }

// Close detaches the node from its inputs. It never fires again.
func (n *Node[T]) Close() { n.close() }

func (n *Node[T]) emit(ev Event[T]) {
	n.latest, n.has = ev, true
	for _, s := range n.subs {
		s.deliver(ev)
		n.g.markDirty(s.target)
	}
}

// attach connects target to n. deliver receives the replayed backlog immediately
// and every later emission; target runs on the next propagation.
func (n *Node[T]) attach(target *core, deliver func(Event[T])) {
	s := &subscription[T]{target: target, deliver: deliver}
	n.subs = append(n.subs, s)
	target.detach = append(target.detach, func() { n.unsubscribe(s) })

	delivered := 0
	if n.replay != nil {
		delivered = n.replay(deliver)
	} else if n.has {
		deliver(n.latest)
		delivered = 1
	}
	if delivered > 0 {
		n.g.markDirty(target)
	}
}

func (n *Node[T]) unsubscribe(s *subscription[T]) {
	kept := make([]*subscription[T], 0, len(n.subs))
	for _, cur := range n.subs {
		if cur != s {
			kept = append(kept, cur)
		}
	}
	n.subs = kept
}

// Subscribers reports how many downstream nodes are attached.
func (n *Node[T]) Subscribers() int { return len(n.subs) }

// Signal is an externally driven node.
type Signal[T any] struct {
	*Node[T]
}

func NewSignal[T any](g *Graph, name string) *Signal[T] {
	return &Signal[T]{Node: newNode[T](g, name)}
}

// NewSignalWith creates a signal holding an initial value.
func NewSignalWith[T any](g *Graph, name string, v T) *Signal[T] {
	s := NewSignal[T](g, name)
	s.latest, s.has = Event[T]{Time: g.now(), Data: v}, true
	return s
}

// Set emits v stamped with the graph clock.
func (s *Signal[T]) Set(v T) {
	s.Emit(Event[T]{Time: s.g.now(), Data: v})
}

// Emit pushes ev as one external input.
func (s *Signal[T]) Emit(ev Event[T]) {
	s.g.Do(func() {
		if !s.closed {
			s.emit(ev)
		}
	})
}

// Value returns the current value, or the zero value if none was set.
func (s *Signal[T]) Value() T { return s.latest.Data }

// Store is a node that retains every event it has seen, ordered by time.
// New subscribers receive the full history.
type Store[T any] struct {
	*Node[T]
	events []Event[T]
}

// Persist retains the output of src for the lifetime of the store.
func Persist[T any](src *Node[T], name string) *Store[T] {
	st := &Store[T]{Node: newNode[T](src.g, name)}
	var inbox []Event[T]
	src.attach(&st.core, func(ev Event[T]) { inbox = append(inbox, ev) })
	st.replay = func(deliver func(Event[T])) int {
		for _, ev := range st.events {
			deliver(ev)
		}
		return len(st.events)
	}
	st.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			st.insert(ev)
			st.emit(ev)
		}
	}
	return st
}

func (st *Store[T]) insert(ev Event[T]) {
	n := len(st.events)
	if n == 0 || !ev.Time.Before(st.events[n-1].Time) {
		st.events = append(st.events, ev)
		return
	}
	i := sort.Search(n, func(i int) bool { return st.events[i].Time.After(ev.Time) })
	st.events = append(st.events, Event[T]{})
	copy(st.events[i+1:], st.events[i:])
	st.events[i] = ev
}

// Len reports the number of retained events.
func (st *Store[T]) Len() int { return len(st.events) }

// Slice returns the retained events with start <= time < end; a nil end is unbounded.
// The result aliases the store and must not be modified.
func (st *Store[T]) Slice(start time.Time, end *time.Time) []Event[T] {
	lo := sort.Search(len(st.events), func(i int) bool { return !st.events[i].Time.Before(start) })
	hi := len(st.events)
	if end != nil {
		hi = sort.Search(len(st.events), func(i int) bool { return !st.events[i].Time.Before(*end) })
	}
	if hi < lo {
		hi = lo
	}
	return st.events[lo:hi:hi]
}

// All returns every retained event.
func (st *Store[T]) All() []Event[T] {
	return st.events[:len(st.events):len(st.events)]
}

// Subscribe calls fn for every event of src, including its replayed backlog.
// The returned function detaches the subscriber; no callback runs after it returns.
func Subscribe[T any](src *Node[T], fn func(Event[T])) (cancel func()) {
	c := &core{name: src.name + ".subscriber"}
	src.g.register(c)
	var inbox []Event[T]
	src.attach(c, func(ev Event[T]) { inbox = append(inbox, ev) })
	c.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			if c.closed {
				return
			}
			fn(ev)
		}
	}
	return c.close
}

// Dependency is any node another node can be recomputed from.
type Dependency interface {
	graph() *Graph
	trigger(target *core, mark func(time.Time))
}

func (n *Node[T]) graph() *Graph { return n.g }

func (n *Node[T]) trigger(target *core, mark func(time.Time)) {
	n.attach(target, func(ev Event[T]) { mark(ev.Time) })
}
