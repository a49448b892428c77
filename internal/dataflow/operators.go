package dataflow

import (
	"sort"
	"time"
)

// Map transforms every event of src.
func Map[In, Out any](src *Node[In], name string, fn func(In) Out) *Node[Out] {
	out := newNode[Out](src.g, name)
	var inbox []Event[In]
	src.attach(&out.core, func(ev Event[In]) { inbox = append(inbox, ev) })
	out.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			out.emit(Event[Out]{Time: ev.Time, Data: fn(ev.Data)})
		}
	}
	return out
}

// Filter forwards the events of src accepted by keep. keep is evaluated when
// the event arrives, so it may consult state that changes over time.
func Filter[T any](src *Node[T], name string, keep func(Event[T]) bool) *Node[T] {
	out := newNode[T](src.g, name)
	var inbox []Event[T]
	src.attach(&out.core, func(ev Event[T]) { inbox = append(inbox, ev) })
	out.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			if keep(ev) {
				out.emit(ev)
			}
		}
	}
	return out
}

// Distinct drops events equal to the previously forwarded one.
func Distinct[T any](src *Node[T], name string, equal func(a, b T) bool) *Node[T] {
	out := newNode[T](src.g, name)
	var inbox []Event[T]
	src.attach(&out.core, func(ev Event[T]) { inbox = append(inbox, ev) })
	out.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			if prev, ok := out.Peek(); ok && equal(prev.Data, ev.Data) {
				continue
			}
			out.emit(ev)
		}
	}
	return out
}

// Policy selects how Coalesce pairs its inputs.
type Policy int

const (
	// Unsynchronized emits on every input update once all inputs have a value.
	Unsynchronized Policy = iota
	// Synchronized emits only once every input has a fresh value since the last emission.
	Synchronized
)

func (p Policy) String() string {
	if p == Synchronized {
		return "synchronized"
	}
	return "unsynchronized"
}

// Input names one Coalesce input.
type Input[T any] struct {
	Name string
	Node *Node[T]
}

// Record is one combined Coalesce output keyed by input name.
type Record[T any] map[string]T

type portEvent[T any] struct {
	port int
	ev   Event[T]
}

// Coalesce merges named inputs into one record stream. Events arriving in the
// same propagation are applied in time order, ties in input order.
func Coalesce[T any](name string, policy Policy, inputs ...Input[T]) *Node[Record[T]] {
	if len(inputs) == 0 {
		panic("dataflow: coalesce needs at least one input")
	}
	g := inputs[0].Node.g
	out := newNode[Record[T]](g, name)

	values := make([]T, len(inputs))
	seen := make([]bool, len(inputs))
	fresh := make([]bool, len(inputs))
	var inbox []portEvent[T]

	for i, in := range inputs {
		port := i
		in.Node.attach(&out.core, func(ev Event[T]) {
			inbox = append(inbox, portEvent[T]{port: port, ev: ev})
		})
	}

	ready := func(flags []bool) bool {
		for _, f := range flags {
			if !f {
				return false
			}
		}
		return true
	}

	out.run = func() {
		batch := inbox
		inbox = nil
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].ev.Time.Before(batch[j].ev.Time) })

		for _, pe := range batch {
			values[pe.port] = pe.ev.Data
			seen[pe.port] = true
			fresh[pe.port] = true

			switch policy {
			case Synchronized:
				if !ready(fresh) {
					continue
				}
				for i := range fresh {
					fresh[i] = false
				}
			default:
				if !ready(seen) {
					continue
				}
			}

			rec := make(Record[T], len(inputs))
			for i, in := range inputs {
				rec[in.Name] = values[i]
			}
			out.emit(Event[Record[T]]{Time: pe.ev.Time, Data: rec})
		}
	}
	return out
}

// Interleave merges streams of the same type in time order.
func Interleave[T any](name string, srcs ...*Node[T]) *Node[T] {
	if len(srcs) == 0 {
		panic("dataflow: interleave needs at least one input")
	}
	out := newNode[T](srcs[0].g, name)
	var inbox []Event[T]
	for _, src := range srcs {
		src.attach(&out.core, func(ev Event[T]) { inbox = append(inbox, ev) })
	}
	out.run = func() {
		batch := inbox
		inbox = nil
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Time.Before(batch[j].Time) })
		for _, ev := range batch {
			out.emit(ev)
		}
	}
	return out
}

// Count emits the running number of events seen on src.
func Count[T any](src *Node[T], name string) *Node[int] {
	out := newNode[int](src.g, name)
	var (
		inbox []Event[T]
		total int
	)
	src.attach(&out.core, func(ev Event[T]) { inbox = append(inbox, ev) })
	out.run = func() {
		batch := inbox
		inbox = nil
		for _, ev := range batch {
			total++
			out.emit(Event[int]{Time: ev.Time, Data: total})
		}
	}
	return out
}

// Derive recomputes fn once per propagation in which any dependency fired.
// fn reads its inputs through Peek; returning false suppresses the emission.
// The output is stamped with the latest triggering event time.
func Derive[T any](name string, fn func() (T, bool), deps ...Dependency) *Node[T] {
	if len(deps) == 0 {
		panic("dataflow: derive needs at least one dependency")
	}
	out := newNode[T](deps[0].graph(), name)
	var (
		pending bool
		stamp   time.Time
	)
	mark := func(t time.Time) {
		pending = true
		if t.After(stamp) {
			stamp = t
		}
	}
	for _, d := range deps {
		d.trigger(&out.core, mark)
	}
	out.run = func() {
		if !pending {
			return
		}
		pending = false
		if v, ok := fn(); ok {
			out.emit(Event[T]{Time: stamp, Data: v})
		}
	}
	return out
}
