package session

import (
	"time"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
)

// View is a query over src restricted to one session's [start, end) range.
// Bounds are resolved through the registry each time the view is read, so a
// view over a session still recording keeps growing.
type View[T any] struct {
	reg *Registry
	id  string
	src *dataflow.Store[T]
}

// Select builds a view of src for session id.
func Select[T any](r *Registry, id string, src *dataflow.Store[T]) View[T] {
	return View[T]{reg: r, id: id, src: src}
}

func (v View[T]) SessionID() string { return v.id }

// Events returns the events currently inside the session range. A deleted
// session yields nothing.
func (v View[T]) Events() []dataflow.Event[T] {
	s, ok := v.reg.Get(v.id)
	if !ok {
		return nil
	}
	return v.src.Slice(s.Start, s.End)
}

// Contains reports whether t falls in the session range right now.
func (v View[T]) Contains(t time.Time) bool {
	s, ok := v.reg.Get(v.id)
	return ok && s.Contains(t)
}

// Stream returns a live node carrying the session's events: the retained
// backlog first, then new events as they land inside the range.
func (v View[T]) Stream() *dataflow.Node[T] {
	return dataflow.Filter(v.src.Node, "session."+v.id, func(ev dataflow.Event[T]) bool {
		return v.Contains(ev.Time)
	})
}
