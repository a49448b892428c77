// Package legend is the selection state store shared between the UI surface
// and the computation layer. Every write goes through Set so ownership of the
// per-session state stays in one place.
package legend

import (
	"errors"
	"fmt"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

// LiveID addresses the unbounded real-time view.
const LiveID = "live"

var ErrUnknownSession = errors.New("legend: unknown session")

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	Selected *bool
	Hovered  *bool
	Drag     *Drag
}

// Drag replaces both drag endpoints. A nil endpoint clears it.
type Drag struct {
	Start *domain.XY
	End   *domain.XY
}

// ClearDrag is the patch written for a gesture without movement.
func ClearDrag() Patch { return Patch{Drag: &Drag{}} }

func Selected(v bool) Patch { return Patch{Selected: &v} }
func Hovered(v bool) Patch  { return Patch{Hovered: &v} }

type entry struct {
	signal *dataflow.Signal[domain.Selection]
}

type Store struct {
	g     *dataflow.Graph
	order []string
	items map[string]*entry
}

// NewStore creates a store holding the live entry, selected by default.
func NewStore(g *dataflow.Graph) *Store {
	s := &Store{g: g, items: make(map[string]*entry)}
	s.Ensure(LiveID, domain.Selection{Selected: true})
	return s
}

// Ensure registers id with an initial state if it is not known yet.
func (s *Store) Ensure(id string, initial domain.Selection) {
	if _, ok := s.items[id]; ok {
		return
	}
	s.items[id] = &entry{signal: dataflow.NewSignalWith(s.g, "legend."+id, initial)}
	s.order = append(s.order, id)
}

// Remove forgets id. Its node never emits again.
func (s *Store) Remove(id string) {
	e, ok := s.items[id]
	if !ok || id == LiveID {
		return
	}
	e.signal.Close()
	delete(s.items, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) Get(id string) (domain.Selection, bool) {
	e, ok := s.items[id]
	if !ok {
		return domain.Selection{}, false
	}
	return e.signal.Value(), true
}

// Set merges p into the state of id and propagates it.
func (s *Store) Set(id string, p Patch) error {
	e, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	e.signal.Set(apply(e.signal.Value(), p))
	return nil
}

// Toggle flips the selected flag of id.
func (s *Store) Toggle(id string) error {
	st, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s.Set(id, Selected(!st.Selected))
}

// SetAll selects or deselects every entry and clears hover, as the bulk
// show/hide controls do.
func (s *Store) SetAll(selected bool) {
	off := false
	for _, id := range s.order {
		_ = s.Set(id, Patch{Selected: &selected, Hovered: &off})
	}
}

// Subscribe calls fn with the state of id now and after every change.
func (s *Store) Subscribe(id string, fn func(domain.Selection)) (cancel func(), err error) {
	e, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	cancel = dataflow.Subscribe(e.signal.Node, func(ev dataflow.Event[domain.Selection]) { fn(ev.Data) })
	s.g.Flush()
	return cancel, nil
}

// Node exposes the state of id as a graph node.
func (s *Store) Node(id string) (*dataflow.Node[domain.Selection], bool) {
	e, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return e.signal.Node, true
}

// IDs returns every key in registration order, live first.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func apply(cur domain.Selection, p Patch) domain.Selection {
	if p.Selected != nil {
		cur.Selected = *p.Selected
	}
	if p.Hovered != nil {
		cur.Hovered = *p.Hovered
	}
	if p.Drag != nil {
		cur.DragStart = copyXY(p.Drag.Start)
		cur.DragEnd = copyXY(p.Drag.End)
	}
	return cur
}

func copyXY(p *domain.XY) *domain.XY {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
