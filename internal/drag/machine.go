// Package drag turns raw pointer input into hover and drag gestures over the
// session curves.
package drag

import (
	"github.com/ghalamif/TensileFlow/internal/spatial"
)

// Kind is the type of a raw pointer event.
type Kind int

const (
	Down Kind = iota
	Move
	Up
	Leave
)

func (k Kind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// Event is one raw pointer event in data coordinates.
type Event struct {
	Kind        Kind    `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AspectRatio float64 `json:"aspectRatio"`
}

// Pointer is the state after an event. Released is set only on the event that
// ended a press.
type Pointer struct {
	X           float64
	Y           float64
	AspectRatio float64
	Inside      bool
	Down        bool
	HasDragged  bool
	Released    bool
	DownX       float64
	DownY       float64
}

// Query is the lookup for the current pointer position.
func (p Pointer) Query() spatial.Query {
	return spatial.Query{X: p.X, Y: p.Y, AspectRatio: p.AspectRatio}
}

// DownQuery is the lookup for the position the press started at.
func (p Pointer) DownQuery() spatial.Query {
	return spatial.Query{X: p.DownX, Y: p.DownY, AspectRatio: p.AspectRatio}
}

// Machine is the Idle/Dragging state machine. A press only counts as a drag
// once the pointer moved further than threshold from where it went down.
type Machine struct {
	threshold float64
	state     Pointer
}

func NewMachine(threshold float64) *Machine {
	if threshold < 0 {
		threshold = 0
	}
	return &Machine{threshold: threshold}
}

// State returns the current pointer state.
func (m *Machine) State() Pointer { return m.state }

// Dragging reports whether a press is in progress.
func (m *Machine) Dragging() bool { return m.state.Down }

// Handle advances the machine by one event and returns the new state.
func (m *Machine) Handle(ev Event) Pointer {
	s := m.state
	s.Released = false
	s.X, s.Y = ev.X, ev.Y
	if ev.AspectRatio != 0 {
		s.AspectRatio = ev.AspectRatio
	}

	switch ev.Kind {
	case Down:
		s.Inside = true
		s.Down = true
		s.HasDragged = false
		s.DownX, s.DownY = ev.X, ev.Y
	case Move:
		s.Inside = true
		if s.Down && !s.HasDragged && m.moved(s) {
			s.HasDragged = true
		}
	case Up, Leave:
		s.Inside = ev.Kind == Up
		if s.Down {
			if !s.HasDragged && m.moved(s) {
				s.HasDragged = true
			}
			s.Down = false
			s.Released = true
		}
	}
	m.state = s
	return s
}

func (m *Machine) moved(s Pointer) bool {
	d := spatial.Distance(s.DownQuery(), s.Query().XY())
	return d > m.threshold*m.threshold
}
