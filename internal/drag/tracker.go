package drag

import (
	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/spatial"
)

// Gesture is the pair of nearest points a press resolves to. Dragged is false
// for a press released without movement; Done marks the release.
type Gesture struct {
	SessionID string
	Start     domain.Point
	End       domain.Point
	Dragged   bool
	Done      bool
}

// Endpoints returns the start and end coordinates.
func (g Gesture) Endpoints() (start, end domain.XY) { return g.Start.XY, g.End.XY }

// Track follows the pointer through a press. At press time it pins the
// visible session nearest to the down position; while dragging it resolves
// the start point at the down position and the end point at the current
// position, both within the pinned session only. It emits during a genuine
// drag and once on release.
func Track(name string, pointer *dataflow.Node[Pointer], sets []spatial.Candidates, visible spatial.Predicate, triggers ...dataflow.Dependency) *dataflow.Node[Gesture] {
	var (
		pressed bool
		pinned  string
	)
	deps := append([]dataflow.Dependency{pointer}, triggers...)
	return dataflow.Derive(name, func() (Gesture, bool) {
		ev, ok := pointer.Peek()
		if !ok {
			return Gesture{}, false
		}
		p := ev.Data

		if p.Down && !pressed {
			pressed = true
			pinned = ""
			if hit := spatial.Nearest(sets, p.DownQuery(), visible); hit.Found {
				pinned = hit.SessionID
			}
		}
		if !p.Down && !p.Released {
			return Gesture{}, false
		}
		if p.Released {
			if !pressed {
				return Gesture{}, false
			}
			pressed = false
		}
		if pinned == "" || (p.Down && !p.HasDragged) {
			return Gesture{}, false
		}

		keep := spatial.Only(pinned, visible)
		start := spatial.Nearest(sets, p.DownQuery(), keep)
		end := spatial.Nearest(sets, p.Query(), keep)
		g := Gesture{
			SessionID: pinned,
			Dragged:   p.HasDragged,
			Done:      p.Released,
		}
		if p.Released {
			pinned = ""
		}
		if g.Dragged && !(start.Found && end.Found) {
			return Gesture{}, false
		}
		g.Start, g.End = start.Point, end.Point
		return g, true
	}, deps...)
}
