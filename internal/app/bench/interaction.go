package bench

import (
	"fmt"
	"time"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/drag"
	"github.com/ghalamif/TensileFlow/internal/legend"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/session"
	"github.com/ghalamif/TensileFlow/internal/slope"
	"github.com/ghalamif/TensileFlow/internal/spatial"
)

// Pointer feeds one pointer event through the hover and drag machinery.
func (e *Engine) Pointer(ev drag.Event) drag.Pointer {
	start := time.Now()
	p := e.machine.Handle(ev)
	e.pointer.Set(p)
	e.obs.ObserveLatency(ports.MetricSearchLatency, time.Since(start).Seconds())
	return p
}

// Toggle flips the selection of a session or of the live view.
func (e *Engine) Toggle(id string) error { return e.legend.Toggle(id) }

func (e *Engine) SetSelected(id string, v bool) error { return e.legend.Set(id, legend.Selected(v)) }

// SetHovered drives hover from outside the chart, e.g. the session list.
func (e *Engine) SetHovered(id string, v bool) error { return e.legend.Set(id, legend.Hovered(v)) }

func (e *Engine) ShowAll() { e.legend.SetAll(true) }
func (e *Engine) HideAll() { e.legend.SetAll(false) }

// Legend returns the selection state of one entry.
func (e *Engine) Legend(id string) (domain.Selection, bool) { return e.legend.Get(id) }

// LegendAll returns every entry keyed by id, live included.
func (e *Engine) LegendAll() map[string]domain.Selection {
	out := make(map[string]domain.Selection)
	for _, id := range e.legend.IDs() {
		if st, ok := e.legend.Get(id); ok {
			out[id] = st
		}
	}
	return out
}

// SubscribeLegend calls fn with the state of id now and after every change.
func (e *Engine) SubscribeLegend(id string, fn func(domain.Selection)) (func(), error) {
	return e.legend.Subscribe(id, fn)
}

// Slope returns the current slope of a session.
func (e *Engine) Slope(id string) (slope.Value, error) {
	if _, ok := e.reg.Get(id); !ok {
		return slope.Value{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return e.slopes[id], nil
}

// Aggregate is the mean slope over the selected sessions.
func (e *Engine) Aggregate() slope.Aggregate { return e.aggregate.Value() }

// AggregateChanges emits every new aggregate.
func (e *Engine) AggregateChanges() *dataflow.Node[slope.Aggregate] { return e.aggregate.Node }

func (e *Engine) visible(id string, _ domain.Point) bool {
	st, ok := e.legend.Get(id)
	return ok && st.Selected
}

func (e *Engine) buildInteraction(sets []spatial.Candidates, trigger *dataflow.Node[domain.XY]) {
	query := dataflow.Map(e.pointer.Node, "pointer.query", drag.Pointer.Query)
	hover := spatial.Search("hover", query, sets, e.visible, trigger)
	dataflow.Subscribe(hover, e.onHover)

	gestures := drag.Track("drag", e.pointer.Node, sets, e.visible, trigger)
	dataflow.Subscribe(gestures, e.onGesture)
}

func (e *Engine) onHover(ev dataflow.Event[spatial.Result]) {
	p := e.pointer.Value()
	if p.Down || !ev.Data.Found {
		return
	}
	id := ev.Data.SessionID
	if e.hovered != "" && e.hovered != id {
		_ = e.legend.Set(e.hovered, legend.Hovered(false))
	}
	if st, ok := e.legend.Get(id); ok && st.Hovered != p.Inside {
		_ = e.legend.Set(id, legend.Hovered(p.Inside))
	}
	e.hovered = ""
	if p.Inside {
		e.hovered = id
	}
}

func (e *Engine) onGesture(ev dataflow.Event[drag.Gesture]) {
	gs := ev.Data
	patch := legend.ClearDrag()
	if gs.Dragged {
		start, end := gs.Endpoints()
		patch = legend.Patch{Drag: &legend.Drag{Start: &start, End: &end}}
	}
	if err := e.legend.Set(gs.SessionID, patch); err != nil {
		e.obs.LogError("drag_update_failed", err, ports.Field{Key: "session", Value: gs.SessionID})
		return
	}
	if gs.Done {
		e.obs.LogInfo("drag_finished",
			ports.Field{Key: "session", Value: gs.SessionID},
			ports.Field{Key: "dragged", Value: gs.Dragged})
	}
}

func (e *Engine) buildSlope(id string) (dataflow.Input[slope.Contribution], bool) {
	sel, ok := e.legend.Node(id)
	if !ok {
		return dataflow.Input[slope.Contribution]{}, false
	}
	value := slope.Track("slope."+id, sel)
	dataflow.Subscribe(value, func(ev dataflow.Event[slope.Value]) { e.slopes[id] = ev.Data })
	return dataflow.Input[slope.Contribution]{Name: id, Node: slope.Contribute("contribution."+id, sel, value)}, true
}

func (e *Engine) buildAggregate(inputs []dataflow.Input[slope.Contribution]) {
	if len(inputs) == 0 {
		e.publishAggregate(slope.Aggregate{})
		return
	}
	dataflow.Subscribe(slope.Average("aggregate.mean", inputs...), func(ev dataflow.Event[slope.Aggregate]) {
		e.publishAggregate(ev.Data)
	})
}

func (e *Engine) publishAggregate(a slope.Aggregate) {
	if a == e.aggregate.Value() {
		return
	}
	e.aggregate.Set(a)
}
