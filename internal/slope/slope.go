// Package slope derives the stiffness of a session from its drag endpoints
// and averages it across the selected sessions.
package slope

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

// Value is a per-session slope. Computed is false until both drag endpoints
// exist. A computed slope may still be non-finite when the drag had no
// horizontal extent; such a value is undefined and never aggregated.
type Value struct {
	Slope    float64
	Computed bool
}

type wireValue struct {
	Slope    *float64 `json:"slope"`
	Computed bool     `json:"computed"`
	Defined  bool     `json:"defined"`
}

// MarshalJSON encodes an undefined slope as null with defined=false, so it
// stays distinct from a slope that was never computed.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Computed: v.Computed, Defined: v.Finite()}
	if w.Defined {
		w.Slope = &v.Slope
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an undefined slope as NaN.
func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*v = Value{Computed: w.Computed}
	switch {
	case w.Defined && w.Slope != nil:
		v.Slope = *w.Slope
	case w.Computed:
		v.Slope = math.NaN()
	}
	return nil
}

// Finite reports whether the slope is computed and usable.
func (v Value) Finite() bool {
	return v.Computed && !math.IsNaN(v.Slope) && !math.IsInf(v.Slope, 0)
}

// Same compares two values, treating NaN as equal to NaN.
func (v Value) Same(o Value) bool {
	return v.Computed == o.Computed && math.Float64bits(v.Slope) == math.Float64bits(o.Slope)
}

// Between is (end.y - start.y) / (end.x - start.x).
func Between(start, end *domain.XY) Value {
	if start == nil || end == nil {
		return Value{}
	}
	return Value{Slope: (end.Y - start.Y) / (end.X - start.X), Computed: true}
}

// Of computes the slope of a legend entry's drag.
func Of(sel domain.Selection) Value { return Between(sel.DragStart, sel.DragEnd) }

// Track is the slope of one session. It recomputes only when the drag
// endpoints change, not on hover or selection updates.
func Track(name string, sel *dataflow.Node[domain.Selection]) *dataflow.Node[Value] {
	drag := dataflow.Distinct(sel, name+".drag", func(a, b domain.Selection) bool { return a.SameDrag(b) })
	return dataflow.Map(drag, name, Of)
}

// Contribution is what one session offers to the aggregate.
type Contribution struct {
	Selected bool
	Slope    Value
}

// Counts reports whether the contribution enters the mean.
func (c Contribution) Counts() bool { return c.Selected && c.Slope.Finite() }

// Contribute pairs a session's selection flag with its slope.
func Contribute(name string, sel *dataflow.Node[domain.Selection], slope *dataflow.Node[Value]) *dataflow.Node[Contribution] {
	pair := dataflow.Derive(name+".pair", func() (Contribution, bool) {
		s, ok := sel.Peek()
		v, ok2 := slope.Peek()
		if !ok || !ok2 {
			return Contribution{}, false
		}
		return Contribution{Selected: s.Data.Selected, Slope: v.Data}, true
	}, sel, slope)
	return dataflow.Distinct(pair, name, func(a, b Contribution) bool {
		return a.Selected == b.Selected && a.Slope.Same(b.Slope)
	})
}

// Aggregate is the unweighted mean slope of the selected sessions. Valid is
// false when no session contributed.
type Aggregate struct {
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
	Valid bool    `json:"valid"`
}

// Mean averages the contributions that count.
func Mean(cs []Contribution) Aggregate {
	var (
		sum float64
		n   int
	)
	for _, c := range cs {
		if !c.Counts() {
			continue
		}
		sum += c.Slope.Slope
		n++
	}
	if n == 0 {
		return Aggregate{}
	}
	return Aggregate{Mean: sum / float64(n), Count: n, Valid: true}
}

// Average recomputes the mean whenever any session's contribution changes.
// Inputs are summed in name order so the result does not depend on map order.
func Average(name string, inputs ...dataflow.Input[Contribution]) *dataflow.Node[Aggregate] {
	rec := dataflow.Coalesce(name+".inputs", dataflow.Unsynchronized, inputs...)
	mean := dataflow.Map(rec, name+".mean", func(r dataflow.Record[Contribution]) Aggregate {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cs := make([]Contribution, 0, len(keys))
		for _, k := range keys {
			cs = append(cs, r[k])
		}
		return Mean(cs)
	})
	return dataflow.Distinct(mean, name, func(a, b Aggregate) bool { return a == b })
}
