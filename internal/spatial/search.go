// Package spatial finds the recorded point closest to a pointer position.
//
// The candidate set is small (one test session scale), so every lookup is a
// full scan; there is no spatial index.
package spatial

import (
	"math"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

// Query is a pointer position in data space. AspectRatio is the chart's
// width/height scaling, used to make x distances comparable to y distances.
type Query struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AspectRatio float64 `json:"aspectRatio"`
}

// XY is the query position as a point.
func (q Query) XY() domain.XY { return domain.XY{X: q.X, Y: q.Y} }

// Candidates is one session's points.
type Candidates interface {
	SessionID() string
	Events() []dataflow.Event[domain.XY]
}

// Predicate decides at lookup time whether a point may be returned.
type Predicate func(sessionID string, p domain.Point) bool

// Result is the outcome of a lookup. Found is false when no candidate passed the predicate.
type Result struct {
	Point     domain.Point
	SessionID string
	Distance  float64
	Found     bool
}

// Distance is the squared euclidean distance between q and p with x scaled
// by the aspect ratio.
func Distance(q Query, p domain.XY) float64 {
	ar := q.AspectRatio
	if ar == 0 || math.IsNaN(ar) || math.IsInf(ar, 0) {
		ar = 1
	}
	dx := (p.X - q.X) / ar
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Nearest scans every candidate in order and returns the closest point that
// passes keep. Ties go to the first point encountered.
func Nearest(sets []Candidates, q Query, keep Predicate) Result {
	var best Result
	for _, set := range sets {
		id := set.SessionID()
		for _, ev := range set.Events() {
			p := domain.Point{Time: ev.Time, XY: ev.Data}
			d := Distance(q, ev.Data)
			if math.IsNaN(d) {
				continue
			}
			if best.Found && d >= best.Distance {
				continue
			}
			if keep != nil && !keep(id, p) {
				continue
			}
			best = Result{Point: p, SessionID: id, Distance: d, Found: true}
		}
	}
	return best
}

// Only restricts keep to a single session.
func Only(sessionID string, keep Predicate) Predicate {
	return func(id string, p domain.Point) bool {
		if id != sessionID {
			return false
		}
		return keep == nil || keep(id, p)
	}
}

// Search is a graph node re-running Nearest whenever the query or any of the
// trigger dependencies change.
func Search(name string, query *dataflow.Node[Query], sets []Candidates, keep Predicate, triggers ...dataflow.Dependency) *dataflow.Node[Result] {
	deps := append([]dataflow.Dependency{query}, triggers...)
	return dataflow.Derive(name, func() (Result, bool) {
		q, ok := query.Peek()
		if !ok {
			return Result{}, false
		}
		return Nearest(sets, q.Data, keep), true
	}, deps...)
}
