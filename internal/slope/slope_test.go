package slope

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

func xy(x, y float64) *domain.XY { return &domain.XY{X: x, Y: y} }

func TestBetween(t *testing.T) {
	if v := Between(xy(1, 1), xy(3, 7)); !v.Finite() || v.Slope != 3 {
		t.Fatalf("expected slope 3, got %+v", v)
	}
	if v := Between(nil, xy(3, 7)); v.Computed {
		t.Fatalf("expected uncomputed slope without a start, got %+v", v)
	}
	v := Between(xy(2, 1), xy(2, 5))
	if !v.Computed || v.Finite() || !math.IsInf(v.Slope, 1) {
		t.Fatalf("expected computed but undefined slope for dX=0, got %+v", v)
	}
	if v := Between(xy(2, 1), xy(2, 1)); !math.IsNaN(v.Slope) || v.Finite() {
		t.Fatalf("expected NaN slope for a zero-length drag, got %+v", v)
	}
}

func TestMeanExcludesUnselectedAndUndefined(t *testing.T) {
	got := Mean([]Contribution{
		{Selected: true, Slope: Value{Slope: 3, Computed: true}},
		{Selected: true},
		{Selected: true, Slope: Value{Slope: math.Inf(1), Computed: true}},
		{Selected: false, Slope: Value{Slope: 100, Computed: true}},
		{Selected: true, Slope: Value{Slope: 5, Computed: true}},
	})
	if !got.Valid || got.Count != 2 || got.Mean != 4 {
		t.Fatalf("expected mean 4 over 2 sessions, got %+v", got)
	}
	if empty := Mean(nil); empty.Valid {
		t.Fatalf("expected invalid aggregate with nothing selected, got %+v", empty)
	}
}

type sessionState struct {
	sel   *dataflow.Signal[domain.Selection]
	slope *dataflow.Node[Value]
}

func newSession(g *dataflow.Graph, id string) sessionState {
	sel := dataflow.NewSignalWith(g, "legend."+id, domain.Selection{Selected: true})
	return sessionState{sel: sel, slope: Track("slope."+id, sel.Node)}
}

func TestAverageAcrossSessions(t *testing.T) {
	g := dataflow.NewGraph()
	s := newSession(g, "s")
	tt := newSession(g, "t")
	avg := Average("aggregate",
		dataflow.Input[Contribution]{Name: "s", Node: Contribute("s", s.sel.Node, s.slope)},
		dataflow.Input[Contribution]{Name: "t", Node: Contribute("t", tt.sel.Node, tt.slope)},
	)
	var got []Aggregate
	dataflow.Subscribe(avg, func(ev dataflow.Event[Aggregate]) { got = append(got, ev.Data) })
	g.Flush()

	s.sel.Set(domain.Selection{Selected: true, DragStart: xy(1, 1), DragEnd: xy(3, 7)})
	last := got[len(got)-1]
	if !last.Valid || last.Mean != 3 || last.Count != 1 {
		t.Fatalf("expected aggregate 3 with T excluded, got %+v", last)
	}

	tt.sel.Set(domain.Selection{Selected: true, DragStart: xy(2, 0), DragEnd: xy(2, 9)})
	if last := got[len(got)-1]; last.Mean != 3 || last.Count != 1 {
		t.Fatalf("undefined slope must not change the aggregate, got %+v", last)
	}

	s.sel.Set(domain.Selection{Selected: false, DragStart: xy(1, 1), DragEnd: xy(3, 7)})
	if last := got[len(got)-1]; last.Valid {
		t.Fatalf("expected no aggregate after deselecting S, got %+v", last)
	}
}

func TestTrackIgnoresNonDragChanges(t *testing.T) {
	g := dataflow.NewGraph()
	s := newSession(g, "s")
	var n int
	dataflow.Subscribe(s.slope, func(dataflow.Event[Value]) { n++ })
	g.Flush()

	s.sel.Set(domain.Selection{Selected: true, Hovered: true})
	s.sel.Set(domain.Selection{Selected: false})
	if n != 1 {
		t.Fatalf("expected only the initial slope, got %d recomputations", n)
	}
	s.sel.Set(domain.Selection{DragStart: xy(0, 0), DragEnd: xy(1, 2)})
	if n != 2 {
		t.Fatalf("expected recomputation on drag change, got %d", n)
	}
}

func TestValueJSONKeepsUndefinedDistinct(t *testing.T) {
	cases := map[string]Value{
		`{"slope":3,"computed":true,"defined":true}`:      Between(xy(1, 1), xy(3, 7)),
		`{"slope":null,"computed":true,"defined":false}`:  Between(xy(1, 1), xy(1, 9)),
		`{"slope":null,"computed":false,"defined":false}`: {},
	}
	for want, v := range cases {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %+v: %v", v, err)
		}
		if string(b) != want {
			t.Fatalf("expected %s, got %s", want, b)
		}
	}

	var back Value
	if err := json.Unmarshal([]byte(`{"slope":null,"computed":true,"defined":false}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Computed || back.Finite() {
		t.Fatalf("expected computed undefined slope, got %+v", back)
	}
}
