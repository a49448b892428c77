package bench

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ghalamif/TensileFlow/internal/channel"
	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/drag"
	"github.com/ghalamif/TensileFlow/internal/legend"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/session"
)

type stubObs struct {
	counters map[string]float64
	gauges   map[string]float64
	errors   []string
}

func newStubObs() *stubObs {
	return &stubObs{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (s *stubObs) LogInfo(string, ...ports.Field) {}
func (s *stubObs) LogError(msg string, _ error, _ ...ports.Field) {
	s.errors = append(s.errors, msg)
}
func (s *stubObs) LogCritical(msg string, _ error, _ ...ports.Field) {
	s.errors = append(s.errors, msg)
}
func (s *stubObs) IncCounter(name string, v float64)                 { s.counters[name] += v }
func (s *stubObs) ObserveLatency(string, float64)                    {}
func (s *stubObs) SetGauge(name string, v float64)                   { s.gauges[name] = v }
func (s *stubObs) RecordDLQ(ports.WALEntryID, *domain.Sample, error) {}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) at(sec int)     { c.t = time.Unix(int64(sec), 0) }

type harness struct {
	*Engine
	obs   *stubObs
	clock *fakeClock
}

func newHarness(t *testing.T, policy dataflow.Policy) *harness {
	t.Helper()
	clock := &fakeClock{}
	clock.at(0)
	var ids int
	obs := newStubObs()
	e, err := New(Config{X: "disp", Y: "force", Policy: policy, Persist: true, DragThreshold: 0.5}, obs,
		WithClock(clock.now),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("s%d", ids) }),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{Engine: e, obs: obs, clock: clock}
}

func (h *harness) point(t *testing.T, sec int, x, y float64) {
	t.Helper()
	ts := time.Unix(int64(sec), 0)
	if err := h.Ingest(domain.Sample{Channel: "disp", Timestamp: ts, Value: x}); err != nil {
		t.Fatalf("ingest disp: %v", err)
	}
	if err := h.Ingest(domain.Sample{Channel: "force", Timestamp: ts, Value: y}); err != nil {
		t.Fatalf("ingest force: %v", err)
	}
}

func (h *harness) record(t *testing.T, name string, from, to int, pts ...[3]float64) domain.Session {
	t.Helper()
	h.clock.at(from)
	s, err := h.StartRecording(name)
	if err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	for _, p := range pts {
		h.point(t, int(p[0]), p[1], p[2])
	}
	h.clock.at(to)
	if _, err := h.StopRecording(); err != nil {
		t.Fatalf("stop %s: %v", name, err)
	}
	return s
}

func (h *harness) drag(from, to domain.XY) {
	h.Pointer(drag.Event{Kind: drag.Down, X: from.X, Y: from.Y, AspectRatio: 1})
	h.Pointer(drag.Event{Kind: drag.Move, X: to.X, Y: to.Y, AspectRatio: 1})
	h.Pointer(drag.Event{Kind: drag.Up, X: to.X, Y: to.Y, AspectRatio: 1})
}

func TestSynchronizedPairing(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	h.point(t, 0, 0, 0)
	h.point(t, 1, 1, 2)
	h.point(t, 2, 2, 4)

	pts := h.Points()
	want := []domain.XY{{X: 0, Y: 0}, {X: 1, Y: 2}, {X: 2, Y: 4}}
	if len(pts) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(pts))
	}
	for i := range want {
		if pts[i].XY != want[i] {
			t.Fatalf("point %d: expected %+v, got %+v", i, want[i], pts[i].XY)
		}
	}
}

func TestUnsynchronizedPairingEmitsPerUpdate(t *testing.T) {
	h := newHarness(t, dataflow.Unsynchronized)
	h.point(t, 0, 0, 0)
	h.point(t, 1, 1, 2)
	if n := len(h.Points()); n != 3 {
		t.Fatalf("expected one point per update after both channels arrived, got %d", n)
	}
}

func TestDragSlopeAndAggregate(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	s := h.record(t, "S", 10, 20, [3]float64{11, 1, 1}, [3]float64{12, 3, 7}, [3]float64{13, 2, 4})
	tt := h.record(t, "T", 30, 40, [3]float64{31, 100, 100}, [3]float64{32, 101, 103}, [3]float64{33, 100, 110})

	h.drag(domain.XY{X: 1, Y: 1}, domain.XY{X: 3, Y: 7})

	v, err := h.Slope(s.UUID)
	if err != nil || !v.Finite() || v.Slope != 3 {
		t.Fatalf("expected slope 3 on S, got %+v %v", v, err)
	}
	if v, _ := h.Slope(tt.UUID); v.Computed {
		t.Fatalf("T has no drag and must have no slope, got %+v", v)
	}
	if agg := h.Aggregate(); !agg.Valid || agg.Mean != 3 || agg.Count != 1 {
		t.Fatalf("expected aggregate 3 with T excluded, got %+v", agg)
	}

	h.drag(domain.XY{X: 100, Y: 100}, domain.XY{X: 100, Y: 110})
	v, _ = h.Slope(tt.UUID)
	if !v.Computed || v.Finite() {
		t.Fatalf("expected undefined slope for a vertical drag, got %+v", v)
	}
	if agg := h.Aggregate(); agg.Mean != 3 || agg.Count != 1 {
		t.Fatalf("undefined slope must not affect the aggregate, got %+v", agg)
	}

	if err := h.SetSelected(s.UUID, false); err != nil {
		t.Fatalf("deselect: %v", err)
	}
	if agg := h.Aggregate(); agg.Valid {
		t.Fatalf("expected no aggregate with S hidden, got %+v", agg)
	}
}

func TestClickClearsDrag(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	s := h.record(t, "S", 10, 20, [3]float64{11, 1, 1}, [3]float64{12, 3, 7})
	h.drag(domain.XY{X: 1, Y: 1}, domain.XY{X: 3, Y: 7})

	h.Pointer(drag.Event{Kind: drag.Down, X: 1, Y: 1, AspectRatio: 1})
	h.Pointer(drag.Event{Kind: drag.Up, X: 1, Y: 1, AspectRatio: 1})

	st, _ := h.Legend(s.UUID)
	if st.DragStart != nil || st.DragEnd != nil {
		t.Fatalf("expected click to clear the drag, got %+v", st)
	}
	if v, _ := h.Slope(s.UUID); v.Computed {
		t.Fatalf("expected slope to be cleared, got %+v", v)
	}
}

func TestHoverIgnoresHiddenSessions(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	s := h.record(t, "S", 10, 20, [3]float64{11, 5, 5})
	tt := h.record(t, "T", 30, 40, [3]float64{31, 0, 0})

	h.Pointer(drag.Event{Kind: drag.Move, X: 0, Y: 0, AspectRatio: 1})
	if st, _ := h.Legend(tt.UUID); !st.Hovered {
		t.Fatalf("expected T hovered, got %+v", st)
	}

	if err := h.Toggle(tt.UUID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	h.Pointer(drag.Event{Kind: drag.Move, X: 0, Y: 0.1, AspectRatio: 1})
	if st, _ := h.Legend(s.UUID); !st.Hovered {
		t.Fatalf("expected S hovered once T is hidden, got %+v", st)
	}
	if st, _ := h.Legend(tt.UUID); st.Hovered {
		t.Fatalf("hidden T must lose hover, got %+v", st)
	}

	h.Pointer(drag.Event{Kind: drag.Leave, X: 0, Y: 0.1})
	if st, _ := h.Legend(s.UUID); st.Hovered {
		t.Fatalf("expected hover cleared on leave, got %+v", st)
	}
}

func TestSecondRecordingIsRejected(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	h.clock.at(5)
	first, err := h.StartRecording("first")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.at(6)
	got, err := h.StartRecording("second")
	if !errors.Is(err, session.ErrRecordingActive) {
		t.Fatalf("expected ErrRecordingActive, got %v", err)
	}
	if got.UUID != first.UUID || len(h.Sessions()) != 1 {
		t.Fatalf("existing recording must be left untouched, got %+v", got)
	}
	if rec, _ := h.Recording(); !rec.Start.Equal(time.Unix(5, 0)) {
		t.Fatalf("recording start changed: %+v", rec)
	}
}

func TestLiveSessionGrowsAndSummary(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	h.clock.at(10)
	s, _ := h.StartRecording("S")
	h.point(t, 11, 1, 1)
	if sum, _ := h.Summary(s.UUID); sum.Points != 1 {
		t.Fatalf("expected live session to include new point, got %+v", sum)
	}
	h.point(t, 13, 2, 2)

	sum, err := h.Summary(s.UUID)
	if err != nil || sum.Points != 2 || sum.Duration != 3*time.Second {
		t.Fatalf("unexpected summary %+v %v", sum, err)
	}
	if _, _, err := h.Snapshot(s.UUID); !errors.Is(err, session.ErrSessionRecording) {
		t.Fatalf("expected export of a recording session to be refused, got %v", err)
	}
	if err := h.DeleteSession(s.UUID); !errors.Is(err, session.ErrSessionRecording) {
		t.Fatalf("expected delete of a recording session to be refused, got %v", err)
	}

	h.clock.at(20)
	h.StopRecording()
	h.point(t, 25, 3, 3)
	_, pts, err := h.Snapshot(s.UUID)
	if err != nil || len(pts) != 2 {
		t.Fatalf("expected 2 points after end, got %d %v", len(pts), err)
	}
}

func TestDeleteSessionDetachesState(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	s := h.record(t, "S", 10, 20, [3]float64{11, 1, 1}, [3]float64{12, 3, 7})
	h.drag(domain.XY{X: 1, Y: 1}, domain.XY{X: 3, Y: 7})
	_, before, _ := h.Snapshot(s.UUID)

	if err := h.DeleteSession(s.UUID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := h.Legend(s.UUID); ok {
		t.Fatalf("legend entry must be removed")
	}
	if agg := h.Aggregate(); agg.Valid {
		t.Fatalf("aggregate must drop the deleted session, got %+v", agg)
	}
	if len(before) != 2 {
		t.Fatalf("materialized snapshot must survive deletion, got %d", len(before))
	}
	if err := h.DeleteSession(s.UUID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.obs.gauges["tensile_sessions"] != 0 {
		t.Fatalf("expected session gauge 0, got %v", h.obs.gauges["tensile_sessions"])
	}
}

func TestIngestDropsBadSamples(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	h.point(t, 5, 1, 1)

	err := h.Ingest(domain.Sample{Channel: "disp", Timestamp: time.Unix(4, 0), Value: 2})
	if !errors.Is(err, channel.ErrOutOfOrder) {
		t.Fatalf("expected out of order, got %v", err)
	}
	err = h.Ingest(domain.Sample{Channel: "temp", Timestamp: time.Unix(6, 0), Value: 2})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel, got %v", err)
	}
	if got := h.obs.counters["tensile_samples_dropped_total"]; got != 2 {
		t.Fatalf("expected 2 drops, got %v", got)
	}
	if got := h.obs.counters["tensile_samples_ingested_total"]; got != 2 {
		t.Fatalf("expected 2 ingested, got %v", got)
	}
	if len(h.Points()) != 1 {
		t.Fatalf("dropped samples must not reach the curve")
	}
}

func TestClearLive(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	h.point(t, 1, 1, 1)
	h.clock.at(2)
	h.ClearLive()
	h.point(t, 3, 2, 2)

	live := h.Live()
	if len(live) != 1 || live[0].X != 2 {
		t.Fatalf("expected only the point after clear, got %+v", live)
	}
	if len(h.Points()) != 2 {
		t.Fatalf("clear must not discard history")
	}
}

func TestShowAllHideAll(t *testing.T) {
	h := newHarness(t, dataflow.Synchronized)
	s := h.record(t, "S", 10, 20, [3]float64{11, 1, 1})

	h.HideAll()
	for id, st := range h.LegendAll() {
		if st.Selected || st.Hovered {
			t.Fatalf("%s still visible after hide all: %+v", id, st)
		}
	}
	h.ShowAll()
	if st, _ := h.Legend(legend.LiveID); !st.Selected {
		t.Fatalf("expected live visible after show all")
	}
	if st, _ := h.Legend(s.UUID); !st.Selected {
		t.Fatalf("expected session visible after show all")
	}
}
