// Package bench wires the tensile tester's analysis graph: two channel
// sources are paired into a force/displacement curve, sliced into recorded
// sessions, and queried by pointer hover and drag gestures to derive and
// average stiffness.
//
// An Engine is owned by a single goroutine. Every method is one external
// input and returns after the graph has fully propagated it.
package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/TensileFlow/internal/channel"
	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/drag"
	"github.com/ghalamif/TensileFlow/internal/legend"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/session"
	"github.com/ghalamif/TensileFlow/internal/slope"
)

var ErrUnknownChannel = errors.New("bench: unknown channel")

// Config selects the channels plotted on each axis and how they are paired.
type Config struct {
	X             string
	Y             string
	Policy        dataflow.Policy
	Persist       bool
	DragThreshold float64
	Identity      domain.Identity
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the clock used for session bounds and pointer events.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides session UUID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// Summary describes one recorded session.
type Summary struct {
	Session  domain.Session `json:"session"`
	Points   int            `json:"points"`
	Duration time.Duration  `json:"duration"`
}

type progress struct {
	points int
	last   time.Time
}

type Engine struct {
	cfg Config
	obs ports.Observability

	g        *dataflow.Graph
	sources  map[string]*channel.Source
	combined *dataflow.Store[domain.XY]

	reg     *session.Registry
	legend  *legend.Store
	machine *drag.Machine
	pointer *dataflow.Signal[drag.Pointer]

	aggregate    *dataflow.Signal[slope.Aggregate]
	scope        *dataflow.Scope
	slopes       map[string]slope.Value
	progress     map[string]progress
	hovered      string
	ignoreBefore time.Time
}

func New(cfg Config, obs ports.Observability, opts ...Option) (*Engine, error) {
	if cfg.X == "" || cfg.Y == "" {
		return nil, fmt.Errorf("bench: both axis channels are required")
	}
	if cfg.X == cfg.Y {
		return nil, fmt.Errorf("bench: x and y must be different channels, got %q", cfg.X)
	}
	if obs == nil {
		return nil, fmt.Errorf("bench: observability is required")
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	g := dataflow.NewGraph(dataflow.WithClock(o.now))
	xs := channel.NewSource(g, cfg.X, cfg.Persist)
	ys := channel.NewSource(g, cfg.Y, cfg.Persist)

	pairs := dataflow.Coalesce("pairs", cfg.Policy,
		dataflow.Input[float64]{Name: "x", Node: xs.Node()},
		dataflow.Input[float64]{Name: "y", Node: ys.Node()},
	)
	points := dataflow.Map(pairs, "points", func(r dataflow.Record[float64]) domain.XY {
		return domain.XY{X: r["x"], Y: r["y"]}
	})

	e := &Engine{
		cfg:      cfg,
		obs:      obs,
		g:        g,
		sources:  map[string]*channel.Source{cfg.X: xs, cfg.Y: ys},
		combined: dataflow.Persist(points, "combined"),
		reg:      session.NewRegistry(g, session.WithIDGenerator(o.newID)),
		legend:   legend.NewStore(g),
		machine:  drag.NewMachine(cfg.DragThreshold),
		pointer:  dataflow.NewSignal[drag.Pointer](g, "pointer"),
		slopes:   make(map[string]slope.Value),
		progress: make(map[string]progress),
	}
	e.aggregate = dataflow.NewSignalWith(g, "aggregate", slope.Aggregate{})
	e.rebuild()
	return e, nil
}

// Graph exposes the graph so callers can subscribe to engine nodes.
func (e *Engine) Graph() *dataflow.Graph { return e.g }

// Ingest appends one raw sample. Rejected samples are logged and counted;
// the error is returned for the caller's information only.
func (e *Engine) Ingest(s domain.Sample) error {
	src, ok := e.sources[s.Channel]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownChannel, s.Channel)
		e.drop(s, err)
		return err
	}
	if err := src.Append(s); err != nil {
		e.drop(s, err)
		return err
	}
	e.obs.IncCounter(ports.MetricSamplesIngested, 1)
	return nil
}

func (e *Engine) drop(s domain.Sample, err error) {
	e.obs.IncCounter(ports.MetricSamplesDropped, 1)
	e.obs.LogError("sample_dropped", err,
		ports.Field{Key: "channel", Value: s.Channel},
		ports.Field{Key: "seq", Value: s.Seq})
}

// Points returns the whole combined curve.
func (e *Engine) Points() []domain.Point { return toPoints(e.combined.All()) }

// Live returns the curve shown by the live view, starting at the last clear.
func (e *Engine) Live() []domain.Point {
	return toPoints(e.combined.Slice(e.ignoreBefore, nil))
}

// ClearLive hides everything recorded so far from the live view.
func (e *Engine) ClearLive() {
	e.ignoreBefore = e.g.Now()
	e.obs.LogInfo("live_cleared", ports.Field{Key: "from", Value: e.ignoreBefore})
}

// Latest returns the most recent combined point.
func (e *Engine) Latest() (domain.Point, bool) {
	ev, ok := e.combined.Peek()
	return domain.Point{Time: ev.Time, XY: ev.Data}, ok
}

// Channel returns the latest raw sample of a channel.
func (e *Engine) Channel(name string) (domain.Sample, bool) {
	src, ok := e.sources[name]
	if !ok {
		return domain.Sample{}, false
	}
	return src.Latest()
}

func toPoints(evs []dataflow.Event[domain.XY]) []domain.Point {
	out := make([]domain.Point, len(evs))
	for i, ev := range evs {
		out[i] = domain.Point{Time: ev.Time, XY: ev.Data}
	}
	return out
}
