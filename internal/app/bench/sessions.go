package bench

import (
	"fmt"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/session"
	"github.com/ghalamif/TensileFlow/internal/slope"
	"github.com/ghalamif/TensileFlow/internal/spatial"
)

// StartRecording opens a session named name. While another session is
// recording the request is refused and that session is returned as is.
func (e *Engine) StartRecording(name string) (domain.Session, error) {
	s, err := e.reg.Start(domain.Metadata{Name: name}, e.cfg.Identity)
	if err != nil {
		e.obs.LogError("recording_rejected", err, ports.Field{Key: "name", Value: name})
		return s, err
	}
	e.legend.Ensure(s.UUID, domain.Selection{Selected: true})
	e.rebuild()
	e.obs.LogInfo("recording_started",
		ports.Field{Key: "session", Value: s.UUID},
		ports.Field{Key: "name", Value: s.Metadata.Name})
	return s, nil
}

// StopRecording finalizes the active session.
func (e *Engine) StopRecording() (domain.Session, error) {
	s, err := e.reg.Stop()
	if err != nil {
		return s, err
	}
	e.rebuild()
	e.obs.LogInfo("recording_stopped",
		ports.Field{Key: "session", Value: s.UUID},
		ports.Field{Key: "points", Value: e.progress[s.UUID].points})
	return s, nil
}

// DeleteSession stops serving a finished session and forgets its legend state.
func (e *Engine) DeleteSession(id string) error {
	if err := e.reg.Delete(id); err != nil {
		return err
	}
	e.legend.Remove(id)
	delete(e.slopes, id)
	delete(e.progress, id)
	if e.hovered == id {
		e.hovered = ""
	}
	e.rebuild()
	e.obs.LogInfo("session_deleted", ports.Field{Key: "session", Value: id})
	return nil
}

// Sessions lists the sessions in creation order.
func (e *Engine) Sessions() []domain.Session { return e.reg.List() }

// Session looks up one session.
func (e *Engine) Session(id string) (domain.Session, bool) { return e.reg.Get(id) }

// Recording returns the session currently recording.
func (e *Engine) Recording() (domain.Session, bool) { return e.reg.Recording() }

// SessionChanges emits the session list after every lifecycle transition.
func (e *Engine) SessionChanges() *dataflow.Node[[]domain.Session] { return e.reg.Changes() }

// Summary reports point count and duration of a session.
func (e *Engine) Summary(id string) (Summary, error) {
	s, ok := e.reg.Get(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	p := e.progress[id]
	sum := Summary{Session: s, Points: p.points}
	if p.points > 0 {
		sum.Duration = p.last.Sub(s.Start)
	}
	return sum, nil
}

// Snapshot copies the points of a finished session for export. The copy is
// safe to hand to another goroutine.
func (e *Engine) Snapshot(id string) (domain.Session, []domain.Point, error) {
	s, ok := e.reg.Get(id)
	if !ok {
		return domain.Session{}, nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if s.Recording {
		return s, nil, session.ErrSessionRecording
	}
	return s, toPoints(session.Select(e.reg, id, e.combined).Events()), nil
}

// rebuild replaces every per-session node after the session set changed.
func (e *Engine) rebuild() {
	if e.scope != nil {
		e.scope.Close()
	}
	e.scope = e.g.NewScope()
	e.progress = make(map[string]progress)

	sessions := e.reg.List()
	e.scope.Build(func() {
		if len(sessions) == 0 {
			e.publishAggregate(slope.Aggregate{})
			return
		}
		e.buildSessions(sessions)
	})
	e.g.Flush()
	e.obs.SetGauge(ports.MetricSessions, float64(len(sessions)))
}

func (e *Engine) buildSessions(sessions []domain.Session) {
	var (
		sets    = make([]spatial.Candidates, 0, len(sessions))
		streams = make([]*dataflow.Node[domain.XY], 0, len(sessions))
		inputs  = make([]dataflow.Input[slope.Contribution], 0, len(sessions))
	)
	for _, s := range sessions {
		id := s.UUID
		view := session.Select(e.reg, id, e.combined)
		sets = append(sets, view)

		stream := view.Stream()
		streams = append(streams, stream)
		dataflow.Subscribe(dataflow.Count(stream, "count."+id), func(ev dataflow.Event[int]) {
			e.progress[id] = progress{points: ev.Data, last: ev.Time}
		})

		if in, ok := e.buildSlope(id); ok {
			inputs = append(inputs, in)
		}
	}

	trigger := dataflow.Interleave("sessions.points", streams...)
	e.buildInteraction(sets, trigger)
	e.buildAggregate(inputs)
}
