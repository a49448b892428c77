package wsapi

import (
	"fmt"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/drag"
	"github.com/ghalamif/TensileFlow/internal/slope"
)

// Command is one request from a UI client.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Name    string          `json:"name,omitempty"`
	Value   *bool           `json:"value,omitempty"`
	Job     string          `json:"job,omitempty"`
	Pointer *PointerCommand `json:"pointer,omitempty"`
}

// PointerCommand is a raw pointer event in data coordinates.
type PointerCommand struct {
	Kind        string  `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AspectRatio float64 `json:"aspectRatio"`
}

func (p PointerCommand) event() (drag.Event, error) {
	ev := drag.Event{X: p.X, Y: p.Y, AspectRatio: p.AspectRatio}
	switch p.Kind {
	case "down":
		ev.Kind = drag.Down
	case "move":
		ev.Kind = drag.Move
	case "up":
		ev.Kind = drag.Up
	case "leave":
		ev.Kind = drag.Leave
	default:
		return ev, fmt.Errorf("%w: pointer kind %q", ErrBadCommand, p.Kind)
	}
	return ev, nil
}

// Message is sent to clients, either as a reply to a command or as a broadcast.
type Message struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Message types.
const (
	TypeReply     = "reply"
	TypeState     = "state"
	TypeLegend    = "legend"
	TypeSessions  = "sessions"
	TypeAggregate = "aggregate"
	TypeExport    = "export"
)

// State is the snapshot a client receives on connect.
type State struct {
	Sessions  []domain.Session            `json:"sessions"`
	Legend    map[string]domain.Selection `json:"legend"`
	Aggregate slope.Aggregate             `json:"aggregate"`
}
