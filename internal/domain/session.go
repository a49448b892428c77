package domain

import "time"

// Metadata is the user-facing description of a recorded session.
type Metadata struct {
	Name string `json:"name"`
}

// Identity ties a session to the device it was recorded from.
type Identity map[string]string

// Session is a named, time-bounded window over the combined point stream.
// End is nil while the session is still open.
type Session struct {
	UUID      string     `json:"uuid"`
	Metadata  Metadata   `json:"metadata"`
	Identity  Identity   `json:"identity,omitempty"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end"`
	Recording bool       `json:"recording"`
}

// Contains reports whether t falls within [Start, End).
func (s Session) Contains(t time.Time) bool {
	if t.Before(s.Start) {
		return false
	}
	return s.End == nil || t.Before(*s.End)
}

// Selection is the per-session legend state shared with the UI.
type Selection struct {
	Selected  bool `json:"selected"`
	Hovered   bool `json:"hovered"`
	DragStart *XY  `json:"dragStart"`
	DragEnd   *XY  `json:"dragEnd"`
}

// SameDrag reports whether both selections carry identical drag endpoints.
func (s Selection) SameDrag(o Selection) bool {
	return sameXY(s.DragStart, o.DragStart) && sameXY(s.DragEnd, o.DragEnd)
}

func sameXY(a, b *XY) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
