// Package session keeps the table of recorded sessions and the declarative
// views that slice the combined stream by session time range.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

var (
	ErrRecordingActive  = errors.New("session: a recording is already in progress")
	ErrNotRecording     = errors.New("session: no recording in progress")
	ErrNotFound         = errors.New("session: not found")
	ErrSessionRecording = errors.New("session: session is still recording")
	ErrNameRequired     = errors.New("session: name is required")
	ErrDuplicateName    = errors.New("session: name already in use")
)

// Registry is the single writer of session lifecycle transitions. Sessions
// are kept in an arena keyed by UUID; everything else holds the UUID.
type Registry struct {
	now       func() time.Time
	newID     func() string
	order     []string
	items     map[string]domain.Session
	recording string
	changes   *dataflow.Signal[[]domain.Session]
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for session start and end.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator replaces UUID generation, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func NewRegistry(g *dataflow.Graph, opts ...Option) *Registry {
	r := &Registry{
		now:     g.Now,
		newID:   func() string { return uuid.New().String() },
		items:   make(map[string]domain.Session),
		changes: dataflow.NewSignalWith[[]domain.Session](g, "sessions", nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start opens a new recording session beginning now. A second concurrent
// recording is refused and the active one is returned untouched.
func (r *Registry) Start(meta domain.Metadata, identity domain.Identity) (domain.Session, error) {
	if r.recording != "" {
		return r.items[r.recording], ErrRecordingActive
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return domain.Session{}, ErrNameRequired
	}
	for _, id := range r.order {
		if r.items[id].Metadata.Name == name {
			return domain.Session{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}

	s := domain.Session{
		UUID:      r.newID(),
		Metadata:  domain.Metadata{Name: name},
		Identity:  copyIdentity(identity),
		Start:     r.now(),
		Recording: true,
	}
	r.items[s.UUID] = s
	r.order = append(r.order, s.UUID)
	r.recording = s.UUID
	r.publish()
	return s, nil
}

// Stop finalizes the active recording with end = now.
func (r *Registry) Stop() (domain.Session, error) {
	if r.recording == "" {
		return domain.Session{}, ErrNotRecording
	}
	s := r.items[r.recording]
	end := r.now()
	if end.Before(s.Start) {
		end = s.Start
	}
	s.End = &end
	s.Recording = false
	r.items[s.UUID] = s
	r.recording = ""
	r.publish()
	return s, nil
}

// Delete stops serving a finished session. Views over it go empty and
// their live streams stop forwarding.
func (r *Registry) Delete(id string) error {
	s, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Recording {
		return ErrSessionRecording
	}
	delete(r.items, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.publish()
	return nil
}

func (r *Registry) Get(id string) (domain.Session, bool) {
	s, ok := r.items[id]
	return s, ok
}

// Recording returns the session currently recording, if any.
func (r *Registry) Recording() (domain.Session, bool) {
	if r.recording == "" {
		return domain.Session{}, false
	}
	return r.items[r.recording], true
}

// List returns the sessions in creation order.
func (r *Registry) List() []domain.Session {
	out := make([]domain.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Changes emits the session list after every lifecycle transition.
func (r *Registry) Changes() *dataflow.Node[[]domain.Session] { return r.changes.Node }

func (r *Registry) publish() {
	r.changes.Set(r.List())
}

func copyIdentity(src domain.Identity) domain.Identity {
	if len(src) == 0 {
		return nil
	}
	dst := make(domain.Identity, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
