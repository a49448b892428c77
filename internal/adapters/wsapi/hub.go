// Package wsapi serves the UI over a WebSocket: pointer, legend, recording
// and export commands in, state broadcasts out.
package wsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghalamif/TensileFlow/internal/app/bench"
	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/slope"
)

var (
	ErrUnknownCommand = errors.New("wsapi: unknown command")
	ErrBadCommand     = errors.New("wsapi: malformed command")
)

const (
	sendBuffer   = 64
	writeTimeout = 2 * time.Second
	cmdTimeout   = 5 * time.Second
)

// Backend runs work on the engine goroutine and owns export jobs.
type Backend interface {
	Do(ctx context.Context, fn func(*bench.Engine)) error
	StartExport(sessionID string) (jobID string, err error)
	CancelExport(jobID string) bool
}

type Hub struct {
	backend  Backend
	obs      ports.Observability
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	lmu        sync.Mutex
	lastLegend []byte
}

type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// push queues data without blocking. It reports false when the buffer is full.
func (c *client) push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func NewHub(backend Backend, obs ports.Observability) *Hub {
	return &Hub{
		backend:  backend,
		obs:      obs,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
	}
}

// Attach broadcasts aggregate and session list changes of e. It must run on
// the engine goroutine; the returned function detaches the subscriptions.
func (h *Hub) Attach(e *bench.Engine) (detach func()) {
	cancelAgg := dataflow.Subscribe(e.AggregateChanges(), func(ev dataflow.Event[slope.Aggregate]) {
		h.Broadcast(Message{Type: TypeAggregate, Data: ev.Data})
	})
	cancelSessions := dataflow.Subscribe(e.SessionChanges(), func(ev dataflow.Event[[]domain.Session]) {
		h.Broadcast(Message{Type: TypeSessions, Data: ev.Data})
	})
	e.Graph().Flush()
	return func() {
		cancelAgg()
		cancelSessions()
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogError("ws_upgrade_failed", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	go h.writePump(c)

	var st State
	if err := h.backend.Do(r.Context(), func(e *bench.Engine) { st = snapshot(e) }); err != nil {
		h.obs.LogError("ws_state_failed", err)
		c.close()
		return
	}
	h.enqueue(c, Message{Type: TypeState, Data: st})

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.obs.LogInfo("ws_client_connected", ports.Field{Key: "remote", Value: r.RemoteAddr})

	h.readPump(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			h.enqueue(c, Message{Type: TypeReply, Error: fmt.Errorf("%w: %v", ErrBadCommand, err).Error()})
			continue
		}
		data, legend, err := h.handle(ctx, cmd)
		reply := Message{Type: TypeReply, ID: cmd.ID, Data: data}
		if err != nil {
			reply.Error = err.Error()
			h.obs.LogError("ws_command_failed", err, ports.Field{Key: "command", Value: cmd.Type})
		}
		h.enqueue(c, reply)
		if legend != nil {
			h.broadcastLegend(legend)
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}

// handle runs cmd and returns the reply payload plus the legend after the
// command when the command went through the engine.
func (h *Hub) handle(ctx context.Context, cmd Command) (any, map[string]domain.Selection, error) {
	switch cmd.Type {
	case "export":
		job, err := h.backend.StartExport(cmd.Session)
		if err != nil {
			return nil, nil, err
		}
		return map[string]string{"job": job}, nil, nil
	case "export_cancel":
		return map[string]bool{"cancelled": h.backend.CancelExport(cmd.Job)}, nil, nil
	}

	run, err := engineCommand(cmd)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	var (
		data   any
		legend map[string]domain.Selection
		cerr   error
	)
	if err := h.backend.Do(ctx, func(e *bench.Engine) {
		data, cerr = run(e)
		legend = e.LegendAll()
	}); err != nil {
		return nil, nil, err
	}
	return data, legend, cerr
}

func engineCommand(cmd Command) (func(*bench.Engine) (any, error), error) {
	switch cmd.Type {
	case "state":
		return func(e *bench.Engine) (any, error) { return snapshot(e), nil }, nil
	case "pointer":
		if cmd.Pointer == nil {
			return nil, fmt.Errorf("%w: pointer payload missing", ErrBadCommand)
		}
		ev, err := cmd.Pointer.event()
		if err != nil {
			return nil, err
		}
		return func(e *bench.Engine) (any, error) { return e.Pointer(ev), nil }, nil
	case "record_start":
		return func(e *bench.Engine) (any, error) { return e.StartRecording(cmd.Name) }, nil
	case "record_stop":
		return func(e *bench.Engine) (any, error) { return e.StopRecording() }, nil
	case "delete":
		return func(e *bench.Engine) (any, error) { return nil, e.DeleteSession(cmd.Session) }, nil
	case "toggle":
		return func(e *bench.Engine) (any, error) { return nil, e.Toggle(cmd.Session) }, nil
	case "select", "hover":
		if cmd.Value == nil {
			return nil, fmt.Errorf("%w: %s needs a value", ErrBadCommand, cmd.Type)
		}
		v := *cmd.Value
		if cmd.Type == "hover" {
			return func(e *bench.Engine) (any, error) { return nil, e.SetHovered(cmd.Session, v) }, nil
		}
		return func(e *bench.Engine) (any, error) { return nil, e.SetSelected(cmd.Session, v) }, nil
	case "show_all":
		return func(e *bench.Engine) (any, error) { e.ShowAll(); return nil, nil }, nil
	case "hide_all":
		return func(e *bench.Engine) (any, error) { e.HideAll(); return nil, nil }, nil
	case "clear_live":
		return func(e *bench.Engine) (any, error) { e.ClearLive(); return nil, nil }, nil
	case "summary":
		return func(e *bench.Engine) (any, error) { return e.Summary(cmd.Session) }, nil
	case "slope":
		return func(e *bench.Engine) (any, error) { return e.Slope(cmd.Session) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

func snapshot(e *bench.Engine) State {
	return State{Sessions: e.Sessions(), Legend: e.LegendAll(), Aggregate: e.Aggregate()}
}

// broadcastLegend sends the legend only when it differs from the last one sent.
func (h *Hub) broadcastLegend(legend map[string]domain.Selection) {
	data, err := json.Marshal(Message{Type: TypeLegend, Data: legend})
	if err != nil {
		h.obs.LogError("ws_encode_failed", err)
		return
	}
	h.lmu.Lock()
	same := bytes.Equal(data, h.lastLegend)
	h.lastLegend = data
	h.lmu.Unlock()
	if !same {
		h.broadcastRaw(data)
	}
}

// Broadcast sends msg to every connected client. A client whose buffer is
// full is disconnected rather than allowed to stall the caller.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.obs.LogError("ws_encode_failed", err, ports.Field{Key: "type", Value: msg.Type})
		return
	}
	h.broadcastRaw(data)
}

func (h *Hub) broadcastRaw(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.push(c, data)
	}
}

func (h *Hub) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.obs.LogError("ws_encode_failed", err, ports.Field{Key: "type", Value: msg.Type})
		return
	}
	h.push(c, data)
}

func (h *Hub) push(c *client, data []byte) {
	if c.push(data) {
		return
	}
	h.obs.LogError("ws_client_slow", errors.New("send buffer full"))
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
