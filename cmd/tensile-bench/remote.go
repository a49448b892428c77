package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghalamif/TensileFlow/internal/adapters/wsapi"
)

type wireMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func dialBench(ctx context.Context, url string) (*websocket.Conn, wsapi.State, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, wsapi.State{}, fmt.Errorf("dial %s: %w", url, err)
	}
	msg, err := readMessage(ctx, conn, func(m wireMessage) bool { return m.Type == wsapi.TypeState })
	if err != nil {
		conn.Close()
		return nil, wsapi.State{}, err
	}
	var st wsapi.State
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		conn.Close()
		return nil, wsapi.State{}, fmt.Errorf("decode state: %w", err)
	}
	return conn, st, nil
}

func readMessage(ctx context.Context, conn *websocket.Conn, match func(wireMessage) bool) (wireMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return msg, err
		}
		if match(msg) {
			return msg, nil
		}
	}
}

func sessionsCommand(args []string) error {
	fs := newFlagSet("sessions")
	url := fs.String("url", "ws://localhost:9100/ws", "Bench UI socket")
	timeout := fs.Duration("timeout", 5*time.Second, "Connection timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	conn, st, err := dialBench(ctx, *url)
	if err != nil {
		return err
	}
	defer conn.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tNAME\tSTART\tEND\tSELECTED")
	for _, s := range st.Sessions {
		end := "recording"
		if s.End != nil {
			end = s.End.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
			s.UUID, s.Metadata.Name, s.Start.Format(time.RFC3339), end, st.Legend[s.UUID].Selected)
	}
	if st.Aggregate.Valid {
		fmt.Fprintf(tw, "\naverage slope\t%g over %d sessions\n", st.Aggregate.Mean, st.Aggregate.Count)
	}
	return tw.Flush()
}

func exportCommand(args []string) error {
	fs := newFlagSet("export")
	url := fs.String("url", "ws://localhost:9100/ws", "Bench UI socket")
	id := fs.String("session", "", "Session UUID to export")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up and cancel the export after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-session is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	conn, _, err := dialBench(ctx, *url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsapi.Command{ID: "export", Type: "export", Session: *id}); err != nil {
		return err
	}
	reply, err := readMessage(ctx, conn, func(m wireMessage) bool { return m.Type == wsapi.TypeReply && m.ID == "export" })
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	var job struct {
		Job string `json:"job"`
	}
	if err := json.Unmarshal(reply.Data, &job); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	done, err := readMessage(ctx, conn, func(m wireMessage) bool {
		if m.Type != wsapi.TypeExport {
			return false
		}
		var ev struct {
			Job string `json:"job"`
		}
		return json.Unmarshal(m.Data, &ev) == nil && ev.Job == job.Job
	})
	if err != nil {
		// best effort; the deadline has usually passed
		_ = conn.WriteJSON(wsapi.Command{Type: "export_cancel", Job: job.Job})
		return fmt.Errorf("waiting for export %s: %w", job.Job, err)
	}

	var ev struct {
		Outcome string `json:"outcome"`
		Rows    int    `json:"rows"`
		Path    string `json:"path"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(done.Data, &ev); err != nil {
		return fmt.Errorf("decode export event: %w", err)
	}
	if ev.Error != "" {
		return fmt.Errorf("export %s: %s", ev.Outcome, ev.Error)
	}
	fmt.Printf("export %s: %d rows -> %s\n", ev.Outcome, ev.Rows, ev.Path)
	return nil
}
