package tensileflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/TensileFlow/internal/adapters/wsapi"
	"github.com/ghalamif/TensileFlow/internal/app/bench"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/export"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

// ExportJob is one CSV export running on its own goroutine.
type ExportJob struct {
	ID        string
	SessionID string

	tok  *export.Token
	done chan struct{}
	res  export.Result
	err  error
}

// Cancel asks the export to stop before its next row. It is idempotent.
func (j *ExportJob) Cancel() { j.tok.Cancel() }

func (j *ExportJob) Done() <-chan struct{} { return j.done }

// Wait blocks until the export finished or ctx is done.
func (j *ExportJob) Wait(ctx context.Context) (ExportResult, error) {
	select {
	case <-j.done:
		return j.res, j.err
	case <-ctx.Done():
		return ExportResult{}, ctx.Err()
	}
}

// ExportEvent is broadcast to UI clients when an export finishes.
type ExportEvent struct {
	Job     string        `json:"job"`
	Session string        `json:"session"`
	Outcome ExportOutcome `json:"outcome"`
	Rows    int           `json:"rows"`
	Path    string        `json:"path"`
	Error   string        `json:"error,omitempty"`
}

type jobs struct {
	mu     sync.Mutex
	active map[string]*ExportJob
	wg     sync.WaitGroup
}

func newJobs() *jobs { return &jobs{active: make(map[string]*ExportJob)} }

func (js *jobs) add(j *ExportJob) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.active[j.ID] = j
	js.wg.Add(1)
}

func (js *jobs) finish(j *ExportJob) {
	js.mu.Lock()
	delete(js.active, j.ID)
	js.mu.Unlock()
	js.wg.Done()
}

func (js *jobs) get(id string) (*ExportJob, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	j, ok := js.active[id]
	return j, ok
}

func (js *jobs) cancelAll() {
	js.mu.Lock()
	defer js.mu.Unlock()
	for _, j := range js.active {
		j.Cancel()
	}
}

func (js *jobs) wait() { js.wg.Wait() }

// Export writes a finished session to <export dir>/<session name>.csv. The
// engine only copies the points; the file is written off the engine
// goroutine, so the curve keeps updating while the export runs.
func (rt *Runtime) Export(ctx context.Context, sessionID string) (*ExportJob, error) {
	var (
		sess   domain.Session
		points []domain.Point
		serr   error
	)
	if err := rt.Do(ctx, func(e *bench.Engine) { sess, points, serr = e.Snapshot(sessionID) }); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}

	rt.mu.Lock()
	parent := rt.ctx
	rt.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	job := &ExportJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		tok:       export.NewToken(parent),
		done:      make(chan struct{}),
	}
	rt.jobs.add(job)
	rt.obs.LogInfo("export_started",
		ports.Field{Key: "job", Value: job.ID},
		ports.Field{Key: "session", Value: sessionID},
		ports.Field{Key: "points", Value: len(points)})

	go func() {
		defer rt.jobs.finish(job)
		start := time.Now()
		job.res, job.err = export.ToFile(rt.cfg.Export.Dir, sess.Metadata.Name, points, export.DefaultColumns(), job.tok, nil)
		defer close(job.done)

		rt.obs.IncCounter(ports.MetricExportRows, float64(job.res.Rows))
		fields := []ports.Field{
			{Key: "job", Value: job.ID},
			{Key: "outcome", Value: job.res.Outcome.String()},
			{Key: "rows", Value: job.res.Rows},
			{Key: "path", Value: job.res.Path},
			{Key: "elapsed", Value: time.Since(start).String()},
		}
		ev := ExportEvent{Job: job.ID, Session: sessionID, Outcome: job.res.Outcome, Rows: job.res.Rows, Path: job.res.Path}
		switch {
		case job.err == nil:
			rt.obs.LogInfo("export_finished", fields...)
		case export.IsCancelled(job.err):
			rt.obs.LogInfo("export_cancelled", fields...)
		default:
			ev.Error = job.err.Error()
			rt.obs.LogError("export_failed", job.err, fields...)
		}
		rt.hub.Broadcast(wsapi.Message{Type: wsapi.TypeExport, Data: ev})
	}()
	return job, nil
}

// CancelExport cancels a running export and reports whether it was found.
func (rt *Runtime) CancelExport(jobID string) bool {
	j, ok := rt.jobs.get(jobID)
	if ok {
		j.Cancel()
	}
	return ok
}

// StartExport starts an export for the UI socket and returns its job id.
func (rt *Runtime) StartExport(sessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := rt.Export(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", sessionID, err)
	}
	return j.ID, nil
}
