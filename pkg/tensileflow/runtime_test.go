package tensileflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/TensileFlow/internal/adapters/queue"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/session"
)

type stubCollector struct{ stopped bool }

func (s *stubCollector) Start(chan<- *domain.Sample) error { return nil }
func (s *stubCollector) Stop() error                       { s.stopped = true; return nil }

type stubTransformer struct{}

func (stubTransformer) Transform(s *domain.Sample) (*domain.Sample, error) { return s, nil }
func (stubTransformer) Version() uint16                                    { return 7 }

type stubWAL struct{}

func (stubWAL) Append(*domain.Sample) (WALEntryID, error)                        { return 1, nil }
func (stubWAL) Iterate(WALEntryID, func(WALEntryID, *domain.Sample) error) error { return nil }
func (stubWAL) Commit(WALEntryID) error                                          { return nil }
func (stubWAL) TruncateCommitted() error                                         { return nil }
func (stubWAL) Stats() WALStats                                                  { return WALStats{} }

type stubObs struct{}

func (stubObs) LogInfo(string, ...Field)                    {}
func (stubObs) LogError(string, error, ...Field)            {}
func (stubObs) LogCritical(string, error, ...Field)         {}
func (stubObs) IncCounter(string, float64)                  {}
func (stubObs) ObserveLatency(string, float64)              {}
func (stubObs) SetGauge(string, float64)                    {}
func (stubObs) RecordDLQ(WALEntryID, *domain.Sample, error) {}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WAL.Dir = t.TempDir()
	cfg.Export.Dir = t.TempDir()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Policy.IdleSleep = time.Millisecond
	cfg.Log.Level = "error"
	return cfg
}

func TestNewRuntimeRequiresCollector(t *testing.T) {
	_, err := NewRuntime(testConfig(t), WithLogOutput(io.Discard))
	if !errors.Is(err, ErrNoCollector) {
		t.Fatalf("expected ErrNoCollector, got %v", err)
	}
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	col := &stubCollector{}
	q := queue.NewMemQueue(4)
	w := stubWAL{}
	sink := NewCallbackSink("cb", func([]Sample) error { return nil })

	rt, err := NewRuntime(testConfig(t),
		WithCollector(col),
		WithSampleQueue(q),
		WithWAL(w),
		WithTransformer(stubTransformer{}),
		WithArchive(sink),
		WithObservability(stubObs{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if rt.collector != col {
		t.Fatalf("expected custom collector to be used")
	}
	if rt.queue != q {
		t.Fatalf("expected custom queue to be used")
	}
	if rt.wal != w || rt.closeWAL != nil {
		t.Fatalf("expected custom WAL to be used and left open")
	}
	if rt.archive != sink {
		t.Fatalf("expected custom archive to be used")
	}
	if rt.registry != nil {
		t.Fatalf("expected no private registry with custom observability")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRuntimeRecordsAndExportsSession(t *testing.T) {
	cfg := testConfig(t)
	col := NewExternalCollector("test-rig")
	archive, batches, closeArchive := NewChannelSink("tap", 64)
	defer closeArchive()

	rt, err := NewRuntime(cfg, WithCollector(col), WithArchive(archive), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Shutdown(context.Background())

	var (
		sess Session
		serr error
	)
	if err := rt.Do(ctx, func(e *Engine) { sess, serr = e.StartRecording("run-1") }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if serr != nil {
		t.Fatalf("start recording: %v", serr)
	}

	for i := 0; i < 5; i++ {
		ts := sess.Start.Add(time.Duration(i) * time.Microsecond)
		if err := col.Publish(ctx, "disp", ts, float64(i)); err != nil {
			t.Fatalf("publish disp: %v", err)
		}
		if err := col.Publish(ctx, "force", ts, float64(2*i)); err != nil {
			t.Fatalf("publish force: %v", err)
		}
	}

	waitFor(t, "five paired points", func() bool {
		var n int
		_ = rt.Do(ctx, func(e *Engine) { n = len(e.Points()) })
		return n == 5
	})

	var sum Summary
	if err := rt.Do(ctx, func(e *Engine) {
		if _, serr = e.StopRecording(); serr == nil {
			sum, serr = e.Summary(sess.UUID)
		}
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if serr != nil {
		t.Fatalf("stop recording: %v", serr)
	}
	if sum.Points != 5 {
		t.Fatalf("expected 5 points in session, got %d", sum.Points)
	}

	select {
	case batch := <-batches:
		if len(batch) == 0 || batch[0].TransformVer != 1 {
			t.Fatalf("expected calibrated batch on archive tap, got %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("archive tap received nothing")
	}

	job, err := rt.Export(ctx, sess.UUID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	res, err := job.Wait(ctx)
	if err != nil || res.Outcome != ExportComplete || res.Rows != 5 {
		t.Fatalf("expected complete export of 5 rows, got %+v err=%v", res, err)
	}
	raw, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 6 || lines[0] != "timestamp,force,displacement" {
		t.Fatalf("unexpected export content:\n%s", raw)
	}

	resp, err := http.Get("http://" + rt.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "tensile_samples_ingested_total 10") {
		t.Fatalf("expected 10 ingested samples in metrics:\n%s", body)
	}
	if !strings.Contains(string(body), "tensile_export_rows_total 5") {
		t.Fatalf("expected 5 exported rows in metrics")
	}
}

func TestExportRefusesRecordingSession(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), WithCollector(NewExternalCollector("")), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Shutdown(context.Background())

	var sess Session
	_ = rt.Do(ctx, func(e *Engine) { sess, _ = e.StartRecording("open") })
	if _, err := rt.Export(ctx, sess.UUID); !errors.Is(err, session.ErrSessionRecording) {
		t.Fatalf("expected ErrSessionRecording, got %v", err)
	}
	if rt.CancelExport("missing") {
		t.Fatalf("expected unknown job to report false")
	}
}

func TestHealthzAndStartTwice(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), WithCollector(NewExternalCollector("")), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Shutdown(context.Background())

	if err := rt.Start(ctx); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
	resp, err := http.Get("http://" + rt.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDoAfterShutdownReturnsErrStopped(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), WithCollector(NewExternalCollector("")), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := rt.Do(context.Background(), func(*Engine) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
