package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/TensileFlow/internal/adapters/queue"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

type mockWAL struct {
	mu        sync.Mutex
	sizes     []int64
	idx       int
	entries   []*domain.Sample
	committed ports.WALEntryID
	truncated int
}

func (m *mockWAL) Append(s *domain.Sample) (ports.WALEntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, s)
	return ports.WALEntryID(len(m.entries)), nil
}

func (m *mockWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, s *domain.Sample) error) error {
	for i, s := range m.entries {
		id := ports.WALEntryID(i + 1)
		if id < from {
			continue
		}
		if err := fn(id, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockWAL) Commit(upto ports.WALEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upto > m.committed {
		m.committed = upto
	}
	return nil
}

func (m *mockWAL) TruncateCommitted() error {
	m.truncated++
	return nil
}

func (m *mockWAL) Stats() ports.WALStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := ports.WALStats{
		OldestUncommitted: m.committed + 1,
		LatestAppended:    ports.WALEntryID(len(m.entries)),
	}
	if len(m.sizes) > 0 {
		if m.idx >= len(m.sizes) {
			stats.SizeBytes = m.sizes[len(m.sizes)-1]
		} else {
			stats.SizeBytes = m.sizes[m.idx]
			m.idx++
		}
	}
	return stats
}

type mockQueue struct {
	failures   int
	failAlways bool
	calls      int
	items      []ports.QueuedSample
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, s *domain.Sample) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if m.failures > 0 {
		m.failures--
		return false
	}
	m.items = append(m.items, ports.QueuedSample{ID: id, Sample: s})
	return true
}

func (m *mockQueue) DequeueBatch(max int) []ports.QueuedSample {
	if max <= 0 || max > len(m.items) {
		max = len(m.items)
	}
	out := m.items[:max]
	m.items = m.items[max:]
	return out
}

func (m *mockQueue) Len() int { return len(m.items) }

type mockObs struct {
	mu        sync.Mutex
	errors    []string
	infos     []string
	counters  map[string]float64
	latencies map[string]int
	dlq       []ports.WALEntryID
}

func newMockObs() *mockObs {
	return &mockObs{counters: map[string]float64{}, latencies: map[string]int{}}
}

func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockObs) LogCritical(msg string, err error, fields ...ports.Field) {
	m.LogError(msg, err, fields...)
}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}

func (m *mockObs) ObserveLatency(name string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[name]++
}

func (m *mockObs) SetGauge(string, float64) {}

func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Sample, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, id)
}

type identity struct{}

func (identity) Transform(s *domain.Sample) (*domain.Sample, error) {
	if s.Channel == "bad" {
		return nil, errors.New("no calibration")
	}
	cp := *s
	return &cp, nil
}

func (identity) Version() uint16 { return 3 }

type recordingSink struct {
	batches [][]*domain.Sample
	err     error
}

func (r *recordingSink) WriteBatch(s []*domain.Sample) error {
	r.batches = append(r.batches, s)
	return r.err
}

func (r *recordingSink) Name() string { return "recording" }

type chanCollector struct {
	samples []*domain.Sample
	stopped bool
}

func (c *chanCollector) Start(out chan<- *domain.Sample) error {
	go func() {
		for _, s := range c.samples {
			out <- s
		}
	}()
	return nil
}

func (c *chanCollector) Stop() error {
	c.stopped = true
	return nil
}

func sample(ch string, v float64) *domain.Sample {
	return &domain.Sample{Channel: ch, Timestamp: time.Unix(0, 0), Value: v}
}

func TestWaitForWALCapacityBlocksUntilSpace(t *testing.T) {
	wal := &mockWAL{sizes: []int64{200, 150, 50}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}

	if !waitForWALCapacity(context.Background(), wal, pol, newMockObs()) {
		t.Fatalf("expected capacity to become available")
	}
	if wal.idx != 3 {
		t.Fatalf("expected 3 stats reads, got %d", wal.idx)
	}
}

func TestWaitForWALCapacityDropPolicy(t *testing.T) {
	wal := &mockWAL{sizes: []int64{500}}
	obs := newMockObs()
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "drop"}

	if waitForWALCapacity(context.Background(), wal, pol, obs) {
		t.Fatalf("expected drop policy to refuse the sample")
	}
	if len(obs.errors) != 1 || obs.errors[0] != "wal_full_drop" {
		t.Fatalf("expected wal_full_drop log, got %v", obs.errors)
	}
}

func TestWaitForWALCapacityStopsOnCancel(t *testing.T) {
	wal := &mockWAL{sizes: []int64{500}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if waitForWALCapacity(ctx, wal, pol, newMockObs()) {
		t.Fatalf("expected cancelled wait to give up")
	}
}

func TestEnqueueWithPolicyBlockRetries(t *testing.T) {
	q := &mockQueue{failures: 2}
	pol := ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}

	if !enqueueWithPolicy(context.Background(), q, 1, sample("disp", 1), pol, newMockObs()) {
		t.Fatalf("expected enqueue to succeed after retries")
	}
	if q.calls != 3 {
		t.Fatalf("expected 3 enqueue attempts, got %d", q.calls)
	}
}

func TestEnqueueWithPolicyDropLogs(t *testing.T) {
	q := &mockQueue{failAlways: true}
	obs := newMockObs()

	if enqueueWithPolicy(context.Background(), q, 1, sample("disp", 1), ports.Policy{OnQueueFull: "drop", MaxQueueLen: 4}, obs) {
		t.Fatalf("expected drop policy to fail")
	}
	if len(obs.errors) != 1 || obs.errors[0] != "queue_full_drop" {
		t.Fatalf("expected queue_full_drop log, got %v", obs.errors)
	}
}

func TestRunEdgePersistsBeforeQueueing(t *testing.T) {
	wal := &mockWAL{}
	q := queue.NewMemQueue(8)
	col := &chanCollector{samples: []*domain.Sample{sample("disp", 1), sample("force", 2)}}
	pol := ports.Policy{MaxQueueLen: 8, OnQueueFull: "drop", OnWALFull: "drop"}
	ctx, cancel := context.WithCancel(context.Background())

	done, err := RunEdge(ctx, col, wal, q, pol, newMockObs())
	if err != nil {
		t.Fatalf("run edge: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	batch := q.DequeueBatch(10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 queued samples, got %d", len(batch))
	}
	if batch[0].ID != 1 || batch[1].ID != 2 {
		t.Fatalf("expected WAL ids 1,2, got %d,%d", batch[0].ID, batch[1].ID)
	}
}

func TestReplayWALRequeuesUncommitted(t *testing.T) {
	wal := &mockWAL{}
	for i := 0; i < 4; i++ {
		wal.Append(sample("disp", float64(i)))
	}
	wal.Commit(2)
	q := &mockQueue{}
	obs := newMockObs()

	n, err := ReplayWAL(context.Background(), wal, q, ports.Policy{OnQueueFull: "drop"}, obs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 || len(q.items) != 2 || q.items[0].ID != 3 {
		t.Fatalf("expected entries 3 and 4 replayed, got %d %+v", n, q.items)
	}
	if len(obs.infos) != 1 {
		t.Fatalf("expected replay summary log")
	}
}

func TestReplayWALFailsWhenQueueFullWithoutBlocking(t *testing.T) {
	wal := &mockWAL{}
	wal.Append(sample("disp", 1))
	q := &mockQueue{failAlways: true}

	if _, err := ReplayWAL(context.Background(), wal, q, ports.Policy{OnQueueFull: "drop"}, newMockObs()); err == nil {
		t.Fatalf("expected replay to fail on a full queue")
	}
}

func TestIngestStepDeliversArchivesAndCommits(t *testing.T) {
	wal := &mockWAL{}
	q := &mockQueue{}
	for _, s := range []*domain.Sample{sample("disp", 1), sample("bad", 2), sample("force", 3)} {
		id, _ := wal.Append(s)
		q.Enqueue(id, s)
	}
	sink := &recordingSink{}
	obs := newMockObs()
	var delivered []*domain.Sample
	in := &Ingest{
		WAL:         wal,
		Queue:       q,
		Transformer: identity{},
		Archive:     sink,
		Deliver: func(_ context.Context, batch []*domain.Sample) error {
			delivered = append(delivered, batch...)
			return nil
		},
		Policy: ports.Policy{MaxBatchSize: 10},
		Obs:    obs,
	}

	n, err := in.Step(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3 samples dequeued, got %d err=%v", n, err)
	}
	if len(delivered) != 2 || delivered[0].TransformVer != 3 {
		t.Fatalf("expected 2 calibrated samples delivered, got %+v", delivered)
	}
	if len(obs.dlq) != 1 || obs.dlq[0] != 2 {
		t.Fatalf("expected entry 2 dead-lettered, got %v", obs.dlq)
	}
	if len(sink.batches) != 1 || obs.latencies["tensile_archive_latency_seconds"] != 1 {
		t.Fatalf("expected one archived batch with latency observed")
	}
	if wal.committed != 3 {
		t.Fatalf("expected commit up to 3, got %d", wal.committed)
	}
}

func TestIngestStepCommitsDespiteArchiveFailure(t *testing.T) {
	wal := &mockWAL{}
	q := &mockQueue{}
	id, _ := wal.Append(sample("disp", 1))
	q.Enqueue(id, sample("disp", 1))
	obs := newMockObs()
	in := &Ingest{
		WAL: wal, Queue: q, Transformer: identity{},
		Archive: &recordingSink{err: errors.New("connection refused")},
		Deliver: func(context.Context, []*domain.Sample) error { return nil },
		Policy:  ports.Policy{MaxBatchSize: 10},
		Obs:     obs,
	}

	if _, err := in.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if wal.committed != 1 {
		t.Fatalf("expected commit after engine delivery")
	}
	if len(obs.errors) != 1 || obs.errors[0] != "archive_write_failed" {
		t.Fatalf("expected archive failure to be logged, got %v", obs.errors)
	}
}

func TestIngestStepKeepsEntriesWhenDeliveryFails(t *testing.T) {
	wal := &mockWAL{}
	q := &mockQueue{}
	id, _ := wal.Append(sample("disp", 1))
	q.Enqueue(id, sample("disp", 1))
	in := &Ingest{
		WAL: wal, Queue: q, Transformer: identity{},
		Deliver: func(context.Context, []*domain.Sample) error { return context.Canceled },
		Policy:  ports.Policy{MaxBatchSize: 10},
		Obs:     newMockObs(),
	}

	if _, err := in.Step(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if wal.committed != 0 {
		t.Fatalf("expected nothing committed, got %d", wal.committed)
	}
}

func TestIngestCompactsPastHalfBudget(t *testing.T) {
	wal := &mockWAL{sizes: []int64{80}}
	q := &mockQueue{}
	id, _ := wal.Append(sample("disp", 1))
	q.Enqueue(id, sample("disp", 1))
	in := &Ingest{
		WAL: wal, Queue: q, Transformer: identity{},
		Deliver: func(context.Context, []*domain.Sample) error { return nil },
		Policy:  ports.Policy{MaxBatchSize: 10, MaxWALSizeBytes: 100},
		Obs:     newMockObs(),
	}

	if _, err := in.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if wal.truncated != 1 {
		t.Fatalf("expected one compaction, got %d", wal.truncated)
	}
}

func TestIngestRunStopsOnCancel(t *testing.T) {
	q := queue.NewMemQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	in := &Ingest{
		WAL: &mockWAL{}, Queue: q, Transformer: identity{},
		Deliver: func(context.Context, []*domain.Sample) error { return nil },
		Policy:  ports.Policy{MaxBatchSize: 4, IdleSleep: time.Millisecond},
		Obs:     newMockObs(),
	}
	errc := make(chan error, 1)
	go func() { errc <- in.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ingest loop did not stop")
	}
}
