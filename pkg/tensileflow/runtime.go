package tensileflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/TensileFlow/internal/adapters/archive"
	"github.com/ghalamif/TensileFlow/internal/adapters/calibration"
	"github.com/ghalamif/TensileFlow/internal/adapters/observability"
	"github.com/ghalamif/TensileFlow/internal/adapters/opcua"
	"github.com/ghalamif/TensileFlow/internal/adapters/queue"
	"github.com/ghalamif/TensileFlow/internal/adapters/wal"
	"github.com/ghalamif/TensileFlow/internal/adapters/wsapi"
	"github.com/ghalamif/TensileFlow/internal/app/bench"
	"github.com/ghalamif/TensileFlow/internal/app/pipeline"
	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var (
	ErrNoCollector = errors.New("tensileflow: no collector configured; set opcua.endpoint or use WithCollector")
	ErrStopped     = errors.New("tensileflow: runtime stopped")
	ErrStarted     = errors.New("tensileflow: runtime already started")
)

// Option overrides one of the runtime's default adapters.
type Option func(*overrides)

type overrides struct {
	collector   Collector
	archive     Sink
	transformer Transformer
	wal         WAL
	queue       SampleQueue
	obs         Observability
	logOut      io.Writer
	engine      []bench.Option
}

// WithCollector replaces the OPC UA collector, e.g. with an ExternalCollector.
func WithCollector(col Collector) Option {
	return func(o *overrides) { o.collector = col }
}

// WithArchive receives every batch after the engine accepted it.
func WithArchive(s Sink) Option {
	return func(o *overrides) { o.archive = s }
}

// WithTransformer replaces the configured linear calibration.
func WithTransformer(t Transformer) Option {
	return func(o *overrides) { o.transformer = t }
}

func WithWAL(w WAL) Option {
	return func(o *overrides) { o.wal = w }
}

func WithSampleQueue(q SampleQueue) Option {
	return func(o *overrides) { o.queue = q }
}

// WithObservability replaces the Prometheus and zerolog backend. /metrics then
// serves the default Prometheus registry.
func WithObservability(obs Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithLogOutput redirects the default logger.
func WithLogOutput(w io.Writer) Option {
	return func(o *overrides) { o.logOut = w }
}

// WithEngineOptions passes options to the analysis engine, e.g. a fixed clock.
func WithEngineOptions(opts ...bench.Option) Option {
	return func(o *overrides) { o.engine = append(o.engine, opts...) }
}

// Runtime wires collector, WAL, queue, calibration and the analysis engine,
// and serves metrics and the UI socket. One goroutine owns the engine; every
// other goroutine reaches it through Do.
type Runtime struct {
	cfg         *Config
	policy      ports.Policy
	obs         ports.Observability
	registry    *prometheus.Registry
	wal         ports.WAL
	queue       ports.SampleQueue
	collector   ports.Collector
	transformer ports.Transformer
	archive     ports.Sink
	db          *sql.DB
	closeWAL    func() error

	engine *bench.Engine
	hub    *wsapi.Hub
	cmds   chan func(*bench.Engine)
	jobs   *jobs

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
	workers  sync.WaitGroup
	listener net.Listener
	srv      *http.Server
}

// NewRuntime builds the default adapters from cfg. Any of them can be
// replaced with an Option.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rt := &Runtime{
		cfg:     cfg,
		policy:  cfg.Policy,
		cmds:    make(chan func(*bench.Engine)),
		stopped: make(chan struct{}),
		jobs:    newJobs(),
	}

	rt.obs = o.obs
	if rt.obs == nil {
		prom := observability.NewPromObs(observability.NewLogger(cfg.Log.Level, o.logOut))
		rt.obs, rt.registry = prom, prom.Registry()
	}

	var err error
	rt.wal = o.wal
	if rt.wal == nil {
		fw, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
		rt.wal, rt.closeWAL = fw, fw.Close
	}

	rt.queue = o.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	rt.collector = o.collector
	if rt.collector == nil {
		if cfg.OPCUA.Endpoint == "" {
			return nil, rt.abort(ErrNoCollector)
		}
		if rt.collector, err = opcua.NewCollector(cfg.OPCUA, rt.obs); err != nil {
			return nil, rt.abort(err)
		}
	}

	rt.transformer = o.transformer
	if rt.transformer == nil {
		rt.transformer = calibration.NewLinear(cfg.Calibration, 1)
	}

	rt.archive = o.archive
	if rt.archive == nil && cfg.Archive.Enabled() {
		if rt.db, err = sql.Open("postgres", cfg.Archive.ConnString); err != nil {
			return nil, rt.abort(err)
		}
		if rt.archive, err = archive.NewPostgresArchive(rt.db, cfg.Archive.Table); err != nil {
			return nil, rt.abort(err)
		}
	}

	policy := dataflow.Unsynchronized
	if cfg.Channels.Synchronized() {
		policy = dataflow.Synchronized
	}
	var identity domain.Identity
	if cfg.Channels.DeviceID != "" {
		identity = domain.Identity{"device_id": cfg.Channels.DeviceID}
	}
	rt.engine, err = bench.New(bench.Config{
		X:             cfg.Channels.X,
		Y:             cfg.Channels.Y,
		Policy:        policy,
		Persist:       cfg.Channels.Persisted(),
		DragThreshold: cfg.Interaction.DragThreshold,
		Identity:      identity,
	}, rt.obs, o.engine...)
	if err != nil {
		return nil, rt.abort(err)
	}

	// The engine goroutine is not running yet, so attaching here is safe.
	rt.hub = wsapi.NewHub(rt, rt.obs)
	rt.hub.Attach(rt.engine)
	return rt, nil
}

// abort releases what NewRuntime opened before failing.
func (rt *Runtime) abort(err error) error {
	errs := []error{err}
	if rt.closeWAL != nil {
		errs = append(errs, rt.closeWAL())
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	return errors.Join(errs...)
}

// Start replays the WAL and launches the pipelines, the engine loop and the
// HTTP server. It returns once everything is running.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return ErrStarted
	}
	rt.started = true
	rt.ctx, rt.cancel = context.WithCancel(ctx)

	go rt.loop()

	if s, ok := rt.archive.(interface{ EnsureSchema(context.Context) error }); ok {
		if err := s.EnsureSchema(rt.ctx); err != nil {
			rt.cancel()
			return fmt.Errorf("archive schema: %w", err)
		}
	}

	if _, err := pipeline.ReplayWAL(rt.ctx, rt.wal, rt.queue, rt.policy, rt.obs); err != nil {
		rt.cancel()
		return fmt.Errorf("wal replay: %w", err)
	}

	edgeDone, err := pipeline.RunEdge(rt.ctx, rt.collector, rt.wal, rt.queue, rt.policy, rt.obs)
	if err != nil {
		rt.cancel()
		return err
	}
	rt.workers.Add(1)
	go func() {
		defer rt.workers.Done()
		<-edgeDone
	}()

	ingest := &pipeline.Ingest{
		WAL:         rt.wal,
		Queue:       rt.queue,
		Transformer: rt.transformer,
		Archive:     rt.archive,
		Deliver:     rt.deliver,
		Policy:      rt.policy,
		Obs:         rt.obs,
	}
	rt.workers.Add(1)
	go func() {
		defer rt.workers.Done()
		if err := ingest.Run(rt.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStopped) {
			rt.obs.LogCritical("ingest_stopped", err)
		}
	}()

	if err := rt.serve(); err != nil {
		rt.cancel()
		return err
	}

	rt.workers.Add(1)
	go func() {
		defer rt.workers.Done()
		rt.recordGauges(rt.ctx, time.Second)
	}()

	rt.obs.LogInfo("runtime_started",
		ports.Field{Key: "addr", Value: rt.listener.Addr().String()},
		ports.Field{Key: "x", Value: rt.cfg.Channels.X},
		ports.Field{Key: "y", Value: rt.cfg.Channels.Y})
	return nil
}

func (rt *Runtime) loop() {
	defer close(rt.stopped)
	for {
		select {
		case <-rt.ctx.Done():
			return
		case fn := <-rt.cmds:
			fn(rt.engine)
		}
	}
}

// Do runs fn on the engine goroutine and waits for it to finish. Every call
// is one external input; its effects have fully propagated when Do returns.
// Before Start, Do blocks until ctx is done.
func (rt *Runtime) Do(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	wrapped := func(e *bench.Engine) {
		defer close(done)
		fn(e)
	}
	select {
	case rt.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

func (rt *Runtime) deliver(ctx context.Context, batch []*domain.Sample) error {
	return rt.Do(ctx, func(e *bench.Engine) {
		for _, s := range batch {
			// rejected samples are counted and logged by the engine
			_ = e.Ingest(*s)
		}
	})
}

func (rt *Runtime) serve() error {
	mux := http.NewServeMux()
	if rt.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(rt.cfg.UI.Path, rt.hub)

	ln, err := net.Listen("tcp", rt.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rt.cfg.Metrics.Addr, err)
	}
	rt.listener = ln
	rt.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.obs.LogError("http_server_exited", err)
		}
	}()
	return nil
}

// Addr is the address the HTTP server listens on, empty before Start.
func (rt *Runtime) Addr() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.listener == nil {
		return ""
	}
	return rt.listener.Addr().String()
}

func (rt *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.obs.SetGauge(ports.MetricWALSize, float64(rt.wal.Stats().SizeBytes))
			rt.obs.SetGauge(ports.MetricQueueLength, float64(rt.queue.Len()))
		}
	}
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown stops the collector, cancels running exports, waits for the
// pipelines and closes the WAL, the server and the archive connection.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	cancel := rt.cancel
	srv := rt.srv
	rt.mu.Unlock()

	var errs []error
	if err := rt.collector.Stop(); err != nil {
		errs = append(errs, err)
	}
	rt.jobs.cancelAll()
	if cancel != nil {
		cancel()
	}

	waited := make(chan struct{})
	go func() {
		rt.workers.Wait()
		rt.jobs.wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for pipelines: %w", ctx.Err()))
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	rt.hub.Close()
	if rt.closeWAL != nil {
		if err := rt.closeWAL(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hub exposes the UI socket, for mounting on another server.
func (rt *Runtime) Hub() http.Handler { return rt.hub }
