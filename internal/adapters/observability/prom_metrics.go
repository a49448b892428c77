// Package observability backs ports.Observability with Prometheus metrics
// and zerolog.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var _ ports.Observability = (*PromObs)(nil)

const namespace = "tensile"

type PromObs struct {
	log      *zerolog.Logger
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the bench metrics on a private registry. A nil logger
// logs at info level to stdout.
func NewPromObs(log *zerolog.Logger) *PromObs {
	if log == nil {
		log = NewLogger("info", nil)
	}
	p := &PromObs{
		log:      log,
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}

	p.counter("samples_ingested_total", "Samples appended to a channel.")
	p.counter("samples_dropped_total", "Samples rejected as malformed, out of order or for an unknown channel.")
	p.counter("queue_dropped_total", "Samples lost to queue backpressure.")
	p.counter("dlq_total", "Samples the calibration stage could not transform.")
	p.counter("export_rows_total", "CSV rows written by exports.")
	p.gauge("wal_size_bytes", "Size of the sample WAL on disk.")
	p.gauge("queue_length", "Samples waiting for the engine.")
	p.gauge("sessions", "Recorded sessions currently served.")
	p.histogram("archive_latency_seconds", "Time to write one batch to the archive.", prometheus.ExponentialBuckets(0.001, 2, 12))
	p.histogram("search_latency_seconds", "Time to propagate one pointer event.", prometheus.ExponentialBuckets(0.00005, 2, 14))
	return p
}

func (p *PromObs) counter(name, help string) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	p.registry.MustRegister(c)
	p.counters[namespace+"_"+name] = c
}

func (p *PromObs) gauge(name, help string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	p.registry.MustRegister(g)
	p.gauges[namespace+"_"+name] = g
}

func (p *PromObs) histogram(name, help string, buckets []float64) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets})
	p.registry.MustRegister(h)
	p.histos[namespace+"_"+name] = h
}

// Registry is served by the metrics endpoint.
func (p *PromObs) Registry() *prometheus.Registry { return p.registry }

// Logger is the underlying structured logger.
func (p *PromObs) Logger() *zerolog.Logger { return p.log }

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	withFields(p.log.Info(), fields).Msg(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	withFields(p.log.Error().Err(err), fields).Msg(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	withFields(p.log.WithLevel(zerolog.FatalLevel).Err(err), fields).Msg(msg)
}

func withFields(ev *zerolog.Event, fields []ports.Field) *zerolog.Event {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	return ev
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, s *domain.Sample, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	ev := p.log.Warn().Err(err).Uint64("wal_id", uint64(id))
	if s != nil {
		ev = ev.Str("channel", s.Channel).Uint64("seq", s.Seq)
	}
	ev.Msg("sample_dead_lettered")
}
