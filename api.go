// Package tensileflow re-exports pkg/tensileflow so applications can import
// the module root directly.
package tensileflow

import (
	"io"

	base "github.com/ghalamif/TensileFlow/pkg/tensileflow"
)

var (
	ErrNoCollector       = base.ErrNoCollector
	ErrStopped           = base.ErrStopped
	ErrStarted           = base.ErrStarted
	ErrCollectorStopped  = base.ErrCollectorStopped
	ErrCollectorStarted  = base.ErrCollectorStarted
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

type (
	Config            = base.Config
	Policy            = base.Policy
	OPCUAConfig       = base.OPCUAConfig
	OPCUANodeConfig   = base.OPCUANodeConfig
	ChannelsConfig    = base.ChannelsConfig
	Gain              = base.Gain
	InteractionConfig = base.InteractionConfig
	ArchiveConfig     = base.ArchiveConfig
	MetricsConfig     = base.MetricsConfig
	UIConfig          = base.UIConfig
	WALConfig         = base.WALConfig
	ExportConfig      = base.ExportConfig
	LogConfig         = base.LogConfig

	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	Option          = base.Option

	Engine       = base.Engine
	Sample       = base.Sample
	XY           = base.XY
	Point        = base.Point
	Session      = base.Session
	Selection    = base.Selection
	Summary      = base.Summary
	PointerEvent = base.PointerEvent
	PointerState = base.PointerState
	Slope        = base.Slope
	Aggregate    = base.Aggregate

	ExportJob     = base.ExportJob
	ExportEvent   = base.ExportEvent
	ExportResult  = base.ExportResult
	ExportOutcome = base.ExportOutcome

	ExternalCollector = base.ExternalCollector
	SampleBatchSink   = base.SampleBatchSink
	Collector         = base.Collector
	Sink              = base.Sink
	Transformer       = base.Transformer
	SampleQueue       = base.SampleQueue
	WAL               = base.WAL
	WALStats          = base.WALStats
	WALEntryID        = base.WALEntryID
	Observability     = base.Observability
	Field             = base.Field
)

const (
	PointerDown  = base.PointerDown
	PointerMove  = base.PointerMove
	PointerUp    = base.PointerUp
	PointerLeave = base.PointerLeave

	ExportComplete  = base.ExportComplete
	ExportCancelled = base.ExportCancelled
	ExportFailed    = base.ExportFailed
)

func LoadConfig(path string) (*Config, error) { return base.LoadConfig(path) }
func ParseConfig(raw []byte) (*Config, error) { return base.ParseConfig(raw) }
func DefaultConfig() *Config                  { return base.DefaultConfig() }

func Conf(path string, opts ...FlowOption) (*Flow, error) { return base.Conf(path, opts...) }

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithRuntimeOptions(opts ...Option) FlowOption   { return base.WithRuntimeOptions(opts...) }
func StreamInCollector(col Collector) StreamInOption { return base.StreamInCollector(col) }
func StreamInQueue(q SampleQueue) StreamInOption     { return base.StreamInQueue(q) }
func StreamInWAL(w WAL) StreamInOption               { return base.StreamInWAL(w) }

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTransformer(tr Transformer) StreamOutOption { return base.StreamOutTransformer(tr) }
func StreamOutArchive(s Sink) StreamOutOption             { return base.StreamOutArchive(s) }

func StreamOutCallback(name string, fn SampleBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) { return base.NewRuntime(cfg, opts...) }

func WithCollector(col Collector) Option         { return base.WithCollector(col) }
func WithArchive(s Sink) Option                  { return base.WithArchive(s) }
func WithTransformer(tr Transformer) Option      { return base.WithTransformer(tr) }
func WithWAL(w WAL) Option                       { return base.WithWAL(w) }
func WithSampleQueue(q SampleQueue) Option       { return base.WithSampleQueue(q) }
func WithObservability(obs Observability) Option { return base.WithObservability(obs) }
func WithLogOutput(w io.Writer) Option           { return base.WithLogOutput(w) }

func NewExternalCollector(source string) *ExternalCollector {
	return base.NewExternalCollector(source)
}

func NewCallbackSink(name string, fn SampleBatchSink) Sink { return base.NewCallbackSink(name, fn) }

func NewChannelSink(name string, buffer int) (Sink, <-chan []Sample, func()) {
	return base.NewChannelSink(name, buffer)
}
