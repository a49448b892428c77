package tensileflow

import (
	"context"
	"fmt"
)

// Flow builds a Runtime in three steps: Conf, then StreamIN for the
// transport side, then StreamOUT for calibration and archiving.
type Flow struct {
	cfg  *Config
	opts []Option
}

// FlowOption adjusts the Flow right after the configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures collector, WAL, queue or observability.
type StreamInOption func(*Flow)

// StreamOutOption configures calibration and archiving.
type StreamOutOption func(*Flow)

// Conf loads YAML from path.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the configuration so it can be adjusted before StreamOUT.
func (f *Flow) Config() *Config { return f.cfg }

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies opts and builds the Runtime.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is StreamOUT followed by Runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func (f *Flow) add(opt Option) {
	if opt != nil {
		f.opts = append(f.opts, opt)
	}
}

// WithRuntimeOptions passes raw runtime options through the builder.
func WithRuntimeOptions(opts ...Option) FlowOption {
	return func(f *Flow) {
		for _, opt := range opts {
			f.add(opt)
		}
	}
}

func StreamInCollector(col Collector) StreamInOption {
	return func(f *Flow) {
		if col != nil {
			f.add(WithCollector(col))
		}
	}
}

func StreamInQueue(q SampleQueue) StreamInOption {
	return func(f *Flow) {
		if q != nil {
			f.add(WithSampleQueue(q))
		}
	}
}

func StreamInWAL(w WAL) StreamInOption {
	return func(f *Flow) {
		if w != nil {
			f.add(WithWAL(w))
		}
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.add(WithObservability(obs))
		}
	}
}

// StreamOutTransformer replaces the configured calibration.
func StreamOutTransformer(tr Transformer) StreamOutOption {
	return func(f *Flow) {
		if tr != nil {
			f.add(WithTransformer(tr))
		}
	}
}

// StreamOutArchive sends accepted batches to s instead of the configured archive.
func StreamOutArchive(s Sink) StreamOutOption {
	return func(f *Flow) {
		if s != nil {
			f.add(WithArchive(s))
		}
	}
}

// StreamOutCallback archives through a plain function.
func StreamOutCallback(name string, fn SampleBatchSink) StreamOutOption {
	return func(f *Flow) {
		if fn != nil {
			f.add(WithArchive(NewCallbackSink(name, fn)))
		}
	}
}
