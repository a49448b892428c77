// Package calibration converts raw transducer readings into engineering units.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var _ ports.Transformer = (*Linear)(nil)

// ErrNonFinite is returned when calibration produces NaN or Inf.
var ErrNonFinite = errors.New("calibration: non-finite result")

// Gain is value*Scale + Offset. A zero Scale is treated as 1.
type Gain struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

func (g Gain) apply(v float64) float64 {
	scale := g.Scale
	if scale == 0 {
		scale = 1
	}
	return v*scale + g.Offset
}

// Linear applies a per-channel gain. Channels without an entry pass through.
type Linear struct {
	gains   map[string]Gain
	version uint16
}

func NewLinear(gains map[string]Gain, version uint16) *Linear {
	cp := make(map[string]Gain, len(gains))
	for ch, g := range gains {
		cp[ch] = g
	}
	if version == 0 {
		version = 1
	}
	return &Linear{gains: cp, version: version}
}

// Transform returns a calibrated copy of s; the input is left untouched.
func (l *Linear) Transform(s *domain.Sample) (*domain.Sample, error) {
	if s == nil {
		return nil, errors.New("calibration: nil sample")
	}
	out := *s
	if g, ok := l.gains[s.Channel]; ok {
		out.Value = g.apply(s.Value)
	}
	if math.IsNaN(out.Value) || math.IsInf(out.Value, 0) {
		return nil, fmt.Errorf("%w: channel %s raw %v", ErrNonFinite, s.Channel, s.Value)
	}
	return &out, nil
}

func (l *Linear) Version() uint16 { return l.version }
