package plugin

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
)

var (
	ErrNotAutomatable = errors.New("parameter is not automatable")
	ErrInvalidValue   = errors.New("invalid parameter value")
	ErrEmptyCurve     = errors.New("automation curve has no points")
)

// Parameter is a plugin control value. The manual value is written by the
// control thread; Current is what Process reads. Both are stored atomically
// so setters never race with processing.
type Parameter struct {
	Name        string  `json:"name"`
	Unit        string  `json:"unit,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Default     float64 `json:"default"`
	Automatable bool    `json:"automatable"`

	value   atomic.Uint64
	current atomic.Uint64
	curve   atomic.Pointer[Curve]
}

// NewParameter creates an automatable parameter initialised to def.
func NewParameter(name, unit string, min, max, def float64) *Parameter {
	p := &Parameter{Name: name, Unit: unit, Min: min, Max: max, Default: def, Automatable: true}
	v := p.clamp(def)
	p.value.Store(math.Float64bits(v))
	p.current.Store(math.Float64bits(v))
	return p
}

func (p *Parameter) clamp(v float64) float64 {
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// Set assigns the manual value, clamped to [Min, Max], and returns the value
// actually stored. An active automation curve still overrides it.
func (p *Parameter) Set(v float64) (float64, error) {
	if math.IsNaN(v) {
		return p.Value(), fmt.Errorf("%w: %s is NaN", ErrInvalidValue, p.Name)
	}
	v = p.clamp(v)
	p.value.Store(math.Float64bits(v))
	if p.curve.Load() == nil {
		p.current.Store(math.Float64bits(v))
	}
	return v, nil
}

// Value returns the manual value.
func (p *Parameter) Value() float64 { return math.Float64frombits(p.value.Load()) }

// Current returns the value plugins should use for the block being processed.
func (p *Parameter) Current() float64 { return math.Float64frombits(p.current.Load()) }

// Automate installs a curve that overrides the manual value.
func (p *Parameter) Automate(c *Curve) error {
	if !p.Automatable {
		return fmt.Errorf("%w: %s", ErrNotAutomatable, p.Name)
	}
	if c == nil || len(c.points) == 0 {
		return ErrEmptyCurve
	}
	p.curve.Store(c)
	return nil
}

// ClearAutomation removes the curve and restores the manual value.
func (p *Parameter) ClearAutomation() {
	p.curve.Store(nil)
	p.current.Store(p.value.Load())
}

// Automation returns the active curve, if any.
func (p *Parameter) Automation() *Curve { return p.curve.Load() }

// Update evaluates automation at the transport position. Real-time safe.
func (p *Parameter) Update(pos int64) {
	c := p.curve.Load()
	if c == nil {
		return
	}
	p.current.Store(math.Float64bits(p.clamp(c.At(pos))))
}

// Point is one automation breakpoint.
type Point struct {
	Frame int64   `json:"frame"`
	Value float64 `json:"value"`
}

// Curve maps transport position to a value with linear interpolation
// between breakpoints; it holds the first and last values outside its range.
// A Curve is immutable once built.
type Curve struct {
	points []Point
}

// NewCurve builds a curve from breakpoints in any order.
func NewCurve(points ...Point) (*Curve, error) {
	if len(points) == 0 {
		return nil, ErrEmptyCurve
	}
	ps := make([]Point, len(points))
	copy(ps, points)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Frame < ps[j].Frame })
	for _, pt := range ps {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			return nil, fmt.Errorf("%w: breakpoint at %d", ErrInvalidValue, pt.Frame)
		}
	}
	return &Curve{points: ps}, nil
}

// Points returns a copy of the breakpoints.
func (c *Curve) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// At evaluates the curve. It does not allocate.
func (c *Curve) At(pos int64) float64 {
	ps := c.points
	if pos <= ps[0].Frame {
		return ps[0].Value
	}
	last := ps[len(ps)-1]
	if pos >= last.Frame {
		return last.Value
	}
	// first index with Frame > pos
	lo, hi := 0, len(ps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if ps[mid].Frame <= pos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	a, b := ps[lo-1], ps[lo]
	t := float64(pos-a.Frame) / float64(b.Frame-a.Frame)
	return a.Value + (b.Value-a.Value)*t
}
