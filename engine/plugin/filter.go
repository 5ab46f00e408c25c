package plugin

import (
	"math"

	"github.com/shaban/mixengine/engine/buffer"
)

// Filter modes selected by the "mode" parameter.
const (
	FilterLowpass = iota
	FilterHighpass
	FilterBandpass
)

// Filter is a resonant biquad (RBJ cookbook, direct form I).
type Filter struct {
	mode, freq, q *Parameter

	sampleRate float64
	// coefficient cache, recomputed when a parameter moves
	lastMode, lastFreq, lastQ float64
	b0, b1, b2, a1, a2        float32

	x1, x2, y1, y2 []float32
}

func NewFilter() *Filter {
	f := &Filter{
		mode:       NewParameter("mode", "", FilterLowpass, FilterBandpass, FilterLowpass),
		freq:       NewParameter("frequency", "Hz", 20, 20000, 1000),
		q:          NewParameter("q", "", 0.1, 10, 0.707),
		sampleRate: 48000,
		lastFreq:   -1,
	}
	f.mode.Automatable = false
	return f
}

func (f *Filter) Name() string { return "Filter" }

func (f *Filter) Parameters() []*Parameter { return []*Parameter{f.mode, f.freq, f.q} }

func (f *Filter) Latency() int { return 0 }

func (f *Filter) Prepare(sampleRate float64, _ int, channels int) error {
	f.sampleRate = sampleRate
	f.x1 = make([]float32, channels)
	f.x2 = make([]float32, channels)
	f.y1 = make([]float32, channels)
	f.y2 = make([]float32, channels)
	f.lastFreq = -1
	return nil
}

func (f *Filter) Reset() {
	for i := range f.x1 {
		f.x1[i], f.x2[i], f.y1[i], f.y2[i] = 0, 0, 0, 0
	}
}

func (f *Filter) updateCoefficients() {
	mode, freq, q := math.Round(f.mode.Current()), f.freq.Current(), f.q.Current()
	if mode == f.lastMode && freq == f.lastFreq && q == f.lastQ {
		return
	}
	f.lastMode, f.lastFreq, f.lastQ = mode, freq, q

	if nyq := f.sampleRate * 0.49; freq > nyq {
		freq = nyq
	}
	omega := 2 * math.Pi * freq / f.sampleRate
	sin, cos := math.Sin(omega), math.Cos(omega)
	alpha := sin / (2 * q)

	var b0, b1, b2 float64
	switch int(mode) {
	case FilterHighpass:
		b0 = (1 + cos) / 2
		b1 = -(1 + cos)
		b2 = (1 + cos) / 2
	case FilterBandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		b0 = (1 - cos) / 2
		b1 = 1 - cos
		b2 = (1 - cos) / 2
	}
	a0 := 1 + alpha
	f.b0 = float32(b0 / a0)
	f.b1 = float32(b1 / a0)
	f.b2 = float32(b2 / a0)
	f.a1 = float32(-2 * cos / a0)
	f.a2 = float32((1 - alpha) / a0)
}

func (f *Filter) Process(in, out buffer.Buffer, frames int) Status {
	if len(f.x1) < len(out.Data) {
		return StatusError
	}
	f.updateCoefficients()
	sc := len(in.Data)
	for ch, dst := range out.Data {
		src := in.Data[ch%sc]
		x1, x2, y1, y2 := f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch]
		for i := 0; i < frames; i++ {
			x0 := src[i]
			y0 := f.b0*x0 + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
			x2, x1 = x1, x0
			y2, y1 = y1, y0
			dst[i] = y0
		}
		f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch] = x1, x2, y1, y2
	}
	return StatusOK
}
