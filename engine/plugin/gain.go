package plugin

import "github.com/shaban/mixengine/engine/buffer"

// Gain scales its input by a single linear factor.
type Gain struct {
	gain *Parameter
}

func NewGain() *Gain {
	return &Gain{gain: NewParameter("gain", "linear", 0, 4, 1)}
}

func (g *Gain) Name() string { return "Gain" }

func (g *Gain) Parameters() []*Parameter { return []*Parameter{g.gain} }

func (g *Gain) Latency() int { return 0 }

func (g *Gain) Reset() {}

func (g *Gain) Prepare(float64, int, int) error { return nil }

func (g *Gain) Process(in, out buffer.Buffer, frames int) Status {
	out.CopyFrom(in, frames)
	out.Scale(frames, float32(g.gain.Current()))
	return StatusOK
}
