package plugin

import (
	"math"

	"github.com/shaban/mixengine/engine/buffer"
)

// Tremolo modulates amplitude with a sine LFO.
type Tremolo struct {
	rate, depth *Parameter

	sampleRate float64
	phase      float64
}

func NewTremolo() *Tremolo {
	return &Tremolo{
		rate:       NewParameter("rate", "Hz", 0.01, 20, 5),
		depth:      NewParameter("depth", "", 0, 1, 0.5),
		sampleRate: 48000,
	}
}

func (t *Tremolo) Name() string { return "Tremolo" }

func (t *Tremolo) Parameters() []*Parameter { return []*Parameter{t.rate, t.depth} }

func (t *Tremolo) Latency() int { return 0 }

func (t *Tremolo) Prepare(sampleRate float64, _ int, _ int) error {
	t.sampleRate = sampleRate
	t.phase = 0
	return nil
}

func (t *Tremolo) Reset() { t.phase = 0 }

func (t *Tremolo) Process(in, out buffer.Buffer, frames int) Status {
	inc := t.rate.Current() / t.sampleRate
	depth := t.depth.Current()
	sc := len(in.Data)
	for i := 0; i < frames; i++ {
		lfo := 0.5 + 0.5*math.Sin(2*math.Pi*t.phase)
		g := float32(1 - depth*lfo)
		for ch, dst := range out.Data {
			dst[i] = in.Data[ch%sc][i] * g
		}
		t.phase += inc
		if t.phase >= 1 {
			t.phase -= 1
		}
	}
	return StatusOK
}
