package plugin

import (
	"math"

	"github.com/shaban/mixengine/engine/buffer"
)

const maxDelayMs = 2000

// Delay is a feedback echo with a dry/wet mix.
type Delay struct {
	time, feedback, mix *Parameter

	sampleRate float64
	lines      [][]float32
	pos        int
}

func NewDelay() *Delay {
	return &Delay{
		time:       NewParameter("time", "ms", 1, maxDelayMs, 250),
		feedback:   NewParameter("feedback", "", 0, 0.95, 0.3),
		mix:        NewParameter("mix", "", 0, 1, 0.3),
		sampleRate: 48000,
	}
}

func (d *Delay) Name() string { return "Delay" }

func (d *Delay) Parameters() []*Parameter { return []*Parameter{d.time, d.feedback, d.mix} }

func (d *Delay) Latency() int { return 0 }

func (d *Delay) Prepare(sampleRate float64, _ int, channels int) error {
	d.sampleRate = sampleRate
	size := int(math.Ceil(maxDelayMs*sampleRate/1000)) + 1
	d.lines = make([][]float32, channels)
	for ch := range d.lines {
		d.lines[ch] = make([]float32, size)
	}
	d.pos = 0
	return nil
}

func (d *Delay) Reset() {
	for _, l := range d.lines {
		clear(l)
	}
	d.pos = 0
}

func (d *Delay) Process(in, out buffer.Buffer, frames int) Status {
	if len(d.lines) < len(out.Data) {
		return StatusError
	}
	size := len(d.lines[0])
	delay := int(d.time.Current() * d.sampleRate / 1000)
	if delay < 1 {
		delay = 1
	} else if delay >= size {
		delay = size - 1
	}
	fb := float32(d.feedback.Current())
	wet := float32(d.mix.Current())
	dry := 1 - wet
	sc := len(in.Data)

	start := d.pos
	for ch, dst := range out.Data {
		src := in.Data[ch%sc]
		line := d.lines[ch]
		p := start
		for i := 0; i < frames; i++ {
			r := p - delay
			if r < 0 {
				r += size
			}
			echo := line[r]
			x := src[i]
			line[p] = x + echo*fb
			dst[i] = x*dry + echo*wet
			if p++; p == size {
				p = 0
			}
		}
		d.pos = p
	}
	return StatusOK
}
