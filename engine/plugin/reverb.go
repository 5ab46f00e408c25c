package plugin

import "github.com/shaban/mixengine/engine/buffer"

// Tunings at 44.1kHz, scaled to the actual sample rate in Prepare.
var (
	combTunings    = [...]int{1116, 1188, 1277, 1356}
	allpassTunings = [...]int{556, 441}
)

const stereoSpread = 23

type comb struct {
	buf    []float32
	pos    int
	filter float32
}

func (c *comb) process(x, feedback, damp float32) float32 {
	y := c.buf[c.pos]
	c.filter = y*(1-damp) + c.filter*damp
	c.buf[c.pos] = x + c.filter*feedback
	if c.pos++; c.pos == len(c.buf) {
		c.pos = 0
	}
	return y
}

type allpass struct {
	buf []float32
	pos int
}

func (a *allpass) process(x float32) float32 {
	b := a.buf[a.pos]
	y := b - x
	a.buf[a.pos] = x + b*0.5
	if a.pos++; a.pos == len(a.buf) {
		a.pos = 0
	}
	return y
}

type reverbChannel struct {
	combs     [len(combTunings)]comb
	allpasses [len(allpassTunings)]allpass
}

// Reverb is a Schroeder reverberator: parallel damped combs into serial
// allpasses, one network per channel with slightly detuned lengths.
type Reverb struct {
	room, damping, mix *Parameter
	channels           []reverbChannel
}

func NewReverb() *Reverb {
	return &Reverb{
		room:    NewParameter("room", "", 0, 1, 0.5),
		damping: NewParameter("damping", "", 0, 1, 0.5),
		mix:     NewParameter("mix", "", 0, 1, 0.25),
	}
}

func (r *Reverb) Name() string { return "Reverb" }

func (r *Reverb) Parameters() []*Parameter { return []*Parameter{r.room, r.damping, r.mix} }

func (r *Reverb) Latency() int { return 0 }

func (r *Reverb) Prepare(sampleRate float64, _ int, channels int) error {
	scale := sampleRate / 44100
	r.channels = make([]reverbChannel, channels)
	for ch := range r.channels {
		rc := &r.channels[ch]
		spread := ch * stereoSpread
		for i, t := range combTunings {
			rc.combs[i].buf = make([]float32, max(1, int(float64(t+spread)*scale)))
		}
		for i, t := range allpassTunings {
			rc.allpasses[i].buf = make([]float32, max(1, int(float64(t+spread)*scale)))
		}
	}
	return nil
}

func (r *Reverb) Reset() {
	for ch := range r.channels {
		rc := &r.channels[ch]
		for i := range rc.combs {
			clear(rc.combs[i].buf)
			rc.combs[i].pos = 0
			rc.combs[i].filter = 0
		}
		for i := range rc.allpasses {
			clear(rc.allpasses[i].buf)
			rc.allpasses[i].pos = 0
		}
	}
}

func (r *Reverb) Process(in, out buffer.Buffer, frames int) Status {
	if len(r.channels) < len(out.Data) {
		return StatusError
	}
	feedback := float32(0.7 + 0.28*r.room.Current())
	damp := float32(0.4 * r.damping.Current())
	wet := float32(r.mix.Current())
	dry := 1 - wet
	// scaled so a full-scale input does not blow up the comb sum
	const inputGain = 0.015 * 4 / float32(len(combTunings))
	sc := len(in.Data)

	for ch, dst := range out.Data {
		src := in.Data[ch%sc]
		rc := &r.channels[ch]
		for i := 0; i < frames; i++ {
			x := src[i]
			feed := x * inputGain
			var acc float32
			for c := range rc.combs {
				acc += rc.combs[c].process(feed, feedback, damp)
			}
			for a := range rc.allpasses {
				acc = rc.allpasses[a].process(acc)
			}
			dst[i] = x*dry + acc*wet
		}
	}
	return StatusOK
}
