package plugin

import (
	"math"

	"github.com/shaban/mixengine/engine/buffer"
)

// Limiter is a lookahead peak limiter. The lookahead delays the signal and
// is reported as plugin latency.
type Limiter struct {
	ceiling, release, lookahead *Parameter

	sampleRate float64
	latency    int
	lines      [][]float32
	pos        int
	envelope   float32
}

func NewLimiter() *Limiter {
	l := &Limiter{
		ceiling:    NewParameter("ceiling", "linear", 0.01, 1, 1),
		release:    NewParameter("release", "ms", 1, 1000, 50),
		lookahead:  NewParameter("lookahead", "ms", 0, 10, 0),
		sampleRate: 48000,
		envelope:   1,
	}
	// changing lookahead changes latency, which only takes effect on Prepare
	l.lookahead.Automatable = false
	return l
}

func (l *Limiter) Name() string { return "Limiter" }

func (l *Limiter) Parameters() []*Parameter {
	return []*Parameter{l.ceiling, l.release, l.lookahead}
}

// Latency is fixed at Prepare time.
func (l *Limiter) Latency() int { return l.latency }

func (l *Limiter) Prepare(sampleRate float64, _ int, channels int) error {
	l.sampleRate = sampleRate
	l.latency = int(math.Round(l.lookahead.Value() * sampleRate / 1000))
	l.lines = make([][]float32, channels)
	for ch := range l.lines {
		l.lines[ch] = make([]float32, l.latency+1)
	}
	l.pos = 0
	l.envelope = 1
	return nil
}

func (l *Limiter) Reset() {
	for _, line := range l.lines {
		clear(line)
	}
	l.pos = 0
	l.envelope = 1
}

func (l *Limiter) Process(in, out buffer.Buffer, frames int) Status {
	if len(l.lines) < len(out.Data) {
		return StatusError
	}
	ceiling := float32(l.ceiling.Current())
	rel := float32(1 - math.Exp(-1/(l.release.Current()*l.sampleRate/1000)))
	sc := len(in.Data)
	size := l.latency + 1

	for i := 0; i < frames; i++ {
		var peak float32
		for ch := range out.Data {
			v := in.Data[ch%sc][i]
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		target := float32(1)
		if peak > ceiling {
			target = ceiling / peak
		}
		if target < l.envelope {
			l.envelope = target
		} else {
			l.envelope += (target - l.envelope) * rel
		}

		r := l.pos + 1
		if r == size {
			r = 0
		}
		for ch, dst := range out.Data {
			line := l.lines[ch]
			line[l.pos] = in.Data[ch%sc][i]
			dst[i] = line[r] * l.envelope
		}
		l.pos = r
	}
	return StatusOK
}
