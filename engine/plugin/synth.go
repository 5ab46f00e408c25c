package plugin

import (
	"math"

	"github.com/shaban/mixengine/engine/buffer"
	"gitlab.com/gomidi/midi/v2"
)

const (
	synthVoices   = 8
	ccAllNotesOff = 123
)

type voice struct {
	key      uint8
	active   bool
	held     bool
	phase    float64
	inc      float64
	velocity float32
	env      float32
}

// Synth is a small polyphonic instrument: eight oscillator voices with a
// linear attack/release envelope. The oldest voice is stolen when all are
// busy.
type Synth struct {
	level, attack, release, shape *Parameter

	sampleRate float64
	voices     [synthVoices]voice
	age        [synthVoices]uint64
	clock      uint64
}

func NewSynth() *Synth {
	s := &Synth{
		level:      NewParameter("level", "linear", 0, 1, 0.5),
		attack:     NewParameter("attack", "ms", 0, 2000, 5),
		release:    NewParameter("release", "ms", 1, 5000, 150),
		shape:      NewParameter("shape", "", 0, 1, 0),
		sampleRate: 48000,
	}
	return s
}

func (s *Synth) Name() string { return "Synth" }

func (s *Synth) Parameters() []*Parameter {
	return []*Parameter{s.level, s.attack, s.release, s.shape}
}

func (s *Synth) Latency() int { return 0 }

func (s *Synth) Prepare(sampleRate float64, _ int, _ int) error {
	s.sampleRate = sampleRate
	s.Reset()
	return nil
}

func (s *Synth) Reset() {
	s.voices = [synthVoices]voice{}
	s.age = [synthVoices]uint64{}
	s.clock = 0
}

// ActiveVoices returns the number of sounding voices.
func (s *Synth) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

func (s *Synth) HandleMIDI(msg midi.Message) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		if vel == 0 {
			s.noteOff(key)
			return
		}
		s.noteOn(key, vel)
	case msg.GetNoteOff(&ch, &key, &vel):
		s.noteOff(key)
	case msg.GetControlChange(&ch, &key, &vel):
		if key == ccAllNotesOff {
			for i := range s.voices {
				s.voices[i].held = false
			}
		}
	}
}

func (s *Synth) noteOn(key, vel uint8) {
	slot := -1
	for i := range s.voices {
		if !s.voices[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		slot = 0
		for i := range s.age {
			if s.age[i] < s.age[slot] {
				slot = i
			}
		}
	}
	s.clock++
	s.age[slot] = s.clock
	freq := 440 * math.Pow(2, (float64(key)-69)/12)
	s.voices[slot] = voice{
		key:      key,
		active:   true,
		held:     true,
		inc:      freq / s.sampleRate,
		velocity: float32(vel) / 127,
	}
}

func (s *Synth) noteOff(key uint8) {
	for i := range s.voices {
		if s.voices[i].active && s.voices[i].key == key {
			s.voices[i].held = false
		}
	}
}

func (s *Synth) Process(_, out buffer.Buffer, frames int) Status {
	out.Clear(frames)
	if len(out.Data) == 0 {
		return StatusOK
	}
	level := float32(s.level.Current())
	shape := s.shape.Current()
	attackStep := float32(1)
	if a := s.attack.Current() * s.sampleRate / 1000; a >= 1 {
		attackStep = float32(1 / a)
	}
	releaseStep := float32(1 / math.Max(1, s.release.Current()*s.sampleRate/1000))

	first := out.Data[0]
	for vi := range s.voices {
		v := &s.voices[vi]
		if !v.active {
			continue
		}
		for i := 0; i < frames; i++ {
			if v.held {
				if v.env < 1 {
					v.env = min(1, v.env+attackStep)
				}
			} else {
				v.env -= releaseStep
				if v.env <= 0 {
					v.env = 0
					v.active = false
					break
				}
			}
			sine := math.Sin(2 * math.Pi * v.phase)
			saw := 2*v.phase - 1
			sample := float32(sine*(1-shape) + saw*shape)
			first[i] += sample * v.env * v.velocity * level
			v.phase += v.inc
			if v.phase >= 1 {
				v.phase -= 1
			}
		}
	}
	for _, dst := range out.Data[1:] {
		copy(dst[:frames], first[:frames])
	}
	return StatusOK
}
