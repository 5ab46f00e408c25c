// Package source provides the signal generators that feed a track at the
// start of its chain: decoded clips, the host's live input, MIDI-driven
// instruments and constant test signals.
package source

import (
	"slices"
	"sync"

	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/ring"
	"gitlab.com/gomidi/midi/v2"
)

// Input is the block of interleaved samples the host captured for the
// current tick. Samples is nil for output-only streams.
type Input struct {
	Samples  []float32
	Channels int
}

// Slice returns the part of the block starting at frame off.
func (in Input) Slice(off int) Input {
	if in.Channels == 0 || off*in.Channels >= len(in.Samples) {
		return Input{Channels: in.Channels}
	}
	return Input{Samples: in.Samples[off*in.Channels:], Channels: in.Channels}
}

// Frames returns the number of whole frames in the block.
func (in Input) Frames() int {
	if in.Channels == 0 {
		return 0
	}
	return len(in.Samples) / in.Channels
}

// Source fills dst with frames samples for the transport position pos.
// Read runs on the real-time thread and must not allocate or block.
type Source interface {
	Read(dst buffer.Buffer, frames int, pos int64, in Input) plugin.Status
}

// TransportFollower is implemented by sources that play at the transport
// position. The engine keeps them silent while the transport is stopped.
type TransportFollower interface {
	FollowsTransport() bool
}

// Resetter is implemented by sources that keep state between blocks. The
// engine calls Reset on the real-time thread when the transport stops.
type Resetter interface {
	Reset()
}

// Constant emits a fixed value on every channel.
type Constant struct {
	Value float32
}

func (c Constant) Read(dst buffer.Buffer, frames int, _ int64, _ Input) plugin.Status {
	for _, ch := range dst.Data {
		s := ch[:frames]
		for i := range s {
			s[i] = c.Value
		}
	}
	return plugin.StatusOK
}

// LiveInput routes channels of the host input into the track. With no
// channel map the whole input is spread over the track's channels.
type LiveInput struct {
	Map []int
}

func (l LiveInput) Read(dst buffer.Buffer, frames int, _ int64, in Input) plugin.Status {
	if in.Channels == 0 || in.Frames() < frames {
		dst.Clear(frames)
		if in.Channels == 0 {
			return plugin.StatusOK
		}
		return plugin.StatusSourceError
	}
	if len(l.Map) == 0 {
		buffer.Deinterleave(dst, in.Samples, in.Channels, frames)
		return plugin.StatusOK
	}
	for ch, out := range dst.Data {
		src := l.Map[ch%len(l.Map)]
		if src < 0 || src >= in.Channels {
			clear(out[:frames])
			continue
		}
		for i := 0; i < frames; i++ {
			out[i] = in.Samples[i*in.Channels+src]
		}
	}
	return plugin.StatusOK
}

// Instrument renders a track from MIDI. Messages queued with Send are
// delivered to the plugin at the start of the next block.
type Instrument struct {
	Plugin plugin.Instrument

	mu     sync.Mutex // serializes producers; the consumer is lock-free
	events *ring.SPSC[midi.Message]
}

// NewInstrument wraps p with a MIDI queue of the given depth.
func NewInstrument(p plugin.Instrument, depth int) *Instrument {
	if depth <= 0 {
		depth = 256
	}
	return &Instrument{Plugin: p, events: ring.New[midi.Message](depth)}
}

// Send queues a copy of msg, so the caller may reuse its buffer. It
// reports false when the queue is full.
func (s *Instrument) Send(msg midi.Message) bool {
	msg = slices.Clone(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Push(msg)
}

// Dropped returns the number of messages lost to a full queue.
func (s *Instrument) Dropped() uint64 { return s.events.Dropped() }

// Reset silences the plugin. Queued messages are kept.
func (s *Instrument) Reset() { s.Plugin.Reset() }

func (s *Instrument) Read(dst buffer.Buffer, frames int, _ int64, _ Input) plugin.Status {
	for {
		msg, ok := s.events.Pop()
		if !ok {
			break
		}
		s.Plugin.HandleMIDI(msg)
	}
	return s.Plugin.Process(dst, dst, frames)
}
