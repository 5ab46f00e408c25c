// Package transport keeps the sample-accurate play position and the
// stopped/playing/recording state. Control methods only record a request;
// the real-time thread applies it at the next tick boundary in Begin.
package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrInvalidTransition = errors.New("invalid transport transition")
	ErrInvalidLoop       = errors.New("invalid loop range")
)

type State int32

const (
	Stopped State = iota
	Playing
	Recording
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Loop is an immutable loop range; End is exclusive.
type Loop struct {
	Enabled bool  `json:"enabled"`
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
}

// Block describes the stretch of timeline a tick (or part of one) covers.
type Block struct {
	Start   int64
	Frames  int
	State   State
	Wrapped bool // the position jumped back to the loop start after this block
}

type Transport struct {
	target atomic.Int32 // requested state, written by the control thread
	state  atomic.Int32 // applied state, written by Begin
	pos    atomic.Int64
	loop   atomic.Pointer[Loop]

	seekPending  atomic.Bool
	seekTo       atomic.Int64
	resetPending atomic.Bool // set by Stop, consumed by Begin
}

func New() *Transport {
	t := &Transport{}
	t.loop.Store(&Loop{})
	return t
}

// State returns the state in effect for the last processed tick.
func (t *Transport) State() State { return State(t.state.Load()) }

// Requested returns the state that will apply from the next tick.
func (t *Transport) Requested() State { return State(t.target.Load()) }

// Position returns the frame the next tick starts at.
func (t *Transport) Position() int64 { return t.pos.Load() }

// Loop returns the current loop range.
func (t *Transport) Loop() Loop { return *t.loop.Load() }

// Play starts playback. It is a no-op while already playing or recording.
func (t *Transport) Play() {
	t.target.CompareAndSwap(int32(Stopped), int32(Playing))
}

// Stop stops playback and recording; the position returns to the loop start.
func (t *Transport) Stop() {
	t.target.Store(int32(Stopped))
	t.resetPending.Store(true)
}

// StartRecording requires the transport to be playing.
func (t *Transport) StartRecording() error {
	for {
		cur := t.target.Load()
		switch State(cur) {
		case Recording:
			return nil
		case Playing:
			if t.target.CompareAndSwap(cur, int32(Recording)) {
				return nil
			}
		default:
			return fmt.Errorf("%w: cannot record while %s", ErrInvalidTransition, State(cur))
		}
	}
}

// StopRecording returns to Playing.
func (t *Transport) StopRecording() error {
	if t.target.CompareAndSwap(int32(Recording), int32(Playing)) {
		return nil
	}
	return fmt.Errorf("%w: not recording", ErrInvalidTransition)
}

// SetLoop replaces the loop range. A disabled loop keeps its bounds.
func (t *Transport) SetLoop(l Loop) error {
	if err := l.Validate(); err != nil {
		return err
	}
	t.loop.Store(&l)
	return nil
}

// Validate reports ErrInvalidLoop for a negative start or an enabled loop
// that does not end after it starts.
func (l Loop) Validate() error {
	if l.Start < 0 || (l.Enabled && l.End <= l.Start) {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidLoop, l.Start, l.End)
	}
	return nil
}

// Locate moves the position at the next tick boundary.
func (t *Transport) Locate(pos int64) {
	if pos < 0 {
		pos = 0
	}
	t.seekTo.Store(pos)
	t.seekPending.Store(true)
}

// Begin applies pending requests. Called once at the start of every tick
// on the real-time thread. stopped reports that a Stop took effect since
// the previous tick, even when playback was restarted in between; the
// position is then back at the loop start.
func (t *Transport) Begin() (state State, stopped bool) {
	target := t.target.Load()
	t.state.Store(target)
	if stopped = t.resetPending.Swap(false); stopped {
		t.pos.Store(t.loop.Load().Start)
	}
	if t.seekPending.Swap(false) {
		t.pos.Store(t.seekTo.Load())
	}
	return State(target), stopped
}

// Advance consumes up to n frames of timeline and returns the block they
// cover. A block never crosses the loop end, so callers loop until the tick
// is filled. While stopped the position does not move. Real-time only.
func (t *Transport) Advance(n int) Block {
	state := State(t.state.Load())
	start := t.pos.Load()
	b := Block{Start: start, Frames: n, State: state}
	if state == Stopped {
		return b
	}
	l := t.loop.Load()
	if l.Enabled && start < l.End && start+int64(n) >= l.End {
		b.Frames = int(l.End - start)
		b.Wrapped = true
		t.pos.Store(l.Start)
		return b
	}
	t.pos.Store(start + int64(n))
	return b
}
