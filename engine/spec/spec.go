// Package spec defines the foundational audio settings shared by the engine,
// its plugins and the host I/O layer, and resolves caller preferences into a
// concrete, validated AudioSpec.
package spec

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid audio spec")

// Limits enforced by Validate.
const (
	MinSampleRate   = 8000
	MaxSampleRate   = 384000
	MinBufferSize   = 16
	MaxBufferSize   = 4096
	MinChannelCount = 1
	MaxChannelCount = 8
)

// AudioSpec defines the foundational audio settings for an engine
type AudioSpec struct {
	SampleRate   float64 `json:"sampleRate"`   // 44100, 48000, 96000 Hz
	BufferSize   int     `json:"bufferSize"`   // frames per tick
	ChannelCount int     `json:"channelCount"` // 1 (mono), 2 (stereo), ...
	BitDepth     int     `json:"bitDepth"`     // recording bit depth; processing is 32-bit float
}

// DefaultAudioSpec returns commonly used audio settings
func DefaultAudioSpec() AudioSpec {
	return AudioSpec{
		SampleRate:   48000,
		BufferSize:   512,
		ChannelCount: 2,
		BitDepth:     16,
	}
}

// Period returns the wall-clock duration of one buffer.
func (s AudioSpec) Period() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.BufferSize) / s.SampleRate * float64(time.Second))
}

// Validate checks the spec against the engine limits.
func Validate(s AudioSpec) error {
	if s.SampleRate < MinSampleRate || s.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %.0f outside [%d, %d]", ErrInvalid, s.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if s.BufferSize < MinBufferSize || s.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d outside [%d, %d]", ErrInvalid, s.BufferSize, MinBufferSize, MaxBufferSize)
	}
	if s.ChannelCount < MinChannelCount || s.ChannelCount > MaxChannelCount {
		return fmt.Errorf("%w: channel count %d outside [%d, %d]", ErrInvalid, s.ChannelCount, MinChannelCount, MaxChannelCount)
	}
	switch s.BitDepth {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrInvalid, s.BitDepth)
	}
	return nil
}

// LatencyClass is a coarse latency preference that maps to buffer sizes.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"    // prioritize minimal latency (smaller buffers)
	LatencyMedium LatencyClass = "medium" // balanced default
	LatencyHigh   LatencyClass = "high"   // prioritize stability (larger buffers)
)

// Preferences captures caller-level audio preferences.
type Preferences struct {
	PreferredSampleRate float64      `json:"preferred_sample_rate,omitempty"`
	LatencyHint         LatencyClass `json:"latency_hint,omitempty"`
	// Optional explicit buffer size (frames). Overrides LatencyHint if set > 0.
	BufferSize   int `json:"buffer_size,omitempty"`
	ChannelCount int `json:"channel_count,omitempty"`
	BitDepth     int `json:"bit_depth,omitempty"`
}

// MapLatencyToBuffer maps a LatencyClass to a suggested buffer size in frames.
func MapLatencyToBuffer(c LatencyClass) int {
	switch c {
	case LatencyLow:
		return 128
	case LatencyHigh:
		return 1024
	case LatencyMedium:
		fallthrough
	default:
		return 512
	}
}

// Resolve converts preferences into a concrete AudioSpec. It applies sensible
// defaults when fields are unset and honors explicit BufferSize over LatencyHint.
func Resolve(p Preferences) AudioSpec {
	eff := DefaultAudioSpec()

	if p.PreferredSampleRate > 0 {
		eff.SampleRate = p.PreferredSampleRate
	}

	if p.BufferSize > 0 {
		eff.BufferSize = p.BufferSize
	} else {
		eff.BufferSize = MapLatencyToBuffer(p.LatencyHint)
	}

	if p.ChannelCount > 0 {
		eff.ChannelCount = p.ChannelCount
	}
	if p.BitDepth > 0 {
		eff.BitDepth = p.BitDepth
	}
	return eff
}
