// Package buffer provides the planar sample block processed once per tick and
// the allocation-free helpers the real-time path uses to move samples around.
package buffer

import (
	"math"

	"github.com/go-audio/audio"
)

// MaxChannels bounds per-channel gain arrays so they can live on the stack.
const MaxChannels = 8

// Gains holds one linear gain per output channel.
type Gains [MaxChannels]float32

// Uniform returns Gains with every channel set to g.
func Uniform(g float32) Gains {
	var gs Gains
	for i := range gs {
		gs[i] = g
	}
	return gs
}

// Buffer is a planar block of float32 samples: Data[channel][frame].
// All operations take an explicit frame count n so a Buffer sized for the
// engine's maximum block can serve shorter host callbacks.
type Buffer struct {
	Data [][]float32
}

// New allocates a zeroed buffer. Control thread only.
func New(channels, frames int) Buffer {
	data := make([][]float32, channels)
	backing := make([]float32, channels*frames)
	for ch := range data {
		data[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return Buffer{Data: data}
}

// Channels returns the channel count.
func (b Buffer) Channels() int { return len(b.Data) }

// Frames returns the frame capacity.
func (b Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// IsZero reports whether the buffer has no storage.
func (b Buffer) IsZero() bool { return len(b.Data) == 0 }

// Clear zeroes the first n frames of every channel.
func (b Buffer) Clear(n int) {
	for _, ch := range b.Data {
		clear(ch[:n])
	}
}

// CopyFrom copies n frames from src. When src has fewer channels its
// channels are repeated; extra src channels are dropped.
func (b Buffer) CopyFrom(src Buffer, n int) {
	sc := len(src.Data)
	if sc == 0 {
		b.Clear(n)
		return
	}
	for ch, dst := range b.Data {
		copy(dst[:n], src.Data[ch%sc][:n])
	}
}

// Scale multiplies the first n frames of every channel by g.
func (b Buffer) Scale(n int, g float32) {
	if g == 1 {
		return
	}
	for _, ch := range b.Data {
		for i := range ch[:n] {
			ch[i] *= g
		}
	}
}

// AddScaled mixes src into b with a per-channel gain.
func (b Buffer) AddScaled(src Buffer, n int, gains *Gains) {
	sc := len(src.Data)
	if sc == 0 {
		return
	}
	for ch, dst := range b.Data {
		g := gains[ch%MaxChannels]
		if g == 0 {
			continue
		}
		s := src.Data[ch%sc][:n]
		d := dst[:n]
		for i := range d {
			d[i] += s[i] * g
		}
	}
}

// ApplyGains scales each channel in place by its gain.
func (b Buffer) ApplyGains(n int, gains *Gains) {
	for ch, data := range b.Data {
		g := gains[ch%MaxChannels]
		if g == 1 {
			continue
		}
		d := data[:n]
		for i := range d {
			d[i] *= g
		}
	}
}

// IsSilent reports whether every sample in the first n frames is zero.
func (b Buffer) IsSilent(n int) bool {
	for _, ch := range b.Data {
		for _, v := range ch[:n] {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// CheckFinite reports whether the first n frames contain only finite samples.
func CheckFinite(b Buffer, n int) bool {
	for _, ch := range b.Data {
		for _, v := range ch[:n] {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}

// Interleave writes n frames of src into dst as interleaved samples.
// dst must hold at least n*src.Channels() values.
func Interleave(dst []float32, src Buffer, n int) {
	chans := len(src.Data)
	for ch, data := range src.Data {
		for i, v := range data[:n] {
			dst[i*chans+ch] = v
		}
	}
}

// Deinterleave reads n frames of interleaved src with srcChannels channels
// into dst. A mono source is spread over every destination channel; a mono
// destination receives the average of all source channels.
func Deinterleave(dst Buffer, src []float32, srcChannels, n int) {
	if srcChannels <= 0 {
		dst.Clear(n)
		return
	}
	if len(dst.Data) == 1 && srcChannels > 1 {
		out := dst.Data[0]
		inv := 1 / float32(srcChannels)
		for i := 0; i < n; i++ {
			var sum float32
			base := i * srcChannels
			for c := 0; c < srcChannels; c++ {
				sum += src[base+c]
			}
			out[i] = sum * inv
		}
		return
	}
	for ch, out := range dst.Data {
		sc := ch % srcChannels
		for i := 0; i < n; i++ {
			out[i] = src[i*srcChannels+sc]
		}
	}
}

// ToIntBuffer converts n frames into a go-audio IntBuffer at the given bit
// depth, clipping to full scale. Used off the real-time path by the recorder.
func ToIntBuffer(src Buffer, n, bitDepth, sampleRate int) *audio.IntBuffer {
	chans := len(src.Data)
	scale := float32(int64(1)<<(bitDepth-1) - 1)
	data := make([]int, n*chans)
	for ch, samples := range src.Data {
		for i, v := range samples[:n] {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			data[i*chans+ch] = int(v * scale)
		}
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: chans, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
}

// FromIntBuffer converts a decoded go-audio IntBuffer into interleaved
// float32 samples in [-1, 1].
func FromIntBuffer(buf *audio.IntBuffer, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := 1 / float32(int64(1)<<(bitDepth-1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) * scale
	}
	return out
}

// DelayLine delays a planar signal by a fixed number of frames.
type DelayLine struct {
	lines [][]float32
	pos   int
}

// NewDelayLine allocates a delay of frames frames. Control thread only.
func NewDelayLine(channels, frames int) *DelayLine {
	d := &DelayLine{lines: make([][]float32, channels)}
	for ch := range d.lines {
		d.lines[ch] = make([]float32, frames)
	}
	return d
}

// Len returns the delay in frames.
func (d *DelayLine) Len() int {
	if len(d.lines) == 0 {
		return 0
	}
	return len(d.lines[0])
}

// Process delays the first n frames of b in place.
func (d *DelayLine) Process(b Buffer, n int) {
	size := d.Len()
	if size == 0 {
		return
	}
	start := d.pos
	for ch, data := range b.Data {
		if ch >= len(d.lines) {
			break
		}
		line := d.lines[ch]
		p := start
		for i := range data[:n] {
			line[p], data[i] = data[i], line[p]
			if p++; p == size {
				p = 0
			}
		}
		d.pos = p
	}
}

// Reset clears the delayed samples.
func (d *DelayLine) Reset() {
	for _, l := range d.lines {
		clear(l)
	}
	d.pos = 0
}
