package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/plugin"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrSampleRate        = errors.New("clip sample rate does not match engine")
	ErrEmptyClip         = errors.New("clip has no audio")
)

// Format names a container/codec the decoder understands.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOgg  Format = "ogg"
)

const mp3Channels = 2

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga":
		return FormatOgg, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// Clip is fully decoded audio placed on the timeline at Start. Reading by
// transport position makes playback deterministic across loops and seeks.
type Clip struct {
	Name       string
	SampleRate int
	Start      int64

	data buffer.Buffer
}

// NewClip builds a clip from interleaved samples.
func NewClip(name string, interleaved []float32, channels, sampleRate int) (*Clip, error) {
	if channels <= 0 || len(interleaved) < channels {
		return nil, ErrEmptyClip
	}
	frames := len(interleaved) / channels
	data := buffer.New(channels, frames)
	buffer.Deinterleave(data, interleaved, channels, frames)
	return &Clip{Name: name, SampleRate: sampleRate, data: data}, nil
}

// Channels returns the clip's channel count.
func (c *Clip) Channels() int { return c.data.Channels() }

// Frames returns the clip length in frames.
func (c *Clip) Frames() int { return c.data.Frames() }

// Conform checks the clip against the engine sample rate. Clips are not
// resampled.
func (c *Clip) Conform(sampleRate int) error {
	if c.SampleRate != sampleRate {
		return fmt.Errorf("%w: %s is %d Hz, engine runs at %d Hz", ErrSampleRate, c.Name, c.SampleRate, sampleRate)
	}
	return nil
}

func (c *Clip) Read(dst buffer.Buffer, frames int, pos int64, _ Input) plugin.Status {
	dst.Clear(frames)
	total := int64(c.data.Frames())
	local := pos - c.Start
	// portion of [local, local+frames) that overlaps [0, total)
	lo, hi := local, local+int64(frames)
	if lo < 0 {
		lo = 0
	}
	if hi > total {
		hi = total
	}
	if lo >= hi {
		return plugin.StatusOK
	}
	off := int(lo - local)
	n := int(hi - lo)
	cc := c.data.Channels()
	if len(dst.Data) == 1 && cc > 1 {
		out := dst.Data[0][off : off+n]
		inv := 1 / float32(cc)
		for _, ch := range c.data.Data {
			for i, v := range ch[lo:hi] {
				out[i] += v * inv
			}
		}
		return plugin.StatusOK
	}
	for ch, out := range dst.Data {
		copy(out[off:off+n], c.data.Data[ch%cc][lo:hi])
	}
	return plugin.StatusOK
}

// FollowsTransport reports true: a clip is positioned on the timeline.
func (c *Clip) FollowsTransport() bool { return true }

// DecodeFile decodes a wav, mp3 or ogg file into memory.
func DecodeFile(path string) (*Clip, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.Name = filepath.Base(path)
	return c, nil
}

// Decode reads a whole stream of the given format.
func Decode(r io.ReadSeeker, format Format) (*Clip, error) {
	switch format {
	case FormatWAV:
		return decodeWAV(r)
	case FormatMP3:
		return decodeMP3(r)
	case FormatOgg:
		return decodeOgg(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func decodeWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	samples := buffer.FromIntBuffer(buf, int(dec.BitDepth))
	return NewClip("", samples, int(dec.NumChans), int(dec.SampleRate))
}

func decodeMP3(r io.Reader) (*Clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	// go-mp3 always yields 16-bit little-endian stereo
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(v) / 32768
	}
	return NewClip("", samples, mp3Channels, dec.SampleRate())
}

func decodeOgg(r io.Reader) (*Clip, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewClip("", samples, format.Channels, format.SampleRate)
}
