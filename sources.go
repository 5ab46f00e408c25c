package mixengine

import (
	"fmt"
	"slices"

	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/source"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
)

// SourceState describes what feeds a track, in a form that can be saved and
// restored.
type SourceState struct {
	Kind       SourceKind `json:"kind"`
	Path       string     `json:"path,omitempty"`       // clip file
	Start      int64      `json:"start,omitempty"`      // clip timeline offset in frames
	InputMap   []int      `json:"inputMap,omitempty"`   // live input channel map
	Instrument string     `json:"instrument,omitempty"` // instrument plugin id
	Value      float32    `json:"value,omitempty"`      // constant level
}

// sampleRateLocked is the rate clips must match: the running rate once
// initialized, the configured one before.
func (e *Engine) sampleRateLocked() int {
	if e.initState == EngineInitialized {
		return int(e.spec.SampleRate)
	}
	return int(e.cfg.Spec.SampleRate)
}

// LoadClip decodes a wav, mp3 or ogg file and plays it on the track starting
// at timeline frame start. The file must already be at the engine sample
// rate.
func (e *Engine) LoadClip(trackID, path string, start int64) error {
	if _, err := e.lookup(trackID, KindTrack); err != nil {
		return err
	}
	clip, err := source.DecodeFile(path)
	if err != nil {
		return err
	}
	clip.Start = start
	return e.setSource(trackID, clip, nil, SourceState{Kind: SourceClip, Path: path, Start: start})
}

// SetTrackClip plays an already decoded clip on the track. Clips set this
// way are not saved by the serializer unless they were loaded from a file.
func (e *Engine) SetTrackClip(trackID string, clip *source.Clip) error {
	if clip == nil {
		return fmt.Errorf("%w: nil clip", ErrInvalidState)
	}
	return e.setSource(trackID, clip, nil, SourceState{Kind: SourceClip, Start: clip.Start})
}

// SetTrackInput feeds the track from the host input. channelMap lists the
// input channel for each track channel; an empty map spreads the input over
// all track channels.
func (e *Engine) SetTrackInput(trackID string, channelMap []int) error {
	m := slices.Clone(channelMap)
	return e.setSource(trackID, source.LiveInput{Map: m}, nil, SourceState{Kind: SourceInput, InputMap: m})
}

// SetTrackConstant feeds the track a fixed level on every channel.
func (e *Engine) SetTrackConstant(trackID string, value float32) error {
	return e.setSource(trackID, source.Constant{Value: value}, nil, SourceState{Kind: SourceConstant, Value: value})
}

// SetTrackSource installs a caller-provided source. Read runs on the
// real-time thread and must not allocate or block.
func (e *Engine) SetTrackSource(trackID string, src source.Source) error {
	if src == nil {
		return e.ClearTrackSource(trackID)
	}
	return e.setSource(trackID, src, nil, SourceState{Kind: SourceCustom})
}

// ClearTrackSource silences the track.
func (e *Engine) ClearTrackSource(trackID string) error {
	return e.setSource(trackID, nil, nil, SourceState{Kind: SourceNone})
}

// SetTrackInstrument loads an instrument plugin as the track source. MIDI
// sent with SendMIDI is delivered to it at the start of each block.
func (e *Engine) SetTrackInstrument(trackID, pluginID string) error {
	if _, err := e.lookup(trackID, KindTrack); err != nil {
		return err
	}
	p, err := e.loadPlugin(pluginID)
	if err != nil {
		return err
	}
	inst, ok := p.(plugin.Instrument)
	if !ok {
		return fmt.Errorf("%w: %s is not an instrument", ErrPluginLoad, pluginID)
	}
	src := source.NewInstrument(inst, e.cfg.MIDIQueueSize)
	return e.setSource(trackID, src, src, SourceState{Kind: SourceInstrument, Instrument: pluginID})
}

// CreateInstrumentTrack adds a track fed by the given instrument plugin.
func (e *Engine) CreateInstrumentTrack(name, pluginID string) (string, error) {
	id, err := e.CreateTrack(name)
	if err != nil {
		return "", err
	}
	if err := e.SetTrackInstrument(id, pluginID); err != nil {
		if rerr := e.RemoveTrack(id); rerr != nil {
			e.errorHandler.HandleError(rerr)
		}
		return "", err
	}
	return id, nil
}

func (e *Engine) setSource(trackID string, src source.Source, inst *source.Instrument, state SourceState) error {
	err := e.edit(OpSetSource, func() error {
		n, err := e.nodeLocked(trackID, KindTrack)
		if err != nil {
			return err
		}
		return e.installSourceLocked(n, src, inst, state)
	})
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"track": trackID, "source": state.Kind}).Debug("track source set")
	return nil
}

func (e *Engine) installSourceLocked(n *node, src source.Source, inst *source.Instrument, state SourceState) error {
	if clip, ok := src.(*source.Clip); ok {
		if err := clip.Conform(e.sampleRateLocked()); err != nil {
			return err
		}
	}
	if inst != nil && e.initState == EngineInitialized {
		if err := inst.Plugin.Prepare(e.spec.SampleRate, e.spec.BufferSize, e.spec.ChannelCount); err != nil {
			return fmt.Errorf("%w: prepare %s: %w", ErrPluginLoad, state.Instrument, err)
		}
	}
	n.src = src
	n.instrument = inst
	n.srcState = state
	return nil
}

// SendMIDI queues a copy of msg for the track's instrument. It never blocks;
// ErrMIDIQueueFull is returned when the real-time thread has fallen behind.
func (e *Engine) SendMIDI(trackID string, msg midi.Message) error {
	n, err := e.lookup(trackID, KindTrack)
	if err != nil {
		return err
	}
	e.mu.RLock()
	inst := n.instrument
	e.mu.RUnlock()
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrNoInstrument, trackID)
	}
	if !inst.Send(msg) {
		return fmt.Errorf("%w: %s", ErrMIDIQueueFull, trackID)
	}
	return nil
}
