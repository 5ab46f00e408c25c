package mixengine

import (
	"errors"
	"fmt"

	"github.com/shaban/mixengine/engine/transport"
	"github.com/sirupsen/logrus"
)

// StartPlayback starts the transport. Clip sources play from the current
// position at the next callback.
func (e *Engine) StartPlayback() error {
	return e.dispatcher.Run(OpTransport, func() error {
		if e.InitState() == EngineClosed {
			return ErrEngineClosed
		}
		e.transport.Play()
		return nil
	})
}

// StopPlayback stops the transport, returns it to the loop start and ends
// every active recording.
func (e *Engine) StopPlayback() error {
	return e.editThen(OpTransport, func() (func() error, error) {
		e.transport.Stop()
		var recs []*recorder
		for _, n := range e.nodes {
			if rec := e.disarmLocked(n); rec != nil {
				recs = append(recs, rec)
			}
		}
		if len(recs) == 0 {
			return nil, nil
		}
		return func() error {
			var errs []error
			for _, r := range recs {
				if err := r.close(); err != nil {
					errs = append(errs, fmt.Errorf("finalize recording of %s: %w", r.trackID, err))
				}
			}
			return errors.Join(errs...)
		}, nil
	})
}

// TransportState returns the state requested for the next callback.
func (e *Engine) TransportState() transport.State { return e.transport.Requested() }

// Position returns the timeline frame the next callback starts at.
func (e *Engine) Position() int64 { return e.transport.Position() }

// Loop returns the loop range.
func (e *Engine) Loop() transport.Loop { return e.transport.Loop() }

// SetLoop replaces the loop range.
func (e *Engine) SetLoop(l transport.Loop) error {
	if err := e.transport.SetLoop(l); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportState, err)
	}
	return nil
}

// Locate moves the transport to pos at the next callback.
func (e *Engine) Locate(pos int64) { e.transport.Locate(pos) }

// StartRecording arms a track and switches the transport to recording. The
// track's source is captured before its plugin chain. A nil sink writes a
// WAV file to Config.RecordDir. The transport must be playing.
func (e *Engine) StartRecording(trackID string, sink RecordSink) error {
	e.mu.RLock()
	state, s := e.initState, e.spec
	_, err := e.nodeLocked(trackID, KindTrack)
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	if state != EngineInitialized {
		return ErrNotInitialized
	}
	if e.transport.Requested() == transport.Stopped {
		return fmt.Errorf("%w: start playback before recording", ErrTransportState)
	}

	var path string
	if sink == nil {
		path = e.recordPath(trackID)
		ws, err := NewWAVSink(path, int(s.SampleRate), s.BitDepth, s.ChannelCount)
		if err != nil {
			return err
		}
		sink = ws
	}
	rec := newRecorder(trackID, sink, s.ChannelCount)

	err = e.edit(OpRecord, func() error {
		n, err := e.nodeLocked(trackID, KindTrack)
		if err != nil {
			return err
		}
		if n.rec != nil {
			return fmt.Errorf("%w: %s is already recording", ErrInvalidState, trackID)
		}
		if err := e.transport.StartRecording(); err != nil {
			return fmt.Errorf("%w: %w", ErrTransportState, err)
		}
		n.rec = rec
		return nil
	})
	if err != nil {
		if cerr := rec.close(); cerr != nil {
			e.errorHandler.HandleError(cerr)
		}
		return err
	}
	e.log.WithFields(logrus.Fields{"track": trackID, "path": path}).Info("recording started")
	return nil
}

// StopRecording disarms a track and finalizes its sink. The transport keeps
// playing and leaves the recording state once no track is armed.
func (e *Engine) StopRecording(trackID string) error {
	err := e.editThen(OpRecord, func() (func() error, error) {
		n, err := e.nodeLocked(trackID, KindTrack)
		if err != nil {
			return nil, err
		}
		rec := e.disarmLocked(n)
		if rec == nil {
			return nil, fmt.Errorf("%w: %s is not recording", ErrInvalidState, trackID)
		}
		return rec.close, nil
	})
	if err != nil {
		return err
	}
	e.log.WithField("track", trackID).Info("recording stopped")
	return nil
}

// disarmLocked detaches n's recorder and leaves the recording state when it
// was the last one armed. The caller closes the returned recorder once the
// snapshot referencing it has been retired.
func (e *Engine) disarmLocked(n *node) *recorder {
	rec := n.rec
	if rec == nil {
		return nil
	}
	n.rec = nil
	for _, other := range e.nodes {
		if other.rec != nil {
			return rec
		}
	}
	if e.transport.Requested() == transport.Recording {
		e.transport.StopRecording()
	}
	return rec
}
