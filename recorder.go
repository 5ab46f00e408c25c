package mixengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"
	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/ring"
	"github.com/shaban/mixengine/engine/spec"
)

// RecordSink receives the captured input of a recording track. Write and
// Close are called from a background goroutine, never the real-time thread.
type RecordSink interface {
	Write(b buffer.Buffer, frames int) error
	Close() error
}

// WAVSink writes a recording to a PCM WAV file.
type WAVSink struct {
	path       string
	file       *os.File
	enc        *wav.Encoder
	bitDepth   int
	sampleRate int
}

// NewWAVSink creates path and prepares a WAV encoder for it.
func NewWAVSink(path string, sampleRate, bitDepth, channels int) (*WAVSink, error) {
	if bitDepth == 0 {
		bitDepth = 16
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}
	return &WAVSink{
		path:       path,
		file:       f,
		enc:        wav.NewEncoder(f, sampleRate, bitDepth, channels, 1),
		bitDepth:   bitDepth,
		sampleRate: sampleRate,
	}, nil
}

// Path returns the file being written.
func (s *WAVSink) Path() string { return s.path }

func (s *WAVSink) Write(b buffer.Buffer, frames int) error {
	return s.enc.Write(buffer.ToIntBuffer(b, frames, s.bitDepth, s.sampleRate))
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	return errors.Join(s.enc.Close(), s.file.Close())
}

const (
	recordBlocks = 64
	recordPoll   = 5 * time.Millisecond
)

type recordBlock struct {
	buf    buffer.Buffer
	frames int
}

// recorder moves captured blocks from the real-time thread to a sink. Blocks
// cycle through two rings: the real-time thread takes from free and fills
// full, the writer goroutine does the reverse. A block that finds no free
// slot is counted as lost.
type recorder struct {
	trackID string
	sink    RecordSink

	free *ring.SPSC[*recordBlock]
	full *ring.SPSC[*recordBlock]

	dropped atomic.Uint64
	stop    chan struct{}
	done    chan struct{}
	err     error // first sink error, read after done
}

func newRecorder(trackID string, sink RecordSink, channels int) *recorder {
	r := &recorder{
		trackID: trackID,
		sink:    sink,
		free:    ring.New[*recordBlock](recordBlocks),
		full:    ring.New[*recordBlock](recordBlocks),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < r.free.Cap(); i++ {
		r.free.Push(&recordBlock{buf: buffer.New(channels, spec.MaxBufferSize)})
	}
	go r.run()
	return r
}

// push copies n frames for the writer. Real-time safe.
func (r *recorder) push(b buffer.Buffer, n int) {
	blk, ok := r.free.Pop()
	if !ok {
		r.dropped.Add(1)
		return
	}
	blk.buf.CopyFrom(b, n)
	blk.frames = n
	r.full.Push(blk)
}

// Dropped returns the number of blocks lost because the writer fell behind.
func (r *recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(recordPoll)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *recorder) flush() {
	for {
		blk, ok := r.full.Pop()
		if !ok {
			return
		}
		if r.err == nil {
			if err := r.sink.Write(blk.buf, blk.frames); err != nil {
				r.err = fmt.Errorf("write recording: %w", err)
			}
		}
		r.free.Push(blk)
	}
}

// close writes out pending blocks and closes the sink. The recorder must no
// longer be referenced by a published snapshot.
func (r *recorder) close() error {
	close(r.stop)
	<-r.done
	return errors.Join(r.err, r.sink.Close())
}

// recordPath returns a fresh file name for a track recording.
func (e *Engine) recordPath(trackID string) string {
	dir := e.cfg.RecordDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("%s-%s.wav", trackID, time.Now().Format("20060102-150405.000"))
	return filepath.Join(dir, name)
}
