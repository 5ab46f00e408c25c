package mixengine

import (
	"errors"
	"sync"
	"time"

	"github.com/shaban/mixengine/engine/spec"
)

// ErrHostClosed is returned when rendering through a host that is not open.
var ErrHostClosed = errors.New("host not open")

// Callback is the real-time entry point a host drives. Engine implements it.
type Callback interface {
	ProcessCallback(out []float32, frames int)
	ProcessDuplex(in []float32, inChannels int, out []float32, frames int)
}

// Host is the audio I/O layer. Initialize opens it with the negotiated spec
// once the first render snapshot is published; Shutdown closes it before
// the engine tears down.
type Host interface {
	Open(s spec.AudioSpec, cb Callback) error
	Close() error
}

// OfflineHost renders on demand instead of from a device clock. Tests and
// bounce-to-file tools drive it with Render.
type OfflineHost struct {
	mu     sync.Mutex
	spec   spec.AudioSpec
	cb     Callback
	period time.Duration // pacing between Render calls, 0 renders immediately
	last   time.Time
}

// NewOfflineHost creates a closed host.
func NewOfflineHost() *OfflineHost {
	return &OfflineHost{}
}

func (h *OfflineHost) Open(s spec.AudioSpec, cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spec = s
	h.cb = cb
	return nil
}

func (h *OfflineHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = nil
	return nil
}

// SetPeriod paces Render so consecutive calls are at least d apart, which
// mimics a device clock.
func (h *OfflineHost) SetPeriod(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.period = d
}

// Spec returns the spec the host was opened with.
func (h *OfflineHost) Spec() spec.AudioSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

// Render produces frames of interleaved output.
func (h *OfflineHost) Render(frames int) ([]float32, error) {
	return h.RenderInput(nil, 0, frames)
}

// RenderInput produces frames of interleaved output while feeding in as the
// captured input block.
func (h *OfflineHost) RenderInput(in []float32, inChannels, frames int) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cb == nil {
		return nil, ErrHostClosed
	}
	if h.period > 0 && !h.last.IsZero() {
		if wait := h.period - time.Since(h.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	h.last = time.Now()
	out := make([]float32, frames*h.spec.ChannelCount)
	h.cb.ProcessDuplex(in, inChannels, out, frames)
	return out, nil
}
