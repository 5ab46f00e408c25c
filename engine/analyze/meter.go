package analyze

import (
	"math"
	"sync/atomic"

	"github.com/shaban/mixengine/engine/buffer"
)

// Reading is the latest level measurement of one node.
type Reading struct {
	RMS         float64
	Peak        float64
	Correlation float64
	Balance     float64 // first two channels, 0 for mono
	Width       float64
}

// Meter measures a node's output once per tick. Update runs on the
// real-time thread; Load may be called from any goroutine.
type Meter struct {
	rms, peak, corr atomic.Uint64
	balance, width  atomic.Uint64
}

var meterConfig = DefaultAnalysisConfig()

// Update measures the first n frames of b.
func (m *Meter) Update(b buffer.Buffer, n int) {
	var sum, peak float64
	for _, ch := range b.Data {
		for _, v := range ch[:n] {
			f := float64(v)
			sum += f * f
			if f < 0 {
				f = -f
			}
			if f > peak {
				peak = f
			}
		}
	}
	var rms, corr, balance, width float64
	if count := n * len(b.Data); count > 0 {
		rms = math.Sqrt(sum / float64(count))
	}
	if len(b.Data) >= 2 {
		a := AnalyzeStereo(b.Data[0][:n], b.Data[1][:n], meterConfig)
		corr, balance, width = a.Correlation, a.Balance, a.StereoWidth
	} else if rms > 0 {
		corr = 1
	}
	m.rms.Store(math.Float64bits(rms))
	m.peak.Store(math.Float64bits(peak))
	m.corr.Store(math.Float64bits(corr))
	m.balance.Store(math.Float64bits(balance))
	m.width.Store(math.Float64bits(width))
}

// Reset zeroes the reading, used when a node is silenced.
func (m *Meter) Reset() {
	m.rms.Store(0)
	m.peak.Store(0)
	m.corr.Store(0)
	m.balance.Store(0)
	m.width.Store(0)
}

func (m *Meter) Load() Reading {
	return Reading{
		RMS:         math.Float64frombits(m.rms.Load()),
		Peak:        math.Float64frombits(m.peak.Load()),
		Correlation: math.Float64frombits(m.corr.Load()),
		Balance:     math.Float64frombits(m.balance.Load()),
		Width:       math.Float64frombits(m.width.Load()),
	}
}

// Tap keeps the most recent mono-summed samples of a node so the control
// thread can run spectral analysis without touching live buffers.
type Tap struct {
	buf   []atomic.Uint32
	mask  uint64
	write atomic.Uint64
}

// NewTap creates a tap holding at least size samples.
func NewTap(size int) *Tap {
	n := 1
	for n < size {
		n <<= 1
	}
	return &Tap{buf: make([]atomic.Uint32, n), mask: uint64(n - 1)}
}

// Size returns the tap capacity.
func (t *Tap) Size() int { return len(t.buf) }

// Write appends the mono sum of n frames. Real-time safe.
func (t *Tap) Write(b buffer.Buffer, n int) {
	chans := len(b.Data)
	if chans == 0 {
		return
	}
	inv := 1 / float32(chans)
	w := t.write.Load()
	for i := 0; i < n; i++ {
		var s float32
		for _, ch := range b.Data {
			s += ch[i]
		}
		t.buf[(w+uint64(i))&t.mask].Store(math.Float32bits(s * inv))
	}
	t.write.Store(w + uint64(n))
}

// Snapshot copies the latest len(dst) samples, oldest first, and returns how
// many were available.
func (t *Tap) Snapshot(dst []float32) int {
	w := t.write.Load()
	n := uint64(len(dst))
	if n > uint64(len(t.buf)) {
		n = uint64(len(t.buf))
	}
	if n > w {
		n = w
	}
	start := w - n
	for i := uint64(0); i < n; i++ {
		dst[i] = math.Float32frombits(t.buf[(start+i)&t.mask].Load())
	}
	return int(n)
}
