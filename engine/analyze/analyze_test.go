package analyze

import (
	"math"
	"testing"

	"github.com/shaban/mixengine/engine/buffer"
)

func sine(freq, sampleRate float64, n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func TestLevels(t *testing.T) {
	c := []float32{0.5, -0.5, 0.5, -0.5}
	if got := RMS(c); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("rms: want 0.5 got %v", got)
	}
	if got := Peak([]float32{0.1, -0.8, 0.3}); math.Abs(got-0.8) > 1e-6 {
		t.Fatalf("peak: want 0.8 got %v", got)
	}
	if got := LinearToDB(1); got != 0 {
		t.Fatalf("0 dBFS: got %v", got)
	}
	if got := LinearToDB(0); got != SilenceDB {
		t.Fatalf("silence: got %v", got)
	}
	if got := DBToLinear(-6.0206); math.Abs(got-0.5) > 1e-4 {
		t.Fatalf("db to linear: got %v", got)
	}
}

func TestStereoAnalysis(t *testing.T) {
	cfg := DefaultAnalysisConfig()
	s := sine(440, 48000, 4800, 0.5)
	inv := make([]float32, len(s))
	for i, v := range s {
		inv[i] = -v
	}
	zero := make([]float32, len(s))

	tests := []struct {
		name       string
		l, r       []float32
		corr       float64
		balance    float64
		monoCompat bool
	}{
		{"mono", s, s, 1, 0, true},
		{"inverted", s, inv, -1, 0, false},
		{"hard left", s, zero, 0, -1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := AnalyzeStereo(tc.l, tc.r, cfg)
			if math.Abs(a.Correlation-tc.corr) > 1e-6 {
				t.Errorf("correlation: want %v got %v", tc.corr, a.Correlation)
			}
			if math.Abs(a.Balance-tc.balance) > 1e-6 {
				t.Errorf("balance: want %v got %v", tc.balance, a.Balance)
			}
			if a.MonoCompatible != tc.monoCompat {
				t.Errorf("mono compatible: want %v got %v", tc.monoCompat, a.MonoCompatible)
			}
		})
	}
}

func TestSpectralCentroid(t *testing.T) {
	const sr = 48000
	low := SpectralCentroid(sine(200, sr, 4096, 1), sr)
	high := SpectralCentroid(sine(5000, sr, 4096, 1), sr)
	if math.Abs(low-200) > 50 {
		t.Fatalf("200 Hz centroid: got %v", low)
	}
	if math.Abs(high-5000) > 100 {
		t.Fatalf("5 kHz centroid: got %v", high)
	}
	if SpectralCentroid(make([]float32, 1024), sr) != 0 {
		t.Fatal("silence centroid must be 0")
	}
	if e := BandEnergy(sine(1000, sr, 4096, 1), sr, 800, 1200); e < 0.9 {
		t.Fatalf("band energy around 1 kHz: got %v", e)
	}
}

func TestMeterAndTap(t *testing.T) {
	b := buffer.New(2, 64)
	for i := range b.Data[0] {
		b.Data[0][i] = 0.5
		b.Data[1][i] = 0.5
	}
	var m Meter
	m.Update(b, 64)
	r := m.Load()
	if math.Abs(r.RMS-0.5) > 1e-6 || math.Abs(r.Peak-0.5) > 1e-6 || math.Abs(r.Correlation-1) > 1e-6 {
		t.Fatalf("reading: %+v", r)
	}
	if r.Balance != 0 || math.Abs(r.Width) > 1e-6 {
		t.Fatalf("identical channels: balance %v width %v", r.Balance, r.Width)
	}

	// right only
	for i := range b.Data[0] {
		b.Data[0][i] = 0
	}
	m.Update(b, 64)
	if r := m.Load(); math.Abs(r.Balance-1) > 1e-6 {
		t.Fatalf("right only: want balance 1 got %v", r.Balance)
	}

	m.Reset()
	if m.Load() != (Reading{}) {
		t.Fatal("reset must clear the reading")
	}

	tap := NewTap(100)
	if tap.Size() != 128 {
		t.Fatalf("tap size: want 128 got %d", tap.Size())
	}
	dst := make([]float32, 32)
	if n := tap.Snapshot(dst); n != 0 {
		t.Fatalf("empty tap returned %d samples", n)
	}
	for i := 0; i < 3; i++ {
		tap.Write(b, 64)
	}
	if n := tap.Snapshot(dst); n != 32 || dst[31] != 0.5 {
		t.Fatalf("snapshot: n=%d last=%v", n, dst[31])
	}
}
