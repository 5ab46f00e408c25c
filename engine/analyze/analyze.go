// Package analyze provides level, stereo and spectral metrics for metering
// and for verifying signal paths in tests. Meter and Tap are written from
// the real-time thread; everything else runs on the control thread.
package analyze

import (
	"math"
	"math/cmplx"

	"github.com/maddyblue/go-dsp/fft"
	"github.com/maddyblue/go-dsp/window"
)

// SilenceDB is reported for a zero level.
const SilenceDB = -120.0

// AnalysisConfig holds thresholds used when judging a measurement.
type AnalysisConfig struct {
	MinSignalLevel float64 // minimum RMS to consider as signal
	ToleranceDB    float64 // tolerance for level comparisons
	PanTolerance   float32
}

// DefaultAnalysisConfig returns sensible defaults for audio analysis
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinSignalLevel: 0.001, // -60dB
		ToleranceDB:    1.0,
		PanTolerance:   0.1,
	}
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample.
func Peak(samples []float32) float64 {
	var p float64
	for _, v := range samples {
		if a := math.Abs(float64(v)); a > p {
			p = a
		}
	}
	return p
}

// LinearToDB converts a linear amplitude to decibels, floored at SilenceDB.
func LinearToDB(x float64) float64 {
	if x <= 0 {
		return SilenceDB
	}
	return math.Max(20*math.Log10(x), SilenceDB)
}

// DBToLinear is the inverse of LinearToDB.
func DBToLinear(db float64) float64 { return math.Pow(10, db/20) }

// Correlation returns the normalized cross-correlation of two channels in
// [-1, 1]: 1 for identical signals, -1 for inverted, 0 when either is silent.
func Correlation(l, r []float32) float64 {
	n := min(len(l), len(r))
	var lr, ll, rr float64
	for i := 0; i < n; i++ {
		a, b := float64(l[i]), float64(r[i])
		lr += a * b
		ll += a * a
		rr += b * b
	}
	if ll == 0 || rr == 0 {
		return 0
	}
	return lr / math.Sqrt(ll*rr)
}

// Balance returns the L/R level balance in [-1, 1]; positive leans right.
func Balance(l, r []float32) float64 {
	lr, rr := RMS(l), RMS(r)
	if lr+rr == 0 {
		return 0
	}
	return (rr - lr) / (rr + lr)
}

// StereoAnalysis summarizes a stereo block.
type StereoAnalysis struct {
	LeftChannelRMS  float64
	RightChannelRMS float64
	TotalRMS        float64
	Balance         float64 // L/R balance (-1.0 to 1.0)
	StereoWidth     float64 // 0 for mono content, larger for decorrelated channels
	Correlation     float64
	MonoCompatible  bool // summing to mono does not cancel the signal
}

// AnalyzeStereo measures a left/right pair.
func AnalyzeStereo(l, r []float32, config AnalysisConfig) StereoAnalysis {
	a := StereoAnalysis{
		LeftChannelRMS:  RMS(l),
		RightChannelRMS: RMS(r),
		Balance:         Balance(l, r),
		Correlation:     Correlation(l, r),
	}
	a.TotalRMS = math.Sqrt((a.LeftChannelRMS*a.LeftChannelRMS + a.RightChannelRMS*a.RightChannelRMS) / 2)
	a.StereoWidth = (1 - a.Correlation) / 2
	a.MonoCompatible = a.TotalRMS < config.MinSignalLevel || a.Correlation > -0.5
	return a
}

// SignalPresent reports whether samples carry more than the noise floor.
func SignalPresent(samples []float32, config AnalysisConfig) bool {
	return RMS(samples) >= config.MinSignalLevel
}

// spectrum returns the magnitude of the positive-frequency bins of a
// Hann-windowed FFT.
func spectrum(samples []float32) []float64 {
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	window.Apply(x, window.Hann)
	bins := fft.FFTReal(x)
	mags := make([]float64, len(bins)/2+1)
	for i := range mags {
		mags[i] = cmplx.Abs(bins[i])
	}
	return mags
}

// SpectralCentroid returns the magnitude-weighted mean frequency in Hz, or
// 0 for silence.
func SpectralCentroid(samples []float32, sampleRate float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mags := spectrum(samples)
	binHz := sampleRate / float64(len(samples))
	var num, den float64
	for i, m := range mags {
		num += float64(i) * binHz * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// BandEnergy returns the fraction of spectral energy between lo and hi Hz.
func BandEnergy(samples []float32, sampleRate, lo, hi float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mags := spectrum(samples)
	binHz := sampleRate / float64(len(samples))
	var band, total float64
	for i, m := range mags {
		e := m * m
		total += e
		if f := float64(i) * binHz; f >= lo && f <= hi {
			band += e
		}
	}
	if total == 0 {
		return 0
	}
	return band / total
}
