// Package testutil holds helpers shared by the engine tests.
package testutil

import (
	"math"
	"os"
	"testing"

	"github.com/shaban/mixengine/engine/spec"
)

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// SmallSpec returns a stereo AudioSpec with a short buffer for fast tests.
func SmallSpec() spec.AudioSpec {
	s := spec.DefaultAudioSpec()
	s.BufferSize = 128
	return s
}

// MonoSpec returns a mono AudioSpec with the given buffer size.
func MonoSpec(frames int) spec.AudioSpec {
	return spec.AudioSpec{SampleRate: 48000, BufferSize: frames, ChannelCount: 1, BitDepth: 16}
}

// Constant returns n interleaved samples set to v.
func Constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// AssertAll fails unless every sample is within tol of want.
func AssertAll(t *testing.T, got []float32, want, tol float32) {
	t.Helper()
	for i, v := range got {
		if math.Abs(float64(v-want)) > float64(tol) {
			t.Fatalf("sample %d: want %v got %v", i, want, v)
		}
	}
}

// AssertSilent fails unless every sample is exactly zero.
func AssertSilent(t *testing.T, got []float32) {
	t.Helper()
	for i, v := range got {
		if v != 0 {
			t.Fatalf("sample %d: want silence got %v", i, v)
		}
	}
}

// Channel extracts one channel of an interleaved block.
func Channel(interleaved []float32, channels, ch int) []float32 {
	out := make([]float32, 0, len(interleaved)/channels)
	for i := ch; i < len(interleaved); i += channels {
		out = append(out, interleaved[i])
	}
	return out
}

// FirstNonZero returns the index of the first sample with |v| > tol, or -1.
func FirstNonZero(samples []float32, tol float32) int {
	for i, v := range samples {
		if math.Abs(float64(v)) > float64(tol) {
			return i
		}
	}
	return -1
}
