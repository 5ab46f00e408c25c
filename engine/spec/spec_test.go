package spec

import (
	"errors"
	"testing"
	"time"
)

func TestResolve_Defaults(t *testing.T) {
	got := Resolve(Preferences{})
	if got.SampleRate != 48000 {
		t.Fatalf("rate: want 48000 got %v", got.SampleRate)
	}
	if got.BufferSize != 512 {
		t.Fatalf("buf: want 512 got %v", got.BufferSize)
	}
	if got.ChannelCount != 2 {
		t.Fatalf("ch: want 2 got %v", got.ChannelCount)
	}
	if got.BitDepth != 16 {
		t.Fatalf("bd: want 16 got %v", got.BitDepth)
	}
}

func TestResolve_Overrides(t *testing.T) {
	p := Preferences{PreferredSampleRate: 96000, LatencyHint: LatencyLow, ChannelCount: 1, BitDepth: 24}
	got := Resolve(p)
	if got.SampleRate != 96000 {
		t.Fatalf("rate: want 96000 got %v", got.SampleRate)
	}
	if got.BufferSize != 128 {
		t.Fatalf("buf: want 128 got %v", got.BufferSize)
	}
	if got.ChannelCount != 1 {
		t.Fatalf("ch: want 1 got %v", got.ChannelCount)
	}
	if got.BitDepth != 24 {
		t.Fatalf("bd: want 24 got %v", got.BitDepth)
	}
}

func TestResolve_BufferHintBeatsLatency(t *testing.T) {
	got := Resolve(Preferences{LatencyHint: LatencyHigh, BufferSize: 384})
	if got.BufferSize != 384 {
		t.Fatalf("buf: want 384 got %v", got.BufferSize)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		s    AudioSpec
		ok   bool
	}{
		{"default", DefaultAudioSpec(), true},
		{"low rate", AudioSpec{SampleRate: 4000, BufferSize: 128, ChannelCount: 2}, false},
		{"high rate", AudioSpec{SampleRate: 500000, BufferSize: 128, ChannelCount: 2}, false},
		{"tiny buffer", AudioSpec{SampleRate: 48000, BufferSize: 8, ChannelCount: 2}, false},
		{"huge buffer", AudioSpec{SampleRate: 48000, BufferSize: 8192, ChannelCount: 2}, false},
		{"no channels", AudioSpec{SampleRate: 48000, BufferSize: 128, ChannelCount: 0}, false},
		{"odd depth", AudioSpec{SampleRate: 48000, BufferSize: 128, ChannelCount: 1, BitDepth: 12}, false},
		{"mono", AudioSpec{SampleRate: 44100, BufferSize: 128, ChannelCount: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.s)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected error for %+v", tc.s)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("want ErrInvalid, got %v", err)
				}
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	s := AudioSpec{SampleRate: 48000, BufferSize: 480, ChannelCount: 2}
	if got := s.Period(); got != 10*time.Millisecond {
		t.Fatalf("period: want 10ms got %v", got)
	}
}
