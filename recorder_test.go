package mixengine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/source"
	"github.com/shaban/mixengine/engine/transport"
	"github.com/shaban/mixengine/internal/testutil"
)

func TestRecordingToWAV(t *testing.T) {
	dir := t.TempDir()
	e, host := newTestEngine(t, testutil.MonoSpec(128))
	track := mustTrack(t, e, "vox")
	e.SetTrackConstant(track, 0.5)
	// recording taps the source, before the fader
	e.SetTrackVolume(track, 0.1)

	path := filepath.Join(dir, "take.wav")
	sink, err := NewWAVSink(path, 48000, 16, 1)
	if err != nil {
		t.Fatalf("NewWAVSink failed: %v", err)
	}
	if err := e.StartRecording(track, sink); !errors.Is(err, ErrTransportState) {
		t.Fatalf("Recording while stopped must fail with ErrTransportState, got %v", err)
	}

	if err := e.StartPlayback(); err != nil {
		t.Fatal(err)
	}
	if err := e.StartRecording(track, sink); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if e.TransportState() != transport.Recording {
		t.Fatalf("Expected transport to record, got %v", e.TransportState())
	}
	if info, _ := e.GetTrack(track); !info.Recording {
		t.Error("Track should report recording")
	}
	for i := 0; i < 4; i++ {
		render(t, host, 128)
	}
	if err := e.StopRecording(track); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if e.TransportState() != transport.Playing {
		t.Errorf("Expected transport back to playing, got %v", e.TransportState())
	}
	if err := e.StopRecording(track); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for a second stop, got %v", err)
	}

	clip, err := source.DecodeFile(path)
	if err != nil {
		t.Fatalf("Failed to decode recording: %v", err)
	}
	if clip.Frames() != 512 || clip.SampleRate != 48000 {
		t.Fatalf("Expected 512 frames at 48 kHz, got %d at %d", clip.Frames(), clip.SampleRate)
	}
	buf := buffer.New(1, 512)
	clip.Read(buf, 512, 0, source.Input{})
	testutil.AssertAll(t, buf.Data[0], 0.5, 1e-3)
	if e.Stats().RecordLosses != 0 {
		t.Errorf("Expected no lost blocks, got %d", e.Stats().RecordLosses)
	}
}

func TestRecordingDefaultSink(t *testing.T) {
	dir := t.TempDir()
	e, host := newTestEngineWith(t, testutil.MonoSpec(64), func(c *Config) { c.RecordDir = dir })
	track := mustTrack(t, e, "guitar")
	e.SetTrackConstant(track, 0.25)
	e.StartPlayback()

	if err := e.StartRecording(track, nil); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	render(t, host, 64)
	// stopping the transport finalizes every recording
	if err := e.StopPlayback(); err != nil {
		t.Fatalf("StopPlayback failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), track) {
		t.Fatalf("Expected one recording for %s, got %v", track, entries)
	}
	clip, err := source.DecodeFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Failed to decode recording: %v", err)
	}
	if clip.Frames() != 64 {
		t.Errorf("Expected 64 frames, got %d", clip.Frames())
	}
}

func TestClipPlayback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	sink, err := NewWAVSink(path, 48000, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	b := buffer.New(1, 100)
	for i := range b.Data[0] {
		b.Data[0][i] = 0.5
	}
	if err := sink.Write(b, 100); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	e, host := newTestEngine(t, testutil.MonoSpec(64))
	track := mustTrack(t, e, "clip")
	if err := e.LoadClip(track, path, 32); err != nil {
		t.Fatalf("LoadClip failed: %v", err)
	}

	// clips follow the transport and stay silent while stopped
	testutil.AssertSilent(t, render(t, host, 64))

	e.StartPlayback()
	out := append(render(t, host, 64), render(t, host, 64)...)
	out = append(out, render(t, host, 64)...)
	if i := testutil.FirstNonZero(out, 0); i != 32 {
		t.Fatalf("Expected clip to start at frame 32, got %d", i)
	}
	testutil.AssertAll(t, out[32:132], 0.5, 1e-3)
	testutil.AssertSilent(t, out[132:])

	if err := e.LoadClip(track, filepath.Join(dir, "missing.wav"), 0); err == nil {
		t.Error("Loading a missing file must fail")
	}
}
