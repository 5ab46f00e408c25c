package transport

import (
	"errors"
	"testing"
)

func TestStateMachine(t *testing.T) {
	tr := New()
	if err := tr.StartRecording(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("record from stopped: want ErrInvalidTransition got %v", err)
	}

	tr.Play()
	if tr.State() != Stopped {
		t.Fatal("play must not apply before the next tick")
	}
	if s, _ := tr.Begin(); s != Playing {
		t.Fatalf("begin: want playing got %s", s)
	}
	if err := tr.StartRecording(); err != nil {
		t.Fatal(err)
	}
	tr.Begin()
	if tr.State() != Recording {
		t.Fatalf("want recording got %s", tr.State())
	}
	if err := tr.StopRecording(); err != nil {
		t.Fatal(err)
	}
	tr.Begin()
	if tr.State() != Playing {
		t.Fatalf("stop recording: want playing got %s", tr.State())
	}
	if err := tr.StopRecording(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stop recording twice: want ErrInvalidTransition got %v", err)
	}

	tr.StartRecording()
	tr.Stop()
	tr.Begin()
	if tr.State() != Stopped {
		t.Fatalf("stop from recording: want stopped got %s", tr.State())
	}
}

func TestAdvanceAndStopReset(t *testing.T) {
	tr := New()
	tr.Advance(128)
	if tr.Position() != 0 {
		t.Fatal("stopped transport must not advance")
	}
	tr.Play()
	tr.Begin()
	b := tr.Advance(128)
	if b.Start != 0 || b.Frames != 128 || tr.Position() != 128 {
		t.Fatalf("block %+v pos %d", b, tr.Position())
	}
	tr.Advance(128)
	tr.SetLoop(Loop{Start: 64, End: 1000})
	tr.Stop()
	tr.Begin()
	if tr.Position() != 64 {
		t.Fatalf("stop: want loop start 64 got %d", tr.Position())
	}
}

func TestStopPlayBetweenTicksResets(t *testing.T) {
	tr := New()
	tr.SetLoop(Loop{Start: 32, End: 1000})
	tr.Play()
	if _, stopped := tr.Begin(); stopped {
		t.Fatal("play alone must not report a stop")
	}
	tr.Advance(256)

	// both requests land before the next tick
	tr.Stop()
	tr.Play()
	s, stopped := tr.Begin()
	if s != Playing || !stopped {
		t.Fatalf("want playing with a stop reported, got %s %v", s, stopped)
	}
	if tr.Position() != 32 {
		t.Fatalf("want loop start 32 got %d", tr.Position())
	}
	if _, stopped := tr.Begin(); stopped {
		t.Fatal("stop must be reported once")
	}
}

func TestLoopWrapSplitsBlock(t *testing.T) {
	tr := New()
	if err := tr.SetLoop(Loop{Enabled: true, Start: 100, End: 300}); err != nil {
		t.Fatal(err)
	}
	tr.Locate(250)
	tr.Play()
	tr.Begin()

	b := tr.Advance(128)
	if b.Start != 250 || b.Frames != 50 || !b.Wrapped {
		t.Fatalf("first block: %+v", b)
	}
	b = tr.Advance(128 - b.Frames)
	if b.Start != 100 || b.Frames != 78 || b.Wrapped {
		t.Fatalf("second block: %+v", b)
	}
	if tr.Position() != 178 {
		t.Fatalf("pos: want 178 got %d", tr.Position())
	}
}

func TestSetLoopValidation(t *testing.T) {
	tr := New()
	for _, l := range []Loop{
		{Enabled: true, Start: 10, End: 10},
		{Enabled: true, Start: 10, End: 5},
		{Start: -1},
	} {
		if err := tr.SetLoop(l); !errors.Is(err, ErrInvalidLoop) {
			t.Fatalf("%+v: want ErrInvalidLoop got %v", l, err)
		}
	}
	if err := tr.SetLoop(Loop{Start: 10, End: 5}); err != nil {
		t.Fatalf("disabled loop with stale bounds should be accepted: %v", err)
	}
}
