package mixengine

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/shaban/mixengine/engine/spatial"
	"github.com/shaban/mixengine/internal/testutil"
)

func spatialTrack(t *testing.T, e *Engine, x, y, z float32) string {
	t.Helper()
	id := mustTrack(t, e, "source")
	e.SetTrackConstant(id, 1)
	if err := e.EnableSpatial(id, true); err != nil {
		t.Fatal(err)
	}
	if err := e.SetSourceTransform(id, spatial.At(x, y, z)); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSpatialDistanceAttenuation(t *testing.T) {
	e, host := newTestEngine(t, testutil.MonoSpec(64))
	id := spatialTrack(t, e, 0, 0, -2)

	// default room: absorption 0.5
	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-5)

	e.SetSourceTransform(id, spatial.At(0, 0, -6))
	testutil.AssertAll(t, render(t, host, 64), 0.25, 1e-5)

	// the fader volume is the base level
	e.SetTrackVolume(id, 2)
	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-5)

	e.EnableSpatial(id, false)
	testutil.AssertAll(t, render(t, host, 64), 2, 1e-5)
}

func TestSpatialReverbSend(t *testing.T) {
	e, host := newTestEngine(t, testutil.MonoSpec(64))
	verb := mustBus(t, e, "verb")
	spatialTrack(t, e, 0, 0, -2)

	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-5)

	if err := e.SetReverbBus(verb); err != nil {
		t.Fatalf("SetReverbBus failed: %v", err)
	}
	// gain 0.5 plus a send of (1 - 2/20) * 0.3 of the post-fader signal
	testutil.AssertAll(t, render(t, host, 64), 0.5+0.5*0.27, 1e-5)
	lv, err := e.Levels(verb)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lv.Peak-0.135) > 1e-5 {
		t.Errorf("Expected reverb bus peak 0.135, got %v", lv.Peak)
	}

	if err := e.SetRoom(spatial.Room{Size: 20, Reflection: 0, Absorption: 0.5}); err != nil {
		t.Fatal(err)
	}
	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-5)

	if err := e.SetReverbBus(""); err != nil {
		t.Fatal(err)
	}
	if e.ReverbBus() != "" {
		t.Error("Reverb bus should be cleared")
	}
}

func TestSpatialOrientation(t *testing.T) {
	e, host := newTestEngine(t, testutil.MonoSpec(64))
	// behind the default listener, which faces -Z
	spatialTrack(t, e, 0, 0, 2)

	if err := e.SetOrientationPolicy(spatial.Cardioid{Focus: 1}); err != nil {
		t.Fatal(err)
	}
	testutil.AssertAll(t, render(t, host, 64), 0, 1e-5)

	if err := e.SetListenerFacing(mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-4)

	e.SetOrientationPolicy(nil)
	e.SetListener(spatial.Identity())
	testutil.AssertAll(t, render(t, host, 64), 0.5, 1e-5)
}

func TestSpatialValidation(t *testing.T) {
	e, _ := newTestEngine(t, testutil.MonoSpec(64))
	track := mustTrack(t, e, "t")
	nan := float32(math.NaN())

	for _, r := range []spatial.Room{
		{Size: -1, Reflection: 0.3, Absorption: 0.5},
		{Size: 20, Reflection: 1.5, Absorption: 0.5},
		{Size: 20, Reflection: 0.3, Absorption: -0.1},
		{Size: nan, Reflection: 0.3, Absorption: 0.5},
	} {
		if err := e.SetRoom(r); !errors.Is(err, ErrInvalidState) {
			t.Errorf("SetRoom(%+v): expected ErrInvalidState, got %v", r, err)
		}
	}
	if e.Room() != spatial.DefaultRoom() {
		t.Errorf("Rejected rooms must not apply, got %+v", e.Room())
	}

	if err := e.SetSourceTransform(track, spatial.At(nan, 0, 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for a NaN position, got %v", err)
	}
	if err := e.SetListener(spatial.At(0, float32(math.Inf(1)), 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for an infinite listener, got %v", err)
	}
	if err := e.SetReverbBus(track); !errors.Is(err, ErrBusNotFound) {
		t.Errorf("Expected ErrBusNotFound for a track as reverb bus, got %v", err)
	}
	if err := e.EnableSpatial("missing", true); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound, got %v", err)
	}
}
