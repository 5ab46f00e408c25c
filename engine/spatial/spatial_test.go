package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-5 }

func TestGainFormula(t *testing.T) {
	s := &Spatializer{Room: Room{Size: 10, Reflection: 0.5, Absorption: 0.25}, Policy: Omni{}}
	r := s.Compute(Identity(), At(0, 0, -4), 2)
	if !near(r.Gain, 2/(1+4*0.25)) {
		t.Fatalf("gain: got %v", r.Gain)
	}
	if !near(r.ReverbSend, (1-0.4)*0.5) {
		t.Fatalf("send: got %v", r.ReverbSend)
	}
	if r := s.Compute(Identity(), At(0, 0, -12), 1); r.ReverbSend != 0 {
		t.Fatalf("outside room: send must be 0, got %v", r.ReverbSend)
	}
	if r := s.Compute(Identity(), Identity(), 1); r.Gain != 1 || !near(r.ReverbSend, 0.5) {
		t.Fatalf("at listener: %+v", r)
	}
}

// Gain never increases with distance along a fixed direction.
func TestGainMonotonicInDistance(t *testing.T) {
	for _, policy := range []OrientationPolicy{Omni{}, Cardioid{Focus: 0.7}} {
		s := &Spatializer{Room: DefaultRoom(), Policy: policy}
		dir := mgl32.Vec3{0.3, 0.1, -1}.Normalize()
		prev := float32(math.Inf(1))
		for d := float32(0); d < 100; d += 0.5 {
			p := dir.Mul(d)
			r := s.Compute(Identity(), At(p.X(), p.Y(), p.Z()), 1)
			if r.Gain > prev {
				t.Fatalf("%T: gain rose at distance %v: %v > %v", policy, d, r.Gain, prev)
			}
			if d > 0 && r.Gain >= prev {
				t.Fatalf("%T: gain must strictly decrease, distance %v", policy, d)
			}
			prev = r.Gain
		}
	}
}

func TestPanFollowsAzimuth(t *testing.T) {
	s := New()
	if r := s.Compute(Identity(), At(3, 0, 0), 1); !near(r.Pan, 1) {
		t.Fatalf("right: want 1 got %v", r.Pan)
	}
	if r := s.Compute(Identity(), At(-3, 0, 0), 1); !near(r.Pan, -1) {
		t.Fatalf("left: want -1 got %v", r.Pan)
	}
	if r := s.Compute(Identity(), At(0, 0, -3), 1); !near(r.Pan, 0) {
		t.Fatalf("front: want 0 got %v", r.Pan)
	}

	// turning the listener 90 degrees left puts a source ahead on the right
	listener := Transform{Orientation: mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})}
	if r := s.Compute(listener, At(0, 0, -3), 1); !near(r.Pan, 1) {
		t.Fatalf("rotated listener: want 1 got %v", r.Pan)
	}
}

func TestCardioidRejectsRear(t *testing.T) {
	s := &Spatializer{Room: Room{Size: 10, Absorption: 0}, Policy: Cardioid{Focus: 1}}
	front := s.Compute(Identity(), At(0, 0, -2), 1)
	rear := s.Compute(Identity(), At(0, 0, 2), 1)
	if !near(front.Gain, 1) {
		t.Fatalf("front: want 1 got %v", front.Gain)
	}
	if !near(rear.Gain, 0) {
		t.Fatalf("rear: want 0 got %v", rear.Gain)
	}
}
