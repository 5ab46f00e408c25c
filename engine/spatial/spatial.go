// Package spatial computes per-source gain, reverb send and pan from the
// listener and source transforms and the shared room model. Computation is
// constant time per source.
package spatial

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a position plus orientation. The identity orientation looks
// down -Z with +X to the right.
type Transform struct {
	Position    mgl32.Vec3 `json:"position"`
	Orientation mgl32.Quat `json:"orientation"`
}

// Identity returns a transform at the origin facing -Z.
func Identity() Transform {
	return Transform{Orientation: mgl32.QuatIdent()}
}

// At returns an identity-oriented transform at (x, y, z).
func At(x, y, z float32) Transform {
	return Transform{Position: mgl32.Vec3{x, y, z}, Orientation: mgl32.QuatIdent()}
}

// Room carries the attenuation profile shared by every source.
type Room struct {
	Size       float32 `json:"size"`
	Reflection float32 `json:"reflection"`
	Absorption float32 `json:"absorption"`
}

// DefaultRoom is a medium, moderately damped room.
func DefaultRoom() Room {
	return Room{Size: 20, Reflection: 0.3, Absorption: 0.5}
}

// Result is what the mixer applies to a spatial source for one tick.
type Result struct {
	Gain       float32
	ReverbSend float32
	Pan        float32
}

var forward = mgl32.Vec3{0, 0, -1}

// OrientationPolicy attenuates sources by their direction relative to the
// listener. dir is the unit vector to the source in listener space.
type OrientationPolicy interface {
	Factor(dir mgl32.Vec3) float32
}

// Omni ignores direction.
type Omni struct{}

func (Omni) Factor(mgl32.Vec3) float32 { return 1 }

// Cardioid favours sources in front of the listener. Focus 0 is
// omnidirectional, 1 fully rejects sources directly behind.
type Cardioid struct {
	Focus float32
}

func (c Cardioid) Factor(dir mgl32.Vec3) float32 {
	f := mgl32.Clamp(c.Focus, 0, 1)
	cos := dir.Dot(forward)
	return (1 - f) + f*0.5*(1+cos)
}

// Spatializer combines a room model with an orientation policy.
type Spatializer struct {
	Room   Room
	Policy OrientationPolicy
}

// New returns a spatializer with the default room and no directional
// attenuation.
func New() *Spatializer {
	return &Spatializer{Room: DefaultRoom(), Policy: Omni{}}
}

// Compute evaluates one source.
func (s *Spatializer) Compute(listener, src Transform, baseVolume float32) Result {
	rel := src.Position.Sub(listener.Position)
	dist := rel.Len()
	room := s.Room

	absorption := room.Absorption
	if absorption < 0 {
		absorption = 0
	}
	r := Result{Gain: baseVolume / (1 + dist*absorption)}

	if room.Size > 0 && dist < room.Size {
		send := (1 - dist/room.Size) * room.Reflection
		r.ReverbSend = mgl32.Clamp(send, 0, max(room.Reflection, 0))
	}

	if dist > 0 {
		dir := listenerSpace(listener.Orientation, rel).Mul(1 / dist)
		r.Pan = mgl32.Clamp(dir.X(), -1, 1)
		if s.Policy != nil {
			r.Gain *= s.Policy.Factor(dir)
		}
	}
	return r
}

func listenerSpace(q mgl32.Quat, v mgl32.Vec3) mgl32.Vec3 {
	if q.W == 0 && q.V == (mgl32.Vec3{}) {
		return v
	}
	return q.Normalize().Inverse().Rotate(v)
}
