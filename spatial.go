package mixengine

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/shaban/mixengine/engine/spatial"
)

func finite(vs ...float32) bool {
	for _, v := range vs {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

func validTransform(t spatial.Transform) error {
	p, q := t.Position, t.Orientation
	if !finite(p[0], p[1], p[2], q.W, q.V[0], q.V[1], q.V[2]) {
		return fmt.Errorf("%w: non-finite transform", ErrInvalidState)
	}
	return nil
}

func validRoom(r spatial.Room) error {
	if !finite(r.Size, r.Reflection, r.Absorption) || r.Size < 0 || r.Absorption < 0 ||
		r.Reflection < 0 || r.Reflection > 1 {
		return fmt.Errorf("%w: room %+v", ErrInvalidState, r)
	}
	return nil
}

// EnableSpatial switches a track between fader panning and 3D positioning.
// Spatial tracks derive gain, pan and reverb send from their transform
// relative to the listener; the fader volume becomes the base level and
// the fader pan is added to the computed pan.
func (e *Engine) EnableSpatial(trackID string, enabled bool) error {
	n, err := e.lookup(trackID, KindTrack)
	if err != nil {
		return err
	}
	n.spatial.Store(enabled)
	return nil
}

// SetSourceTransform positions a track in the room.
func (e *Engine) SetSourceTransform(trackID string, t spatial.Transform) error {
	if err := validTransform(t); err != nil {
		return err
	}
	n, err := e.lookup(trackID, KindTrack)
	if err != nil {
		return err
	}
	n.transform.Store(&t)
	return nil
}

// SourceTransform returns a track's position in the room.
func (e *Engine) SourceTransform(trackID string) (spatial.Transform, error) {
	n, err := e.lookup(trackID, KindTrack)
	if err != nil {
		return spatial.Transform{}, err
	}
	return *n.transform.Load(), nil
}

// SetListener moves the listener.
func (e *Engine) SetListener(t spatial.Transform) error {
	if err := validTransform(t); err != nil {
		return err
	}
	e.listener.Store(&t)
	return nil
}

// Listener returns the listener transform.
func (e *Engine) Listener() spatial.Transform { return *e.listener.Load() }

// SetRoom replaces the room model shared by every spatial track.
func (e *Engine) SetRoom(r spatial.Room) error {
	if err := validRoom(r); err != nil {
		return err
	}
	return e.dispatcher.Run(OpSpatial, func() error {
		next := *e.spatializer.Load()
		next.Room = r
		e.spatializer.Store(&next)
		return nil
	})
}

// Room returns the room model.
func (e *Engine) Room() spatial.Room { return e.spatializer.Load().Room }

// SetOrientationPolicy sets the directional attenuation applied to spatial
// tracks. nil restores omnidirectional listening.
func (e *Engine) SetOrientationPolicy(p spatial.OrientationPolicy) error {
	if p == nil {
		p = spatial.Omni{}
	}
	return e.dispatcher.Run(OpSpatial, func() error {
		next := *e.spatializer.Load()
		next.Policy = p
		e.spatializer.Store(&next)
		return nil
	})
}

// SetListenerFacing orients the listener toward a point, keeping +Y up.
func (e *Engine) SetListenerFacing(position, target mgl32.Vec3) error {
	dir := target.Sub(position)
	if dir.Len() == 0 {
		return e.SetListener(spatial.Transform{Position: position, Orientation: mgl32.QuatIdent()})
	}
	q := mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, -1}, dir.Normalize())
	return e.SetListener(spatial.Transform{Position: position, Orientation: q})
}

// SetReverbBus names the bus that receives the spatial reverb sends. An
// empty id disables the sends.
func (e *Engine) SetReverbBus(busID string) error {
	return e.edit(OpSpatial, func() error {
		if busID != "" {
			if _, err := e.nodeLocked(busID, KindBus); err != nil {
				return err
			}
		}
		e.reverbBus = busID
		return nil
	})
}

// ReverbBus returns the reverb bus id, empty when sends are disabled.
func (e *Engine) ReverbBus() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reverbBus
}
