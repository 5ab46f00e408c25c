package mixengine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/shaban/mixengine/engine/analyze"
	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/graph"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/source"
	"github.com/shaban/mixengine/engine/spatial"
	"github.com/shaban/mixengine/engine/spec"
)

// tapSize is the number of recent samples kept per node for spectral metering.
const tapSize = 4096

// node is a track or a bus. Identity, chain and source are guarded by the
// engine lock; parameters and flags are atomics the real-time thread reads
// once per block. Buffers belong to the real-time thread while a snapshot
// referencing the node is published.
type node struct {
	id   string
	name string
	kind graph.Kind

	volume *plugin.Parameter
	pan    *plugin.Parameter
	params []*plugin.Parameter // volume, pan, then user-defined

	mute atomic.Bool
	solo atomic.Bool

	chain PluginChain

	src        source.Source
	srcState   SourceState
	instrument *source.Instrument

	spatial   atomic.Bool
	transform atomic.Pointer[spatial.Transform]

	buf          buffer.Buffer
	scratch      buffer.Buffer
	pdc          *buffer.DelayLine
	compensation int

	meter analyze.Meter
	tap   *analyze.Tap

	failed     atomic.Bool
	failures   atomic.Uint64
	lastStatus atomic.Uint32

	rec *recorder
}

func newNode(id, name string, kind graph.Kind, maxVolume float64) *node {
	n := &node{
		id:       id,
		name:     name,
		kind:     kind,
		volume:   plugin.NewParameter("volume", "", 0, maxVolume, 1),
		pan:      plugin.NewParameter("pan", "", -1, 1, 0),
		srcState: SourceState{Kind: SourceNone},
		tap:      analyze.NewTap(tapSize),
	}
	n.params = []*plugin.Parameter{n.volume, n.pan}
	id0 := spatial.Identity()
	n.transform.Store(&id0)
	return n
}

// allocate sizes the node buffers for s. The node must not be referenced by
// a running callback.
func (n *node) allocate(s spec.AudioSpec) {
	n.buf = buffer.New(s.ChannelCount, s.BufferSize)
	n.scratch = buffer.New(s.ChannelCount, s.BufferSize)
	n.pdc = nil
}

// prepare broadcasts the audio settings to every hosted plugin.
func (n *node) prepare(s spec.AudioSpec) error {
	for _, sl := range n.chain.slots {
		if err := sl.plugin.Prepare(s.SampleRate, s.BufferSize, s.ChannelCount); err != nil {
			return fmt.Errorf("prepare %s on %s: %w", sl.PluginID, n.id, err)
		}
	}
	if n.instrument != nil {
		if err := n.instrument.Plugin.Prepare(s.SampleRate, s.BufferSize, s.ChannelCount); err != nil {
			return fmt.Errorf("prepare instrument on %s: %w", n.id, err)
		}
	}
	return nil
}

// delayLine returns the compensation delay for the current alignment,
// reusing the existing line when its length is unchanged.
func (n *node) delayLine(channels int) *buffer.DelayLine {
	if n.compensation <= 0 {
		n.pdc = nil
		return nil
	}
	if n.pdc == nil || n.pdc.Len() != n.compensation {
		n.pdc = buffer.NewDelayLine(channels, n.compensation)
	}
	return n.pdc
}

func (n *node) parameter(name string) (*plugin.Parameter, error) {
	for _, p := range n.params {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no parameter %q", ErrParameterNotFound, n.id, name)
}

func (n *node) publicKind() NodeKind {
	if n.kind == graph.KindTrack {
		return KindTrack
	}
	return KindBus
}

// nodeLocked looks up id and checks its kind; an empty kind accepts both.
func (e *Engine) nodeLocked(id string, kind NodeKind) (*node, error) {
	n, ok := e.nodes[id]
	switch {
	case kind == KindTrack && (!ok || n.kind != graph.KindTrack):
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	case kind == KindBus && (!ok || n.kind != graph.KindBus):
		return nil, fmt.Errorf("%w: %s", ErrBusNotFound, id)
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

func (e *Engine) lookup(id string, kind NodeKind) (*node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodeLocked(id, kind)
}

// setParameter writes a continuous control value. It does not go through the
// dispatcher; the real-time thread picks the value up on its next block.
func (e *Engine) setParameter(id string, kind NodeKind, name string, value float64) error {
	e.mu.RLock()
	n, err := e.nodeLocked(id, kind)
	var p *plugin.Parameter
	if err == nil {
		p, err = n.parameter(name)
	}
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	_, err = p.Set(value)
	return err
}

func (e *Engine) setFlag(id string, kind NodeKind, solo, value bool) error {
	return e.edit(OpSetFlags, func() error {
		n, err := e.nodeLocked(id, kind)
		if err != nil {
			return err
		}
		if solo {
			n.solo.Store(value)
		} else {
			n.mute.Store(value)
		}
		return nil
	})
}

// SetTrackVolume sets the linear volume, clamped to [0, MaxVolume].
func (e *Engine) SetTrackVolume(id string, volume float64) error {
	return e.setParameter(id, KindTrack, "volume", volume)
}

// SetTrackPan sets the pan, clamped to [-1, 1].
func (e *Engine) SetTrackPan(id string, pan float64) error {
	return e.setParameter(id, KindTrack, "pan", pan)
}

func (e *Engine) SetTrackMute(id string, muted bool) error {
	return e.setFlag(id, KindTrack, false, muted)
}

func (e *Engine) SetTrackSolo(id string, solo bool) error {
	return e.setFlag(id, KindTrack, true, solo)
}

// SetBusVolume sets the linear volume, clamped to [0, MaxVolume].
func (e *Engine) SetBusVolume(id string, volume float64) error {
	return e.setParameter(id, KindBus, "volume", volume)
}

// SetBusPan sets the pan, clamped to [-1, 1].
func (e *Engine) SetBusPan(id string, pan float64) error {
	return e.setParameter(id, KindBus, "pan", pan)
}

func (e *Engine) SetBusMute(id string, muted bool) error {
	return e.setFlag(id, KindBus, false, muted)
}

func (e *Engine) SetBusSolo(id string, solo bool) error {
	return e.setFlag(id, KindBus, true, solo)
}

// DefineParameter adds a named, automatable value to a track or bus. The
// engine does not apply it to audio; it is evaluated each block so
// collaborators can read automation through Parameter.
func (e *Engine) DefineParameter(id, name string, lo, hi, def float64) error {
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsNaN(def) || lo > hi {
		return fmt.Errorf("%w: range [%v, %v]", plugin.ErrInvalidValue, lo, hi)
	}
	return e.edit(OpDefineParameter, func() error {
		n, err := e.nodeLocked(id, "")
		if err != nil {
			return err
		}
		if _, err := n.parameter(name); err == nil {
			return fmt.Errorf("parameter %q already defined on %s", name, id)
		}
		n.params = append(n.params, plugin.NewParameter(name, "", lo, hi, def))
		return nil
	})
}

// SetParameter sets any named parameter of a track or bus, including
// volume and pan.
func (e *Engine) SetParameter(id, name string, value float64) error {
	return e.setParameter(id, "", name, value)
}

// Parameter returns the value in effect for the last block, which reflects
// automation when a curve is installed.
func (e *Engine) Parameter(id, name string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, err := e.nodeLocked(id, "")
	if err != nil {
		return 0, err
	}
	p, err := n.parameter(name)
	if err != nil {
		return 0, err
	}
	return p.Current(), nil
}

// AutomateParameter installs a curve on a track or bus parameter. A nil
// curve clears automation.
func (e *Engine) AutomateParameter(id, name string, c *plugin.Curve) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, err := e.nodeLocked(id, "")
	if err != nil {
		return err
	}
	p, err := n.parameter(name)
	if err != nil {
		return err
	}
	if c == nil {
		p.ClearAutomation()
		return nil
	}
	return p.Automate(c)
}

// infoLocked builds the public view of n. Callers hold e.mu.
func (e *Engine) infoLocked(n *node, effectiveMute map[string]bool) NodeInfo {
	info := NodeInfo{
		ID:            n.id,
		Name:          n.name,
		Kind:          n.publicKind(),
		Volume:        n.volume.Value(),
		Pan:           n.pan.Value(),
		Mute:          n.mute.Load(),
		Solo:          n.solo.Load(),
		EffectiveMute: effectiveMute[n.id],
		Plugins:       n.chain.GetState().Slots,
		Latency:       n.chain.Latency(),
		Compensation:  n.compensation,
		Spatial:       n.spatial.Load(),
		Recording:     n.rec != nil,
		Failed:        n.failed.Load(),
		Failures:      n.failures.Load(),
		LastStatus:    plugin.Status(n.lastStatus.Load()),
	}
	if n.kind == graph.KindTrack {
		info.Source = n.srcState.Kind
	} else {
		info.Sources = e.graph.Sources(n.id)
	}
	if d, ok := e.graph.Destination(n.id); ok {
		info.Destination = d
	}
	return info
}

func (e *Engine) effectiveMuteLocked() map[string]bool {
	flags := make(map[string]graph.Flags, len(e.nodes))
	for id, n := range e.nodes {
		flags[id] = graph.Flags{Mute: n.mute.Load(), Solo: n.solo.Load()}
	}
	return e.graph.EffectiveMute(flags)
}
