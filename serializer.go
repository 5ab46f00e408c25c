package mixengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shaban/mixengine/engine/graph"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/source"
	"github.com/shaban/mixengine/engine/spatial"
	"github.com/shaban/mixengine/engine/spec"
	"github.com/shaban/mixengine/engine/transport"
	"github.com/sirupsen/logrus"
)

// EngineState represents the complete serializable state of the engine
type EngineState struct {
	Version     string                 `json:"version"`
	Name        string                 `json:"name"`
	Spec        spec.AudioSpec         `json:"spec"` // informational; restore keeps the running spec
	Nodes       []NodeState            `json:"nodes"`
	Connections []Connection           `json:"connections"`
	Transport   TransportSettings      `json:"transport"`
	Spatial     SpatialSettings        `json:"spatial"`
	Timestamp   int64                  `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NodeState is the saved form of a track or bus.
type NodeState struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       NodeKind          `json:"kind"`
	Mute       bool              `json:"mute"`
	Solo       bool              `json:"solo"`
	Parameters []ParameterState  `json:"parameters"`
	Plugins    []PluginSlotState `json:"plugins"`
	Source     SourceState       `json:"source"`
	Spatial    bool              `json:"spatial"`
	Transform  spatial.Transform `json:"transform"`
}

// ParameterState is the saved form of a node parameter.
type ParameterState struct {
	Name       string         `json:"name"`
	Min        float64        `json:"min"`
	Max        float64        `json:"max"`
	Default    float64        `json:"default"`
	Value      float64        `json:"value"`
	Automation []plugin.Point `json:"automation,omitempty"`
}

// TransportSettings is the saved transport position and loop.
type TransportSettings struct {
	Loop     transport.Loop `json:"loop"`
	Position int64          `json:"position"`
}

// SpatialSettings is the saved listener, room and reverb routing.
type SpatialSettings struct {
	Listener  spatial.Transform `json:"listener"`
	Room      spatial.Room      `json:"room"`
	ReverbBus string            `json:"reverbBus,omitempty"`
}

// Serializer handles engine state persistence and restoration
type Serializer struct {
	engine  *Engine
	mu      sync.Mutex // serializes SetState
	version string
}

// NewSerializer creates a new serializer
func NewSerializer(engine *Engine) *Serializer {
	return &Serializer{
		engine:  engine,
		version: "1.0.0", // Engine state format version
	}
}

// GetState captures the complete engine state. Custom sources and clips
// that were not loaded from a file are saved as silent tracks.
func (s *Serializer) GetState() EngineState {
	e := s.engine
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := EngineState{
		Version: s.version,
		Name:    e.name,
		Spec:    e.spec,
		Transport: TransportSettings{
			Loop:     e.transport.Loop(),
			Position: e.transport.Position(),
		},
		Spatial: SpatialSettings{
			Listener:  *e.listener.Load(),
			Room:      e.spatializer.Load().Room,
			ReverbBus: e.reverbBus,
		},
		Timestamp: time.Now().Unix(),
		Metadata:  make(map[string]interface{}),
	}
	if state.Spec == (spec.AudioSpec{}) {
		state.Spec = e.cfg.Spec
	}

	for _, id := range e.graph.IDs() {
		n := e.nodes[id]
		ns := NodeState{
			ID:        n.id,
			Name:      n.name,
			Kind:      n.publicKind(),
			Mute:      n.mute.Load(),
			Solo:      n.solo.Load(),
			Plugins:   n.chain.GetState().Slots,
			Source:    n.srcState,
			Spatial:   n.spatial.Load(),
			Transform: *n.transform.Load(),
		}
		if ns.Source.Kind == SourceCustom || (ns.Source.Kind == SourceClip && ns.Source.Path == "") {
			ns.Source = SourceState{Kind: SourceNone}
		}
		for _, p := range n.params {
			ps := ParameterState{Name: p.Name, Min: p.Min, Max: p.Max, Default: p.Default, Value: p.Value()}
			if c := p.Automation(); c != nil {
				ps.Automation = c.Points()
			}
			ns.Parameters = append(ns.Parameters, ps)
		}
		state.Nodes = append(state.Nodes, ns)
		if d, ok := e.graph.Destination(id); ok {
			state.Connections = append(state.Connections, Connection{Source: id, Destination: d})
		}
	}
	return state
}

// SetState replaces the engine graph with the given state. Plugins and
// clips are loaded before the engine is touched; on any failure the current
// graph is kept.
func (s *Serializer) SetState(state EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ValidateState(state); err != nil {
		return err
	}
	return s.engine.restore(state)
}

// SaveToWriter saves the engine state to a writer (JSON format)
func (s *Serializer) SaveToWriter(writer io.Writer) error {
	state := s.GetState()

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return nil
}

// LoadFromReader loads engine state from a reader (JSON format)
func (s *Serializer) LoadFromReader(reader io.Reader) error {
	var state EngineState

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&state); err != nil {
		return fmt.Errorf("failed to decode engine state: %w", err)
	}
	return s.SetState(state)
}

// SaveToJSON returns the engine state as JSON string
func (s *Serializer) SaveToJSON() (string, error) {
	data, err := json.MarshalIndent(s.GetState(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal engine state: %w", err)
	}
	return string(data), nil
}

// LoadFromJSON restores engine state from JSON string
func (s *Serializer) LoadFromJSON(jsonData string) error {
	var state EngineState
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return fmt.Errorf("failed to unmarshal engine state: %w", err)
	}
	return s.SetState(state)
}

// GetVersion returns the current serializer version
func (s *Serializer) GetVersion() string {
	return s.version
}

// IsCompatible checks if a state version is compatible with current serializer
func (s *Serializer) IsCompatible(version string) bool {
	return version == s.version
}

// ValidateState checks the integrity of an engine state without touching
// the engine: ids are unique, the master bus is present, connections
// reference known nodes, end at buses and form no cycle. Transforms, the
// room and the loop must be usable as they are.
func (s *Serializer) ValidateState(state EngineState) error {
	if !s.IsCompatible(state.Version) {
		return fmt.Errorf("%w: incompatible state version %q", ErrInvalidState, state.Version)
	}

	g := graph.New(MasterID)
	hasMaster := false
	for _, ns := range state.Nodes {
		if err := validTransform(ns.Transform); err != nil {
			return fmt.Errorf("node %s: %w", ns.ID, err)
		}
		if ns.ID == MasterID {
			if ns.Kind != KindBus {
				return fmt.Errorf("%w: master must be a bus", ErrInvalidState)
			}
			hasMaster = true
			continue
		}
		kind, err := graphKind(ns.Kind)
		if err != nil {
			return err
		}
		if ns.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidState)
		}
		if err := g.Add(ns.ID, kind); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	if !hasMaster {
		return fmt.Errorf("%w: master bus missing from state", ErrInvalidState)
	}
	for _, c := range state.Connections {
		if err := g.Connect(c.Source, c.Destination); err != nil {
			if errors.Is(err, graph.ErrCycle) {
				return fmt.Errorf("%w: %s -> %s", ErrCycle, c.Source, c.Destination)
			}
			return fmt.Errorf("%w: connection %s -> %s: %v", ErrInvalidState, c.Source, c.Destination, err)
		}
	}
	if rb := state.Spatial.ReverbBus; rb != "" {
		if k, ok := g.Kind(rb); !ok || k != graph.KindBus {
			return fmt.Errorf("%w: reverb bus %s", ErrBusNotFound, rb)
		}
	}
	if err := validTransform(state.Spatial.Listener); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if err := validRoom(state.Spatial.Room); err != nil {
		return err
	}
	if err := state.Transport.Loop.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return nil
}

func graphKind(k NodeKind) (graph.Kind, error) {
	switch k {
	case KindTrack:
		return graph.KindTrack, nil
	case KindBus:
		return graph.KindBus, nil
	}
	return 0, fmt.Errorf("%w: unknown node kind %q", ErrInvalidState, k)
}

// State captures the engine state.
func (e *Engine) State() EngineState { return e.serializer.GetState() }

// Restore replaces the engine graph with a saved state.
func (e *Engine) Restore(state EngineState) error { return e.serializer.SetState(state) }

// preloaded holds everything a restore needs from disk or the plugin loader.
type preloaded struct {
	plugins map[*PluginSlotState]plugin.Plugin
	sources map[string]source.Source
	insts   map[string]*source.Instrument
}

func (e *Engine) preload(state EngineState) (*preloaded, error) {
	pre := &preloaded{
		plugins: make(map[*PluginSlotState]plugin.Plugin),
		sources: make(map[string]source.Source),
		insts:   make(map[string]*source.Instrument),
	}
	for i := range state.Nodes {
		ns := &state.Nodes[i]
		for j := range ns.Plugins {
			ss := &ns.Plugins[j]
			p, err := e.loadPlugin(ss.PluginID)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", ns.ID, err)
			}
			if err := applyPluginState(p, ss); err != nil {
				return nil, fmt.Errorf("node %s slot %s: %w", ns.ID, ss.ID, err)
			}
			pre.plugins[ss] = p
		}

		switch src := ns.Source; src.Kind {
		case SourceClip:
			clip, err := source.DecodeFile(src.Path)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", ns.ID, err)
			}
			clip.Start = src.Start
			pre.sources[ns.ID] = clip
		case SourceInstrument:
			p, err := e.loadPlugin(src.Instrument)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", ns.ID, err)
			}
			inst, ok := p.(plugin.Instrument)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not an instrument", ErrPluginLoad, src.Instrument)
			}
			in := source.NewInstrument(inst, e.cfg.MIDIQueueSize)
			pre.sources[ns.ID] = in
			pre.insts[ns.ID] = in
		case SourceInput:
			pre.sources[ns.ID] = source.LiveInput{Map: src.InputMap}
		case SourceConstant:
			pre.sources[ns.ID] = source.Constant{Value: src.Value}
		}
	}
	return pre, nil
}

func applyPluginState(p plugin.Plugin, ss *PluginSlotState) error {
	for name, v := range ss.Parameters {
		prm, ok := plugin.FindParameter(p, name)
		if !ok {
			return fmt.Errorf("%w: %s has no parameter %q", ErrParameterNotFound, ss.PluginID, name)
		}
		if _, err := prm.Set(v); err != nil {
			return err
		}
	}
	for name, pts := range ss.Automation {
		prm, ok := plugin.FindParameter(p, name)
		if !ok {
			return fmt.Errorf("%w: %s has no parameter %q", ErrParameterNotFound, ss.PluginID, name)
		}
		if err := automate(prm, pts); err != nil {
			return err
		}
	}
	return nil
}

func automate(p *plugin.Parameter, pts []plugin.Point) error {
	if len(pts) == 0 {
		return nil
	}
	c, err := plugin.NewCurve(pts...)
	if err != nil {
		return err
	}
	return p.Automate(c)
}

// restore swaps in a graph rebuilt from state. New nodes get fresh
// buffers, so the running snapshot keeps working until the swap; recordings
// in progress are finalized once it has been retired.
func (e *Engine) restore(state EngineState) error {
	pre, err := e.preload(state)
	if err != nil {
		return err
	}

	err = e.editThen(OpRestore, func() (func() error, error) {
		oldGraph, oldNodes, oldReverb := e.graph, e.nodes, e.reverbBus
		oldLoop := e.transport.Loop()

		e.graph = graph.New(MasterID)
		e.nodes = make(map[string]*node, len(state.Nodes))
		e.reverbBus = ""
		master := newNode(MasterID, "Master", graph.KindBus, e.cfg.MaxVolume)
		if e.initState == EngineInitialized {
			master.allocate(e.spec)
		}
		e.nodes[MasterID] = master

		if err := e.rebuildLocked(state, pre); err != nil {
			e.graph, e.nodes, e.reverbBus = oldGraph, oldNodes, oldReverb
			e.transport.SetLoop(oldLoop)
			return nil, err
		}

		var recs []*recorder
		for _, n := range oldNodes {
			if n.rec != nil {
				recs = append(recs, n.rec)
				n.rec = nil
			}
		}
		e.transport.Stop()
		e.transport.Locate(state.Transport.Position)
		if len(recs) == 0 {
			return nil, nil
		}
		return func() error {
			var errs []error
			for _, r := range recs {
				errs = append(errs, r.close())
			}
			return errors.Join(errs...)
		}, nil
	})
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"nodes": len(state.Nodes), "version": state.Version}).Info("engine state restored")
	return nil
}

func (e *Engine) rebuildLocked(state EngineState, pre *preloaded) error {
	for i := range state.Nodes {
		ns := &state.Nodes[i]
		var n *node
		if ns.ID == MasterID {
			n = e.nodes[MasterID]
			if ns.Name != "" {
				n.name = ns.Name
			}
		} else {
			kind, err := graphKind(ns.Kind)
			if err != nil {
				return err
			}
			if n, err = e.createNodeLocked(ns.ID, ns.Name, kind, false); err != nil {
				return err
			}
		}
		if err := e.restoreNodeLocked(n, ns, pre); err != nil {
			return fmt.Errorf("node %s: %w", ns.ID, err)
		}
	}

	for _, c := range state.Connections {
		if err := e.graph.Connect(c.Source, c.Destination); err != nil {
			return err
		}
	}
	e.reverbBus = state.Spatial.ReverbBus

	if err := e.transport.SetLoop(state.Transport.Loop); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportState, err)
	}
	if err := validTransform(state.Spatial.Listener); err != nil {
		return err
	}
	listener := state.Spatial.Listener
	if listener.Orientation.W == 0 && listener.Orientation.V.Len() == 0 {
		listener.Orientation = spatial.Identity().Orientation
	}
	e.listener.Store(&listener)
	sp := *e.spatializer.Load()
	sp.Room = state.Spatial.Room
	e.spatializer.Store(&sp)
	return nil
}

func (e *Engine) restoreNodeLocked(n *node, ns *NodeState, pre *preloaded) error {
	n.mute.Store(ns.Mute)
	n.solo.Store(ns.Solo)
	n.spatial.Store(ns.Spatial)
	t := ns.Transform
	if err := validTransform(t); err != nil {
		return err
	}
	n.transform.Store(&t)

	for _, ps := range ns.Parameters {
		p, err := n.parameter(ps.Name)
		if err != nil {
			p = plugin.NewParameter(ps.Name, "", ps.Min, ps.Max, ps.Default)
			n.params = append(n.params, p)
		}
		if _, err := p.Set(ps.Value); err != nil {
			return err
		}
		if err := automate(p, ps.Automation); err != nil {
			return err
		}
	}

	for j := range ns.Plugins {
		ss := &ns.Plugins[j]
		slot := newPluginSlot(ss.ID, ss.PluginID, pre.plugins[ss])
		slot.SetBypass(ss.Bypassed)
		if err := e.insertSlotLocked(n, slot, -1); err != nil {
			return err
		}
	}

	if n.kind != graph.KindTrack {
		return nil
	}
	src := pre.sources[ns.ID]
	srcState := ns.Source
	if src == nil {
		srcState = SourceState{Kind: SourceNone}
	}
	return e.installSourceLocked(n, src, pre.insts[ns.ID], srcState)
}
