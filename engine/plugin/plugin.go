// Package plugin defines the contract every effect or instrument hosted in a
// chain slot satisfies, the parameter model shared with the control thread,
// and the registry the engine uses to instantiate plugins by identifier.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shaban/mixengine/engine/buffer"
	"gitlab.com/gomidi/midi/v2"
)

// ErrUnknown is returned by Load for identifiers with no registered factory.
var ErrUnknown = errors.New("unknown plugin")

// Status is the per-call result of Process. Plugins report failures with a
// status code; the engine never expects a panic or error value from the
// real-time path.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusNonFinite
	StatusOverBudget
	StatusPanic
	StatusSourceError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "processing error"
	case StatusNonFinite:
		return "non-finite output"
	case StatusOverBudget:
		return "time budget exceeded"
	case StatusPanic:
		return "plugin panic"
	case StatusSourceError:
		return "source error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Plugin is the capability interface of a hosted effect.
//
// Process is only ever called from the real-time thread and must not
// allocate, block or log. Prepare is called on the control thread while the
// plugin is not processing, on insertion and whenever the host renegotiates
// the buffer size; frames passed to Process never exceed maxFrames.
type Plugin interface {
	Name() string
	Parameters() []*Parameter
	Prepare(sampleRate float64, maxFrames, channels int) error
	Process(in, out buffer.Buffer, frames int) Status
	// Latency reports the delay the plugin introduces, in frames.
	Latency() int
	Reset()
}

// Instrument is a plugin that renders audio from MIDI. HandleMIDI is called
// on the real-time thread right before Process.
type Instrument interface {
	Plugin
	HandleMIDI(msg midi.Message)
}

// Factory creates a fresh plugin instance.
type Factory func() (Plugin, error)

// Loader instantiates plugins by identifier.
type Loader interface {
	Load(id string) (Plugin, error)
}

// Registry maps plugin identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Load instantiates the plugin registered as id.
func (r *Registry) Load(id string) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("instantiate %s: factory returned nil", id)
	}
	return p, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Builtin plugin identifiers.
const (
	IDGain    = "gain"
	IDFilter  = "filter"
	IDDelay   = "delay"
	IDReverb  = "reverb"
	IDTremolo = "tremolo"
	IDLimiter = "limiter"
	IDSynth   = "synth"
)

// DefaultRegistry returns a registry holding the builtin plugins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(IDGain, func() (Plugin, error) { return NewGain(), nil })
	r.Register(IDFilter, func() (Plugin, error) { return NewFilter(), nil })
	r.Register(IDDelay, func() (Plugin, error) { return NewDelay(), nil })
	r.Register(IDReverb, func() (Plugin, error) { return NewReverb(), nil })
	r.Register(IDTremolo, func() (Plugin, error) { return NewTremolo(), nil })
	r.Register(IDLimiter, func() (Plugin, error) { return NewLimiter(), nil })
	r.Register(IDSynth, func() (Plugin, error) { return NewSynth(), nil })
	return r
}

// FindParameter returns the named parameter of p.
func FindParameter(p Plugin, name string) (*Parameter, bool) {
	for _, prm := range p.Parameters() {
		if prm.Name == name {
			return prm, true
		}
	}
	return nil, false
}
