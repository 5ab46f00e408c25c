package mixengine

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaban/mixengine/engine/plugin"
)

// PluginSlot hosts one plugin instance in a chain.
type PluginSlot struct {
	ID       string `json:"id"`
	PluginID string `json:"pluginId"`
	Position int    `json:"position"`

	plugin plugin.Plugin
	bypass atomic.Bool
}

// newPluginSlot wraps an instantiated plugin. An empty id gets a fresh UUID.
func newPluginSlot(id, pluginID string, p plugin.Plugin) *PluginSlot {
	if id == "" {
		id = uuid.NewString()
	}
	return &PluginSlot{ID: id, PluginID: pluginID, plugin: p}
}

// Plugin returns the hosted instance.
func (s *PluginSlot) Plugin() plugin.Plugin { return s.plugin }

// Bypassed reports whether processing is skipped.
func (s *PluginSlot) Bypassed() bool { return s.bypass.Load() }

// SetBypass can be called concurrently with processing; it takes effect on
// the next block.
func (s *PluginSlot) SetBypass(b bool) { s.bypass.Store(b) }

// Latency is the plugin latency, or 0 while bypassed.
func (s *PluginSlot) Latency() int {
	if s.Bypassed() {
		return 0
	}
	return s.plugin.Latency()
}

// Parameter returns the named plugin parameter.
func (s *PluginSlot) Parameter(name string) (*plugin.Parameter, error) {
	p, ok := plugin.FindParameter(s.plugin, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no parameter %q", ErrParameterNotFound, s.PluginID, name)
	}
	return p, nil
}

// GetState returns the serializable state of the slot
func (s *PluginSlot) GetState() PluginSlotState {
	st := PluginSlotState{
		ID:         s.ID,
		PluginID:   s.PluginID,
		Position:   s.Position,
		Bypassed:   s.Bypassed(),
		Parameters: make(map[string]float64),
	}
	for _, p := range s.plugin.Parameters() {
		st.Parameters[p.Name] = p.Value()
		if c := p.Automation(); c != nil {
			if st.Automation == nil {
				st.Automation = make(map[string][]plugin.Point)
			}
			st.Automation[p.Name] = c.Points()
		}
	}
	return st
}

// PluginChain manages the ordered slots of one track or bus. It is guarded
// by the engine lock; render snapshots take a copy of the slot list, so edits
// never touch a slice the real-time thread is iterating.
type PluginChain struct {
	slots []*PluginSlot
}

// PluginChainState represents the serializable state of a plugin chain
type PluginChainState struct {
	Slots []PluginSlotState `json:"slots"`
}

// PluginSlotState represents the serializable state of a plugin slot
type PluginSlotState struct {
	ID         string                    `json:"id"`
	PluginID   string                    `json:"pluginId"`
	Position   int                       `json:"position"`
	Bypassed   bool                      `json:"bypassed"`
	Parameters map[string]float64        `json:"parameters"`
	Automation map[string][]plugin.Point `json:"automation,omitempty"`
}

// Len returns the number of slots.
func (pc *PluginChain) Len() int { return len(pc.slots) }

// Insert places slot at position; a negative position appends.
func (pc *PluginChain) Insert(slot *PluginSlot, position int) error {
	if position < 0 {
		position = len(pc.slots)
	}
	if position > len(pc.slots) {
		return fmt.Errorf("invalid position %d for plugin chain of %d", position, len(pc.slots))
	}
	pc.slots = append(pc.slots, nil)
	copy(pc.slots[position+1:], pc.slots[position:])
	pc.slots[position] = slot
	pc.renumber(position)
	return nil
}

// Remove deletes the slot with the given id and returns it.
func (pc *PluginChain) Remove(id string) (*PluginSlot, error) {
	for i, s := range pc.slots {
		if s.ID != id {
			continue
		}
		copy(pc.slots[i:], pc.slots[i+1:])
		pc.slots[len(pc.slots)-1] = nil
		pc.slots = pc.slots[:len(pc.slots)-1]
		pc.renumber(i)
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// Move reorders the slot to position.
func (pc *PluginChain) Move(id string, position int) error {
	if position < 0 || position >= len(pc.slots) {
		return fmt.Errorf("invalid position %d for plugin chain of %d", position, len(pc.slots))
	}
	s, err := pc.Remove(id)
	if err != nil {
		return err
	}
	return pc.Insert(s, position)
}

// Get returns a specific slot by ID
func (pc *PluginChain) Get(id string) (*PluginSlot, bool) {
	for _, s := range pc.slots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Slots returns a copy of the slot list.
func (pc *PluginChain) Slots() []*PluginSlot {
	out := make([]*PluginSlot, len(pc.slots))
	copy(out, pc.slots)
	return out
}

// Latency sums the latency of the active slots.
func (pc *PluginChain) Latency() int {
	total := 0
	for _, s := range pc.slots {
		total += s.Latency()
	}
	return total
}

// GetState returns the serializable state of the plugin chain
func (pc *PluginChain) GetState() PluginChainState {
	states := make([]PluginSlotState, len(pc.slots))
	for i, s := range pc.slots {
		states[i] = s.GetState()
	}
	return PluginChainState{Slots: states}
}

func (pc *PluginChain) renumber(from int) {
	for i := from; i < len(pc.slots); i++ {
		pc.slots[i].Position = i
	}
}
