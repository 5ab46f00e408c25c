package mixengine

import "github.com/shaban/mixengine/engine/plugin"

// MasterID is the id of the master bus every engine owns.
const MasterID = "master"

// NodeKind represents the two node types of the mix graph
type NodeKind string

const (
	KindTrack NodeKind = "track"
	KindBus   NodeKind = "bus"
)

// SourceKind describes what feeds a track.
type SourceKind string

const (
	SourceNone       SourceKind = "none"
	SourceClip       SourceKind = "clip"
	SourceInput      SourceKind = "input"
	SourceInstrument SourceKind = "instrument"
	SourceConstant   SourceKind = "constant"
	SourceCustom     SourceKind = "custom" // set through SetTrackSource, not serializable
)

// Connection represents a routing edge between nodes
type Connection struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// NodeInfo is a read-only view of a track or bus.
type NodeInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Kind          NodeKind          `json:"kind"`
	Destination   string            `json:"destination,omitempty"`
	Sources       []string          `json:"sources,omitempty"`
	Volume        float64           `json:"volume"`
	Pan           float64           `json:"pan"`
	Mute          bool              `json:"mute"`
	Solo          bool              `json:"solo"`
	EffectiveMute bool              `json:"effectiveMute"`
	Source        SourceKind        `json:"source,omitempty"`
	Plugins       []PluginSlotState `json:"plugins"`
	Latency       int               `json:"latency"`      // chain latency in frames
	Compensation  int               `json:"compensation"` // alignment delay in frames
	Spatial       bool              `json:"spatial"`
	Recording     bool              `json:"recording"`
	Failed        bool              `json:"failed"` // sticky until ClearError
	Failures      uint64            `json:"failures"`
	LastStatus    plugin.Status     `json:"lastStatus"`
}

// LoadedPlugin identifies one plugin instance hosted by the engine.
type LoadedPlugin struct {
	NodeID   string `json:"nodeId"`
	SlotID   string `json:"slotId"`
	PluginID string `json:"pluginId"`
	Position int    `json:"position"`
	Bypassed bool   `json:"bypassed"`
	Latency  int    `json:"latency"`
}

// Levels is the latest post-fader metering of a node.
type Levels struct {
	RMS              float64 `json:"rms"`
	Peak             float64 `json:"peak"`
	RMSDB            float64 `json:"rmsDb"`
	PeakDB           float64 `json:"peakDb"`
	Correlation      float64 `json:"correlation"`
	Balance          float64 `json:"balance"`     // -1 left to 1 right
	StereoWidth      float64 `json:"stereoWidth"` // 0 for mono content
	SignalPresent    bool    `json:"signalPresent"`
	SpectralCentroid float64 `json:"spectralCentroid"`
	LowBand          float64 `json:"lowBand"`  // energy share below LowBandHz
	HighBand         float64 `json:"highBand"` // energy share above HighBandHz
	Failed           bool    `json:"failed"`
	Failures         uint64  `json:"failures"`
}

// Band edges used by Levels.
const (
	LowBandHz  = 250
	HighBandHz = 4000
)

// Stats reports real-time thread counters.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Xruns        uint64 `json:"xruns"`
	Errors       uint64 `json:"errors"`
	ErrorsLost   uint64 `json:"errorsLost"`
	RecordLosses uint64 `json:"recordLosses"`
}
