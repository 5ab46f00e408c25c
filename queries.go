package mixengine

import (
	"sort"

	"github.com/shaban/mixengine/engine/analyze"
	"github.com/shaban/mixengine/engine/graph"
)

// GetTrack returns a read-only view of a track.
func (e *Engine) GetTrack(id string) (NodeInfo, error) { return e.info(id, KindTrack) }

// GetBus returns a read-only view of a bus, including master.
func (e *Engine) GetBus(id string) (NodeInfo, error) { return e.info(id, KindBus) }

func (e *Engine) info(id string, kind NodeKind) (NodeInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, err := e.nodeLocked(id, kind)
	if err != nil {
		return NodeInfo{}, err
	}
	return e.infoLocked(n, e.effectiveMuteLocked()), nil
}

// Tracks lists all tracks in creation order.
func (e *Engine) Tracks() []NodeInfo { return e.list(graph.KindTrack) }

// Buses lists all buses in creation order, master first.
func (e *Engine) Buses() []NodeInfo { return e.list(graph.KindBus) }

func (e *Engine) list(kind graph.Kind) []NodeInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	muted := e.effectiveMuteLocked()
	var out []NodeInfo
	for _, id := range e.graph.IDs() {
		if n := e.nodes[id]; n.kind == kind {
			out = append(out, e.infoLocked(n, muted))
		}
	}
	return out
}

// Connections returns every routing edge.
func (e *Engine) Connections() []Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Connection
	for _, id := range e.graph.IDs() {
		if d, ok := e.graph.Destination(id); ok {
			out = append(out, Connection{Source: id, Destination: d})
		}
	}
	return out
}

// GetLoadedPlugins lists every hosted plugin instance.
func (e *Engine) GetLoadedPlugins() []LoadedPlugin {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []LoadedPlugin
	for _, id := range e.graph.IDs() {
		for _, sl := range e.nodes[id].chain.slots {
			out = append(out, LoadedPlugin{
				NodeID:   id,
				SlotID:   sl.ID,
				PluginID: sl.PluginID,
				Position: sl.Position,
				Bypassed: sl.Bypassed(),
				Latency:  sl.plugin.Latency(),
			})
		}
	}
	return out
}

// AvailablePlugins returns the identifiers the configured loader can
// instantiate, when it can enumerate them.
func (e *Engine) AvailablePlugins() []string {
	lister, ok := e.cfg.Loader.(interface{ IDs() []string })
	if !ok {
		return nil
	}
	ids := lister.IDs()
	sort.Strings(ids)
	return ids
}

// Levels returns the latest post-fader metering of a node. Signal presence
// and the spectral figures are computed from the node's recent output on
// demand.
func (e *Engine) Levels(id string) (Levels, error) {
	n, err := e.lookup(id, "")
	if err != nil {
		return Levels{}, err
	}
	r := n.meter.Load()
	lv := Levels{
		RMS:         r.RMS,
		Peak:        r.Peak,
		RMSDB:       analyze.LinearToDB(r.RMS),
		PeakDB:      analyze.LinearToDB(r.Peak),
		Correlation: r.Correlation,
		Balance:     r.Balance,
		StereoWidth: r.Width,
		Failed:      n.failed.Load(),
		Failures:    n.failures.Load(),
	}
	sr := e.Spec().SampleRate
	if sr <= 0 {
		return lv, nil
	}
	samples := make([]float32, n.tap.Size())
	got := n.tap.Snapshot(samples)
	if got == 0 {
		return lv, nil
	}
	samples = samples[:got]
	lv.SignalPresent = analyze.SignalPresent(samples, analyze.DefaultAnalysisConfig())
	lv.SpectralCentroid = analyze.SpectralCentroid(samples, sr)
	lv.LowBand = analyze.BandEnergy(samples, sr, 0, LowBandHz)
	lv.HighBand = analyze.BandEnergy(samples, sr, HighBandHz, sr/2)
	return lv, nil
}

// Stats returns the real-time counters.
func (e *Engine) Stats() Stats {
	st := Stats{
		Ticks:      e.ticks.Load(),
		Xruns:      e.xruns.Load(),
		Errors:     e.rtErrorCount.Load(),
		ErrorsLost: e.rtErrors.Dropped(),
	}
	e.mu.RLock()
	for _, n := range e.nodes {
		if n.rec != nil {
			st.RecordLosses += n.rec.Dropped()
		}
	}
	e.mu.RUnlock()
	return st
}

// ClearError resets the sticky failure flag of a node. Its failure count is
// kept.
func (e *Engine) ClearError(id string) error {
	return e.dispatcher.Run(OpClearError, func() error {
		e.mu.RLock()
		defer e.mu.RUnlock()
		n, err := e.nodeLocked(id, "")
		if err != nil {
			return err
		}
		n.failed.Store(false)
		n.lastStatus.Store(0)
		return nil
	})
}
