package mixengine

import (
	"math"
	"runtime"
	"time"

	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/graph"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/source"
	"github.com/shaban/mixengine/engine/spec"
	"github.com/shaban/mixengine/engine/transport"
)

// renderNode is one node of a published snapshot.
type renderNode struct {
	node             *node
	dest             *node // nil for master
	muted            bool  // effective mute
	slots            []*PluginSlot
	params           []*plugin.Parameter // evaluated at the block position
	src              source.Source
	followsTransport bool
	delay            *buffer.DelayLine // latency compensation, nil when aligned
	rec              *recorder
}

// snapshot is the immutable render plan the real-time thread works from.
// Tracks come first so spatial reverb sends reach the reverb bus before it
// is processed; buses follow in topological order with master last.
type snapshot struct {
	gen    uint64
	spec   spec.AudioSpec
	nodes  []renderNode
	buses  []buffer.Buffer // summing buffers, cleared every block
	master *node
	reverb *node
	unity  buffer.Gains
}

// Timeouts used when waiting for the real-time thread.
const (
	quiesceTimeout  = 2 * time.Second
	snapshotTimeout = time.Second
)

// publishLocked rebuilds the render snapshot from the current graph and
// swaps it in. Callers hold e.mu. Before Initialize there is nothing to
// publish.
func (e *Engine) publishLocked() {
	if e.initState != EngineInitialized {
		return
	}
	e.gen++
	s := &snapshot{
		gen:    e.gen,
		spec:   e.spec,
		master: e.nodes[MasterID],
		unity:  buffer.Uniform(1),
	}

	muted := e.effectiveMuteLocked()
	order := e.graph.Order()
	live := e.reachableLocked()

	// total(n) = latest arrival among n's sources + n's own chain latency
	total := make(map[string]int, len(order))
	arrival := make(map[string]int, len(order))
	for _, id := range order {
		if !live[id] {
			continue
		}
		t := arrival[id] + e.nodes[id].chain.Latency()
		total[id] = t
		if d, ok := e.graph.Destination(id); ok && t > arrival[d] {
			arrival[d] = t
		}
	}

	add := func(id string) {
		n := e.nodes[id]
		rn := renderNode{
			node:  n,
			muted: muted[id],
			slots: n.chain.Slots(),
			rec:   n.rec,
		}
		rn.params = append(rn.params, n.params...)
		for _, sl := range rn.slots {
			rn.params = append(rn.params, sl.plugin.Parameters()...)
		}
		if n.instrument != nil {
			rn.params = append(rn.params, n.instrument.Plugin.Parameters()...)
		}
		if n.src != nil {
			rn.src = n.src
			if f, ok := n.src.(source.TransportFollower); ok {
				rn.followsTransport = f.FollowsTransport()
			}
		}
		if d, ok := e.graph.Destination(id); ok {
			rn.dest = e.nodes[d]
			n.compensation = arrival[d] - total[id]
		} else {
			n.compensation = 0
		}
		rn.delay = n.delayLine(s.spec.ChannelCount)
		s.nodes = append(s.nodes, rn)
		if n.kind == graph.KindBus {
			s.buses = append(s.buses, n.buf)
		}
	}
	for _, id := range order {
		if kind, _ := e.graph.Kind(id); live[id] && kind == graph.KindTrack {
			add(id)
		}
	}
	for _, id := range order {
		if kind, _ := e.graph.Kind(id); live[id] && kind == graph.KindBus {
			add(id)
		}
	}
	if e.reverbBus != "" && live[e.reverbBus] {
		s.reverb = e.nodes[e.reverbBus]
	}
	e.snap.Store(s)
}

// reachableLocked returns the nodes whose output reaches master. Unrouted
// subtrees are not rendered.
func (e *Engine) reachableLocked() map[string]bool {
	live := make(map[string]bool, len(e.nodes))
	for id := range e.nodes {
		cur := id
		for steps := 0; steps <= len(e.nodes); steps++ {
			if cur == MasterID {
				live[id] = true
				break
			}
			next, ok := e.graph.Destination(cur)
			if !ok {
				break
			}
			cur = next
		}
	}
	return live
}

// quiesce stops the real-time thread from touching buffers and waits for
// the callback in flight to return.
func (e *Engine) quiesce() bool {
	e.paused.Store(true)
	deadline := time.Now().Add(quiesceTimeout)
	for e.inflight.Load() != 0 {
		if time.Now().After(deadline) {
			return false
		}
		runtime.Gosched()
	}
	return true
}

func (e *Engine) resume() { e.paused.Store(false) }

// waitForSnapshot returns once no callback can still be working from a
// snapshot older than gen.
func (e *Engine) waitForSnapshot(gen uint64) {
	deadline := time.Now().Add(snapshotTimeout)
	for e.inflight.Load() != 0 && e.doneGen.Load() < gen {
		if time.Now().After(deadline) {
			e.log.WithField("generation", gen).Warn("timed out waiting for render snapshot")
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// ProcessCallback renders frames of interleaved output. Together with
// ProcessDuplex it is the only entry point for the real-time thread; it
// does not allocate, lock or log.
func (e *Engine) ProcessCallback(out []float32, frames int) {
	e.ProcessDuplex(nil, 0, out, frames)
}

// ProcessDuplex is ProcessCallback with the host's interleaved input block,
// read by tracks with a live input source.
func (e *Engine) ProcessDuplex(in []float32, inChannels int, out []float32, frames int) {
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	s := e.snap.Load()
	if s == nil || e.paused.Load() {
		clear(out)
		return
	}
	chans := s.spec.ChannelCount
	if limit := len(out) / chans; frames > limit {
		frames = limit
	}
	start := time.Now()

	if _, stopped := e.transport.Begin(); stopped {
		resetNodes(s, true)
	}
	input := source.Input{Samples: in, Channels: inChannels}
	for done := 0; done < frames; {
		blk := e.transport.Advance(min(frames-done, s.spec.BufferSize))
		e.render(s, blk, input.Slice(done))
		buffer.Interleave(out[done*chans:], s.master.buf, blk.Frames)
		done += blk.Frames
		if blk.Wrapped {
			resetNodes(s, false)
		}
	}

	e.ticks.Add(1)
	if time.Since(start) > periodOf(frames, s.spec.SampleRate) {
		e.xruns.Add(1)
	}
	e.doneGen.Store(s.gen)
}

func periodOf(frames int, sampleRate float64) time.Duration {
	return time.Duration(float64(frames) / sampleRate * float64(time.Second))
}

// resetNodes drops the signal held in the compensation delay lines at a
// loop or stop boundary. On stop the plugin chains and instruments are
// reset as well.
func resetNodes(s *snapshot, chains bool) {
	for i := range s.nodes {
		rn := &s.nodes[i]
		if rn.delay != nil {
			rn.delay.Reset()
		}
		if !chains {
			continue
		}
		for _, sl := range rn.slots {
			resetPlugin(sl.plugin)
		}
		if r, ok := rn.src.(source.Resetter); ok {
			resetPlugin(r)
		}
	}
}

func resetPlugin(p source.Resetter) {
	defer func() {
		_ = recover()
	}()
	p.Reset()
}

func (e *Engine) render(s *snapshot, blk transport.Block, in source.Input) {
	for _, b := range s.buses {
		b.Clear(blk.Frames)
	}
	for i := range s.nodes {
		e.renderNode(s, &s.nodes[i], blk, in)
	}
}

func (e *Engine) renderNode(s *snapshot, rn *renderNode, blk transport.Block, in source.Input) {
	nd := rn.node
	buf := nd.buf
	n := blk.Frames
	for _, p := range rn.params {
		p.Update(blk.Start)
	}

	var began time.Time
	if e.cfg.ChainBudget > 0 {
		began = time.Now()
	}

	st := plugin.StatusOK
	if nd.kind == graph.KindTrack {
		if rn.src == nil || (rn.followsTransport && blk.State == transport.Stopped) {
			buf.Clear(n)
		} else {
			st = readSource(rn.src, buf, n, blk.Start, in)
			if st == plugin.StatusOK && !buffer.CheckFinite(buf, n) {
				st = plugin.StatusNonFinite
			}
		}
		if st == plugin.StatusOK && rn.rec != nil && blk.State == transport.Recording {
			rn.rec.push(buf, n)
		}
	}

	var failed *PluginSlot
	if st == plugin.StatusOK {
		failed, st = runChain(rn, n)
	}
	if st == plugin.StatusOK && !buffer.CheckFinite(buf, n) {
		st = plugin.StatusNonFinite
	}
	if st == plugin.StatusOK && e.cfg.ChainBudget > 0 && time.Since(began) > e.cfg.ChainBudget {
		st = plugin.StatusOverBudget
	}
	if st != plugin.StatusOK {
		e.fail(nd, failed, st, blk.Start)
		buf.Clear(n)
		nd.meter.Reset()
		return
	}

	if rn.delay != nil {
		rn.delay.Process(buf, n)
	}
	if rn.muted {
		buf.Clear(n)
		nd.meter.Reset()
		return
	}

	gains, send := e.gains(s, nd)
	buf.ApplyGains(n, &gains)
	nd.meter.Update(buf, n)
	nd.tap.Write(buf, n)

	if send > 0 && s.reverb != nil && s.reverb != nd {
		g := buffer.Uniform(send)
		s.reverb.buf.AddScaled(buf, n, &g)
	}
	if rn.dest != nil {
		rn.dest.buf.AddScaled(buf, n, &s.unity)
	}
}

func readSource(src source.Source, dst buffer.Buffer, n int, pos int64, in source.Input) (st plugin.Status) {
	defer func() {
		if r := recover(); r != nil {
			st = plugin.StatusPanic
		}
	}()
	return src.Read(dst, n, pos, in)
}

// runChain processes the active slots in order, ping-ponging between the
// node buffer and its scratch buffer. The result ends up in the node buffer.
func runChain(rn *renderNode, n int) (failed *PluginSlot, st plugin.Status) {
	var cur *PluginSlot
	defer func() {
		if r := recover(); r != nil {
			failed, st = cur, plugin.StatusPanic
		}
	}()

	in, out := rn.node.buf, rn.node.scratch
	swapped := false
	for _, sl := range rn.slots {
		if sl.Bypassed() {
			continue
		}
		cur = sl
		if st = sl.plugin.Process(in, out, n); st != plugin.StatusOK {
			return cur, st
		}
		if !buffer.CheckFinite(out, n) {
			return cur, plugin.StatusNonFinite
		}
		in, out = out, in
		swapped = !swapped
	}
	if swapped {
		rn.node.buf.CopyFrom(in, n)
	}
	return nil, plugin.StatusOK
}

// fail records a real-time failure. The ring drops events when the control
// thread falls behind; the per-node counters never lose them.
func (e *Engine) fail(nd *node, slot *PluginSlot, st plugin.Status, pos int64) {
	nd.failed.Store(true)
	nd.failures.Add(1)
	nd.lastStatus.Store(uint32(st))
	e.rtErrorCount.Add(1)
	ev := RTError{NodeID: nd.id, Status: st, Position: pos}
	if slot != nil {
		ev.SlotID = slot.ID
	}
	e.rtErrors.Push(ev)
}

// gains returns the per-channel fader gains and the spatial reverb send.
func (e *Engine) gains(s *snapshot, nd *node) (buffer.Gains, float32) {
	vol := float32(nd.volume.Current())
	pan := float32(nd.pan.Current())
	var send float32
	if nd.spatial.Load() {
		res := e.spatializer.Load().Compute(*e.listener.Load(), *nd.transform.Load(), vol)
		vol, send = res.Gain, res.ReverbSend
		pan = max(-1, min(1, pan+res.Pan))
	}
	return panGains(e.cfg.PanLaw, s.spec.ChannelCount, vol, pan), send
}

// panGains applies pan to stereo outputs only; mono and multichannel
// outputs get vol on every channel.
func panGains(law PanLaw, channels int, vol, pan float32) buffer.Gains {
	g := buffer.Uniform(vol)
	if channels != 2 {
		return g
	}
	switch law {
	case PanConstantPower:
		theta := float64(pan+1) * math.Pi / 4
		g[0] = vol * float32(math.Cos(theta))
		g[1] = vol * float32(math.Sin(theta))
	default:
		if pan < 0 {
			g[1] = vol * (1 + pan)
		} else if pan > 0 {
			g[0] = vol * (1 - pan)
		}
	}
	return g
}
