// Package mixengine is a real-time audio mixing and routing engine. An
// Engine owns a graph of tracks and buses rooted at a master bus, hosts a
// plugin chain per node, positions tracks in 3D space and renders the mix
// from a host callback without allocating, locking or logging.
//
// Graph edits run on a single control goroutine and are published to the
// real-time thread as immutable render snapshots; continuous values such as
// volume, pan and plugin parameters are atomics read once per block.
package mixengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaban/mixengine/engine/graph"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/ring"
	"github.com/shaban/mixengine/engine/spatial"
	"github.com/shaban/mixengine/engine/spec"
	"github.com/shaban/mixengine/engine/transport"
	"github.com/sirupsen/logrus"
)

// EngineInitState tracks engine initialization lifecycle
type EngineInitState int

const (
	EngineCreated     EngineInitState = iota // graph editable, nothing rendered
	EngineInitialized                        // buffers allocated, snapshot published
	EngineClosed                             // shut down, every call fails
)

func (s EngineInitState) String() string {
	switch s {
	case EngineCreated:
		return "created"
	case EngineInitialized:
		return "initialized"
	case EngineClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine represents the mixing engine and its control-thread API
type Engine struct {
	// Core identity
	id   uuid.UUID
	name string

	// Core state
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          Config
	log          *logrus.Logger
	errorHandler ErrorHandler
	dispatcher   *Dispatcher
	monitor      *Monitor
	serializer   *Serializer
	initState    EngineInitState
	spec         spec.AudioSpec

	// Mix graph, guarded by mu
	graph     *graph.Graph
	nodes     map[string]*node
	reverbBus string

	transport   *transport.Transport
	spatializer atomic.Pointer[spatial.Spatializer]
	listener    atomic.Pointer[spatial.Transform]

	// Real-time publication
	snap     atomic.Pointer[snapshot]
	gen      uint64
	inflight atomic.Int32
	paused   atomic.Bool
	doneGen  atomic.Uint64
	ticks    atomic.Uint64
	xruns    atomic.Uint64

	// Real-time error reporting
	rtErrors     *ring.SPSC[RTError]
	rtErrorCount atomic.Uint64
	errMu        sync.Mutex
	errLog       []RTError
}

// NewEngine creates an engine holding only the master bus. Call Initialize
// before rendering.
func NewEngine(config Config) (*Engine, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:           uuid.New(),
		name:         cfg.Name,
		ctx:          ctx,
		cancel:       cancel,
		cfg:          cfg,
		log:          cfg.Logger,
		errorHandler: cfg.ErrorHandler,
		initState:    EngineCreated,
		graph:        graph.New(MasterID),
		nodes:        make(map[string]*node),
		transport:    transport.New(),
		rtErrors:     ring.New[RTError](cfg.ErrorQueueSize),
	}
	e.nodes[MasterID] = newNode(MasterID, "Master", graph.KindBus, cfg.MaxVolume)
	e.spatializer.Store(spatial.New())
	listener := spatial.Identity()
	e.listener.Store(&listener)

	e.dispatcher = NewDispatcher(e)
	if err := e.dispatcher.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}
	e.serializer = NewSerializer(e)
	e.monitor = NewMonitor(e, cfg.PollInterval)
	e.monitor.SetCallbacks(cfg.OnNodeError, cfg.OnDeadlineMiss)
	if !cfg.DisableMonitor {
		if err := e.monitor.Start(); err != nil {
			e.dispatcher.Stop()
			cancel()
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	e.log.WithFields(logrus.Fields{"engine": e.id.String(), "name": e.name}).Debug("engine created")
	return e, nil
}

// Initialize allocates every node buffer for s, prepares all plugins,
// publishes the first render snapshot and opens the configured host. A zero
// spec uses Config.Spec. On failure the engine stays uninitialized and the
// call can be retried.
func (e *Engine) Initialize(s spec.AudioSpec) error {
	if s == (spec.AudioSpec{}) {
		s = e.cfg.Spec
	}
	if s.BitDepth == 0 {
		s.BitDepth = 16
	}
	if err := spec.Validate(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	err := e.dispatcher.Run(OpInitialize, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		switch e.initState {
		case EngineInitialized:
			return ErrAlreadyInitialized
		case EngineClosed:
			return ErrEngineClosed
		}
		for _, n := range e.nodes {
			n.allocate(s)
			if err := n.prepare(s); err != nil {
				return err
			}
		}
		e.spec = s
		e.initState = EngineInitialized
		e.publishLocked()
		return nil
	})
	if err != nil {
		return err
	}

	if e.cfg.Host != nil {
		if err := e.cfg.Host.Open(s, e); err != nil {
			e.dispatcher.Run(OpInitialize, func() error {
				e.mu.Lock()
				defer e.mu.Unlock()
				e.initState = EngineCreated
				e.snap.Store(nil)
				return nil
			})
			return fmt.Errorf("open host: %w", err)
		}
	}

	e.log.WithFields(logrus.Fields{
		"sampleRate": s.SampleRate,
		"bufferSize": s.BufferSize,
		"channels":   s.ChannelCount,
	}).Info("engine initialized")
	return nil
}

// SetBufferSize renegotiates the block size at runtime. The real-time
// thread is paused while buffers are reallocated and every plugin is
// prepared for the new size.
func (e *Engine) SetBufferSize(frames int) error {
	return e.dispatcher.Run(OpSetBufferSize, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.initState != EngineInitialized {
			return ErrNotInitialized
		}
		next := e.spec
		next.BufferSize = frames
		if err := spec.Validate(next); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if frames == e.spec.BufferSize {
			return nil
		}

		if !e.quiesce() {
			e.resume()
			return fmt.Errorf("buffer size change: real-time thread did not yield within %v", quiesceTimeout)
		}
		defer e.resume()

		prev := e.spec
		if err := e.reallocateLocked(next); err != nil {
			if rerr := e.reallocateLocked(prev); rerr != nil {
				e.errorHandler.HandleError(fmt.Errorf("restore buffer size %d: %w", prev.BufferSize, rerr))
			}
			e.publishLocked()
			return err
		}
		e.spec = next
		e.publishLocked()
		e.log.WithFields(logrus.Fields{"from": prev.BufferSize, "to": frames}).Info("buffer size changed")
		return nil
	})
}

func (e *Engine) reallocateLocked(s spec.AudioSpec) error {
	for _, n := range e.nodes {
		n.allocate(s)
		if err := n.prepare(s); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown closes the host, drains the real-time thread, finalizes any
// recordings and stops the background goroutines. It is safe to call more
// than once.
func (e *Engine) Shutdown() error {
	e.mu.RLock()
	state := e.initState
	e.mu.RUnlock()
	if state == EngineClosed {
		return nil
	}

	var errs []error
	if state == EngineInitialized && e.cfg.Host != nil {
		if err := e.cfg.Host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close host: %w", err))
		}
	}

	var recs []*recorder
	err := e.dispatcher.Run(OpShutdown, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.initState == EngineClosed {
			return nil
		}
		e.transport.Stop()
		if !e.quiesce() {
			e.errorHandler.HandleError(fmt.Errorf("shutdown: real-time thread did not yield within %v", quiesceTimeout))
		}
		e.snap.Store(nil)
		for _, n := range e.nodes {
			if n.rec != nil {
				recs = append(recs, n.rec)
				n.rec = nil
			}
		}
		e.initState = EngineClosed
		return nil
	})
	if err != nil && !errors.Is(err, ErrEngineClosed) {
		errs = append(errs, err)
	}
	for _, r := range recs {
		if err := r.close(); err != nil {
			errs = append(errs, fmt.Errorf("finalize recording of %s: %w", r.trackID, err))
		}
	}

	e.monitor.Stop()
	e.monitor.check()
	if err := e.dispatcher.Stop(); err != nil {
		errs = append(errs, err)
	}
	e.cancel()
	e.log.WithField("engine", e.id.String()).Info("engine shut down")
	return errors.Join(errs...)
}

// edit runs fn on the dispatcher under the engine lock and republishes the
// render snapshot when fn succeeds.
func (e *Engine) edit(op OperationType, fn func() error) error {
	return e.editThen(op, func() (func() error, error) {
		return nil, fn()
	})
}

// editThen is edit for changes that release resources the previous snapshot
// still references. The returned after func runs once no callback can be
// using that snapshot.
func (e *Engine) editThen(op OperationType, fn func() (after func() error, err error)) error {
	return e.dispatcher.Run(op, func() error {
		e.mu.Lock()
		if e.initState == EngineClosed {
			e.mu.Unlock()
			return ErrEngineClosed
		}
		after, err := fn()
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.publishLocked()
		gen := e.gen
		e.mu.Unlock()

		if after == nil {
			return nil
		}
		e.waitForSnapshot(gen)
		return after()
	})
}

// GetID returns the engine's UUID
func (e *Engine) GetID() uuid.UUID {
	return e.id
}

// GetIDString returns the engine's UUID as string
func (e *Engine) GetIDString() string {
	return e.id.String()
}

// GetName returns the engine name
func (e *Engine) GetName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// SetName sets the engine name
func (e *Engine) SetName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.name = name
}

// InitState returns the lifecycle state.
func (e *Engine) InitState() EngineInitState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initState
}

// IsInitialized reports whether the engine is rendering.
func (e *Engine) IsInitialized() bool { return e.InitState() == EngineInitialized }

// Spec returns the audio settings in effect.
func (e *Engine) Spec() spec.AudioSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spec
}

// GetConfiguration returns the resolved engine configuration.
func (e *Engine) GetConfiguration() Config { return e.cfg }

// GetDispatcher returns the control-thread dispatcher.
func (e *Engine) GetDispatcher() *Dispatcher { return e.dispatcher }

// GetMonitor returns the error and deadline monitor.
func (e *Engine) GetMonitor() *Monitor { return e.monitor }

// GetSerializer returns the serializer for state persistence.
func (e *Engine) GetSerializer() *Serializer { return e.serializer }

// CreateTrack adds a track routed to master and returns its id.
func (e *Engine) CreateTrack(name string) (string, error) {
	return e.createNode(OpCreateTrack, name, graph.KindTrack)
}

// CreateBus adds a bus routed to master and returns its id.
func (e *Engine) CreateBus(name string) (string, error) {
	return e.createNode(OpCreateBus, name, graph.KindBus)
}

func (e *Engine) createNode(op OperationType, name string, kind graph.Kind) (string, error) {
	var id string
	err := e.edit(op, func() error {
		n, err := e.createNodeLocked("", name, kind, true)
		if err != nil {
			return err
		}
		id = n.id
		return nil
	})
	if err != nil {
		return "", err
	}
	e.log.WithFields(logrus.Fields{"id": id, "name": name, "kind": kind.String()}).Debug("node created")
	return id, nil
}

// createNodeLocked adds a node with the given id, or a fresh UUID when id
// is empty.
func (e *Engine) createNodeLocked(id, name string, kind graph.Kind, routeToMaster bool) (*node, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := e.graph.Add(id, kind); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	n := newNode(id, name, kind, e.cfg.MaxVolume)
	if e.initState == EngineInitialized {
		n.allocate(e.spec)
	}
	e.nodes[id] = n
	if routeToMaster {
		if err := e.graph.Connect(id, MasterID); err != nil {
			e.graph.Remove(id)
			delete(e.nodes, id)
			return nil, err
		}
	}
	return n, nil
}

// RemoveTrack deletes a track, finalizing its recording if one is active.
func (e *Engine) RemoveTrack(id string) error { return e.removeNode(id, KindTrack) }

// RemoveBus deletes a bus. Its sources are left unrouted.
func (e *Engine) RemoveBus(id string) error { return e.removeNode(id, KindBus) }

func (e *Engine) removeNode(id string, kind NodeKind) error {
	var orphaned []string
	err := e.editThen(OpRemoveNode, func() (func() error, error) {
		if id == MasterID {
			return nil, ErrMasterImmutable
		}
		n, err := e.nodeLocked(id, kind)
		if err != nil {
			return nil, err
		}
		if orphaned, err = e.graph.Remove(id); err != nil {
			return nil, err
		}
		delete(e.nodes, id)
		if e.reverbBus == id {
			e.reverbBus = ""
		}
		rec := e.disarmLocked(n)
		if rec == nil {
			return nil, nil
		}
		return rec.close, nil
	})
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"id": id, "unrouted": orphaned}).Debug("node removed")
	return nil
}

// Route sends src (a track or bus) into the bus dst, replacing its previous
// destination. Edges that would create a cycle are rejected and the graph
// is left unchanged.
func (e *Engine) Route(src, dst string) error {
	return e.edit(OpRoute, func() error {
		if src == MasterID {
			return ErrMasterImmutable
		}
		if _, err := e.nodeLocked(src, ""); err != nil {
			return err
		}
		if _, err := e.nodeLocked(dst, KindBus); err != nil {
			return err
		}
		if err := e.graph.Connect(src, dst); err != nil {
			if errors.Is(err, graph.ErrCycle) {
				return fmt.Errorf("%w: %s -> %s", ErrCycle, src, dst)
			}
			return err
		}
		return nil
	})
}

// Unroute leaves src without a destination; it is no longer rendered.
func (e *Engine) Unroute(src string) error {
	return e.edit(OpUnroute, func() error {
		if src == MasterID {
			return ErrMasterImmutable
		}
		if _, err := e.nodeLocked(src, ""); err != nil {
			return err
		}
		return e.graph.Disconnect(src)
	})
}

// loadPlugin instantiates a plugin. Loader failures, including panics, are
// reported as ErrPluginLoad.
func (e *Engine) loadPlugin(pluginID string) (p plugin.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrPluginLoad, pluginID, r)
		}
	}()
	p, err = e.cfg.Loader.Load(pluginID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPluginLoad, err)
	}
	return p, nil
}

// AddPluginToTrack appends a plugin to the track chain and returns the slot id.
func (e *Engine) AddPluginToTrack(trackID, pluginID string) (string, error) {
	return e.addPlugin(trackID, KindTrack, pluginID, -1)
}

// AddPluginToBus appends a plugin to the bus chain and returns the slot id.
func (e *Engine) AddPluginToBus(busID, pluginID string) (string, error) {
	return e.addPlugin(busID, KindBus, pluginID, -1)
}

// AddPlugin inserts a plugin into any node chain at position; a negative
// position appends.
func (e *Engine) AddPlugin(nodeID, pluginID string, position int) (string, error) {
	return e.addPlugin(nodeID, "", pluginID, position)
}

func (e *Engine) addPlugin(nodeID string, kind NodeKind, pluginID string, position int) (string, error) {
	if _, err := e.lookup(nodeID, kind); err != nil {
		return "", err
	}
	p, err := e.loadPlugin(pluginID)
	if err != nil {
		return "", err
	}
	var slotID string
	err = e.edit(OpAddPlugin, func() error {
		n, err := e.nodeLocked(nodeID, kind)
		if err != nil {
			return err
		}
		slot := newPluginSlot("", pluginID, p)
		if err := e.insertSlotLocked(n, slot, position); err != nil {
			return err
		}
		slotID = slot.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	e.log.WithFields(logrus.Fields{"node": nodeID, "plugin": pluginID, "slot": slotID}).Debug("plugin added")
	return slotID, nil
}

func (e *Engine) insertSlotLocked(n *node, slot *PluginSlot, position int) error {
	if e.initState == EngineInitialized {
		if err := slot.plugin.Prepare(e.spec.SampleRate, e.spec.BufferSize, e.spec.ChannelCount); err != nil {
			return fmt.Errorf("%w: prepare %s: %w", ErrPluginLoad, slot.PluginID, err)
		}
	}
	return n.chain.Insert(slot, position)
}

// RemovePluginFromTrack removes a slot from a track chain.
func (e *Engine) RemovePluginFromTrack(trackID, slotID string) error {
	return e.removePlugin(trackID, KindTrack, slotID)
}

// RemovePluginFromBus removes a slot from a bus chain.
func (e *Engine) RemovePluginFromBus(busID, slotID string) error {
	return e.removePlugin(busID, KindBus, slotID)
}

// RemovePlugin removes a slot from any node chain.
func (e *Engine) RemovePlugin(nodeID, slotID string) error {
	return e.removePlugin(nodeID, "", slotID)
}

func (e *Engine) removePlugin(nodeID string, kind NodeKind, slotID string) error {
	return e.edit(OpRemovePlugin, func() error {
		n, err := e.nodeLocked(nodeID, kind)
		if err != nil {
			return err
		}
		_, err = n.chain.Remove(slotID)
		return err
	})
}

// MovePlugin reorders a slot within its chain.
func (e *Engine) MovePlugin(nodeID, slotID string, position int) error {
	return e.edit(OpMovePlugin, func() error {
		n, err := e.nodeLocked(nodeID, "")
		if err != nil {
			return err
		}
		if _, ok := n.chain.Get(slotID); !ok {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, slotID)
		}
		return n.chain.Move(slotID, position)
	})
}

// SetPluginBypass toggles a slot. The snapshot is republished so latency
// compensation follows the active chain.
func (e *Engine) SetPluginBypass(nodeID, slotID string, bypass bool) error {
	return e.edit(OpSetBypass, func() error {
		slot, err := e.slotLocked(nodeID, slotID)
		if err != nil {
			return err
		}
		slot.SetBypass(bypass)
		return nil
	})
}

func (e *Engine) slotLocked(nodeID, slotID string) (*PluginSlot, error) {
	n, err := e.nodeLocked(nodeID, "")
	if err != nil {
		return nil, err
	}
	slot, ok := n.chain.Get(slotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrPluginNotFound, slotID, nodeID)
	}
	return slot, nil
}

func (e *Engine) pluginParameter(nodeID, slotID, name string) (*plugin.Parameter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	slot, err := e.slotLocked(nodeID, slotID)
	if err != nil {
		return nil, err
	}
	return slot.Parameter(name)
}

// SetPluginParameter assigns a plugin parameter, clamped to its range, and
// returns the stored value.
func (e *Engine) SetPluginParameter(nodeID, slotID, name string, value float64) (float64, error) {
	p, err := e.pluginParameter(nodeID, slotID, name)
	if err != nil {
		return 0, err
	}
	return p.Set(value)
}

// PluginParameter returns the value the plugin used for the last block.
func (e *Engine) PluginParameter(nodeID, slotID, name string) (float64, error) {
	p, err := e.pluginParameter(nodeID, slotID, name)
	if err != nil {
		return 0, err
	}
	return p.Current(), nil
}

// AutomatePlugin installs a curve on a plugin parameter; a nil curve clears
// automation and restores the manual value.
func (e *Engine) AutomatePlugin(nodeID, slotID, name string, c *plugin.Curve) error {
	p, err := e.pluginParameter(nodeID, slotID, name)
	if err != nil {
		return err
	}
	if c == nil {
		p.ClearAutomation()
		return nil
	}
	return p.Automate(c)
}
