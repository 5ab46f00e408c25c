package mixengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaban/mixengine/engine/queue"
)

// OperationType represents the type of dispatcher operation
type OperationType string

const (
	OpCreateTrack     OperationType = "create_track"
	OpCreateBus       OperationType = "create_bus"
	OpRemoveNode      OperationType = "remove_node"
	OpRoute           OperationType = "route"
	OpUnroute         OperationType = "unroute"
	OpAddPlugin       OperationType = "add_plugin"
	OpRemovePlugin    OperationType = "remove_plugin"
	OpMovePlugin      OperationType = "move_plugin"
	OpSetBypass       OperationType = "set_bypass"
	OpSetFlags        OperationType = "set_flags"
	OpSetParameter    OperationType = "set_parameter"
	OpSetSource       OperationType = "set_source"
	OpSpatial         OperationType = "spatial"
	OpRecord          OperationType = "record"
	OpTransport       OperationType = "transport"
	OpInitialize      OperationType = "initialize"
	OpSetBufferSize   OperationType = "set_buffer_size"
	OpRestore         OperationType = "restore"
	OpShutdown        OperationType = "shutdown"
	OpClearError      OperationType = "clear_error"
	OpDefineParameter OperationType = "define_parameter"
)

// Dispatcher serializes graph edits onto the control goroutine so the
// render snapshot is only ever rebuilt by one writer.
type Dispatcher struct {
	engine    *Engine
	mu        sync.RWMutex
	isRunning bool
	queue     *queue.Queue

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
	operationCounts       map[OperationType]uint64
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{
		engine:               engine,
		maxOperationDuration: 300 * time.Millisecond, // Target: sub-300ms
		operationCounts:      make(map[OperationType]uint64),
	}
}

// Start begins the dispatcher loop for serialized topology changes
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}

	d.queue = queue.New(100)
	d.queue.Start()
	d.isRunning = true
	return nil
}

// Stop halts the dispatcher after the operation in progress completes.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	q := d.queue
	wasRunning := d.isRunning
	d.isRunning = false
	d.mu.Unlock()

	if !wasRunning {
		return nil // Already stopped
	}
	q.Close()
	return nil
}

// IsRunning returns whether the dispatcher is active
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns dispatcher performance statistics
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// OperationCount returns how many operations of type op have run.
func (d *Dispatcher) OperationCount(op OperationType) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.operationCounts[op]
}

// Run executes fn on the control goroutine and returns its error. Calls
// made from inside fn must not dispatch again.
func (d *Dispatcher) Run(op OperationType, fn func() error) error {
	d.mu.RLock()
	q, running := d.queue, d.isRunning
	d.mu.RUnlock()
	if !running {
		return fmt.Errorf("%w: %s", ErrEngineClosed, op)
	}

	var result error
	err := q.RunSync(func(ctx context.Context) error {
		start := time.Now()
		result = fn()
		d.record(op, time.Since(start))
		return nil
	})
	if errors.Is(err, queue.ErrClosed) || errors.Is(err, queue.ErrNotInitialized) {
		return fmt.Errorf("%w: %s", ErrEngineClosed, op)
	}
	if err != nil {
		return err
	}
	return result
}

func (d *Dispatcher) record(op OperationType, duration time.Duration) {
	d.mu.Lock()
	d.lastOperationDuration = duration
	d.operationCounts[op]++
	slow := duration > d.maxOperationDuration
	d.mu.Unlock()

	if slow {
		d.engine.errorHandler.HandleError(
			fmt.Errorf("%s took %v, target is sub-300ms", op, duration))
	}
}
