package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotInitialized = errors.New("queue not initialized")
	ErrClosed         = errors.New("queue closed")
)

// Op is an engine edit. It should be quick and non-blocking; any heavy work
// (decoding, plugin instantiation) should be prepared in advance. It
// receives a context that will be canceled on shutdown.
// It returns an error only for failures the caller must see; idempotent
// no-ops should return nil.
type Op interface {
	Apply(ctx context.Context) error
}

// Func is a helper to adapt functions into Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue serializes engine edits onto a single goroutine, the control
// thread. Use Enqueue for fire-and-forget edits and RunSync when the caller
// needs the result.
type Queue struct {
	ch     chan Op
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a queue with a fixed buffer.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{ch: make(chan Op, buffer), ctx: ctx, cancel: cancel}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.run()
	})
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			// drain outstanding ops best-effort with short deadline
			drainUntil := time.After(10 * time.Millisecond)
			for {
				select {
				case op := <-q.ch:
					if op != nil {
						_ = op.Apply(q.ctx)
					}
				case <-drainUntil:
					return
				default:
					return
				}
			}
		case op := <-q.ch:
			if op == nil {
				continue
			}
			_ = op.Apply(q.ctx)
		}
	}
}

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return ErrNotInitialized
	}
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// RunSync enqueues fn and waits for it to complete, returning its error.
// Edits stay serialized with everything else on the queue. A nil queue runs
// fn inline.
func (q *Queue) RunSync(fn Func) error {
	if q == nil || q.ch == nil {
		return fn(context.Background())
	}
	done := make(chan error, 1)
	if err := q.Enqueue(Func(func(ctx context.Context) error {
		err := fn(ctx)
		done <- err
		return err
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.ctx.Done():
		// the op may still have run during the drain
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops the worker and waits for it to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
}
