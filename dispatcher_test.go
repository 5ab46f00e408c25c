package mixengine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaban/mixengine/internal/testutil"
)

// TestDispatcherSerialization tests that edits are serialized through the dispatcher
func TestDispatcherSerialization(t *testing.T) {
	t.Run("DispatcherLifecycle", testDispatcherLifecycle)
	t.Run("OperationSerialization", testOperationSerialization)
	t.Run("ConcurrentOperationSafety", testConcurrentOperationSafety)
	t.Run("DispatcherPerformance", testDispatcherPerformance)
}

// testDispatcherLifecycle tests dispatcher start/stop behavior
func testDispatcherLifecycle(t *testing.T) {
	e, err := NewEngine(testConfig(nil))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer e.Shutdown()
	dispatcher := e.GetDispatcher()

	if !dispatcher.IsRunning() {
		t.Fatal("Dispatcher should be running after NewEngine")
	}
	if err := dispatcher.Start(); err == nil {
		t.Error("Expected error when starting already running dispatcher")
	}
	if err := dispatcher.Stop(); err != nil {
		t.Errorf("Failed to stop dispatcher: %v", err)
	}
	if dispatcher.IsRunning() {
		t.Error("Dispatcher should not be running after stop")
	}
	if err := dispatcher.Stop(); err != nil {
		t.Errorf("Stop should be idempotent, got error: %v", err)
	}

	if _, err := e.CreateTrack("late"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed after stop, got %v", err)
	}
}

// testOperationSerialization tests that operations execute in submission order
func testOperationSerialization(t *testing.T) {
	e, _ := newTestEngine(t, testutil.SmallSpec())
	dispatcher := e.GetDispatcher()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if err := dispatcher.Run(OpSetFlags, func() error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("Operation order broken: %v", order)
		}
	}

	want := errors.New("rejected")
	if err := dispatcher.Run(OpSetFlags, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Run should return the operation's error, got %v", err)
	}
	if n := dispatcher.OperationCount(OpSetFlags); n != 11 {
		t.Errorf("Expected 11 set_flags operations, got %d", n)
	}

	before := dispatcher.OperationCount(OpCreateTrack)
	mustTrack(t, e, "counted")
	if n := dispatcher.OperationCount(OpCreateTrack); n != before+1 {
		t.Errorf("CreateTrack should dispatch once, count went %d -> %d", before, n)
	}
}

// testConcurrentOperationSafety edits the graph from many goroutines while
// the host keeps rendering
func testConcurrentOperationSafety(t *testing.T) {
	e, host := newTestEngine(t, testutil.SmallSpec())
	bus := mustBus(t, e, "group")

	stop := make(chan struct{})
	rendered := make(chan int)
	go func() {
		n := 0
		for {
			select {
			case <-stop:
				rendered <- n
				return
			default:
			}
			if _, err := host.Render(128); err == nil {
				n++
			}
		}
	}()

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := e.CreateTrack(fmt.Sprintf("w%d-%d", w, i))
				if err != nil {
					errs <- err
					continue
				}
				e.SetTrackConstant(id, 0.01)
				if i%2 == 0 {
					if err := e.Route(id, bus); err != nil {
						errs <- err
					}
				}
				if i%3 == 0 {
					if err := e.RemoveTrack(id); err != nil {
						errs <- err
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	frames := <-rendered
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent edit failed: %v", err)
	}

	// i = 0, 3, 6, 9 are removed in every worker
	if got, want := len(e.Tracks()), workers*(perWorker-4); got != want {
		t.Errorf("Expected %d tracks, got %d", want, got)
	}
	t.Logf("Rendered %d blocks during %d concurrent edits", frames, workers*perWorker)
}

// testDispatcherPerformance checks edits stay within the sub-300ms target
func testDispatcherPerformance(t *testing.T) {
	e, _ := newTestEngine(t, testutil.SmallSpec())

	start := time.Now()
	for i := 0; i < 50; i++ {
		id := mustTrack(t, e, fmt.Sprintf("perf-%d", i))
		if _, err := e.AddPluginToTrack(id, "gain"); err != nil {
			t.Fatalf("AddPluginToTrack failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	last, limit := e.GetDispatcher().GetPerformanceStats()
	if last > limit {
		t.Errorf("Last operation took %v, limit %v", last, limit)
	}
	t.Logf("100 operations in %v (avg %v), last %v", elapsed, elapsed/100, last)
}
