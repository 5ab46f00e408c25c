package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_Enqueue_And_Close(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var count int64
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Func(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if c := atomic.LoadInt64(&count); c < 10 {
		t.Fatalf("want >=10 ops applied, got %d", c)
	}
}

func TestQueue_RunSync(t *testing.T) {
	q := New(4)
	q.Start()
	defer q.Close()

	boom := errors.New("boom")
	if err := q.RunSync(func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want boom got %v", err)
	}

	// ops from many goroutines never run concurrently
	var running, overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.RunSync(func(ctx context.Context) error {
				if atomic.AddInt32(&running, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if overlap != 0 {
		t.Fatal("queued ops overlapped")
	}
}

func TestQueue_Closed(t *testing.T) {
	q := New(1)
	q.Start()
	q.Close()
	if err := q.RunSync(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed got %v", err)
	}

	var nilQ *Queue
	ran := false
	nilQ.RunSync(func(ctx context.Context) error { ran = true; return nil })
	if !ran {
		t.Fatal("nil queue must run inline")
	}
}
