package mixengine

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaban/mixengine/engine/buffer"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/source"
	"github.com/shaban/mixengine/internal/testutil"
)

// faulty misbehaves on demand so the engine's isolation can be observed.
type faulty struct {
	mode atomic.Value // "", "panic", "nan", "error", "slow"
}

func (f *faulty) Name() string { return "Faulty" }

func (f *faulty) Parameters() []*plugin.Parameter { return nil }

func (f *faulty) Prepare(float64, int, int) error { return nil }

func (f *faulty) Latency() int { return 0 }

func (f *faulty) Reset() {}

func (f *faulty) set(mode string) { f.mode.Store(mode) }

func (f *faulty) Process(in, out buffer.Buffer, frames int) plugin.Status {
	mode, _ := f.mode.Load().(string)
	switch mode {
	case "panic":
		panic("faulty plugin")
	case "nan":
		for _, ch := range out.Data {
			ch[0] = float32(math.NaN())
		}
		return plugin.StatusOK
	case "error":
		return plugin.StatusError
	case "slow":
		time.Sleep(5 * time.Millisecond)
	}
	out.CopyFrom(in, frames)
	return plugin.StatusOK
}

func faultyEngine(t *testing.T, configure func(*Config)) (*Engine, *OfflineHost, *faulty) {
	t.Helper()
	f := &faulty{}
	f.set("")
	reg := plugin.DefaultRegistry()
	reg.Register("faulty", func() (plugin.Plugin, error) { return f, nil })
	e, host := newTestEngineWith(t, testutil.MonoSpec(64), func(c *Config) {
		c.Loader = reg
		configure(c)
	})
	return e, host, f
}

func TestFailingPluginIsIsolated(t *testing.T) {
	e, host, f := faultyEngine(t, func(*Config) {})
	bad := mustTrack(t, e, "bad")
	good := mustTrack(t, e, "good")
	e.SetTrackConstant(bad, 1)
	e.SetTrackConstant(good, 0.25)
	slot, err := e.AddPluginToTrack(bad, "faulty")
	if err != nil {
		t.Fatalf("AddPluginToTrack failed: %v", err)
	}
	testutil.AssertAll(t, render(t, host, 64), 1.25, 1e-6)

	for _, c := range []struct {
		mode   string
		status plugin.Status
	}{
		{"panic", plugin.StatusPanic},
		{"nan", plugin.StatusNonFinite},
		{"error", plugin.StatusError},
	} {
		t.Run(c.mode, func(t *testing.T) {
			f.set(c.mode)
			defer f.set("")
			e.PollErrors()

			// the failing track drops out for the tick, everything else plays
			testutil.AssertAll(t, render(t, host, 64), 0.25, 1e-6)

			info, _ := e.GetTrack(bad)
			if !info.Failed || info.LastStatus != c.status {
				t.Fatalf("Expected failed track with %v, got %+v", c.status, info)
			}
			errs := e.PollErrors()
			if len(errs) != 1 {
				t.Fatalf("Expected one reported error, got %v", errs)
			}
			if errs[0].NodeID != bad || errs[0].SlotID != slot || errs[0].Status != c.status {
				t.Errorf("Unexpected error report %+v", errs[0])
			}
			var rt RTError
			if !errors.As(error(errs[0]), &rt) {
				t.Error("RTError must satisfy error")
			}

			f.set("")
			testutil.AssertAll(t, render(t, host, 64), 1.25, 1e-6)
			if err := e.ClearError(bad); err != nil {
				t.Fatalf("ClearError failed: %v", err)
			}
			if info, _ := e.GetTrack(bad); info.Failed {
				t.Error("ClearError should reset the failed flag")
			}
		})
	}

	info, _ := e.GetTrack(bad)
	if info.Failures != 3 {
		t.Errorf("Expected 3 failures counted, got %d", info.Failures)
	}
	if e.Stats().Errors != 3 {
		t.Errorf("Expected 3 real-time errors, got %d", e.Stats().Errors)
	}
}

func TestChainBudget(t *testing.T) {
	e, host, f := faultyEngine(t, func(c *Config) { c.ChainBudget = time.Millisecond })
	track := mustTrack(t, e, "slow")
	e.SetTrackConstant(track, 1)
	if _, err := e.AddPluginToTrack(track, "faulty"); err != nil {
		t.Fatal(err)
	}
	f.set("slow")

	testutil.AssertSilent(t, render(t, host, 64))
	info, _ := e.GetTrack(track)
	if info.LastStatus != plugin.StatusOverBudget {
		t.Errorf("Expected over budget status, got %v", info.LastStatus)
	}
}

func TestMonitorReportsFailures(t *testing.T) {
	reports := make(chan RTError, 8)
	e, host, f := faultyEngine(t, func(c *Config) {
		c.OnNodeError = func(ev RTError) { reports <- ev }
	})
	track := mustTrack(t, e, "bad")
	e.SetTrackConstant(track, 1)
	if _, err := e.AddPluginToTrack(track, "faulty"); err != nil {
		t.Fatal(err)
	}
	f.set("panic")
	render(t, host, 64)

	e.GetMonitor().ForceCheck()
	select {
	case ev := <-reports:
		if ev.NodeID != track || ev.Status != plugin.StatusPanic {
			t.Errorf("Unexpected report %+v", ev)
		}
	default:
		t.Fatal("Expected the monitor to forward the failure")
	}
	if _, _, n := e.GetMonitor().GetPerformanceStats(); n != 1 {
		t.Errorf("Expected one monitor check, got %d", n)
	}
}

// nanSource emits NaN on every frame.
type nanSource struct{}

func (nanSource) Read(dst buffer.Buffer, frames int, _ int64, _ source.Input) plugin.Status {
	for _, ch := range dst.Data {
		for i := range ch[:frames] {
			ch[i] = float32(math.NaN())
		}
	}
	return plugin.StatusOK
}

func TestNonFiniteSourceReportsNoSlot(t *testing.T) {
	e, host := newTestEngine(t, testutil.MonoSpec(64))
	track := mustTrack(t, e, "nan")
	if err := e.SetTrackSource(track, nanSource{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddPluginToTrack(track, plugin.IDGain); err != nil {
		t.Fatal(err)
	}

	testutil.AssertSilent(t, render(t, host, 64))
	errs := e.PollErrors()
	if len(errs) != 1 {
		t.Fatalf("Expected one reported error, got %v", errs)
	}
	if errs[0].SlotID != "" || errs[0].Status != plugin.StatusNonFinite {
		t.Errorf("Expected a source failure without slot, got %+v", errs[0])
	}
}
