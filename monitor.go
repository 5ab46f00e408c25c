package mixengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// minPollInterval is the fastest the monitor may poll.
const minPollInterval = 10 * time.Millisecond

// Monitor drains real-time failure reports and deadline misses on a
// background goroutine and hands them to the error handler and callbacks.
// It is the only consumer of the engine's real-time error queue.
type Monitor struct {
	engine          *Engine
	mu              sync.RWMutex
	checkMu         sync.Mutex // serializes check
	isRunning       bool
	stop            chan struct{}
	done            chan struct{}
	pollingInterval time.Duration

	// Adaptive polling
	baseInterval    time.Duration // configured interval
	maxInterval     time.Duration // ceiling while nothing happens
	currentInterval time.Duration
	lastChangeTime  time.Time
	noChangeCount   int

	lastXruns uint64

	// Performance tracking
	averageCheckTime time.Duration
	maxCheckTime     time.Duration
	checkCount       int64

	onNodeError    func(RTError)
	onDeadlineMiss func(total uint64)
}

// NewMonitor creates a monitor polling every interval, slowing down to four
// times that while the engine is quiet.
func NewMonitor(engine *Engine, interval time.Duration) *Monitor {
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return &Monitor{
		engine:          engine,
		pollingInterval: interval,
		baseInterval:    interval,
		maxInterval:     4 * interval,
		currentInterval: interval,
		lastChangeTime:  time.Now(),
	}
}

// Start begins polling.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("monitor is already running")
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.isRunning = true
	go m.monitorLoop(m.stop, m.done)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

// IsRunning returns whether monitoring is active
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// SetCallbacks configures the failure and deadline callbacks. They run on
// the monitor goroutine.
func (m *Monitor) SetCallbacks(onNodeError func(RTError), onDeadlineMiss func(total uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNodeError = onNodeError
	m.onDeadlineMiss = onDeadlineMiss
}

// GetPollingInterval returns the current polling interval
func (m *Monitor) GetPollingInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pollingInterval
}

// SetPollingInterval updates the base polling interval (minimum 10ms)
func (m *Monitor) SetPollingInterval(interval time.Duration) error {
	if interval < minPollInterval {
		return fmt.Errorf("%w: polling interval cannot be less than %v", ErrInvalidConfig, minPollInterval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseInterval = interval
	m.maxInterval = 4 * interval
	m.currentInterval = interval
	m.pollingInterval = interval
	return nil
}

func (m *Monitor) monitorLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	currentInterval := m.GetPollingInterval()
	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.engine.ctx.Done():
			return
		case <-ticker.C:
			if newInterval := m.GetPollingInterval(); newInterval != currentInterval {
				ticker.Reset(newInterval)
				currentInterval = newInterval
			}
			m.check()
		}
	}
}

// check drains pending failures and reports deadline misses.
func (m *Monitor) check() {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()
	start := time.Now()

	m.mu.RLock()
	onNodeError, onDeadlineMiss := m.onNodeError, m.onDeadlineMiss
	m.mu.RUnlock()

	events := m.engine.drain()
	for _, ev := range events {
		m.engine.errorHandler.HandleError(ev)
		if onNodeError != nil {
			onNodeError(ev)
		}
	}

	xruns := m.engine.xruns.Load()
	missed := xruns > m.lastXruns
	if missed {
		m.engine.log.WithFields(logrus.Fields{
			"missed": xruns - m.lastXruns,
			"total":  xruns,
		}).Warn("render deadline missed")
		m.lastXruns = xruns
		if onDeadlineMiss != nil {
			onDeadlineMiss(xruns)
		}
	}

	m.updatePerformanceStats(time.Since(start))
	if len(events) == 0 && !missed {
		m.adaptiveSlowdown()
		return
	}
	m.adaptiveSpeedup()
}

// updatePerformanceStats tracks check duration with an exponential moving
// average.
func (m *Monitor) updatePerformanceStats(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkCount++
	if m.checkCount == 1 {
		m.averageCheckTime = elapsed
	} else {
		m.averageCheckTime = time.Duration(float64(m.averageCheckTime)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > m.maxCheckTime {
		m.maxCheckTime = elapsed
	}
}

// adaptiveSlowdown gradually increases the interval while nothing is reported
func (m *Monitor) adaptiveSlowdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.noChangeCount++
	if m.noChangeCount > 10 {
		newInterval := time.Duration(float64(m.currentInterval) * 1.1)
		if newInterval > m.maxInterval {
			newInterval = m.maxInterval
		}
		m.currentInterval = newInterval
		m.pollingInterval = newInterval
	}
}

// adaptiveSpeedup resets to fast polling after a report
func (m *Monitor) adaptiveSpeedup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.noChangeCount = 0
	m.lastChangeTime = time.Now()
	m.currentInterval = m.baseInterval
	m.pollingInterval = m.baseInterval
}

// GetPerformanceStats returns monitoring performance statistics
func (m *Monitor) GetPerformanceStats() (avgTime, maxTime time.Duration, checkCount int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageCheckTime, m.maxCheckTime, m.checkCount
}

// ForceCheck runs a check immediately, whether or not the loop is running.
func (m *Monitor) ForceCheck() {
	m.check()
}

// drain moves pending real-time failures into the error log and returns
// them. The log keeps the most recent ErrorQueueSize entries.
func (e *Engine) drain() []RTError {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	var events []RTError
	for {
		ev, ok := e.rtErrors.Pop()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	e.errLog = append(e.errLog, events...)
	if over := len(e.errLog) - e.cfg.ErrorQueueSize; over > 0 {
		e.errLog = append(e.errLog[:0], e.errLog[over:]...)
	}
	return events
}

// PollErrors returns the real-time failures reported since the previous
// call, oldest first.
func (e *Engine) PollErrors() []RTError {
	e.drain()
	e.errMu.Lock()
	defer e.errMu.Unlock()
	out := e.errLog
	e.errLog = nil
	return out
}
