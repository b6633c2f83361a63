package heartbeat

import (
	"sync"
	"time"
)

// Monitor fires onExpire when no Signal arrives within timeout.
type Monitor struct {
	mu       sync.Mutex
	clock    Clock
	timeout  time.Duration
	onExpire func()

	timer   Timer
	gen     uint64
	running bool
	expired bool
	done    chan struct{}
}

// NewMonitor creates a stopped monitor. A nil clock means the wall clock.
func NewMonitor(timeout time.Duration, onExpire func(), clock Clock) *Monitor {
	if clock == nil {
		clock = SystemClock()
	}
	return &Monitor{
		clock:    clock,
		timeout:  timeout,
		onExpire: onExpire,
		done:     make(chan struct{}),
	}
}

// Start arms the deadline.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired {
		m.expired = false
		m.done = make(chan struct{})
	}
	m.running = true
	m.arm()
}

// Signal records a heartbeat and re-arms the deadline. It reports false when
// the monitor is not running, including after expiry.
func (m *Monitor) Signal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.arm()
	return true
}

// Stop cancels the deadline without running the callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Expired reports whether the deadline passed since the last Start.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// Done is closed when the deadline passes.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Timeout returns the configured deadline length.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// arm must be called with mu held.
func (m *Monitor) arm() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.timeout, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	// A timer stopped too late still runs; its generation is stale.
	if gen != m.gen || !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.expired = true
	m.timer = nil
	close(m.done)
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire()
	}
}
