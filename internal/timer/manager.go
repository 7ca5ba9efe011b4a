// Package timer implements the Timer Manager: in-memory, named
// one-shot countdown timers driven by a single 1 Hz ticker.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Callback is invoked when a timer's deadline passes. A panic is
// recovered and logged; it never stops the ticker or skips other
// timers.
type Callback func()

type entry struct {
	deadline time.Time
	callback Callback
}

// Manager runs every registered timer off one background ticker.
// Maximum callback latency is therefore bounded by the tick period
// (1 second).
type Manager struct {
	mu     sync.Mutex
	timers map[string]entry
	log    *logrus.Entry
	tick   time.Duration
}

// New builds a Manager. Call Run in its own goroutine to start the ticker.
func New(log *logrus.Entry) *Manager {
	return &Manager{
		timers: make(map[string]entry),
		log:    log,
		tick:   time.Second,
	}
}

// Start schedules a one-shot callback to fire after duration. Starting
// a name that already exists replaces the prior timer. A zero
// duration fires on the next tick; a negative duration is a programmer
// error and panics immediately rather than silently misbehaving.
// cb is the unnamed func() type, not the Callback alias: interface
// satisfaction requires identical method signatures, and the narrow
// Timers interfaces internal/lockout and internal/rules declare both
// spell the parameter as plain func() so they stay decoupled from
// this package's Callback type.
func (m *Manager) Start(name string, duration time.Duration, cb func()) {
	if duration < 0 {
		panic("timer: negative duration for " + name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[name] = entry{deadline: time.Now().Add(duration), callback: Callback(cb)}
}

// SetTick overrides the ticker period; production code should never
// call this (the spec fixes it at 1 Hz), but tests use it to avoid
// waiting a full second per assertion.
func (m *Manager) SetTick(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = d
}

// Cancel removes a timer before it fires. Canceling an unknown name is a no-op.
func (m *Manager) Cancel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, name)
}

// Has reports whether name is currently scheduled.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// Remaining returns the seconds left on name, or 0 if it is not scheduled.
func (m *Manager) Remaining(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[name]
	if !ok {
		return 0
	}
	remaining := int64(time.Until(e.deadline).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Run drives the 1 Hz ticker until ctx is canceled. Expired timers are
// fired and removed each tick; their callbacks run synchronously but
// are individually recovered so one failing callback cannot starve
// the rest. Matches the errgroup.Go(func() error) signature used by
// the rest of this daemon's long-running loops.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.fireExpired(now)
		}
	}
}

func (m *Manager) fireExpired(now time.Time) {
	var fired []entry
	m.mu.Lock()
	for name, e := range m.timers {
		if !now.Before(e.deadline) {
			fired = append(fired, e)
			delete(m.timers, name)
		}
	}
	m.mu.Unlock()

	for _, e := range fired {
		m.runCallback(e.callback)
	}
}

func (m *Manager) runCallback(cb Callback) {
	defer func() {
		if r := recover(); r != nil && m.log != nil {
			m.log.WithField("panic", r).Error("timer callback panicked")
		}
	}()
	cb()
}
