// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package clock abstracts wall-clock time so components driven by tickers
// and one-shot timers (anomaly sweeps, alert escalation) can be tested
// deterministically with virtual time.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the time operations used by scheduled tasks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules fn to run after d and returns a stoppable timer.
	AfterFunc(d time.Duration, fn func()) Timer

	// Ticker returns a ticker that fires every d.
	Ticker(d time.Duration) Ticker
}

// Timer is a one-shot scheduled function.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or stopped.
	Stop() bool
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// New returns a Clock backed by the real time package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

func (realClock) Ticker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (rt realTimer) Stop() bool { return rt.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }

// Mock is a manually advanced Clock for tests. Timers and tickers fire
// synchronously from Advance, so a test observes all side effects once
// Advance returns.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*mockTimer
	tickers []*mockTicker
}

// NewMock returns a Mock clock starting at the given time.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers fn to fire when the mock advances past d.
func (m *Mock) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{deadline: m.now.Add(d), fn: fn, clock: m}
	m.timers = append(m.timers, t)
	return t
}

// Ticker returns a ticker driven by Advance.
func (m *Mock) Ticker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTicker{
		ch:       make(chan time.Time, 64),
		interval: d,
		next:     m.now.Add(d),
		clock:    m,
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward, firing due timers and tickers in
// deadline order. Timer callbacks run synchronously on the calling
// goroutine.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	for {
		next, ok := m.nextDeadlineLocked(target)
		if !ok {
			break
		}
		m.now = next
		fns := m.collectDueLocked()
		m.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
		m.mu.Lock()
	}

	m.now = target
	m.mu.Unlock()
}

// nextDeadlineLocked finds the earliest pending deadline at or before target.
func (m *Mock) nextDeadlineLocked(target time.Time) (time.Time, bool) {
	var deadlines []time.Time
	for _, t := range m.timers {
		if !t.stopped && !t.fired && !t.deadline.After(target) {
			deadlines = append(deadlines, t.deadline)
		}
	}
	for _, t := range m.tickers {
		if !t.stopped && !t.next.After(target) {
			deadlines = append(deadlines, t.next)
		}
	}
	if len(deadlines) == 0 {
		return time.Time{}, false
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines[0], true
}

// collectDueLocked gathers callbacks due at the current mock time and
// advances ticker schedules.
func (m *Mock) collectDueLocked() []func() {
	var fns []func()
	for _, t := range m.timers {
		if !t.stopped && !t.fired && !t.deadline.After(m.now) {
			t.fired = true
			fns = append(fns, t.fn)
		}
	}
	for _, t := range m.tickers {
		for !t.stopped && !t.next.After(m.now) {
			tick := t.next
			select {
			case t.ch <- tick:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
	return fns
}

type mockTimer struct {
	deadline time.Time
	fn       func()
	clock    *Mock
	fired    bool
	stopped  bool
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type mockTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	clock    *Mock
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}
