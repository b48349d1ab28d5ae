// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package ratewindow provides actor-keyed sliding-window event counters.
//
// The validator uses it to flag request bursts (>10 requests in 60s from
// one actor). Time is divided into buckets so a count is O(buckets) and
// memory is O(buckets) per tracked actor.
package ratewindow

import (
	"sync"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
)

// counter is a bucketed sliding-window counter for a single actor.
type counter struct {
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

// advance rotates expired buckets forward to now. Caller holds the
// tracker lock.
func (c *counter) advance(now time.Time) {
	elapsed := now.Sub(c.lastUpdate)
	bucketsElapsed := int(elapsed / c.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= c.numBuckets {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		for i := 0; i < bucketsElapsed; i++ {
			c.current = (c.current + 1) % c.numBuckets
			c.buckets[c.current] = 0
		}
	}

	c.lastUpdate = now
}

func (c *counter) total() int64 {
	var total int64
	for _, n := range c.buckets {
		total += n
	}
	return total
}

// Tracker counts events per actor over a sliding window.
type Tracker struct {
	mu         sync.Mutex
	counters   map[string]*counter
	windowSize time.Duration
	numBuckets int
	maxActors  int
	clk        clock.Clock
}

// NewTracker creates a tracker with the given window divided into
// numBuckets buckets. maxActors bounds the map (0 = unlimited); when the
// bound is hit, new actors evict the stalest entry.
func NewTracker(windowSize time.Duration, numBuckets, maxActors int, clk clock.Clock) *Tracker {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Tracker{
		counters:   make(map[string]*counter),
		windowSize: windowSize,
		numBuckets: numBuckets,
		maxActors:  maxActors,
		clk:        clk,
	}
}

// Record adds one event for the actor.
func (t *Tracker) Record(actor string) {
	t.RecordN(actor, 1)
}

// RecordN adds delta events for the actor.
func (t *Tracker) RecordN(actor string, delta int64) {
	if actor == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	c, ok := t.counters[actor]
	if !ok {
		if t.maxActors > 0 && len(t.counters) >= t.maxActors {
			t.evictStalestLocked()
		}
		c = &counter{
			buckets:    make([]int64, t.numBuckets),
			bucketSize: t.windowSize / time.Duration(t.numBuckets),
			numBuckets: t.numBuckets,
			lastUpdate: now,
		}
		t.counters[actor] = c
	}

	c.advance(now)
	c.buckets[c.current] += delta
}

// Count returns the number of events for the actor within the window.
func (t *Tracker) Count(actor string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[actor]
	if !ok {
		return 0
	}

	c.advance(t.clk.Now())
	return c.total()
}

// Actors returns the number of actors currently tracked.
func (t *Tracker) Actors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}

// Prune drops actors whose entire window has elapsed. Keys are collected
// first, then deleted, so iteration never races the mutation.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	var stale []string
	for actor, c := range t.counters {
		if now.Sub(c.lastUpdate) >= t.windowSize {
			stale = append(stale, actor)
		}
	}
	for _, actor := range stale {
		delete(t.counters, actor)
	}
	return len(stale)
}

// evictStalestLocked removes the least recently updated counter.
func (t *Tracker) evictStalestLocked() {
	var stalest string
	var oldest time.Time
	for actor, c := range t.counters {
		if stalest == "" || c.lastUpdate.Before(oldest) {
			stalest = actor
			oldest = c.lastUpdate
		}
	}
	if stalest != "" {
		delete(t.counters, stalest)
	}
}
