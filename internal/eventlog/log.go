// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/metrics"
)

// DefaultMaxEntries bounds the in-memory log.
const DefaultMaxEntries = 1000

// Archiver receives events rotated out of the in-memory log. Archive
// failures are logged, never propagated to the append path.
type Archiver interface {
	Archive(ctx context.Context, events []Event) error
}

// NopArchiver discards rotated events.
type NopArchiver struct{}

// Archive implements Archiver.
func (NopArchiver) Archive(ctx context.Context, events []Event) error { return nil }

// Log is the bounded, append-only event store.
type Log struct {
	mu          sync.RWMutex
	events      []*Event
	maxEntries  int
	rotateBatch int
	archiver    Archiver
	clk         clock.Clock
}

// NewLog creates an event log bounded to maxEntries. When the bound is
// reached, the oldest tenth of the log is rotated to the archiver.
func NewLog(maxEntries int, archiver Archiver, clk clock.Clock) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if archiver == nil {
		archiver = NopArchiver{}
	}
	if clk == nil {
		clk = clock.New()
	}

	batch := maxEntries / 10
	if batch < 1 {
		batch = 1
	}

	return &Log{
		events:      make([]*Event, 0, maxEntries),
		maxEntries:  maxEntries,
		rotateBatch: batch,
		archiver:    archiver,
		clk:         clk,
	}
}

// Append stores the event and returns the stored copy. An empty ID or
// timestamp is assigned on the way in. The caller's event is never
// retained, so later caller mutations cannot reach the log.
func (l *Log) Append(e *Event) *Event {
	if e == nil {
		return nil
	}

	stored := e.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = l.clk.Now()
	}

	var rotated []Event

	l.mu.Lock()
	if len(l.events) >= l.maxEntries {
		n := l.rotateBatch
		if n > len(l.events) {
			n = len(l.events)
		}
		rotated = make([]Event, n)
		for i := 0; i < n; i++ {
			rotated[i] = *l.events[i]
		}
		l.events = append(l.events[:0], l.events[n:]...)
	}
	l.events = append(l.events, stored)
	l.mu.Unlock()

	metrics.EventsLogged.WithLabelValues(string(stored.Type), string(stored.Severity)).Inc()

	if len(rotated) > 0 {
		l.archive(rotated)
	}

	return stored.clone()
}

// archive hands rotated events to the archiver without blocking appends.
func (l *Log) archive(events []Event) {
	metrics.EventsArchived.Add(float64(len(events)))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.archiver.Archive(ctx, events); err != nil {
			logging.Error().Err(err).Int("count", len(events)).Msg("event archive failed")
		}
	}()
}

// Query returns copies of events matching the filter in append order, or
// newest first when OrderDesc is set.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	matched := make([]*Event, 0)
	for _, e := range l.events {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	if f.OrderDesc {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		})
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Event{}
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]Event, len(matched))
	for i, e := range matched {
		out[i] = *e.clone()
	}
	return out
}

// Recent returns events within the trailing window, oldest first.
func (l *Log) Recent(window time.Duration) []Event {
	since := l.clk.Now().Add(-window)
	return l.Query(Filter{Since: &since})
}

// CountByActor counts events for the actor key within the trailing window.
func (l *Log) CountByActor(actorKey string, window time.Duration) int {
	since := l.clk.Now().Add(-window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, e := range l.events {
		if e.Actor.Key() == actorKey && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count
}

// Len returns the number of events currently held in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
