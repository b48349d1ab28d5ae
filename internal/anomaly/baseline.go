// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package anomaly

import (
	"sync"
	"time"

	"github.com/palisade-sec/palisade/internal/eventlog"
)

// Baseline captures an actor's normal behavior, learned from history.
// Source IP stands in for location; DeviceID for device.
type Baseline struct {
	ActorKey string `json:"actor_key"`

	// LoginHourMin and LoginHourMax bound the observed login hours
	// (local time, inclusive).
	LoginHourMin int `json:"login_hour_min"`
	LoginHourMax int `json:"login_hour_max"`

	// Locations and Devices are the observed sets.
	Locations map[string]struct{} `json:"-"`
	Devices   map[string]struct{} `json:"-"`

	// AvgPerMinute is the mean event rate over the learning window.
	AvgPerMinute float64 `json:"avg_per_minute"`

	// Resources seen for this actor, with counts.
	Resources map[string]int `json:"-"`

	// EventCount is the history size the baseline was built from.
	EventCount int `json:"event_count"`

	// UpdatedAt is the last rebuild time, for staleness tracking.
	UpdatedAt time.Time `json:"updated_at"`
}

// Deviation weights.
const (
	deviationHour     = 0.2
	deviationLocation = 0.3
	deviationDevice   = 0.2
	deviationRate     = 0.3

	rateMultiple = 3.0
)

// deviate scores an event against the baseline. currentRate is the
// actor's events per minute right now.
func (b *Baseline) deviate(e *eventlog.Event, currentRate float64) (float64, []string) {
	var score float64
	var indicators []string

	if isLoginEvent(e.Type) {
		hour := e.Timestamp.Hour()
		if hour < b.LoginHourMin || hour > b.LoginHourMax {
			score += deviationHour
			indicators = append(indicators, "baseline.unusual_hour")
		}
	}

	if ip := e.Actor.IPAddress; ip != "" {
		if _, known := b.Locations[ip]; !known {
			score += deviationLocation
			indicators = append(indicators, "baseline.new_location")
		}
	}

	if device := e.Actor.DeviceID; device != "" {
		if _, known := b.Devices[device]; !known {
			score += deviationDevice
			indicators = append(indicators, "baseline.new_device")
		}
	}

	if b.AvgPerMinute > 0 && currentRate > rateMultiple*b.AvgPerMinute {
		score += deviationRate
		indicators = append(indicators, "baseline.rate_spike")
	}

	if score > capBaseline {
		score = capBaseline
	}
	return score, indicators
}

func isLoginEvent(t eventlog.EventType) bool {
	return t == eventlog.EventTypeLoginSuccess || t == eventlog.EventTypeLoginFailure
}

// BaselineStore holds per-actor baselines and rebuilds them from event
// history.
type BaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*Baseline

	minEvents      int
	learningWindow time.Duration
}

// NewBaselineStore creates an empty store.
func NewBaselineStore(minEvents int, learningWindow time.Duration) *BaselineStore {
	return &BaselineStore{
		baselines:      make(map[string]*Baseline),
		minEvents:      minEvents,
		learningWindow: learningWindow,
	}
}

// Get returns the actor's baseline, or nil when none is established.
func (s *BaselineStore) Get(actorKey string) *Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baselines[actorKey]
}

// Len returns the number of established baselines.
func (s *BaselineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// Rebuild constructs the actor's baseline from history. Events outside
// the learning window relative to now are ignored. A history smaller
// than the minimum leaves any existing baseline untouched and returns
// false: deviation cannot flag what has no baseline.
func (s *BaselineStore) Rebuild(actorKey string, history []eventlog.Event, now time.Time) bool {
	if actorKey == "" {
		return false
	}

	cutoff := now.Add(-s.learningWindow)
	var (
		inWindow []eventlog.Event
		earliest time.Time
		latest   time.Time
	)
	for i := range history {
		ts := history[i].Timestamp
		if ts.Before(cutoff) {
			continue
		}
		if len(inWindow) == 0 || ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
		inWindow = append(inWindow, history[i])
	}
	if len(inWindow) < s.minEvents {
		return false
	}

	b := &Baseline{
		ActorKey:     actorKey,
		LoginHourMin: 24,
		LoginHourMax: -1,
		Locations:    make(map[string]struct{}),
		Devices:      make(map[string]struct{}),
		Resources:    make(map[string]int),
		EventCount:   len(inWindow),
		UpdatedAt:    now,
	}

	for i := range inWindow {
		e := &inWindow[i]
		if isLoginEvent(e.Type) {
			hour := e.Timestamp.Hour()
			if hour < b.LoginHourMin {
				b.LoginHourMin = hour
			}
			if hour > b.LoginHourMax {
				b.LoginHourMax = hour
			}
		}
		if e.Actor.IPAddress != "" {
			b.Locations[e.Actor.IPAddress] = struct{}{}
		}
		if e.Actor.DeviceID != "" {
			b.Devices[e.Actor.DeviceID] = struct{}{}
		}
		if e.Resource != "" {
			b.Resources[e.Resource]++
		}
	}
	// No login events observed: accept any hour.
	if b.LoginHourMax < b.LoginHourMin {
		b.LoginHourMin, b.LoginHourMax = 0, 23
	}

	span := latest.Sub(earliest)
	if span < time.Minute {
		span = time.Minute
	}
	b.AvgPerMinute = float64(len(inWindow)) / span.Minutes()

	s.mu.Lock()
	s.baselines[actorKey] = b
	s.mu.Unlock()
	return true
}

// Prune removes baselines not updated within the learning window,
// using snapshot-then-delete.
func (s *BaselineStore) Prune(now time.Time) int {
	cutoff := now.Add(-s.learningWindow)

	s.mu.RLock()
	var stale []string
	for key, b := range s.baselines {
		if b.UpdatedAt.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	s.mu.Lock()
	for _, key := range stale {
		delete(s.baselines, key)
	}
	s.mu.Unlock()
	return len(stale)
}
