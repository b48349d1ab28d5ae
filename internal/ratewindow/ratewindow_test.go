// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package ratewindow

import (
	"testing"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
)

func newTestTracker(window time.Duration, buckets, maxActors int) (*Tracker, *clock.Mock) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(window, buckets, maxActors, mock), mock
}

func TestTrackerCount(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute, 6, 0)

	for i := 0; i < 5; i++ {
		tracker.Record("user:alice")
	}

	if got := tracker.Count("user:alice"); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if got := tracker.Count("user:bob"); got != 0 {
		t.Errorf("Count for untracked actor = %d, want 0", got)
	}
}

func TestTrackerWindowExpiry(t *testing.T) {
	tracker, mock := newTestTracker(time.Minute, 6, 0)

	tracker.Record("ip:10.0.0.1")
	tracker.Record("ip:10.0.0.1")

	mock.Advance(30 * time.Second)
	tracker.Record("ip:10.0.0.1")

	if got := tracker.Count("ip:10.0.0.1"); got != 3 {
		t.Errorf("Count mid-window = %d, want 3", got)
	}

	// First two events fall out of the window, third survives.
	mock.Advance(40 * time.Second)
	if got := tracker.Count("ip:10.0.0.1"); got != 1 {
		t.Errorf("Count after partial expiry = %d, want 1", got)
	}

	mock.Advance(time.Minute)
	if got := tracker.Count("ip:10.0.0.1"); got != 0 {
		t.Errorf("Count after full expiry = %d, want 0", got)
	}
}

func TestTrackerEmptyActorIgnored(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute, 6, 0)

	tracker.Record("")
	if tracker.Actors() != 0 {
		t.Error("empty actor key should not be tracked")
	}
}

func TestTrackerMaxActorsEviction(t *testing.T) {
	tracker, mock := newTestTracker(time.Minute, 6, 2)

	tracker.Record("a")
	mock.Advance(time.Second)
	tracker.Record("b")
	mock.Advance(time.Second)
	tracker.Record("c")

	if tracker.Actors() != 2 {
		t.Fatalf("Actors = %d, want 2", tracker.Actors())
	}
	// "a" was stalest and must have been evicted.
	if got := tracker.Count("a"); got != 0 {
		t.Errorf("evicted actor count = %d, want 0", got)
	}
	if got := tracker.Count("c"); got != 1 {
		t.Errorf("newest actor count = %d, want 1", got)
	}
}

func TestTrackerPrune(t *testing.T) {
	tracker, mock := newTestTracker(time.Minute, 6, 0)

	tracker.Record("a")
	tracker.Record("b")
	mock.Advance(2 * time.Minute)
	tracker.Record("c")

	pruned := tracker.Prune()
	if pruned != 2 {
		t.Errorf("Prune removed %d, want 2", pruned)
	}
	if tracker.Actors() != 1 {
		t.Errorf("Actors after prune = %d, want 1", tracker.Actors())
	}
}

func TestTrackerDefaults(t *testing.T) {
	tracker := NewTracker(0, 0, 0, nil)
	tracker.Record("x")
	if got := tracker.Count("x"); got != 1 {
		t.Errorf("Count with default config = %d, want 1", got)
	}
}
