// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
)

type mockArchiver struct {
	mu     sync.Mutex
	events []Event
	err    error
	done   chan struct{}
}

func newMockArchiver() *mockArchiver {
	return &mockArchiver{done: make(chan struct{}, 16)}
}

func (m *mockArchiver) Archive(ctx context.Context, events []Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.err
}

func (m *mockArchiver) archived() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func testClock() *clock.Mock {
	return clock.NewMock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	log := NewLog(10, nil, testClock())

	stored := log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityMedium})
	if stored.ID == "" {
		t.Error("expected generated ID")
	}
	if stored.Timestamp.IsZero() {
		t.Error("expected assigned timestamp")
	}
}

func TestAppendImmutability(t *testing.T) {
	log := NewLog(10, nil, testClock())

	src := &Event{
		Type:       EventTypeInjection,
		Severity:   SeverityHigh,
		Indicators: []string{"script_injection"},
	}
	log.Append(src)

	// Mutating the caller's event must not reach the stored copy.
	src.Indicators[0] = "tampered"
	src.Severity = SeverityInfo

	got := log.Query(Filter{})
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Indicators[0] != "script_injection" {
		t.Errorf("stored event mutated: %v", got[0].Indicators)
	}
	if got[0].Severity != SeverityHigh {
		t.Errorf("stored severity mutated: %v", got[0].Severity)
	}
}

func TestRotationHandsEventsToArchiver(t *testing.T) {
	arch := newMockArchiver()
	log := NewLog(10, arch, testClock())

	for i := 0; i < 11; i++ {
		log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityLow})
	}

	select {
	case <-arch.done:
	case <-time.After(time.Second):
		t.Fatal("archiver was not invoked")
	}

	// Bound 10 with batch 1: one event rotated out.
	if got := len(arch.archived()); got != 1 {
		t.Errorf("archived %d events, want 1", got)
	}
	if log.Len() != 10 {
		t.Errorf("Len = %d, want 10", log.Len())
	}
}

func TestQueryFilters(t *testing.T) {
	clk := testClock()
	log := NewLog(100, nil, clk)

	log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityMedium, Actor: Actor{UserID: "alice"}})
	log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityHigh, Actor: Actor{UserID: "bob"}})
	log.Append(&Event{Type: EventTypeInjection, Severity: SeverityCritical, Actor: Actor{UserID: "alice"}})
	log.Append(&Event{Type: EventTypeDataExport, Severity: SeverityInfo, Actor: Actor{IPAddress: "10.0.0.9"}})

	if got := log.Query(Filter{Types: []EventType{EventTypeLoginFailure}}); len(got) != 2 {
		t.Errorf("type filter returned %d, want 2", len(got))
	}
	if got := log.Query(Filter{ActorKey: "user:alice"}); len(got) != 2 {
		t.Errorf("actor filter returned %d, want 2", len(got))
	}
	if got := log.Query(Filter{MinSeverity: SeverityHigh}); len(got) != 2 {
		t.Errorf("min severity filter returned %d, want 2", len(got))
	}
	if got := log.Query(Filter{IPAddress: "10.0.0.9"}); len(got) != 1 {
		t.Errorf("ip filter returned %d, want 1", len(got))
	}
}

func TestQueryTimeRangeAndOrder(t *testing.T) {
	clk := testClock()
	log := NewLog(100, nil, clk)

	log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityLow})
	clk.Advance(time.Minute)
	mid := clk.Now()
	log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityLow})
	clk.Advance(time.Minute)
	log.Append(&Event{Type: EventTypeLoginFailure, Severity: SeverityLow})

	got := log.Query(Filter{Since: &mid})
	if len(got) != 2 {
		t.Fatalf("since filter returned %d, want 2", len(got))
	}

	desc := log.Query(Filter{OrderDesc: true})
	if len(desc) != 3 {
		t.Fatalf("expected 3 events, got %d", len(desc))
	}
	if desc[0].Timestamp.Before(desc[1].Timestamp) {
		t.Error("OrderDesc did not sort newest first")
	}

	limited := log.Query(Filter{Limit: 1, Offset: 1})
	if len(limited) != 1 {
		t.Errorf("limit/offset returned %d, want 1", len(limited))
	}
}

func TestRecentAndCountByActor(t *testing.T) {
	clk := testClock()
	log := NewLog(100, nil, clk)

	log.Append(&Event{Type: EventTypeLoginFailure, Actor: Actor{UserID: "alice"}})
	clk.Advance(10 * time.Minute)
	log.Append(&Event{Type: EventTypeLoginFailure, Actor: Actor{UserID: "alice"}})
	log.Append(&Event{Type: EventTypeLoginFailure, Actor: Actor{UserID: "bob"}})

	if got := len(log.Recent(5 * time.Minute)); got != 2 {
		t.Errorf("Recent returned %d, want 2", got)
	}
	if got := log.CountByActor("user:alice", 5*time.Minute); got != 1 {
		t.Errorf("CountByActor = %d, want 1", got)
	}
	if got := log.CountByActor("user:alice", time.Hour); got != 2 {
		t.Errorf("CountByActor over an hour = %d, want 2", got)
	}
}

func TestActorKey(t *testing.T) {
	tests := []struct {
		actor Actor
		want  string
	}{
		{Actor{UserID: "u1", IPAddress: "1.1.1.1"}, "user:u1"},
		{Actor{SessionID: "s1"}, "session:s1"},
		{Actor{DeviceID: "d1"}, "device:d1"},
		{Actor{IPAddress: "1.1.1.1"}, "ip:1.1.1.1"},
		{Actor{}, ""},
	}

	for _, tt := range tests {
		if got := tt.actor.Key(); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.actor, got, tt.want)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should rank above %s", ordered[i], ordered[i-1])
		}
	}
	if Severity("bogus").Rank() != 0 {
		t.Error("unknown severity should rank 0")
	}
}

func TestRecorderAsyncAppend(t *testing.T) {
	log := NewLog(100, nil, testClock())
	rec := NewRecorder(log, 16)

	for i := 0; i < 5; i++ {
		if !rec.Record(&Event{Type: EventTypeSuspicious, Severity: SeverityLow}) {
			t.Fatal("Record returned false with spare buffer")
		}
	}
	rec.Close()

	if log.Len() != 5 {
		t.Errorf("Len after Close = %d, want 5", log.Len())
	}
}

func TestRecorderObserverSeesEveryAppend(t *testing.T) {
	log := NewLog(100, nil, testClock())
	rec := NewRecorder(log, 16)

	var mu sync.Mutex
	var seen []EventType
	rec.Observe(func(e *Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		if e.ID == "" {
			t.Error("observer got event without assigned ID")
		}
	})

	rec.Record(&Event{Type: EventTypeLoginFailure, Severity: SeverityMedium})
	rec.Record(&Event{Type: EventTypeSuspicious, Severity: SeverityLow})
	rec.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(seen))
	}
	if seen[0] != EventTypeLoginFailure || seen[1] != EventTypeSuspicious {
		t.Fatalf("observer order = %v", seen)
	}
}

// An observer recording through the same recorder must not deadlock
// the drain goroutine.
func TestRecorderObserverMayRecord(t *testing.T) {
	log := NewLog(100, nil, testClock())
	rec := NewRecorder(log, 16)

	rec.Observe(func(e *Event) {
		if e.Type == EventTypeLoginFailure {
			rec.Record(&Event{Type: EventTypeAnomaly, Severity: SeverityHigh})
		}
	})

	rec.Record(&Event{Type: EventTypeLoginFailure, Severity: SeverityMedium})
	rec.Close()

	if got := log.Len(); got != 2 {
		t.Fatalf("Len = %d, want login failure plus derived event", got)
	}
}

func TestRecorderNilEvent(t *testing.T) {
	log := NewLog(10, nil, testClock())
	rec := NewRecorder(log, 4)
	defer rec.Close()

	if rec.Record(nil) {
		t.Error("Record(nil) should return false")
	}
}
