// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/threatintel"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []*eventlog.Event
}

func (c *captureRecorder) Record(e *eventlog.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return true
}

func (c *captureRecorder) last() *eventlog.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type captureSink struct {
	mu      sync.Mutex
	results []Result
}

func (c *captureSink) AnomalyDetected(result Result, _ eventlog.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// weekday noon, outside every statistical window
var quietTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func testScorer(t *testing.T, config Config) (*Scorer, *eventlog.Log, *captureRecorder, *captureSink, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(quietTime)
	log := eventlog.NewLog(eventlog.DefaultMaxEntries, nil, clk)
	rec := &captureRecorder{}
	sink := &captureSink{}
	s := NewScorer(config, log, nil, rec, sink, clk)
	return s, log, rec, sink, clk
}

func loginFailure(user, ip string, ts time.Time) *eventlog.Event {
	return &eventlog.Event{
		Timestamp: ts,
		Type:      eventlog.EventTypeLoginFailure,
		Severity:  eventlog.SeverityMedium,
		Actor:     eventlog.Actor{UserID: user, IPAddress: ip},
	}
}

func TestScorer_BruteForce(t *testing.T) {
	s, log, rec, sink, clk := testScorer(t, DefaultConfig())

	var last *eventlog.Event
	for i := 0; i < 3; i++ {
		last = log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
		clk.Advance(30 * time.Second)
	}

	result := s.Process(context.Background(), last)

	if len(result.Patterns) != 1 || result.Patterns[0].Pattern != PatternBruteForce {
		t.Fatalf("Patterns = %+v, want brute_force", result.Patterns)
	}
	if result.Components.Sequence != 0.4 {
		t.Fatalf("Sequence = %.2f, want 0.4", result.Components.Sequence)
	}
	if result.Severity != eventlog.SeverityCritical {
		t.Fatalf("Severity = %q, want critical", result.Severity)
	}

	ev := rec.last()
	if ev == nil || ev.Type != eventlog.EventTypeAnomaly {
		t.Fatalf("expected anomaly event, got %+v", ev)
	}
	if ev.Severity != eventlog.SeverityCritical {
		t.Fatalf("event severity = %q, want critical", ev.Severity)
	}
	if sink.count() != 1 {
		t.Fatalf("sink notified %d times, want 1", sink.count())
	}
}

// Process feeds on the same log it writes to; its own output must not
// be re-scored.
func TestScorer_ProcessSkipsAnomalyEvents(t *testing.T) {
	s, log, rec, sink, clk := testScorer(t, DefaultConfig())

	e := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeAnomaly,
		Severity:  eventlog.SeverityCritical,
		Actor:     eventlog.Actor{UserID: "alice"},
		RiskScore: 0.95,
	})

	result := s.Process(context.Background(), e)
	if result.Score != 0 {
		t.Fatalf("Score = %.2f, want 0 for scorer output", result.Score)
	}
	if rec.last() != nil {
		t.Fatal("anomaly event re-scored into a new event")
	}
	if sink.count() != 0 {
		t.Fatalf("sink notified %d times, want 0", sink.count())
	}
}

func TestScorer_BruteForce_BelowThreshold(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	var last *eventlog.Event
	for i := 0; i < 2; i++ {
		last = log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
	}

	result := s.Analyze(context.Background(), last)
	if len(result.Patterns) != 0 {
		t.Fatalf("Patterns = %+v, want none", result.Patterns)
	}
}

func TestScorer_BruteForce_OutsideWindow(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
	log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
	clk.Advance(6 * time.Minute)
	last := log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))

	result := s.Analyze(context.Background(), last)
	for _, m := range result.Patterns {
		if m.Pattern == PatternBruteForce {
			t.Fatalf("stale failures matched: %+v", m)
		}
	}
}

func TestScorer_CredentialStuffing(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	// 24 login failures from 8 distinct IPs.
	var last *eventlog.Event
	for i := 0; i < 24; i++ {
		ip := []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "198.51.100.4",
			"198.51.100.5", "198.51.100.6", "198.51.100.7", "198.51.100.8"}[i%8]
		last = log.Append(loginFailure("", ip, clk.Now()))
		clk.Advance(10 * time.Second)
	}

	result := s.Analyze(context.Background(), last)

	var found bool
	for _, m := range result.Patterns {
		if m.Pattern == PatternCredentialStuffing {
			found = true
			if m.RiskMultiplier != 2.5 {
				t.Fatalf("RiskMultiplier = %.1f, want 2.5", m.RiskMultiplier)
			}
		}
	}
	if !found {
		t.Fatalf("credential stuffing not flagged: %+v", result.Patterns)
	}
}

func TestScorer_SessionHijack(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeLoginSuccess,
		Actor:     eventlog.Actor{SessionID: "sess-9", IPAddress: "203.0.113.5"},
	})
	last := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeSuspicious,
		Actor:     eventlog.Actor{SessionID: "sess-9", IPAddress: "198.51.100.20"},
	})

	result := s.Analyze(context.Background(), last)

	var found bool
	for _, m := range result.Patterns {
		if m.Pattern == PatternSessionHijack {
			found = true
		}
	}
	if !found {
		t.Fatalf("session hijack not flagged: %+v", result.Patterns)
	}
	if result.Severity != eventlog.SeverityCritical {
		t.Fatalf("Severity = %q, want critical", result.Severity)
	}
}

func TestScorer_SequenceCapped(t *testing.T) {
	// Three simultaneous patterns would contribute
	// (2.0+2.5+3.0)*0.2 = 1.5 uncapped.
	matches := []PatternMatch{
		{Pattern: PatternBruteForce, RiskMultiplier: 2.0},
		{Pattern: PatternCredentialStuffing, RiskMultiplier: 2.5},
		{Pattern: PatternSessionHijack, RiskMultiplier: 3.0},
	}
	if got := sequenceScore(matches); got != capSequence {
		t.Fatalf("sequenceScore = %.2f, want %.2f", got, capSequence)
	}
}

func TestScorer_IntelSignal(t *testing.T) {
	clk := clock.NewMock(quietTime)
	log := eventlog.NewLog(eventlog.DefaultMaxEntries, nil, clk)
	intel, err := threatintel.NewStatic(threatintel.StaticConfig{
		BlockedIPs: []string{"198.51.100.66"},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	s := NewScorer(DefaultConfig(), log, intel, nil, nil, clk)

	e := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeSuspicious,
		Actor:     eventlog.Actor{IPAddress: "198.51.100.66"},
	})

	result := s.Analyze(context.Background(), e)
	if result.Components.Intel != 0.5 {
		t.Fatalf("Intel = %.2f, want 0.5", result.Components.Intel)
	}
	if result.Severity != eventlog.SeverityMedium {
		t.Fatalf("Severity = %q, want medium", result.Severity)
	}
}

// overratedProvider reports scores above the per-signal cap the way a
// misbehaving external feed could.
type overratedProvider struct{}

func (overratedProvider) Assess(_ context.Context, _ threatintel.Query) threatintel.Assessment {
	return threatintel.Assessment{Score: 0.9, Indicators: []string{"intel.blocked_ip"}}
}

func TestScorer_IntelSignalCappedForAnyProvider(t *testing.T) {
	clk := clock.NewMock(quietTime)
	log := eventlog.NewLog(eventlog.DefaultMaxEntries, nil, clk)
	s := NewScorer(DefaultConfig(), log, overratedProvider{}, nil, nil, clk)

	e := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeSuspicious,
		Actor:     eventlog.Actor{IPAddress: "198.51.100.66"},
	})

	result := s.Analyze(context.Background(), e)
	if result.Components.Intel != capIntel {
		t.Fatalf("Intel = %.2f, want %.2f", result.Components.Intel, capIntel)
	}
}

func TestScorer_StatisticalOddHours(t *testing.T) {
	s, log, _, _, _ := testScorer(t, DefaultConfig())

	e := log.Append(&eventlog.Event{
		Timestamp: time.Date(2026, 3, 4, 3, 30, 0, 0, time.UTC),
		Type:      eventlog.EventTypeSuspicious,
		Actor:     eventlog.Actor{UserID: "bob"},
	})

	result := s.Analyze(context.Background(), e)
	if result.Components.Statistical != 0.1 {
		t.Fatalf("Statistical = %.2f, want 0.1", result.Components.Statistical)
	}
}

func TestScorer_StatisticalWeekendExport(t *testing.T) {
	s, log, _, _, _ := testScorer(t, DefaultConfig())

	// Saturday afternoon.
	e := log.Append(&eventlog.Event{
		Timestamp: time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC),
		Type:      eventlog.EventTypeDataExport,
		Actor:     eventlog.Actor{UserID: "bob"},
	})

	result := s.Analyze(context.Background(), e)
	if result.Components.Statistical != 0.2 {
		t.Fatalf("Statistical = %.2f, want 0.2", result.Components.Statistical)
	}
}

func TestScorer_StatisticalRapidFire(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	var last *eventlog.Event
	for i := 0; i < 12; i++ {
		last = log.Append(&eventlog.Event{
			Timestamp: clk.Now(),
			Type:      eventlog.EventTypeSuspicious,
			Actor:     eventlog.Actor{UserID: "bob"},
		})
	}

	result := s.Analyze(context.Background(), last)
	if result.Components.Statistical != 0.3 {
		t.Fatalf("Statistical = %.2f, want 0.3", result.Components.Statistical)
	}
}

func TestScorer_NoBaselineContributesZero(t *testing.T) {
	s, log, _, _, clk := testScorer(t, DefaultConfig())

	e := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeLoginSuccess,
		Actor:     eventlog.Actor{UserID: "newcomer", IPAddress: "203.0.113.80"},
	})

	result := s.Analyze(context.Background(), e)
	if result.Components.Baseline != 0 {
		t.Fatalf("Baseline = %.2f, want 0 without established baseline", result.Components.Baseline)
	}
}

func TestScorer_ScoreClamped(t *testing.T) {
	clk := clock.NewMock(quietTime)
	log := eventlog.NewLog(eventlog.DefaultMaxEntries, nil, clk)
	intel, err := threatintel.NewStatic(threatintel.StaticConfig{
		BlockedIPs: []string{"198.51.100.66"},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	s := NewScorer(DefaultConfig(), log, intel, nil, nil, clk)

	// Blocked IP (0.5) plus brute force and hijack patterns (0.5
	// capped) would exceed 1.0 uncapped.
	for i := 0; i < 3; i++ {
		log.Append(&eventlog.Event{
			Timestamp: clk.Now(),
			Type:      eventlog.EventTypeLoginFailure,
			Actor:     eventlog.Actor{UserID: "alice", SessionID: "sess-1", IPAddress: "203.0.113.9"},
		})
	}
	last := log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeLoginFailure,
		Actor:     eventlog.Actor{UserID: "alice", SessionID: "sess-1", IPAddress: "198.51.100.66"},
	})

	result := s.Analyze(context.Background(), last)
	if result.Score > 1.0 {
		t.Fatalf("Score = %.2f, exceeds 1.0", result.Score)
	}
	if result.Severity != eventlog.SeverityCritical {
		t.Fatalf("Severity = %q, want critical", result.Severity)
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  eventlog.Severity
	}{
		{0.0, eventlog.SeverityInfo},
		{0.29, eventlog.SeverityInfo},
		{0.3, eventlog.SeverityLow},
		{0.5, eventlog.SeverityMedium},
		{0.7, eventlog.SeverityHigh},
		{0.9, eventlog.SeverityCritical},
	}
	for _, tt := range tests {
		if got := severityForScore(tt.score); got != tt.want {
			t.Errorf("severityForScore(%.2f) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestScorer_SweepOverlapGuard(t *testing.T) {
	s, log, rec, _, clk := testScorer(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
	}

	// Simulate an in-progress sweep.
	s.sweeping.Store(true)
	s.Sweep(context.Background())
	if rec.last() != nil {
		t.Fatal("guarded sweep still emitted events")
	}
	s.sweeping.Store(false)

	s.Sweep(context.Background())
	if ev := rec.last(); ev == nil || ev.Type != eventlog.EventTypeAnomaly {
		t.Fatalf("unguarded sweep emitted nothing, got %+v", ev)
	}
}

func TestScorer_SweepSkipsOwnOutput(t *testing.T) {
	s, log, rec, _, clk := testScorer(t, DefaultConfig())

	log.Append(&eventlog.Event{
		Timestamp: clk.Now(),
		Type:      eventlog.EventTypeAnomaly,
		Severity:  eventlog.SeverityCritical,
		Actor:     eventlog.Actor{UserID: "alice"},
		RiskScore: 0.95,
	})

	s.Sweep(context.Background())
	if rec.last() != nil {
		t.Fatal("sweep re-scored an anomaly event")
	}
}

func TestScorer_StartStop(t *testing.T) {
	s, log, rec, _, clk := testScorer(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		log.Append(loginFailure("alice", "203.0.113.5", clk.Now()))
	}

	s.Start()
	defer s.Stop()

	clk.Advance(30 * time.Second)

	// The tick handler runs on another goroutine; give it a moment.
	deadline := time.After(2 * time.Second)
	for rec.last() == nil {
		select {
		case <-deadline:
			t.Fatal("sweep never ran after tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
