// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package anomaly

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/metrics"
	"github.com/palisade-sec/palisade/internal/threatintel"
)

// EventRecorder is the event log append surface the scorer writes
// anomaly findings to. Satisfied by *eventlog.Recorder.
type EventRecorder interface {
	Record(e *eventlog.Event) bool
}

// AlertSink receives findings that cross the high threshold. Satisfied
// by an adapter over the alert manager.
type AlertSink interface {
	AnomalyDetected(result Result, source eventlog.Event)
}

// Scorer correlates events into composite risk scores. Analyze is
// invoked per incoming event; Start adds a periodic sweep over the
// recent log window.
type Scorer struct {
	config    Config
	log       *eventlog.Log
	intel     threatintel.Provider
	baselines *BaselineStore
	recorder  EventRecorder
	alerts    AlertSink
	clk       clock.Clock

	sweeping atomic.Bool
	ticker   clock.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// NewScorer wires a scorer. intel, recorder, and alerts may be nil to
// disable the respective signal or side effect; clk may be nil for
// wall-clock time.
func NewScorer(config Config, log *eventlog.Log, intel threatintel.Provider, recorder EventRecorder, alerts AlertSink, clk clock.Clock) *Scorer {
	defaults := DefaultConfig()
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.SweepWindow == 0 {
		config.SweepWindow = defaults.SweepWindow
	}
	if config.LearningWindow == 0 {
		config.LearningWindow = defaults.LearningWindow
	}
	if config.MinBaselineEvents == 0 {
		config.MinBaselineEvents = defaults.MinBaselineEvents
	}
	if config.BruteForceThreshold == 0 {
		config.BruteForceThreshold = defaults.BruteForceThreshold
	}
	if config.BruteForceWindow == 0 {
		config.BruteForceWindow = defaults.BruteForceWindow
	}
	if config.StuffingIPThreshold == 0 {
		config.StuffingIPThreshold = defaults.StuffingIPThreshold
	}
	if config.StuffingEventThreshold == 0 {
		config.StuffingEventThreshold = defaults.StuffingEventThreshold
	}
	if config.StuffingWindow == 0 {
		config.StuffingWindow = defaults.StuffingWindow
	}
	if config.HijackWindow == 0 {
		config.HijackWindow = defaults.HijackWindow
	}
	if config.RapidFireThreshold == 0 {
		config.RapidFireThreshold = defaults.RapidFireThreshold
	}
	if intel == nil {
		intel = threatintel.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Scorer{
		config:    config,
		log:       log,
		intel:     intel,
		baselines: NewBaselineStore(config.MinBaselineEvents, config.LearningWindow),
		recorder:  recorder,
		alerts:    alerts,
		clk:       clk,
		done:      make(chan struct{}),
	}
}

// Baselines exposes the baseline store for rebuild scheduling and tests.
func (s *Scorer) Baselines() *BaselineStore {
	return s.baselines
}

// Analyze scores one event against all four signals. It reads the log
// but never writes to it; use Process for the full score-and-record
// path.
func (s *Scorer) Analyze(ctx context.Context, e *eventlog.Event) Result {
	if e == nil {
		return Result{Severity: eventlog.SeverityInfo}
	}

	now := s.clk.Now()
	var result Result

	// Signal 1: threat intel.
	assessment := s.intel.Assess(ctx, threatintel.Query{
		IPAddress: e.Actor.IPAddress,
		UserAgent: e.UserAgent,
		Payload:   string(e.Details),
	})
	// The cap holds regardless of what the provider returns.
	intelScore := assessment.Score
	if intelScore > capIntel {
		intelScore = capIntel
	}
	result.Components.Intel = intelScore
	result.Indicators = append(result.Indicators, assessment.Indicators...)

	// Signal 2: sequence patterns.
	result.Patterns = s.matchSequences(e, now)
	result.Components.Sequence = sequenceScore(result.Patterns)
	for _, m := range result.Patterns {
		result.Indicators = append(result.Indicators, "sequence."+string(m.Pattern))
	}

	// Signal 3: baseline deviation. Zero without an established
	// baseline.
	if actorKey := e.Actor.Key(); actorKey != "" {
		if b := s.baselines.Get(actorKey); b != nil {
			rate := float64(s.log.CountByActor(actorKey, time.Minute))
			score, indicators := b.deviate(e, rate)
			result.Components.Baseline = score
			result.Indicators = append(result.Indicators, indicators...)
		}
	}

	// Signal 4: statistical heuristics.
	result.Components.Statistical = s.statistical(e, &result.Indicators)

	score := result.Components.Intel +
		result.Components.Sequence +
		result.Components.Baseline +
		result.Components.Statistical
	if score > 1 {
		score = 1
	}
	result.Score = score

	result.Severity = severityForScore(score)
	for _, m := range result.Patterns {
		if sev := patternSeverity[m.Pattern]; sev.Rank() > result.Severity.Rank() {
			result.Severity = sev
		}
	}

	metrics.AnomalyScores.Observe(score)
	return result
}

// statistical applies the fixed heuristics, capped.
func (s *Scorer) statistical(e *eventlog.Event, indicators *[]string) float64 {
	var score float64
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.clk.Now()
	}

	if hour := ts.Hour(); hour >= 2 && hour < 5 {
		score += 0.1
		*indicators = append(*indicators, "stat.odd_hours")
	}

	if e.Type == eventlog.EventTypeDataExport {
		if day := ts.Weekday(); day == time.Saturday || day == time.Sunday {
			score += 0.2
			*indicators = append(*indicators, "stat.weekend_export")
		}
	}

	if actorKey := e.Actor.Key(); actorKey != "" {
		if s.log.CountByActor(actorKey, time.Second) > s.config.RapidFireThreshold {
			score += 0.3
			*indicators = append(*indicators, "stat.rapid_fire")
		}
	}

	if score > capStatistical {
		score = capStatistical
	}
	return score
}

// Process analyzes the event and, when the result is anomalous, writes
// an anomaly event and forwards high findings to the alert sink. The
// triggering event should already be in the log. The scorer's own
// anomaly events are ignored to avoid feedback loops.
func (s *Scorer) Process(ctx context.Context, e *eventlog.Event) Result {
	if e != nil && e.Type == eventlog.EventTypeAnomaly {
		return Result{Severity: eventlog.SeverityInfo}
	}

	result := s.Analyze(ctx, e)
	if !result.Anomalous() {
		return result
	}
	s.emit(result, e)
	return result
}

// emit records the anomaly event and notifies the sink for high
// findings. Both are best effort.
func (s *Scorer) emit(result Result, source *eventlog.Event) {
	if s.recorder != nil {
		correlation := source.CorrelationID
		if correlation == "" {
			correlation = source.ID
		}
		s.recorder.Record(&eventlog.Event{
			Type:          eventlog.EventTypeAnomaly,
			Severity:      result.Severity,
			Actor:         source.Actor,
			UserAgent:     source.UserAgent,
			Resource:      source.Resource,
			RiskScore:     result.Score,
			Indicators:    result.Indicators,
			CorrelationID: correlation,
		})
	}

	if s.alerts != nil && (result.Score >= thresholdHigh || result.Severity.Rank() >= eventlog.SeverityHigh.Rank()) {
		s.alerts.AnomalyDetected(result, *source)
	}
}

// Start launches the periodic sweep. Stop terminates it.
func (s *Scorer) Start() {
	s.ticker = s.clk.Ticker(s.config.SweepInterval)
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.ticker.C():
				s.Sweep(context.Background())
			}
		}
	}()
}

// Stop terminates the periodic sweep. Safe to call more than once.
func (s *Scorer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
}

// Sweep re-analyzes the recent log window, rebuilds baselines for the
// actors seen there, and emits findings. A sweep already in progress
// causes the call to return immediately.
func (s *Scorer) Sweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		logging.Debug().Msg("anomaly sweep still running, skipping tick")
		return
	}
	defer s.sweeping.Store(false)

	start := s.clk.Now()
	defer func() {
		metrics.SweepDuration.Observe(s.clk.Now().Sub(start).Seconds())
	}()

	recent := s.log.Recent(s.config.SweepWindow)
	if len(recent) == 0 {
		return
	}

	// Rebuild baselines for every actor seen in the window before
	// scoring, so deviation reflects current history.
	actors := make(map[string]struct{})
	for i := range recent {
		if key := recent[i].Actor.Key(); key != "" {
			actors[key] = struct{}{}
		}
	}
	now := s.clk.Now()
	for key := range actors {
		history := s.log.Query(eventlog.Filter{ActorKey: key})
		s.baselines.Rebuild(key, history, now)
	}
	s.baselines.Prune(now)

	var flagged int
	for i := range recent {
		e := &recent[i]
		// Skip the scorer's own output to avoid feedback loops.
		if e.Type == eventlog.EventTypeAnomaly {
			continue
		}
		result := s.Analyze(ctx, e)
		if result.Score >= thresholdHigh || result.Severity.Rank() >= eventlog.SeverityHigh.Rank() {
			s.emit(result, e)
			flagged++
		}
	}

	logging.Debug().
		Int("events", len(recent)).
		Int("flagged", flagged).
		Dur("took", s.clk.Now().Sub(start)).
		Msg("anomaly sweep complete")
}
