// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package anomaly

import (
	"fmt"
	"time"

	"github.com/palisade-sec/palisade/internal/eventlog"
)

// Pattern risk multipliers; each match contributes multiplier * 0.2 to
// the sequence component.
const (
	multiplierBruteForce         = 2.0
	multiplierCredentialStuffing = 2.5
	multiplierSessionHijack      = 3.0

	patternBaseScore = 0.2
)

// loginTypes are the event types counted by the credential-stuffing
// matcher.
var loginTypes = []eventlog.EventType{
	eventlog.EventTypeLoginSuccess,
	eventlog.EventTypeLoginFailure,
}

// matchSequences runs every sequence matcher against the log around the
// given event and returns the matches.
func (s *Scorer) matchSequences(e *eventlog.Event, now time.Time) []PatternMatch {
	var matches []PatternMatch

	if m, ok := s.matchBruteForce(e, now); ok {
		matches = append(matches, m)
	}
	if m, ok := s.matchCredentialStuffing(now); ok {
		matches = append(matches, m)
	}
	if m, ok := s.matchSessionHijack(e, now); ok {
		matches = append(matches, m)
	}

	return matches
}

// matchBruteForce flags repeated login failures for one actor.
func (s *Scorer) matchBruteForce(e *eventlog.Event, now time.Time) (PatternMatch, bool) {
	actorKey := e.Actor.Key()
	if actorKey == "" {
		return PatternMatch{}, false
	}

	since := now.Add(-s.config.BruteForceWindow)
	failures := s.log.Query(eventlog.Filter{
		Types:    []eventlog.EventType{eventlog.EventTypeLoginFailure},
		ActorKey: actorKey,
		Since:    &since,
	})
	if len(failures) < s.config.BruteForceThreshold {
		return PatternMatch{}, false
	}

	return PatternMatch{
		Pattern:        PatternBruteForce,
		RiskMultiplier: multiplierBruteForce,
		Evidence: fmt.Sprintf("%d login failures for %s within %s",
			len(failures), actorKey, s.config.BruteForceWindow),
	}, true
}

// matchCredentialStuffing flags distributed login activity: many source
// IPs and many login events in a short window, regardless of actor.
func (s *Scorer) matchCredentialStuffing(now time.Time) (PatternMatch, bool) {
	since := now.Add(-s.config.StuffingWindow)
	logins := s.log.Query(eventlog.Filter{
		Types: loginTypes,
		Since: &since,
	})
	if len(logins) <= s.config.StuffingEventThreshold {
		return PatternMatch{}, false
	}

	ips := make(map[string]struct{})
	for i := range logins {
		if ip := logins[i].Actor.IPAddress; ip != "" {
			ips[ip] = struct{}{}
		}
	}
	if len(ips) <= s.config.StuffingIPThreshold {
		return PatternMatch{}, false
	}

	return PatternMatch{
		Pattern:        PatternCredentialStuffing,
		RiskMultiplier: multiplierCredentialStuffing,
		Evidence: fmt.Sprintf("%d login events from %d source IPs within %s",
			len(logins), len(ips), s.config.StuffingWindow),
	}, true
}

// matchSessionHijack flags one session id observed from more than one
// source IP.
func (s *Scorer) matchSessionHijack(e *eventlog.Event, now time.Time) (PatternMatch, bool) {
	sessionID := e.Actor.SessionID
	if sessionID == "" {
		return PatternMatch{}, false
	}

	since := now.Add(-s.config.HijackWindow)
	sessionEvents := s.log.Query(eventlog.Filter{
		SessionID: sessionID,
		Since:     &since,
	})

	ips := make(map[string]struct{})
	if e.Actor.IPAddress != "" {
		ips[e.Actor.IPAddress] = struct{}{}
	}
	for i := range sessionEvents {
		if ip := sessionEvents[i].Actor.IPAddress; ip != "" {
			ips[ip] = struct{}{}
		}
	}
	if len(ips) <= 1 {
		return PatternMatch{}, false
	}

	return PatternMatch{
		Pattern:        PatternSessionHijack,
		RiskMultiplier: multiplierSessionHijack,
		Evidence: fmt.Sprintf("session %s observed from %d source IPs within %s",
			sessionID, len(ips), s.config.HijackWindow),
	}, true
}

// sequenceScore sums pattern contributions and applies the cap.
func sequenceScore(matches []PatternMatch) float64 {
	var score float64
	for _, m := range matches {
		score += m.RiskMultiplier * patternBaseScore
	}
	if score > capSequence {
		score = capSequence
	}
	return score
}
