// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package threatintel defines the interface to a threat intelligence
// source and a deterministic static implementation. The interface
// exists so a real feed (registry, vulnerability intelligence, IP
// reputation) can be swapped in; nothing here fabricates scores.
package threatintel

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// MaxScore is the ceiling on an assessment's contribution to the
// composite anomaly score.
const MaxScore = 0.5

// Query describes the facets of an event submitted for assessment.
// Empty fields are skipped.
type Query struct {
	IPAddress string
	UserAgent string
	Payload   string
}

// Assessment is the provider's verdict. Score is in [0, MaxScore];
// Indicators name the matched intel categories.
type Assessment struct {
	Score      float64
	Indicators []string
}

// Malicious reports whether any intel category matched.
func (a Assessment) Malicious() bool {
	return a.Score > 0
}

// Provider answers intel queries. Implementations must be safe for
// concurrent use and deterministic for a fixed data set.
type Provider interface {
	// Assess scores the query against the provider's current data.
	Assess(ctx context.Context, q Query) Assessment
}

// Static per-category weights. The sum of all three exceeds MaxScore on
// purpose: a multi-facet match saturates the signal.
const (
	weightBlockedIP   = 0.5
	weightPayload     = 0.3
	weightSuspectedUA = 0.2
)

// StaticProvider is an in-memory Provider backed by explicit data sets.
// Updates replace whole sets so a feed refresh is a single swap.
type StaticProvider struct {
	mu         sync.RWMutex
	blockedIPs map[string]struct{}
	agents     []string
	payloads   []*regexp.Regexp
}

// StaticConfig seeds a StaticProvider.
type StaticConfig struct {
	// BlockedIPs are exact-match source addresses.
	BlockedIPs []string `json:"blocked_ips" koanf:"blocked_ips"`

	// SuspiciousAgents are lowercase user-agent substrings.
	SuspiciousAgents []string `json:"suspicious_agents" koanf:"suspicious_agents"`

	// MaliciousPayloads are regular expressions matched against event
	// payloads. Invalid expressions are reported by NewStatic.
	MaliciousPayloads []string `json:"malicious_payloads" koanf:"malicious_payloads"`
}

// DefaultStaticConfig returns a conservative seed set.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		SuspiciousAgents: []string{
			"sqlmap", "nikto", "nessus", "masscan", "zgrab",
			"dirbuster", "gobuster", "hydra", "metasploit",
		},
		MaliciousPayloads: []string{
			`(?i)union\s+select`,
			`(?i)<\s*script`,
			`(?i)\.\./\.\./`,
			`(?i)etc/passwd`,
			`(?i)cmd\.exe`,
		},
	}
}

// NewStatic builds a StaticProvider from config. Returns an error when
// a payload expression does not compile.
func NewStatic(config StaticConfig) (*StaticProvider, error) {
	p := &StaticProvider{}
	if err := p.Update(config); err != nil {
		return nil, err
	}
	return p, nil
}

// Update atomically replaces the provider's data sets.
func (p *StaticProvider) Update(config StaticConfig) error {
	blocked := make(map[string]struct{}, len(config.BlockedIPs))
	for _, ip := range config.BlockedIPs {
		blocked[ip] = struct{}{}
	}

	agents := make([]string, 0, len(config.SuspiciousAgents))
	for _, agent := range config.SuspiciousAgents {
		agents = append(agents, strings.ToLower(agent))
	}

	payloads := make([]*regexp.Regexp, 0, len(config.MaliciousPayloads))
	for _, expr := range config.MaliciousPayloads {
		re, err := regexp.Compile(expr)
		if err != nil {
			return err
		}
		payloads = append(payloads, re)
	}

	p.mu.Lock()
	p.blockedIPs = blocked
	p.agents = agents
	p.payloads = payloads
	p.mu.Unlock()
	return nil
}

// BlockIP adds a single address to the blocked set.
func (p *StaticProvider) BlockIP(ip string) {
	if ip == "" {
		return
	}
	p.mu.Lock()
	p.blockedIPs[ip] = struct{}{}
	p.mu.Unlock()
}

// Assess implements Provider.
func (p *StaticProvider) Assess(_ context.Context, q Query) Assessment {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result Assessment

	if q.IPAddress != "" {
		if _, blocked := p.blockedIPs[q.IPAddress]; blocked {
			result.Score += weightBlockedIP
			result.Indicators = append(result.Indicators, "intel.blocked_ip")
		}
	}

	if q.UserAgent != "" {
		ua := strings.ToLower(q.UserAgent)
		for _, agent := range p.agents {
			if strings.Contains(ua, agent) {
				result.Score += weightSuspectedUA
				result.Indicators = append(result.Indicators, "intel.suspicious_agent")
				break
			}
		}
	}

	if q.Payload != "" {
		for _, re := range p.payloads {
			if re.MatchString(q.Payload) {
				result.Score += weightPayload
				result.Indicators = append(result.Indicators, "intel.malicious_payload")
				break
			}
		}
	}

	if result.Score > MaxScore {
		result.Score = MaxScore
	}
	return result
}

// Nop is a Provider that never matches. Useful where intel is disabled.
type Nop struct{}

// Assess implements Provider.
func (Nop) Assess(context.Context, Query) Assessment {
	return Assessment{}
}
