// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package csrf

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/metrics"
	"github.com/palisade-sec/palisade/internal/ratewindow"
)

// EventRecorder is the event log append surface the validator needs.
// Satisfied by *eventlog.Recorder.
type EventRecorder interface {
	Record(e *eventlog.Event) bool
}

// checkOutcome is one check's verdict.
type checkOutcome struct {
	name       string
	passed     bool
	attack     AttackType
	confidence float64
	detail     string
}

// Validator runs the forged-request checks against request contexts.
type Validator struct {
	config   Config
	tokens   *TokenStore
	rates    *ratewindow.Tracker
	recorder EventRecorder
	clk      clock.Clock
}

// NewValidator creates a validator. recorder may be nil to disable event
// logging; clk may be nil for wall-clock time.
func NewValidator(config Config, recorder EventRecorder, clk clock.Clock) *Validator {
	defaults := DefaultConfig()
	if config.TokenHeader == "" {
		config.TokenHeader = defaults.TokenHeader
	}
	if config.TokenFormField == "" {
		config.TokenFormField = defaults.TokenFormField
	}
	if config.CookieName == "" {
		config.CookieName = defaults.CookieName
	}
	if config.CustomHeaderName == "" {
		config.CustomHeaderName = defaults.CustomHeaderName
	}
	if config.TokenLength == 0 {
		config.TokenLength = defaults.TokenLength
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = defaults.TokenTTL
	}
	if len(config.ExemptMethods) == 0 {
		config.ExemptMethods = defaults.ExemptMethods
	}
	if config.BurstLimit == 0 {
		config.BurstLimit = defaults.BurstLimit
	}
	if config.BurstWindow == 0 {
		config.BurstWindow = defaults.BurstWindow
	}
	if config.BotAgents == nil {
		config.BotAgents = defaults.BotAgents
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Validator{
		config:   config,
		tokens:   NewTokenStore(config.TokenLength, config.TokenTTL, clk),
		rates:    ratewindow.NewTracker(config.BurstWindow, 6, 10000, clk),
		recorder: recorder,
		clk:      clk,
	}
}

// Tokens exposes the token store for issue/rotate/logout flows.
func (v *Validator) Tokens() *TokenStore {
	return v.tokens
}

// Validate runs the enabled checks against the request. explicitToken,
// when non-empty, takes precedence over header and form token sources.
// Never panics: internal failures yield the fail-secure invalid result.
func (v *Validator) Validate(rc *RequestContext, explicitToken string) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("validator panic, failing secure")
			result = ValidationResult{
				IsValid:          false,
				IsForgeryAttempt: true,
				AttackType:       AttackInternalError,
				Confidence:       1.0,
				Reason:           "internal validation error",
			}
		}
		if !result.IsValid {
			metrics.ValidationFailures.WithLabelValues(string(result.AttackType)).Inc()
			v.logFailure(rc, &result)
		}
	}()

	if rc == nil {
		return ValidationResult{
			IsValid:          false,
			IsForgeryAttempt: true,
			AttackType:       AttackInternalError,
			Confidence:       1.0,
			Reason:           "nil request context",
		}
	}

	// Exempt methods and paths bypass validation entirely.
	if v.isExemptMethod(rc.Method) {
		return ValidationResult{IsValid: true, Reason: "method exempt: " + rc.Method}
	}
	if v.isExemptPath(rc.Path) {
		return ValidationResult{IsValid: true, Reason: "path exempt: " + rc.Path}
	}

	// Track the request rate regardless of outcome; the burst heuristic
	// below reads the same window.
	v.rates.Record(rc.Actor.Key())

	outcomes := v.runChecks(rc, explicitToken)

	result = v.resolve(outcomes)
	if !result.IsValid {
		return result
	}

	// Suspicious-pattern heuristic: downgrades an otherwise-valid
	// request. Independent of the check policy above.
	if reason := v.suspiciousPattern(rc); reason != "" {
		return ValidationResult{
			IsValid:      false,
			AttackType:   AttackSuspicious,
			Confidence:   0.6,
			Reason:       reason,
			PassedChecks: result.PassedChecks,
			FailedChecks: result.FailedChecks,
		}
	}

	return result
}

// runChecks evaluates every enabled check independently.
func (v *Validator) runChecks(rc *RequestContext, explicitToken string) []checkOutcome {
	var outcomes []checkOutcome

	if v.config.SyncTokenCheck {
		outcomes = append(outcomes, v.checkSyncToken(rc, explicitToken))
	}
	if v.config.DoubleSubmitCheck {
		outcomes = append(outcomes, v.checkDoubleSubmit(rc))
	}
	if v.config.OriginCheck {
		outcomes = append(outcomes, v.checkOrigin(rc))
	}
	if v.config.ReferrerCheck {
		outcomes = append(outcomes, v.checkReferrer(rc))
	}
	if v.config.CustomHeaderCheck {
		outcomes = append(outcomes, v.checkCustomHeader(rc))
	}

	return outcomes
}

// checkSyncToken validates the synchronizer token from the explicit
// argument, header, or form body against the session's stored token.
func (v *Validator) checkSyncToken(rc *RequestContext, explicitToken string) checkOutcome {
	out := checkOutcome{name: "sync_token"}

	token := explicitToken
	if token == "" {
		token = rc.Header(v.config.TokenHeader)
	}
	if token == "" && rc.Form != nil {
		token = rc.Form[v.config.TokenFormField]
	}
	if token == "" {
		out.attack = AttackMissingToken
		out.confidence = 0.7
		out.detail = "no synchronizer token supplied"
		return out
	}

	err := v.tokens.Validate(rc.Actor.SessionID, token)
	switch {
	case err == nil:
		out.passed = true
	case errors.Is(err, ErrTokenExpired):
		out.attack = AttackExpiredToken
		out.confidence = 0.8
		out.detail = "synchronizer token expired"
	case errors.Is(err, ErrTokenMissing):
		out.attack = AttackMissingToken
		out.confidence = 0.7
		out.detail = "no token issued for session"
	default:
		out.attack = AttackInvalidToken
		out.confidence = 0.8
		out.detail = "synchronizer token mismatch"
	}
	return out
}

// checkDoubleSubmit requires the cookie and header token to both be
// present and equal.
func (v *Validator) checkDoubleSubmit(rc *RequestContext) checkOutcome {
	out := checkOutcome{name: "double_submit"}

	cookie := rc.Cookie(v.config.CookieName)
	header := rc.Header(v.config.TokenHeader)

	if cookie == "" || header == "" {
		out.attack = AttackAjaxRequest
		out.confidence = 0.6
		out.detail = "double-submit pair incomplete"
		return out
	}
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		out.attack = AttackAjaxRequest
		out.confidence = 0.7
		out.detail = "double-submit values differ"
		return out
	}

	out.passed = true
	return out
}

// checkOrigin validates the Origin header against the allow-list. A
// missing Origin on a state-changing request is itself a finding.
func (v *Validator) checkOrigin(rc *RequestContext) checkOutcome {
	out := checkOutcome{name: "origin"}

	if rc.Origin == "" {
		out.attack = AttackCrossOrigin
		out.confidence = 0.5
		out.detail = "missing Origin header"
		return out
	}

	for _, allowed := range v.config.AllowedOrigins {
		if strings.EqualFold(rc.Origin, allowed) {
			out.passed = true
			return out
		}
	}

	out.attack = AttackCrossOrigin
	out.confidence = 0.6
	out.detail = "origin not in allow-list: " + rc.Origin
	return out
}

// checkReferrer validates the Referer header against prefix allow-list.
func (v *Validator) checkReferrer(rc *RequestContext) checkOutcome {
	out := checkOutcome{name: "referrer"}

	if rc.Referrer == "" {
		out.attack = AttackInvalidRef
		out.confidence = 0.4
		out.detail = "missing Referer header"
		return out
	}

	for _, allowed := range v.config.AllowedReferrers {
		if strings.HasPrefix(rc.Referrer, allowed) {
			out.passed = true
			return out
		}
	}

	out.attack = AttackInvalidRef
	out.confidence = 0.5
	out.detail = "referrer not in allow-list"
	return out
}

// checkCustomHeader requires the configured header to be present, and to
// match the configured value when one is set.
func (v *Validator) checkCustomHeader(rc *RequestContext) checkOutcome {
	out := checkOutcome{name: "custom_header"}

	value := rc.Header(v.config.CustomHeaderName)
	if value == "" {
		out.attack = AttackMissingHeader
		out.confidence = 0.5
		out.detail = "missing " + v.config.CustomHeaderName
		return out
	}
	if v.config.CustomHeaderValue != "" && value != v.config.CustomHeaderValue {
		out.attack = AttackMissingHeader
		out.confidence = 0.5
		out.detail = "unexpected " + v.config.CustomHeaderName + " value"
		return out
	}

	out.passed = true
	return out
}

// resolve applies the at-least-one-passes policy to check outcomes.
func (v *Validator) resolve(outcomes []checkOutcome) ValidationResult {
	result := ValidationResult{}

	for _, out := range outcomes {
		if out.passed {
			result.PassedChecks = append(result.PassedChecks, out.name)
		} else {
			result.FailedChecks = append(result.FailedChecks, out.name)
		}
	}

	if len(result.PassedChecks) > 0 {
		result.IsValid = true
		result.Reason = "passed: " + strings.Join(result.PassedChecks, ", ")
		return result
	}

	// Zero passing checks: invalid, classified by the richest failure.
	result.IsForgeryAttempt = true
	var reasons []string
	for _, out := range outcomes {
		if out.passed {
			continue
		}
		if attackRichness[out.attack] > attackRichness[result.AttackType] {
			result.AttackType = out.attack
		}
		if out.confidence > result.Confidence {
			result.Confidence = out.confidence
		}
		reasons = append(reasons, out.detail)
	}
	if result.AttackType == "" {
		// No checks were enabled at all; fail secure.
		result.AttackType = AttackInternalError
		result.Confidence = 1.0
		reasons = append(reasons, "no validation checks enabled")
	}
	result.Reason = strings.Join(reasons, "; ")
	return result
}

// suspiciousPattern returns a non-empty reason when the request matches
// any of the bot/burst/content-type heuristics.
func (v *Validator) suspiciousPattern(rc *RequestContext) string {
	ua := strings.ToLower(rc.UserAgent)
	for _, bot := range v.config.BotAgents {
		if strings.Contains(ua, bot) {
			return "bot-like user agent"
		}
	}

	if actor := rc.Actor.Key(); actor != "" {
		if v.rates.Count(actor) > int64(v.config.BurstLimit) {
			return "request burst exceeds limit"
		}
	}

	if strings.EqualFold(rc.Method, "POST") && rc.Header("Content-Type") == "" {
		return "POST without content type"
	}

	return ""
}

// logFailure writes a HIGH-severity event for the failed validation.
func (v *Validator) logFailure(rc *RequestContext, result *ValidationResult) {
	if v.recorder == nil || rc == nil {
		return
	}

	eventType := eventlog.EventTypeForgery
	switch result.AttackType {
	case AttackExpiredToken, AttackInvalidToken, AttackMissingToken:
		eventType = eventlog.EventTypeTokenInvalid
	case AttackSuspicious:
		eventType = eventlog.EventTypeSuspicious
	}

	v.recorder.Record(&eventlog.Event{
		Type:        eventType,
		Severity:    eventlog.SeverityHigh,
		Actor:       rc.Actor,
		UserAgent:   rc.UserAgent,
		Resource:    rc.Path,
		RiskScore:   result.Confidence,
		Indicators:  []string{string(result.AttackType)},
		Mitigations: []string{"reject request", "rotate session token"},
	})
}

// isExemptMethod checks the method exempt set.
func (v *Validator) isExemptMethod(method string) bool {
	for _, exempt := range v.config.ExemptMethods {
		if strings.EqualFold(method, exempt) {
			return true
		}
	}
	return false
}

// isExemptPath checks the path prefix exempt list.
func (v *Validator) isExemptPath(path string) bool {
	for _, exempt := range v.config.ExemptPaths {
		if strings.HasPrefix(path, exempt) {
			return true
		}
	}
	return false
}
