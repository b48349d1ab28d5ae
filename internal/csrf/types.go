// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package csrf validates state-changing requests against forgery using
// independently togglable checks: synchronizer token, double-submit
// cookie, origin allow-list, referrer allow-list, and custom header.
// The overall policy requires at least one enabled check to pass.
package csrf

import (
	"net/http"
	"net/textproto"
	"time"

	"github.com/palisade-sec/palisade/internal/eventlog"
)

// AttackType classifies a forgery finding.
type AttackType string

const (
	AttackMissingToken  AttackType = "missing_token"
	AttackInvalidToken  AttackType = "invalid_token"
	AttackExpiredToken  AttackType = "expired_token"
	AttackAjaxRequest   AttackType = "ajax_request"
	AttackCrossOrigin   AttackType = "cross_origin"
	AttackInvalidRef    AttackType = "invalid_referrer"
	AttackMissingHeader AttackType = "missing_custom_header"
	AttackSuspicious    AttackType = "suspicious_pattern"
	AttackInternalError AttackType = "internal_error"
)

// attackRichness orders attack types for the zero-passes case: when
// every enabled check fails, the result carries the most specific
// classification available.
var attackRichness = map[AttackType]int{
	AttackExpiredToken:  8,
	AttackInvalidToken:  7,
	AttackMissingToken:  6,
	AttackAjaxRequest:   5,
	AttackCrossOrigin:   4,
	AttackInvalidRef:    3,
	AttackMissingHeader: 2,
	AttackSuspicious:    1,
}

// RequestContext is the validator's view of an intercepted request,
// provided by the HTTP-intercepting collaborator.
type RequestContext struct {
	Method    string
	Path      string
	Headers   map[string]string
	Cookies   map[string]string
	Origin    string
	Referrer  string
	UserAgent string
	Form      map[string]string
	Actor     eventlog.Actor
	Timestamp time.Time
}

// Header returns a header value using canonical MIME key lookup.
func (rc *RequestContext) Header(name string) string {
	if rc.Headers == nil {
		return ""
	}
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	if v, ok := rc.Headers[canonical]; ok {
		return v
	}
	return rc.Headers[name]
}

// Cookie returns a cookie value by name.
func (rc *RequestContext) Cookie(name string) string {
	if rc.Cookies == nil {
		return ""
	}
	return rc.Cookies[name]
}

// FromHTTPRequest builds a RequestContext from an *http.Request.
func FromHTTPRequest(r *http.Request, actor eventlog.Actor) *RequestContext {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	form := make(map[string]string)
	if r.PostForm != nil {
		for name := range r.PostForm {
			form[name] = r.PostForm.Get(name)
		}
	}

	return &RequestContext{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
		Cookies:   cookies,
		Origin:    r.Header.Get("Origin"),
		Referrer:  r.Header.Get("Referer"),
		UserAgent: r.Header.Get("User-Agent"),
		Form:      form,
		Actor:     actor,
		Timestamp: time.Now(),
	}
}

// ValidationResult is the outcome of a single validation call. Derived
// per request; only failures are written to the event log.
type ValidationResult struct {
	// IsValid reports whether the request may proceed.
	IsValid bool `json:"is_valid"`

	// IsForgeryAttempt is set when every enabled check failed.
	IsForgeryAttempt bool `json:"is_forgery_attempt"`

	// AttackType carries the richest classification when invalid.
	AttackType AttackType `json:"attack_type,omitempty"`

	// Confidence in the forgery classification, in [0,1].
	Confidence float64 `json:"confidence"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`

	// PassedChecks and FailedChecks name the checks that ran.
	PassedChecks []string `json:"passed_checks,omitempty"`
	FailedChecks []string `json:"failed_checks,omitempty"`
}

// Config configures the validator. Zero values fall back to defaults in
// NewValidator.
type Config struct {
	// TokenHeader is the header carrying the synchronizer token.
	TokenHeader string `json:"token_header" koanf:"token_header"`

	// TokenFormField is the form field carrying the token.
	TokenFormField string `json:"token_form_field" koanf:"token_form_field"`

	// CookieName is the double-submit cookie name.
	CookieName string `json:"cookie_name" koanf:"cookie_name"`

	// CustomHeaderName is the header checked by the custom-header check.
	CustomHeaderName string `json:"custom_header_name" koanf:"custom_header_name"`

	// CustomHeaderValue, when set, must match exactly. Empty means
	// presence alone passes.
	CustomHeaderValue string `json:"custom_header_value" koanf:"custom_header_value"`

	// TokenLength is the random byte length of generated tokens.
	TokenLength int `json:"token_length" koanf:"token_length" validate:"omitempty,min=16,max=128"`

	// TokenTTL is the token lifetime.
	TokenTTL time.Duration `json:"token_ttl" koanf:"token_ttl"`

	// ExemptMethods bypass validation entirely.
	ExemptMethods []string `json:"exempt_methods" koanf:"exempt_methods"`

	// ExemptPaths are path prefixes that bypass validation.
	ExemptPaths []string `json:"exempt_paths" koanf:"exempt_paths"`

	// AllowedOrigins is the origin allow-list.
	AllowedOrigins []string `json:"allowed_origins" koanf:"allowed_origins"`

	// AllowedReferrers is the referrer prefix allow-list.
	AllowedReferrers []string `json:"allowed_referrers" koanf:"allowed_referrers"`

	// Check toggles.
	SyncTokenCheck    bool `json:"sync_token_check" koanf:"sync_token_check"`
	DoubleSubmitCheck bool `json:"double_submit_check" koanf:"double_submit_check"`
	OriginCheck       bool `json:"origin_check" koanf:"origin_check"`
	// ReferrerCheck is disabled by default: the header is stripped by
	// proxies and privacy tooling often enough to be unreliable.
	ReferrerCheck     bool `json:"referrer_check" koanf:"referrer_check"`
	CustomHeaderCheck bool `json:"custom_header_check" koanf:"custom_header_check"`

	// BurstLimit is the per-actor request count within BurstWindow that
	// trips the suspicious-pattern heuristic.
	BurstLimit  int           `json:"burst_limit" koanf:"burst_limit"`
	BurstWindow time.Duration `json:"burst_window" koanf:"burst_window"`

	// BotAgents are user-agent substrings treated as bot-like.
	BotAgents []string `json:"bot_agents" koanf:"bot_agents"`
}

// DefaultConfig returns the default validation policy.
func DefaultConfig() Config {
	return Config{
		TokenHeader:       "X-CSRF-Token",
		TokenFormField:    "csrf_token",
		CookieName:        "_csrf",
		CustomHeaderName:  "X-Requested-With",
		TokenLength:       32,
		TokenTTL:          24 * time.Hour,
		ExemptMethods:     []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		ExemptPaths:       nil,
		SyncTokenCheck:    true,
		DoubleSubmitCheck: true,
		OriginCheck:       true,
		ReferrerCheck:     false,
		CustomHeaderCheck: false,
		BurstLimit:        10,
		BurstWindow:       60 * time.Second,
		BotAgents:         []string{"curl", "wget", "python-requests", "bot", "spider", "scrapy", "httpclient"},
	}
}
