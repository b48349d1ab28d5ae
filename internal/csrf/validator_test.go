// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package csrf

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/eventlog"
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

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureRecorder) last() *eventlog.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func testValidator(t *testing.T, config Config) (*Validator, *captureRecorder, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &captureRecorder{}
	return NewValidator(config, rec, clk), rec, clk
}

func postContext(sessionID string) *RequestContext {
	return &RequestContext{
		Method:    "POST",
		Path:      "/account/update",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Cookies:   map[string]string{},
		UserAgent: "Mozilla/5.0",
		Actor:     eventlog.Actor{SessionID: sessionID, IPAddress: "203.0.113.9"},
	}
}

func TestValidator_ExemptMethod(t *testing.T) {
	v, rec, _ := testValidator(t, DefaultConfig())

	rc := postContext("sess-1")
	rc.Method = "GET"

	result := v.Validate(rc, "")
	if !result.IsValid {
		t.Fatalf("GET should be exempt: %+v", result)
	}
	if rec.count() != 0 {
		t.Fatalf("exempt request logged %d events", rec.count())
	}
}

func TestValidator_ExemptPath(t *testing.T) {
	config := DefaultConfig()
	config.ExemptPaths = []string{"/healthz"}
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Path = "/healthz"

	if result := v.Validate(rc, ""); !result.IsValid {
		t.Fatalf("exempt path rejected: %+v", result)
	}
}

// A valid header token satisfies the synchronizer check, and the
// one-check-passes policy accepts the request even though the
// double-submit cookie is absent.
func TestValidator_HeaderTokenWithoutCookie(t *testing.T) {
	v, rec, _ := testValidator(t, DefaultConfig())

	tok, err := v.Tokens().Issue("sess-1", "https://app.example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rc := postContext("sess-1")
	rc.Headers["X-CSRF-Token"] = tok.Value
	rc.Origin = "https://evil.example.net"

	result := v.Validate(rc, "")
	if !result.IsValid {
		t.Fatalf("want valid, got %+v", result)
	}
	if len(result.PassedChecks) == 0 || result.PassedChecks[0] != "sync_token" {
		t.Fatalf("PassedChecks = %v, want sync_token first", result.PassedChecks)
	}
	if rec.count() != 0 {
		t.Fatalf("valid request logged %d events", rec.count())
	}
}

func TestValidator_ExplicitTokenPrecedence(t *testing.T) {
	v, _, _ := testValidator(t, DefaultConfig())

	tok, err := v.Tokens().Issue("sess-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rc := postContext("sess-1")
	rc.Headers["X-CSRF-Token"] = "stale-header-value"

	if result := v.Validate(rc, tok.Value); !result.IsValid {
		t.Fatalf("explicit token ignored: %+v", result)
	}
}

// Mismatched double-submit values are a deliberate forgery signal, not
// just an incomplete pair.
func TestValidator_DoubleSubmitMismatch(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.OriginCheck = false
	v, rec, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Cookies["_csrf"] = "cookie-value"
	rc.Headers["X-CSRF-Token"] = "different-value"

	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("mismatched double-submit accepted")
	}
	if result.AttackType != AttackAjaxRequest {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackAjaxRequest)
	}
	if result.Confidence < 0.6 {
		t.Fatalf("Confidence = %.2f, want >= 0.6", result.Confidence)
	}
	if !result.IsForgeryAttempt {
		t.Fatal("IsForgeryAttempt not set")
	}
	if rec.count() != 1 {
		t.Fatalf("logged %d events, want 1", rec.count())
	}
}

func TestValidator_DoubleSubmitMatch(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.OriginCheck = false
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Cookies["_csrf"] = "same-value"
	rc.Headers["X-CSRF-Token"] = "same-value"

	if result := v.Validate(rc, ""); !result.IsValid {
		t.Fatalf("matched double-submit rejected: %+v", result)
	}
}

func TestValidator_OriginAllowList(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.AllowedOrigins = []string{"https://app.example.com"}
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Origin = "https://app.example.com"
	if result := v.Validate(rc, ""); !result.IsValid {
		t.Fatalf("allowed origin rejected: %+v", result)
	}

	rc = postContext("sess-2")
	rc.Origin = "https://evil.example.net"
	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("disallowed origin accepted")
	}
	if result.AttackType != AttackCrossOrigin {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackCrossOrigin)
	}
}

func TestValidator_RichestAttackWins(t *testing.T) {
	// Sync token expired and origin disallowed: the token failure is
	// the more specific classification.
	config := DefaultConfig()
	config.AllowedOrigins = []string{"https://app.example.com"}
	v, _, clk := testValidator(t, config)

	tok, err := v.Tokens().Issue("sess-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clk.Advance(config.TokenTTL + time.Minute)

	rc := postContext("sess-1")
	rc.Headers["X-CSRF-Token"] = tok.Value
	rc.Origin = "https://evil.example.net"

	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("expected invalid result")
	}
	if result.AttackType != AttackExpiredToken {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackExpiredToken)
	}
	if result.Confidence != 0.8 {
		t.Fatalf("Confidence = %.2f, want 0.8", result.Confidence)
	}
}

func TestValidator_ReferrerCheckOffByDefault(t *testing.T) {
	config := DefaultConfig()
	if config.ReferrerCheck {
		t.Fatal("referrer check should default to disabled")
	}
}

func TestValidator_ReferrerPrefix(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	config.ReferrerCheck = true
	config.AllowedReferrers = []string{"https://app.example.com/"}
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Referrer = "https://app.example.com/settings"
	if result := v.Validate(rc, ""); !result.IsValid {
		t.Fatalf("allowed referrer rejected: %+v", result)
	}

	rc = postContext("sess-2")
	rc.Referrer = "https://phish.example.net/app.example.com/"
	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("lookalike referrer accepted")
	}
	if result.AttackType != AttackInvalidRef {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackInvalidRef)
	}
}

func TestValidator_CustomHeader(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	config.CustomHeaderCheck = true
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("missing custom header accepted")
	}
	if result.AttackType != AttackMissingHeader {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackMissingHeader)
	}

	rc = postContext("sess-2")
	rc.Headers["X-Requested-With"] = "XMLHttpRequest"
	if result := v.Validate(rc, ""); !result.IsValid {
		t.Fatalf("present custom header rejected: %+v", result)
	}
}

func TestValidator_SuspiciousBotAgent(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	config.CustomHeaderCheck = true
	v, rec, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Headers["X-Requested-With"] = "XMLHttpRequest"
	rc.UserAgent = "curl/8.5.0"

	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("bot agent accepted despite passing checks")
	}
	if result.AttackType != AttackSuspicious {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackSuspicious)
	}
	if result.Confidence != 0.6 {
		t.Fatalf("Confidence = %.2f, want 0.6", result.Confidence)
	}
	if result.IsForgeryAttempt {
		t.Fatal("suspicious downgrade should not flag forgery")
	}
	if ev := rec.last(); ev == nil || ev.Type != eventlog.EventTypeSuspicious {
		t.Fatalf("expected suspicious event, got %+v", ev)
	}
}

func TestValidator_SuspiciousBurst(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	config.CustomHeaderCheck = true
	config.BurstLimit = 3
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Headers["X-Requested-With"] = "XMLHttpRequest"

	var last ValidationResult
	for i := 0; i < 6; i++ {
		last = v.Validate(rc, "")
	}
	if last.IsValid {
		t.Fatal("burst traffic still accepted")
	}
	if last.AttackType != AttackSuspicious {
		t.Fatalf("AttackType = %q, want %q", last.AttackType, AttackSuspicious)
	}
}

func TestValidator_SuspiciousPostWithoutContentType(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	config.CustomHeaderCheck = true
	v, _, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Headers = map[string]string{"X-Requested-With": "XMLHttpRequest"}

	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("POST without content type accepted")
	}
	if result.AttackType != AttackSuspicious {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackSuspicious)
	}
}

func TestValidator_TokenFailureLogsTokenEvent(t *testing.T) {
	config := DefaultConfig()
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	v, rec, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Headers["X-CSRF-Token"] = "forged"

	result := v.Validate(rc, "")
	if result.IsValid {
		t.Fatal("forged token accepted")
	}

	ev := rec.last()
	if ev == nil {
		t.Fatal("no event logged")
	}
	if ev.Type != eventlog.EventTypeTokenInvalid {
		t.Fatalf("event type = %q, want %q", ev.Type, eventlog.EventTypeTokenInvalid)
	}
	if ev.Severity != eventlog.SeverityHigh {
		t.Fatalf("severity = %q, want %q", ev.Severity, eventlog.SeverityHigh)
	}
	if len(ev.Indicators) == 0 || !strings.Contains(ev.Indicators[0], "token") {
		t.Fatalf("Indicators = %v", ev.Indicators)
	}
}

func TestValidator_ForgeryLogsForgeryEvent(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	v, rec, _ := testValidator(t, config)

	rc := postContext("sess-1")
	rc.Origin = "https://evil.example.net"

	if result := v.Validate(rc, ""); result.IsValid {
		t.Fatal("cross-origin request accepted")
	}
	if ev := rec.last(); ev == nil || ev.Type != eventlog.EventTypeForgery {
		t.Fatalf("expected forgery event, got %+v", ev)
	}
}

func TestValidator_NilContext(t *testing.T) {
	v, _, _ := testValidator(t, DefaultConfig())

	result := v.Validate(nil, "")
	if result.IsValid {
		t.Fatal("nil context accepted")
	}
	if result.AttackType != AttackInternalError {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackInternalError)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("Confidence = %.2f, want 1.0", result.Confidence)
	}
}

func TestValidator_NoChecksEnabled(t *testing.T) {
	config := DefaultConfig()
	config.SyncTokenCheck = false
	config.DoubleSubmitCheck = false
	config.OriginCheck = false
	v, _, _ := testValidator(t, config)

	result := v.Validate(postContext("sess-1"), "")
	if result.IsValid {
		t.Fatal("request accepted with no checks enabled")
	}
	if result.AttackType != AttackInternalError {
		t.Fatalf("AttackType = %q, want %q", result.AttackType, AttackInternalError)
	}
}

func TestRequestContext_HeaderCanonical(t *testing.T) {
	rc := &RequestContext{Headers: map[string]string{"X-Csrf-Token": "abc"}}
	if got := rc.Header("x-csrf-token"); got != "abc" {
		t.Fatalf("Header = %q, want abc", got)
	}
}
