// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package api

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/palisade-sec/palisade/internal/classifier"
	"github.com/palisade-sec/palisade/internal/csrf"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
)

// Identity headers set by the authentication collaborator in front of
// this service.
const (
	headerUserID    = "X-Auth-User"
	headerSessionID = "X-Auth-Session"
	headerDeviceID  = "X-Auth-Device"
)

// actorFromRequest assembles the actor identity from auth headers and
// the remote address.
func actorFromRequest(r *http.Request) eventlog.Actor {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return eventlog.Actor{
		UserID:    r.Header.Get(headerUserID),
		SessionID: r.Header.Get(headerSessionID),
		DeviceID:  r.Header.Get(headerDeviceID),
		IPAddress: ip,
	}
}

// ContentInspection classifies request bodies as a passive detection
// step. Findings are recorded through the classifier's event path; the
// request proceeds either way so detection never breaks the
// application. Bodies are restored for the downstream handler.
func (router *Router) ContentInspection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength != 0 && r.URL.Path != "/api/v1/classify" {
			limit := int64(router.classifier.MaxContentLength()) + 1
			body, err := io.ReadAll(io.LimitReader(r.Body, limit))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			router.classifier.Classify(string(body), contentTypeFor(r.Header.Get("Content-Type")))
		}

		next.ServeHTTP(w, r)
	})
}

// contentTypeFor maps an HTTP media type onto a classifier content type.
func contentTypeFor(mediaType string) classifier.ContentType {
	mt := mediaType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mt)) {
	case "text/html":
		return classifier.ContentTypeHTML
	case "application/json":
		return classifier.ContentTypeJSON
	case "text/css":
		return classifier.ContentTypeCSS
	case "application/x-www-form-urlencoded":
		return classifier.ContentTypeURL
	default:
		return classifier.ContentTypeText
	}
}

// RequestLegitimacy validates state-changing requests before they reach
// a handler. Invalid requests are rejected with a generic error; the
// validator logs the event with the specific classification.
func (router *Router) RequestLegitimacy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := csrf.FromHTTPRequest(r, actorFromRequest(r))

		result := router.validator.Validate(rc, "")
		if !result.IsValid {
			logging.Warn().
				Str("path", r.URL.Path).
				Str("attack_type", string(result.AttackType)).
				Float64("confidence", result.Confidence).
				Msg("request rejected")
			writeError(w, http.StatusForbidden, "request failed security validation")
			return
		}

		next.ServeHTTP(w, r)
	})
}
