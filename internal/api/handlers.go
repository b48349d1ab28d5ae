// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/palisade-sec/palisade/internal/alerting"
	"github.com/palisade-sec/palisade/internal/classifier"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
)

// writeJSON serializes the payload with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Err(err).Msg("response encode failed")
	}
}

// writeError sends a generic JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"events":    router.log.Len(),
		"alerts":    router.alerts.Len(),
		"baselines": router.scorer.Baselines().Len(),
	})
}

// eventFilterFromQuery reads filter params from the URL query.
func eventFilterFromQuery(r *http.Request) eventlog.Filter {
	q := r.URL.Query()
	f := eventlog.Filter{
		ActorKey:      q.Get("actor"),
		CorrelationID: q.Get("correlation_id"),
		MinSeverity:   eventlog.Severity(q.Get("min_severity")),
		OrderDesc:     true,
	}
	if t := q.Get("type"); t != "" {
		f.Types = []eventlog.EventType{eventlog.EventType(t)}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		f.Offset = offset
	}
	if since, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		f.Since = &since
	}
	return f
}

func (router *Router) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := router.log.Query(eventFilterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (router *Router) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	f := eventFilterFromQuery(r)

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
		if err := router.log.ExportCSV(w, f); err != nil {
			logging.Err(err).Msg("csv export failed")
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := router.log.ExportJSON(w, f); err != nil {
			logging.Err(err).Msg("json export failed")
		}
	}
}

func (router *Router) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	active := router.alerts.ListActive()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": active,
		"count":  len(active),
	})
}

func (router *Router) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := router.alerts.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (router *Router) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By string `json:"by"`
	}
	// Body is optional; a missing acknowledger is recorded as empty.
	_ = json.NewDecoder(r.Body).Decode(&body)

	router.alertTransition(w, r, func(id string) error {
		return router.alerts.Acknowledge(id, body.By)
	})
}

func (router *Router) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	router.alertTransition(w, r, router.alerts.Resolve)
}

func (router *Router) handleFalsePositiveAlert(w http.ResponseWriter, r *http.Request) {
	router.alertTransition(w, r, router.alerts.MarkFalsePositive)
}

func (router *Router) alertTransition(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(id); err != nil {
		switch {
		case errors.Is(err, alerting.ErrAlertNotFound):
			writeError(w, http.StatusNotFound, "alert not found")
		case errors.Is(err, alerting.ErrTerminalStatus):
			writeError(w, http.StatusConflict, "alert status is terminal")
		default:
			writeError(w, http.StatusInternalServerError, "transition failed")
		}
		return
	}

	alert, err := router.alerts.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (router *Router) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session identity required")
		return
	}

	token, err := router.validator.Tokens().Issue(actor.SessionID, r.Header.Get("Origin"))
	if err != nil {
		logging.Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token.Value,
		"expires_at": token.ExpiresAt,
	})
}

func (router *Router) handleClassify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content     string                 `json:"content"`
		ContentType classifier.ContentType `json:"content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.ContentType == "" {
		body.ContentType = classifier.ContentTypeText
	}

	finding := router.classifier.Classify(body.Content, body.ContentType)
	writeJSON(w, http.StatusOK, finding)
}
