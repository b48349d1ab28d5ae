// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package api exposes the HTTP surface: event queries and exports,
// alert lifecycle operations, token issuance, on-demand classification,
// and Prometheus metrics. State-changing routes pass through the
// request legitimacy middleware. Token issuance is the one exception:
// it authenticates by the session identity header alone, so a fresh
// session can obtain its first synchronizer token.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palisade-sec/palisade/internal/alerting"
	"github.com/palisade-sec/palisade/internal/anomaly"
	"github.com/palisade-sec/palisade/internal/classifier"
	"github.com/palisade-sec/palisade/internal/csrf"
	"github.com/palisade-sec/palisade/internal/eventlog"
)

// Router wires the pipeline services into HTTP handlers.
type Router struct {
	log        *eventlog.Log
	recorder   *eventlog.Recorder
	classifier *classifier.Classifier
	validator  *csrf.Validator
	scorer     *anomaly.Scorer
	alerts     *alerting.Manager
}

// NewRouter creates a router over the pipeline services.
func NewRouter(
	log *eventlog.Log,
	recorder *eventlog.Recorder,
	cls *classifier.Classifier,
	validator *csrf.Validator,
	scorer *anomaly.Scorer,
	alerts *alerting.Manager,
) *Router {
	return &Router{
		log:        log,
		recorder:   recorder,
		classifier: cls,
		validator:  validator,
		scorer:     scorer,
		alerts:     alerts,
	}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/v1/health", router.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.ContentInspection)

		// Bootstrap: a session's first synchronizer token cannot be
		// gated on already holding one. Identity comes from the auth
		// collaborator's session header.
		r.Post("/tokens", router.handleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(router.RequestLegitimacy)

			r.Get("/events", router.handleListEvents)
			r.Get("/events/export", router.handleExportEvents)

			r.Get("/alerts", router.handleListAlerts)
			r.Get("/alerts/{id}", router.handleGetAlert)
			r.Post("/alerts/{id}/acknowledge", router.handleAcknowledgeAlert)
			r.Post("/alerts/{id}/resolve", router.handleResolveAlert)
			r.Post("/alerts/{id}/false-positive", router.handleFalsePositiveAlert)

			r.Post("/classify", router.handleClassify)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
