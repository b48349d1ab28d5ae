// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// csvHeader is the column order for CSV exports. Compliance tooling
// parses this layout; keep it stable.
var csvHeader = []string{
	"id", "timestamp", "type", "severity",
	"user_id", "session_id", "device_id", "ip_address",
	"resource", "risk_score", "indicators", "correlation_id",
}

// ExportJSON writes events matching the filter to w as a JSON array.
func (l *Log) ExportJSON(w io.Writer, f Filter) error {
	events := l.Query(f)

	enc := json.NewEncoder(w)
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return nil
}

// ExportCSV writes events matching the filter to w as CSV with a header
// row. Indicator tags are joined with "|" inside their column.
func (l *Log) ExportCSV(w io.Writer, f Filter) error {
	events := l.Query(f)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := range events {
		e := &events[i]
		record := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Type),
			string(e.Severity),
			e.Actor.UserID,
			e.Actor.SessionID,
			e.Actor.DeviceID,
			e.Actor.IPAddress,
			e.Resource,
			strconv.FormatFloat(e.RiskScore, 'f', -1, 64),
			strings.Join(e.Indicators, "|"),
			e.CorrelationID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write event %s: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
