// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigrun_chat_turns_total",
		Help: "Total number of finished turns by outcome",
	}, []string{"outcome"})

	activeTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigrun_chat_active_turns",
		Help: "Number of turns currently in progress",
	})

	// Tool metrics
	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigrun_chat_tool_executions_total",
		Help: "Total number of tool executions",
	}, []string{"tool", "success"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rigrun_chat_tool_duration_seconds",
		Help:    "Tool execution latency in seconds",
		Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"tool"})

	// Stream metrics
	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rigrun_chat_stream_duration_seconds",
		Help:    "Duration of one streamed model response in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	skippedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rigrun_chat_stream_skipped_lines_total",
		Help: "Total number of stream lines discarded because they did not decode",
	})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigrun_chat_tokens_total",
		Help: "Total tokens reported by the inference server",
	}, []string{"kind"})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigrun_chat_http_requests_total",
		Help: "Total HTTP requests served",
	}, []string{"route", "code"})
)

// TurnStarted marks a turn as in progress.
func TurnStarted() {
	activeTurns.Inc()
}

// TurnFinished records the outcome of a turn and marks it done.
func TurnFinished(outcome string) {
	activeTurns.Dec()
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordToolExecution records one tool run.
func RecordToolExecution(tool string, success bool, duration time.Duration) {
	toolExecutions.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordStream records one streamed response.
func RecordStream(duration time.Duration, skipped int64) {
	streamDuration.Observe(duration.Seconds())
	if skipped > 0 {
		skippedLines.Add(float64(skipped))
	}
}

// RecordTokens records the token counts of a finished stream.
func RecordTokens(prompt, completion int) {
	if prompt > 0 {
		tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		tokensTotal.WithLabelValues("completion").Add(float64(completion))
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
