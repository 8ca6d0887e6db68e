// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/buildlab/internal/domain"
)

// Metrics holds runtime counters for the HTTP server.
type Metrics struct {
	// Sessions
	SessionsOpened atomic.Int64
	SessionsClosed atomic.Int64

	// Submissions, by outcome
	Submits            atomic.Int64
	EmptyQueries       atomic.Int64
	ConcurrentRefusals atomic.Int64
	GenerationFailures atomic.Int64
	MalformedResponses atomic.Int64
	TurnsAppended      atomic.Int64

	// Project store
	ProjectSaves      atomic.Int64
	ProjectSaveErrors atomic.Int64

	// Latency of the last appended turn
	LastTurnLatencyMs atomic.Int64

	startTime time.Time
}

// New returns zeroed metrics starting now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// RecordSession records a session being opened or closed.
func (m *Metrics) RecordSession(opened bool) {
	if opened {
		m.SessionsOpened.Add(1)
		return
	}
	m.SessionsClosed.Add(1)
}

// RecordSubmit records one accepted submission.
func (m *Metrics) RecordSubmit() {
	m.Submits.Add(1)
}

// RecordOutcome records a settled submission: a failure of the given kind,
// or an appended turn when kind is domain.KindNone.
func (m *Metrics) RecordOutcome(kind domain.ErrorKind, latencyMs int64) {
	switch kind {
	case domain.KindNone:
		m.TurnsAppended.Add(1)
		m.LastTurnLatencyMs.Store(latencyMs)
	case domain.KindEmptyQuery:
		m.EmptyQueries.Add(1)
	case domain.KindConcurrentSubmission:
		m.ConcurrentRefusals.Add(1)
	case domain.KindGenerationFailed:
		m.GenerationFailures.Add(1)
	case domain.KindMalformedResponse:
		m.MalformedResponses.Add(1)
	}
}

// RecordSave records a project save attempt
func (m *Metrics) RecordSave(success bool) {
	m.ProjectSaves.Add(1)
	if !success {
		m.ProjectSaveErrors.Add(1)
	}
}

func write(w http.ResponseWriter, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP buildlab_%s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE buildlab_%s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "buildlab_%s %.2f\n\n", name, v)
	default:
		fmt.Fprintf(w, "buildlab_%s %v\n\n", name, v)
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		write(w, "uptime_seconds", "gauge", "Time since the server started", time.Since(m.startTime).Seconds())
		write(w, "sessions_opened_total", "counter", "Total sessions opened", m.SessionsOpened.Load())
		write(w, "sessions_closed_total", "counter", "Total sessions closed", m.SessionsClosed.Load())
		write(w, "submits_total", "counter", "Total accepted submissions", m.Submits.Load())
		write(w, "empty_queries_total", "counter", "Submissions refused for an empty query", m.EmptyQueries.Load())
		write(w, "concurrent_refusals_total", "counter", "Submissions refused while a call was in flight", m.ConcurrentRefusals.Load())
		write(w, "generation_failures_total", "counter", "Model calls that failed", m.GenerationFailures.Load())
		write(w, "malformed_responses_total", "counter", "Model replies that failed validation", m.MalformedResponses.Load())
		write(w, "turns_appended_total", "counter", "Turns appended to session histories", m.TurnsAppended.Load())
		write(w, "project_saves_total", "counter", "Project save attempts", m.ProjectSaves.Load())
		write(w, "project_save_errors_total", "counter", "Project save failures", m.ProjectSaveErrors.Load())
		write(w, "last_turn_latency_ms", "gauge", "Latency of the last appended turn", m.LastTurnLatencyMs.Load())
	}
}
