package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joss/buildlab/internal/domain"
)

func TestMetricsGlobal(t *testing.T) {
	m1 := Global()
	m2 := Global()

	if m1 != m2 {
		t.Error("Global() should return same instance")
	}
}

func TestRecordOutcome(t *testing.T) {
	m := New()

	m.RecordOutcome(domain.KindNone, 120)
	m.RecordOutcome(domain.KindEmptyQuery, 0)
	m.RecordOutcome(domain.KindConcurrentSubmission, 0)
	m.RecordOutcome(domain.KindGenerationFailed, 0)
	m.RecordOutcome(domain.KindMalformedResponse, 0)
	m.RecordOutcome(domain.KindMalformedResponse, 0)

	if m.TurnsAppended.Load() != 1 {
		t.Errorf("expected 1 turn, got %d", m.TurnsAppended.Load())
	}
	if m.LastTurnLatencyMs.Load() != 120 {
		t.Errorf("expected latency 120, got %d", m.LastTurnLatencyMs.Load())
	}
	if m.EmptyQueries.Load() != 1 || m.ConcurrentRefusals.Load() != 1 || m.GenerationFailures.Load() != 1 {
		t.Error("expected one of each refusal and failure")
	}
	if m.MalformedResponses.Load() != 2 {
		t.Errorf("expected 2 malformed, got %d", m.MalformedResponses.Load())
	}
}

func TestRecordSessionAndSave(t *testing.T) {
	m := New()

	m.RecordSession(true)
	m.RecordSession(true)
	m.RecordSession(false)
	m.RecordSave(true)
	m.RecordSave(false)

	if m.SessionsOpened.Load() != 2 || m.SessionsClosed.Load() != 1 {
		t.Errorf("sessions: opened %d closed %d", m.SessionsOpened.Load(), m.SessionsClosed.Load())
	}
	if m.ProjectSaves.Load() != 2 || m.ProjectSaveErrors.Load() != 1 {
		t.Errorf("saves: %d errors %d", m.ProjectSaves.Load(), m.ProjectSaveErrors.Load())
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSubmit()
	m.RecordOutcome(domain.KindNone, 42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler()(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	for _, want := range []string{
		"# TYPE buildlab_uptime_seconds gauge",
		"buildlab_submits_total 1",
		"buildlab_turns_appended_total 1",
		"buildlab_last_turn_latency_ms 42",
		"buildlab_generation_failures_total 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
