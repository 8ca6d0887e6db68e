// Package testutil provides common test helpers and utilities.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/pkg/llm"
)

// WriteFile creates a file with the given content under dir, creating
// parent directories as needed.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ReadFile reads the content of a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// Response is one scripted reply of a MockProvider.
type Response struct {
	Text string
	Err  error
}

// Text scripts a successful reply.
func Text(s string) Response { return Response{Text: s} }

// Fail scripts a failed call.
func Fail(err error) Response { return Response{Err: err} }

// Call records one Generate invocation.
type Call struct {
	Prompt    string
	Config    llm.GenerateConfig
	RequestID string
}

// ErrNoResponse is returned once a MockProvider runs out of scripted replies.
var ErrNoResponse = errors.New("mock: no response scripted")

// MockProvider replays scripted responses in order. Block holds every
// later call until Release, which lets tests observe the in-flight state.
type MockProvider struct {
	mu        sync.Mutex
	responses []Response
	calls     []Call
	gate      chan struct{}
}

func NewMockProvider(responses ...Response) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) ID() string   { return "mock" }
func (m *MockProvider) Name() string { return "Mock" }

func (m *MockProvider) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig) (string, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, Call{Prompt: prompt, Config: cfg, RequestID: logging.GetRequestID(ctx)})
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if idx >= len(m.responses) {
		return "", ErrNoResponse
	}
	r := m.responses[idx]
	return r.Text, r.Err
}

// Block makes calls wait until Release or cancellation.
func (m *MockProvider) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release lets blocked calls return.
func (m *MockProvider) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// ProjectJSON renders a project-mode reply.
func ProjectJSON(title, explanation string, files map[string]string) string {
	entries := make(map[string]map[string]string, len(files))
	generated := make([]string, 0, len(files))
	for path, code := range files {
		entries[path] = map[string]string{"code": code}
		generated = append(generated, path)
	}
	data, _ := json.Marshal(map[string]any{
		"projectTitle":   title,
		"explanation":    explanation,
		"files":          entries,
		"generatedFiles": generated,
	})
	return string(data)
}

// AnswerJSON renders an answer-mode reply.
func AnswerJSON(text string, resources ...string) string {
	if resources == nil {
		resources = []string{}
	}
	data, _ := json.Marshal(map[string]any{
		"text":      text,
		"resources": resources,
		"files":     []any{},
	})
	return string(data)
}
