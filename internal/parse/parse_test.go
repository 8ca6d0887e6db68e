package parse

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/buildlab/internal/domain"
)

func TestParseProject(t *testing.T) {
	raw := `{
		"projectTitle": "Todo",
		"explanation": "A todo list",
		"files": {
			"/App.js": {"code": "export default App"},
			"/Button.js": {"code": "<button/>"}
		},
		"generatedFiles": ["/App.js", "/Button.js"]
	}`

	got, err := Parse(raw, domain.ModeProject)
	require.NoError(t, err)

	want := &domain.ProjectResult{
		ProjectTitle: "Todo",
		Explanation:  "A todo list",
		Files: map[string]domain.FileEntry{
			"/App.js":    {Code: "export default App"},
			"/Button.js": {Code: "<button/>"},
		},
		GeneratedFiles: []string{"/App.js", "/Button.js"},
	}
	if diff := cmp.Diff(domain.GenerationResult(want), got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProjectDefaultsOptionalFields(t *testing.T) {
	got, err := Parse(`{"explanation":"only this"}`, domain.ModeProject)
	require.NoError(t, err)

	pr := got.(*domain.ProjectResult)
	assert.Equal(t, "", pr.ProjectTitle)
	assert.Empty(t, pr.Files)
	assert.NotNil(t, pr.Files)
	assert.Empty(t, pr.GeneratedFiles)
}

func TestParseProjectDropsMalformedFileEntries(t *testing.T) {
	raw := `{
		"explanation": "e",
		"files": {
			"/ok.js": {"code": "ok"},
			"/number.js": {"code": 42},
			"/missing.js": {"content": "wrong key"},
			"/null.js": {"code": null},
			"/string.js": "not an object"
		},
		"generatedFiles": ["/ok.js", 7, null]
	}`

	got, err := Parse(raw, domain.ModeProject)
	require.NoError(t, err)

	pr := got.(*domain.ProjectResult)
	assert.Equal(t, map[string]domain.FileEntry{"/ok.js": {Code: "ok"}}, pr.Files)
	assert.Equal(t, []string{"/ok.js"}, pr.GeneratedFiles)
}

func TestParseAnswer(t *testing.T) {
	raw := `{
		"text": "Use sync.WaitGroup",
		"resources": ["https://pkg.go.dev/sync", "https://go.dev/blog", 3],
		"files": [
			{"name": "main.go", "content": "package main"},
			{"name": "broken.go"},
			"junk"
		]
	}`

	got, err := Parse(raw, domain.ModeAnswer)
	require.NoError(t, err)

	ar, ok := got.(*domain.AnswerResult)
	require.True(t, ok)
	assert.Equal(t, "Use sync.WaitGroup", ar.Text)
	assert.Equal(t, []string{"https://pkg.go.dev/sync", "https://go.dev/blog"}, ar.Resources)
	assert.Equal(t, []domain.AnswerFile{{Name: "main.go", Content: "package main"}}, ar.Files)
}

func TestParseStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"text\": \"fenced\"}\n```"
	got, err := Parse(raw, domain.ModeAnswer)
	require.NoError(t, err)
	assert.Equal(t, "fenced", got.Summary())
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		mode domain.Mode
	}{
		{"not json", "Sure! Here is your project:", domain.ModeProject},
		{"empty", "   ", domain.ModeProject},
		{"truncated", `{"explanation": "cut off`, domain.ModeProject},
		{"array top level", `[{"explanation":"x"}]`, domain.ModeProject},
		{"null top level", `null`, domain.ModeAnswer},
		{"trailing data", `{"text":"a"} {"text":"b"}`, domain.ModeAnswer},
		{"trailing brace", `{"explanation":"e"}}`, domain.ModeProject},
		{"trailing bracket", `{"explanation":"e"}]`, domain.ModeProject},
		{"trailing word", `{"explanation":"e"} x`, domain.ModeProject},
		{"missing explanation", `{"projectTitle":"t","files":{}}`, domain.ModeProject},
		{"blank explanation", `{"explanation":"  "}`, domain.ModeProject},
		{"explanation wrong type", `{"explanation": 12}`, domain.ModeProject},
		{"files wrong type", `{"explanation":"e","files":["/a.js"]}`, domain.ModeProject},
		{"title wrong type", `{"explanation":"e","projectTitle":{}}`, domain.ModeProject},
		{"missing text", `{"resources":[]}`, domain.ModeAnswer},
		{"answer sent to project parser", `{"text":"hello"}`, domain.ModeProject},
		{"resources wrong type", `{"text":"t","resources":"https://x"}`, domain.ModeAnswer},
		{"answer files wrong type", `{"text":"t","files":{"a":"b"}}`, domain.ModeAnswer},
		{"unknown mode", `{"text":"t"}`, domain.Mode("poem")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, tt.mode)
			assert.Nil(t, got, "no partial result on failure")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
			assert.False(t, errors.Is(err, domain.ErrGenerationFailed))
			assert.Equal(t, domain.KindMalformedResponse, domain.Classify(err))
		})
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```\n{\"a\":1}\n```":       `{"a":1}`,
		"  ```json\n{\"a\":1}```  ": `{"a":1}`,
		"```":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripFence(in), "input %q", in)
	}
}
