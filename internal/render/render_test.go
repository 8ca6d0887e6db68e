package render

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/session"
)

func projectTurn() domain.Turn {
	return domain.NewTurn("a todo app", &domain.ProjectResult{
		ProjectTitle:   "Todo",
		Explanation:    "Built a todo list",
		Files:          map[string]domain.FileEntry{"/Todo.js": {Code: "export default 1\n"}},
		GeneratedFiles: []string{"/Todo.js"},
	}, 1500*time.Millisecond, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
}

func TestTurnProjectPlain(t *testing.T) {
	r := New(false)

	out := r.Turn(projectTurn())
	assert.Contains(t, out, "> a todo app (1.5s)")
	assert.Contains(t, out, "Todo\nBuilt a todo list\n")
	assert.Contains(t, out, "  + /Todo.js\n")
	assert.NotContains(t, out, "export default")

	withCode := r.WithCode(true).Turn(projectTurn())
	assert.Contains(t, withCode, "    export default 1\n")
	assert.False(t, r.code, "WithCode returns a copy")
}

func TestTurnAnswerPlain(t *testing.T) {
	turn := domain.NewTurn("what is a goroutine", &domain.AnswerResult{
		Text:      "A lightweight thread.",
		Resources: []string{"https://go.dev/tour"},
		Files:     []domain.AnswerFile{{Name: "main.go", Content: "go f()"}},
	}, 200*time.Millisecond, time.Now())

	out := New(false).Turn(turn)
	assert.Contains(t, out, "(200ms)")
	assert.Contains(t, out, "A lightweight thread.\n")
	assert.Contains(t, out, "Resources:\n  • https://go.dev/tour\n")
	assert.Contains(t, out, "main.go:\n    go f()\n")
}

func TestTree(t *testing.T) {
	r := New(false)
	assert.Equal(t, "Empty project", r.Tree(nil))

	out := r.Tree(domain.ProjectTree{
		"/index.js": {Code: "render(App)"},
		"/App.js":   {Code: "x"},
	})
	assert.Equal(t, "/App.js\t1B\n/index.js\t11B\n", out)
}

func TestNotification(t *testing.T) {
	r := New(false)

	failed := session.Notification{
		Kind:    domain.KindGenerationFailed,
		Message: session.MessageGenerationFailed,
		Err:     errors.New("boom"),
	}
	assert.Equal(t, "error[GenerationFailed]: "+session.MessageGenerationFailed, r.Notification(failed))

	ok := session.Notification{Message: session.MessageTurnAppended}
	assert.Equal(t, session.MessageTurnAppended, r.Notification(ok))
}

func TestProjects(t *testing.T) {
	r := New(false)
	assert.Equal(t, "No projects found", r.Projects(nil))

	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	out := r.Projects([]*domain.Project{{ID: "01J", Name: "todo", UpdatedAt: at}})
	assert.Contains(t, out, "01J\ttodo\t")

	detail := r.Project(&domain.Project{
		ID:        "01J",
		Name:      "todo",
		Owners:    []string{"a@x.io"},
		Tree:      domain.ProjectTree{"/App.js": {}},
		Turns:     []domain.Turn{projectTurn()},
		UpdatedAt: at,
	})
	assert.Contains(t, detail, "todo (01J)")
	assert.Contains(t, detail, "Owners:  a@x.io")
	assert.Contains(t, detail, "Turns:   1")
	assert.Contains(t, detail, "  1. a todo app")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "12B", FormatBytes(12))
	assert.Equal(t, "1.5KB", FormatBytes(1536))
	assert.Equal(t, "2.0MB", FormatBytes(2*1024*1024))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hello w...", Truncate("hello world!", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "hé...", Truncate("héllo wörld", 5))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Print("line")
	w.Println("%d files", 2)
	w.Item("%s", "/App.js")
	w.Line()

	assert.Equal(t, "line\n2 files\n  /App.js\n\n", buf.String())
	assert.Equal(t, "✓", StatusIcon("success"))
	assert.Equal(t, "•", StatusIcon("other"))
}
