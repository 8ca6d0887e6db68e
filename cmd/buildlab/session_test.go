package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/buildlab/internal/compose"
	"github.com/joss/buildlab/internal/config"
	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/render"
	"github.com/joss/buildlab/internal/scaffold"
	"github.com/joss/buildlab/internal/session"
	"github.com/joss/buildlab/internal/testutil"
	"github.com/joss/buildlab/internal/tokens"
)

func newTestController(t *testing.T, responses ...testutil.Response) (*session.Controller, *testutil.MockProvider) {
	t.Helper()
	composer := compose.New(domain.ModeProject, "test-model", compose.WithCounter(tokens.Estimate{}))
	machine := session.NewMachine(composer, scaffold.Default().Tree())
	provider := testutil.NewMockProvider(responses...)
	ctrl := session.NewController(machine, provider)
	t.Cleanup(ctrl.Close)
	return ctrl, provider
}

func TestRunLines(t *testing.T) {
	ctrl, provider := newTestController(t,
		testutil.Text(testutil.ProjectJSON("Todo", "A todo app", map[string]string{"/App.js": "todo"})),
		testutil.Fail(errors.New("boom")),
	)

	var saved []session.Snapshot
	save := func(ctx context.Context, snap session.Snapshot) error {
		saved = append(saved, snap)
		return nil
	}

	var out bytes.Buffer
	in := strings.NewReader("a todo app\n\n   \nadd dark mode\n")
	err := runLines(context.Background(), ctrl, render.New(false), in, render.NewWriter(&out), save)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.CallCount())
	assert.Contains(t, out.String(), "> a todo app")
	assert.Contains(t, out.String(), "error[GenerationFailed]")
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].Turns, 1)
	assert.Equal(t, "todo", ctrl.Snapshot().Tree["/App.js"].Code)
}

func TestSubmitAndWaitEmptyQuery(t *testing.T) {
	ctrl, provider := newTestController(t)

	n, err := submitAndWait(context.Background(), ctrl, "   ")
	require.NoError(t, err)
	assert.Equal(t, domain.KindEmptyQuery, n.Kind)
	assert.Equal(t, 0, provider.CallCount())
}

func TestSubmitAndWaitClosed(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctrl.Close()

	_, err := submitAndWait(context.Background(), ctrl, "a todo app")
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestSubmitAndWaitCanceled(t *testing.T) {
	ctrl, provider := newTestController(t, testutil.Text("{}"))
	provider.Block()
	defer provider.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := submitAndWait(ctx, ctrl, "a todo app")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBaseline(t *testing.T) {
	b, err := loadBaseline(&config.Settings{})
	require.NoError(t, err)
	assert.NotEmpty(t, b.Tree())

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "src/App.js", "export default function App() {}")
	b, err = loadBaseline(&config.Settings{Scaffold: dir})
	require.NoError(t, err)
	assert.Contains(t, b.Tree(), "/src/App.js")

	_, err = loadBaseline(&config.Settings{Scaffold: filepath.Join(dir, "missing.yaml")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewMachinesCoverBothModes(t *testing.T) {
	s := &config.Settings{ProjectModel: "p", AnswerModel: "a"}
	machines := newMachines(s, scaffold.Default())
	assert.Equal(t, domain.ModeProject, machines[domain.ModeProject].Mode())
	assert.Equal(t, domain.ModeAnswer, machines[domain.ModeAnswer].Mode())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("abc"))
	assert.Equal(t, "sk-1****", mask("sk-123456"))
}
