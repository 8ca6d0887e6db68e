package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/gateway"
	"github.com/joss/buildlab/internal/history"
	"github.com/joss/buildlab/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newController(t *testing.T, mode domain.Mode, provider *testutil.MockProvider, opts ...Option) *Controller {
	t.Helper()
	ids := 0
	ticks := 0
	opts = append([]Option{
		WithID("sess-1"),
		WithRequestIDs(func() string {
			ids++
			return fmt.Sprintf("req-%d", ids)
		}),
		WithClock(func() time.Time {
			ticks++
			return t0.Add(time.Duration(ticks) * 250 * time.Millisecond)
		}),
	}, opts...)
	c := NewController(newMachine(mode), gateway.NewGuard(provider, 5*time.Second), opts...)
	t.Cleanup(c.Close)
	return c
}

func nextNotification(t *testing.T, c *Controller) Notification {
	t.Helper()
	select {
	case n := <-c.Notifications():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func TestControllerEmptyQuery(t *testing.T) {
	mock := testutil.NewMockProvider()
	c := newController(t, domain.ModeProject, mock)

	err := c.Submit("")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	c.Wait()
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, 0, mock.CallCount())
	assert.Equal(t, domain.KindEmptyQuery, nextNotification(t, c).Kind)
}

func TestControllerGenerationFailed(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Fail(errors.New("dial tcp: connection refused")))
	c := newController(t, domain.ModeProject, mock)

	require.NoError(t, c.Submit("a todo app"))
	c.Wait()

	n := nextNotification(t, c)
	assert.Equal(t, domain.KindGenerationFailed, n.Kind)
	assert.Equal(t, MessageGenerationFailed, n.Message)

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, "a todo app", snap.PendingQuery)
	assert.Equal(t, testBaseline(), snap.Tree)
}

func TestControllerMalformedResponse(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Text("{not json"))
	c := newController(t, domain.ModeProject, mock)

	require.NoError(t, c.Submit("a todo app"))
	c.Wait()

	n := nextNotification(t, c)
	assert.Equal(t, domain.KindMalformedResponse, n.Kind)
	assert.ErrorIs(t, n.Err, domain.ErrMalformedResponse)
	assert.Empty(t, c.Snapshot().Turns)
}

func TestControllerConcurrentSubmission(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Text(testutil.ProjectJSON("", "done", nil)))
	mock.Block()
	c := newController(t, domain.ModeProject, mock)

	require.NoError(t, c.Submit("first"))
	assert.True(t, c.Snapshot().InputLocked())

	err := c.Submit("second")
	assert.ErrorIs(t, err, domain.ErrConcurrentSubmission)
	assert.Equal(t, domain.KindConcurrentSubmission, nextNotification(t, c).Kind)

	mock.Release()
	c.Wait()

	assert.Equal(t, 1, mock.CallCount())
	n := nextNotification(t, c)
	assert.False(t, n.Failed())
	snap := c.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, "first", snap.Turns[0].Query)
}

func TestControllerAppendsTurns(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Text(testutil.ProjectJSON("Todo", "Built a todo list", map[string]string{"/Todo.js": "todo"})),
		testutil.Text(testutil.ProjectJSON("Todo", "Made it blue", map[string]string{"/App.js": "blue"})),
	)
	c := newController(t, domain.ModeProject, mock)

	require.NoError(t, c.Submit("a todo app"))
	c.Wait()
	first := nextNotification(t, c)
	require.False(t, first.Failed())
	require.NotNil(t, first.Turn)
	assert.Equal(t, "Built a todo list", first.Turn.Response.Summary())
	assert.Equal(t, int64(250), first.Turn.LatencyMs)

	require.NoError(t, c.Submit("make it blue"))
	c.Wait()
	require.False(t, nextNotification(t, c).Failed())

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, []string{"a todo app", "make it blue"}, []string{snap.Turns[0].Query, snap.Turns[1].Query})
	assert.Equal(t, "blue", snap.Tree["/App.js"].Code)
	assert.NotContains(t, snap.Tree, "/Todo.js")
	assert.Equal(t, "", snap.PendingQuery)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "req-1", calls[0].RequestID)
	assert.Equal(t, "req-2", calls[1].RequestID)
	assert.NotContains(t, calls[0].Prompt, "Built a todo list")
	assert.Contains(t, calls[1].Prompt, "Built a todo list")
}

func TestControllerResumesFromSavedState(t *testing.T) {
	saved := domain.NewTurn("earlier", &domain.ProjectResult{Explanation: "earlier work"}, time.Second, t0)
	tree := domain.ProjectTree{"/Saved.js": {Code: "s"}}
	mock := testutil.NewMockProvider(testutil.Text(testutil.ProjectJSON("", "next", nil)))

	c := newController(t, domain.ModeProject, mock, WithHistory(history.New(saved)), WithTree(tree))

	snap := c.Snapshot()
	assert.Equal(t, tree, snap.Tree)
	require.Len(t, snap.Turns, 1)

	require.NoError(t, c.Submit("continue"))
	c.Wait()
	assert.Contains(t, mock.Calls()[0].Prompt, "earlier work")
}

func TestControllerAnswerModeSkipsHistory(t *testing.T) {
	mock := testutil.NewMockProvider(
		testutil.Text(testutil.AnswerJSON("first answer")),
		testutil.Text(testutil.AnswerJSON("second answer", "https://go.dev")),
	)
	c := newController(t, domain.ModeAnswer, mock)

	require.NoError(t, c.Submit("what is a channel?"))
	c.Wait()
	require.NoError(t, c.Submit("and a mutex?"))
	c.Wait()

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[1].Prompt, "first answer")
	assert.NotNil(t, calls[1].Config.Schema)
	assert.Len(t, c.Snapshot().Turns, 2)
}

func TestControllerCloseCancelsInFlight(t *testing.T) {
	mock := testutil.NewMockProvider(testutil.Text(testutil.ProjectJSON("", "late", nil)))
	mock.Block()
	c := newController(t, domain.ModeProject, mock)

	require.NoError(t, c.Submit("slow"))
	c.Close()

	for n := range c.Notifications() {
		assert.Nil(t, n.Turn, "no turn after close")
	}
	assert.Empty(t, c.Snapshot().Turns)
	assert.ErrorIs(t, c.Submit("again"), ErrClosed)
}

func TestControllerEdit(t *testing.T) {
	c := newController(t, domain.ModeProject, testutil.NewMockProvider())
	c.Edit("draft")
	assert.Equal(t, "draft", c.Snapshot().PendingQuery)
	assert.Equal(t, "sess-1", c.ID())
	assert.Equal(t, domain.ModeProject, c.Mode())
}
