package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botarmy/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateProject("Demo", "Build a todo app")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "active", created.Status)

	loaded, err := s.GetProject(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo", loaded.Name)
	assert.Equal(t, "Build a todo app", loaded.Requirements)

	_, err = s.GetProject("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Seed("proj_49583"))
	require.NoError(t, s.Seed("proj_49583"))

	project, err := s.GetProject("proj_49583")
	require.NoError(t, err)
	assert.Equal(t, "Test Project", project.Name)

	actions, err := s.PendingActions("proj_49583")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "Welcome Task", actions[0].Title)
	assert.Equal(t, []string{"Acknowledge", "Dismiss"}, actions[0].DecodeOptions())
}

func TestPendingMessagesOrderedByTimestamp(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	first, err := s.AddMessage(project.ID, "human", "analyst", models.MessageTypeStartAnalysis, `{"requirements": "a"}`, nil)
	require.NoError(t, err)
	second, err := s.AddMessage(project.ID, "human", "analyst", models.MessageTypeChat, `{"text": "b"}`, nil)
	require.NoError(t, err)
	_, err = s.AddMessage(project.ID, "human", "architect", models.MessageTypeChat, `{"text": "c"}`, nil)
	require.NoError(t, err)

	pending, err := s.PendingMessages("analyst")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	all, err := s.PendingMessages("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMessageStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	msg, err := s.AddMessage(project.ID, "human", "analyst", models.MessageTypeChat, `{"text": "hi"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Equal(t, 1, msg.AttemptNumber)

	require.NoError(t, s.UpdateMessageStatus(msg.ID, models.MessageStatusProcessing))
	require.NoError(t, s.IncrementMessageAttempt(msg.ID))

	pending, err := s.PendingMessages("analyst")
	require.NoError(t, err)
	require.Len(t, pending, 1, "retry must reset the row to pending")
	assert.Equal(t, 2, pending[0].AttemptNumber)

	assert.ErrorIs(t, s.UpdateMessageStatus("missing", models.MessageStatusFailed), ErrNotFound)
}

func TestChatMessagesNeverEnterQueue(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	msg, err := s.RecordChatMessage(project.ID, "human", "analyst", models.MessageTypeChat, `{"text": "hello"}`)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, msg.Status)

	// Untargeted chat lands on "system" and must not linger as pending.
	_, err = s.RecordChatMessage(project.ID, "human", "system", models.MessageTypeChat, `{"text": "anyone?"}`)
	require.NoError(t, err)

	pending, err := s.PendingMessages("")
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := s.PendingMessageCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	// Still part of the recorded history.
	msgs, err := s.RecentMessages(10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestTimestampsAreMonotonic(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	var last time.Time
	for i := 0; i < 50; i++ {
		msg, err := s.AddMessage(project.ID, "a", "b", models.MessageTypeChat, "{}", nil)
		require.NoError(t, err)
		assert.True(t, msg.Timestamp.After(last), "timestamps must strictly increase")
		last = msg.Timestamp
	}
}

func TestGlobalPendingActionsPriorityOrder(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	_, err = s.CreateAction(project.ID, "Low", "", models.PriorityLow, "[]")
	require.NoError(t, err)
	_, err = s.CreateAction(project.ID, "High", "", models.PriorityHigh, "[]")
	require.NoError(t, err)
	_, err = s.CreateAction(project.ID, "Medium", "", models.PriorityMedium, "[]")
	require.NoError(t, err)

	actions, err := s.GlobalPendingActions(10)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "High", actions[0].Title)
	assert.Equal(t, "Medium", actions[1].Title)
	assert.Equal(t, "Low", actions[2].Title)
}

func TestResolveAction(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	action, err := s.CreateAction(project.ID, "Decide", "pick one", models.PriorityHigh, `["Approve","Reject"]`)
	require.NoError(t, err)

	require.NoError(t, s.ResolveAction(action.ID, "Approve"))

	pending, err := s.PendingActions(project.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, s.ResolveAction("missing", "Approve"), ErrNotFound)
}

func TestSinceQueries(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	before, err := s.AddMessage(project.ID, "a", "b", models.MessageTypeChat, "{}", nil)
	require.NoError(t, err)

	cut := before.Timestamp
	after, err := s.AddMessage(project.ID, "a", "b", models.MessageTypeChat, "{}", nil)
	require.NoError(t, err)

	msgs, err := s.MessagesSince(project.ID, cut)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, after.ID, msgs[0].ID)

	action, err := s.CreateAction(project.ID, "T", "", models.PriorityLow, "[]")
	require.NoError(t, err)
	actions, err := s.ActionsSince(project.ID, cut)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, action.ID, actions[0].ID)
}

func TestAgentQueueCounts(t *testing.T) {
	s := newTestStore(t)
	project, err := s.CreateProject("Demo", "req")
	require.NoError(t, err)

	m1, err := s.AddMessage(project.ID, "human", "analyst", models.MessageTypeChat, "{}", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(project.ID, "human", "analyst", models.MessageTypeChat, "{}", nil)
	require.NoError(t, err)
	m3, err := s.AddMessage(project.ID, "human", "analyst", models.MessageTypeChat, "{}", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateMessageStatus(m1.ID, models.MessageStatusCompleted))
	require.NoError(t, s.UpdateMessageStatus(m3.ID, models.MessageStatusFailed))

	counts, err := s.AgentQueueCounts("analyst")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Todo)
	assert.Equal(t, int64(1), counts.Done)
	assert.Equal(t, int64(1), counts.Failed)
	assert.Equal(t, int64(0), counts.InProgress)
}
