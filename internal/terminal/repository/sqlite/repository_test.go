package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "terminals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestTerminal(id, session string) *models.Terminal {
	return &models.Terminal{
		ID:           id,
		TmuxSession:  session,
		TmuxWindow:   "developer-" + id[:4],
		Provider:     models.ProviderClaudeCode,
		AgentProfile: "developer",
	}
}

func TestTerminalCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	term := newTestTerminal("a1b2c3d4", "sess1")
	term.InitialMessage = "Summarize the repo"
	require.NoError(t, repo.CreateTerminal(ctx, term))
	assert.False(t, term.CreatedAt.IsZero(), "CreateTerminal should stamp created_at")

	got, err := repo.GetTerminal(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "sess1", got.TmuxSession)
	assert.Equal(t, models.ProviderClaudeCode, got.Provider)
	assert.Equal(t, "Summarize the repo", got.InitialMessage)
	assert.Nil(t, got.LastActive)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateLastActive(ctx, "a1b2c3d4", now))
	got, err = repo.GetTerminal(ctx, "a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, got.LastActive)
	assert.True(t, got.LastActive.Equal(now))

	require.NoError(t, repo.DeleteTerminal(ctx, "a1b2c3d4"))
	_, err = repo.GetTerminal(ctx, "a1b2c3d4")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetTerminalNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTerminal(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateLastActiveMissingTerminal(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.UpdateLastActive(context.Background(), "deadbeef", time.Now())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListTerminalsBySession(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"aaaa0001", "aaaa0002", "bbbb0001"} {
		session := "sess-a"
		if id[0] == 'b' {
			session = "sess-b"
		}
		term := newTestTerminal(id, session)
		term.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.CreateTerminal(ctx, term))
	}

	all, err := repo.ListTerminals(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	inA, err := repo.ListTerminalsBySession(ctx, "sess-a")
	require.NoError(t, err)
	require.Len(t, inA, 2)
	assert.Equal(t, "aaaa0001", inA[0].ID)
	assert.Equal(t, "aaaa0002", inA[1].ID)

	deleted, err := repo.DeleteTerminalsBySession(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := repo.ListTerminals(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bbbb0001", remaining[0].ID)
}

func TestGetTerminalByDelegatingAgent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	older := newTestTerminal("aaaa0001", "sess")
	older.DelegatingAgentID = "ses_supervisor"
	older.CreatedAt = base
	require.NoError(t, repo.CreateTerminal(ctx, older))

	newer := newTestTerminal("aaaa0002", "sess")
	newer.DelegatingAgentID = "ses_supervisor"
	newer.CreatedAt = base.Add(time.Second)
	require.NoError(t, repo.CreateTerminal(ctx, newer))

	got, err := repo.GetTerminalByDelegatingAgent(ctx, "ses_supervisor")
	require.NoError(t, err)
	assert.Equal(t, "aaaa0002", got.ID, "most recent terminal wins")

	_, err = repo.GetTerminalByDelegatingAgent(ctx, "ses_unknown")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestInboxFIFOOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, text := range []string{"first", "second", "third"} {
		msg := &models.InboxMessage{
			SenderID:   "aaaa0001",
			ReceiverID: "bbbb0001",
			Message:    text,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.CreateInboxMessage(ctx, msg))
		assert.Positive(t, msg.ID)
		assert.Equal(t, models.MessagePending, msg.Status)
	}

	pending, err := repo.ListInboxMessages(ctx, "bbbb0001", 10, models.MessagePending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "first", pending[0].Message)
	assert.Equal(t, "second", pending[1].Message)
	assert.Equal(t, "third", pending[2].Message)

	oldest, err := repo.ListInboxMessages(ctx, "bbbb0001", 1, models.MessagePending)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "first", oldest[0].Message)
}

func TestInboxStatusFilterAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []int64
	for i := 0; i < 4; i++ {
		msg := &models.InboxMessage{
			SenderID:   "aaaa0001",
			ReceiverID: "bbbb0001",
			Message:    "msg",
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.CreateInboxMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}
	require.NoError(t, repo.UpdateMessageStatus(ctx, ids[0], models.MessageDelivered))
	require.NoError(t, repo.UpdateMessageStatus(ctx, ids[1], models.MessageFailed))

	pending, err := repo.ListInboxMessages(ctx, "bbbb0001", 10, models.MessagePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := repo.ListInboxMessages(ctx, "bbbb0001", 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	limited, err := repo.ListInboxMessages(ctx, "bbbb0001", 2, "")
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpdateMessageStatusIsAbsorbing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	msg := &models.InboxMessage{SenderID: "aaaa0001", ReceiverID: "bbbb0001", Message: "hi"}
	require.NoError(t, repo.CreateInboxMessage(ctx, msg))

	require.NoError(t, repo.UpdateMessageStatus(ctx, msg.ID, models.MessageDelivered))

	// A delivered message can never transition again.
	err := repo.UpdateMessageStatus(ctx, msg.ID, models.MessageFailed)
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.GetHTTPStatus(err))

	got, err := repo.ListInboxMessages(ctx, "bbbb0001", 1, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.MessageDelivered, got[0].Status)
}

func TestFlowCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	flow := &models.Flow{
		Name:         "nightly-report",
		FilePath:     "/flows/nightly-report.md",
		Schedule:     "0 2 * * *",
		AgentProfile: "reporter",
		Provider:     models.ProviderOpencode,
		NextRun:      &next,
		Enabled:      true,
	}
	require.NoError(t, repo.CreateFlow(ctx, flow))

	got, err := repo.GetFlow(ctx, "nightly-report")
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", got.Schedule)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRun)
	require.NotNil(t, got.NextRun)

	last := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateFlowRunTimes(ctx, "nightly-report", last, last.Add(24*time.Hour)))
	got, err = repo.GetFlow(ctx, "nightly-report")
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(last))

	require.NoError(t, repo.UpdateFlowEnabled(ctx, "nightly-report", false, nil))
	got, err = repo.GetFlow(ctx, "nightly-report")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, repo.DeleteFlow(ctx, "nightly-report"))
	_, err = repo.GetFlow(ctx, "nightly-report")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListDueFlows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &models.Flow{Name: "due", FilePath: "/f/due.md", Schedule: "* * * * *", AgentProfile: "a", Provider: models.ProviderOpencode, NextRun: &past, Enabled: true}
	notYet := &models.Flow{Name: "later", FilePath: "/f/later.md", Schedule: "* * * * *", AgentProfile: "a", Provider: models.ProviderOpencode, NextRun: &future, Enabled: true}
	disabled := &models.Flow{Name: "off", FilePath: "/f/off.md", Schedule: "* * * * *", AgentProfile: "a", Provider: models.ProviderOpencode, NextRun: &past, Enabled: false}
	require.NoError(t, repo.CreateFlow(ctx, due))
	require.NoError(t, repo.CreateFlow(ctx, notYet))
	require.NoError(t, repo.CreateFlow(ctx, disabled))

	got, err := repo.ListDueFlows(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].Name)
}
