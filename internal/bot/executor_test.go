package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/quota"
	"github.com/t77yq/rep4rep-bot/internal/rep4rep"
	"github.com/t77yq/rep4rep-bot/internal/steam"
)

func newTestExecutor(store *memStore, identity *fakeIdentity, source *fakeSource, recorder *eventRecorder) (*TaskExecutor, *runStats) {
	stats := &runStats{}
	exec := newTaskExecutor(
		store, identity, source,
		stats, recorder.add,
		time.Millisecond, time.Millisecond,
		zap.NewNop(),
	)
	return exec, stats
}

func TestExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		identity := newFakeIdentity()
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)

		// Account state moved forward in memory and in the store.
		assert.Equal(t, 1, account.TasksToday)
		require.NotNil(t, account.LastComment)
		stored := store.account("a1")
		assert.Equal(t, 1, stored.TasksToday)
		require.NotNil(t, stored.LastComment)

		// The acknowledgement carries the task's required comment id.
		acks := source.allAcks()
		require.Len(t, acks, 1)
		assert.Equal(t, task.ID, acks[0].taskID)
		assert.Equal(t, task.RequiredCommentID, acks[0].commentID)
		assert.Equal(t, profile.ID, acks[0].profileID)

		completed, failed := stats.snapshot()
		assert.Equal(t, 1, completed)
		assert.Equal(t, 0, failed)
		assert.True(t, recorder.has(EventTaskCompleted))

		logs := store.taskLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, model.TaskLogStatusCompleted, logs[0].Status)
	})

	t.Run("empty comment id skips without acknowledging", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		identity := newFakeIdentity()
		identity.post = func(accountID, targetSteamID string) (string, error) {
			return "", nil
		}
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)

		assert.Zero(t, source.ackCount())
		assert.Equal(t, 0, account.TasksToday)
		completed, failed := stats.snapshot()
		assert.Zero(t, completed)
		assert.Zero(t, failed)
	})

	t.Run("rate limited", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		identity := newFakeIdentity()
		identity.post = func(accountID, targetSteamID string) (string, error) {
			return "", fmt.Errorf("post comment: %w", rep4rep.ErrRateLimited)
		}
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.Error(t, err)
		assert.Equal(t, OutcomeRateLimited, outcome)

		_, failed := stats.snapshot()
		assert.Equal(t, 1, failed)
		assert.Zero(t, source.ackCount())
	})

	t.Run("permission denied skips the task", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		identity := newFakeIdentity()
		identity.post = func(accountID, targetSteamID string) (string, error) {
			return "", steam.ErrCommentsNotAllowed
		}
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDenied, outcome)

		// Denied targets are not failures of the run.
		completed, failed := stats.snapshot()
		assert.Zero(t, completed)
		assert.Zero(t, failed)

		logs := store.taskLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, model.TaskLogStatusSkipped, logs[0].Status)
	})

	t.Run("transient failure emits task_failed", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		identity := newFakeIdentity()
		identity.post = func(accountID, targetSteamID string) (string, error) {
			return "", errors.New("dial tcp: connection refused")
		}
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)

		_, failed := stats.snapshot()
		assert.Equal(t, 1, failed)
		assert.True(t, recorder.has(EventTaskFailed))
	})

	t.Run("store failure keeps in-memory progress", func(t *testing.T) {
		account := botAccount("a1", "alice")
		store := newMemStore(account)
		store.updateErr = errors.New("disk full")
		identity := newFakeIdentity()
		source := newFakeSource()
		source.addAccountProfile(account, 1)
		recorder := &eventRecorder{}
		exec, stats := newTestExecutor(store, identity, source, recorder)

		profile := &source.profiles[0]
		task := source.tasks[profile.ID][0]

		outcome, err := exec.Execute(ctx, account, profile, &task)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)

		// Memory is the source of truth when persistence is down.
		assert.Equal(t, 1, account.TasksToday)
		require.NotNil(t, account.LastComment)
		assert.Equal(t, 1, source.ackCount())

		completed, _ := stats.snapshot()
		assert.Equal(t, 1, completed)
	})
}

func TestExecutor_ForceDailyLimit(t *testing.T) {
	account := botAccount("a1", "alice")
	store := newMemStore(account)
	recorder := &eventRecorder{}
	exec, _ := newTestExecutor(store, newFakeIdentity(), newFakeSource(), recorder)

	exec.ForceDailyLimit(context.Background(), account)

	assert.Equal(t, quota.DailyTaskLimit, account.TasksToday)
	require.NotNil(t, account.LastComment)

	stored := store.account("a1")
	assert.Equal(t, quota.DailyTaskLimit, stored.TasksToday)
	require.NotNil(t, stored.LastComment)
	assert.True(t, recorder.has(EventAccountsUpdated))
}

func TestExecutor_ResolveProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("known profile", func(t *testing.T) {
		account := botAccount("a1", "alice")
		source := newFakeSource()
		source.addAccountProfile(account, 0)
		exec, _ := newTestExecutor(newMemStore(account), newFakeIdentity(), source, &eventRecorder{})

		profile, err := exec.ResolveProfile(ctx, account)
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, account.SteamID, profile.SteamID)
		assert.Empty(t, source.added)
	})

	t.Run("registers unknown profile and retries", func(t *testing.T) {
		account := botAccount("a1", "alice")
		source := newFakeSource()
		source.registerOnAdd = true
		exec, _ := newTestExecutor(newMemStore(account), newFakeIdentity(), source, &eventRecorder{})

		profile, err := exec.ResolveProfile(ctx, account)
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, account.SteamID, profile.SteamID)
		assert.Equal(t, []string{account.SteamID}, source.added)
	})

	t.Run("unresolvable profile", func(t *testing.T) {
		account := botAccount("a1", "alice")
		source := newFakeSource()
		exec, _ := newTestExecutor(newMemStore(account), newFakeIdentity(), source, &eventRecorder{})

		profile, err := exec.ResolveProfile(ctx, account)
		require.NoError(t, err)
		assert.Nil(t, profile)
		assert.Equal(t, []string{account.SteamID}, source.added)
	})
}
