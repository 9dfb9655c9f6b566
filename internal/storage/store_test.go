package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStore_Accounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &model.Account{
		Login:    "alice",
		Password: "secret",
		SteamID:  "76561198000000001",
		Status:   model.AccountStatusOffline,
	}
	require.NoError(t, store.CreateAccount(ctx, account))
	require.NotEmpty(t, account.ID)

	t.Run("get", func(t *testing.T) {
		got, err := store.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Login)
		assert.Equal(t, "76561198000000001", got.SteamID)
		assert.Equal(t, 0, got.TasksToday)
		assert.Nil(t, got.LastComment)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetAccount(ctx, "no-such-id")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("partial update", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		err := store.UpdateAccount(ctx, account.ID, map[string]interface{}{
			"tasks_today":  10,
			"last_comment": now,
			"status":       string(model.AccountStatusCompleted),
		})
		require.NoError(t, err)

		got, err := store.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.TasksToday)
		assert.Equal(t, model.AccountStatusCompleted, got.Status)
		require.NotNil(t, got.LastComment)
		assert.WithinDuration(t, now, *got.LastComment, time.Second)
	})

	t.Run("update unknown column", func(t *testing.T) {
		err := store.UpdateAccount(ctx, account.ID, map[string]interface{}{
			"is_admin": true,
		})
		assert.Error(t, err)
	})

	t.Run("update missing account", func(t *testing.T) {
		err := store.UpdateAccount(ctx, "no-such-id", map[string]interface{}{
			"tasks_today": 1,
		})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("list", func(t *testing.T) {
		second := &model.Account{Login: "bob", Password: "secret"}
		require.NoError(t, store.CreateAccount(ctx, second))

		accounts, err := store.ListAccounts(ctx)
		require.NoError(t, err)
		assert.Len(t, accounts, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteAccount(ctx, account.ID))
		_, err := store.GetAccount(ctx, account.ID)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestSQLiteStore_TaskLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &model.Account{Login: "carol", Password: "secret"}
	require.NoError(t, store.CreateAccount(ctx, account))

	for i := 0; i < 3; i++ {
		entry := &model.TaskLogEntry{
			AccountID:     account.ID,
			TaskID:        "task-1",
			TargetSteamID: "76561198000000002",
			CommentID:     "c-1",
			Status:        model.TaskLogStatusCompleted,
		}
		require.NoError(t, store.AppendTaskLog(ctx, entry))
		require.NotEmpty(t, entry.ID)
	}

	t.Run("list by account", func(t *testing.T) {
		entries, err := store.ListTaskLogs(ctx, account.ID, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
		assert.Equal(t, model.TaskLogStatusCompleted, entries[0].Status)
	})

	t.Run("list with limit", func(t *testing.T) {
		entries, err := store.ListTaskLogs(ctx, "", 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("cleanup", func(t *testing.T) {
		old := &model.TaskLogEntry{
			AccountID: account.ID,
			TaskID:    "task-old",
			Status:    model.TaskLogStatusFailed,
			CreatedAt: time.Now().AddDate(0, 0, -60),
		}
		require.NoError(t, store.AppendTaskLog(ctx, old))

		require.NoError(t, store.DeleteTaskLogsBefore(ctx, time.Now().AddDate(0, 0, -30)))

		entries, err := store.ListTaskLogs(ctx, "", 100)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotEqual(t, "task-old", entry.TaskID)
		}
	})
}

func TestSQLiteStore_Settings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.GetSetting(ctx, "work_mode")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetSetting(ctx, "work_mode", "parallel"))
	require.NoError(t, store.SetSetting(ctx, "work_mode", "sequential"))

	value, err = store.GetSetting(ctx, "work_mode")
	require.NoError(t, err)
	assert.Equal(t, "sequential", value)
}
