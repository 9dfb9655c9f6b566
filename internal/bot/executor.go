package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/quota"
)

// Outcome is the terminal state of one task execution
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDenied      Outcome = "denied"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// TaskExecutor runs single tasks for an account: post the comment, wait,
// acknowledge, persist and emit. It is created per run with a snapshot of
// the run settings.
type TaskExecutor struct {
	logger   *zap.Logger
	store    AccountStore
	identity IdentityProvider
	source   TaskSource
	policy   RetryPolicy
	stats    *runStats
	emit     func(Event)

	commentDelay time.Duration
	settleDelay  time.Duration
}

func newTaskExecutor(
	store AccountStore,
	identity IdentityProvider,
	source TaskSource,
	stats *runStats,
	emit func(Event),
	commentDelay, settleDelay time.Duration,
	logger *zap.Logger,
) *TaskExecutor {
	return &TaskExecutor{
		logger:       logger.Named("executor"),
		store:        store,
		identity:     identity,
		source:       source,
		stats:        stats,
		emit:         emit,
		commentDelay: commentDelay,
		settleDelay:  settleDelay,
	}
}

// ResolveProfile maps the account's steam id to its remote task profile.
// Unknown accounts are registered and looked up once more after a short
// settle delay; a (nil, nil) return means the profile could not be
// resolved this cycle.
func (e *TaskExecutor) ResolveProfile(ctx context.Context, account *model.Account) (*model.SteamProfile, error) {
	profiles, err := e.source.Profiles(ctx)
	if err != nil {
		return nil, err
	}

	if profile := findProfile(profiles, account.SteamID); profile != nil {
		return profile, nil
	}

	e.logger.Info("Profile not registered, adding it",
		zap.String("login", account.Login),
		zap.String("steam_id", account.SteamID))

	if err := e.source.AddProfile(ctx, account.SteamID); err != nil {
		e.logger.Error("Failed to add profile",
			zap.String("login", account.Login),
			zap.Error(err))
		return nil, err
	}

	// Give the remote side a moment to index the new profile.
	select {
	case <-time.After(e.settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	profiles, err = e.source.Profiles(ctx)
	if err != nil {
		return nil, err
	}
	if profile := findProfile(profiles, account.SteamID); profile != nil {
		return profile, nil
	}

	e.logger.Error("Profile still missing after registration",
		zap.String("login", account.Login),
		zap.String("steam_id", account.SteamID))
	return nil, nil
}

func findProfile(profiles []model.SteamProfile, steamID string) *model.SteamProfile {
	for i := range profiles {
		if profiles[i].SteamID == steamID {
			return &profiles[i]
		}
	}
	return nil
}

// Execute runs a single task end to end. Store failures after the comment
// was posted are logged, not propagated: the in-memory account state keeps
// the truth and the persistent counters catch up on the next write.
func (e *TaskExecutor) Execute(ctx context.Context, account *model.Account, profile *model.SteamProfile, task *model.Task) (Outcome, error) {
	if !e.identity.IsAuthenticated(account.ID) {
		if err := e.identity.Authenticate(ctx, account.ID); err != nil {
			return e.failure(ctx, account, task, err)
		}
	}

	commentID, err := e.identity.PostComment(ctx, account.ID, task.TargetSteamID, task.RequiredCommentText)
	if err != nil {
		return e.failure(ctx, account, task, err)
	}

	// An empty handle means the comment never landed. Skip without
	// acknowledging so the task can be retried later.
	if commentID == "" {
		e.logger.Error("Comment was not posted, skipping task",
			zap.String("login", account.Login),
			zap.String("task_id", task.ID))
		return OutcomeSkipped, nil
	}

	time.Sleep(e.commentDelay)

	// The acknowledgement references the task's required comment id, not
	// the posted comment handle.
	if err := e.source.CompleteTask(ctx, task.ID, task.RequiredCommentID, profile.ID); err != nil {
		return e.failure(ctx, account, task, err)
	}

	now := time.Now()
	account.LastComment = &now
	account.TasksToday++

	if err := e.store.UpdateAccount(ctx, account.ID, map[string]interface{}{
		"last_comment": now,
		"tasks_today":  account.TasksToday,
	}); err != nil {
		e.logger.Warn("Failed to persist task counters",
			zap.String("login", account.Login),
			zap.Error(err))
	}

	if err := e.store.AppendTaskLog(ctx, &model.TaskLogEntry{
		AccountID:     account.ID,
		TaskID:        task.ID,
		TargetSteamID: task.TargetSteamID,
		CommentID:     commentID,
		Status:        model.TaskLogStatusCompleted,
	}); err != nil {
		e.logger.Warn("Failed to append task log",
			zap.String("login", account.Login),
			zap.Error(err))
	}

	e.stats.addCompleted()
	e.emit(Event{
		Type:      EventTaskCompleted,
		AccountID: account.ID,
		TaskID:    task.ID,
		CommentID: commentID,
		Timestamp: now,
	})

	e.logger.Info("Task completed",
		zap.String("login", account.Login),
		zap.String("task_id", task.ID),
		zap.Int("tasks_today", account.TasksToday))

	return OutcomeCompleted, nil
}

// ForceDailyLimit benches the account for its full 24h window after a
// rate-limit signal
func (e *TaskExecutor) ForceDailyLimit(ctx context.Context, account *model.Account) {
	now := time.Now()
	account.TasksToday = quota.DailyTaskLimit
	account.LastComment = &now

	if err := e.store.UpdateAccount(ctx, account.ID, map[string]interface{}{
		"tasks_today":  account.TasksToday,
		"last_comment": now,
	}); err != nil {
		e.logger.Warn("Failed to persist forced limit",
			zap.String("login", account.Login),
			zap.Error(err))
	}

	e.emit(Event{Type: EventAccountsUpdated, AccountID: account.ID, Timestamp: now})
	e.logger.Warn("Account hit the posting frequency limit, benched for 24h",
		zap.String("login", account.Login))
}

func (e *TaskExecutor) failure(ctx context.Context, account *model.Account, task *model.Task, err error) (Outcome, error) {
	switch e.policy.Classify(err) {
	case FailureRateLimited:
		e.stats.addFailed()
		e.logger.Warn("Task failed with a rate limit",
			zap.String("login", account.Login),
			zap.String("task_id", task.ID),
			zap.Error(err))
		return OutcomeRateLimited, err

	case FailurePermissionDenied:
		e.logger.Warn("Target profile does not accept comments, skipping task",
			zap.String("login", account.Login),
			zap.String("task_id", task.ID))
		if logErr := e.store.AppendTaskLog(ctx, &model.TaskLogEntry{
			AccountID:     account.ID,
			TaskID:        task.ID,
			TargetSteamID: task.TargetSteamID,
			Status:        model.TaskLogStatusSkipped,
		}); logErr != nil {
			e.logger.Warn("Failed to append task log", zap.Error(logErr))
		}
		return OutcomeDenied, nil

	default:
		e.stats.addFailed()
		e.emit(Event{
			Type:      EventTaskFailed,
			AccountID: account.ID,
			TaskID:    task.ID,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		e.logger.Error("Task failed",
			zap.String("login", account.Login),
			zap.String("task_id", task.ID),
			zap.Error(err))
		return OutcomeFailed, err
	}
}
