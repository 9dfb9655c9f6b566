package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/quota"
)

const (
	// sweepSchedule re-checks every account's quota window
	sweepSchedule = "@every 10s"

	// cleanupSchedule prunes old task log entries
	cleanupSchedule = "@daily"
)

// Store is the slice of the persistence contract the maintenance jobs
// need
type Store interface {
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteTaskLogsBefore(ctx context.Context, before time.Time) error
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// Jobs runs the background maintenance schedules: the rolling quota
// sweep and the task log retention cleanup.
type Jobs struct {
	logger    *zap.Logger
	store     Store
	tracker   *quota.Tracker
	retention time.Duration
	cron      *cron.Cron

	// onQuotaReset is invoked for each account whose counter was swept,
	// so the presentation layer can refresh
	onQuotaReset func(accountID string)
}

// NewJobs creates the maintenance jobs. retention bounds how long task
// log entries are kept.
func NewJobs(store Store, tracker *quota.Tracker, retention time.Duration, onQuotaReset func(accountID string), logger *zap.Logger) *Jobs {
	named := logger.Named("maintenance")
	return &Jobs{
		logger:       named,
		store:        store,
		tracker:      tracker,
		retention:    retention,
		onQuotaReset: onQuotaReset,
		cron: cron.New(
			cron.WithLogger(&cronLogger{logger: named.Named("cron")}),
			cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
		),
	}
}

// Start registers the schedules and starts the cron runner
func (j *Jobs) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(sweepSchedule, func() { j.RunSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule quota sweep: %w", err)
	}
	if _, err := j.cron.AddFunc(cleanupSchedule, func() { j.RunCleanup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule log cleanup: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Maintenance jobs started",
		zap.String("sweep", sweepSchedule),
		zap.String("cleanup", cleanupSchedule),
		zap.Duration("retention", j.retention))
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish
func (j *Jobs) Stop() {
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	j.logger.Info("Maintenance jobs stopped")
}

// RunSweep zeroes the task counter of every account whose 24h window has
// elapsed and persists the change
func (j *Jobs) RunSweep(ctx context.Context) {
	accounts, err := j.store.ListAccounts(ctx)
	if err != nil {
		j.logger.Error("Failed to list accounts for quota sweep", zap.Error(err))
		return
	}

	swept := 0
	for _, account := range accounts {
		if account.TasksToday == 0 {
			continue
		}
		if !j.tracker.ResetIfDue(account) {
			continue
		}

		if err := j.store.UpdateAccount(ctx, account.ID, map[string]interface{}{
			"tasks_today": 0,
		}); err != nil {
			j.logger.Error("Failed to reset task counter",
				zap.String("account_id", account.ID),
				zap.Error(err))
			continue
		}

		swept++
		if j.onQuotaReset != nil {
			j.onQuotaReset(account.ID)
		}
	}

	if swept > 0 {
		j.logger.Info("Quota sweep reset accounts", zap.Int("count", swept))
	}
}

// RunCleanup prunes task log entries older than the retention window
func (j *Jobs) RunCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	if err := j.store.DeleteTaskLogsBefore(ctx, cutoff); err != nil {
		j.logger.Error("Failed to prune task logs", zap.Error(err))
		return
	}
	j.logger.Info("Task logs pruned", zap.Time("cutoff", cutoff))
}
