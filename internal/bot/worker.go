package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/quota"
)

// cycleResult is the outcome of one pass over an account's tasks
type cycleResult int

const (
	cycleOK cycleResult = iota
	cycleRateLimited
)

// worker drives one account through its task cycles. It is registered in
// the orchestrator's worker table for the duration of its run and shares
// the account record with the orchestrator.
type worker struct {
	orch    *Orchestrator
	account *model.Account

	mu             sync.Mutex
	active         bool
	tasksProcessed int
	lastActivity   time.Time
}

func newWorker(orch *Orchestrator, account *model.Account) *worker {
	return &worker{
		orch:         orch,
		account:      account,
		active:       true,
		lastActivity: time.Now(),
	}
}

func (w *worker) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *worker) deactivate() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}

func (w *worker) markCycle() {
	w.mu.Lock()
	w.tasksProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *worker) status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		AccountID:      w.account.ID,
		Login:          w.account.Login,
		Active:         w.active,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the parallel-mode account lifecycle: authorize once, then cycle
// until the daily limit, a rate limit, a stop signal or a deactivation.
// The account is always logged out and the worker slot released on exit.
func (w *worker) run(ctx context.Context) {
	o := w.orch
	account := w.account

	defer func() {
		if err := o.identity.Deauthenticate(context.Background(), account.ID); err != nil {
			o.logger.Warn("Logout failed",
				zap.String("login", account.Login),
				zap.Error(err))
		}
		o.removeWorker(account.ID)
		o.logEvent(zap.InfoLevel, account.ID, "Worker for account %s finished, account logged out", account.Login)
	}()

	if !o.identity.IsAuthenticated(account.ID) {
		o.updateAccount(ctx, account.ID, map[string]interface{}{
			"status": string(model.AccountStatusAuthorizing),
		})
		if err := o.identity.Authenticate(ctx, account.ID); err != nil {
			o.logEvent(zap.ErrorLevel, account.ID, "Account %s authorization error: %v", account.Login, err)
			return
		}
	}

	o.updateAccount(ctx, account.ID, map[string]interface{}{
		"status": string(model.AccountStatusWorking),
	})

	for o.isRunning() && w.isActive() && ctx.Err() == nil {
		result, err := w.runCycle(ctx)
		w.markCycle()

		switch {
		case err != nil:
			o.logEvent(zap.ErrorLevel, account.ID, "Worker error for %s: %v", account.Login, err)
			// Doubled delay before retrying after an unexpected error.
			if !o.sleep(ctx, 2*o.settings.TaskDelay) {
				return
			}

		case result == cycleRateLimited:
			o.executor.ForceDailyLimit(ctx, account)
			w.deactivate()

		default:
			if account.TasksToday >= quota.DailyTaskLimit {
				o.logEvent(zap.InfoLevel, account.ID, "Account %s reached the daily task limit", account.Login)
				o.updateAccount(ctx, account.ID, map[string]interface{}{
					"status": string(model.AccountStatusCompleted),
				})
				w.deactivate()
				return
			}
			if !o.sleep(ctx, o.settings.TaskDelay) {
				return
			}
		}
	}
}

// runCycle performs one pass: resolve the profile, refresh the quota
// window, fetch tasks and execute them until the limit or a terminal
// signal. Shared by both work modes.
func (w *worker) runCycle(ctx context.Context) (cycleResult, error) {
	o := w.orch
	account := w.account

	profile, err := o.executor.ResolveProfile(ctx, account)
	if err != nil {
		if o.policy.Classify(err) == FailureRateLimited {
			return cycleRateLimited, nil
		}
		return cycleOK, err
	}
	if profile == nil {
		return cycleOK, nil
	}

	if !o.identity.IsAuthenticated(account.ID) {
		if err := o.identity.Authenticate(ctx, account.ID); err != nil {
			return cycleOK, err
		}
	}

	if o.quota.ResetIfDue(account) {
		o.updateAccount(ctx, account.ID, map[string]interface{}{
			"tasks_today": 0,
		})
	}

	tasks, err := o.source.Tasks(ctx, profile.ID)
	if err != nil {
		if o.policy.Classify(err) == FailureRateLimited {
			return cycleRateLimited, nil
		}
		return cycleOK, err
	}
	if len(tasks) == 0 {
		o.logEvent(zap.InfoLevel, account.ID, "No available tasks for account %s", account.Login)
		return cycleOK, nil
	}

	for i := range tasks {
		if !o.isRunning() || !w.isActive() || ctx.Err() != nil {
			break
		}
		if account.TasksToday >= quota.DailyTaskLimit {
			break
		}

		outcome, _ := o.executor.Execute(context.WithoutCancel(ctx), account, profile, &tasks[i])
		if outcome == OutcomeRateLimited {
			return cycleRateLimited, nil
		}
	}

	return cycleOK, nil
}
