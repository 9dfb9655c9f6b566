package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/quota"
)

// AccountStore is the slice of the persistence contract the orchestrator
// needs
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error
	AppendTaskLog(ctx context.Context, entry *model.TaskLogEntry) error
}

// IdentityProvider manages authenticated Steam sessions for accounts
type IdentityProvider interface {
	Authenticate(ctx context.Context, accountID string) error
	IsAuthenticated(accountID string) bool
	Deauthenticate(ctx context.Context, accountID string) error
	PostComment(ctx context.Context, accountID, targetSteamID, text string) (string, error)
}

// TaskSource provides profiles and tasks and accepts completion
// acknowledgements
type TaskSource interface {
	Profiles(ctx context.Context) ([]model.SteamProfile, error)
	AddProfile(ctx context.Context, steamID string) error
	Tasks(ctx context.Context, profileID string) ([]model.Task, error)
	CompleteTask(ctx context.Context, taskID, commentID, profileID string) error
}

// Config carries the orchestrator timing knobs
type Config struct {
	// RestartDelay is the cool-down before re-running the account list
	// after all workers drain
	RestartDelay time.Duration

	// RateLimitPause is the sequential-mode whole-run pause after a rate
	// limit, before retrying the same account
	RateLimitPause time.Duration

	// ProfileSettleDelay is the wait between registering a profile and
	// looking it up again
	ProfileSettleDelay time.Duration

	// EventBufferSize is the capacity of the outbound event channel
	EventBufferSize int
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 5 * time.Minute
	}
	if c.RateLimitPause <= 0 {
		c.RateLimitPause = 5 * time.Minute
	}
	if c.ProfileSettleDelay <= 0 {
		c.ProfileSettleDelay = 3 * time.Second
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 256
	}
	return c
}

// WorkerStatus is a point-in-time snapshot of one account worker
type WorkerStatus struct {
	AccountID      string    `json:"account_id"`
	Login          string    `json:"login"`
	Active         bool      `json:"active"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Status is a point-in-time snapshot of the whole run
type Status struct {
	IsRunning      bool           `json:"is_running"`
	ActiveWorkers  int            `json:"active_workers"`
	CompletedTasks int            `json:"completed_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
	Workers        []WorkerStatus `json:"workers"`
}

// Orchestrator runs account workers over the task source in parallel or
// sequential mode, enforcing the per-account daily quota and the global
// concurrency cap.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      Config
	store    AccountStore
	identity IdentityProvider
	source   TaskSource
	quota    *quota.Tracker
	policy   RetryPolicy

	events chan Event
	stats  runStats

	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	workers  map[string]*worker
	settings model.RunSettings
	executor *TaskExecutor
	wg       sync.WaitGroup
}

// New creates an orchestrator
func New(cfg Config, store AccountStore, identity IdentityProvider, source TaskSource, logger *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		logger:   logger.Named("bot"),
		cfg:      cfg,
		store:    store,
		identity: identity,
		source:   source,
		quota:    quota.NewTracker(),
		events:   make(chan Event, cfg.EventBufferSize),
		workers:  make(map[string]*worker),
	}
}

// Events returns the outbound event stream. The channel is never closed;
// it drains for the lifetime of the orchestrator.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Start launches a run with the given settings. It fails when a run is
// already active or when no stored account carries a steam id.
func (o *Orchestrator) Start(ctx context.Context, settings model.RunSettings) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrAlreadyRunning
	}

	accounts, err := o.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	eligible := make([]*model.Account, 0, len(accounts))
	for _, account := range accounts {
		if account.SteamID != "" {
			eligible = append(eligible, account)
		}
	}
	if len(eligible) == 0 {
		o.logger.Error("No accounts with a steam id, refusing to start")
		return ErrNoEligibleAccounts
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.running = true
	o.runCtx = runCtx
	o.cancel = cancel
	o.settings = settings
	o.stats.reset()
	o.executor = newTaskExecutor(
		o.store, o.identity, o.source,
		&o.stats, o.emit,
		settings.CommentDelay, o.cfg.ProfileSettleDelay,
		o.logger,
	)

	o.emit(Event{Type: EventStarted, Timestamp: time.Now()})
	o.logger.Info("Bot started",
		zap.String("work_mode", string(settings.WorkMode)),
		zap.Int("accounts", len(eligible)),
		zap.Int("concurrency", settings.ConcurrencyCap()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, eligible)
	}()

	return nil
}

// Stop requests a cooperative shutdown. Idempotent; workers finish their
// in-flight task and drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.cancel = nil
	for _, w := range o.workers {
		w.deactivate()
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.emit(Event{Type: EventStopped, Timestamp: time.Now()})
	o.logger.Info("Bot stopped")
}

// Wait blocks until the current run has fully drained
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// IsRunning reports whether a run is active
func (o *Orchestrator) IsRunning() bool {
	return o.isRunning()
}

// GetStatus returns a snapshot of the run and its workers
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	workers := make([]*worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	running := o.running
	o.mu.Unlock()

	completed, failed := o.stats.snapshot()

	status := Status{
		IsRunning:      running,
		CompletedTasks: completed,
		FailedTasks:    failed,
		Workers:        make([]WorkerStatus, 0, len(workers)),
	}
	for _, w := range workers {
		snapshot := w.status()
		if snapshot.Active {
			status.ActiveWorkers++
		}
		status.Workers = append(status.Workers, snapshot)
	}
	return status
}

// GetStatistics returns the aggregate task counters for the current run
func (o *Orchestrator) GetStatistics() model.RunStatistics {
	completed, failed := o.stats.snapshot()

	o.mu.Lock()
	running := o.running
	active := 0
	for _, w := range o.workers {
		if w.isActive() {
			active++
		}
	}
	o.mu.Unlock()

	return model.RunStatistics{
		TotalCompleted: completed,
		TotalFailed:    failed,
		SuccessRate:    model.SuccessRate(completed, failed),
		ActiveWorkers:  active,
		IsRunning:      running,
	}
}

// StopAccountWorker deactivates one account's worker without touching the
// rest of the run. The worker finishes its in-flight task and exits.
func (o *Orchestrator) StopAccountWorker(accountID string) bool {
	o.mu.Lock()
	w, ok := o.workers[accountID]
	o.mu.Unlock()

	if !ok {
		return false
	}

	w.deactivate()
	o.logEvent(zap.InfoLevel, accountID, "Account worker %s forcibly stopped", w.account.Login)
	return true
}

// RestartAccountWorker stops the account's worker and re-admits the
// account with fresh state once the old worker has drained
func (o *Orchestrator) RestartAccountWorker(ctx context.Context, accountID string) error {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	o.StopAccountWorker(accountID)

	o.mu.Lock()
	runCtx := o.runCtx
	running := o.running
	o.mu.Unlock()
	if !running || runCtx == nil {
		return nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		// Wait for the old worker's slot to free up, then re-admit.
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for o.isRunning() && runCtx.Err() == nil {
			if !o.canAccountWork(runCtx, account) {
				o.logEvent(zap.WarnLevel, accountID, "Account %s cannot work right now, restart dropped", account.Login)
				return
			}
			if w := o.registerWorker(account); w != nil {
				o.logEvent(zap.InfoLevel, accountID, "Worker restarted for account %s", account.Login)
				w.run(runCtx)
				return
			}
			select {
			case <-ticker.C:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return nil
}

// run dispatches to the configured work mode and keeps restarting passes
// until stopped
func (o *Orchestrator) run(ctx context.Context, accounts []*model.Account) {
	for o.isRunning() && ctx.Err() == nil {
		if o.settings.WorkMode == model.WorkModeSequential {
			o.runSequentialPass(ctx, accounts)
		} else {
			o.runParallelPass(ctx, accounts)
		}

		if !o.isRunning() || ctx.Err() != nil {
			return
		}

		o.logEvent(zap.InfoLevel, "", "All accounts processed, restarting in %s", o.cfg.RestartDelay)
		if !o.sleep(ctx, o.cfg.RestartDelay) {
			return
		}
	}
}

// runParallelPass runs one pass over the account list with up to
// ConcurrencyCap workers live at a time. Freed slots admit the next
// eligible account immediately.
func (o *Orchestrator) runParallelPass(ctx context.Context, accounts []*model.Account) {
	queue := newAccountQueue(accounts)

	var wg sync.WaitGroup
	for i := 0; i < o.settings.ConcurrencyCap(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.admitLoop(ctx, queue)
		}()
	}
	wg.Wait()
}

// admitLoop is one concurrency slot: it pulls accounts off the queue and
// runs a worker per admitted account until the queue drains
func (o *Orchestrator) admitLoop(ctx context.Context, queue *accountQueue) {
	for o.isRunning() && ctx.Err() == nil {
		account := queue.pop()
		if account == nil {
			return
		}

		if !o.canAccountWork(ctx, account) {
			o.logEvent(zap.WarnLevel, account.ID, "Account %s cannot work right now, skipping", account.Login)
			continue
		}

		w := o.registerWorker(account)
		if w == nil {
			continue
		}

		o.logEvent(zap.InfoLevel, account.ID, "Worker started for account %s", account.Login)
		w.run(ctx)
	}
}

// runSequentialPass works the accounts one at a time. A rate limit pauses
// the whole run and retries the same account; other errors move on.
func (o *Orchestrator) runSequentialPass(ctx context.Context, accounts []*model.Account) {
	for i, account := range accounts {
		if !o.isRunning() || ctx.Err() != nil {
			return
		}

		if !o.canAccountWork(ctx, account) {
			o.logEvent(zap.WarnLevel, account.ID, "Account %s cannot work right now, skipping", account.Login)
			continue
		}

		if !o.identity.IsAuthenticated(account.ID) {
			o.logEvent(zap.InfoLevel, account.ID, "Authorizing account %s", account.Login)
			o.updateAccount(ctx, account.ID, map[string]interface{}{
				"status": string(model.AccountStatusAuthorizing),
			})
			if err := o.identity.Authenticate(ctx, account.ID); err != nil {
				o.logEvent(zap.ErrorLevel, account.ID, "Account %s authorization error: %v", account.Login, err)
				continue
			}
		}

		w := o.registerWorker(account)
		if w == nil {
			continue
		}

		o.updateAccount(ctx, account.ID, map[string]interface{}{
			"status": string(model.AccountStatusWorking),
		})

		for o.isRunning() && w.isActive() && ctx.Err() == nil {
			result, err := w.runCycle(ctx)
			w.markCycle()

			if result == cycleRateLimited {
				o.logEvent(zap.WarnLevel, account.ID, "Rate limited, pausing the run for %s", o.cfg.RateLimitPause)
				if !o.sleep(ctx, o.cfg.RateLimitPause) {
					break
				}
				continue
			}
			if err != nil {
				o.logEvent(zap.ErrorLevel, account.ID, "Worker error for %s: %v", account.Login, err)
			}
			break
		}

		o.removeWorker(account.ID)
		if account.TasksToday >= quota.DailyTaskLimit {
			o.updateAccount(ctx, account.ID, map[string]interface{}{
				"status": string(model.AccountStatusCompleted),
			})
		}
		o.logEvent(zap.InfoLevel, account.ID, "Account %s finished work, logging out", account.Login)
		if err := o.identity.Deauthenticate(context.Background(), account.ID); err != nil {
			o.logger.Warn("Logout failed", zap.String("login", account.Login), zap.Error(err))
		}

		if o.isRunning() && i < len(accounts)-1 {
			if !o.sleep(ctx, o.settings.TaskDelay) {
				return
			}
		}
	}
}

// canAccountWork refreshes the account record and checks the daily quota,
// persisting a lazy window reset when one fires
func (o *Orchestrator) canAccountWork(ctx context.Context, account *model.Account) bool {
	if fresh, err := o.store.GetAccount(ctx, account.ID); err == nil {
		*account = *fresh
	}

	before := account.TasksToday
	ok := o.quota.CanWork(account)
	if account.TasksToday != before {
		o.updateAccount(ctx, account.ID, map[string]interface{}{
			"tasks_today": account.TasksToday,
		})
	}
	return ok
}

// registerWorker claims the account's worker slot. Returns nil when the
// run is over or a worker for the account is still live.
func (o *Orchestrator) registerWorker(account *model.Account) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	if _, ok := o.workers[account.ID]; ok {
		return nil
	}

	w := newWorker(o, account)
	o.workers[account.ID] = w
	return w
}

func (o *Orchestrator) removeWorker(accountID string) {
	o.mu.Lock()
	delete(o.workers, accountID)
	o.mu.Unlock()
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// sleep waits for the duration unless the run context ends first
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit publishes an event without blocking; slow consumers lose events
func (o *Orchestrator) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case o.events <- event:
	default:
		o.logger.Warn("Event buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

// logEvent logs through zap and mirrors the message onto the event stream
func (o *Orchestrator) logEvent(level zapcore.Level, accountID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	if ce := o.logger.Check(level, msg); ce != nil {
		ce.Write()
	}

	o.emit(Event{
		Type:      EventLog,
		AccountID: accountID,
		Level:     level.String(),
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) updateAccount(ctx context.Context, accountID string, fields map[string]interface{}) {
	if err := o.store.UpdateAccount(ctx, accountID, fields); err != nil {
		o.logger.Error("Failed to update account",
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

// accountQueue is the shared admission queue for one parallel pass
type accountQueue struct {
	mu       sync.Mutex
	accounts []*model.Account
}

func newAccountQueue(accounts []*model.Account) *accountQueue {
	queued := make([]*model.Account, len(accounts))
	copy(queued, accounts)
	return &accountQueue{accounts: queued}
}

// pop returns the next queued account, or nil when the queue is drained
func (q *accountQueue) pop() *model.Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.accounts) == 0 {
		return nil
	}
	account := q.accounts[0]
	q.accounts = q.accounts[1:]
	return account
}
