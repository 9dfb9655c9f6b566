package quota

import (
	"time"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

const (
	// DailyTaskLimit is the maximum number of tasks one account may
	// complete per 24-hour window.
	DailyTaskLimit = 10

	// ResetInterval is the rolling window after the last comment.
	ResetInterval = 24 * time.Hour
)

// Tracker implements the per-account daily quota logic. It only mutates
// the in-memory account record; persisting the change is the caller's
// responsibility.
type Tracker struct {
	now func() time.Time
}

// NewTracker creates a tracker using the wall clock
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// NewTrackerWithClock creates a tracker with an injected clock
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// ResetIfDue zeroes TasksToday when the account has never commented or
// the reset interval has elapsed. Idempotent.
func (t *Tracker) ResetIfDue(account *model.Account) bool {
	if account.LastComment == nil || t.now().Sub(*account.LastComment) >= ResetInterval {
		account.TasksToday = 0
		return true
	}
	return false
}

// HasReachedLimit reports whether the account hit the daily task limit
func (t *Tracker) HasReachedLimit(account *model.Account) bool {
	return account.TasksToday >= DailyTaskLimit
}

// CanAct reports whether the account is past its cooldown. This ignores
// the current counter: an account with a stale counter may still be
// eligible once the interval has elapsed.
func (t *Tracker) CanAct(account *model.Account) bool {
	if account.LastComment == nil {
		return true
	}
	return t.now().Sub(*account.LastComment) >= ResetInterval
}

// TimeUntilReset returns how long until the counter resets, or 0 if the
// account may act immediately
func (t *Tracker) TimeUntilReset(account *model.Account) time.Duration {
	if account.LastComment == nil {
		return 0
	}
	remaining := account.LastComment.Add(ResetInterval).Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanWork composes the limit and cooldown checks: a lazily-due reset is
// applied first, then an account at the limit is eligible only once its
// cooldown has elapsed.
func (t *Tracker) CanWork(account *model.Account) bool {
	t.ResetIfDue(account)
	if t.HasReachedLimit(account) {
		return t.CanAct(account)
	}
	return true
}
