package model

import (
	"time"
)

// WorkMode selects how accounts are driven during a run
type WorkMode string

const (
	WorkModeParallel   WorkMode = "parallel"
	WorkModeSequential WorkMode = "sequential"
)

// RunSettings is the immutable snapshot of settings for one run
type RunSettings struct {
	// TaskDelay is the pause between task cycles of one account, and
	// between accounts in sequential mode.
	TaskDelay time.Duration `json:"task_delay"`

	// CommentDelay is the grace period between posting a comment and
	// acknowledging the task to Rep4Rep.
	CommentDelay time.Duration `json:"comment_delay"`

	WorkMode              WorkMode `json:"work_mode"`
	MaxConcurrentAccounts int      `json:"max_concurrent_accounts"`
	APIToken              string   `json:"api_token,omitempty"`
}

// ConcurrencyCap returns MaxConcurrentAccounts clamped to [1, 10]
func (s RunSettings) ConcurrencyCap() int {
	cap := s.MaxConcurrentAccounts
	if cap < 1 {
		cap = 1
	}
	if cap > 10 {
		cap = 10
	}
	return cap
}
