package model

import (
	"time"
)

// AccountStatus represents the current status of an account
type AccountStatus string

const (
	AccountStatusOffline     AccountStatus = "offline"
	AccountStatusAuthorizing AccountStatus = "authorizing"
	AccountStatusReady       AccountStatus = "ready"
	AccountStatusWorking     AccountStatus = "working"
	AccountStatusWaiting     AccountStatus = "waiting"
	AccountStatusCompleted   AccountStatus = "completed"
	AccountStatusError       AccountStatus = "error"
)

// Account represents one Steam identity the bot acts on behalf of
type Account struct {
	ID              string        `json:"id"`
	Login           string        `json:"login"`
	Password        string        `json:"password,omitempty"`
	TwoFactorSecret string        `json:"two_factor,omitempty"`
	Token           string        `json:"token,omitempty"`
	SteamID         string        `json:"steam_id,omitempty"`
	TasksToday      int           `json:"tasks_today"`
	Status          AccountStatus `json:"status"`

	// LastComment is the time of the most recent successful comment.
	// TasksToday is only meaningful relative to it: once 24h have passed
	// the counter is logically zero regardless of the stored value.
	LastComment *time.Time `json:"last_comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
