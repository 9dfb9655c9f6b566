package model

import (
	"time"
)

// Task represents one comment task assigned by Rep4Rep
type Task struct {
	ID                  string `json:"taskId"`
	TargetSteamID       string `json:"targetSteamProfileId"`
	TargetName          string `json:"targetSteamProfileName"`
	RequiredCommentID   string `json:"requiredCommentId"`
	RequiredCommentText string `json:"requiredCommentText"`
}

// SteamProfile represents a Steam profile registered with Rep4Rep
type SteamProfile struct {
	ID                string `json:"id"`
	SteamID           string `json:"steamId"`
	PersonaName       string `json:"personaName"`
	ProfileURL        string `json:"profileUrl"`
	CanReceiveComment bool   `json:"canReceiveComment"`
}

// TaskLogStatus is the recorded outcome of a task execution
type TaskLogStatus string

const (
	TaskLogStatusCompleted TaskLogStatus = "completed"
	TaskLogStatusFailed    TaskLogStatus = "failed"
	TaskLogStatusSkipped   TaskLogStatus = "skipped"
)

// TaskLogEntry is one append-only record of a task outcome
type TaskLogEntry struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	TaskID        string        `json:"task_id"`
	TargetSteamID string        `json:"target_steam_id"`
	CommentID     string        `json:"comment_id,omitempty"`
	Status        TaskLogStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}
