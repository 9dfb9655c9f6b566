package bot

import (
	"time"
)

// EventType identifies an outbound orchestrator event
type EventType string

const (
	EventStarted         EventType = "started"
	EventStopped         EventType = "stopped"
	EventTaskCompleted   EventType = "task_completed"
	EventTaskFailed      EventType = "task_failed"
	EventLog             EventType = "log"
	EventAccountsUpdated EventType = "accounts_updated"
)

// Event is one outbound notification for the presentation layer. The
// orchestrator owns a single buffered channel of these; consumers that
// fall behind lose events rather than stalling the run.
type Event struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	CommentID string    `json:"comment_id,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
