package events

import "github.com/maxaizer/jobsync/internal/domain/models"

var (
	JobsChangedTopic      = "JobsChangedEvent"
	HighlightChangedTopic = "HighlightChangedEvent"
	NotificationTopic     = "NotificationEvent"
	ErrorRaisedTopic      = "ErrorRaisedEvent"
	RunStatusTopic        = "RunStatusEvent"
	SessionsChangedTopic  = "SessionsChangedEvent"
)

// JobsChanged is published after every atomic replacement of the canonical collection.
type JobsChanged struct {
	Version uint64
	Count   int
}

// HighlightChanged carries the ids currently flagged as new. Empty when the window closed.
type HighlightChanged struct {
	IDs []string
}

type Notification struct {
	Message string
}

type ErrorRaised struct {
	Err     error
	Message string
}

type RunStatus struct {
	Run models.PipelineRun
}

type SessionsChanged struct {
	Sessions []models.Session
	ActiveID string
}
