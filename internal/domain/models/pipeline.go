package models

import "time"

type RunState string

const (
	RunUnknown RunState = "unknown"
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunFailed  RunState = "failed"
)

func (s RunState) IsTerminal() bool {
	return s == RunDone || s == RunFailed
}

type RunStats struct {
	NewRecords        int
	Duplicates        int
	Filtered          int
	TotalQueries      int
	CurrentQueryIndex int
	CurrentSite       string
	BatchID           string
	StartedAt         time.Time
}

// PipelineStatus is one poll of a backend run.
type PipelineStatus struct {
	State    RunState
	LogLines []string
	Stats    RunStats
}

// PipelineRun is the locally tracked progress of one scrape submission.
type PipelineRun struct {
	JobID           string
	OriginSessionID string
	SubmittedAt     time.Time
	PipelineStatus
}

type ScrapeRequest struct {
	Titles    string `json:"titles"`
	Locations string `json:"locations"`
	Country   string `json:"country"`
	HoursOld  int    `json:"hours_old"`
}
