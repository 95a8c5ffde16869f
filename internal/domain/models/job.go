package models

import (
	"time"

	"github.com/maxaizer/jobsync/internal/domain/apperrors"
)

type Status string

const (
	StatusNew      Status = "new"
	StatusSaved    Status = "saved"
	StatusRejected Status = "rejected"
)

func ToStatus(s string) (Status, error) {
	switch s {
	case string(StatusNew):
		return StatusNew, nil
	case string(StatusSaved):
		return StatusSaved, nil
	case string(StatusRejected):
		return StatusRejected, nil
	default:
		return "", apperrors.ErrInvalidStatus
	}
}

type Site string

const (
	LinkedIn  Site = "linkedin"
	Indeed    Site = "indeed"
	Glassdoor Site = "glassdoor"
)

// JobRecord is one discovered posting. ID is unique across the whole system.
type JobRecord struct {
	ID         string
	Title      string
	Company    string
	Location   string
	URL        string
	IsRemote   bool
	PostedAt   *time.Time
	SourceSite Site
	Status     Status
	BatchID    string
	FetchedAt  time.Time
}

func (j JobRecord) WithStatus(status Status) JobRecord {
	j.Status = status
	return j
}

type JobStats struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Saved    int `json:"saved"`
	Rejected int `json:"rejected"`
}
