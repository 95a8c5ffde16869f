package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/pkg/errors"
)

type startScrapeResponse struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`
}

type pipelineStats struct {
	NewJobs      int             `json:"new_jobs"`
	Duplicates   int             `json:"duplicates"`
	Filtered     int             `json:"filtered"`
	TotalQueries int             `json:"total_queries"`
	CurrentQuery int             `json:"current_query"`
	CurrentSite  string          `json:"current_site"`
	BatchID      string          `json:"batch_id"`
	StartedAt    json.RawMessage `json:"started_at"`
}

type pipelineResponse struct {
	State     string          `json:"state"`
	Logs      []string        `json:"logs"`
	Stats     pipelineStats   `json:"stats"`
	StartedAt json.RawMessage `json:"started_at"`
}

func (r pipelineResponse) startedAt() time.Time {
	if t := parseStartedAt(r.Stats.StartedAt); !t.IsZero() {
		return t
	}
	return parseStartedAt(r.StartedAt)
}

// parseStartedAt accepts both an ISO timestamp and epoch milliseconds.
func parseStartedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var millis float64
	if err := json.Unmarshal(raw, &millis); err == nil {
		return time.UnixMilli(int64(millis))
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t, ok := parseTime(text); ok {
			return t
		}
	}
	return time.Time{}
}

func toRunState(state string) models.RunState {
	switch models.RunState(state) {
	case models.RunRunning, models.RunDone, models.RunFailed:
		return models.RunState(state)
	default:
		return models.RunUnknown
	}
}

// StartScrape submits a scrape run and returns its poll handle.
func (c *Client) StartScrape(ctx context.Context, scrape models.ScrapeRequest) (string, error) {
	body, err := c.write(ctx, request{
		endpoint: "run_scrape",
		method:   http.MethodPost,
		path:     "/run/scrape",
		body:     scrape,
		timeout:  c.submitTimeout,
	})
	if err != nil {
		return "", err
	}

	response, err := decode[startScrapeResponse](body, "run scrape")
	if err != nil {
		return "", err
	}
	if response.JobID == "" {
		return "", errors.New("backend returned an empty job id")
	}
	return response.JobID, nil
}

// GetPipelineStatus is never served from the cache; overlapping polls still share one request.
func (c *Client) GetPipelineStatus(ctx context.Context, jobID string) (models.PipelineStatus, error) {
	body, err := c.read(ctx, request{
		endpoint: "logs",
		method:   http.MethodGet,
		path:     "/logs/" + url.PathEscape(jobID),
	}, 0)
	if err != nil {
		return models.PipelineStatus{}, err
	}

	response, err := decode[pipelineResponse](body, "pipeline logs")
	if err != nil {
		return models.PipelineStatus{}, err
	}

	return models.PipelineStatus{
		State:    toRunState(response.State),
		LogLines: response.Logs,
		Stats: models.RunStats{
			NewRecords:        response.Stats.NewJobs,
			Duplicates:        response.Stats.Duplicates,
			Filtered:          response.Stats.Filtered,
			TotalQueries:      response.Stats.TotalQueries,
			CurrentQueryIndex: response.Stats.CurrentQuery,
			CurrentSite:       response.Stats.CurrentSite,
			BatchID:           response.Stats.BatchID,
			StartedAt:         response.startedAt(),
		},
	}, nil
}
