package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maxaizer/jobsync/internal/domain/models"
	log "github.com/sirupsen/logrus"
)

// activeStatus is what the backend expects for the "new" bucket.
const activeStatus = "active"

type JobSearchRequest struct {
	Status  string `json:"status"`
	Limit   int    `json:"limit"`
	BatchID string `json:"batch_id,omitempty"`
}

func NewJobSearchRequest(status models.Status, batchID string, limit int) JobSearchRequest {
	wireStatus := string(status)
	if status == models.StatusNew || status == "" {
		wireStatus = activeStatus
	}
	return JobSearchRequest{Status: wireStatus, Limit: limit, BatchID: batchID}
}

type jobRow struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Company    string `json:"company"`
	Location   string `json:"location"`
	URL        string `json:"job_url"`
	IsRemote   bool   `json:"is_remote"`
	DatePosted string `json:"date_posted"`
	SourceSite string `json:"source_site"`
	Status     string `json:"status"`
	BatchID    string `json:"batch_id"`
	FetchedAt  string `json:"fetched_at"`
}

type searchJobsResponse struct {
	Jobs []jobRow `json:"jobs"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r jobRow) toRecord() (models.JobRecord, error) {
	if r.Status == "" {
		r.Status = string(models.StatusNew)
	}
	status, err := models.ToStatus(r.Status)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("job %s: %w", r.ID, err)
	}
	if r.ID == "" {
		return models.JobRecord{}, fmt.Errorf("job without id")
	}

	record := models.JobRecord{
		ID:         r.ID,
		Title:      r.Title,
		Company:    r.Company,
		Location:   r.Location,
		URL:        r.URL,
		IsRemote:   r.IsRemote,
		SourceSite: models.Site(r.SourceSite),
		Status:     status,
		BatchID:    r.BatchID,
	}
	if postedAt, ok := parseTime(r.DatePosted); ok {
		record.PostedAt = &postedAt
	}
	if fetchedAt, ok := parseTime(r.FetchedAt); ok {
		record.FetchedAt = fetchedAt
	}
	return record, nil
}

// SearchJobs reads one window of jobs. Malformed rows are skipped rather than failing the read.
func (c *Client) SearchJobs(ctx context.Context, search JobSearchRequest, ttl time.Duration) ([]models.JobRecord, error) {

	body, err := c.read(ctx, request{
		endpoint: "jobs_search",
		method:   http.MethodPost,
		path:     "/jobs/search",
		body:     search,
	}, ttl)
	if err != nil {
		return nil, err
	}

	response, err := decode[searchJobsResponse](body, "jobs search")
	if err != nil {
		return nil, err
	}

	records := make([]models.JobRecord, 0, len(response.Jobs))
	for _, row := range response.Jobs {
		record, err := row.toRecord()
		if err != nil {
			log.Warnf("skipping malformed job row: %v", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (models.JobRecord, error) {

	body, err := c.read(ctx, request{
		endpoint: "job_get",
		method:   http.MethodGet,
		path:     "/jobs/" + url.PathEscape(id),
	}, c.readTTL)
	if err != nil {
		return models.JobRecord{}, err
	}

	row, err := decode[jobRow](body, "job")
	if err != nil {
		return models.JobRecord{}, err
	}
	return row.toRecord()
}

func (c *Client) UpdateJobStatus(ctx context.Context, id string, status models.Status) error {
	_, err := c.write(ctx, request{
		endpoint: "job_update",
		method:   http.MethodPatch,
		path:     "/jobs/" + url.PathEscape(id),
		body:     map[string]string{"status": string(status)},
	})
	if err == nil {
		c.invalidate("/jobs", "/stats")
	}
	return err
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	_, err := c.write(ctx, request{
		endpoint: "job_delete",
		method:   http.MethodDelete,
		path:     "/jobs/" + url.PathEscape(id),
	})
	if err == nil {
		c.invalidate("/jobs", "/stats")
	}
	return err
}

// ClearAll wipes every job on the backend and drops the whole read cache.
func (c *Client) ClearAll(ctx context.Context, resetSettings bool) error {
	params := url.Values{}
	params.Add("reset_settings", fmt.Sprintf("%t", resetSettings))

	_, err := c.write(ctx, request{
		endpoint: "jobs_clear",
		method:   http.MethodDelete,
		path:     "/jobs/clear-all?" + params.Encode(),
	})
	if err == nil && c.cache != nil {
		c.cache.Flush()
	}
	return err
}

func (c *Client) GetStats(ctx context.Context) (models.JobStats, error) {
	body, err := c.read(ctx, request{
		endpoint: "stats",
		method:   http.MethodGet,
		path:     "/stats",
	}, c.readTTL)
	if err != nil {
		return models.JobStats{}, err
	}
	return decode[models.JobStats](body, "stats")
}
