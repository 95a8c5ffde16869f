package services

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clients/backend"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/mock"
)

var testStart = time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) SearchJobs(_ context.Context, search backend.JobSearchRequest, ttl time.Duration) ([]models.JobRecord, error) {
	args := m.Called(search, ttl)
	jobs, _ := args.Get(0).([]models.JobRecord)
	return jobs, args.Error(1)
}

func (m *mockBackend) GetJob(_ context.Context, id string) (models.JobRecord, error) {
	args := m.Called(id)
	job, _ := args.Get(0).(models.JobRecord)
	return job, args.Error(1)
}

func (m *mockBackend) UpdateJobStatus(_ context.Context, id string, status models.Status) error {
	return m.Called(id, status).Error(0)
}

func (m *mockBackend) DeleteJob(_ context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockBackend) UpdateSettings(_ context.Context, settings models.Settings) error {
	return m.Called(settings).Error(0)
}

func (m *mockBackend) StartScrape(_ context.Context, scrape models.ScrapeRequest) (string, error) {
	args := m.Called(scrape)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) GetPipelineStatus(_ context.Context, jobID string) (models.PipelineStatus, error) {
	args := m.Called(jobID)
	status, _ := args.Get(0).(models.PipelineStatus)
	return status, args.Error(1)
}

func (m *mockBackend) GetSettings(context.Context) (models.Settings, error) {
	args := m.Called()
	settings, _ := args.Get(0).(models.Settings)
	return settings, args.Error(1)
}

func (m *mockBackend) GetStats(context.Context) (models.JobStats, error) {
	args := m.Called()
	stats, _ := args.Get(0).(models.JobStats)
	return stats, args.Error(1)
}

func (m *mockBackend) ClearAll(_ context.Context, resetSettings bool) error {
	return m.Called(resetSettings).Error(0)
}

func (m *mockBackend) Health(context.Context) error {
	return m.Called().Error(0)
}

// memoryStore is an in-memory key/value store.
type memoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string][]byte)}
}

func (s *memoryStore) Save(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.values[id] = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.values[id], nil
}

func (s *memoryStore) Remove(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.values, id)
	}
	return nil
}

// recorder collects bus events of one type.
type recorder[T any] struct {
	mu     sync.Mutex
	events []T
}

func record[T any](bus EventBus.Bus, topic string) *recorder[T] {
	r := &recorder[T]{}
	_ = bus.Subscribe(topic, func(event T) {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.events...)
}

func (r *recorder[T]) last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.events) == 0 {
		return zero, false
	}
	return r.events[len(r.events)-1], true
}

func newJob(id string, batchID string, postedDaysAgo int) models.JobRecord {
	posted := testStart.Add(-time.Duration(postedDaysAgo) * 24 * time.Hour)
	return models.JobRecord{
		ID:         id,
		Title:      "Go developer " + id,
		Company:    "Acme",
		Location:   "Berlin",
		URL:        "https://www.linkedin.com/jobs/view/" + id,
		SourceSite: models.LinkedIn,
		Status:     models.StatusNew,
		BatchID:    batchID,
		PostedAt:   &posted,
		FetchedAt:  testStart,
	}
}

func jobIDs(jobs []models.JobRecord) []string {
	return lo.Map(jobs, func(job models.JobRecord, _ int) string { return job.ID })
}

func searchFor(status models.Status, batchID string) backend.JobSearchRequest {
	return backend.NewJobSearchRequest(status, batchID, 500)
}

func validQuery() models.Query {
	return models.Query{
		Title:    "Go developer, Backend engineer",
		Location: "Berlin",
		Country:  "germany",
		Sites:    []models.Site{models.LinkedIn, models.Indeed},
		HoursOld: 72,
	}
}
