package services

import (
	"context"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clock/clocktest"
	"github.com/maxaizer/jobsync/internal/config"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	clock   *clocktest.Manual
	backend *mockBackend
	store   *memoryStore
	bus     EventBus.Bus
	engine  *Engine
	errors  *recorder[events.ErrorRaised]
}

type flushCounter struct {
	flushes int
}

func (f *flushCounter) Flush() {
	f.flushes++
}

func newEngineFixture() *engineFixture {
	manual := clocktest.New(testStart)
	api := &mockBackend{}
	store := newMemoryStore()
	bus := EventBus.New()

	engine := NewEngine(EngineDependencies{
		Backend:   api,
		Bus:       bus,
		Clock:     manual,
		Scheduler: manual,
		Store:     store,
		Confirmer: AlwaysConfirm{},
		Cache:     &flushCounter{},
	}, config.DefaultEngineConfig(), HealthCheck{Attempts: 3, Interval: time.Millisecond})

	return &engineFixture{
		clock:   manual,
		backend: api,
		store:   store,
		bus:     bus,
		engine:  engine,
		errors:  record[events.ErrorRaised](bus, events.ErrorRaisedTopic),
	}
}

func (f *engineFixture) start(t *testing.T, jobs ...models.JobRecord) {
	f.backend.On("GetSettings").Return(models.Settings{Titles: "Go developer"}, nil)
	f.backend.On("SearchJobs", searchFor(models.StatusNew, ""), 5*time.Second).Return(jobs, nil).Once()
	require.NoError(t, f.engine.Start(context.Background()))
}

func Test_Engine_Start_ShouldRestoreTabsAndLoadJobs(t *testing.T) {

	assert := assert.New(t)
	f := newEngineFixture()
	prefs := NewPreferences(f.store)
	require.NoError(t, prefs.SaveSessions(context.Background(),
		[]models.Session{models.AllHistorySession(), resultSession("r1", "b1")}, "r1"))
	f.store.values[themeKey] = []byte("light")

	f.start(t, newJob("a", "b1", 1), newJob("b", "b2", 2))

	sessions, activeID := f.engine.Sessions()
	assert.Len(sessions, 2)
	assert.Equal("r1", activeID)
	assert.Equal(models.ThemeLight, f.engine.Theme())

	view, options := f.engine.View()
	assert.Equal([]string{"a"}, jobIDs(view))
	assert.Equal([]string{"Berlin"}, options.Locations)
}

func Test_Engine_Start_WhenBackendDown_ShouldRaiseAndReturnError(t *testing.T) {

	f := newEngineFixture()
	f.backend.On("GetSettings").Return(nil, &apperrors.NetworkError{Op: "GET /settings"})
	f.backend.On("SearchJobs", mock.Anything, mock.Anything).Return(nil, &apperrors.NetworkError{Op: "POST /jobs/search"})

	err := f.engine.Start(context.Background())

	var networkErr *apperrors.NetworkError
	assert.ErrorAs(t, err, &networkErr)
	assert.Len(t, f.errors.all(), 2)
}

func Test_Engine_SubmitSearch_FromDraft_ShouldStreamBatchAndPromoteTab(t *testing.T) {

	assert := assert.New(t)
	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	draft := f.engine.AddSession()

	f.backend.On("UpdateSettings", mock.Anything).Return(nil)
	f.backend.On("StartScrape", mock.Anything).Return("run-1", nil)
	f.backend.On("GetPipelineStatus", "run-1").Return(running("b9"), nil).Once()
	f.backend.On("GetPipelineStatus", "run-1").
		Return(models.PipelineStatus{State: models.RunDone, Stats: models.RunStats{BatchID: "b9", NewRecords: 2}}, nil)
	f.backend.On("SearchJobs", searchFor(models.StatusNew, "b9"), time.Duration(0)).
		Return([]models.JobRecord{newJob("d", "b9", 0)}, nil)
	f.backend.On("SearchJobs", searchFor(models.StatusNew, ""), time.Duration(0)).
		Return([]models.JobRecord{newJob("a", "b1", 1), newJob("d", "b9", 0), newJob("e", "b9", 3)}, nil)

	run, err := f.engine.SubmitSearch(context.Background(), validQuery())
	require.NoError(t, err)
	assert.Equal(draft.ID, run.OriginSessionID)

	view, _ := f.engine.View()
	assert.Empty(view)

	f.clock.Advance(time.Second)
	assert.Equal([]string{"d"}, f.engine.Highlighted())

	f.clock.Advance(time.Second)

	sessions, activeID := f.engine.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(draft.ID, activeID)
	assert.Equal(models.KindResult, sessions[1].Kind)
	assert.Equal("Go developer +1", sessions[1].Label)
	assert.Equal([]string{"b9"}, sessions[1].BatchIDs)

	view, _ = f.engine.View()
	assert.Equal([]string{"d", "e"}, jobIDs(view))

	current, ok := f.engine.Run()
	require.True(t, ok)
	assert.Equal(models.RunDone, current.State)
	assert.Empty(f.engine.Highlighted())
	assert.Empty(f.errors.all())

	f.clock.Advance(5 * time.Second)
	f.backend.AssertNumberOfCalls(t, "GetPipelineStatus", 2)
}

func Test_Engine_SubmitSearch_WhenQueryInvalid_ShouldRaiseValidationError(t *testing.T) {

	f := newEngineFixture()
	f.start(t)

	_, err := f.engine.SubmitSearch(context.Background(), models.Query{Title: "Go", Location: "Berlin"})

	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	raised := f.errors.all()
	require.Len(t, raised, 1)
	assert.Equal(t, apperrors.UserMessage(err), raised[0].Message)
	query := f.engine.sessions.Active().Query
	assert.Nil(t, query)
}

func Test_Engine_SelectSession_ShouldResetFacets(t *testing.T) {

	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	f.engine.AddSession()

	f.engine.ToggleSiteFacet(models.LinkedIn)
	f.engine.ToggleLocationFacet("Berlin")
	f.engine.ToggleLocationFacet("Remote")
	f.engine.ToggleLocationFacet("Berlin")
	assert.Equal(t, []string{"Remote"}, f.engine.Facets().Locations)

	require.NoError(t, f.engine.SelectSession(models.AllHistorySessionID))

	assert.Empty(t, f.engine.Facets().Sites)
	assert.Empty(t, f.engine.Facets().Locations)
}

func Test_Engine_SetStatusFilter_ShouldReplaceCollectionWithBucket(t *testing.T) {

	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	saved := newJob("s", "b1", 2).WithStatus(models.StatusSaved)
	f.backend.On("SearchJobs", searchFor(models.StatusSaved, ""), 5*time.Second).Return([]models.JobRecord{saved}, nil)

	require.NoError(t, f.engine.SetStatusFilter(context.Background(), models.StatusSaved))

	view, _ := f.engine.View()
	assert.Equal(t, []string{"s"}, jobIDs(view))
	assert.ErrorIs(t, f.engine.SetStatusFilter(context.Background(), "archived"), apperrors.ErrInvalidStatus)
}

func Test_Engine_GetJob_WhenNotLoaded_ShouldAskBackend(t *testing.T) {

	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	f.backend.On("GetJob", "z").Return(newJob("z", "b3", 1), nil)

	job, err := f.engine.GetJob(context.Background(), "a")
	assert.NoError(t, err)
	assert.Equal(t, "a", job.ID)

	job, err = f.engine.GetJob(context.Background(), "z")
	assert.NoError(t, err)
	assert.Equal(t, "z", job.ID)
	f.backend.AssertNumberOfCalls(t, "GetJob", 1)
}

func Test_Engine_ClearAllData_ShouldReturnToInitialState(t *testing.T) {

	assert := assert.New(t)
	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	f.engine.AddSession()
	f.engine.ToggleSiteFacet(models.Indeed)
	f.backend.On("ClearAll", true).Return(nil)

	require.NoError(t, f.engine.ClearAllData(context.Background()))

	sessions, activeID := f.engine.Sessions()
	assert.Equal([]models.Session{models.AllHistorySession()}, sessions)
	assert.Equal(models.AllHistorySessionID, activeID)
	assert.Empty(f.engine.Facets().Sites)
	assert.Equal(models.StatusNew, f.engine.StatusFilter())

	jobs, _ := f.engine.collection.Snapshot()
	assert.Empty(jobs)
	_, ok := f.engine.Run()
	assert.False(ok)

	assert.NotContains(f.store.values, tabsKey)
	assert.Equal(1, f.engine.cache.(*flushCounter).flushes)
	f.backend.AssertNumberOfCalls(t, "GetSettings", 2)
}

func Test_Engine_ClearAllData_WhenBackendFails_ShouldKeepState(t *testing.T) {

	f := newEngineFixture()
	f.start(t, newJob("a", "b1", 1))
	f.backend.On("ClearAll", true).Return(&apperrors.ServerError{Status: 500})

	assert.Error(t, f.engine.ClearAllData(context.Background()))

	jobs, _ := f.engine.collection.Snapshot()
	assert.Len(t, jobs, 1)
	assert.Len(t, f.errors.all(), 1)
}

func Test_Engine_WaitForBackend_ShouldRetryUntilHealthy(t *testing.T) {

	f := newEngineFixture()
	f.backend.On("Health").Return(&apperrors.NetworkError{Op: "GET /health"}).Twice()
	f.backend.On("Health").Return(nil)

	assert.NoError(t, f.engine.WaitForBackend(context.Background()))
	f.backend.AssertNumberOfCalls(t, "Health", 3)
}

func Test_Engine_WaitForBackend_WhenNeverHealthy_ShouldGiveUp(t *testing.T) {

	f := newEngineFixture()
	f.backend.On("Health").Return(&apperrors.NetworkError{Op: "GET /health"})

	assert.Error(t, f.engine.WaitForBackend(context.Background()))
	f.backend.AssertNumberOfCalls(t, "Health", 3)
}

func Test_Engine_Stats_WhenBackendFails_ShouldRaise(t *testing.T) {

	f := newEngineFixture()
	f.backend.On("GetStats").Return(nil, &apperrors.TimeoutError{Op: "GET /stats"}).Once()
	f.backend.On("GetStats").Return(models.JobStats{Total: 4, New: 3, Saved: 1}, nil)

	_, err := f.engine.Stats(context.Background())
	assert.Error(t, err)
	assert.Len(t, f.errors.all(), 1)

	stats, err := f.engine.Stats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
}
