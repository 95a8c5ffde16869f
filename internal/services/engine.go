package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/config"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Backend is everything the engine needs from the job bot API.
type Backend interface {
	jobSearcher
	jobMutationAPI
	pipelineAPI
	GetJob(ctx context.Context, id string) (models.JobRecord, error)
	GetSettings(ctx context.Context) (models.Settings, error)
	GetStats(ctx context.Context) (models.JobStats, error)
	ClearAll(ctx context.Context, resetSettings bool) error
	Health(ctx context.Context) error
}

type cacheFlusher interface {
	Flush()
}

type EngineDependencies struct {
	Backend   Backend
	Bus       EventBus.Bus
	Clock     clock.Clock
	Scheduler clock.Scheduler
	Store     keyValueStore
	Confirmer Confirmer
	Cache     cacheFlusher
}

type HealthCheck struct {
	Attempts int
	Interval time.Duration
}

// Engine is the single entry point for presentation. It owns the canonical collection,
// the tabs, the poll loop and the optimistic mutations.
type Engine struct {
	backend     Backend
	bus         EventBus.Bus
	cache       cacheFlusher
	cfg         config.EngineConfig
	health      HealthCheck
	collection  *JobCollection
	poller      *Poller
	mutator     *Mutator
	sessions    *SessionModel
	preferences *Preferences
	viewer      Viewer

	mu           sync.Mutex
	statusFilter models.Status
	facets       FacetFilters
	settings     models.Settings
}

func NewEngine(deps EngineDependencies, cfg config.EngineConfig, health HealthCheck) *Engine {
	e := &Engine{
		backend:      deps.Backend,
		bus:          deps.Bus,
		cache:        deps.Cache,
		cfg:          cfg,
		health:       health,
		statusFilter: models.StatusNew,
		preferences:  NewPreferences(deps.Store),
	}

	e.collection = NewJobCollection(deps.Bus, deps.Clock, deps.Scheduler, deps.Backend,
		cfg.SearchLimit, cfg.HighlightWindow)
	e.poller = NewPoller(deps.Backend, e.collection, e, deps.Bus, deps.Clock, deps.Scheduler,
		cfg.PollInterval, cfg.SubmitCooldown)
	e.mutator = NewMutator(deps.Backend, e.collection, deps.Confirmer, deps.Bus, deps.Clock, cfg.DebounceWindow)
	e.sessions = NewSessionModel(deps.Bus, e.preferences, nil, models.AllHistorySessionID)
	return e
}

// Start restores tabs and theme, then loads settings and the first window of jobs.
func (e *Engine) Start(ctx context.Context) error {
	sessions, activeID := e.preferences.LoadSessions(ctx)
	e.sessions.Load(sessions, activeID)
	theme := e.preferences.LoadTheme(ctx)
	log.Infof("restored %d tabs, active tab %s, theme %s", len(sessions), activeID, theme)

	if _, err := e.Settings(ctx); err != nil {
		e.raise(err)
	}

	err := e.collection.MergeFetch(ctx, FilterCriteria{Status: e.StatusFilter(), MaxAge: e.cfg.CacheTTL}, MergeReplace)
	if err != nil {
		return e.raise(err)
	}
	return nil
}

// Stop cancels polling and waits for optimistic mutations to settle.
func (e *Engine) Stop() {
	e.poller.Stop()
	e.mutator.Wait()
}

// WaitForBackend probes /health until it answers or the attempts run out.
func (e *Engine) WaitForBackend(ctx context.Context) error {
	attempts := max(e.health.Attempts, 1)

	_, _, err := lo.AttemptWhileWithDelay(attempts, e.health.Interval, func(i int, _ time.Duration) (error, bool) {
		if i > 0 {
			log.Infof("backend is not ready yet, attempt %d of %d", i+1, attempts)
		}
		err := e.backend.Health(ctx)
		return err, ctx.Err() == nil
	})
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeBackendApi).Errorf("backend is unreachable: %v", err)
	}
	return err
}

// View returns the derived jobs for the active tab and the facet choices next to it.
// Both are shared between callers and must not be modified.
func (e *Engine) View() ([]models.JobRecord, FacetOptions) {
	collection, version := e.collection.Snapshot()
	status, facets := e.filters()
	return e.viewer.Derive(collection, version, e.sessions.Active(), status, facets)
}

func (e *Engine) Highlighted() []string {
	return e.collection.Highlighted()
}

func (e *Engine) Sessions() ([]models.Session, string) {
	return e.sessions.Sessions(), e.sessions.ActiveID()
}

func (e *Engine) Run() (models.PipelineRun, bool) {
	return e.poller.Run()
}

func (e *Engine) Theme() models.Theme {
	return e.preferences.Theme()
}

func (e *Engine) ToggleTheme(ctx context.Context) (models.Theme, error) {
	theme, err := e.preferences.ToggleTheme(ctx)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeStorage).Errorf("failed to save theme: %v", err)
	}
	return theme, err
}

func (e *Engine) StatusFilter() models.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusFilter
}

// SubmitSearch records query on the active tab and starts a scrape run for it.
func (e *Engine) SubmitSearch(ctx context.Context, query models.Query) (models.PipelineRun, error) {
	if err := query.Validate(); err != nil {
		return models.PipelineRun{}, e.raise(err)
	}

	origin := e.sessions.ActiveID()
	if err := e.sessions.RecordQuery(origin, query); err != nil {
		return models.PipelineRun{}, e.raise(err)
	}

	run, err := e.poller.Submit(ctx, query, origin)
	if err != nil {
		return models.PipelineRun{}, e.raise(err)
	}
	return run, nil
}

func (e *Engine) SetStatus(ctx context.Context, id string, status models.Status) error {
	if err := e.mutator.SetStatus(ctx, id, status); err != nil {
		return e.raise(err)
	}
	return nil
}

func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	if err := e.mutator.DeleteRecord(ctx, id); err != nil {
		return e.raise(err)
	}
	return nil
}

// GetJob returns a record from the collection, falling back to the backend.
func (e *Engine) GetJob(ctx context.Context, id string) (models.JobRecord, error) {
	if job, found := e.collection.Get(id); found {
		return job, nil
	}
	return e.backend.GetJob(ctx, id)
}

// SetStatusFilter switches the status bucket and replaces the collection with its window.
func (e *Engine) SetStatusFilter(ctx context.Context, status models.Status) error {
	if _, err := models.ToStatus(string(status)); err != nil {
		return err
	}

	e.mu.Lock()
	e.statusFilter = status
	e.mu.Unlock()

	err := e.collection.MergeFetch(ctx, FilterCriteria{Status: status, MaxAge: e.cfg.CacheTTL}, MergeReplace)
	if err != nil {
		return e.raise(err)
	}
	return nil
}

func (e *Engine) AddSession() models.Session {
	session := e.sessions.AddSession()
	e.resetFacets()
	return session
}

func (e *Engine) CloseSession(id string) error {
	before := e.sessions.ActiveID()
	if err := e.sessions.CloseSession(id); err != nil {
		return err
	}
	if e.sessions.ActiveID() != before {
		e.resetFacets()
	}
	return nil
}

// SelectSession switches tabs. Facet selections are scoped to a tab and start empty.
func (e *Engine) SelectSession(id string) error {
	if err := e.sessions.SelectSession(id); err != nil {
		return err
	}
	e.resetFacets()
	return nil
}

func (e *Engine) Facets() FacetFilters {
	_, facets := e.filters()
	return facets
}

func (e *Engine) ToggleSiteFacet(site models.Site) {
	e.mu.Lock()
	e.facets.Sites = toggle(e.facets.Sites, site)
	e.mu.Unlock()
}

func (e *Engine) ToggleLocationFacet(location string) {
	e.mu.Lock()
	e.facets.Locations = toggle(e.facets.Locations, location)
	e.mu.Unlock()
}

func (e *Engine) ClearFacets() {
	e.resetFacets()
}

// Settings returns the backend search settings, served from the cache inside its ttl.
func (e *Engine) Settings(ctx context.Context) (models.Settings, error) {
	settings, err := e.backend.GetSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	return settings, nil
}

func (e *Engine) Stats(ctx context.Context) (models.JobStats, error) {
	stats, err := e.backend.GetStats(ctx)
	if err != nil {
		return models.JobStats{}, e.raise(err)
	}
	return stats, nil
}

// ClearAllData wipes the backend and returns the engine to its initial state.
func (e *Engine) ClearAllData(ctx context.Context) error {
	if err := e.backend.ClearAll(ctx, true); err != nil {
		return e.raise(err)
	}

	e.poller.Reset()
	e.collection.Reset()
	e.mutator.Reset()
	e.sessions.Reset()
	if e.cache != nil {
		e.cache.Flush()
	}
	if err := e.preferences.ClearSessions(ctx); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeStorage).Errorf("failed to remove stored tabs: %v", err)
	}

	e.mu.Lock()
	e.statusFilter = models.StatusNew
	e.facets = FacetFilters{}
	e.settings = models.Settings{}
	e.mu.Unlock()

	log.Info("all data cleared")

	if _, err := e.Settings(ctx); err != nil {
		e.raise(err)
	}
	return nil
}

// RunCompleted files the finished batch under the originating tab and reconciles the
// collection with a full read so records missed between ticks are picked up.
func (e *Engine) RunCompleted(ctx context.Context, run models.PipelineRun) {
	if batchID := run.Stats.BatchID; batchID != "" {
		session, err := e.sessions.CompleteRun(run.OriginSessionID, batchID)
		if err != nil {
			log.Warnf("couldn't attach batch %s to a tab: %v", batchID, err)
		} else {
			log.Infof("batch %s attached to tab %s (%d batches)", batchID, session.ID, len(session.BatchIDs))
		}
	} else {
		log.Warnf("scrape run %s finished without a batch id", run.JobID)
	}

	err := e.collection.MergeFetch(ctx, FilterCriteria{Status: e.StatusFilter()}, MergeReplace)
	if err != nil {
		e.raise(err)
	}
}

func (e *Engine) RunFailed(_ models.PipelineRun, err error) {
	e.raise(err)
}

func (e *Engine) filters() (models.Status, FacetFilters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusFilter, e.facets.clone()
}

func (e *Engine) resetFacets() {
	e.mu.Lock()
	e.facets = FacetFilters{}
	e.mu.Unlock()
}

// raise publishes err as a dismissible notification and hands it back.
func (e *Engine) raise(err error) error {
	if isBackendFailure(err) {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeBackendApi).Errorf("backend request failed: %v", err)
	}
	e.bus.Publish(events.ErrorRaisedTopic, events.ErrorRaised{Err: err, Message: apperrors.UserMessage(err)})
	return err
}

func isBackendFailure(err error) bool {
	var (
		serverErr *apperrors.ServerError
		apiErr    *apperrors.APIError
	)
	return apperrors.IsTransient(err) || errors.As(err, &serverErr) || errors.As(err, &apiErr)
}

func toggle[T comparable](values []T, value T) []T {
	if slices.Contains(values, value) {
		return lo.Without(values, value)
	}
	return append(slices.Clone(values), value)
}
