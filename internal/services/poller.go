package services

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	"github.com/maxaizer/jobsync/internal/metrics"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type pipelineAPI interface {
	UpdateSettings(ctx context.Context, settings models.Settings) error
	StartScrape(ctx context.Context, scrape models.ScrapeRequest) (string, error)
	GetPipelineStatus(ctx context.Context, jobID string) (models.PipelineStatus, error)
}

type batchMerger interface {
	MergeBatch(ctx context.Context, batchID string) error
}

// runListener is told once about the terminal state of every polled run.
type runListener interface {
	RunCompleted(ctx context.Context, run models.PipelineRun)
	RunFailed(run models.PipelineRun, err error)
}

// Poller submits scrape runs and drives them through idle -> running -> done|failed.
// At most one run is in flight at a time.
type Poller struct {
	api       pipelineAPI
	merger    batchMerger
	listener  runListener
	bus       EventBus.Bus
	clock     clock.Clock
	scheduler clock.Scheduler
	interval  time.Duration
	cooldown  *rate.Limiter

	mu         sync.Mutex
	run        *models.PipelineRun
	submitting bool
	stopTicker func()
	epoch      uint64
}

func NewPoller(api pipelineAPI, merger batchMerger, listener runListener, bus EventBus.Bus,
	c clock.Clock, scheduler clock.Scheduler, interval time.Duration, cooldown time.Duration) *Poller {

	return &Poller{
		api:       api,
		merger:    merger,
		listener:  listener,
		bus:       bus,
		clock:     c,
		scheduler: scheduler,
		interval:  interval,
		cooldown:  newCooldown(cooldown),
	}
}

func newCooldown(window time.Duration) *rate.Limiter {
	if window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window), 1)
}

// Run returns the tracked run, if any.
func (p *Poller) Run() (models.PipelineRun, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return models.PipelineRun{}, false
	}
	return cloneRun(*p.run), true
}

// Submit validates query, stores it as the backend settings and starts a scrape run
// attributed to originSessionID. Polling starts once the backend returns a job id.
// A run that comes back after a Reset is not tracked and fails with ErrRunDiscarded.
func (p *Poller) Submit(ctx context.Context, query models.Query, originSessionID string) (models.PipelineRun, error) {

	if err := query.Validate(); err != nil {
		return models.PipelineRun{}, err
	}

	now := p.clock.Now()

	p.mu.Lock()
	reservation := p.cooldown.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		p.mu.Unlock()
		return models.PipelineRun{}, &apperrors.RateLimitError{Remaining: delay.Round(time.Millisecond)}
	}
	if p.submitting || (p.run != nil && !p.run.State.IsTerminal()) {
		reservation.CancelAt(now)
		p.mu.Unlock()
		return models.PipelineRun{}, &apperrors.RateLimitError{InFlight: true}
	}
	p.submitting = true
	epoch := p.epoch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.submitting = false
		p.mu.Unlock()
	}()

	if err := p.api.UpdateSettings(ctx, models.SettingsFromQuery(query)); err != nil {
		p.failSubmission(epoch, originSessionID, now)
		return models.PipelineRun{}, err
	}

	sites := lo.Map(query.Sites, func(site models.Site, _ int) string { return string(site) })
	p.publishRun(epoch, &models.PipelineRun{
		OriginSessionID: originSessionID,
		SubmittedAt:     now,
		PipelineStatus: models.PipelineStatus{
			State:    models.RunRunning,
			LogLines: []string{"Initializing..."},
			Stats: models.RunStats{
				TotalQueries: 1,
				CurrentSite:  strings.Join(sites, ","),
				StartedAt:    now,
			},
		},
	})

	jobID, err := p.api.StartScrape(ctx, models.ScrapeRequest{
		Titles:    query.Title,
		Locations: query.Location,
		Country:   query.Country,
		HoursOld:  query.HoursOld,
	})
	if err != nil {
		p.failSubmission(epoch, originSessionID, now)
		return models.PipelineRun{}, err
	}

	p.mu.Lock()
	if epoch != p.epoch || p.run == nil {
		p.mu.Unlock()
		log.Infof("scrape run %s was submitted after a reset, not polling it", jobID)
		return models.PipelineRun{}, apperrors.ErrRunDiscarded
	}
	p.run.JobID = jobID
	p.stopTickerLocked()
	p.stopTicker = p.scheduler.Every(p.interval, func() {
		p.Tick(context.Background())
	})
	run := cloneRun(*p.run)
	p.mu.Unlock()

	log.Infof("scrape run %s started from session %s", jobID, originSessionID)
	p.bus.Publish(events.RunStatusTopic, events.RunStatus{Run: run})
	return run, nil
}

// Tick polls the backend once. Overlapping ticks are fine: merges are keyed by id and
// the terminal transition is taken under the lock exactly once.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	if p.run == nil || p.run.JobID == "" || p.run.State.IsTerminal() {
		p.mu.Unlock()
		return
	}
	jobID, epoch := p.run.JobID, p.epoch
	p.mu.Unlock()

	status, err := p.api.GetPipelineStatus(ctx, jobID)
	if err != nil {
		metrics.PollTicksCounter.WithLabelValues("error").Inc()
		if apperrors.IsTransient(err) {
			log.Debugf("poll of run %s failed, retrying next tick: %v", jobID, err)
		} else {
			log.Warnf("poll of run %s failed, retrying next tick: %v", jobID, err)
		}
		return
	}

	p.mu.Lock()
	if epoch != p.epoch || p.run == nil || p.run.JobID != jobID || p.run.State.IsTerminal() {
		p.mu.Unlock()
		return
	}
	p.applyStatusLocked(status)
	run := cloneRun(*p.run)
	if run.State.IsTerminal() {
		p.stopTickerLocked()
	}
	p.mu.Unlock()

	metrics.PollTicksCounter.WithLabelValues(string(run.State)).Inc()
	p.bus.Publish(events.RunStatusTopic, events.RunStatus{Run: run})

	switch run.State {
	case models.RunDone:
		log.Infof("scrape run %s done: %d new, %d duplicates, %d filtered", jobID,
			run.Stats.NewRecords, run.Stats.Duplicates, run.Stats.Filtered)
		p.listener.RunCompleted(ctx, run)
	case models.RunFailed:
		log.WithField(logger.ErrorTypeField, logger.ErrorTypePipeline).Errorf("scrape run %s failed", jobID)
		p.listener.RunFailed(run, &apperrors.RunFailedError{JobID: jobID})
	default:
		if run.Stats.BatchID == "" {
			return
		}
		if err := p.merger.MergeBatch(ctx, run.Stats.BatchID); err != nil {
			log.Debugf("merge of batch %s failed, retrying next tick: %v", run.Stats.BatchID, err)
		}
	}
}

// Stop cancels the poll interval. Results of a tick already in flight no longer move the run.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.stopTickerLocked()
}

// Reset stops polling and forgets the tracked run.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.epoch++
	p.stopTickerLocked()
	p.run = nil
	p.mu.Unlock()

	p.bus.Publish(events.RunStatusTopic, events.RunStatus{})
}

func (p *Poller) applyStatusLocked(status models.PipelineStatus) {
	if status.State != models.RunUnknown {
		p.run.State = status.State
	}
	if len(status.LogLines) > 0 {
		p.run.LogLines = status.LogLines
	}

	startedAt := p.run.Stats.StartedAt
	p.run.Stats = status.Stats
	if p.run.Stats.StartedAt.IsZero() {
		p.run.Stats.StartedAt = startedAt
	}
}

func (p *Poller) failSubmission(epoch uint64, originSessionID string, submittedAt time.Time) {
	p.publishRun(epoch, &models.PipelineRun{
		OriginSessionID: originSessionID,
		SubmittedAt:     submittedAt,
		PipelineStatus: models.PipelineStatus{
			State:    models.RunFailed,
			LogLines: []string{"Failed."},
		},
	})
}

func (p *Poller) publishRun(epoch uint64, run *models.PipelineRun) {
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.run = run
	snapshot := cloneRun(*run)
	p.mu.Unlock()

	p.bus.Publish(events.RunStatusTopic, events.RunStatus{Run: snapshot})
}

func (p *Poller) stopTickerLocked() {
	if p.stopTicker != nil {
		p.stopTicker()
		p.stopTicker = nil
	}
}

func cloneRun(run models.PipelineRun) models.PipelineRun {
	run.LogLines = slices.Clone(run.LogLines)
	return run
}
