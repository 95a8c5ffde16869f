package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clients/backend"
	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/metrics"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type MergeMode string

const (
	MergeReplace     MergeMode = "replace"
	MergeIncremental MergeMode = "incremental"
)

type jobSearcher interface {
	SearchJobs(ctx context.Context, search backend.JobSearchRequest, ttl time.Duration) ([]models.JobRecord, error)
}

// FilterCriteria selects the server side window a merge-fetch reads.
// MaxAge lets the read be served from the request cache; zero always hits the network.
type FilterCriteria struct {
	Status  models.Status
	BatchID string
	MaxAge  time.Duration
}

// pin keeps a record's local state while an optimistic mutation is in flight.
type pin struct {
	status  models.Status
	deleted bool
	refs    int
}

// JobCollection owns the canonical, deduplicated and sorted set of job records.
// The slice is never modified after it is published; every change swaps in a new one.
type JobCollection struct {
	bus             EventBus.Bus
	clock           clock.Clock
	scheduler       clock.Scheduler
	searcher        jobSearcher
	limit           int
	highlightWindow time.Duration

	mu         sync.Mutex
	jobs       []models.JobRecord
	status     models.Status
	version    uint64
	epoch      uint64
	replaceSeq uint64
	pins       map[string]*pin
	highlight  map[string]time.Time
}

func NewJobCollection(bus EventBus.Bus, c clock.Clock, scheduler clock.Scheduler, searcher jobSearcher,
	limit int, highlightWindow time.Duration) *JobCollection {

	return &JobCollection{
		bus:             bus,
		clock:           c,
		scheduler:       scheduler,
		searcher:        searcher,
		limit:           limit,
		highlightWindow: highlightWindow,
		status:          models.StatusNew,
		pins:            make(map[string]*pin),
		highlight:       make(map[string]time.Time),
	}
}

// Snapshot returns the current collection and its version. The slice must not be modified.
func (c *JobCollection) Snapshot() ([]models.JobRecord, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs, c.version
}

func (c *JobCollection) Status() models.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *JobCollection) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *JobCollection) Get(id string) (models.JobRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return find(c.jobs, id)
}

func (c *JobCollection) Highlighted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlightedLocked()
}

// MergeBatch streams one run's records into the collection for the current status window.
func (c *JobCollection) MergeBatch(ctx context.Context, batchID string) error {
	return c.MergeFetch(ctx, FilterCriteria{Status: c.Status(), BatchID: batchID}, MergeIncremental)
}

// MergeFetch reads the window described by criteria and merges it. Results that arrive after
// a reset, or a replace that was overtaken by a newer one, are dropped.
func (c *JobCollection) MergeFetch(ctx context.Context, criteria FilterCriteria, mode MergeMode) error {
	if criteria.Status == "" {
		criteria.Status = models.StatusNew
	}

	c.mu.Lock()
	epoch := c.epoch
	if mode == MergeReplace {
		c.replaceSeq++
	}
	seq := c.replaceSeq
	c.mu.Unlock()

	fetched, err := c.searcher.SearchJobs(ctx,
		backend.NewJobSearchRequest(criteria.Status, criteria.BatchID, c.limit), criteria.MaxAge)
	if err != nil {
		return err
	}

	switch mode {
	case MergeReplace:
		c.replace(epoch, seq, criteria.Status, fetched)
	default:
		c.mergeIncremental(epoch, criteria.Status, fetched)
	}
	return nil
}

func (c *JobCollection) replace(epoch uint64, seq uint64, status models.Status, fetched []models.JobRecord) {
	c.mu.Lock()
	if epoch != c.epoch || seq != c.replaceSeq {
		c.mu.Unlock()
		log.Debugf("dropping outdated %s fetch", status)
		return
	}

	next := c.applyPins(lo.UniqBy(fetched, recordID))
	sortJobs(next)

	c.jobs = next
	c.status = status
	c.highlight = make(map[string]time.Time)
	event := c.bumpLocked()
	c.mu.Unlock()

	metrics.MergedJobsCounter.WithLabelValues(string(MergeReplace)).Add(float64(len(next)))
	c.bus.Publish(events.JobsChangedTopic, event)
	c.bus.Publish(events.HighlightChangedTopic, events.HighlightChanged{})
}

func (c *JobCollection) mergeIncremental(epoch uint64, status models.Status, fetched []models.JobRecord) {
	c.mu.Lock()
	if epoch != c.epoch || status != c.status {
		c.mu.Unlock()
		log.Debugf("dropping incremental %s fetch for a changed collection", status)
		return
	}

	known := lo.SliceToMap(c.jobs, func(job models.JobRecord) (string, struct{}) {
		return job.ID, struct{}{}
	})
	added := lo.Filter(lo.UniqBy(fetched, recordID), func(job models.JobRecord, _ int) bool {
		_, exists := known[job.ID]
		return !exists
	})
	added = c.applyPins(added)

	if len(added) == 0 {
		c.mu.Unlock()
		return
	}

	next := make([]models.JobRecord, 0, len(c.jobs)+len(added))
	next = append(next, c.jobs...)
	next = append(next, added...)
	sortJobs(next)
	c.jobs = next

	expiresAt := c.clock.Now().Add(c.highlightWindow)
	for _, job := range added {
		c.highlight[job.ID] = expiresAt
	}
	highlighted := events.HighlightChanged{IDs: c.highlightedLocked()}
	event := c.bumpLocked()
	c.mu.Unlock()

	c.scheduler.After(c.highlightWindow, c.expireHighlight)

	metrics.MergedJobsCounter.WithLabelValues(string(MergeIncremental)).Add(float64(len(added)))
	c.bus.Publish(events.JobsChangedTopic, event)
	c.bus.Publish(events.HighlightChangedTopic, highlighted)
	c.bus.Publish(events.NotificationTopic, events.Notification{Message: newJobsMessage(len(added))})
}

func (c *JobCollection) expireHighlight() {
	c.mu.Lock()
	now := c.clock.Now()
	expired := 0
	for id, expiresAt := range c.highlight {
		if !now.Before(expiresAt) {
			delete(c.highlight, id)
			expired++
		}
	}
	highlighted := events.HighlightChanged{IDs: c.highlightedLocked()}
	c.mu.Unlock()

	if expired > 0 {
		c.bus.Publish(events.HighlightChangedTopic, highlighted)
	}
}

// SetStatus replaces the record with a copy carrying status and returns the previous record.
func (c *JobCollection) SetStatus(id string, status models.Status) (models.JobRecord, bool) {
	c.mu.Lock()
	previous, found := find(c.jobs, id)
	if !found {
		c.mu.Unlock()
		return models.JobRecord{}, false
	}

	next := slices.Clone(c.jobs)
	next[slices.IndexFunc(next, byID(id))] = previous.WithStatus(status)
	c.jobs = next
	event := c.bumpLocked()
	c.mu.Unlock()

	c.bus.Publish(events.JobsChangedTopic, event)
	return previous, true
}

// RevertStatus undoes SetStatus unless the collection was reset or the record changed again since.
func (c *JobCollection) RevertStatus(epoch uint64, id string, applied models.Status, previous models.Status) bool {
	c.mu.Lock()
	current, found := find(c.jobs, id)
	if epoch != c.epoch || !found || current.Status != applied {
		c.mu.Unlock()
		return false
	}

	next := slices.Clone(c.jobs)
	next[slices.IndexFunc(next, byID(id))] = current.WithStatus(previous)
	c.jobs = next
	event := c.bumpLocked()
	c.mu.Unlock()

	c.bus.Publish(events.JobsChangedTopic, event)
	return true
}

// Remove drops the record and reports the index it held, for Restore.
func (c *JobCollection) Remove(id string) (models.JobRecord, int, bool) {
	c.mu.Lock()
	index := slices.IndexFunc(c.jobs, byID(id))
	if index < 0 {
		c.mu.Unlock()
		return models.JobRecord{}, -1, false
	}
	removed := c.jobs[index]

	c.jobs = slices.Delete(slices.Clone(c.jobs), index, index+1)
	delete(c.highlight, id)
	event := c.bumpLocked()
	c.mu.Unlock()

	c.bus.Publish(events.JobsChangedTopic, event)
	return removed, index, true
}

// Restore puts a removed record back at index, clamped to the current length,
// unless the collection was reset since.
func (c *JobCollection) Restore(epoch uint64, record models.JobRecord, index int) bool {
	c.mu.Lock()
	if _, found := find(c.jobs, record.ID); epoch != c.epoch || found {
		c.mu.Unlock()
		return false
	}

	index = min(max(index, 0), len(c.jobs))
	c.jobs = slices.Insert(slices.Clone(c.jobs), index, record)
	event := c.bumpLocked()
	c.mu.Unlock()

	c.bus.Publish(events.JobsChangedTopic, event)
	return true
}

func (c *JobCollection) PinStatus(id string, status models.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pinLocked(id)
	p.status = status
	p.deleted = false
}

func (c *JobCollection) PinDeleted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinLocked(id).deleted = true
}

func (c *JobCollection) Unpin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, found := c.pins[id]
	if !found {
		return
	}
	p.refs--
	if p.refs <= 0 {
		delete(c.pins, id)
	}
}

// Reset empties the collection and invalidates every fetch or rollback still in flight.
func (c *JobCollection) Reset() {
	c.mu.Lock()
	c.epoch++
	c.jobs = nil
	c.status = models.StatusNew
	c.pins = make(map[string]*pin)
	c.highlight = make(map[string]time.Time)
	event := c.bumpLocked()
	c.mu.Unlock()

	c.bus.Publish(events.JobsChangedTopic, event)
	c.bus.Publish(events.HighlightChangedTopic, events.HighlightChanged{})
}

func (c *JobCollection) pinLocked(id string) *pin {
	p, found := c.pins[id]
	if !found {
		p = &pin{}
		c.pins[id] = p
	}
	p.refs++
	return p
}

// applyPins must be called with the lock held. It returns a fresh slice.
func (c *JobCollection) applyPins(records []models.JobRecord) []models.JobRecord {
	result := make([]models.JobRecord, 0, len(records))
	for _, record := range records {
		p, pinned := c.pins[record.ID]
		switch {
		case !pinned:
			result = append(result, record)
		case p.deleted:
			continue
		case p.status != "":
			result = append(result, record.WithStatus(p.status))
		default:
			result = append(result, record)
		}
	}
	return result
}

func (c *JobCollection) bumpLocked() events.JobsChanged {
	c.version++
	return events.JobsChanged{Version: c.version, Count: len(c.jobs)}
}

func (c *JobCollection) highlightedLocked() []string {
	ids := lo.Keys(c.highlight)
	sort.Strings(ids)
	return ids
}

// sortJobs orders by posting date, newest first with undated records last, then by fetch time.
func sortJobs(jobs []models.JobRecord) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		switch {
		case a.PostedAt != nil && b.PostedAt == nil:
			return true
		case a.PostedAt == nil && b.PostedAt != nil:
			return false
		case a.PostedAt != nil && !a.PostedAt.Equal(*b.PostedAt):
			return a.PostedAt.After(*b.PostedAt)
		}
		return a.FetchedAt.After(b.FetchedAt)
	})
}

func find(jobs []models.JobRecord, id string) (models.JobRecord, bool) {
	return lo.Find(jobs, byID(id))
}

func byID(id string) func(models.JobRecord) bool {
	return func(job models.JobRecord) bool {
		return job.ID == id
	}
}

func recordID(job models.JobRecord) string {
	return job.ID
}

func newJobsMessage(count int) string {
	if count == 1 {
		return "1 new job found"
	}
	return fmt.Sprintf("%d new jobs found", count)
}
