package services

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	"github.com/maxaizer/jobsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

type jobMutationAPI interface {
	UpdateJobStatus(ctx context.Context, id string, status models.Status) error
	DeleteJob(ctx context.Context, id string) error
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type AlwaysConfirm struct{}

func (AlwaysConfirm) Confirm(context.Context, string) bool {
	return true
}

const deletePrompt = "Delete this job?"

// Mutator applies status changes and deletions to the collection first and reconciles
// with the backend in the background, rolling back on failure.
type Mutator struct {
	api        jobMutationAPI
	collection *JobCollection
	confirmer  Confirmer
	bus        EventBus.Bus
	clock      clock.Clock
	window     time.Duration

	mu        sync.Mutex
	lastCalls map[string]time.Time
	pending   sync.WaitGroup
}

func NewMutator(api jobMutationAPI, collection *JobCollection, confirmer Confirmer, bus EventBus.Bus,
	c clock.Clock, debounceWindow time.Duration) *Mutator {

	if confirmer == nil {
		confirmer = AlwaysConfirm{}
	}
	return &Mutator{
		api:        api,
		collection: collection,
		confirmer:  confirmer,
		bus:        bus,
		clock:      c,
		window:     debounceWindow,
		lastCalls:  make(map[string]time.Time),
	}
}

// SetStatus returns once the local change is visible. Repeated calls for the same job
// inside the debounce window do nothing.
func (m *Mutator) SetStatus(ctx context.Context, id string, status models.Status) error {
	if _, err := models.ToStatus(string(status)); err != nil {
		return err
	}
	if !m.admit("status-" + id) {
		log.Debugf("debounced status change of job %s", id)
		return nil
	}

	epoch := m.collection.Epoch()
	m.collection.PinStatus(id, status)
	previous, found := m.collection.SetStatus(id, status)
	if !found {
		m.collection.Unpin(id)
		return apperrors.ErrJobNotFound
	}

	m.reconcile(ctx, id, "status", func(ctx context.Context) error {
		return m.api.UpdateJobStatus(ctx, id, status)
	}, func() {
		m.collection.RevertStatus(epoch, id, status, previous.Status)
	})
	return nil
}

// DeleteRecord removes a job after the user confirms. Unconfirmed and debounced calls do nothing.
func (m *Mutator) DeleteRecord(ctx context.Context, id string) error {
	if !m.admit("delete-" + id) {
		log.Debugf("debounced deletion of job %s", id)
		return nil
	}
	if !m.confirmer.Confirm(ctx, deletePrompt) {
		return nil
	}

	epoch := m.collection.Epoch()
	m.collection.PinDeleted(id)
	removed, index, found := m.collection.Remove(id)
	if !found {
		m.collection.Unpin(id)
		return apperrors.ErrJobNotFound
	}

	m.reconcile(ctx, id, "delete", func(ctx context.Context) error {
		return m.api.DeleteJob(ctx, id)
	}, func() {
		m.collection.Restore(epoch, removed, index)
	})
	return nil
}

// Wait blocks until every backend call started so far has settled.
func (m *Mutator) Wait() {
	m.pending.Wait()
}

func (m *Mutator) Reset() {
	m.mu.Lock()
	m.lastCalls = make(map[string]time.Time)
	m.mu.Unlock()
}

func (m *Mutator) reconcile(ctx context.Context, id string, operation string,
	remote func(ctx context.Context) error, rollback func()) {

	ctx = context.WithoutCancel(ctx)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		defer m.collection.Unpin(id)

		err := remote(ctx)
		if err == nil {
			return
		}

		rollback()
		metrics.RollbacksCounter.WithLabelValues(operation).Inc()
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeMutation).
			Errorf("%s of job %s failed, rolled back: %v", operation, id, err)
		m.bus.Publish(events.ErrorRaisedTopic, events.ErrorRaised{Err: err, Message: apperrors.UserMessage(err)})
	}()
}

func (m *Mutator) admit(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if last, found := m.lastCalls[key]; found && now.Sub(last) < m.window {
		return false
	}
	m.lastCalls[key] = now
	return true
}
