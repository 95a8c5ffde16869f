package services

import (
	"context"
	"slices"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var errMissingBatch = errors.New("run finished without a batch id")

type sessionStore interface {
	SaveSessions(ctx context.Context, sessions []models.Session, activeID string) error
}

// SessionModel keeps the open tabs and the batch history each of them accumulated.
// The all-history tab always exists and is never removed.
type SessionModel struct {
	bus   EventBus.Bus
	store sessionStore

	mu       sync.Mutex
	sessions []models.Session
	activeID string
}

func NewSessionModel(bus EventBus.Bus, store sessionStore, sessions []models.Session, activeID string) *SessionModel {
	sessions, activeID = normalizeSessions(sessions, activeID)
	return &SessionModel{
		bus:      bus,
		store:    store,
		sessions: sessions,
		activeID: activeID,
	}
}

// normalizeSessions drops broken entries, puts the all-history tab first if it is missing
// and falls back to it when activeID does not point at an existing tab.
func normalizeSessions(sessions []models.Session, activeID string) ([]models.Session, string) {
	valid := lo.Filter(sessions, func(s models.Session, _ int) bool {
		switch s.Kind {
		case models.KindAllHistory:
			return s.ID == models.AllHistorySessionID
		case models.KindDraft, models.KindResult:
			return s.ID != "" && s.ID != models.AllHistorySessionID
		default:
			return false
		}
	})
	valid = lo.UniqBy(valid, func(s models.Session) string { return s.ID })
	valid = lo.Map(valid, func(s models.Session, _ int) models.Session { return s.Clone() })

	if !slices.ContainsFunc(valid, models.Session.IsAllHistory) {
		valid = append([]models.Session{models.AllHistorySession()}, valid...)
	}
	if !slices.ContainsFunc(valid, func(s models.Session) bool { return s.ID == activeID }) {
		activeID = models.AllHistorySessionID
	}
	return valid, activeID
}

func (m *SessionModel) Sessions() []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSessions(m.sessions)
}

func (m *SessionModel) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

func (m *SessionModel) Active() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, _ := m.findLocked(m.activeID)
	return session.Clone()
}

func (m *SessionModel) Get(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, found := m.findLocked(id)
	return session.Clone(), found
}

// AddSession opens an empty draft tab and selects it.
func (m *SessionModel) AddSession() models.Session {
	session := models.Session{
		ID:    "new-" + uuid.NewString(),
		Label: models.DraftLabel,
		Kind:  models.KindDraft,
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	m.activeID = session.ID
	m.mu.Unlock()

	m.changed()
	return session
}

// CloseSession removes a tab. Closing the selected tab selects the most recently added remaining one.
func (m *SessionModel) CloseSession(id string) error {
	if id == models.AllHistorySessionID {
		return apperrors.ErrSessionNotRemovable
	}

	m.mu.Lock()
	index := slices.IndexFunc(m.sessions, func(s models.Session) bool { return s.ID == id })
	if index < 0 {
		m.mu.Unlock()
		return apperrors.ErrSessionNotFound
	}
	m.sessions = slices.Delete(slices.Clone(m.sessions), index, index+1)
	if m.activeID == id {
		m.activeID = m.sessions[len(m.sessions)-1].ID
	}
	m.mu.Unlock()

	m.changed()
	return nil
}

func (m *SessionModel) SelectSession(id string) error {
	m.mu.Lock()
	if _, found := m.findLocked(id); !found {
		m.mu.Unlock()
		return apperrors.ErrSessionNotFound
	}
	m.activeID = id
	m.mu.Unlock()

	m.changed()
	return nil
}

// RecordQuery remembers the parameters last submitted from a tab.
func (m *SessionModel) RecordQuery(id string, query models.Query) error {
	query.Sites = slices.Clone(query.Sites)

	err := m.update(id, func(s *models.Session) {
		s.Query = &query
	})
	if err != nil {
		return err
	}

	m.changed()
	return nil
}

// CompleteRun attaches a finished batch to the tab that started the run. A draft is promoted
// to a result tab; a result tab gets the batch appended. When the origin is the all-history
// tab or was closed meanwhile, a new result tab is opened for the batch.
func (m *SessionModel) CompleteRun(id string, batchID string) (models.Session, error) {
	if batchID == "" {
		return models.Session{}, errMissingBatch
	}

	m.mu.Lock()
	index := slices.IndexFunc(m.sessions, func(s models.Session) bool { return s.ID == id })

	var completed models.Session
	switch {
	case index < 0 || m.sessions[index].IsAllHistory():
		var query *models.Query
		if index >= 0 {
			query = m.sessions[index].Query
		}
		completed = models.Session{
			ID:       uuid.NewString(),
			Label:    models.ResultLabel(query),
			Kind:     models.KindResult,
			Query:    query,
			BatchIDs: []string{batchID},
		}
		m.sessions = append(slices.Clone(m.sessions), completed.Clone())
	default:
		sessions := slices.Clone(m.sessions)
		session := sessions[index].Clone()
		if session.Kind == models.KindDraft {
			session.Kind = models.KindResult
			session.Label = models.ResultLabel(session.Query)
		}
		if !session.HasBatch(batchID) {
			session.BatchIDs = append(session.BatchIDs, batchID)
		}
		sessions[index] = session
		m.sessions = sessions
		completed = session
	}
	completed = completed.Clone()
	m.mu.Unlock()

	m.changed()
	return completed, nil
}

// Load replaces the tabs with restored ones without persisting them again.
func (m *SessionModel) Load(sessions []models.Session, activeID string) {
	sessions, activeID = normalizeSessions(sessions, activeID)

	m.mu.Lock()
	m.sessions = sessions
	m.activeID = activeID
	event := m.eventLocked()
	m.mu.Unlock()

	m.bus.Publish(events.SessionsChangedTopic, event)
}

// Reset closes every tab except all-history. Nothing is persisted.
func (m *SessionModel) Reset() {
	m.mu.Lock()
	m.sessions = []models.Session{models.AllHistorySession()}
	m.activeID = models.AllHistorySessionID
	event := m.eventLocked()
	m.mu.Unlock()

	m.bus.Publish(events.SessionsChangedTopic, event)
}

func (m *SessionModel) update(id string, fn func(s *models.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := slices.IndexFunc(m.sessions, func(s models.Session) bool { return s.ID == id })
	if index < 0 {
		return apperrors.ErrSessionNotFound
	}
	sessions := slices.Clone(m.sessions)
	session := sessions[index].Clone()
	fn(&session)
	sessions[index] = session
	m.sessions = sessions
	return nil
}

func (m *SessionModel) findLocked(id string) (models.Session, bool) {
	return lo.Find(m.sessions, func(s models.Session) bool { return s.ID == id })
}

func (m *SessionModel) eventLocked() events.SessionsChanged {
	return events.SessionsChanged{Sessions: cloneSessions(m.sessions), ActiveID: m.activeID}
}

// changed persists the tabs and tells presentation about them.
func (m *SessionModel) changed() {
	m.mu.Lock()
	event := m.eventLocked()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveSessions(context.Background(), event.Sessions, event.ActiveID); err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeStorage).Errorf("failed to save tabs: %v", err)
		}
	}
	m.bus.Publish(events.SessionsChangedTopic, event)
}

func cloneSessions(sessions []models.Session) []models.Session {
	return lo.Map(sessions, func(s models.Session, _ int) models.Session { return s.Clone() })
}
