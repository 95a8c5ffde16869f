package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	log "github.com/sirupsen/logrus"
)

const (
	tabsKey      = "job-bot-tabs"
	activeTabKey = "job-bot-active-tab"
	themeKey     = "job-bot-theme"
)

type keyValueStore interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Remove(ctx context.Context, ids ...string) error
}

// Preferences persists tabs and the theme. Missing or corrupt values fall back to defaults.
type Preferences struct {
	store keyValueStore

	mu    sync.Mutex
	theme models.Theme
}

func NewPreferences(store keyValueStore) *Preferences {
	return &Preferences{store: store, theme: models.ThemeDark}
}

func (p *Preferences) LoadSessions(ctx context.Context) ([]models.Session, string) {
	var sessions []models.Session
	if raw := p.load(ctx, tabsKey); raw != nil {
		if err := json.Unmarshal(raw, &sessions); err != nil {
			log.Warnf("stored tabs are corrupt, using defaults: %v", err)
			sessions = nil
		}
	}

	activeID := models.AllHistorySessionID
	if raw := p.load(ctx, activeTabKey); raw != nil {
		activeID = string(raw)
	}

	return normalizeSessions(sessions, activeID)
}

func (p *Preferences) SaveSessions(ctx context.Context, sessions []models.Session, activeID string) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	if err = p.store.Save(ctx, tabsKey, raw); err != nil {
		return err
	}
	return p.store.Save(ctx, activeTabKey, []byte(activeID))
}

func (p *Preferences) ClearSessions(ctx context.Context) error {
	return p.store.Remove(ctx, tabsKey, activeTabKey)
}

func (p *Preferences) LoadTheme(ctx context.Context) models.Theme {
	theme := models.ThemeDark
	switch raw := models.Theme(p.load(ctx, themeKey)); raw {
	case models.ThemeDark, models.ThemeLight:
		theme = raw
	}

	p.mu.Lock()
	p.theme = theme
	p.mu.Unlock()
	return theme
}

func (p *Preferences) Theme() models.Theme {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theme
}

func (p *Preferences) ToggleTheme(ctx context.Context) (models.Theme, error) {
	p.mu.Lock()
	if p.theme == models.ThemeDark {
		p.theme = models.ThemeLight
	} else {
		p.theme = models.ThemeDark
	}
	theme := p.theme
	p.mu.Unlock()

	return theme, p.store.Save(ctx, themeKey, []byte(theme))
}

func (p *Preferences) load(ctx context.Context, key string) []byte {
	raw, err := p.store.Load(ctx, key)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeStorage).Errorf("failed to load %s: %v", key, err)
		return nil
	}
	return raw
}
