package models

import (
	"fmt"
	"slices"
)

type SessionKind string

const (
	KindAllHistory SessionKind = "static"
	KindDraft      SessionKind = "new"
	KindResult     SessionKind = "result"
)

const (
	AllHistorySessionID = "all"
	DraftLabel          = "New Search"

	allHistoryLabel    = "All History"
	defaultResultLabel = "Results"
	maxLabelLength     = 18
	truncatedLabelSize = 15
)

// Session is a labelled view over the job collection. BatchIDs is append-only
// and only populated for result sessions.
type Session struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Kind     SessionKind `json:"type"`
	Query    *Query      `json:"query,omitempty"`
	BatchIDs []string    `json:"batchIds,omitempty"`
}

func AllHistorySession() Session {
	return Session{ID: AllHistorySessionID, Label: allHistoryLabel, Kind: KindAllHistory}
}

func (s Session) IsAllHistory() bool {
	return s.Kind == KindAllHistory
}

func (s Session) HasBatch(batchID string) bool {
	return slices.Contains(s.BatchIDs, batchID)
}

// Clone copies the slices so the result can be handed out safely.
func (s Session) Clone() Session {
	s.BatchIDs = slices.Clone(s.BatchIDs)
	if s.Query != nil {
		q := *s.Query
		q.Sites = slices.Clone(q.Sites)
		s.Query = &q
	}
	return s
}

// ResultLabel builds a tab label from the first searched title, e.g. "Golang developer +2".
func ResultLabel(query *Query) string {
	if query == nil {
		return defaultResultLabel
	}

	titles := query.Titles()
	if len(titles) == 0 {
		return defaultResultLabel
	}

	label := titles[0]
	if runes := []rune(label); len(runes) > maxLabelLength {
		label = string(runes[:truncatedLabelSize]) + "..."
	}
	if len(titles) > 1 {
		label += fmt.Sprintf(" +%d", len(titles)-1)
	}
	return label
}
