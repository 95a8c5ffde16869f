package models

import "strings"

type Settings struct {
	Titles           string   `json:"titles"`
	Locations        string   `json:"locations"`
	Country          string   `json:"country"`
	IncludeKeywords  string   `json:"include_keywords"`
	ExcludeKeywords  string   `json:"exclude_keywords"`
	Sites            []string `json:"sites"`
	ResultsPerSite   int      `json:"results_per_site"`
	HoursOld         int      `json:"hours_old"`
	CandidateProfile string   `json:"candidate_profile"`
	Connected        bool     `json:"connected"`
}

// SettingsFromQuery builds the settings update sent ahead of a scrape submission.
func SettingsFromQuery(q Query) Settings {
	sites := make([]string, 0, len(q.Sites))
	for _, site := range q.Sites {
		sites = append(sites, string(site))
	}

	return Settings{
		Titles:           strings.TrimSpace(q.Title),
		Locations:        strings.TrimSpace(q.Location),
		Country:          q.Country,
		IncludeKeywords:  q.IncludeKeywords,
		ExcludeKeywords:  q.ExcludeKeywords,
		Sites:            sites,
		ResultsPerSite:   q.ResultsPerSite,
		HoursOld:         q.HoursOld,
		CandidateProfile: q.CandidateProfile,
	}
}

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)
