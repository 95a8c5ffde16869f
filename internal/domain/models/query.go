package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/samber/lo"
)

// Query holds the search parameters submitted from a session.
type Query struct {
	Title            string `json:"title" validate:"required"`
	Location         string `json:"location" validate:"required"`
	Country          string `json:"country"`
	IncludeKeywords  string `json:"keywordsInc"`
	ExcludeKeywords  string `json:"keywordsExc"`
	Sites            []Site `json:"sites" validate:"min=1"`
	ResultsPerSite   int    `json:"resultsPerSite"`
	HoursOld         int    `json:"hoursOld"`
	CandidateProfile string `json:"profile"`
}

var queryValidator = validator.New()

var queryFieldNames = map[string]string{
	"Title":    "title",
	"Location": "location",
	"Sites":    "source site",
}

// Validate trims text fields and reports every missing required field at once.
func (q Query) Validate() error {
	q.Title = strings.TrimSpace(q.Title)
	q.Location = strings.TrimSpace(q.Location)

	err := queryValidator.Struct(q)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fields := lo.Map(validationErrs, func(fieldErr validator.FieldError, _ int) string {
		if name, found := queryFieldNames[fieldErr.Field()]; found {
			return name
		}
		return strings.ToLower(fieldErr.Field())
	})
	return &apperrors.ValidationError{Fields: fields}
}

// Titles splits the comma separated title field.
func (q Query) Titles() []string {
	parts := lo.Map(strings.Split(q.Title, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Compact(parts)
}
