package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotRemovable = errors.New("session can't be removed")
	ErrInvalidStatus       = errors.New("invalid job status")
	ErrRunDiscarded        = errors.New("search was discarded because data was cleared")
)

// ValidationError lists the search fields that are missing. Never retried.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// RateLimitError is returned when a submission arrives inside the cooldown window
// or while another run is still in flight.
type RateLimitError struct {
	Remaining time.Duration
	InFlight  bool
}

func (e *RateLimitError) Error() string {
	if e.InFlight {
		return "a search is already running"
	}
	return fmt.Sprintf("please wait %v before starting another search", e.Remaining.Round(time.Second))
}

type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timed out", e.Op)
}

type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server responded with status %d: %s", e.Status, e.Body)
}

// APIError is a non-5xx failure reported by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

type RunFailedError struct {
	JobID string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("pipeline run %s failed", e.JobID)
}

// IsTransient reports whether err is worth retrying on the next poll tick.
func IsTransient(err error) bool {
	var timeoutErr *TimeoutError
	var networkErr *NetworkError
	return errors.As(err, &timeoutErr) || errors.As(err, &networkErr)
}

// UserMessage renders err as notification text.
func UserMessage(err error) string {
	var (
		validationErr *ValidationError
		rateLimitErr  *RateLimitError
		timeoutErr    *TimeoutError
		networkErr    *NetworkError
		serverErr     *ServerError
		apiErr        *APIError
		runErr        *RunFailedError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr), errors.As(err, &rateLimitErr):
		return capitalize(err.Error())
	case errors.As(err, &timeoutErr):
		return "Request timed out. Please check your connection and try again."
	case errors.As(err, &networkErr):
		return "Cannot connect to backend. Is the server running?"
	case errors.As(err, &serverErr):
		if serverErr.Status == http.StatusServiceUnavailable {
			return "Service temporarily unavailable. Please try again later."
		}
		return "Server error. Please try again later."
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusTooManyRequests {
			return "Too many requests. Please wait a moment and try again."
		}
		return capitalize(apiErr.Message)
	case errors.As(err, &runErr):
		return "Job search failed. Check the pipeline logs."
	default:
		return capitalize(err.Error())
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + s[size:]
}
