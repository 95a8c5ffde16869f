package apperrors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func Test_IsTransient_ShouldMatchOnlyTimeoutAndNetwork(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsTransient(&TimeoutError{Op: "GET /logs/1"}))
	assert.True(IsTransient(fmt.Errorf("tick: %w", &NetworkError{Op: "GET /logs/1", Err: context.Canceled})))
	assert.False(IsTransient(&ServerError{Status: 500}))
	assert.False(IsTransient(&ValidationError{Fields: []string{"title"}}))
	assert.False(IsTransient(nil))
}

func Test_UserMessage_ShouldDescribeEachKind(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("Server error. Please try again later.", UserMessage(&ServerError{Status: 502}))
	assert.Equal("Service temporarily unavailable. Please try again later.",
		UserMessage(&ServerError{Status: http.StatusServiceUnavailable}))
	assert.Equal("Too many requests. Please wait a moment and try again.",
		UserMessage(&APIError{Status: http.StatusTooManyRequests, Message: "slow down"}))
	assert.Equal("Job not found", UserMessage(&APIError{Status: 404, Message: "job not found"}))
	assert.Equal("Missing required fields: title, location",
		UserMessage(&ValidationError{Fields: []string{"title", "location"}}))
	assert.Equal("Please wait 3s before starting another search",
		UserMessage(&RateLimitError{Remaining: 3 * time.Second}))
	assert.Equal("Request timed out. Please check your connection and try again.",
		UserMessage(fmt.Errorf("wrapped: %w", &TimeoutError{Op: "GET /settings"})))
	assert.Equal("", UserMessage(nil))
}

func Test_UserMessage_WhenMessageStartsMultibyte_ShouldStayValidUTF8(t *testing.T) {
	assert := assert.New(t)

	message := UserMessage(&APIError{Status: 400, Message: "ämter nicht gefunden"})

	assert.Equal("Ämter nicht gefunden", message)
	assert.True(utf8.ValidString(message))
	assert.Equal("Über", capitalize("über"))
}
