package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maxaizer/jobsync/internal/cache"
	"github.com/maxaizer/jobsync/internal/domain/apperrors"
	"github.com/maxaizer/jobsync/internal/metrics"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks JSON over HTTP to the job bot backend. Every request carries a timeout;
// reads go through the request cache when one is set.
type Client struct {
	baseURL       string
	httpClient    HTTPClient
	rateLimiter   *rate.Limiter
	cache         *cache.RequestCache
	readTTL       time.Duration
	readTimeout   time.Duration
	submitTimeout time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		readTimeout:   30 * time.Second,
		submitTimeout: 120 * time.Second,
	}
}

func (c *Client) SetHTTPClient(client HTTPClient) {
	c.httpClient = client
}

func (c *Client) SetRateLimit(maxRequestsPerSecond float32) {
	if maxRequestsPerSecond <= 0 {
		c.rateLimiter = nil
		return
	}
	c.rateLimiter = rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 1)
}

func (c *Client) SetTimeouts(read time.Duration, submit time.Duration) {
	c.readTimeout = read
	c.submitTimeout = submit
}

// SetCache enables memoized reads; ttl applies to settings and stats reads.
func (c *Client) SetCache(requestCache *cache.RequestCache, ttl time.Duration) {
	c.cache = requestCache
	c.readTTL = ttl
}

type request struct {
	endpoint string
	method   string
	path     string
	body     any
	timeout  time.Duration
}

// read performs an idempotent request, serving it from the cache inside ttl.
func (c *Client) read(ctx context.Context, req request, ttl time.Duration) ([]byte, error) {
	payload, err := encodeBody(req.body)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, req, payload)
	}

	if c.cache == nil {
		return fetch(ctx)
	}
	return c.cache.Get(ctx, cache.Key(req.method, c.baseURL+req.path, payload), ttl, fetch)
}

func (c *Client) write(ctx context.Context, req request) ([]byte, error) {
	payload, err := encodeBody(req.body)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, payload)
}

func (c *Client) send(ctx context.Context, req request, payload []byte) ([]byte, error) {

	op := req.method + " " + req.path

	timeout := req.timeout
	if timeout == 0 {
		timeout = c.readTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			// the limiter refuses up front when the wait would outlast the deadline
			if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &apperrors.TimeoutError{Op: op}
			}
			return nil, classifyTransportError(op, err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.RequestDuration.WithLabelValues(req.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	return c.handleResponse(op, resp)
}

func (c *Client) handleResponse(op string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &apperrors.ServerError{Status: resp.StatusCode, Body: string(body)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &apperrors.APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	return body, nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &apperrors.TimeoutError{Op: op}
	}
	return &apperrors.NetworkError{Op: op, Err: err}
}

type errorBody struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func errorMessage(status int, body []byte) string {
	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		for _, candidate := range []string{parsed.Error, parsed.Detail, parsed.Message} {
			if candidate != "" {
				return candidate
			}
		}
	}
	return fmt.Sprintf("request failed with status %d", status)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding request body")
	}
	return payload, nil
}

func decode[T any](body []byte, what string) (T, error) {
	var result T
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&result); err != nil {
		return result, errors.Wrapf(err, "error decoding %s response", what)
	}
	return result, nil
}

func (c *Client) invalidate(paths ...string) {
	if c.cache == nil {
		return
	}
	for _, path := range paths {
		c.cache.InvalidatePrefix(http.MethodGet + " " + c.baseURL + path)
		c.cache.InvalidatePrefix(http.MethodPost + " " + c.baseURL + path)
	}
}
