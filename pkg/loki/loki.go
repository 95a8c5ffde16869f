package loki

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type Logger interface {
	Error(msg string, args ...any)
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// Url of the push endpoint, e.g. http://localhost:3100/loki/api/v1/push
	Url string `validate:"required,url"`

	// BatchMaxSize is the maximum number of lines sent in one request.
	BatchMaxSize int `validate:"gte=1"`

	// BatchMaxWait is the longest a line waits before its batch is flushed.
	BatchMaxWait time.Duration `validate:"gte=1"`

	// QueueSize bounds the lines waiting for the pusher. Lines beyond it are dropped.
	QueueSize int `validate:"gte=1"`

	// Labels are attached to the stream every line goes to.
	Labels map[string]string

	// TenantKey and TenantValue set a tenant header for multi-tenant servers. Optional.
	TenantKey   string
	TenantValue string

	// Username and Password enable basic auth. Optional.
	Username string
	Password string
}

func (cfg *Config) setDefaults() {
	if cfg.BatchMaxSize == 0 {
		cfg.BatchMaxSize = 500
	}
	if cfg.BatchMaxWait == 0 {
		cfg.BatchMaxWait = 5 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}
}

type LogEntry struct {
	Level   string            `json:"level"`
	Message string            `json:"msg"`
	Caller  string            `json:"caller,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Time    time.Time         `json:"-"`
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// Pusher batches log lines and ships them to a Loki push endpoint in the background.
type Pusher struct {
	config  Config
	client  HTTPClient
	logger  Logger
	ctx     context.Context
	cancel  context.CancelFunc
	entries chan LogEntry
	quit    chan struct{}
	done    sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	dropped int
}

func New(ctx context.Context, cfg Config, logger Logger) (*Pusher, error) {
	return NewWithClient(ctx, cfg, logger, &http.Client{Timeout: 10 * time.Second})
}

func NewWithClient(ctx context.Context, cfg Config, logger Logger, client HTTPClient) (*Pusher, error) {

	cfg.setDefaults()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pusher{
		config:  cfg,
		client:  client,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(chan LogEntry, cfg.QueueSize),
		quit:    make(chan struct{}),
	}

	p.done.Add(1)
	go p.run()
	return p, nil
}

// Push queues e without blocking. It reports false when the queue is full or the pusher stopped.
func (p *Pusher) Push(e LogEntry) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.entries <- e:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return false
	}
}

// Dropped returns how many lines were discarded because the queue was full.
func (p *Pusher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Stop flushes what is queued and waits for the last request to finish.
func (p *Pusher) Stop() {
	p.once.Do(func() {
		close(p.quit)
		p.done.Wait()
		p.cancel()
	})
}

func (p *Pusher) run() {
	defer p.done.Done()

	ticker := time.NewTicker(p.config.BatchMaxWait)
	defer ticker.Stop()

	batch := make([][2]string, 0, p.config.BatchMaxSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.send(batch); err != nil {
			p.logger.Error("failed to send logs", "error", err, "lines", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.quit:
			for {
				select {
				case entry := <-p.entries:
					batch = append(batch, toValue(entry))
					if len(batch) >= p.config.BatchMaxSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case entry := <-p.entries:
			batch = append(batch, toValue(entry))
			if len(batch) >= p.config.BatchMaxSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toValue(entry LogEntry) [2]string {
	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(entry.Message)
	}
	return [2]string{strconv.FormatInt(entry.Time.UnixNano(), 10), string(line)}
}

func (p *Pusher) send(batch [][2]string) error {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)

	err := json.NewEncoder(gz).Encode(pushRequest{Streams: []stream{{
		Stream: p.config.Labels,
		Values: batch,
	}}})
	if err != nil {
		return err
	}
	if err = gz.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, p.config.Url, buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if p.config.TenantKey != "" {
		req.Header.Set(p.config.TenantKey, p.config.TenantValue)
	}
	if p.config.Username != "" && p.config.Password != "" {
		req.SetBasicAuth(p.config.Username, p.config.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected response from loki: %s, body: %s", resp.Status, string(body))
	}
	return nil
}
