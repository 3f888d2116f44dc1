// Package langfuse is a minimal client for the Langfuse ingestion API.
//
// Events are queued in process and shipped in batches by a background
// worker, the way the official SDKs buffer; Flush forces a drain with a
// bounded wait. Delivery is best effort: a full queue drops the event
// and logs, it never blocks a filter hook.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ingestionPath = "/api/public/ingestion"
	maxBatchSize  = 50
)

// Config holds connection settings for the Langfuse backend.
type Config struct {
	// Host of the Langfuse server, e.g. "http://langfuse:3000".
	Host string

	// PublicKey and SecretKey authenticate via basic auth. Both are
	// required.
	PublicKey string
	SecretKey string

	// FlushInterval is how often the worker ships a partial batch.
	// Default: 5s.
	FlushInterval time.Duration

	// QueueSize bounds the in-process event queue. Default: 1000.
	QueueSize int

	// Timeout per ingestion request. Default: 10s.
	Timeout time.Duration
}

// Trace opens one trace, keyed by conversation id.
type Trace struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	UserID   string         `json:"userId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Generation records the model call inside a trace.
type Generation struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"traceId"`
	Name            string         `json:"name"`
	Model           string         `json:"model,omitempty"`
	Input           string         `json:"input,omitempty"`
	ModelParameters map[string]any `json:"modelParameters,omitempty"`
	Usage           *Usage         `json:"usage,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// GenerationUpdate finalizes a generation with its output and totals.
type GenerationUpdate struct {
	ID       string         `json:"id"`
	TraceID  string         `json:"traceId"`
	Output   string         `json:"output,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
	EndTime  time.Time      `json:"endTime"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Usage carries estimated token counts.
type Usage struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
	Total  int `json:"total,omitempty"`
}

type event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Body      any    `json:"body"`
}

// Client ships observability events to Langfuse.
type Client struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client

	events  chan event
	flushCh chan chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	interval time.Duration
}

// New validates the config and starts the background worker.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("langfuse: Host is required")
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("langfuse: PublicKey and SecretKey are required")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		host:       cfg.Host,
		publicKey:  cfg.PublicKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		events:     make(chan event, cfg.QueueSize),
		flushCh:    make(chan chan struct{}),
		done:       make(chan struct{}),
		interval:   cfg.FlushInterval,
	}

	c.wg.Add(1)
	go c.loop()
	return c, nil
}

// CreateTrace queues a trace-create event.
func (c *Client) CreateTrace(t Trace) {
	c.enqueue("trace-create", t)
}

// CreateGeneration queues a generation-create event.
func (c *Client) CreateGeneration(g Generation) {
	c.enqueue("generation-create", g)
}

// UpdateGeneration queues a generation-update event.
func (c *Client) UpdateGeneration(u GenerationUpdate) {
	c.enqueue("generation-update", u)
}

func (c *Client) enqueue(eventType string, body any) {
	ev := event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Body:      body,
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("[LANGFUSE] Queue full, dropping %s event", eventType)
	}
}

// Flush ships everything queued so far, waiting at most until ctx is
// done.
func (c *Client) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.flushCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and stops the worker, waiting at most until ctx is
// done.
func (c *Client) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	close(c.done)

	stopped := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var batch []event
	ship := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.send(batch); err != nil {
			log.Printf("[LANGFUSE] Failed to ship %d events: %v", len(batch), err)
		}
		batch = nil
	}

	for {
		select {
		case ev := <-c.events:
			batch = append(batch, ev)
			if len(batch) >= maxBatchSize {
				ship()
			}
		case <-ticker.C:
			ship()
		case ack := <-c.flushCh:
			batch = append(batch, drain(c.events)...)
			ship()
			close(ack)
		case <-c.done:
			batch = append(batch, drain(c.events)...)
			ship()
			return
		}
	}
}

func drain(ch chan event) []event {
	var out []event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (c *Client) send(batch []event) error {
	body, err := json.Marshal(map[string]any{"batch": batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+ingestionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ingestion returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
