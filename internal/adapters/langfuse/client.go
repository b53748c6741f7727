package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

const (
	defaultQueueSize  = 4096
	defaultBatchSize  = 100
	defaultLinger     = time.Second
	defaultHTTPWindow = 10 * time.Second
)

// Config holds Langfuse connection settings. The keys are passed through
// opaquely as basic auth credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Client is an asynchronous, best-effort Langfuse ingestion client. Entities
// are enqueued without blocking and shipped in batches by a single background
// worker, which keeps call order intact. Transport failures are logged and the
// affected batch is abandoned.
type Client struct {
	cfg    Config
	http   *http.Client
	queue  chan item
	flush  chan chan struct{}
	stop   chan struct{}
	done   chan struct{}
	log    zerolog.Logger
	now    func() time.Time
}

// NewClient creates a client and starts its delivery worker.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: defaultHTTPWindow},
		queue: make(chan item, defaultQueueSize),
		flush: make(chan chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "langfuse").Logger(),
		now:   time.Now,
	}
	go c.worker()
	return c
}

// Trace implements ports.ObservationSink.
func (c *Client) Trace(name, sessionID string, input, output any, metadata map[string]any) string {
	id := uuid.NewString()
	c.enqueue(typeTraceCreate, traceBody{
		ID:        id,
		Name:      name,
		SessionID: sessionID,
		Timestamp: c.now().UTC(),
		Input:     input,
		Output:    output,
		Metadata:  metadata,
	})
	return id
}

// Generation implements ports.ObservationSink.
func (c *Client) Generation(traceHandle, name, model string, start, end time.Time, u ports.Usage, metadata map[string]any) {
	c.enqueue(typeGenerationCreate, generationBody{
		ID:        uuid.NewString(),
		TraceID:   traceHandle,
		Name:      name,
		Model:     model,
		StartTime: start,
		EndTime:   end,
		Usage: &usage{
			Input:  u.Input,
			Output: u.Output,
			Total:  u.Total,
			Unit:   u.Unit,
		},
		Metadata: metadata,
	})
}

// Event implements ports.ObservationSink.
func (c *Client) Event(traceHandle, name string, input, output any, metadata map[string]any, level ports.ObservationLevel) {
	c.enqueue(typeEventCreate, eventBody{
		ID:        uuid.NewString(),
		TraceID:   traceHandle,
		Name:      name,
		StartTime: c.now().UTC(),
		Level:     string(level),
		Input:     input,
		Output:    output,
		Metadata:  metadata,
	})
}

// Score implements ports.ObservationSink.
func (c *Client) Score(traceHandle, name string, value float64, comment string) {
	c.enqueue(typeScoreCreate, scoreBody{
		ID:      uuid.NewString(),
		TraceID: traceHandle,
		Name:    name,
		Value:   value,
		Comment: comment,
	})
}

// Flush implements ports.ObservationSink. It asks the worker to drain the
// queue and ship everything buffered, bounded by ctx.
func (c *Client) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.flush <- ack:
	case <-c.done:
		return nil
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

// Close stops the worker after a final drain. Safe to call once.
func (c *Client) Close(ctx context.Context) error {
	close(c.stop)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) enqueue(itemType string, body any) {
	it := item{
		ID:        uuid.NewString(),
		Type:      itemType,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Body:      body,
	}
	select {
	case c.queue <- it:
	default:
		c.log.Warn().Str("type", itemType).Msg("ingestion queue full, dropping entity")
	}
}

func (c *Client) worker() {
	defer close(c.done)

	ticker := time.NewTicker(defaultLinger)
	defer ticker.Stop()

	batch := make([]item, 0, defaultBatchSize)

	ship := func() {
		if len(batch) == 0 {
			return
		}
		c.send(batch)
		batch = batch[:0]
	}

	for {
		select {
		case it := <-c.queue:
			batch = append(batch, it)
			if len(batch) >= defaultBatchSize {
				ship()
			}
		case <-ticker.C:
			ship()
		case ack := <-c.flush:
			batch = c.drain(batch)
			ship()
			close(ack)
		case <-c.stop:
			batch = c.drain(batch)
			ship()
			return
		}
	}
}

// drain empties whatever is currently queued into batch without blocking,
// shipping full batches along the way.
func (c *Client) drain(batch []item) []item {
	for {
		select {
		case it := <-c.queue:
			batch = append(batch, it)
			if len(batch) >= defaultBatchSize {
				c.send(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (c *Client) send(batch []item) {
	payload, err := json.Marshal(batchRequest{Batch: batch})
	if err != nil {
		c.log.Error().Err(err).Msg("encoding ingestion batch")
		return
	}

	url := strings.TrimSuffix(c.cfg.Host, "/") + "/api/public/ingestion"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		c.log.Error().Err(err).Msg("building ingestion request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.PublicKey, c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Int("batch", len(batch)).Msg("ingestion request failed, batch abandoned")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Int("batch", len(batch)).Msg("ingestion rejected, batch abandoned")
		return
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && len(result.Errors) > 0 {
		for _, e := range result.Errors {
			c.log.Warn().Str("id", e.ID).Int("status", e.Status).Str("message", e.Message).Msg("ingestion item rejected")
		}
	}
}

var _ ports.ObservationSink = (*Client)(nil)

// String describes the client's target host.
func (c *Client) String() string {
	return fmt.Sprintf("langfuse(%s)", c.cfg.Host)
}
