package langfuse

import "time"

// Ingestion event types accepted by POST /api/public/ingestion.
const (
	typeTraceCreate      = "trace-create"
	typeGenerationCreate = "generation-create"
	typeEventCreate      = "event-create"
	typeScoreCreate      = "score-create"
)

// item is one envelope in an ingestion batch.
type item struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Body      any    `json:"body"`
}

type batchRequest struct {
	Batch []item `json:"batch"`
}

type batchResponse struct {
	Errors []struct {
		ID      string `json:"id"`
		Status  int    `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"errors"`
}

// traceBody mirrors the Langfuse trace entity.
type traceBody struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// usage mirrors the Langfuse generation usage object.
type usage struct {
	Input  int64  `json:"input"`
	Output int64  `json:"output"`
	Total  int64  `json:"total"`
	Unit   string `json:"unit,omitempty"`
}

// generationBody mirrors the generation observation entity.
type generationBody struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"traceId"`
	Name      string         `json:"name,omitempty"`
	Model     string         `json:"model,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Usage     *usage         `json:"usage,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// eventBody mirrors the event observation entity.
type eventBody struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"traceId"`
	Name      string         `json:"name"`
	StartTime time.Time      `json:"startTime"`
	Level     string         `json:"level,omitempty"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// scoreBody mirrors the score entity.
type scoreBody struct {
	ID      string  `json:"id"`
	TraceID string  `json:"traceId"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Comment string  `json:"comment,omitempty"`
}
