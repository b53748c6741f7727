package ports

import (
	"context"
	"time"
)

// ObservationLevel classifies an observation event.
type ObservationLevel string

const (
	LevelDefault ObservationLevel = "DEFAULT"
	LevelWarning ObservationLevel = "WARNING"
	LevelError   ObservationLevel = "ERROR"
)

// Usage carries token usage for a generation.
type Usage struct {
	Input  int64
	Output int64
	Total  int64
	Unit   string
}

// ObservationSink delivers traces, generations, events and scores to the
// observability backend. All calls except Flush are non-blocking and
// best-effort: delivery failures are swallowed by the implementation and must
// never surface to the session core. Call order per trace handle is preserved.
type ObservationSink interface {
	// Trace creates a trace and returns its handle.
	Trace(name, sessionID string, input, output any, metadata map[string]any) string
	// Generation attaches a model invocation to a trace.
	Generation(traceHandle, name, model string, start, end time.Time, usage Usage, metadata map[string]any)
	// Event attaches a point-in-time observation to a trace.
	Event(traceHandle, name string, input, output any, metadata map[string]any, level ObservationLevel)
	// Score attaches a numeric score to a trace.
	Score(traceHandle, name string, value float64, comment string)
	// Flush blocks until buffered entities are delivered or ctx expires.
	Flush(ctx context.Context) error
}
