package langfuse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// NoOpSink discards all entities. Used when Langfuse credentials are not
// configured so the bridge still ingests and aggregates.
type NoOpSink struct{}

// NewNoOpSink creates a sink that does nothing.
func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

func (s *NoOpSink) Trace(name, sessionID string, input, output any, metadata map[string]any) string {
	return uuid.NewString()
}

func (s *NoOpSink) Generation(traceHandle, name, model string, start, end time.Time, u ports.Usage, metadata map[string]any) {
}

func (s *NoOpSink) Event(traceHandle, name string, input, output any, metadata map[string]any, level ports.ObservationLevel) {
}

func (s *NoOpSink) Score(traceHandle, name string, value float64, comment string) {}

func (s *NoOpSink) Flush(ctx context.Context) error { return nil }

var _ ports.ObservationSink = (*NoOpSink)(nil)
