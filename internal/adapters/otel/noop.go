package otel

import (
	"context"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// NoOpExporter is a telemetry exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) IngestRequest(ctx context.Context, signal string) {}

func (e *NoOpExporter) IngestError(ctx context.Context, signal string) {}

func (e *NoOpExporter) RecordsProcessed(ctx context.Context, signal string, n int64) {}

func (e *NoOpExporter) SessionFinalized(ctx context.Context) {}

func (e *NoOpExporter) Close(ctx context.Context) error { return nil }

var _ ports.BridgeTelemetry = (*NoOpExporter)(nil)
