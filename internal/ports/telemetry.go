package ports

import "context"

// BridgeTelemetry exports the bridge's own operational metrics to an external
// observability system.
type BridgeTelemetry interface {
	// IngestRequest records one ingress request for the given signal
	// ("logs", "metrics", "traces").
	IngestRequest(ctx context.Context, signal string)
	// IngestError records one rejected ingress request.
	IngestError(ctx context.Context, signal string)
	// RecordsProcessed records how many records of a signal were dispatched.
	RecordsProcessed(ctx context.Context, signal string, n int64)
	// SessionFinalized records one finalized session.
	SessionFinalized(ctx context.Context)
	// Close shuts down the exporter and flushes any pending metrics.
	Close(ctx context.Context) error
}
