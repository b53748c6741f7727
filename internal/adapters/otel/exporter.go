// Package otel exports the bridge's own operational metrics to an OTEL
// collector over gRPC.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

const (
	serviceName    = "tracebridge"
	serviceVersion = "1.0.0"
)

// Exporter publishes ingress and session lifecycle counters.
type Exporter struct {
	provider          *sdkmetric.MeterProvider
	meter             metric.Meter
	requestsTotal     metric.Int64Counter
	errorsTotal       metric.Int64Counter
	recordsTotal      metric.Int64Counter
	sessionsFinalized metric.Int64Counter
}

// NewExporter creates an OTEL metrics exporter for the bridge itself.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	requestsTotal, err := meter.Int64Counter(
		"tracebridge_ingest_requests_total",
		metric.WithDescription("Total ingress requests received"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating requests counter: %w", err)
	}

	errorsTotal, err := meter.Int64Counter(
		"tracebridge_ingest_errors_total",
		metric.WithDescription("Total rejected ingress requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}

	recordsTotal, err := meter.Int64Counter(
		"tracebridge_records_total",
		metric.WithDescription("Total telemetry records dispatched to sessions"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating records counter: %w", err)
	}

	sessionsFinalized, err := meter.Int64Counter(
		"tracebridge_sessions_finalized_total",
		metric.WithDescription("Total sessions finalized"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}

	return &Exporter{
		provider:          provider,
		meter:             meter,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		recordsTotal:      recordsTotal,
		sessionsFinalized: sessionsFinalized,
	}, nil
}

func (e *Exporter) IngestRequest(ctx context.Context, signal string) {
	e.requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

func (e *Exporter) IngestError(ctx context.Context, signal string) {
	e.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

func (e *Exporter) RecordsProcessed(ctx context.Context, signal string, n int64) {
	e.recordsTotal.Add(ctx, n, metric.WithAttributes(attribute.String("signal", signal)))
}

func (e *Exporter) SessionFinalized(ctx context.Context) {
	e.sessionsFinalized.Add(ctx, 1)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

var _ ports.BridgeTelemetry = (*Exporter)(nil)
