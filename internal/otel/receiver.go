// Package otel implements the OTLP HTTP/JSON ingress: envelope decoding,
// session key derivation, and dispatch of records into the session core.
package otel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/emiliopalmerini/tracebridge/internal/domain"
	"github.com/emiliopalmerini/tracebridge/internal/session"
)

// Receiver walks decoded OTLP envelopes and routes each record to its
// session. It is purely transformational and never waits on backend delivery.
type Receiver struct {
	registry *session.Registry
	log      zerolog.Logger
	now      func() time.Time
}

// NewReceiver creates a receiver dispatching into registry.
func NewReceiver(registry *session.Registry, log zerolog.Logger) *Receiver {
	return &Receiver{
		registry: registry,
		log:      log.With().Str("component", "receiver").Logger(),
		now:      time.Now,
	}
}

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// HandleLogs parses an OTLP JSON logs envelope and dispatches every log
// record. Returns the number of records dispatched, or an error when the
// payload is not a valid envelope.
func (r *Receiver) HandleLogs(data []byte) (int, error) {
	var req collectorlogs.ExportLogsServiceRequest
	if err := unmarshalOpts.Unmarshal(data, &req); err != nil {
		return 0, fmt.Errorf("parsing logs envelope: %w", err)
	}

	dispatched := 0
	for _, resourceLogs := range req.GetResourceLogs() {
		for _, scopeLogs := range resourceLogs.GetScopeLogs() {
			for _, record := range scopeLogs.GetLogRecords() {
				bag := domain.DecodeBag(record.GetAttributes())
				ts := domain.RecordTime(bag, record.GetTimeUnixNano(), r.now())

				sess, ok := r.resolve(bag, ts)
				if !ok {
					continue
				}

				body := record.GetBody().GetStringValue()
				if evt, known := domain.ParseEvent(body, ts, bag); known {
					sess.ApplyEvent(evt)
					dispatched++
				} else {
					r.log.Debug().Str("body", body).Msg("ignoring unknown log record body")
				}
				sess.Touch(r.now())
			}
		}
	}
	return dispatched, nil
}

// HandleMetrics parses an OTLP JSON metrics envelope and dispatches every
// number datapoint of every sum or gauge metric.
func (r *Receiver) HandleMetrics(data []byte) (int, error) {
	var req collectormetrics.ExportMetricsServiceRequest
	if err := unmarshalOpts.Unmarshal(data, &req); err != nil {
		return 0, fmt.Errorf("parsing metrics envelope: %w", err)
	}

	dispatched := 0
	for _, resourceMetrics := range req.GetResourceMetrics() {
		for _, scopeMetrics := range resourceMetrics.GetScopeMetrics() {
			for _, metric := range scopeMetrics.GetMetrics() {
				for _, dp := range dataPoints(metric) {
					if r.dispatchDataPoint(metric.GetName(), dp) {
						dispatched++
					}
				}
			}
		}
	}
	return dispatched, nil
}

func dataPoints(metric *metricsv1.Metric) []*metricsv1.NumberDataPoint {
	if sum := metric.GetSum(); sum != nil {
		return sum.GetDataPoints()
	}
	if gauge := metric.GetGauge(); gauge != nil {
		return gauge.GetDataPoints()
	}
	return nil
}

func (r *Receiver) dispatchDataPoint(name string, dp *metricsv1.NumberDataPoint) bool {
	bag := domain.DecodeBag(dp.GetAttributes())
	ts := domain.RecordTime(bag, dp.GetTimeUnixNano(), r.now())

	sess, ok := r.resolve(bag, ts)
	if !ok {
		return false
	}

	sess.ApplyMetric(domain.Sample{
		Name:  name,
		Time:  ts,
		Value: dataPointValue(dp),
		Attrs: bag,
	})
	sess.Touch(r.now())
	return true
}

func dataPointValue(dp *metricsv1.NumberDataPoint) float64 {
	switch v := dp.GetValue().(type) {
	case *metricsv1.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricsv1.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

// resolve derives the record's session key and returns its session. Records
// with no derivable key are dropped.
func (r *Receiver) resolve(bag domain.Bag, ts time.Time) (*session.Session, bool) {
	key := domain.SessionKey(bag, ts)
	if key == "" {
		r.log.Debug().Msg("record without session.id or user.email, dropping")
		return nil, false
	}
	return r.registry.GetOrCreate(key, domain.IdentityFromBag(bag)), true
}
