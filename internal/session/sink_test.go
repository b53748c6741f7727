package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// fakeSink records every call in order for assertions.
type fakeSink struct {
	mu          sync.Mutex
	traces      []fakeTrace
	generations []fakeGeneration
	events      []fakeEvent
	scores      []fakeScore
	flushed     int
}

type fakeTrace struct {
	Handle    string
	Name      string
	SessionID string
	Input     any
	Output    any
	Metadata  map[string]any
}

type fakeGeneration struct {
	TraceHandle string
	Model       string
	Start, End  time.Time
	Usage       ports.Usage
	Metadata    map[string]any
}

type fakeEvent struct {
	TraceHandle string
	Name        string
	Input       any
	Output      any
	Level       ports.ObservationLevel
}

type fakeScore struct {
	TraceHandle string
	Name        string
	Value       float64
	Comment     string
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (f *fakeSink) Trace(name, sessionID string, input, output any, metadata map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := fmt.Sprintf("trace-%d", len(f.traces)+1)
	f.traces = append(f.traces, fakeTrace{
		Handle:    handle,
		Name:      name,
		SessionID: sessionID,
		Input:     input,
		Output:    output,
		Metadata:  metadata,
	})
	return handle
}

func (f *fakeSink) Generation(traceHandle, name, model string, start, end time.Time, usage ports.Usage, metadata map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, fakeGeneration{
		TraceHandle: traceHandle,
		Model:       model,
		Start:       start,
		End:         end,
		Usage:       usage,
		Metadata:    metadata,
	})
}

func (f *fakeSink) Event(traceHandle, name string, input, output any, metadata map[string]any, level ports.ObservationLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{
		TraceHandle: traceHandle,
		Name:        name,
		Input:       input,
		Output:      output,
		Level:       level,
	})
}

func (f *fakeSink) Score(traceHandle, name string, value float64, comment string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, fakeScore{
		TraceHandle: traceHandle,
		Name:        name,
		Value:       value,
		Comment:     comment,
	})
}

func (f *fakeSink) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

func (f *fakeSink) tracesNamed(name string) []fakeTrace {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeTrace
	for _, tr := range f.traces {
		if tr.Name == name {
			out = append(out, tr)
		}
	}
	return out
}

var _ ports.ObservationSink = (*fakeSink)(nil)
