package otel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// recordingSink captures backend calls for assertions.
type recordingSink struct {
	mu     sync.Mutex
	traces []recordedTrace
	events []recordedEvent
	gens   int
}

type recordedTrace struct {
	Handle    string
	Name      string
	SessionID string
	Input     any
	Output    any
}

type recordedEvent struct {
	TraceHandle string
	Name        string
	Level       ports.ObservationLevel
}

func (s *recordingSink) Trace(name, sessionID string, input, output any, metadata map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := fmt.Sprintf("trace-%d", len(s.traces)+1)
	s.traces = append(s.traces, recordedTrace{Handle: handle, Name: name, SessionID: sessionID, Input: input, Output: output})
	return handle
}

func (s *recordingSink) Generation(traceHandle, name, model string, start, end time.Time, usage ports.Usage, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens++
}

func (s *recordingSink) Event(traceHandle, name string, input, output any, metadata map[string]any, level ports.ObservationLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{TraceHandle: traceHandle, Name: name, Level: level})
}

func (s *recordingSink) Score(traceHandle, name string, value float64, comment string) {}

func (s *recordingSink) Flush(ctx context.Context) error { return nil }

func (s *recordingSink) summaryOutput() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.traces {
		if tr.Name == "session-summary" {
			return tr.Output.(map[string]any)
		}
	}
	return nil
}

var _ ports.ObservationSink = (*recordingSink)(nil)
