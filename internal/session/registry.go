package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emiliopalmerini/tracebridge/internal/domain"
	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// Registry maps session keys to live sessions. Lookups run under a read lock;
// only insertion and removal serialize writers. The idle sweeper is the sole
// reclamation mechanism.
type Registry struct {
	sink        ports.ObservationSink
	telemetry   ports.BridgeTelemetry
	idleTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(sink ports.ObservationSink, telemetry ports.BridgeTelemetry, idleTimeout time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		sink:        sink,
		telemetry:   telemetry,
		idleTimeout: idleTimeout,
		log:         log.With().Str("component", "registry").Logger(),
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// GetOrCreate returns the session for key, creating and initializing it from
// firstSeen on first sight. Identity fields observed later fill gaps but never
// overwrite.
func (r *Registry) GetOrCreate(key string, firstSeen domain.Identity) *Session {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		s.mergeIdentity(firstSeen)
		return s
	}

	r.mu.Lock()
	if s, ok = r.sessions[key]; !ok {
		s = newSession(key, firstSeen, r.sink, r.log, r.now())
		r.sessions[key] = s
		r.mu.Unlock()
		r.log.Debug().Str("session", key).Msg("session created")
		return s
	}
	r.mu.Unlock()
	s.mergeIdentity(firstSeen)
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// FinalizeAndRemove finalizes the session for key and deletes it. The session
// is removed even if summary emission misbehaves; there is no redelivery.
func (r *Registry) FinalizeAndRemove(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.finalize(s)
}

func (r *Registry) finalize(s *Session) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("session", s.Key()).Any("panic", p).Msg("finalize failed, session removed anyway")
		}
	}()
	s.Finalize()
	if r.telemetry != nil {
		r.telemetry.SessionFinalized(context.Background())
	}
}

// Sweep finalizes and removes every session idle for at least the configured
// timeout.
func (r *Registry) Sweep(now time.Time) {
	r.mu.RLock()
	var expired []string
	for key, s := range r.sessions {
		if now.Sub(s.LastActivity()) >= r.idleTimeout {
			expired = append(expired, key)
		}
	}
	r.mu.RUnlock()

	for _, key := range expired {
		r.log.Info().Str("session", key).Msg("idle timeout, finalizing session")
		r.FinalizeAndRemove(key)
	}
}

// Run drives the sweeper until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Shutdown finalizes every remaining session and flushes the sink, bounded by
// ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	remaining := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		remaining = append(remaining, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range remaining {
		r.finalize(s)
	}

	if err := r.sink.Flush(ctx); err != nil {
		r.log.Warn().Err(err).Msg("flush timed out, pending deliveries abandoned")
		return err
	}
	return nil
}
