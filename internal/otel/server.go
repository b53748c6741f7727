package otel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/emiliopalmerini/tracebridge/internal/ports"
	"github.com/emiliopalmerini/tracebridge/internal/session"
)

// Server is the OTLP HTTP ingress. Ingress success is decoupled from backend
// delivery: a well-formed envelope is always acknowledged with an empty
// partial-success body.
type Server struct {
	receiver  *Receiver
	registry  *session.Registry
	telemetry ports.BridgeTelemetry
	log       zerolog.Logger

	port           int
	maxRequestSize int64
	apiKey         string

	startedAt    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64

	httpServer *http.Server
}

// NewServer creates the ingress server.
func NewServer(receiver *Receiver, registry *session.Registry, telemetry ports.BridgeTelemetry, port int, maxRequestSize int64, apiKey string, log zerolog.Logger) *Server {
	return &Server{
		receiver:       receiver,
		registry:       registry,
		telemetry:      telemetry,
		log:            log.With().Str("component", "server").Logger(),
		port:           port,
		maxRequestSize: maxRequestSize,
		apiKey:         apiKey,
		startedAt:      time.Now(),
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Unknown method and unknown path are both 404 to the client.
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	})

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(s.bearerAuth)
		}
		r.Post("/v1/logs", s.handleLogs)
		r.Post("/v1/metrics", s.handleMetrics)
		r.Post("/v1/traces", s.handleTraces)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Int("port", s.port).Msg("OTLP receiver listening")
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, "logs", s.receiver.HandleLogs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, "metrics", s.receiver.HandleMetrics)
}

// handleTraces accepts the spans Claude Code may emit but does nothing with
// them.
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)
	if s.telemetry != nil {
		s.telemetry.IngestRequest(r.Context(), "traces")
	}
	io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, s.maxRequestSize))
	writeJSON(w, http.StatusOK, map[string]any{"partialSuccess": map[string]any{}})
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, signal string, handle func([]byte) (int, error)) {
	s.requestCount.Add(1)
	if s.telemetry != nil {
		s.telemetry.IngestRequest(r.Context(), signal)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestSize))
	if err != nil {
		s.errorCount.Add(1)
		if s.telemetry != nil {
			s.telemetry.IngestError(r.Context(), signal)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	dispatched, err := handle(body)
	if err != nil {
		s.errorCount.Add(1)
		if s.telemetry != nil {
			s.telemetry.IngestError(r.Context(), signal)
		}
		s.log.Warn().Err(err).Str("signal", signal).Msg("malformed envelope")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if s.telemetry != nil {
		s.telemetry.RecordsProcessed(r.Context(), signal, int64(dispatched))
	}
	writeJSON(w, http.StatusOK, map[string]any{"partialSuccess": map[string]any{}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"uptime":       time.Since(s.startedAt).Seconds(),
		"sessions":     s.registry.Len(),
		"requestCount": s.requestCount.Load(),
		"errorCount":   s.errorCount.Load(),
		"langfuse":     "connected",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
