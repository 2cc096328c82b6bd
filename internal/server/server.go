// Package server exposes the TTS cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/tts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// Routes and headers.
const (
	RouteTTS          = "/api/tts"
	RouteHealth       = "/health"
	HeaderSource      = "X-TTS-Source"
	HeaderCacheKey    = "X-TTS-Cache-Key"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	corsMaxAgeSeconds = 600
)

// Log formats.
const (
	logFmtListening   = "Starting HTTP server on %s"
	logFmtShutdown    = "Shutting down HTTP server..."
	logFmtServed      = "[%s] %s %s -> %d (%s, %s, %d bytes)"
	logFmtHTTPError   = "[%s] HTTP error: %d - %v"
	logFmtWriteFailed = "[%s] Failed to write response body: %v"
)

// Synthesizer is the part of the orchestrator the HTTP surface depends on.
type Synthesizer interface {
	SynthesizeOrFetch(ctx context.Context, req core.SynthesisRequest) (*tts.Result, error)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Options configures a Server.
type Options struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	synthesizer Synthesizer
	log         *logger.Logger
	opts        Options
	router      chi.Router
}

// New creates a Server and configures its routes.
func New(synthesizer Synthesizer, log *logger.Logger, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		synthesizer: synthesizer,
		log:         log,
		opts:        opts,
		router:      nil,
	}

	s.setupRoutes()

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	allowAll := len(s.opts.AllowedOrigins) == 1 && s.opts.AllowedOrigins[0] == "*"

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     s.opts.AllowedOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:     []string{HeaderSource, HeaderCacheKey},
		AllowCredentials:   !allowAll,
		MaxAge:             corsMaxAgeSeconds,
		OptionsPassthrough: true,
	}))

	r.Get(RouteHealth, s.handleHealth)
	r.Post(RouteTTS, s.handleSynthesize)
	r.Options(RouteTTS, s.handlePreflight)

	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info(logFmtListening, s.opts.ListenAddr)

	httpServer := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	shutdownDone := make(chan error, 1)

	go func() {
		<-ctx.Done()
		s.log.Info(logFmtShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownDone <- httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownErr := <-shutdownDone
	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	started := time.Now()

	parsed, err := ParseRequest(r)
	if err != nil {
		s.errorResponse(w, requestID, err)

		return
	}

	result, err := s.synthesizer.SynthesizeOrFetch(r.Context(), parsed.SynthesisRequest())
	if err != nil {
		s.errorResponse(w, requestID, err)

		return
	}

	header := w.Header()
	header.Set("Content-Type", result.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(result.Audio)))
	header.Set("Cache-Control", result.CacheControl)
	header.Set(HeaderSource, string(result.Source))
	header.Set(HeaderCacheKey, result.Key)
	w.WriteHeader(http.StatusOK)

	_, writeErr := w.Write(result.Audio)
	if writeErr != nil {
		// Client may disconnect mid-stream; nothing actionable for handler.
		s.log.Warn(logFmtWriteFailed, requestID, writeErr)

		return
	}

	s.log.Info(logFmtServed, requestID, r.Method, r.URL.Path, http.StatusOK, result.Source,
		time.Since(started).Round(time.Millisecond), len(result.Audio))
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, requestID string, err error) {
	body := ErrorResponse{Error: "internal error", Details: ""}
	status := http.StatusInternalServerError

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		status = coreErr.Kind.HTTPStatus()
		body.Error = coreErr.Message
		body.Details = core.TruncateDetails(coreErr.Details)
	}

	s.log.Error(logFmtHTTPError, requestID, status, err)
	s.jsonResponse(w, status, body)
}

func requestIDFrom(r *http.Request) string {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return requestID
}
