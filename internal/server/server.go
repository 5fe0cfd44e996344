// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 200

	// MaxMessageLength is the maximum length of one message.
	MaxMessageLength = 100000

	// MaxRequestBodySize is the maximum size for request body (4MB).
	MaxRequestBodySize = 4 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"
)

// validRoles are the roles a client may send. System messages are allowed
// so callers can supply their own instructions.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ============================================================================
// DEPENDENCIES
// ============================================================================

// TurnRunner runs one engine turn. *engine.Engine implements it.
type TurnRunner interface {
	Run(ctx context.Context, req engine.Request, obs engine.Observer) engine.Outcome
}

// ModelServer is the inference server as seen by the health and model
// endpoints. *ollama.Client implements it.
type ModelServer interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address (default: 127.0.0.1:8787)
	Addr string

	// Runner executes turns (required)
	Runner TurnRunner

	// Models backs /health and /api/models. Nil reports not_configured.
	Models ModelServer

	// Store persists turns when set
	Store storage.Store

	// Think is used when a request does not say
	Think bool

	// BearerToken, when set, is required on every route except /health
	BearerToken string

	// RatePerSecond and Burst configure the per-IP limiter (0 disables)
	RatePerSecond float64
	Burst         int

	Logger *zerolog.Logger
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the engine over HTTP.
type Server struct {
	opts    Options
	router  *http.ServeMux
	handler http.Handler
	server  *http.Server
	log     zerolog.Logger
	started time.Time
}

// New creates a Server and its middleware chain.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}

	s := &Server{
		opts:    opts,
		router:  http.NewServeMux(),
		started: time.Now(),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = logging.Component("server")
	}

	s.setupRoutes()

	s.handler = Chain(
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		SecurityHeadersMiddleware(),
		RateLimitMiddleware(NewRateLimiter(opts.RatePerSecond, opts.Burst), s.log),
		AuthMiddleware(opts.BearerToken, s.log, "/health"),
	)(s.router)

	return s
}

// Handler returns the full handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/turn", s.handleTurn)
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", telemetry.Handler())
}

// ============================================================================
// TURN HANDLER
// ============================================================================

// ChatMessage is one message of a turn request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the body of POST /api/turn.
type TurnRequest struct {
	Model    string        `json:"model,omitempty"`
	Think    *bool         `json:"think,omitempty"`
	Messages []ChatMessage `json:"messages"`

	// ConversationID appends the turn to a stored conversation; Messages
	// then holds only the new messages.
	ConversationID string `json:"conversation_id,omitempty"`
}

// validate checks the request shape.
func (req *TurnRequest) validate() error {
	if len(req.Messages) == 0 {
		return errors.New("request must contain at least one message")
	}
	if len(req.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
		if len(msg.Content) > MaxMessageLength {
			return fmt.Errorf("message %d exceeds maximum length of %d", i, MaxMessageLength)
		}
	}
	if req.Messages[len(req.Messages)-1].Role != "user" {
		return errors.New("the last message must have role user")
	}
	return nil
}

// handleTurn handles POST /api/turn. The response is an NDJSON stream of
// Events ending with a done event. A client disconnect cancels the turn.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		s.log.Debug().Err(err).Msg("invalid request body")
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.recorderFor(&req)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.log.Error().Err(err).Str("conversation", req.ConversationID).Msg("failed to load conversation")
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	think := s.opts.Think
	if req.Think != nil {
		think = *req.Think
	}
	engReq := engine.Request{Model: req.Model, Think: think, Messages: rec.History()}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := newStreamObserver(w)
	var observer engine.Observer = stream
	if s.opts.Store != nil {
		observer = engine.Observers(stream, rec.Observer())
	}

	out := s.opts.Runner.Run(r.Context(), engReq, observer)

	ev := newOutcomeEvent(out)
	if s.opts.Store != nil {
		ev.ConversationID = rec.ID()
	}
	stream.done(ev)
}

// recorderFor builds the turn's conversation. Without a store the
// recorder only assembles history.
func (s *Server) recorderFor(req *TurnRequest) (*storage.Recorder, error) {
	var rec *storage.Recorder
	switch {
	case req.ConversationID != "" && s.opts.Store != nil:
		conv, err := s.opts.Store.Load(req.ConversationID)
		if err != nil {
			return nil, err
		}
		rec = storage.ResumeRecorder(s.opts.Store, conv)
		if req.Model != "" {
			rec.SetModel(req.Model)
		}
	default:
		rec = storage.NewRecorder(s.opts.Store, req.Model)
	}

	for _, msg := range req.Messages {
		rec.AddMessage(msg.Role, msg.Content)
	}
	return rec, nil
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelEntry is one installed model.
type ModelEntry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.opts.Models == nil {
		writeError(w, http.StatusServiceUnavailable, "model server not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	models, err := s.opts.Models.ListModels(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list models")
		writeError(w, http.StatusBadGateway, "model server unavailable")
		return
	}

	entries := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, ModelEntry{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": entries})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	OllamaStatus  string `json:"ollama_status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		OllamaStatus:  "not_configured",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if s.opts.Models != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.opts.Models.CheckRunning(ctx); err == nil {
			health.OllamaStatus = "ok"
		} else {
			health.OllamaStatus = "unavailable"
			health.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully,
// giving in-flight turns up to 10 seconds to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("server started")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(message),
			"code":    status,
		},
	})
}
