package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/config"
	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/export"
	"github.com/jespere06/documette/internal/llm"
	"github.com/jespere06/documette/internal/notify"
	"github.com/jespere06/documette/internal/server/middleware"
	"github.com/jespere06/documette/internal/server/ratelimit"
	"github.com/jespere06/documette/internal/storage"
	"github.com/jespere06/documette/internal/transcribe"
)

// Store is the persistence surface the handlers depend on.
// *db.DB implements it; tests substitute an in-memory fake.
type Store interface {
	CreateJob(ctx context.Context, job *db.Job) error
	UpdateJob(ctx context.Context, jobID uuid.UUID, patch db.JobPatch) (*db.Job, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error)
	GetOwnedJob(ctx context.Context, jobID, ownerID uuid.UUID) (*db.Job, error)
	ListRecentJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]db.Job, error)
	GetTemplateByOwner(ctx context.Context, ownerID uuid.UUID) (*db.Template, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	store       Store
	closeStore  func()
	cfg         *config.Config
	broker      *notify.Broker
	gateway     storage.Gateway
	transcriber *transcribe.Initiator
	newLLM      llm.Factory
	renderer    export.Renderer
	jwtService  *JWTService
	rateLimiter *ratelimit.Limiter

	// callbacks posts stage results back to this server's own callback
	// endpoints, mirroring how the transcription engine reports in.
	callbacks *http.Client

	// background tracks detached stage runners so shutdown and tests can
	// wait for them.
	background sync.WaitGroup
}

// New creates a new server instance wired to real infrastructure.
func New(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	broker := notify.NewBroker()
	database.SetNotifier(broker)

	gateway, err := storage.NewGCS(ctx, storage.Options{
		Bucket:     cfg.GCSBucket,
		AccessID:   cfg.GCSAccessID,
		PrivateKey: cfg.GCSPrivateKey,
		TTL:        cfg.SignedURLTTL,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create storage gateway: %w", err)
	}

	s := NewWithDeps(cfg, database, broker, gateway, llm.NewGemini, export.NewRenderer())
	s.closeStore = database.Close
	return s, nil
}

// NewWithDeps creates a server from explicit dependencies.
func NewWithDeps(cfg *config.Config, store Store, broker *notify.Broker, gateway storage.Gateway, newLLM llm.Factory, renderer export.Renderer) *Server {
	s := &Server{
		store:       store,
		cfg:         cfg,
		broker:      broker,
		gateway:     gateway,
		newLLM:      newLLM,
		renderer:    renderer,
		jwtService:  NewJWTService(cfg.JWTSecret, cfg.JWTExpirationHours),
		rateLimiter: ratelimit.NewLimiter(ratelimit.LoadConfig()),
		callbacks:   &http.Client{Timeout: 30 * time.Second},
	}

	s.transcriber = transcribe.New(cfg.TranscribeBaseURL, s.callbackURL("transcribe"), cfg.TranscriptionLanguage)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/auth/token", s.handleAuthToken)

	// Callbacks authenticate with the shared secret, not a session.
	mux.HandleFunc("POST /api/callbacks/transcribe", s.handleTranscribeCallback)
	mux.HandleFunc("POST /api/callbacks/identify-speakers", s.handleIdentifyCallback)
	mux.HandleFunc("POST /api/callbacks/generate-minutes", s.handleMinutesCallback)

	auth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())
	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	authed("POST /api/jobs", s.handleCreateJob)
	authed("GET /api/jobs", s.handleListJobs)
	authed("GET /api/jobs/events", s.handleJobEvents)
	authed("GET /api/jobs/{id}", s.handleGetJob)
	authed("PATCH /api/jobs/{id}", s.handlePatchJob)

	authed("POST /api/uploads/sign", s.handleSignUpload)
	authed("POST /api/audio/delete", s.handleDeleteAudio)

	authed("POST /api/transcribe", s.handleTranscribe)
	authed("POST /api/identify-speakers", s.handleIdentifySpeakers)
	authed("POST /api/generate-minutes", s.handleGenerateMinutes)
	authed("POST /api/export", s.handleExport)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the configured HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// callbackURL builds the externally reachable callback endpoint for a stage,
// carrying the shared secret as a query parameter.
func (s *Server) callbackURL(stage string) string {
	return fmt.Sprintf("%s/api/callbacks/%s?secret=%s",
		s.cfg.CallbackBaseURL, stage, url.QueryEscape(s.cfg.CallbackSecret))
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Let in-flight stage runners finish posting their results.
	s.background.Wait()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.closeStore != nil {
		s.closeStore()
	}
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps an error to its HTTP status and writes it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}

// decodeJSON decodes a request body, rejecting malformed payloads.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrValidation{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

// allowEngineCall enforces the per-owner rate limit on endpoints that hit a
// processing engine. Writes the 429 response itself when the call is rejected.
func (s *Server) allowEngineCall(w http.ResponseWriter, ownerID uuid.UUID) bool {
	allowed, retryAfter := s.rateLimiter.Allow(ownerID.String())
	if allowed {
		return true
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
	s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	return false
}

// WaitBackground blocks until all detached stage runners finish. Tests use it
// to observe the outcome of fire-and-forget triggers.
func (s *Server) WaitBackground() {
	s.background.Wait()
}
