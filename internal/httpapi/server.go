package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Version() string
	CreateSession() (string, error)
	DestroySession(id string) error
	SessionStatus(id string) (types.SessionStatus, error)
	Load(id, modelID string, cfg *types.GenerationConfig) error
	Unload(id string) error
	Cancel(id string) error
	GenerateStream(ctx context.Context, id, prompt string, req *types.GenerateRequest, onToken engine.TokenFunc) (engine.Result, error)
}

// server carries the per-router configuration; one instance backs every
// handler of a mux built by NewMux.
type server struct {
	svc         Service
	log         zerolog.Logger
	baseCtx     context.Context
	maxBody     int64
	corsOrigins []string
}

// Option configures the router built by NewMux.
type Option func(*server)

// WithLogger attaches a structured logger to the HTTP layer. Without it
// the layer is silent.
func WithLogger(log zerolog.Logger) Option {
	return func(s *server) { s.log = log }
}

// WithBaseContext ties in-flight generations to a process-level context
// so daemon shutdown cancels them the same way client disconnects do.
func WithBaseContext(ctx context.Context) Option {
	return func(s *server) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// WithMaxBodyBytes caps JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithCORS enables the CORS middleware for the given origins.
func WithCORS(origins []string) Option {
	return func(s *server) { s.corsOrigins = origins }
}

// NewMux builds the daemon router over svc.
func NewMux(svc Service, opts ...Option) http.Handler {
	s := &server{
		svc:     svc,
		log:     zerolog.Nop(),
		baseCtx: context.Background(),
		maxBody: 1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Log-Level"},
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", s.handleModels)
	r.Get("/status", s.handleStatus)
	r.Get("/version", s.handleVersion)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Delete("/", s.handleDestroySession)
			r.Post("/load", s.handleLoad)
			r.Post("/unload", s.handleUnload)
			r.Post("/generate", s.handleGenerate)
			r.Post("/cancel", s.handleCancel)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ModelsResponse{Models: s.svc.ListModels()})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.Status())
}

func (s *server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.VersionResponse{Version: s.svc.Version()})
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.svc.CreateSession()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(types.CreateSessionResponse{ID: id})
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.SessionStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DestroySession(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := s.svc.Load(chi.URLParam(r, "id"), req.Model, req.Config); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unload(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cancel(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGenerate streams NDJSON token lines followed by a final done
// line. Once the first token line is on the wire the status is already
// 200; later failures are reported as an in-stream error line.
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req types.GenerateRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if s.requestLevel(r) <= zerolog.DebugLevel {
		writer = io.MultiWriter(w, &streamEcho{log: s.log})
	}
	start := time.Now()
	s.logGenerate(r, "generate start", 0, 0, nil)

	// Two signals end a generation early and both fold into one context:
	// the client dropping the connection (r.Context) and daemon shutdown
	// (the base context installed by WithBaseContext).
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	enc := json.NewEncoder(writer)
	streamed := false
	emit := func(c types.StreamChunk) error {
		if !streamed {
			w.Header().Set("Content-Type", "application/x-ndjson")
			streamed = true
		}
		if err := enc.Encode(c); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}

	res, err := s.svc.GenerateStream(ctx, id, req.Prompt, &req, func(tok string) error {
		return emit(types.StreamChunk{Token: tok})
	})
	if err != nil {
		// Disconnect or shutdown: nobody is listening, just return.
		if ctx.Err() != nil {
			return
		}
		if streamed {
			_ = emit(types.StreamChunk{Error: err.Error()})
		} else {
			writeServiceError(w, err)
		}
		s.logGenerate(r, "generate end", statusForError(err), time.Since(start), err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	_ = emit(types.StreamChunk{
		Done:            true,
		FinishReason:    res.FinishReason,
		PromptTokens:    res.PromptTokens,
		GeneratedTokens: res.GeneratedTokens,
		Truncated:       res.Truncated,
		DurationMs:      res.Duration.Milliseconds(),
	})
	s.logGenerate(r, "generate end", http.StatusOK, time.Since(start), nil)
}

// decodeJSONBody enforces the JSON content type and body limit, then
// decodes into dst. It writes the error response itself on failure.
func (s *server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
