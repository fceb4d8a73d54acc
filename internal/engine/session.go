package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/sampler"
	"inferd/pkg/types"
)

// Session owns backend resources across their lifecycle: load,
// generate, unload. A single exclusive lock serializes those three
// operations; Cancel, IsGenerating, IsLoaded and LastError are
// lock-free and may be called from any goroutine at any time.
type Session struct {
	mu      sync.Mutex
	factory backend.Factory
	log     zerolog.Logger

	b     backend.Backend
	eng   *Engine
	model types.Model
	cfg   types.GenerationConfig

	errMu   sync.Mutex
	lastErr string

	loaded     atomic.Bool
	generating atomic.Bool
	cancelled  atomic.Bool
}

// NewSession creates an empty session. The factory selects the backend
// implementation (real or test double) at construction time.
func NewSession(factory backend.Factory, log zerolog.Logger) *Session {
	return &Session{factory: factory, log: log}
}

// Load acquires backend resources for the model. Any prior loaded
// model is released first; load never overlaps two sets of handles.
func (s *Session) Load(model types.Model, cfg types.GenerationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearError()

	if err := cfg.Validate(); err != nil {
		s.setError(err.Error())
		return loadFailedError{path: model.Path, err: err}
	}
	s.releaseLocked()

	s.log.Info().Str("model", model.ID).Str("path", model.Path).Msg("loading model")
	b, err := s.factory(model.Path, cfg)
	if err != nil {
		s.setError(err.Error())
		if backend.IsUnavailable(err) {
			return err
		}
		return loadFailedError{path: model.Path, err: err}
	}
	s.b = b
	s.model = model
	s.cfg = cfg
	s.eng = New(b, sampler.New(cfg), s.log)
	s.loaded.Store(true)
	s.log.Info().Str("model", model.ID).Msg("model loaded")
	return nil
}

// Unload releases backend resources. Safe to call repeatedly and on a
// partially constructed session; nothing is freed twice.
func (s *Session) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

// releaseLocked frees owned resources if present. Callers hold s.mu.
func (s *Session) releaseLocked() {
	s.loaded.Store(false)
	if s.b != nil {
		_ = s.b.Close()
		s.b = nil
		s.log.Info().Str("model", s.model.ID).Msg("model unloaded")
	}
	s.eng = nil
	s.model = types.Model{}
}

// IsLoaded reports whether a model is currently loaded.
func (s *Session) IsLoaded() bool { return s.loaded.Load() }

// Model returns the loaded model (zero value when unloaded).
func (s *Session) Model() types.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Cancel requests that an in-flight generation stop at its next
// checkpoint. It never blocks and is not an error condition.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// IsGenerating reports whether a generation is in flight.
func (s *Session) IsGenerating() bool { return s.generating.Load() }

// LastError returns the error recorded by the most recent failed
// operation, or the empty string.
func (s *Session) LastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Session) setError(msg string) {
	s.log.Error().Str("error", msg).Msg("session error")
	s.errMu.Lock()
	s.lastErr = msg
	s.errMu.Unlock()
}

func (s *Session) clearError() {
	s.errMu.Lock()
	s.lastErr = ""
	s.errMu.Unlock()
}

// GenerateStream runs one generation under the session lock, invoking
// onToken synchronously for each token. Per-request overrides that
// change the effective config rebuild the sampler pipeline; the loaded
// config itself is not mutated.
func (s *Session) GenerateStream(ctx context.Context, prompt string, req *types.GenerateRequest, onToken TokenFunc) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearError()

	if s.b == nil {
		err := notLoadedError{}
		s.setError(err.Error())
		return Result{}, err
	}

	cfg := s.cfg
	if req != nil {
		cfg, _ = req.Overlay(cfg)
	}
	if cfg != s.eng.Pipeline().Config() {
		// Config changed since the pipeline was built: full rebuild,
		// not incremental.
		s.eng.SetPipeline(sampler.New(cfg))
	}

	s.cancelled.Store(false)
	s.generating.Store(true)
	// Cleared before any backend resource can be released: the lock is
	// still held when the flag drops, so an observer never sees "not
	// generating" while teardown is using backend state.
	defer s.generating.Store(false)

	cancelledFn := func() bool {
		return s.cancelled.Load() || ctx.Err() != nil
	}
	res, err := s.eng.GenerateStream(ctx, prompt, cfg, cancelledFn, onToken)
	if err != nil {
		s.setError(err.Error())
	}
	return res, err
}

// Generate runs a blocking whole-result generation by accumulating the
// streamed tokens.
func (s *Session) Generate(ctx context.Context, prompt string, req *types.GenerateRequest) (string, error) {
	res, err := s.GenerateStream(ctx, prompt, req, nil)
	if err != nil {
		return res.Text, err
	}
	return res.Text, nil
}
