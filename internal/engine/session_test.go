package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

func testModel() types.Model {
	return types.Model{ID: "m", Name: "m", Path: "/models/m.gguf"}
}

func loadedSession(t *testing.T, sb *backend.Scripted) *Session {
	t.Helper()
	s := NewSession(sb.Factory(), zerolog.Nop())
	cfg := testCfg()
	if err := s.Load(testModel(), cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestSession_GenerateWholeResult(t *testing.T) {
	s := loadedSession(t, backend.NewScripted("a", "b", "c"))
	out, err := s.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "abc" {
		t.Fatalf("got %q, want abc", out)
	}
	if s.LastError() != "" {
		t.Fatalf("unexpected last error: %q", s.LastError())
	}
}

func TestSession_GenerateWithoutLoad(t *testing.T) {
	s := NewSession(backend.NewScripted("a").Factory(), zerolog.Nop())
	_, err := s.Generate(context.Background(), "hello", nil)
	if !IsNotLoaded(err) {
		t.Fatalf("expected not-loaded, got %v", err)
	}
	if s.LastError() == "" {
		t.Fatalf("error slot not populated")
	}
}

func TestSession_DoubleUnloadIsIdempotent(t *testing.T) {
	sb := backend.NewScripted("a")
	s := loadedSession(t, sb)
	s.Unload()
	if !sb.Closed {
		t.Fatalf("backend not closed on unload")
	}
	// Second unload must not double-free or error.
	s.Unload()
	if s.IsLoaded() {
		t.Fatalf("still loaded after unload")
	}
	// Unload on a never-loaded session is also safe.
	NewSession(sb.Factory(), zerolog.Nop()).Unload()
}

func TestSession_ReloadReleasesPriorBackend(t *testing.T) {
	first := backend.NewScripted("a")
	second := backend.NewScripted("b")
	backends := []*backend.Scripted{first, second}
	i := 0
	factory := func(string, types.GenerationConfig) (backend.Backend, error) {
		b := backends[i]
		i++
		return b, nil
	}
	s := NewSession(factory, zerolog.Nop())
	if err := s.Load(testModel(), testCfg()); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := s.Load(testModel(), testCfg()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if !first.Closed {
		t.Fatalf("prior backend not released on re-load")
	}
	if second.Closed {
		t.Fatalf("new backend should remain open")
	}
}

func TestSession_LoadFailureRecordsError(t *testing.T) {
	factory := func(string, types.GenerationConfig) (backend.Backend, error) {
		return nil, backend.ErrUnavailable("llama support not built")
	}
	s := NewSession(factory, zerolog.Nop())
	err := s.Load(testModel(), testCfg())
	if !backend.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if s.IsLoaded() {
		t.Fatalf("loaded after failure")
	}
	if s.LastError() == "" {
		t.Fatalf("error slot not populated")
	}
}

func TestSession_LoadRejectsInvalidConfig(t *testing.T) {
	s := NewSession(backend.NewScripted("a").Factory(), zerolog.Nop())
	cfg := testCfg()
	cfg.BatchSize = 0
	if err := s.Load(testModel(), cfg); !IsLoadFailed(err) {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestSession_CancellationScenario(t *testing.T) {
	pieces := make([]string, 1000)
	for i := range pieces {
		pieces[i] = "t"
	}
	sb := backend.NewScripted(pieces...)
	sb.Window = 4096
	s := NewSession(sb.Factory(), zerolog.Nop())
	cfg := testCfg()
	cfg.MaxTokens = 1000
	if err := s.Load(testModel(), cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	emitted := 0
	res, err := s.GenerateStream(context.Background(), "p", nil, func(string) error {
		emitted++
		if emitted == 3 {
			s.Cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if emitted > 4 {
		t.Fatalf("emitted %d tokens after cancel", emitted)
	}
	if res.FinishReason != FinishCancel {
		t.Fatalf("finish reason = %q", res.FinishReason)
	}
	if s.LastError() != "" {
		t.Fatalf("cancellation populated error slot: %q", s.LastError())
	}
	if s.IsGenerating() {
		t.Fatalf("still generating after return")
	}
}

func TestSession_OverflowScenarioPopulatesErrorSlot(t *testing.T) {
	sb := backend.NewScripted("a")
	sb.Window = 128
	sb.PromptTokens = make([]types.Token, 200)
	for i := range sb.PromptTokens {
		sb.PromptTokens[i] = types.Token(300 + i)
	}
	s := NewSession(sb.Factory(), zerolog.Nop())
	cfg := testCfg()
	cfg.MaxTokens = 100
	if err := s.Load(testModel(), cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	emitted := 0
	_, err := s.GenerateStream(context.Background(), "p", nil, func(string) error {
		emitted++
		return nil
	})
	if !IsContextOverflow(err) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if emitted != 0 {
		t.Fatalf("emitted %d tokens", emitted)
	}
	if s.LastError() == "" {
		t.Fatalf("error slot empty after overflow")
	}
}

func TestSession_PerRequestOverridesDoNotStick(t *testing.T) {
	sb := backend.NewScripted("a", "b", "c")
	s := loadedSession(t, sb)

	seed := int64(99)
	req := &types.GenerateRequest{MaxTokens: 2, Seed: &seed}
	res, err := s.GenerateStream(context.Background(), "p", req, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if res.GeneratedTokens != 2 {
		t.Fatalf("override ignored: generated %d", res.GeneratedTokens)
	}

	// Next call without overrides runs the loaded config again.
	res, err = s.GenerateStream(context.Background(), "p", nil, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if res.Text != "abc" {
		t.Fatalf("got %q, want abc", res.Text)
	}
}

func TestSession_ContextCancellationStopsGeneration(t *testing.T) {
	pieces := make([]string, 100)
	for i := range pieces {
		pieces[i] = "t"
	}
	sb := backend.NewScripted(pieces...)
	sb.Window = 4096
	s := NewSession(sb.Factory(), zerolog.Nop())
	cfg := testCfg()
	cfg.MaxTokens = 100
	if err := s.Load(testModel(), cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	res, err := s.GenerateStream(ctx, "p", nil, func(string) error {
		emitted++
		if emitted == 2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("client disconnect is not an error: %v", err)
	}
	if res.FinishReason != FinishCancel {
		t.Fatalf("finish reason = %q", res.FinishReason)
	}
}
