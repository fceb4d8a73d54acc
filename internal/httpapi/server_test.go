package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

func newTestMux(t *testing.T, mut func(*manager.Config)) http.Handler {
	t.Helper()
	cfg := manager.Config{
		Registry: []types.Model{{ID: "tiny", Name: "tiny", Path: "/models/tiny.gguf"}},
		Factory: func(string, types.GenerationConfig) (backend.Backend, error) {
			return backend.NewScripted("a", "b", "c"), nil
		},
		Logger:  zerolog.Nop(),
		MaxWait: 100 * time.Millisecond,
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewMux(manager.New(cfg))
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func createSession(t *testing.T, mux http.Handler) string {
	t.Helper()
	rr := doJSON(t, mux, http.MethodPost, "/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp types.CreateSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.ID
}

func TestModelsEndpoint(t *testing.T) {
	mux := newTestMux(t, nil)
	rr := doJSON(t, mux, http.MethodGet, "/models", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp types.ModelsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0].ID != "tiny" {
		t.Fatalf("models = %+v", resp.Models)
	}
}

func TestHealthAndReady(t *testing.T) {
	mux := newTestMux(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := doJSON(t, mux, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}
}

func TestVersionEndpoint(t *testing.T) {
	mux := newTestMux(t, nil)
	rr := doJSON(t, mux, http.MethodGet, "/version", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp types.VersionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version == "" {
		t.Fatalf("empty version")
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)

	rr := doJSON(t, mux, http.MethodGet, "/sessions/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get session status = %d", rr.Code)
	}
	var st types.SessionStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ID != id || st.Loaded {
		t.Fatalf("status = %+v", st)
	}

	if rr := doJSON(t, mux, http.MethodDelete, "/sessions/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodGet, "/sessions/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestLoadValidation(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)

	// Missing Content-Type
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/load", strings.NewReader(`{"model":"tiny"}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("no content-type status = %d", rr.Code)
	}

	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty model status = %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "missing"}); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown model status = %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "tiny"}); rr.Code != http.StatusNoContent {
		t.Fatalf("load status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGenerateBeforeLoadIsConflict(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)
	rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/generate", types.GenerateRequest{Prompt: "hi"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGenerateStreamsNDJSON(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "tiny"}); rr.Code != http.StatusNoContent {
		t.Fatalf("load status = %d", rr.Code)
	}

	rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/generate", types.GenerateRequest{Prompt: "hi"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Fatalf("content type = %q", ct)
	}

	var tokens []string
	var final types.StreamChunk
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		var c types.StreamChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		if c.Done {
			final = c
			continue
		}
		tokens = append(tokens, c.Token)
	}
	if strings.Join(tokens, "") != "abc" {
		t.Fatalf("tokens = %v", tokens)
	}
	if !final.Done || final.FinishReason != "eos" || final.GeneratedTokens != 3 {
		t.Fatalf("final line = %+v", final)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)
	rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/generate", types.GenerateRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGenerateUnknownSession(t *testing.T) {
	mux := newTestMux(t, nil)
	rr := doJSON(t, mux, http.MethodPost, "/sessions/nope/generate", types.GenerateRequest{Prompt: "hi"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestContextOverflowMapsTo422(t *testing.T) {
	mux := newTestMux(t, func(c *manager.Config) {
		c.Factory = func(string, types.GenerationConfig) (backend.Backend, error) {
			sb := backend.NewScripted("a")
			sb.Window = 128
			sb.PromptTokens = make([]types.Token, 200)
			for i := range sb.PromptTokens {
				sb.PromptTokens[i] = types.Token(300 + i)
			}
			return sb, nil
		}
	})
	id := createSession(t, mux)
	cfg := types.DefaultGenerationConfig()
	cfg.MaxTokens = 100
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "tiny", Config: &cfg}); rr.Code != http.StatusNoContent {
		t.Fatalf("load status = %d", rr.Code)
	}
	rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/generate", types.GenerateRequest{Prompt: "hi"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestBackendUnavailableMapsTo503(t *testing.T) {
	mux := newTestMux(t, func(c *manager.Config) {
		c.Factory = func(string, types.GenerationConfig) (backend.Backend, error) {
			return nil, backend.ErrUnavailable("llama support not built")
		}
	})
	id := createSession(t, mux)
	rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "tiny"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancelEndpoint(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/cancel", nil); rr.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/nope/cancel", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown status = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newTestMux(t, nil)
	// Labelled counters only materialize after a first observation.
	doJSON(t, mux, http.MethodGet, "/healthz", nil)
	rr := doJSON(t, mux, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "inferd_http_requests_total") {
		t.Fatalf("metrics body missing request counter")
	}
}

// slowBackend paces decodes so cancellation has time to land.
type slowBackend struct{ *backend.Scripted }

func (s slowBackend) Decode(b backend.Batch) error {
	time.Sleep(2 * time.Millisecond)
	return s.Scripted.Decode(b)
}

func TestBaseContextCancelsInFlightGeneration(t *testing.T) {
	pieces := make([]string, 600)
	for i := range pieces {
		pieces[i] = "t"
	}
	mgr := manager.New(manager.Config{
		Registry: []types.Model{{ID: "tiny", Name: "tiny", Path: "/models/tiny.gguf"}},
		Factory: func(string, types.GenerationConfig) (backend.Backend, error) {
			return slowBackend{backend.NewScripted(pieces...)}, nil
		},
		Logger:  zerolog.Nop(),
		MaxWait: time.Second,
	})
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(mgr, WithBaseContext(baseCtx)))
	defer srv.Close()

	create, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created types.CreateSessionResponse
	if err := json.NewDecoder(create.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	create.Body.Close()
	load, err := http.Post(srv.URL+"/sessions/"+created.ID+"/load", "application/json", strings.NewReader(`{"model":"tiny"}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	load.Body.Close()
	if load.StatusCode != http.StatusNoContent {
		t.Fatalf("load status = %d", load.StatusCode)
	}

	body, _ := json.Marshal(types.GenerateRequest{Prompt: "go", MaxTokens: 500})
	resp, err := http.Post(srv.URL+"/sessions/"+created.ID+"/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() {
		t.Fatalf("no first token line")
	}
	cancel()
	lines := 1
	for sc.Scan() {
		lines++
	}
	if lines >= 500 {
		t.Fatalf("stream ran to completion despite shutdown: %d lines", lines)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	mgr := manager.New(manager.Config{
		Factory: func(string, types.GenerationConfig) (backend.Backend, error) {
			return backend.NewScripted("a"), nil
		},
		Logger: zerolog.Nop(),
	})
	h := NewMux(mgr, WithCORS([]string{"https://app.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/models", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestRequestLevelOverride(t *testing.T) {
	s := &server{log: zerolog.Nop()}

	r := httptest.NewRequest(http.MethodGet, "/sessions/x/generate?log=debug", nil)
	if lvl := s.requestLevel(r); lvl != zerolog.DebugLevel {
		t.Fatalf("query override level = %v", lvl)
	}
	r = httptest.NewRequest(http.MethodGet, "/sessions/x/generate?log=1", nil)
	if lvl := s.requestLevel(r); lvl != zerolog.DebugLevel {
		t.Fatalf("numeric override level = %v", lvl)
	}
	r = httptest.NewRequest(http.MethodGet, "/sessions/x/generate", nil)
	r.Header.Set("X-Log-Level", "warn")
	if lvl := s.requestLevel(r); lvl != zerolog.WarnLevel {
		t.Fatalf("header override level = %v", lvl)
	}
	// No override: the server logger's own level wins.
	r = httptest.NewRequest(http.MethodGet, "/sessions/x/generate", nil)
	if lvl := s.requestLevel(r); lvl != zerolog.Nop().GetLevel() {
		t.Fatalf("default level = %v", lvl)
	}
}

func TestStreamEchoBuffersPartialLines(t *testing.T) {
	var out bytes.Buffer
	e := &streamEcho{log: zerolog.New(&out)}

	if _, err := e.Write([]byte(`{"token":"a"`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("partial line logged early: %s", out.String())
	}
	if _, err := e.Write([]byte("}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out.String(), "generate stream") {
		t.Fatalf("completed line not logged: %s", out.String())
	}
}

func TestUnloadEndpointIsIdempotent(t *testing.T) {
	mux := newTestMux(t, nil)
	id := createSession(t, mux)
	if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/load", types.LoadRequest{Model: "tiny"}); rr.Code != http.StatusNoContent {
		t.Fatalf("load status = %d", rr.Code)
	}
	for i := 0; i < 2; i++ {
		if rr := doJSON(t, mux, http.MethodPost, "/sessions/"+id+"/unload", nil); rr.Code != http.StatusNoContent {
			t.Fatalf("unload #%d status = %d", i+1, rr.Code)
		}
	}
}
