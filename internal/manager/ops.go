package manager

import (
	"context"
	"sync/atomic"
	"time"

	"inferd/internal/engine"
	"inferd/pkg/types"
)

// Load resolves modelID against the registry and loads it into the
// session, releasing any previously loaded model first. A nil cfg uses
// the manager's generation defaults.
func (m *Manager) Load(id, modelID string, cfg *types.GenerationConfig) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	mdl, ok := m.ModelByID(modelID)
	if !ok {
		return modelNotFoundError{id: modelID}
	}
	effective := m.genCfg
	if cfg != nil {
		effective = *cfg
	}
	if err := s.sess.Load(mdl, effective); err != nil {
		m.publisher.Publish(Event{Name: "load_failed", SessionID: id, Fields: map[string]any{"model": modelID, "error": err.Error()}})
		return err
	}
	atomic.AddUint64(&m.loads, 1)
	m.mu.Lock()
	s.modelID = modelID
	s.lastUsed = time.Now()
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "load_done", SessionID: id, Fields: map[string]any{"model": modelID}})
	return nil
}

// Unload releases the session's model resources. Idempotent.
func (m *Manager) Unload(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.sess.Unload()
	m.mu.Lock()
	s.modelID = ""
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "unload_done", SessionID: id})
	return nil
}

// Cancel flags the session's in-flight generation to stop at its next
// checkpoint. Never blocks; no-op when nothing is generating.
func (m *Manager) Cancel(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.sess.Cancel()
	return nil
}

// GenerateStream admits the request against the session's queue and
// runs one streaming generation. onToken is invoked synchronously per
// token on the generating goroutine.
func (m *Manager) GenerateStream(ctx context.Context, id, prompt string, req *types.GenerateRequest, onToken engine.TokenFunc) (engine.Result, error) {
	release, err := m.beginGeneration(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	defer release()

	s, err := m.lookup(id)
	if err != nil {
		return engine.Result{}, err
	}
	res, err := s.sess.GenerateStream(ctx, prompt, req, onToken)
	if err != nil {
		m.publisher.Publish(Event{Name: "generate_failed", SessionID: id, Fields: map[string]any{"error": err.Error()}})
		return res, err
	}
	m.publisher.Publish(Event{Name: "generate_done", SessionID: id, Fields: map[string]any{
		"reason": res.FinishReason,
		"tokens": res.GeneratedTokens,
	}})
	return res, nil
}

// Generate runs a blocking whole-result generation.
func (m *Manager) Generate(ctx context.Context, id, prompt string, req *types.GenerateRequest) (string, error) {
	res, err := m.GenerateStream(ctx, id, prompt, req, nil)
	return res.Text, err
}

// SessionStatus reports one session's observable state.
func (m *Manager) SessionStatus(id string) (types.SessionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[id]
	if s == nil {
		return types.SessionStatus{}, sessionNotFoundError{id: id}
	}
	return m.sessionStatusLocked(s), nil
}

func (m *Manager) sessionStatusLocked(s *session) types.SessionStatus {
	return types.SessionStatus{
		ID:            s.ID,
		ModelID:       s.modelID,
		Loaded:        s.sess.IsLoaded(),
		Generating:    s.sess.IsGenerating(),
		LastError:     s.sess.LastError(),
		LastUsed:      s.lastUsed.Unix(),
		QueueLen:      len(s.queueCh),
		Inflight:      len(s.genCh),
		MaxQueueDepth: cap(s.queueCh),
	}
}
