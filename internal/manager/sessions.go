package manager

import (
	"fmt"
	"sync/atomic"
	"time"

	"inferd/internal/engine"
)

// session wraps an engine session with the registry's bookkeeping:
// admission channels, LRU timestamps and the draining flag.
type session struct {
	ID       string
	sess     *engine.Session
	modelID  string
	created  time.Time
	lastUsed time.Time
	draining bool
	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}

// CreateSession registers a new empty session and returns its id. When
// the registry is at capacity an idle session is evicted first; if
// every session is busy the create is rejected as backpressure.
func (m *Manager) CreateSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		if !m.evictLockedLRU() {
			return "", tooBusyError{id: "(session budget exhausted)"}
		}
	}

	id := fmt.Sprintf("s-%d", atomic.AddUint64(&m.nextID, 1))
	s := &session{
		ID:       id,
		sess:     engine.NewSession(m.factory, m.log.With().Str("session", id).Logger()),
		created:  time.Now(),
		lastUsed: time.Now(),
		genCh:    make(chan struct{}, 1),
		queueCh:  make(chan struct{}, m.maxQueueDepth),
	}
	m.sessions[id] = s
	m.publisher.Publish(Event{Name: "session_create", SessionID: id})
	m.log.Info().Str("session", id).Msg("session created")
	return id, nil
}

// DestroySession drains and removes a session. New work is rejected
// immediately; any in-flight generation is cancelled and given up to
// the drain timeout to observe the flag before resources are released.
func (m *Manager) DestroySession(id string) error {
	m.mu.Lock()
	s := m.sessions[id]
	if s == nil {
		m.mu.Unlock()
		return sessionNotFoundError{id: id}
	}
	s.draining = true
	m.mu.Unlock()

	m.publisher.Publish(Event{Name: "session_destroy_start", SessionID: id})
	s.sess.Cancel()
	m.drain(s)

	s.sess.Unload()
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "session_destroy_done", SessionID: id})
	m.log.Info().Str("session", id).Msg("session destroyed")
	return nil
}

// drain waits for in-flight and queued work to finish, up to the
// configured timeout.
func (m *Manager) drain(s *session) {
	deadline := time.Now().Add(m.drainTimeout)
	for {
		if len(s.genCh) == 0 && len(s.queueCh) == 0 {
			return
		}
		if time.Now().After(deadline) {
			m.publisher.Publish(Event{
				Name:      "drain_timeout",
				SessionID: s.ID,
				Fields:    map[string]any{"inflight": len(s.genCh), "queue": len(s.queueCh)},
			})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// evictLockedLRU removes the least recently used idle session. Callers
// hold m.mu. Returns false when every session has in-flight or queued
// work.
func (m *Manager) evictLockedLRU() bool {
	var lru *session
	for _, s := range m.sessions {
		if len(s.genCh) > 0 || len(s.queueCh) > 0 || s.draining {
			continue
		}
		if lru == nil || s.lastUsed.Before(lru.lastUsed) {
			lru = s
		}
	}
	if lru == nil {
		return false
	}
	lru.sess.Unload()
	delete(m.sessions, lru.ID)
	m.evictions++
	m.publisher.Publish(Event{Name: "session_evict", SessionID: lru.ID})
	m.log.Info().Str("session", lru.ID).Msg("idle session evicted")
	return true
}

// Shutdown drains and destroys every session. Used by the daemon on
// graceful stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.DestroySession(id)
	}
}

// lookup fetches a session by id under the read lock.
func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[id]
	if s == nil {
		return nil, sessionNotFoundError{id: id}
	}
	return s, nil
}
