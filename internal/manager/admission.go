package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight
// slot for the session. Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context, id string) (func(), error) {
	m.mu.RLock()
	s := m.sessions[id]
	var draining bool
	if s != nil {
		draining = s.draining
	}
	m.mu.RUnlock()
	if s == nil {
		return func() {}, sessionNotFoundError{id: id}
	}
	// If draining, reject new work to allow graceful destroy
	if draining {
		return func() {}, tooBusyError{id: id}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	// Try to reserve a queue slot with timeout
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case s.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{id: id}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-s.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case s.genCh <- struct{}{}:
		acquired = true
		m.mu.Lock()
		s.lastUsed = time.Now()
		m.mu.Unlock()
		return func() { <-s.genCh; <-s.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{id: id}
	}
}
