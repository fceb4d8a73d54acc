package manager

import (
	"sort"
	"sync/atomic"
	"time"

	"inferd"
	"inferd/internal/backend"
	"inferd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		MaxSessions:    m.maxSessions,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		EvictionsTotal: m.evictions,
		LoadsTotal:     atomic.LoadUint64(&m.loads),
	}
	resp.Sessions = make([]types.SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		resp.Sessions = append(resp.Sessions, m.sessionStatusLocked(s))
	}
	// Map iteration order is random; keep the report stable.
	sort.Slice(resp.Sessions, func(i, j int) bool {
		return resp.Sessions[i].ID < resp.Sessions[j].ID
	})
	return resp
}

// Version reports the release version plus the compiled backend variant.
func (m *Manager) Version() string {
	return inferd.Version + " (" + backend.Variant + ")"
}
