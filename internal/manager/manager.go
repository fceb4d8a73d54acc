package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// Manager owns the live generation sessions. All maps are guarded by
// mu; per-session generation admission uses the session's own channel
// primitives so concurrent generations on different sessions never
// contend on the manager lock.
type Manager struct {
	mu       sync.RWMutex
	registry []types.Model
	sessions map[string]*session

	factory   backend.Factory
	log       zerolog.Logger
	publisher EventPublisher
	genCfg    types.GenerationConfig

	maxSessions   int
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	startTime time.Time
	nextID    uint64
	loads     uint64
	evictions uint64
}

// New constructs a Manager from cfg, applying package defaults for
// unset tunables.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		registry:      cfg.Registry,
		sessions:      make(map[string]*session),
		factory:       cfg.Factory,
		log:           cfg.Logger,
		publisher:     cfg.Publisher,
		genCfg:        cfg.Generation,
		maxSessions:   cfg.MaxSessions,
		maxQueueDepth: cfg.MaxQueueDepth,
		maxWait:       cfg.MaxWait,
		drainTimeout:  cfg.DrainTimeout,
		startTime:     time.Now(),
	}
}

// ListModels returns the discovered model registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// ModelByID finds a registry entry by id.
func (m *Manager) ModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}
