package manager

import (
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxSessions   = 8
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry []types.Model
	Factory  backend.Factory
	Logger   zerolog.Logger

	// Defaults applied to loads that carry no explicit config.
	Generation types.GenerationConfig

	MaxSessions   int
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	// Publisher receives lifecycle events; nil means drop them.
	Publisher EventPublisher
}

func (c *Config) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.Generation == (types.GenerationConfig{}) {
		c.Generation = types.DefaultGenerationConfig()
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
}
