package workflow

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"sdqueue/internal/config"
	"sdqueue/internal/download"
	"sdqueue/internal/engine"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/registry"
	"sdqueue/internal/telemetry"
)

// Dependencies are the collaborators the worker drives. Previews may be nil
// to disable preview capture; Downloads may be nil when no download source is
// configured.
type Dependencies struct {
	Store     *jobs.Store
	Engine    engine.Engine
	Registry  registry.Registry
	Downloads download.Client
	Progress  *telemetry.ProgressTracker
	Previews  *telemetry.PreviewBuffer
	Logger    *slog.Logger
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithSeedSource replaces the random seed generator used when a generation
// job does not pin one.
func WithSeedSource(seed func() int64) ManagerOption {
	return func(m *Manager) {
		if seed != nil {
			m.seed = seed
		}
	}
}

// Manager owns the execution slot.
type Manager struct {
	store     *jobs.Store
	engine    engine.Engine
	registry  registry.Registry
	downloads download.Client
	progress  *telemetry.ProgressTracker
	previews  *telemetry.PreviewBuffer
	logger    *slog.Logger

	outputDir       string
	modelsDir       string
	previewsEnabled bool
	shutdownTimeout time.Duration
	downloadTimeout time.Duration
	seed            func() int64

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	current   string
	lastErr   error
	lastJob   *jobs.Job
	processed uint64
	failed    uint64
}

// NewManager constructs the worker.
func NewManager(cfg *config.Config, deps Dependencies, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if deps.Store == nil {
		return nil, errors.New("job store required")
	}
	if deps.Registry == nil {
		return nil, errors.New("model registry required")
	}
	if deps.Progress == nil {
		return nil, errors.New("progress tracker required")
	}
	if deps.Engine == nil {
		deps.Engine = engine.Unavailable{}
	}
	m := &Manager{
		store:           deps.Store,
		engine:          deps.Engine,
		registry:        deps.Registry,
		downloads:       deps.Downloads,
		progress:        deps.Progress,
		previews:        deps.Previews,
		logger:          logging.NewComponentLogger(deps.Logger, "workflow-manager"),
		outputDir:       cfg.Paths.OutputDir,
		modelsDir:       cfg.Paths.ModelsDir,
		previewsEnabled: cfg.Queue.Previews && deps.Previews != nil,
		shutdownTimeout: cfg.ShutdownTimeout(),
		downloadTimeout: cfg.DownloadTimeout(),
		seed:            func() int64 { return rand.Int64N(math.MaxUint32) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}
