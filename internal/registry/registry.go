// Package registry tracks which model the generation engine has loaded and
// owns the lock that serializes access to it.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"sdqueue/internal/config"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

// Registry is what the worker and the store need from a model registry.
// Lock is held for the duration of one engine dispatch.
type Registry interface {
	sync.Locker
	Snapshot() jobs.ModelSnapshot
}

// Static exposes a single configured model. Swap replaces it between
// dispatches.
type Static struct {
	dispatch sync.Mutex

	mu    sync.RWMutex
	model jobs.ModelSnapshot
}

// New returns a registry serving model.
func New(model jobs.ModelSnapshot) *Static {
	return &Static{model: model}
}

// FromConfig builds the registry from the [model] section. The model counts
// as loaded only when its weights file exists.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Static, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	logger = logging.NewComponentLogger(logger, "registry")
	model := jobs.ModelSnapshot{
		Name:         cfg.Model.Name,
		Architecture: cfg.Model.Architecture,
		Path:         cfg.Model.Path,
		VAE:          cfg.Model.VAE,
		Upscaler:     cfg.Model.Upscaler,
	}
	if model.Path != "" {
		loaded, err := fileExists(model.Path)
		if err != nil {
			return nil, fmt.Errorf("model.path: %w", err)
		}
		model.Loaded = loaded
		if !loaded {
			logging.WarnWithContext(logger, "model file missing; generation jobs will fail", "model_missing",
				logging.String("path", model.Path),
				logging.String(logging.FieldImpact, "generation jobs fail until the file exists"),
				logging.String(logging.FieldErrorHint, "download the model or fix model.path"),
			)
		}
	}
	if model.Upscaler != "" {
		ok, err := fileExists(model.Upscaler)
		if err != nil {
			return nil, fmt.Errorf("model.upscaler: %w", err)
		}
		if !ok {
			logging.WarnWithContext(logger, "upscaler file missing; upscale jobs will fail", "upscaler_missing",
				logging.String("path", model.Upscaler),
			)
			model.Upscaler = ""
		}
	}
	return New(model), nil
}

// Snapshot returns the current model metadata.
func (s *Static) Snapshot() jobs.ModelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Static) Lock()   { s.dispatch.Lock() }
func (s *Static) Unlock() { s.dispatch.Unlock() }

// Swap installs a new model, waiting for any in-flight dispatch to finish.
func (s *Static) Swap(model jobs.ModelSnapshot) jobs.ModelSnapshot {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.model
	s.model = model
	return previous
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}
