package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"sdqueue/internal/config"
	"sdqueue/internal/download"
	"sdqueue/internal/engine"
	"sdqueue/internal/events"
	"sdqueue/internal/jobdb"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/preflight"
	"sdqueue/internal/registry"
	"sdqueue/internal/telemetry"
	"sdqueue/internal/workflow"
)

var (
	// ErrLocked means another process holds the state directory.
	ErrLocked = errors.New("another sdqueue instance holds the state directory")
	// ErrNotOpen means the daemon has not opened its store yet.
	ErrNotOpen = errors.New("daemon store not open")
)

// Dependencies are the collaborators the daemon wires into the worker. Any
// of them may be nil: Engine defaults to engine.Unavailable, Registry to an
// empty model, Events to events.Nop.
type Dependencies struct {
	Engine    engine.Engine
	Registry  registry.Registry
	Downloads download.Client
	Events    events.Sink
	Hub       *events.Hub
	Logger    *slog.Logger
}

// Daemon coordinates the store and the worker and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    engine.Engine
	registry  registry.Registry
	downloads download.Client
	sink      events.Sink
	hub       *events.Hub
	progress  *telemetry.ProgressTracker
	previews  *telemetry.PreviewBuffer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	db        *jobdb.DB
	store     *jobs.Store
	workflow  *workflow.Manager
	running   bool
	preflight []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	Model        jobs.ModelSnapshot
	StatePath    string
	LockFilePath string
	Preflight    []preflight.Result
}

// New constructs a daemon. Nothing is opened until Open or Start.
func New(cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if deps.Engine == nil {
		deps.Engine = engine.Unavailable{}
	}
	if deps.Registry == nil {
		deps.Registry = registry.New(jobs.ModelSnapshot{})
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	var previews *telemetry.PreviewBuffer
	if cfg.Queue.Previews {
		previews = telemetry.NewPreviewBuffer(deps.Events, cfg.PreviewThrottle())
	}
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(deps.Logger, "daemon"),
		engine:    deps.Engine,
		registry:  deps.Registry,
		downloads: deps.Downloads,
		sink:      deps.Events,
		hub:       deps.Hub,
		progress:  telemetry.NewProgressTracker(deps.Events, cfg.ProgressThrottle()),
		previews:  previews,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}, nil
}

// Open takes the instance lock, restores the job store and purges expired
// recycle bin entries. It does not start the worker.
func (d *Daemon) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openLocked(ctx)
}

func (d *Daemon) openLocked(ctx context.Context) error {
	if d.store != nil {
		return nil
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	db, err := jobdb.Open(ctx, d.cfg.StatePath(), d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("open job database: %w", err)
	}
	store, err := jobs.Open(ctx, jobs.Options{
		Persister:  db,
		Events:     d.sink,
		Progress:   d.progress,
		Logger:     d.logger,
		SoftDelete: d.cfg.Queue.SoftDelete,
		Retention:  d.cfg.Retention(),
	})
	if err != nil {
		_ = db.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("open job store: %w", err)
	}
	d.db = db
	d.store = store

	if purged := store.PurgeExpired(ctx); purged > 0 {
		d.logger.Info("expired recycle bin entries purged",
			logging.String(logging.FieldEventType, "recycle_purge"),
			logging.Int("purged", purged),
		)
	}
	return nil
}

// Start opens the store if needed and launches the worker.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}
	if err := d.openLocked(ctx); err != nil {
		return err
	}

	d.preflight = preflight.RunAll(ctx, d.cfg)
	for _, failed := range preflight.Failed(d.preflight) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "jobs depending on this check will fail"),
			logging.String(logging.FieldErrorHint, "fix the configuration and restart the daemon"),
		)
	}

	if d.workflow == nil {
		mgr, err := workflow.NewManager(d.cfg, workflow.Dependencies{
			Store:     d.store,
			Engine:    d.engine,
			Registry:  d.registry,
			Downloads: d.downloads,
			Progress:  d.progress,
			Previews:  d.previews,
			Logger:    d.logger,
		})
		if err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
		d.workflow = mgr
	}
	if err := d.workflow.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	d.running = true
	d.logger.Info("sdqueue daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("queued", d.store.PendingCount()),
	)
	return nil
}

// Stop stops the worker, blocking until the in-flight job finishes.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	mgr := d.workflow
	d.mu.Unlock()

	mgr.Stop()
	d.logger.Info("sdqueue daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the worker and releases the database and the lock.
func (d *Daemon) Close() error {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.store = nil
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	return err
}

// Store returns the open job store for read views.
func (d *Daemon) Store() (*jobs.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil, ErrNotOpen
	}
	return d.store, nil
}

// Hub returns the in-process event hub, if one was configured.
func (d *Daemon) Hub() *events.Hub {
	return d.hub
}

// Preview returns the latest preview frame of a running job.
func (d *Daemon) Preview(jobID string) (telemetry.Preview, bool) {
	if d.previews == nil {
		return telemetry.Preview{}, false
	}
	return d.previews.Get(jobID)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	status := Status{
		Running:      d.running,
		Model:        d.registry.Snapshot(),
		StatePath:    d.cfg.StatePath(),
		LockFilePath: d.lockPath,
		Preflight:    append([]preflight.Result(nil), d.preflight...),
	}
	mgr := d.workflow
	d.mu.Unlock()
	if mgr != nil {
		status.Workflow = mgr.Status()
	}
	return status
}

// OpenReadOnly loads a snapshot of the persisted job table without taking
// the lock. Mutations on the returned store fail with jobs.ErrReadOnly or
// return false.
func OpenReadOnly(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*jobs.Store, func() error, error) {
	if cfg == nil {
		return nil, nil, errors.New("config required")
	}
	db, err := jobdb.OpenReadOnly(ctx, cfg.StatePath(), logger)
	if err != nil {
		if errors.Is(err, jobdb.ErrNoDatabase) {
			store, openErr := jobs.Open(ctx, jobs.Options{ReadOnly: true, Logger: logger, SoftDelete: cfg.Queue.SoftDelete})
			return store, func() error { return nil }, openErr
		}
		return nil, nil, err
	}
	store, err := jobs.Open(ctx, jobs.Options{
		Persister:  db,
		Logger:     logger,
		ReadOnly:   true,
		SoftDelete: cfg.Queue.SoftDelete,
		Retention:  cfg.Retention(),
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// Locked reports whether another process currently holds the instance lock.
func Locked(cfg *config.Config) (bool, error) {
	if _, err := os.Stat(cfg.LockPath()); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	probe := flock.New(cfg.LockPath())
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}
