package workflow_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdqueue/internal/download"
	"sdqueue/internal/engine"
	"sdqueue/internal/events"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/telemetry"
	"sdqueue/internal/testsupport"
	"sdqueue/internal/workflow"
)

type fakeRegistry struct {
	mu     sync.Mutex
	locked atomic.Bool
}

func (r *fakeRegistry) Lock() {
	r.mu.Lock()
	r.locked.Store(true)
}

func (r *fakeRegistry) Unlock() {
	r.locked.Store(false)
	r.mu.Unlock()
}

func (r *fakeRegistry) Snapshot() jobs.ModelSnapshot {
	return jobs.ModelSnapshot{Name: "sd15", Architecture: "sd1", Loaded: true}
}

type fakeEngine struct {
	registry *fakeRegistry
	err      error
	panicMsg string
	block    chan struct{}
	started  chan string
	delay    time.Duration

	mu        sync.Mutex
	calls     []string
	unlocked  int
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeEngine) run(jobID, outputDir string, cb engine.Callbacks) ([]string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, jobID)
	if f.registry != nil && !f.registry.locked.Load() {
		f.unlocked++
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- jobID
	}
	if f.block != nil {
		<-f.block
	}
	time.Sleep(f.delay)
	if cb.Progress != nil {
		cb.Progress(1, 20)
		cb.Progress(20, 20)
	}
	if cb.Preview != nil {
		cb.Preview(10, 0, []byte{0x89, 0x50, 0x4e, 0x47}, 64, 64, true)
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []string{filepath.Join(outputDir, jobID+".png")}, nil
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) GenerateImage(_ context.Context, jobID string, _ jobs.GenerateParams, outputDir string, cb engine.Callbacks) ([]string, error) {
	return f.run(jobID, outputDir, cb)
}

func (f *fakeEngine) GenerateImageFromImage(_ context.Context, jobID string, _ jobs.GenerateParams, outputDir string, cb engine.Callbacks) ([]string, error) {
	return f.run(jobID, outputDir, cb)
}

func (f *fakeEngine) GenerateVideo(_ context.Context, jobID string, _ jobs.GenerateParams, outputDir string, cb engine.Callbacks) ([]string, error) {
	return f.run(jobID, outputDir, cb)
}

func (f *fakeEngine) Upscale(_ context.Context, jobID string, _ jobs.UpscaleParams, outputDir string, cb engine.Callbacks) ([]string, error) {
	return f.run(jobID, outputDir, cb)
}

func (f *fakeEngine) Convert(_ context.Context, jobID string, params jobs.ConvertParams, cb engine.Callbacks) ([]string, error) {
	return f.run(jobID, filepath.Dir(params.OutputPath), cb)
}

type fakeDownloads struct {
	content []byte
	err     error
}

func (f *fakeDownloads) Download(_ context.Context, req download.Request, progress download.ProgressFunc) (download.Result, error) {
	if f.err != nil {
		return download.Result{}, f.err
	}
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return download.Result{}, err
	}
	if err := os.WriteFile(req.Path, f.content, 0o644); err != nil {
		return download.Result{}, err
	}
	size := int64(len(f.content))
	progress(size, size)
	return download.Result{Path: req.Path, Size: size}, nil
}

type harness struct {
	store     *jobs.Store
	recorder  *events.Recorder
	engine    *fakeEngine
	registry  *fakeRegistry
	downloads *fakeDownloads
	progress  *telemetry.ProgressTracker
	previews  *telemetry.PreviewBuffer
	manager   *workflow.Manager
	modelsDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	recorder := events.NewRecorder()
	progress := telemetry.NewProgressTracker(recorder, 0)
	previews := telemetry.NewPreviewBuffer(recorder, 0)
	store, _ := testsupport.MustOpenStore(t, cfg, recorder)

	reg := &fakeRegistry{}
	h := &harness{
		store:     store,
		recorder:  recorder,
		engine:    &fakeEngine{registry: reg},
		registry:  reg,
		downloads: &fakeDownloads{content: []byte("model weights")},
		progress:  progress,
		previews:  previews,
		modelsDir: cfg.Paths.ModelsDir,
	}
	manager, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:     store,
		Engine:    h.engine,
		Registry:  reg,
		Downloads: h.downloads,
		Progress:  progress,
		Previews:  previews,
		Logger:    logging.NewNop(),
	}, workflow.WithSeedSource(func() int64 { return 1234 }))
	require.NoError(t, err)
	h.manager = manager
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.manager.Start(context.Background()))
	t.Cleanup(h.manager.Stop)
}

func waitForStatus(t *testing.T, store *jobs.Store, id string, status jobs.Status) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = store.Get(id)
		return ok && job.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

// waitIdle waits until the worker has finished processed jobs, including
// telemetry cleanup.
func waitIdle(t *testing.T, m *workflow.Manager, processed uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		status := m.Status()
		return status.Processed == processed && status.CurrentJob == ""
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManagerCompletesGenerateJob(t *testing.T) {
	h := newHarness(t)
	h.engine.delay = 5 * time.Millisecond
	id := testsupport.NewImageJob(t, h.store, "a lighthouse at dusk")
	h.start(t)

	job := waitForStatus(t, h.store, id, jobs.StatusCompleted)
	require.Len(t, job.Outputs, 1)
	assert.True(t, strings.HasSuffix(job.Outputs[0], id+".png"))
	assert.False(t, job.StartedAt.IsZero())
	assert.True(t, job.CompletedAt.After(job.StartedAt), "completed %s not after started %s", job.CompletedAt, job.StartedAt)
	assert.Empty(t, job.ErrorMessage)
	waitIdle(t, h.manager, 1)

	params, err := jobs.DecodeParams[jobs.GenerateParams](job.Params)
	require.NoError(t, err)
	require.NotNil(t, params.Seed)
	assert.Equal(t, int64(1234), *params.Seed)
	assert.Equal(t, jobs.DefaultSteps, params.Steps)

	_, _, tracking := h.progress.Current()
	assert.False(t, tracking, "progress must be cleared after the outcome")
	_, hasPreview := h.previews.Get(id)
	assert.False(t, hasPreview, "preview must be cleared after the outcome")
	assert.NotEmpty(t, h.recorder.OfType(events.JobProgress))
	previews := h.recorder.OfType(events.JobPreview)
	require.NotEmpty(t, previews)
	assert.NotContains(t, previews[0].Fields, "data")
	assert.Zero(t, h.engine.unlocked, "engine must run under the registry lock")

	status := h.manager.Status()
	assert.True(t, status.Running)
	assert.Equal(t, uint64(1), status.Processed)
	require.NotNil(t, status.LastJob)
	assert.Equal(t, id, status.LastJob.ID)
	assert.Equal(t, 1, status.Counts[jobs.StatusCompleted])
}

func TestManagerRecordsEngineErrorsVerbatim(t *testing.T) {
	h := newHarness(t)
	h.engine.err = engine.ErrNoModelLoaded
	id := testsupport.NewImageJob(t, h.store, "anything")
	h.start(t)

	job := waitForStatus(t, h.store, id, jobs.StatusFailed)
	assert.Equal(t, "no model loaded", job.ErrorMessage)
	assert.Empty(t, job.Outputs)
	assert.False(t, job.CompletedAt.IsZero())
	waitIdle(t, h.manager, 1)

	status := h.manager.Status()
	assert.Equal(t, uint64(1), status.Failed)
	assert.Equal(t, "no model loaded", status.LastError)
}

func TestManagerRecoversEnginePanic(t *testing.T) {
	h := newHarness(t)
	h.engine.panicMsg = "cuda context lost"
	first := testsupport.NewImageJob(t, h.store, "first")
	h.start(t)

	job := waitForStatus(t, h.store, first, jobs.StatusFailed)
	assert.Contains(t, job.ErrorMessage, "cuda context lost")
	assert.False(t, h.registry.locked.Load(), "registry lock released after panic")
}

func TestManagerRunsOneJobAtATimeInOrder(t *testing.T) {
	h := newHarness(t)
	ids := []string{
		testsupport.NewImageJob(t, h.store, "one"),
		testsupport.NewImageJob(t, h.store, "two"),
		testsupport.NewImageJob(t, h.store, "three"),
	}
	h.start(t)

	for _, id := range ids {
		waitForStatus(t, h.store, id, jobs.StatusCompleted)
	}
	assert.Equal(t, ids, h.engine.Calls())
	assert.Equal(t, int32(1), h.engine.maxActive.Load())
}

func TestManagerSkipsCancelledJobs(t *testing.T) {
	h := newHarness(t)
	keep := testsupport.NewImageJob(t, h.store, "keep")
	drop := testsupport.NewImageJob(t, h.store, "drop")
	require.True(t, h.store.Cancel(context.Background(), drop))
	assert.False(t, h.store.Cancel(context.Background(), drop), "second cancel is a no-op")
	h.start(t)

	waitForStatus(t, h.store, keep, jobs.StatusCompleted)
	assert.Equal(t, []string{keep}, h.engine.Calls())
	job, ok := h.store.Get(drop)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCancelled, job.Status)
	assert.True(t, job.StartedAt.IsZero())
}

func TestManagerWakesForJobsSubmittedLater(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	time.Sleep(10 * time.Millisecond)
	id := testsupport.NewImageJob(t, h.store, "late arrival")
	waitForStatus(t, h.store, id, jobs.StatusCompleted)
}

func TestLinkedDownloadFailureFailsHashDirectly(t *testing.T) {
	h := newHarness(t)
	h.downloads.err = errors.New("connection reset by peer")
	dlID, hashID, err := h.store.CreateLinkedPair(context.Background(), jobs.DownloadParams{
		URL:       "https://example.com/models/sd15.safetensors",
		ModelType: "checkpoint",
	}, jobs.ModelSnapshot{})
	require.NoError(t, err)
	h.start(t)

	dl := waitForStatus(t, h.store, dlID, jobs.StatusFailed)
	assert.Equal(t, "connection reset by peer", dl.ErrorMessage)

	hash := waitForStatus(t, h.store, hashID, jobs.StatusFailed)
	assert.True(t, strings.HasPrefix(hash.ErrorMessage, "Download failed"))
	assert.Contains(t, hash.ErrorMessage, "connection reset by peer")
	assert.True(t, hash.StartedAt.IsZero(), "hash job never reached processing")
	assert.Equal(t, 0, h.store.PendingCount())
}

func TestLinkedDownloadSuccessHashesFile(t *testing.T) {
	h := newHarness(t)
	dlID, hashID, err := h.store.CreateLinkedPair(context.Background(), jobs.DownloadParams{
		URL:       "https://example.com/models/sd15.safetensors",
		ModelType: "checkpoint",
	}, jobs.ModelSnapshot{})
	require.NoError(t, err)
	h.start(t)

	dl := waitForStatus(t, h.store, dlID, jobs.StatusCompleted)
	wantPath := filepath.Join(h.modelsDir, "checkpoint", "sd15.safetensors")
	assert.Equal(t, []string{wantPath}, dl.Outputs)

	hash := waitForStatus(t, h.store, hashID, jobs.StatusCompleted)
	sum := sha256.Sum256(h.downloads.content)
	assert.Equal(t, []string{"sha256:" + hex.EncodeToString(sum[:])}, hash.Outputs)

	params, err := jobs.DecodeParams[jobs.HashParams](hash.Params)
	require.NoError(t, err)
	assert.Equal(t, wantPath, params.FilePath)
	assert.Equal(t, int64(len(h.downloads.content)), params.Size)
}

func TestHashMismatchFailsJob(t *testing.T) {
	h := newHarness(t)
	_, hashID, err := h.store.CreateLinkedPair(context.Background(), jobs.DownloadParams{
		URL:            "https://example.com/vae.safetensors",
		ModelType:      "vae",
		ExpectedSHA256: strings.Repeat("ab", 32),
	}, jobs.ModelSnapshot{})
	require.NoError(t, err)
	h.start(t)

	hash := waitForStatus(t, h.store, hashID, jobs.StatusFailed)
	assert.Contains(t, hash.ErrorMessage, "sha256 mismatch")
	assert.False(t, hash.StartedAt.IsZero())
}

func TestStopWaitsForInFlightJob(t *testing.T) {
	h := newHarness(t)
	h.engine.block = make(chan struct{})
	h.engine.started = make(chan string, 1)
	id := testsupport.NewImageJob(t, h.store, "slow render")
	queued := testsupport.NewImageJob(t, h.store, "never started")
	require.NoError(t, h.manager.Start(context.Background()))

	select {
	case <-h.engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never dispatched")
	}

	stopped := make(chan struct{})
	go func() {
		h.manager.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.engine.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}

	job, ok := h.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	next, ok := h.store.Get(queued)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusPending, next.Status, "no new job is claimed after Stop")
	assert.False(t, h.manager.Status().Running)
}

func TestStopLogsWithoutShutdownTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.ShutdownTimeoutSeconds = 0
	store, _ := testsupport.MustOpenStore(t, cfg, nil)
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "json", Level: "info", Output: &buf})
	require.NoError(t, err)
	manager, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:    store,
		Engine:   &fakeEngine{},
		Registry: &fakeRegistry{},
		Progress: telemetry.NewProgressTracker(nil, 0),
		Logger:   logger,
	})
	require.NoError(t, err)

	require.NoError(t, manager.Start(context.Background()))
	manager.Stop()

	assert.Contains(t, buf.String(), `"event_type":"worker_stop"`)
	assert.Contains(t, buf.String(), "worker stopped")
}

func TestManagerStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	h.manager.Stop()

	require.NoError(t, h.manager.Start(context.Background()))
	require.Error(t, h.manager.Start(context.Background()))
	h.manager.Stop()
	h.manager.Stop()
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := workflow.NewManager(cfg, workflow.Dependencies{})
	require.Error(t, err)
	_, err = workflow.NewManager(nil, workflow.Dependencies{})
	require.Error(t, err)
}
