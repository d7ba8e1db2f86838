package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"sdqueue/internal/config"
	"sdqueue/internal/daemon"
	"sdqueue/internal/engine"
	"sdqueue/internal/events"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/registry"
	"sdqueue/internal/testsupport"
)

type writingEngine struct {
	engine.Unavailable
}

func (writingEngine) GenerateImage(_ context.Context, jobID string, _ jobs.GenerateParams, outputDir string, cb engine.Callbacks) ([]string, error) {
	if cb.Progress != nil {
		cb.Progress(1, 1)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(outputDir, jobID+".png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func newDaemon(t *testing.T, cfgHub *events.Hub) (*daemon.Daemon, func() *daemon.Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	build := func() *daemon.Daemon {
		deps := daemon.Dependencies{
			Engine:   writingEngine{},
			Registry: registry.New(jobs.ModelSnapshot{Name: "sd-v1-5", Architecture: "sd1", Loaded: true}),
			Logger:   logging.NewNop(),
		}
		if cfgHub != nil {
			deps.Events = cfgHub
			deps.Hub = cfgHub
		}
		d, err := daemon.New(cfg, deps)
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		t.Cleanup(func() { _ = d.Close() })
		return d
	}
	return build(), build, cfg
}

func imageParams(prompt string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"prompt": prompt})
	return raw
}

func waitForStatus(t *testing.T, store *jobs.Store, id string, want jobs.Status) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := store.Get(id); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.Get(id)
	t.Fatalf("job %s status = %s, want %s", id, job.Status, want)
	return job
}

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := newDaemon(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected running status, got %+v", status)
	}
	if status.Model.Name != "sd-v1-5" {
		t.Fatalf("unexpected model %+v", status.Model)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to report stopped")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	first, build, _ := newDaemon(t, nil)
	ctx := context.Background()
	if err := first.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	second := build()
	if err := second.Open(ctx); !errors.Is(err, daemon.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := second.Open(ctx); err != nil {
		t.Fatalf("Open after release: %v", err)
	}
}

func TestDaemonRequiresOpenStore(t *testing.T) {
	d, _, _ := newDaemon(t, nil)
	ctx := context.Background()
	if _, err := d.Submit(ctx, jobs.KindGenerateImage, imageParams("a cat")); !errors.Is(err, daemon.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen from Submit, got %v", err)
	}
	if _, err := d.Cancel(ctx, "missing"); !errors.Is(err, daemon.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen from Cancel, got %v", err)
	}
	if _, err := d.ClearRecycleBin(ctx); !errors.Is(err, daemon.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen from ClearRecycleBin, got %v", err)
	}
}

func TestDaemonProcessesSubmittedJob(t *testing.T) {
	hub := events.NewHub(64)
	d, _, _ := newDaemon(t, hub)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := d.Submit(ctx, jobs.KindGenerateImage, imageParams("a lighthouse at dusk"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	store, err := d.Store()
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	job := waitForStatus(t, store, id, jobs.StatusCompleted)
	if len(job.Outputs) != 1 {
		t.Fatalf("expected one output, got %v", job.Outputs)
	}
	if job.Model.Name != "sd-v1-5" {
		t.Fatalf("job was not stamped with the loaded model: %+v", job.Model)
	}

	added := false
	tail, _ := hub.Tail(64)
	for _, evt := range tail {
		if evt.Type == events.JobAdded {
			added = true
		}
	}
	if !added {
		t.Fatal("expected a job_added event on the hub")
	}
}

func TestDaemonAdministersJobsOffline(t *testing.T) {
	d, build, _ := newDaemon(t, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	keep, err := d.Submit(ctx, jobs.KindGenerateImage, imageParams("keep"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drop, err := d.Submit(ctx, jobs.KindGenerateImage, imageParams("drop"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := d.Cancel(ctx, drop); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	if ok, err := d.Delete(ctx, drop); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := build()
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	store, err := reopened.Store()
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if job, ok := store.Get(keep); !ok || job.Status != jobs.StatusPending {
		t.Fatalf("expected pending job to survive reopen, got %+v", job)
	}
	if deleted := store.ListDeleted(); len(deleted) != 1 || deleted[0].ID != drop {
		t.Fatalf("expected recycle bin to hold %s, got %+v", drop, deleted)
	}
	if ok, err := reopened.Restore(ctx, drop); err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if job, _ := store.Get(drop); job.Status != jobs.StatusCancelled {
		t.Fatalf("expected restored job to be cancelled again, got %s", job.Status)
	}
	if n, err := reopened.ClearRecycleBin(ctx); err != nil || n != 0 {
		t.Fatalf("ClearRecycleBin = %d, %v", n, err)
	}
}

func TestDaemonSubmitModelDownloadHoldsHashJob(t *testing.T) {
	d, _, _ := newDaemon(t, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	downloadID, hashID, err := d.SubmitModelDownload(ctx, jobs.DownloadParams{
		URL:       "https://example.com/models/sd-v1-5.safetensors",
		ModelType: "checkpoint",
	})
	if err != nil {
		t.Fatalf("SubmitModelDownload: %v", err)
	}
	store, _ := d.Store()
	queued := store.QueuedIDs()
	if !slices.Contains(queued, downloadID) || slices.Contains(queued, hashID) {
		t.Fatalf("expected only the download queued, got %v", queued)
	}
	hash, ok := store.Get(hashID)
	if !ok || !hash.Held() || hash.LinkedJobID != downloadID {
		t.Fatalf("unexpected hash job %+v", hash)
	}
}

func TestOpenReadOnlySeesLockedState(t *testing.T) {
	d, _, cfg := newDaemon(t, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := d.Submit(ctx, jobs.KindGenerateImage, imageParams("snapshot"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	locked, err := daemon.Locked(cfg)
	if err != nil || !locked {
		t.Fatalf("Locked = %v, %v", locked, err)
	}
	snapshot, closeFn, err := daemon.OpenReadOnly(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer closeFn()
	if !snapshot.ReadOnly() {
		t.Fatal("expected read-only store")
	}
	if _, ok := snapshot.Get(id); !ok {
		t.Fatalf("expected snapshot to include %s", id)
	}
	if snapshot.Cancel(ctx, id) {
		t.Fatal("read-only store must not cancel")
	}
}
