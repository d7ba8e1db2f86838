package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"sdqueue/internal/config"
	"sdqueue/internal/events"
	"sdqueue/internal/jobdb"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

// MustOpenStore opens a SQLite-backed jobs.Store for tests and registers
// cleanup. sink may be nil.
func MustOpenStore(t testing.TB, cfg *config.Config, sink events.Sink) (*jobs.Store, *jobdb.DB) {
	t.Helper()

	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	db, err := jobdb.Open(context.Background(), cfg.StatePath(), logging.NewNop())
	if err != nil {
		t.Fatalf("jobdb.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	store, err := jobs.Open(context.Background(), jobs.Options{
		Persister:  db,
		Events:     sink,
		Logger:     logging.NewNop(),
		SoftDelete: cfg.Queue.SoftDelete,
		Retention:  cfg.Retention(),
	})
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	return store, db
}

// NewImageJob submits a text-to-image job and returns its id.
func NewImageJob(t testing.TB, store *jobs.Store, prompt string) string {
	t.Helper()

	raw, err := json.Marshal(jobs.GenerateParams{Prompt: prompt})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	id, err := store.Create(context.Background(), jobs.KindGenerateImage, raw, jobs.ModelSnapshot{Name: "test", Loaded: true})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return id
}
