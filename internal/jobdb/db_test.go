package jobdb_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"sdqueue/internal/jobdb"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

func openTemp(t *testing.T) (*jobdb.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	db, err := jobdb.Open(context.Background(), path, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func rawExec(t *testing.T, path, query string, args ...any) {
	t.Helper()
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Exec(query, args...)
	require.NoError(t, err)
}

var created = time.Date(2026, 10, 1, 12, 30, 0, 123456789, time.UTC)

func sampleJobs() []jobs.Job {
	return []jobs.Job{
		{
			ID:          "done",
			Kind:        jobs.KindGenerateImage,
			Status:      jobs.StatusCompleted,
			Params:      json.RawMessage(`{"prompt":"a cat","steps":20}`),
			Model:       jobs.ModelSnapshot{Name: "sd-v1-5", Architecture: "SD1", Loaded: true},
			Outputs:     []string{"/out/a.png", "/out/b.png"},
			CreatedAt:   created,
			StartedAt:   created.Add(time.Second),
			CompletedAt: created.Add(9 * time.Second),
		},
		{
			ID:             "binned",
			Kind:           jobs.KindUpscale,
			Status:         jobs.StatusDeleted,
			Params:         json.RawMessage(`{"input_image":"/a.png"}`),
			ErrorMessage:   "no upscaler loaded",
			CreatedAt:      created.Add(time.Minute),
			DeletedAt:      created.Add(time.Hour),
			PreviousStatus: jobs.StatusFailed,
		},
		{
			ID:          "hash",
			Kind:        jobs.KindModelHash,
			Status:      jobs.StatusPending,
			LinkedJobID: "download",
			CreatedAt:   created.Add(2 * time.Minute),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, sampleJobs()))

	loaded, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	done := loaded[0]
	assert.Equal(t, "done", done.ID)
	assert.Equal(t, jobs.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"prompt":"a cat","steps":20}`, string(done.Params))
	assert.Equal(t, "sd-v1-5", done.Model.Name)
	assert.True(t, done.Model.Loaded)
	assert.Equal(t, []string{"/out/a.png", "/out/b.png"}, done.Outputs)
	assert.True(t, done.CreatedAt.Equal(created), "nanoseconds survive the round trip")
	assert.Equal(t, 8*time.Second, done.Duration())

	binned := loaded[1]
	assert.Equal(t, jobs.StatusFailed, binned.PreviousStatus)
	assert.True(t, binned.DeletedAt.Equal(created.Add(time.Hour)))
	assert.Equal(t, "no upscaler loaded", binned.ErrorMessage)
	assert.True(t, binned.StartedAt.IsZero())

	hash := loaded[2]
	assert.Equal(t, "download", hash.LinkedJobID)
	assert.Empty(t, hash.Params)
	assert.Empty(t, hash.Outputs)
}

func TestSaveReplacesWholeTable(t *testing.T) {
	db, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, sampleJobs()))
	require.NoError(t, db.Save(ctx, sampleJobs()[:1]))

	loaded, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "done", loaded[0].ID)

	require.NoError(t, db.Save(ctx, nil))
	loaded, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadSkipsDamagedRows(t *testing.T) {
	db, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, sampleJobs()))

	rawExec(t, path, `UPDATE jobs SET params_json = '{"prompt":' WHERE id = 'done'`)
	rawExec(t, path, `UPDATE jobs SET created_at = 'last tuesday' WHERE id = 'binned'`)
	rawExec(t, path, `INSERT INTO jobs (id, kind, status, created_at, outputs_json) VALUES ('junk', 'convert', 'completed', ?, 'not json')`, created.Format(time.RFC3339Nano))

	loaded, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "hash", loaded[0].ID)
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	db, path := openTemp(t)
	require.NoError(t, db.Close())
	rawExec(t, path, `UPDATE schema_version SET version = 99`)

	_, err := jobdb.Open(context.Background(), path, logging.NewNop())
	require.ErrorIs(t, err, jobdb.ErrSchemaMismatch)
	_, err = jobdb.OpenReadOnly(context.Background(), path, logging.NewNop())
	require.ErrorIs(t, err, jobdb.ErrSchemaMismatch)
}

func TestOpenReadOnly(t *testing.T) {
	ctx := context.Background()
	_, err := jobdb.OpenReadOnly(ctx, filepath.Join(t.TempDir(), "missing.db"), nil)
	require.ErrorIs(t, err, jobdb.ErrNoDatabase)

	db, path := openTemp(t)
	require.NoError(t, db.Save(ctx, sampleJobs()))

	ro, err := jobdb.OpenReadOnly(ctx, path, nil)
	require.NoError(t, err)
	defer ro.Close()

	loaded, err := ro.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
	assert.Error(t, ro.Save(ctx, nil))
}

func TestStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, path := openTemp(t)

	store, err := jobs.Open(ctx, jobs.Options{Persister: db})
	require.NoError(t, err)
	first, err := store.Create(ctx, jobs.KindGenerateImage, json.RawMessage(`{"prompt":"first"}`), jobs.ModelSnapshot{Name: "m"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := store.Create(ctx, jobs.KindGenerateImage, json.RawMessage(`{"prompt":"second"}`), jobs.ModelSnapshot{Name: "m"})
	require.NoError(t, err)
	_, ok := store.ClaimNext(ctx)
	require.True(t, ok)
	require.NoError(t, db.Close())

	reopened, err := jobdb.Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	restarted, err := jobs.Open(ctx, jobs.Options{Persister: reopened})
	require.NoError(t, err)

	job, ok := restarted.Get(first)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusPending, job.Status, "interrupted job is recovered")
	assert.Equal(t, "m", job.Model.Name)
	assert.Equal(t, []string{first, second}, restarted.QueuedIDs())
}
