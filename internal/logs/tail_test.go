package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdqueue/internal/logs"
)

const sample = `{"ts":"2026-10-15T15:00:00.000Z","level":"info","msg":"job submitted","job_id":"a1","job_kind":"generate_image"}
not json
{"ts":"2026-10-15T15:00:01.000Z","level":"info","msg":"job submitted","job_id":"b2"}
{"ts":"2026-10-15T15:00:02.000Z","level":"warn","msg":"job failed","job_id":"a1","error":"boom"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdqueue.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTailLastEntries(t *testing.T) {
	path := writeLog(t, sample)

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "b2", result.Entries[0].JobID)
	assert.Equal(t, "job failed", result.Entries[1].Message)
	assert.Equal(t, "warn", result.Entries[1].Level)
	assert.Equal(t, "boom", result.Entries[1].Attrs["error"])
	assert.Equal(t, int64(len(sample)), result.Offset)
}

func TestTailFiltersByJob(t *testing.T) {
	path := writeLog(t, sample)

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, JobID: "a1"})
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "generate_image", result.Entries[0].Attrs["job_kind"])
	assert.True(t, result.Entries[1].Time.Equal(time.Date(2026, 10, 15, 15, 0, 2, 0, time.UTC)))
}

func TestTailFollowWaitsForNewEntries(t *testing.T) {
	path := writeLog(t, sample)
	ctx := context.Background()

	start, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString(`{"level":"info","msg":"job completed","job_id":"b2"}` + "\n")
	}()

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: start.Offset, Wait: 2 * time.Second})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "job completed", result.Entries[0].Message)
}

func TestTailIgnoresPartialLine(t *testing.T) {
	path := writeLog(t, `{"level":"info","msg":"half`)

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 0})
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.Zero(t, result.Offset)
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1})
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
}
