package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdqueue/internal/jobs"
)

func TestPurgeExpiredRemovesOnlyExpiredJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	old := h.finishAs(t, jobs.StatusCompleted)
	recent := h.finishAs(t, jobs.StatusFailed)
	live := h.finishAs(t, jobs.StatusCancelled)

	require.True(t, h.store.SoftDelete(ctx, old))
	h.clock.Advance(12 * time.Hour)
	require.True(t, h.store.SoftDelete(ctx, recent))
	h.clock.Advance(12 * time.Hour)

	assert.Zero(t, h.store.PurgeExpired(ctx), "exactly at retention is not expired")

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.store.PurgeExpired(ctx))

	_, ok := h.store.Get(old)
	assert.False(t, ok)
	deleted := h.store.ListDeleted()
	require.Len(t, deleted, 1)
	assert.Equal(t, recent, deleted[0].ID)
	for _, job := range h.store.ListAll(jobs.Filter{Statuses: jobs.AllStatuses()}) {
		assert.NotEqual(t, old, job.ID)
	}
	assert.Equal(t, jobs.StatusCancelled, h.get(t, live).Status)
}

func TestPurgeExpiredWithoutRetentionKeepsEverything(t *testing.T) {
	h := newHarness(t, func(opts *jobs.Options) { opts.Retention = 0 })
	ctx := context.Background()
	id := h.finishAs(t, jobs.StatusCompleted)
	require.True(t, h.store.SoftDelete(ctx, id))
	h.clock.Advance(365 * 24 * time.Hour)

	assert.Zero(t, h.store.PurgeExpired(ctx))
	assert.Len(t, h.store.ListDeleted(), 1)
}

func TestClearRecycleBinRemovesAllDeleted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.finishAs(t, jobs.StatusCompleted)
	b := h.finishAs(t, jobs.StatusCancelled)
	c := h.finishAs(t, jobs.StatusCancelled)
	require.True(t, h.store.SoftDelete(ctx, a))
	require.True(t, h.store.SoftDelete(ctx, b))

	assert.Equal(t, 2, h.store.ClearRecycleBin(ctx))
	assert.Empty(t, h.store.ListDeleted())
	assert.Zero(t, h.store.ClearRecycleBin(ctx))
	_, ok := h.store.Get(c)
	assert.True(t, ok)
}

func TestListDeletedNewestDeletionFirst(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.finishAs(t, jobs.StatusCancelled)
	second := h.finishAs(t, jobs.StatusCancelled)

	require.True(t, h.store.SoftDelete(ctx, second))
	h.clock.Advance(time.Minute)
	require.True(t, h.store.SoftDelete(ctx, first))

	deleted := h.store.ListDeleted()
	require.Len(t, deleted, 2)
	assert.Equal(t, first, deleted[0].ID)
	assert.Equal(t, second, deleted[1].ID)
}

func TestClearCompletedRecyclesFinishedJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	done := h.finishAs(t, jobs.StatusCompleted)
	failed := h.finishAs(t, jobs.StatusFailed)
	cancelled := h.finishAs(t, jobs.StatusCancelled)
	pending := h.createImage(t, "waiting")

	assert.Equal(t, 3, h.store.ClearCompleted(ctx))
	for id, prev := range map[string]jobs.Status{done: jobs.StatusCompleted, failed: jobs.StatusFailed, cancelled: jobs.StatusCancelled} {
		job := h.get(t, id)
		assert.Equal(t, jobs.StatusDeleted, job.Status)
		assert.Equal(t, prev, job.PreviousStatus)
	}
	assert.Equal(t, jobs.StatusPending, h.get(t, pending).Status)
	assert.Zero(t, h.store.ClearCompleted(ctx))
}

func TestClearCompletedWithoutRecycleBinRemoves(t *testing.T) {
	h := newHarness(t, func(opts *jobs.Options) { opts.SoftDelete = false })
	h.finishAs(t, jobs.StatusCompleted)
	h.finishAs(t, jobs.StatusCancelled)

	assert.Equal(t, 2, h.store.ClearCompleted(context.Background()))
	assert.Empty(t, h.store.ListAll(jobs.Filter{Statuses: jobs.AllStatuses()}))
}
