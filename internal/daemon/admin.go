package daemon

import (
	"context"
	"encoding/json"

	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

// Submit validates and queues a job, stamping it with the loaded model.
func (d *Daemon) Submit(ctx context.Context, kind jobs.Kind, params json.RawMessage) (string, error) {
	store, err := d.Store()
	if err != nil {
		return "", err
	}
	id, err := store.Create(ctx, kind, params, d.registry.Snapshot())
	if err != nil {
		return "", err
	}
	d.logger.Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.JobID(id),
		logging.JobKind(kind),
	)
	return id, nil
}

// SubmitModelDownload queues a download and the hash job gated on it.
func (d *Daemon) SubmitModelDownload(ctx context.Context, params jobs.DownloadParams) (string, string, error) {
	store, err := d.Store()
	if err != nil {
		return "", "", err
	}
	return store.CreateLinkedPair(ctx, params, d.registry.Snapshot())
}

// Cancel cancels a pending job.
func (d *Daemon) Cancel(ctx context.Context, id string) (bool, error) {
	return d.apply(func(store *jobs.Store) bool { return store.Cancel(ctx, id) })
}

// Delete moves a job to the recycle bin, or removes it when soft delete is
// disabled.
func (d *Daemon) Delete(ctx context.Context, id string) (bool, error) {
	return d.apply(func(store *jobs.Store) bool { return store.SoftDelete(ctx, id) })
}

// Restore brings a job back from the recycle bin.
func (d *Daemon) Restore(ctx context.Context, id string) (bool, error) {
	return d.apply(func(store *jobs.Store) bool { return store.Restore(ctx, id) })
}

// Purge removes a job permanently.
func (d *Daemon) Purge(ctx context.Context, id string) (bool, error) {
	return d.apply(func(store *jobs.Store) bool { return store.Purge(ctx, id) })
}

// ClearCompleted deletes every finished job.
func (d *Daemon) ClearCompleted(ctx context.Context) (int, error) {
	return d.count(func(store *jobs.Store) int { return store.ClearCompleted(ctx) })
}

// PurgeExpired removes recycle bin entries older than the retention period.
func (d *Daemon) PurgeExpired(ctx context.Context) (int, error) {
	return d.count(func(store *jobs.Store) int { return store.PurgeExpired(ctx) })
}

// ClearRecycleBin removes every recycle bin entry.
func (d *Daemon) ClearRecycleBin(ctx context.Context) (int, error) {
	return d.count(func(store *jobs.Store) int { return store.ClearRecycleBin(ctx) })
}

func (d *Daemon) apply(op func(*jobs.Store) bool) (bool, error) {
	store, err := d.Store()
	if err != nil {
		return false, err
	}
	return op(store), nil
}

func (d *Daemon) count(op func(*jobs.Store) int) (int, error) {
	store, err := d.Store()
	if err != nil {
		return 0, err
	}
	return op(store), nil
}
