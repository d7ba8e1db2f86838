package jobs

import (
	"context"
	"encoding/json"
	"path"

	"sdqueue/internal/events"
	"sdqueue/internal/logging"
)

// LinkedResult is what a finished download hands to its hash job.
type LinkedResult struct {
	Path string
	Size int64
}

// CreateLinkedPair admits a download job and a hash job gated on it. The
// download is queued immediately; the hash job stays pending but unqueued
// until ReleaseLinked supplies the downloaded file.
func (s *Store) CreateLinkedPair(ctx context.Context, params DownloadParams, model ModelSnapshot) (string, string, error) {
	if s.readOnly {
		return "", "", ErrReadOnly
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", "", invalidParams("%v", err)
	}
	if err := ValidateParams(KindModelDownload, raw); err != nil {
		return "", "", err
	}
	hashRaw, err := json.Marshal(HashParams{
		ModelType:      params.ModelType,
		ModelName:      downloadFilename(params),
		ExpectedSHA256: params.ExpectedSHA256,
	})
	if err != nil {
		return "", "", invalidParams("%v", err)
	}

	s.mu.Lock()
	download := s.newJobLocked(KindModelDownload, raw, model)
	hash := s.newJobLocked(KindModelHash, hashRaw, model)
	download.LinkedJobID = hash.ID
	hash.LinkedJobID = download.ID
	s.queue.Push(download.ID)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("linked download admitted",
		logging.JobID(download.ID),
		logging.String("hash_job_id", hash.ID),
		logging.String("url", params.URL),
	)
	s.finish(ctx, snap, []events.Event{
		addedEvent(download),
		addedEvent(hash),
	})
	return download.ID, hash.ID, nil
}

// ReleaseLinked merges a finished download into its held hash job and
// queues it. It returns the hash job id.
func (s *Store) ReleaseLinked(ctx context.Context, downloadID string, result LinkedResult) (string, bool) {
	if s.readOnly {
		return "", false
	}
	s.mu.Lock()
	download, ok := s.jobs[downloadID]
	if !ok || download.Kind != KindModelDownload || download.Status != StatusCompleted || download.LinkedJobID == "" {
		s.mu.Unlock()
		return "", false
	}
	hash, ok := s.jobs[download.LinkedJobID]
	if !ok || !hash.Held() || !s.releaseLocked(hash, result) {
		s.mu.Unlock()
		return "", false
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("hash job released",
		logging.JobID(hash.ID),
		logging.String("download_job_id", downloadID),
		logging.String("file_path", result.Path),
	)
	s.finish(ctx, snap, nil)
	return hash.ID, true
}

// FailPendingDirectly fails a job that never reached processing. It is the
// only way a pending job becomes failed and exists for hash jobs whose
// download can no longer deliver.
func (s *Store) FailPendingDirectly(ctx context.Context, id, message string) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	evts := s.failDirectLocked(job, message)
	if evts == nil {
		s.mu.Unlock()
		return false
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.finish(ctx, snap, evts)
	return true
}

func (s *Store) failDirectLocked(job *Job, message string) []events.Event {
	if !job.failPendingDirectly(message, s.now()) {
		return nil
	}
	s.queue.Remove(job.ID)
	logging.WarnWithContext(s.logger, "pending job failed without running", "job_failed_direct",
		logging.JobID(job.ID),
		logging.JobKind(job.Kind),
		logging.String("reason", message),
	)
	return []events.Event{statusEvent(job, StatusPending, map[string]any{
		"error_message": message,
		"direct":        true,
	})}
}

func (s *Store) releaseLocked(hash *Job, result LinkedResult) bool {
	if result.Path == "" {
		return false
	}
	params, err := DecodeParams[HashParams](hash.Params)
	if err != nil {
		return false
	}
	params.FilePath = result.Path
	if result.Size > 0 {
		params.Size = result.Size
	}
	if params.ModelName == "" {
		params.ModelName = path.Base(result.Path)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return false
	}
	hash.Params = raw
	s.queue.Push(hash.ID)
	return true
}

// admitLocked queues a pending job. Held hash jobs are resolved against
// their download: kept waiting while it can still deliver, released when it
// already did, failed otherwise. mutated reports whether the record changed.
func (s *Store) admitLocked(job *Job) (evts []events.Event, mutated bool) {
	if job.Status != StatusPending {
		return nil, false
	}
	if !job.Held() {
		s.queue.Push(job.ID)
		return nil, false
	}

	download := s.jobs[job.LinkedJobID]
	if download != nil {
		status := download.Status
		if status == StatusDeleted {
			status = download.PreviousStatus
		}
		switch status {
		case StatusPending, StatusProcessing:
			if download.Status != StatusDeleted {
				return nil, false
			}
		case StatusCompleted:
			if len(download.Outputs) > 0 && s.releaseLocked(job, LinkedResult{Path: download.Outputs[0]}) {
				return nil, true
			}
		}
	}
	evts = s.failDirectLocked(job, heldFailureMessage(download))
	return evts, evts != nil
}

// cascadeLocked fails the held hash job of a download that is leaving the
// pending state without producing a file.
func (s *Store) cascadeLocked(download *Job, message string) []events.Event {
	if download.Kind != KindModelDownload || download.LinkedJobID == "" {
		return nil
	}
	hash, ok := s.jobs[download.LinkedJobID]
	if !ok || !hash.Held() {
		return nil
	}
	return s.failDirectLocked(hash, message)
}

func heldFailureMessage(download *Job) string {
	if download == nil {
		return "Download deleted"
	}
	switch download.Status {
	case StatusFailed:
		return "Download failed: " + download.ErrorMessage
	case StatusCancelled:
		return "Download cancelled"
	case StatusDeleted:
		return "Download deleted"
	case StatusCompleted:
		return "Download failed: no file produced"
	}
	return "Download failed"
}
