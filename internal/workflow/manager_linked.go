package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"sdqueue/internal/download"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

var errNoDownloadSource = errors.New("no download source configured")

func (m *Manager) download(ctx context.Context, job jobs.Job) (result, error) {
	if m.downloads == nil {
		return result{}, errNoDownloadSource
	}
	params, err := jobs.DecodeParams[jobs.DownloadParams](job.Params)
	if err != nil {
		return result{}, err
	}
	if m.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.downloadTimeout)
		defer cancel()
	}
	dest := filepath.Join(m.modelsDir, params.ModelType, params.Subfolder, params.Filename)
	res, err := m.downloads.Download(ctx, download.Request{URL: params.URL, Path: dest}, m.byteProgress(job.ID))
	if err != nil {
		return result{}, err
	}
	return result{outputs: []string{res.Path}, size: res.Size}, nil
}

func (m *Manager) hash(ctx context.Context, job jobs.Job) (result, error) {
	params, err := jobs.DecodeParams[jobs.HashParams](job.Params)
	if err != nil {
		return result{}, err
	}
	if params.FilePath == "" {
		return result{}, errors.New("no file to hash")
	}
	digest, _, err := download.HashFile(ctx, params.FilePath, m.byteProgress(job.ID))
	if err != nil {
		return result{}, err
	}
	if params.ExpectedSHA256 != "" && !strings.EqualFold(params.ExpectedSHA256, digest) {
		return result{}, fmt.Errorf("sha256 mismatch: expected %s, got %s", strings.ToLower(params.ExpectedSHA256), digest)
	}
	return result{outputs: []string{"sha256:" + digest}}, nil
}

// byteProgress reports transfer progress in KiB so large files fit the
// step counters.
func (m *Manager) byteProgress(jobID string) download.ProgressFunc {
	report := m.progress.Reporter(jobID)
	return func(done, total int64) {
		totalKiB := 0
		if total > 0 {
			totalKiB = int(total / 1024)
		}
		report(int(done/1024), totalKiB)
	}
}

// resolveLinked releases or fails the hash job held behind a finished
// download.
func (m *Manager) resolveLinked(ctx context.Context, job jobs.Job, res result, err error) {
	if job.Kind != jobs.KindModelDownload || job.LinkedJobID == "" {
		return
	}
	logger := logging.WithContext(ctx, m.logger)
	if err == nil && len(res.outputs) > 0 {
		if _, ok := m.store.ReleaseLinked(ctx, job.ID, jobs.LinkedResult{Path: res.outputs[0], Size: res.size}); !ok {
			logging.WarnWithContext(logger, "linked hash job not released", "linked_release_skipped",
				logging.String("hash_job_id", job.LinkedJobID),
				logging.String(logging.FieldImpact, "the downloaded file will not be hashed"),
				logging.String(logging.FieldErrorHint, "the hash job was cancelled or removed while downloading"),
			)
		}
		return
	}
	message := "Download failed"
	if err != nil {
		message = "Download failed: " + failureMessage(err)
	}
	m.store.FailPendingDirectly(ctx, job.LinkedJobID, message)
}
