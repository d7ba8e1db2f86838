// Package download fetches model files for model_download jobs.
//
// Client is the narrow boundary the worker uses. HTTPClient serves http and
// https URLs, S3Client serves s3://bucket/key URLs against AWS or any
// S3-compatible endpoint, and Router picks between them by scheme. Every
// source writes to a ".part" file next to the destination and renames it
// into place only after the body has been fully read.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnsupportedScheme is returned for URLs no registered source handles.
var ErrUnsupportedScheme = errors.New("unsupported download scheme")

// ProgressFunc receives bytes written so far and the expected total, or -1
// when the source does not report a length.
type ProgressFunc func(done, total int64)

// Request describes one download.
type Request struct {
	URL  string
	Path string
}

// Result describes a finished download.
type Result struct {
	Path string
	Size int64
}

// Client downloads one file.
type Client interface {
	Download(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}

// Router dispatches requests to the client registered for the URL scheme.
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Register binds client to each scheme.
func (r *Router) Register(client Client, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.clients[strings.ToLower(scheme)] = client
	}
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for scheme := range r.clients {
		out = append(out, scheme)
	}
	return out
}

func (r *Router) Download(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url: %w", err)
	}
	r.mu.RLock()
	client, ok := r.clients[strings.ToLower(parsed.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	return client.Download(ctx, req, progress)
}

// writeFile streams body into path via a temporary sibling file.
func writeFile(ctx context.Context, path string, body io.Reader, total int64, progress ProgressFunc) (int64, error) {
	if path == "" {
		return 0, errors.New("destination path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	partial := path + ".part"
	file, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", partial, err)
	}
	counter := &progressWriter{ctx: ctx, total: total, report: progress}
	written, copyErr := io.Copy(io.MultiWriter(file, counter), body)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), copyErr)
	}
	if total >= 0 && written != total {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("short download: got %d of %d bytes", written, total)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("move download into place: %w", err)
	}
	return written, nil
}

type progressWriter struct {
	ctx    context.Context
	done   int64
	total  int64
	report ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	w.done += int64(len(p))
	if w.report != nil {
		w.report(w.done, w.total)
	}
	return len(p), nil
}
