package logs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"sdqueue/internal/logging"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// Entry is one record of the JSON log.
type Entry struct {
	Time    time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"msg"`
	JobID   string    `json:"job_id,omitempty"`
	// Attrs holds every other key of the record.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// TailOptions selects what Tail returns.
type TailOptions struct {
	// Offset is the byte position to resume from. A negative offset returns
	// the last Limit matching entries instead.
	Offset int64
	Limit  int
	// JobID keeps only records tagged with this job.
	JobID string
	// Wait, when positive, blocks up to this long for a matching entry.
	Wait time.Duration
}

// TailResult carries the entries read and the offset to resume from.
type TailResult struct {
	Entries []Entry
	Offset  int64
}

// Tail reads entries from the log at path. A missing file yields no
// entries and offset zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if opts.Offset < 0 {
		entries, offset, err := scan(path, 0, opts.JobID)
		if err != nil {
			return TailResult{}, err
		}
		if opts.Limit > 0 && len(entries) > opts.Limit {
			entries = entries[len(entries)-opts.Limit:]
		}
		if len(entries) > 0 || opts.Wait <= 0 {
			return TailResult{Entries: entries, Offset: offset}, nil
		}
		opts.Offset = offset
	}

	deadline := time.Now().Add(opts.Wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	offset := opts.Offset
	for {
		entries, next, err := scan(path, offset, opts.JobID)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = next
		if len(entries) > 0 || !time.Now().Before(deadline) {
			return TailResult{Entries: entries, Offset: offset}, nil
		}
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan decodes complete lines from offset on. A trailing partial line is
// left for the next call. Lines that are not JSON objects are skipped.
func scan(path string, offset int64, jobID string) ([]Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, offset, fmt.Errorf("log path %q is a directory", path)
	}
	if offset > info.Size() {
		// Truncated or replaced; start over.
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var entries []Entry
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return entries, offset, nil
		}
		if err != nil {
			return entries, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		entry, ok := decode(line)
		if !ok || (jobID != "" && entry.JobID != jobID) {
			continue
		}
		entries = append(entries, entry)
	}
}

func decode(line []byte) (Entry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Entry{}, false
	}
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		return Entry{}, false
	}
	entry := Entry{
		Level:   take(record, "level"),
		Message: take(record, "msg"),
		JobID:   take(record, logging.FieldJobID),
	}
	if ts := take(record, "ts"); ts != "" {
		entry.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	entry.Attrs = record
	return entry, true
}

func take(record map[string]any, key string) string {
	value, ok := record[key].(string)
	if ok {
		delete(record, key)
	}
	return value
}
