package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sdqueue/internal/jobs"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiGray   = "\x1b[90m"
)

const summaryWidth = 48

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusLabel(status jobs.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	var color string
	switch status {
	case jobs.StatusCompleted:
		color = ansiGreen
	case jobs.StatusFailed:
		color = ansiRed
	case jobs.StatusProcessing:
		color = ansiBlue
	case jobs.StatusPending:
		color = ansiYellow
	default:
		color = ansiGray
	}
	return color + label + ansiReset
}

func jobRows(items []jobs.Job, colorize bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, job := range items {
		rows = append(rows, []string{
			shortID(job.ID),
			string(job.Kind),
			statusLabel(job.Status, colorize),
			progressLabel(job),
			jobSummary(job),
			relativeTime(job.CreatedAt),
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "Kind", "Status", "Progress", "Summary", "Created"}

var jobAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func progressLabel(job jobs.Job) string {
	if job.Progress == nil || job.Progress.TotalSteps <= 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", job.Progress.Step, job.Progress.TotalSteps)
}

// jobSummary picks the most recognizable field of a job's params.
func jobSummary(job jobs.Job) string {
	var summary string
	switch job.Kind {
	case jobs.KindModelDownload:
		params, _ := jobs.DecodeParams[jobs.DownloadParams](job.Params)
		summary = params.URL
	case jobs.KindModelHash:
		params, _ := jobs.DecodeParams[jobs.HashParams](job.Params)
		summary = params.ModelName
		if job.Held() {
			summary += " (waiting for download)"
		} else if params.Size > 0 {
			summary += " (" + humanize.Bytes(uint64(params.Size)) + ")"
		}
	case jobs.KindUpscale:
		params, _ := jobs.DecodeParams[jobs.UpscaleParams](job.Params)
		summary = params.InputImage
	case jobs.KindConvert:
		params, _ := jobs.DecodeParams[jobs.ConvertParams](job.Params)
		summary = params.InputPath + " -> " + params.OutputType
	default:
		params, _ := jobs.DecodeParams[jobs.GenerateParams](job.Params)
		summary = params.Prompt
	}
	return truncate(strings.Join(strings.Fields(summary), " "), summaryWidth)
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}
