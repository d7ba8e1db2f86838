package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sdqueue/internal/jobs"
	"sdqueue/internal/logs"
)

const logFollowWait = 10 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var lines int
	var follow bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "sdqueue.log")
			if jobID != "" {
				if jobID, err = resolveLogJob(cmd, ctx, jobID); err != nil {
					return err
				}
			}

			opts := logs.TailOptions{Offset: -1, Limit: lines, JobID: jobID}
			for {
				result, err := logs.Tail(cmd.Context(), path, opts)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, entry := range result.Entries {
					if asJSON {
						if err := writeJSON(cmd, entry); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), formatLogEntry(entry))
				}
				if !follow {
					return nil
				}
				opts = logs.TailOptions{Offset: result.Offset, JobID: jobID, Wait: logFollowWait}
			}
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only entries for this job (id or unique prefix)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per entry")
	return cmd
}

// resolveLogJob expands a job prefix against the snapshot. Unknown ids pass
// through so logs of purged jobs stay reachable.
func resolveLogJob(cmd *cobra.Command, ctx *commandContext, id string) (string, error) {
	resolved := id
	err := ctx.withStore(cmd, func(store *jobs.Store) error {
		full, err := resolveID(store, id)
		resolved = full
		return err
	})
	return resolved, err
}

func formatLogEntry(entry logs.Entry) string {
	keys := make([]string, 0, len(entry.Attrs))
	for key := range entry.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, entry.Attrs[key]))
	}
	stamp := "--:--:--"
	if !entry.Time.IsZero() {
		stamp = entry.Time.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("%s %-5s %s", stamp, strings.ToUpper(entry.Level), entry.Message)
	if entry.JobID != "" {
		line += " [" + shortID(entry.JobID) + "]"
	}
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	return line
}
