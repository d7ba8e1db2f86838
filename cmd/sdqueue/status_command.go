package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sdqueue/internal/ipc"
	"sdqueue/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status *ipc.StatusResponse
			running, err := ctx.withClient(func(client *ipc.Client) error {
				var err error
				status, err = client.Status()
				return err
			})
			if err != nil {
				return err
			}
			if !running {
				cfg, _ := ctx.ensureConfig()
				status = &ipc.StatusResponse{StatePath: cfg.StatePath(), LockPath: cfg.LockPath()}
				if err := ctx.withStore(cmd, func(store *jobs.Store) error {
					// Snapshots never fill the pending queue; count pending records.
					counts := store.Counts()
					status.Queued = counts[jobs.StatusPending]
					status.Counts = make(map[string]int, len(counts))
					for k, v := range counts {
						status.Counts[string(k)] = v
					}
					return nil
				}); err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(status, running))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func renderStatus(status *ipc.StatusResponse, running bool) string {
	var b strings.Builder
	daemonState := "not running"
	if running {
		daemonState = fmt.Sprintf("running (pid %d)", status.PID)
		if !status.Running {
			daemonState += ", worker stopped"
		}
	}
	fmt.Fprintf(&b, "Daemon:     %s\n", daemonState)
	if running {
		model := status.Model.Name
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(&b, "Model:      %s (loaded: %s)\n", model, yesNo(status.Model.Loaded))
		current := status.CurrentJob
		if current == "" {
			current = "idle"
		}
		fmt.Fprintf(&b, "Current:    %s\n", current)
		fmt.Fprintf(&b, "Processed:  %d (%d failed)\n", status.Processed, status.Failed)
		if status.LastError != "" {
			fmt.Fprintf(&b, "Last error: %s\n", status.LastError)
		}
	}
	fmt.Fprintf(&b, "Queued:     %d\n", status.Queued)
	fmt.Fprintf(&b, "Database:   %s\n", status.StatePath)

	rows := statusCountRows(status.Counts)
	if len(rows) > 0 {
		b.WriteString(renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	for _, check := range status.Preflight {
		if !check.Passed {
			fmt.Fprintf(&b, "Preflight:  %s failed: %s\n", check.Name, check.Detail)
		}
	}
	return b.String()
}

func statusCountRows(counts map[string]int) [][]string {
	order := []jobs.Status{
		jobs.StatusPending,
		jobs.StatusProcessing,
		jobs.StatusCompleted,
		jobs.StatusFailed,
		jobs.StatusCancelled,
		jobs.StatusDeleted,
	}
	rows := make([][]string, 0, len(counts))
	for _, status := range order {
		if count := counts[string(status)]; count > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(count)})
		}
	}
	return rows
}
