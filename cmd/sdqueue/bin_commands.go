package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sdqueue/internal/jobs"
	"sdqueue/internal/queueaccess"
)

func newBinCommand(ctx *commandContext) *cobra.Command {
	binCmd := &cobra.Command{
		Use:   "bin",
		Short: "Inspect and empty the recycle bin",
	}
	binCmd.AddCommand(newBinListCommand(ctx))
	binCmd.AddCommand(newBinBulkCommand(ctx, "clear", "Permanently remove every recycled job", "Removed %d recycled jobs\n", queueaccess.Access.ClearRecycleBin))
	binCmd.AddCommand(newBinBulkCommand(ctx, "purge-expired", "Remove recycled jobs past the retention period", "Purged %d expired jobs\n", queueaccess.Access.PurgeExpired))
	return binCmd
}

func newBinListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recycled jobs, most recently deleted first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withStore(cmd, func(store *jobs.Store) error {
				deleted := store.ListDeleted()
				if asJSON {
					return writeJSON(cmd, deleted)
				}
				out := cmd.OutOrStdout()
				if len(deleted) == 0 {
					fmt.Fprintln(out, "Recycle bin is empty")
					return nil
				}
				rows := make([][]string, 0, len(deleted))
				for _, job := range deleted {
					rows = append(rows, []string{
						shortID(job.ID),
						string(job.Kind),
						string(job.PreviousStatus),
						jobSummary(job),
						relativeTime(job.DeletedAt),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Kind", "Was", "Summary", "Deleted"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print recycled jobs as JSON")
	return cmd
}

func newBinBulkCommand(ctx *commandContext, use, short, format string, op func(queueaccess.Access, context.Context) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withController(cmd, func(ctl queueaccess.Access) error {
				count, err := op(ctl, cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), format, count)
				return nil
			})
		},
	}
}
