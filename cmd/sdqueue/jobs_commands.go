package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sdqueue/internal/ipc"
	"sdqueue/internal/jobs"
	"sdqueue/internal/queueaccess"
)

type filterFlags struct {
	statuses []string
	kinds    []string
	search   string
	from     string
	to       string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.statuses, "status", "s", nil, "Only jobs with these statuses")
	cmd.Flags().StringSliceVarP(&f.kinds, "kind", "k", nil, "Only jobs of these kinds")
	cmd.Flags().StringVarP(&f.search, "search", "q", "", "Case-insensitive text search")
	cmd.Flags().StringVar(&f.from, "from", "", "Created on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "Created before the end of this date (YYYY-MM-DD)")
}

func (f *filterFlags) build() (jobs.Filter, error) {
	var filter jobs.Filter
	for _, value := range f.statuses {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			return filter, fmt.Errorf("unknown status %q", value)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, value := range f.kinds {
		kind, ok := jobs.ParseKind(value)
		if !ok {
			return filter, fmt.Errorf("%w: %q", jobs.ErrUnknownKind, value)
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	filter.Search = strings.TrimSpace(f.search)
	if f.from != "" {
		day, err := time.ParseInLocation(time.DateOnly, f.from, time.Local)
		if err != nil {
			return filter, fmt.Errorf("parse --from: %w", err)
		}
		filter.CreatedFrom = day
	}
	if f.to != "" {
		day, err := time.ParseInLocation(time.DateOnly, f.to, time.Local)
		if err != nil {
			return filter, fmt.Errorf("parse --to: %w", err)
		}
		filter.CreatedTo = day.AddDate(0, 0, 1)
	}
	return filter, nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsGroupedCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "cancel", "Cancel a pending job", "Cancelled", queueaccess.Access.Cancel))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "delete", "Delete a job (to the recycle bin when enabled)", "Deleted", queueaccess.Access.Delete))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "restore", "Restore a job from the recycle bin", "Restored", queueaccess.Access.Restore))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "purge", "Remove a job permanently", "Purged", queueaccess.Access.Purge))
	jobsCmd.AddCommand(newJobsClearCompletedCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var filters filterFlags
	var offset, limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := filters.build()
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(store *jobs.Store) error {
				page := store.ListPaginated(filter, offset, limit)
				if asJSON {
					return writeJSON(cmd, page)
				}
				out := cmd.OutOrStdout()
				if len(page.Items) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderTable(jobHeaders, jobRows(page.Items, shouldColorize(out)), jobAligns))
				fmt.Fprintf(out, "Showing %d-%d of %d\n", offset+1, offset+len(page.Items), page.Total)
				if page.HasMore {
					fmt.Fprintf(out, "More results: --offset %d\n", offset+len(page.Items))
				}
				return nil
			})
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many matches")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")
	return cmd
}

func newJobsGroupedCommand(ctx *commandContext) *cobra.Command {
	var filters filterFlags
	var page, pageSize int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "grouped",
		Short: "List jobs grouped by creation day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := filters.build()
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(store *jobs.Store) error {
				grouped := store.ListGroupedByDate(filter, page, pageSize)
				if asJSON {
					return writeJSON(cmd, grouped)
				}
				out := cmd.OutOrStdout()
				if grouped.Total == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				colorize := shouldColorize(out)
				for _, group := range grouped.Groups {
					fmt.Fprintf(out, "%s (%d)\n", group.Label, group.Count)
					fmt.Fprint(out, renderTable(jobHeaders, jobRows(group.Jobs, colorize), jobAligns))
				}
				fmt.Fprintf(out, "Page %d of %d (%d jobs)\n", grouped.Page, grouped.TotalPages, grouped.Total)
				return nil
			})
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Jobs per page (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.lookupJob(cmd, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, job)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJob(job, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

// lookupJob prefers the running daemon, whose view includes live progress,
// and falls back to the persisted snapshot. A unique id prefix is accepted.
func (c *commandContext) lookupJob(cmd *cobra.Command, id string) (jobs.Job, error) {
	var job jobs.Job
	var found bool
	err := c.withStore(cmd, func(store *jobs.Store) error {
		resolved, err := resolveID(store, id)
		if err != nil {
			return err
		}
		id = resolved
		job, found = store.Get(id)
		return nil
	})
	if err != nil {
		return job, err
	}
	if _, err := c.withClient(func(client *ipc.Client) error {
		live, ok, err := client.Get(id)
		if err == nil && ok {
			job, found = live, true
		}
		return err
	}); err != nil {
		return job, err
	}
	if !found {
		return job, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func newJobActionCommand(ctx *commandContext, use, short, verb string, op func(queueaccess.Access, context.Context, string) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := ctx.withStore(cmd, func(store *jobs.Store) error {
				resolved, err := resolveID(store, id)
				id = resolved
				return err
			}); err != nil {
				return err
			}
			return ctx.withController(cmd, func(ctl queueaccess.Access) error {
				applied, err := op(ctl, cmd.Context(), id)
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("job %s cannot be %s in its current state", id, strings.ToLower(verb))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s job %s\n", verb, id)
				return nil
			})
		},
	}
}

func newJobsClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete every completed, failed and cancelled job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withController(cmd, func(ctl queueaccess.Access) error {
				count, err := ctl.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished jobs\n", count)
				return nil
			})
		},
	}
}

var errAmbiguousID = errors.New("ambiguous job id prefix")

// resolveID expands a unique id prefix against every job, recycled ones
// included. Unknown ids are returned unchanged so the caller reports them.
func resolveID(store *jobs.Store, id string) (string, error) {
	id = strings.TrimSpace(id)
	if _, ok := store.Get(id); ok || id == "" {
		return id, nil
	}
	var match string
	all := store.ListAll(jobs.Filter{Statuses: []jobs.Status{
		jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted,
		jobs.StatusFailed, jobs.StatusCancelled, jobs.StatusDeleted,
	}})
	for _, job := range all {
		if strings.HasPrefix(job.ID, id) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", errAmbiguousID, id)
			}
			match = job.ID
		}
	}
	if match == "" {
		return id, nil
	}
	return match, nil
}

func renderJob(job jobs.Job, colorize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:        %s\n", job.ID)
	fmt.Fprintf(&b, "Kind:      %s\n", job.Kind)
	fmt.Fprintf(&b, "Status:    %s\n", statusLabel(job.Status, colorize))
	if job.PreviousStatus != "" {
		fmt.Fprintf(&b, "Was:       %s\n", job.PreviousStatus)
	}
	if job.Model.Name != "" {
		fmt.Fprintf(&b, "Model:     %s (%s)\n", job.Model.Name, job.Model.Architecture)
	}
	if job.LinkedJobID != "" {
		fmt.Fprintf(&b, "Linked:    %s\n", job.LinkedJobID)
	}
	if label := progressLabel(job); label != "" {
		fmt.Fprintf(&b, "Progress:  %s (%.0f%%)\n", label, job.Progress.Percent())
	}
	fmt.Fprintf(&b, "Created:   %s\n", timestamp(job.CreatedAt))
	fmt.Fprintf(&b, "Started:   %s\n", timestamp(job.StartedAt))
	fmt.Fprintf(&b, "Finished:  %s\n", timestamp(job.CompletedAt))
	if !job.DeletedAt.IsZero() {
		fmt.Fprintf(&b, "Deleted:   %s\n", timestamp(job.DeletedAt))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s\n", job.ErrorMessage)
	}
	for _, output := range job.Outputs {
		fmt.Fprintf(&b, "Output:    %s\n", output)
	}
	if len(job.Params) > 0 {
		fmt.Fprintf(&b, "Params:    %s\n", job.Params)
	}
	return b.String()
}
