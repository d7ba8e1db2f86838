package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sdqueue/internal/events"
	"sdqueue/internal/ipc"
)

const eventPollWait = 10_000

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var limit int
	var follow bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print job events from the running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			running, err := ctx.withClient(func(client *ipc.Client) error {
				cursor := since
				for {
					req := ipc.EventsRequest{Since: cursor, Limit: limit}
					if follow {
						req.WaitMillis = eventPollWait
					}
					resp, err := client.Events(req)
					if err != nil {
						return err
					}
					for _, evt := range resp.Events {
						if asJSON {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
					}
					cursor = resp.Next
					if !follow {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						return err
					}
				}
			})
			if err != nil {
				return err
			}
			if !running {
				return errors.New("daemon is not running; events are only available from a live daemon")
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events per poll")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per event")
	return cmd
}

func formatEvent(evt events.Event) string {
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, evt.Fields[key]))
	}
	line := fmt.Sprintf("%6d %s %-20s %s", evt.Sequence, evt.Timestamp.Local().Format("15:04:05"), evt.Type, shortID(evt.JobID))
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	return line
}
